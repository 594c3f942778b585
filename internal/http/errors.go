package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"offline-store/internal/domain"
)

// writeError maps domain failures to a status and a message a user can act on.
func (h *Handler) writeError(c *gin.Context, err error) {
	status, message := describeError(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithField("path", c.FullPath()).Errorf("request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": message})
}

func describeError(err error) (int, string) {
	var (
		quotaErr    *domain.QuotaExceededError
		remoteErr   *domain.RemoteError
		transferErr *domain.TransferError
		fsErr       *domain.FilesystemError
	)
	switch {
	case errors.As(err, &quotaErr):
		return http.StatusInsufficientStorage, quotaErr.Error() + "; remove downloads or raise the storage limit"
	case errors.Is(err, domain.ErrWifiRequired):
		return http.StatusConflict, "Wi-Fi required: connect to Wi-Fi or turn off wifi-only downloads"
	case errors.Is(err, domain.ErrOffline):
		return http.StatusServiceUnavailable, "no network connection: downloads resume once you are back online"
	case errors.Is(err, domain.ErrInvalidTrackID):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrTrackNotFound):
		return http.StatusNotFound, "track not found"
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway, "could not reach the downloads ledger, try again later"
	case errors.As(err, &transferErr):
		return http.StatusBadGateway, "download failed: " + transferErr.Err.Error()
	case errors.As(err, &fsErr):
		return http.StatusInternalServerError, "could not access offline storage on this device"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
