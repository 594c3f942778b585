package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"offline-store/internal/connectivity"
	"offline-store/internal/domain"
	"offline-store/internal/offline"
	"offline-store/internal/service"
	"offline-store/internal/settings"
)

// SettingsStore reads and updates the storage policy.
type SettingsStore interface {
	Policy() domain.StoragePolicy
	Update(ctx context.Context, patch domain.PolicyPatch) (domain.StoragePolicy, error)
}

// NetworkState receives connectivity reports from the host shell.
type NetworkState interface {
	Status() connectivity.Status
	Set(status connectivity.Status) connectivity.Status
}

// Deps are the services behind the HTTP API. Auth and Metrics are optional.
type Deps struct {
	Catalog  offline.Catalog
	Tracks   service.TrackCatalog
	Settings SettingsStore
	Network  NetworkState
	Auth     service.AuthService
	Metrics  http.Handler
	Logger   *logrus.Logger
}

// Handler wires HTTP routes to the offline catalog.
type Handler struct {
	catalog  offline.Catalog
	tracks   service.TrackCatalog
	settings SettingsStore
	network  NetworkState
	auth     service.AuthService
	metrics  http.Handler
	logger   *logrus.Logger

	// background outlives requests; queue drains started over HTTP run on it
	background context.Context
}

func NewHandler(background context.Context, deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	return &Handler{
		catalog:    deps.Catalog,
		tracks:     deps.Tracks,
		settings:   deps.Settings,
		network:    deps.Network,
		auth:       deps.Auth,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		background: background,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	router.GET("/api/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
	router.POST("/api/session", h.login)

	api := router.Group("/api", h.authMiddleware())
	{
		api.GET("/offline", h.listOffline)
		api.GET("/offline/:id", h.getOffline)
		api.DELETE("/offline/:id", h.removeOffline)

		api.POST("/downloads", h.startDownload)
		api.GET("/downloads", h.listDownloads)
		api.GET("/downloads/:id", h.getDownload)
		api.POST("/downloads/:id/pause", h.pauseDownload)
		api.POST("/downloads/:id/resume", h.resumeDownload)
		api.DELETE("/downloads/:id", h.cancelDownload)

		api.GET("/queue", h.getQueue)
		api.POST("/queue", h.enqueue)
		api.DELETE("/queue", h.clearQueue)
		api.DELETE("/queue/:id", h.dequeue)
		api.POST("/queue/process", h.processQueue)

		api.GET("/usage", h.usage)
		api.GET("/settings", h.getSettings)
		api.PATCH("/settings", h.updateSettings)
		api.PUT("/connectivity", h.setConnectivity)
		api.POST("/favorites/:id", h.favorite)

		api.POST("/maintenance/sync", h.sync)
		api.POST("/maintenance/validate", h.validate)
		api.POST("/maintenance/cleanup", h.cleanup)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type trackRequest struct {
	TrackID string `json:"track_id" binding:"required"`
}

func (h *Handler) listOffline(c *gin.Context) {
	records := h.catalog.OfflineTracks()
	resp := make([]OfflineTrackResponse, len(records))
	for i := range records {
		resp[i] = recordToResponse(records[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getOffline(c *gin.Context) {
	record, ok := h.catalog.GetOfflineTrack(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "track is not available offline"})
		return
	}
	c.JSON(http.StatusOK, recordToResponse(record))
}

func (h *Handler) removeOffline(c *gin.Context) {
	id := c.Param("id")
	if err := h.catalog.RemoveFromOffline(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) startDownload(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.tracks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "track catalog not configured"})
		return
	}

	track, err := h.tracks.GetTrack(c.Request.Context(), req.TrackID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	download, err := h.catalog.StartDownload(c.Request.Context(), track)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if download == nil {
		c.JSON(http.StatusOK, gin.H{"track_id": track.ID, "offline": true})
		return
	}

	task, _ := h.catalog.GetTask(track.ID)
	c.JSON(http.StatusAccepted, taskToResponse(task))
}

func (h *Handler) listDownloads(c *gin.Context) {
	tasks := h.catalog.Tasks()
	resp := make([]TaskResponse, len(tasks))
	for i := range tasks {
		resp[i] = taskToResponse(tasks[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getDownload(c *gin.Context) {
	task, ok := h.catalog.GetTask(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no download for this track"})
		return
	}
	c.JSON(http.StatusOK, taskToResponse(task))
}

func (h *Handler) pauseDownload(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := h.catalog.PauseDownload(ctx, id); err != nil {
		h.writeError(c, err)
		return
	}
	h.getDownload(c)
}

func (h *Handler) resumeDownload(c *gin.Context) {
	id := c.Param("id")
	download, err := h.catalog.ResumeDownload(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if download == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no paused download for this track"})
		return
	}
	task, _ := h.catalog.GetTask(id)
	c.JSON(http.StatusAccepted, taskToResponse(task))
}

func (h *Handler) cancelDownload(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := h.catalog.CancelDownload(ctx, id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": id})
}

func (h *Handler) getQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queue": h.catalog.Queue()})
}

func (h *Handler) enqueue(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	added := h.catalog.AddToDownloadQueue(req.TrackID)
	c.JSON(http.StatusOK, gin.H{"added": added, "queue": h.catalog.Queue()})
}

func (h *Handler) dequeue(c *gin.Context) {
	removed := h.catalog.RemoveFromDownloadQueue(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"removed": removed, "queue": h.catalog.Queue()})
}

func (h *Handler) clearQueue(c *gin.Context) {
	h.catalog.ClearDownloadQueue()
	c.JSON(http.StatusOK, gin.H{"queue": []string{}})
}

func (h *Handler) processQueue(c *gin.Context) {
	queued := h.catalog.Queue()
	go func() {
		if err := h.catalog.ProcessDownloadQueue(h.background); err != nil {
			h.logger.Warnf("process download queue: %v", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"processing": queued})
}

func (h *Handler) usage(c *gin.Context) {
	usage := h.catalog.Usage()
	c.JSON(http.StatusOK, UsageResponse{
		Usage:     usage,
		Used:      humanize.IBytes(uint64(max(usage.UsedBytes, 0))),
		Max:       humanize.IBytes(uint64(max(usage.MaxBytes, 0))),
		Available: humanize.IBytes(uint64(max(usage.MaxBytes-usage.UsedBytes-usage.ReservedBytes, 0))),
	})
}

func (h *Handler) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings.Policy())
}

// updateSettings merges a partial policy. Enabling delete_old_downloads
// removes downloads older than the threshold before the response is sent.
func (h *Handler) updateSettings(c *gin.Context) {
	var patch domain.PolicyPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, err := h.settings.Update(c.Request.Context(), patch)
	switch {
	case errors.Is(err, settings.ErrInvalidPolicy):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, settings.ErrRetentionFailed):
		c.JSON(http.StatusOK, gin.H{"settings": policy, "warnings": []string{err.Error()}})
	case err != nil:
		h.writeError(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"settings": policy})
	}
}

func (h *Handler) setConnectivity(c *gin.Context) {
	var status connectivity.Status
	if err := c.ShouldBindJSON(&status); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prev := h.network.Set(status)
	if prev != status {
		h.logger.WithField("online", status.Online).WithField("unmetered", status.Unmetered).Info("connectivity changed")
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) favorite(c *gin.Context) {
	id := c.Param("id")
	if !h.catalog.Policy().AutoDownloadFavorites || h.catalog.IsOffline(id) {
		c.JSON(http.StatusOK, gin.H{"track_id": id, "queued": false})
		return
	}
	go func() {
		if _, err := h.catalog.OnFavorite(h.background, id); err != nil {
			h.logger.WithField("track_id", id).Warnf("download favorite: %v", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"track_id": id, "queued": true})
}

func (h *Handler) sync(c *gin.Context) {
	if err := h.catalog.SyncWithLedger(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": len(h.catalog.OfflineTracks())})
}

func (h *Handler) validate(c *gin.Context) {
	dropped, err := h.catalog.ValidateOfflineFiles(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dropped": nonNil(dropped)})
}

func (h *Handler) cleanup(c *gin.Context) {
	removed, err := h.catalog.CleanupOfflineFiles(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": nonNil(removed)})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
