package domain

type DownloadQuality string

const (
	QualityLow    DownloadQuality = "low"
	QualityNormal DownloadQuality = "normal"
	QualityHigh   DownloadQuality = "high"
)

// Valid reports whether q is one of the known quality presets.
func (q DownloadQuality) Valid() bool {
	switch q {
	case QualityLow, QualityNormal, QualityHigh:
		return true
	}
	return false
}

// StoragePolicy holds the user-configurable offline storage settings.
type StoragePolicy struct {
	MaxOfflineBytes          int64           `json:"max_offline_bytes"`
	DownloadQuality          DownloadQuality `json:"download_quality"`
	AutoDownloadFavorites    bool            `json:"auto_download_favorites"`
	WifiOnly                 bool            `json:"wifi_only"`
	DeleteOldDownloads       bool            `json:"delete_old_downloads"`
	OldDownloadThresholdDays int             `json:"old_download_threshold_days"`
}

// DefaultStoragePolicy is used when no persisted policy exists or it cannot be read.
func DefaultStoragePolicy() StoragePolicy {
	return StoragePolicy{
		MaxOfflineBytes:          2 << 30,
		DownloadQuality:          QualityNormal,
		AutoDownloadFavorites:    false,
		WifiOnly:                 true,
		DeleteOldDownloads:       false,
		OldDownloadThresholdDays: 30,
	}
}

// PolicyPatch carries the fields of a partial policy update; nil fields are left unchanged.
type PolicyPatch struct {
	MaxOfflineBytes          *int64           `json:"max_offline_bytes"`
	DownloadQuality          *DownloadQuality `json:"download_quality"`
	AutoDownloadFavorites    *bool            `json:"auto_download_favorites"`
	WifiOnly                 *bool            `json:"wifi_only"`
	DeleteOldDownloads       *bool            `json:"delete_old_downloads"`
	OldDownloadThresholdDays *int             `json:"old_download_threshold_days"`
}

// Apply returns p with the non-nil patch fields merged in.
func (patch PolicyPatch) Apply(p StoragePolicy) StoragePolicy {
	if patch.MaxOfflineBytes != nil {
		p.MaxOfflineBytes = *patch.MaxOfflineBytes
	}
	if patch.DownloadQuality != nil {
		p.DownloadQuality = *patch.DownloadQuality
	}
	if patch.AutoDownloadFavorites != nil {
		p.AutoDownloadFavorites = *patch.AutoDownloadFavorites
	}
	if patch.WifiOnly != nil {
		p.WifiOnly = *patch.WifiOnly
	}
	if patch.DeleteOldDownloads != nil {
		p.DeleteOldDownloads = *patch.DeleteOldDownloads
	}
	if patch.OldDownloadThresholdDays != nil {
		p.OldDownloadThresholdDays = *patch.OldDownloadThresholdDays
	}
	return p
}
