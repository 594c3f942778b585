// Package quota holds the storage-budget arithmetic used for download admission.
package quota

import "offline-store/internal/domain"

// Nominal bitrates in bits per second.
const (
	BitrateLow    = 64_000
	BitrateNormal = 128_000
	BitrateHigh   = 320_000
)

// BitrateFor maps a quality preset to its nominal bitrate.
func BitrateFor(q domain.DownloadQuality) int64 {
	switch q {
	case domain.QualityLow:
		return BitrateLow
	case domain.QualityHigh:
		return BitrateHigh
	default:
		return BitrateNormal
	}
}

// Estimate approximates a track's on-disk size. It is a pre-flight figure only and
// never describes a completed file.
func Estimate(track domain.TrackRef, bitrateBps int64) int64 {
	if track.DurationSeconds <= 0 || bitrateBps <= 0 {
		return 0
	}
	return int64(track.DurationSeconds) * bitrateBps / 8
}

// Fits reports whether extra bytes can be added to used without exceeding limit.
func Fits(used, extra, limit int64) bool {
	return used+extra <= limit
}
