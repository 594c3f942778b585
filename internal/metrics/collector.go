package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"offline-store/internal/domain"
	"offline-store/internal/offline"
)

// Source is the read side of the offline catalog.
type Source interface {
	Usage() offline.Usage
	Tasks() []domain.DownloadTask
	Stats() offline.Stats
}

// OfflineCollector exposes catalog state at scrape time.
type OfflineCollector struct {
	source Source

	usedBytesDesc     *prometheus.Desc
	reservedBytesDesc *prometheus.Desc
	maxBytesDesc      *prometheus.Desc
	tracksDesc        *prometheus.Desc
	tasksDesc         *prometheus.Desc
	runningDesc       *prometheus.Desc
	attemptsDesc      *prometheus.Desc
	ledgerPendingDesc *prometheus.Desc
}

var taskStatuses = []domain.TaskStatus{
	domain.TaskStatusQueued,
	domain.TaskStatusDownloading,
	domain.TaskStatusPaused,
	domain.TaskStatusError,
	domain.TaskStatusCancelled,
}

func NewOfflineCollector(source Source) *OfflineCollector {
	return &OfflineCollector{
		source: source,

		usedBytesDesc: prometheus.NewDesc(
			"offline_storage_used_bytes",
			"Bytes used by downloaded tracks",
			nil, nil,
		),
		reservedBytesDesc: prometheus.NewDesc(
			"offline_storage_reserved_bytes",
			"Bytes claimed by downloads in progress or paused",
			nil, nil,
		),
		maxBytesDesc: prometheus.NewDesc(
			"offline_storage_max_bytes",
			"Configured offline storage budget in bytes",
			nil, nil,
		),
		tracksDesc: prometheus.NewDesc(
			"offline_tracks",
			"Number of tracks available offline",
			nil, nil,
		),
		tasksDesc: prometheus.NewDesc(
			"offline_download_tasks",
			"Number of download tasks by status",
			[]string{"status"}, nil,
		),
		runningDesc: prometheus.NewDesc(
			"offline_download_slots_in_use",
			"Transfers currently holding a download slot",
			nil, nil,
		),
		attemptsDesc: prometheus.NewDesc(
			"offline_download_attempts_total",
			"Finished download attempts by outcome",
			[]string{"outcome"}, nil,
		),
		ledgerPendingDesc: prometheus.NewDesc(
			"offline_ledger_insert_failures_total",
			"Completed downloads whose ledger insert failed",
			nil, nil,
		),
	}
}

func (c *OfflineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.usedBytesDesc
	ch <- c.reservedBytesDesc
	ch <- c.maxBytesDesc
	ch <- c.tracksDesc
	ch <- c.tasksDesc
	ch <- c.runningDesc
	ch <- c.attemptsDesc
	ch <- c.ledgerPendingDesc
}

func (c *OfflineCollector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}

	usage := c.source.Usage()
	ch <- prometheus.MustNewConstMetric(c.usedBytesDesc, prometheus.GaugeValue, float64(usage.UsedBytes))
	ch <- prometheus.MustNewConstMetric(c.reservedBytesDesc, prometheus.GaugeValue, float64(usage.ReservedBytes))
	ch <- prometheus.MustNewConstMetric(c.maxBytesDesc, prometheus.GaugeValue, float64(usage.MaxBytes))
	ch <- prometheus.MustNewConstMetric(c.tracksDesc, prometheus.GaugeValue, float64(usage.Tracks))

	counts := make(map[domain.TaskStatus]int, len(taskStatuses))
	for _, task := range c.source.Tasks() {
		counts[task.Status]++
	}
	for _, status := range taskStatuses {
		ch <- prometheus.MustNewConstMetric(c.tasksDesc, prometheus.GaugeValue, float64(counts[status]), string(status))
	}

	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.runningDesc, prometheus.GaugeValue, float64(stats.Running))
	for outcome, n := range map[string]uint64{
		"completed": stats.Completed,
		"failed":    stats.Failed,
		"cancelled": stats.Cancelled,
		"paused":    stats.Paused,
	} {
		ch <- prometheus.MustNewConstMetric(c.attemptsDesc, prometheus.CounterValue, float64(n), outcome)
	}
	ch <- prometheus.MustNewConstMetric(c.ledgerPendingDesc, prometheus.CounterValue, float64(stats.LedgerPending))
}
