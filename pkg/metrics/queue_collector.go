package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const queueStatsWindow = 24 * time.Hour

type queueStatsCollector struct {
	store             store.Store
	jobsByStatus      *prometheus.Desc
	avgProcessingTime *prometheus.Desc
}

func newQueueStatsCollector(s store.Store) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_%s", inferenceQueue, name)
	}

	return &queueStatsCollector{
		store: s,
		jobsByStatus: prometheus.NewDesc(
			fqName("jobs"),
			"Number of jobs created in the last 24 hours by status.",
			[]string{"status"},
			prometheus.Labels{},
		),
		avgProcessingTime: prometheus.NewDesc(
			fqName("avg_processing_seconds"),
			"Average claim to completion time of jobs completed in the last 24 hours.",
			nil,
			prometheus.Labels{},
		),
	}
}

// RegisterQueueStatsCollector exposes ledger-derived gauges on the default
// registry.
func RegisterQueueStatsCollector(s store.Store) {
	prometheus.MustRegister(newQueueStatsCollector(s))
}

func (c *queueStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsByStatus
	ch <- c.avgProcessingTime
}

// Collect implements Collector.
func (c *queueStatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	since := util.Now().Add(-queueStatsWindow)
	counts, err := c.store.Job().CountByStatus(ctx, since)
	if err != nil {
		zap.S().Named("queue_collector").Errorf("failed to collect queue statistics: %s", err)
		return
	}

	for _, status := range []model.JobStatus{model.JobStatusPending, model.JobStatusProcessing, model.JobStatusCompleted, model.JobStatusFailed} {
		ch <- prometheus.MustNewConstMetric(c.jobsByStatus, prometheus.GaugeValue, float64(counts[status]), string(status))
	}

	avg, err := c.store.Job().AverageProcessingTime(ctx, since)
	if err != nil {
		zap.S().Named("queue_collector").Errorf("failed to collect processing time: %s", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.avgProcessingTime, prometheus.GaugeValue, avg.Seconds())
}
