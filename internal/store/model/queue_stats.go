package model

import (
	"fmt"
	"time"
)

type QueueHealthStatus string

const (
	QueueHealthCritical QueueHealthStatus = "critical"
	QueueHealthWarning  QueueHealthStatus = "warning"
	QueueHealthActive   QueueHealthStatus = "active"
	QueueHealthIdle     QueueHealthStatus = "idle"
)

const (
	criticalPendingJobs  = 50
	warningPendingJobs   = 20
	warningAvgProcessing = 30 * time.Second
)

// QueueStats summarizes the jobs created inside a time window.
type QueueStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
	// AvgProcessingTime is measured from claim to completion of completed jobs.
	AvgProcessingTime time.Duration
}

func NewQueueStats(counts map[JobStatus]int64, avg time.Duration) QueueStats {
	return QueueStats{
		Pending:           counts[JobStatusPending],
		Processing:        counts[JobStatusProcessing],
		Completed:         counts[JobStatusCompleted],
		Failed:            counts[JobStatusFailed],
		AvgProcessingTime: avg,
	}
}

func (q QueueStats) Total() int64 {
	return q.Pending + q.Processing + q.Completed + q.Failed
}

// Health grades the queue from its backlog and latency.
func (q QueueStats) Health() (QueueHealthStatus, string) {
	switch {
	case q.Pending > criticalPendingJobs:
		return QueueHealthCritical, fmt.Sprintf("backlog of %d pending jobs", q.Pending)
	case q.Pending > warningPendingJobs:
		return QueueHealthWarning, fmt.Sprintf("backlog of %d pending jobs", q.Pending)
	case q.AvgProcessingTime > warningAvgProcessing:
		return QueueHealthWarning, fmt.Sprintf("average processing time %s", q.AvgProcessingTime.Round(time.Millisecond))
	case q.Pending > 0 || q.Processing > 0:
		return QueueHealthActive, "queue operating normally"
	default:
		return QueueHealthIdle, "no jobs in flight"
	}
}
