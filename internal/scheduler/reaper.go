package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/audit"
	"github.com/PaolaCartala/compliance-local-ai/internal/events"
	"github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	"github.com/PaolaCartala/compliance-local-ai/pkg/metrics"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
)

const (
	reaperActor = "reaper"

	ReasonLeaseExpired   = "lease expired"
	ReasonLeaseExhausted = "lease expired after maximum retries"
	ReasonCancelled      = "cancelled"
)

// Reaper returns jobs whose lease expired to the pending state. A job whose
// retries are used up, or whose cancellation was requested, is failed instead.
type Reaper struct {
	store      store.Store
	audit      *audit.Logger
	publisher  events.Publisher
	lease      time.Duration
	maxRetries int
}

func NewReaper(s store.Store, publisher events.Publisher, lease time.Duration, maxRetries int) *Reaper {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Reaper{
		store:      s,
		audit:      audit.NewLogger(s),
		publisher:  publisher,
		lease:      lease,
		maxRetries: maxRetries,
	}
}

// Run reclaims stale jobs every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := r.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
			zap.S().Named("reaper").Errorw("failed to reclaim stale jobs", "error", err)
		}
	}
}

// ReclaimStale handles every job claimed longer than the lease ago and
// returns how many it moved. A job finalized by its worker in the meantime is
// left alone.
func (r *Reaper) ReclaimStale(ctx context.Context) (int, error) {
	now := util.Now()
	stale, err := r.store.Job().ListStale(ctx, now.Add(-r.lease))
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, job := range stale {
		if job.LeaseToken == nil {
			continue
		}

		moved, err := r.reclaim(ctx, job, now)
		if err != nil {
			if errors.Is(err, store.ErrLeaseLost) {
				continue
			}
			return reclaimed, err
		}
		reclaimed++
		metrics.IncreaseReclaimedJobsMetric()

		zap.S().Named("reaper").Infow("stale job reclaimed",
			"job_id", moved.ID, "status", moved.Status, "retry_count", moved.RetryCount, "claimed_by", job.ClaimedBy)
	}

	return reclaimed, nil
}

func (r *Reaper) reclaim(ctx context.Context, job model.Job, now time.Time) (*model.Job, error) {
	moved, err := r.transition(ctx, job, now)
	if !errors.Is(err, store.ErrLeaseLost) || job.CancelRequested {
		return moved, err
	}

	// a cancellation requested after the job was listed wins over the requeue
	current, gerr := r.store.Job().Get(ctx, job.ID)
	if gerr != nil {
		return nil, gerr
	}
	if current.Status != model.JobStatusProcessing || !current.CancelRequested ||
		current.LeaseToken == nil || *current.LeaseToken != *job.LeaseToken {
		return nil, err
	}
	return r.transition(ctx, *current, now)
}

func (r *Reaper) transition(ctx context.Context, job model.Job, now time.Time) (*model.Job, error) {
	next, eventType, reason := r.nextState(job, now)

	var moved *model.Job
	err := store.WithTransaction(ctx, r.store, func(ctx context.Context) error {
		result, err := r.store.Job().Transition(ctx, store.Lease{JobID: job.ID, Token: *job.LeaseToken}, next, !job.CancelRequested)
		if err != nil {
			return err
		}
		if _, err := r.audit.Record(ctx, audit.Entry{
			Type:   eventType,
			Actor:  reaperActor,
			Reason: reason,
			Before: &job,
			After:  *result,
		}); err != nil {
			return err
		}
		moved = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncreaseJobTransitionMetric(string(eventType))
	r.publisher.Publish(ctx, eventType, *moved, reason)
	return moved, nil
}

func (r *Reaper) nextState(job model.Job, now time.Time) (model.Job, model.AuditEventType, string) {
	next := job
	next.LeaseToken = nil
	next.ClaimedBy = nil

	switch {
	case job.CancelRequested:
		next.Status = model.JobStatusFailed
		next.CompletedAt = &now
		next.ErrorMessage = util.ToPtr(ReasonCancelled)
		return next, model.AuditEventFailed, ReasonCancelled
	case job.RetryCount >= r.maxRetries:
		next.Status = model.JobStatusFailed
		next.CompletedAt = &now
		next.ErrorMessage = util.ToPtr(ReasonLeaseExhausted)
		return next, model.AuditEventFailed, ReasonLeaseExhausted
	default:
		next.Status = model.JobStatusPending
		next.RetryCount++
		next.ClaimedAt = nil
		next.RunAfter = now
		return next, model.AuditEventReclaimed, ReasonLeaseExpired
	}
}
