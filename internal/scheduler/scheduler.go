package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/PaolaCartala/compliance-local-ai/internal/audit"
	"github.com/PaolaCartala/compliance-local-ai/internal/events"
	"github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	"github.com/PaolaCartala/compliance-local-ai/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultClaimAttempts bounds how many times ClaimNext re-selects after losing
// a race before it gives up for this poll.
const defaultClaimAttempts = 5

// ErrQueueEmpty is returned when no pending job is eligible to run.
var ErrQueueEmpty = errors.New("no eligible pending job")

// Claimed is a job held by a worker together with the lease it holds it under.
type Claimed struct {
	Job   model.Job
	Lease store.Lease
}

// Scheduler hands pending jobs to workers. It keeps no queue state of its own:
// selection and claim are queries against the ledger, so any number of
// schedulers may run side by side.
type Scheduler struct {
	store         store.Store
	audit         *audit.Logger
	publisher     events.Publisher
	claimAttempts int
}

func NewScheduler(s store.Store, publisher events.Publisher) *Scheduler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Scheduler{
		store:         s,
		audit:         audit.NewLogger(s),
		publisher:     publisher,
		claimAttempts: defaultClaimAttempts,
	}
}

// ClaimNext claims the highest priority, oldest eligible pending job for
// workerID. Lost races are retried against a fresh selection.
func (s *Scheduler) ClaimNext(ctx context.Context, workerID string) (*Claimed, error) {
	for attempt := 0; attempt < s.claimAttempts; attempt++ {
		claimed, err := s.claimNext(ctx, workerID)
		if errors.Is(err, store.ErrClaimConflict) {
			metrics.IncreaseClaimConflictMetric()
			zap.S().Named("scheduler").Debugw("lost claim race, selecting again", "worker", workerID, "attempt", attempt+1)
			continue
		}
		return claimed, err
	}
	return nil, ErrQueueEmpty
}

// ClaimJob claims one specific job. It returns store.ErrClaimConflict when the
// job is no longer pending.
func (s *Scheduler) ClaimJob(ctx context.Context, id uuid.UUID, workerID string) (*Claimed, error) {
	var claimed *Claimed
	err := store.WithTransaction(ctx, s.store, func(ctx context.Context) error {
		job, err := s.store.Job().Get(ctx, id)
		if err != nil {
			return err
		}
		claimed, err = s.claim(ctx, job, workerID)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrClaimConflict) {
			metrics.IncreaseClaimConflictMetric()
		}
		return nil, err
	}

	s.claimed(ctx, claimed)
	return claimed, nil
}

func (s *Scheduler) claimNext(ctx context.Context, workerID string) (*Claimed, error) {
	var claimed *Claimed
	err := store.WithTransaction(ctx, s.store, func(ctx context.Context) error {
		job, err := s.store.Job().NextPending(ctx, util.Now())
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrQueueEmpty
			}
			return err
		}
		claimed, err = s.claim(ctx, job, workerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.claimed(ctx, claimed)
	return claimed, nil
}

func (s *Scheduler) claim(ctx context.Context, job *model.Job, workerID string) (*Claimed, error) {
	token := uuid.New()
	result, err := s.store.Job().Claim(ctx, job.ID, workerID, token, util.Now())
	if err != nil {
		return nil, err
	}

	if _, err := s.audit.Record(ctx, audit.Entry{
		Type:   model.AuditEventClaimed,
		Actor:  workerID,
		Before: job,
		After:  *result,
	}); err != nil {
		return nil, fmt.Errorf("recording claim of job %s: %w", job.ID, err)
	}

	return &Claimed{Job: *result, Lease: store.Lease{JobID: result.ID, Token: token}}, nil
}

func (s *Scheduler) claimed(ctx context.Context, c *Claimed) {
	zap.S().Named("scheduler").Infow("job claimed",
		"job_id", c.Job.ID, "worker", *c.Job.ClaimedBy, "priority", c.Job.Priority, "retry_count", c.Job.RetryCount)
	metrics.IncreaseJobTransitionMetric(string(model.AuditEventClaimed))
	s.publisher.Publish(ctx, model.AuditEventClaimed, c.Job, "")
}
