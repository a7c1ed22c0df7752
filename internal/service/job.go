package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PaolaCartala/compliance-local-ai/internal/audit"
	"github.com/PaolaCartala/compliance-local-ai/internal/auth"
	"github.com/PaolaCartala/compliance-local-ai/internal/events"
	"github.com/PaolaCartala/compliance-local-ai/internal/service/mappers"
	"github.com/PaolaCartala/compliance-local-ai/internal/service/validator"
	"github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	"github.com/PaolaCartala/compliance-local-ai/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	CancelledReason = "cancelled"
)

type JobService struct {
	store     store.Store
	audit     *audit.Logger
	publisher events.Publisher
	validator *validator.Validator
}

func NewJobService(s store.Store, publisher events.Publisher) *JobService {
	v := validator.NewValidator()
	v.Register(validator.NewJobValidationRules()...)

	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &JobService{
		store:     s,
		audit:     audit.NewLogger(s),
		publisher: publisher,
		validator: v,
	}
}

// Submit admits a new job. When the form carries a dedup token already used
// by the same owner, the existing job is returned and created is false.
func (s *JobService) Submit(ctx context.Context, form mappers.JobSubmitForm) (job *model.Job, created bool, err error) {
	if err := s.validate(form); err != nil {
		return nil, false, err
	}

	if form.DedupToken != nil {
		existing, err := s.store.Job().GetByDedupToken(ctx, form.OwnerUserID, *form.DedupToken)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	newJob := form.ToJob(uuid.New(), util.Now())

	err = store.WithTransaction(ctx, s.store, func(ctx context.Context) error {
		result, err := s.store.Job().Create(ctx, newJob)
		if err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, audit.Entry{
			Type:  model.AuditEventCreated,
			Actor: form.OwnerUserID,
			After: *result,
		}); err != nil {
			return err
		}
		job = result
		return nil
	})
	if err != nil {
		// a concurrent submission with the same token won the insert
		if errors.Is(err, store.ErrDuplicateKey) && form.DedupToken != nil {
			existing, gerr := s.store.Job().GetByDedupToken(ctx, form.OwnerUserID, *form.DedupToken)
			if gerr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	zap.S().Named("job_service").Infow("job admitted",
		"job_id", job.ID, "request_type", job.RequestType, "specialization", job.Specialization, "priority", job.Priority)

	metrics.IncreaseJobsSubmittedMetric(string(job.RequestType), string(job.Specialization))
	metrics.IncreaseJobTransitionMetric(string(model.AuditEventCreated))
	metrics.UniqueSubmittersPerWeek.Add(job.OwnerUserID)
	s.publisher.Publish(ctx, model.AuditEventCreated, *job, "")

	return job, true, nil
}

func (s *JobService) validate(form mappers.JobSubmitForm) error {
	if err := s.validator.Struct(form); err != nil {
		return NewErrValidation(err)
	}
	if strings.TrimSpace(form.Text) == "" && len(form.Attachments) == 0 {
		return NewErrValidation(errors.New("text or at least one attachment is required"))
	}
	return nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID, user auth.User) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}

	if job.OwnerUserID != user.Username {
		return nil, NewErrJobAccessForbidden(id, user.Username)
	}

	return job, nil
}

// ListJobs returns a page of the user's jobs, highest priority first and
// newest first within a priority, plus the total count.
func (s *JobService) ListJobs(ctx context.Context, user auth.User, limit, offset int) (model.JobList, int64, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	filter := store.NewJobQueryFilter().ByOwner(user.Username)
	opts := store.NewJobQueryOptions().
		WithSortOrder(store.SortByPriorityThenRecency).
		WithLimit(limit).
		WithOffset(offset)

	jobs, err := s.store.Job().List(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.store.Job().Count(ctx, store.NewJobQueryFilter().ByOwner(user.Username))
	if err != nil {
		return nil, 0, err
	}

	return jobs, total, nil
}

// CancelJob fails a pending job right away. A processing job is only flagged;
// the worker holding it stops cooperatively and discards any late result.
func (s *JobService) CancelJob(ctx context.Context, id uuid.UUID, user auth.User) (*model.Job, error) {
	job, err := s.GetJob(ctx, id, user)
	if err != nil {
		return nil, err
	}

	// the job may move between the read and the conditional write; one retry
	// covers the pending -> processing race
	for attempt := 0; attempt < 2; attempt++ {
		switch {
		case job.Status.IsTerminal():
			return nil, NewErrJobAlreadyTerminal(id, string(job.Status))
		case job.Status == model.JobStatusPending:
			updated, err := s.cancelPending(ctx, job, user)
			if !errors.Is(err, store.ErrNotPending) {
				return updated, err
			}
		case job.CancelRequested:
			return job, nil
		default:
			updated, err := s.requestCancel(ctx, job, user)
			if !errors.Is(err, store.ErrLeaseLost) {
				return updated, err
			}
		}

		if job, err = s.GetJob(ctx, id, user); err != nil {
			return nil, err
		}
	}

	if job.Status.IsTerminal() {
		return nil, NewErrJobAlreadyTerminal(id, string(job.Status))
	}
	return job, nil
}

func (s *JobService) cancelPending(ctx context.Context, job *model.Job, user auth.User) (*model.Job, error) {
	var updated *model.Job
	err := store.WithTransaction(ctx, s.store, func(ctx context.Context) error {
		result, err := s.store.Job().CancelPending(ctx, job.ID, CancelledReason, util.Now())
		if err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, audit.Entry{
			Type:   model.AuditEventFailed,
			Actor:  user.Username,
			Reason: CancelledReason,
			Before: job,
			After:  *result,
		}); err != nil {
			return err
		}
		updated = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncreaseJobTransitionMetric(string(model.AuditEventFailed))
	s.publisher.Publish(ctx, model.AuditEventFailed, *updated, CancelledReason)
	return updated, nil
}

func (s *JobService) requestCancel(ctx context.Context, job *model.Job, user auth.User) (*model.Job, error) {
	var updated *model.Job
	err := store.WithTransaction(ctx, s.store, func(ctx context.Context) error {
		result, err := s.store.Job().RequestCancel(ctx, job.ID)
		if err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, audit.Entry{
			Type:   model.AuditEventCancelRequested,
			Actor:  user.Username,
			Before: job,
			After:  *result,
		}); err != nil {
			return err
		}
		updated = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncreaseJobTransitionMetric(string(model.AuditEventCancelRequested))
	s.publisher.Publish(ctx, model.AuditEventCancelRequested, *updated, "")
	return updated, nil
}

// AuditTrail returns the job's events in order and whether their hash chain
// verifies.
func (s *JobService) AuditTrail(ctx context.Context, id uuid.UUID, user auth.User) (model.AuditEventList, bool, error) {
	if _, err := s.GetJob(ctx, id, user); err != nil {
		return nil, false, err
	}

	events, err := s.store.Audit().ListByJob(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("reading audit trail: %w", err)
	}

	if err := audit.Verify(events); err != nil {
		zap.S().Named("job_service").Warnw("audit chain does not verify", "job_id", id, "error", err)
		return events, false, nil
	}
	return events, true, nil
}
