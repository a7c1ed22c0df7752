package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StaleJobLimit is the maximum number of stale claims fetched in one query.
const StaleJobLimit = 100

// Lease identifies one processing attempt of a job.
type Lease struct {
	JobID uuid.UUID
	Token uuid.UUID
}

// Job is the job ledger. Every status change is a conditional update so that
// concurrent writers are serialized by the database rather than in memory.
type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	GetByDedupToken(ctx context.Context, ownerUserID, token string) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error)
	Count(ctx context.Context, filter *JobQueryFilter) (int64, error)
	NextPending(ctx context.Context, now time.Time) (*model.Job, error)
	Claim(ctx context.Context, id uuid.UUID, workerID string, token uuid.UUID, now time.Time) (*model.Job, error)
	Transition(ctx context.Context, lease Lease, next model.Job, requireNotCancelled bool) (*model.Job, error)
	CancelPending(ctx context.Context, id uuid.UUID, reason string, now time.Time) (*model.Job, error)
	RequestCancel(ctx context.Context, id uuid.UUID) (*model.Job, error)
	ListStale(ctx context.Context, cutoff time.Time) (model.JobList, error)
	CountByStatus(ctx context.Context, since time.Time) (map[model.JobStatus]int64, error)
	AverageProcessingTime(ctx context.Context, since time.Time) (time.Duration, error)
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	if err := s.getDB(ctx).Create(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	if err := s.getDB(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) GetByDedupToken(ctx context.Context, ownerUserID, token string) (*model.Job, error) {
	var job model.Job
	err := s.getDB(ctx).
		Where("owner_user_id = ? AND dedup_token = ?", ownerUserID, token).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job by dedup token: %w", err)
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error) {
	var jobs model.JobList
	tx := s.getDB(ctx).Model(&jobs)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) Count(ctx context.Context, filter *JobQueryFilter) (int64, error) {
	var count int64
	tx := s.getDB(ctx).Model(&model.Job{})

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return count, nil
}

// NextPending returns the eligible pending job with the highest priority, the
// oldest one within a priority band. It does not claim the job.
func (s *JobStore) NextPending(ctx context.Context, now time.Time) (*model.Job, error) {
	var job model.Job
	tx := s.getDB(ctx).
		Where("status = ? AND run_after <= ?", model.JobStatusPending, now).
		Order("priority DESC").
		Order("created_at ASC").
		Order("id ASC")

	if tx.Dialector.Name() == "postgres" {
		// other workers skip the row we are about to claim instead of
		// waiting for our transaction to finish
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	if err := tx.First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("selecting next pending job: %w", err)
	}
	return &job, nil
}

// Claim moves a job from pending to processing for the given worker. Exactly
// one of several concurrent callers succeeds; the others get ErrClaimConflict.
func (s *JobStore) Claim(ctx context.Context, id uuid.UUID, workerID string, token uuid.UUID, now time.Time) (*model.Job, error) {
	result := s.getDB(ctx).
		Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusPending).
		Updates(map[string]any{
			"status":      model.JobStatusProcessing,
			"claimed_at":  now,
			"lease_token": token,
			"claimed_by":  workerID,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("claiming job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrClaimConflict
	}
	return s.Get(ctx, id)
}

// Transition writes the mutable fields of next for a job still held under
// lease. When requireNotCancelled is set the update also loses against a
// pending cancellation request.
//
// next must be derived from a row read under the same lease. cancel_requested
// is owned by RequestCancel and is never written here, so a stale snapshot
// cannot clear a cancellation that landed after it was read.
func (s *JobStore) Transition(ctx context.Context, lease Lease, next model.Job, requireNotCancelled bool) (*model.Job, error) {
	if next.ID != lease.JobID {
		return nil, fmt.Errorf("transition for job %s does not match lease on %s", next.ID, lease.JobID)
	}

	tx := s.getDB(ctx).
		Model(&model.Job{}).
		Where("id = ? AND status = ? AND lease_token = ?", lease.JobID, model.JobStatusProcessing, lease.Token)
	if requireNotCancelled {
		tx = tx.Where("cancel_requested = ?", false)
	}

	result := tx.Updates(mutableColumns(next))
	if result.Error != nil {
		return nil, fmt.Errorf("updating job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrLeaseLost
	}
	return s.Get(ctx, lease.JobID)
}

func (s *JobStore) CancelPending(ctx context.Context, id uuid.UUID, reason string, now time.Time) (*model.Job, error) {
	result := s.getDB(ctx).
		Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusPending).
		Updates(map[string]any{
			"status":        model.JobStatusFailed,
			"completed_at":  now,
			"error_message": reason,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("cancelling job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotPending
	}
	return s.Get(ctx, id)
}

func (s *JobStore) RequestCancel(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	result := s.getDB(ctx).
		Model(&model.Job{}).
		Where("id = ? AND status = ? AND cancel_requested = ?", id, model.JobStatusProcessing, false).
		Update("cancel_requested", true)
	if result.Error != nil {
		return nil, fmt.Errorf("requesting job cancellation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrLeaseLost
	}
	return s.Get(ctx, id)
}

// ListStale returns processing jobs claimed before cutoff.
func (s *JobStore) ListStale(ctx context.Context, cutoff time.Time) (model.JobList, error) {
	var jobs model.JobList
	err := s.getDB(ctx).
		Where("status = ? AND claimed_at < ?", model.JobStatusProcessing, cutoff).
		Order("claimed_at ASC").
		Limit(StaleJobLimit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("listing stale jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) CountByStatus(ctx context.Context, since time.Time) (map[model.JobStatus]int64, error) {
	var rows []struct {
		Status model.JobStatus
		Count  int64
	}
	err := s.getDB(ctx).
		Model(&model.Job{}).
		Select("status, count(*) as count").
		Where("created_at > ?", since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}

	counts := make(map[model.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *JobStore) AverageProcessingTime(ctx context.Context, since time.Time) (time.Duration, error) {
	var rows []struct {
		ClaimedAt   time.Time
		CompletedAt time.Time
	}
	err := s.getDB(ctx).
		Model(&model.Job{}).
		Select("claimed_at, completed_at").
		Where("status = ? AND completed_at > ? AND claimed_at IS NOT NULL", model.JobStatusCompleted, since).
		Order("completed_at DESC").
		Limit(1000).
		Scan(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("computing processing time: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var total time.Duration
	for _, r := range rows {
		total += r.CompletedAt.Sub(r.ClaimedAt)
	}
	return total / time.Duration(len(rows)), nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}

func mutableColumns(j model.Job) map[string]any {
	return map[string]any{
		"status":                j.Status,
		"priority":              j.Priority,
		"run_after":             j.RunAfter,
		"claimed_at":            j.ClaimedAt,
		"completed_at":          j.CompletedAt,
		"lease_token":           j.LeaseToken,
		"claimed_by":            j.ClaimedBy,
		"retry_count":           j.RetryCount,
		"error_count":           j.ErrorCount,
		"confidence_score":      j.ConfidenceScore,
		"sec_compliant":         j.SecCompliant,
		"human_review_required": j.HumanReviewRequired,
		"result":                j.Result,
		"error_message":         j.ErrorMessage,
	}
}
