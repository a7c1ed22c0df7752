package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit is the append-only event log. There is no update or delete.
type Audit interface {
	Create(ctx context.Context, event model.AuditEvent) (*model.AuditEvent, error)
	Last(ctx context.Context, jobID uuid.UUID) (*model.AuditEvent, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) (model.AuditEventList, error)
	CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error)
}

type AuditStore struct {
	db *gorm.DB
}

// Make sure we conform to Audit interface
var _ Audit = (*AuditStore)(nil)

func NewAuditStore(db *gorm.DB) Audit {
	return &AuditStore{db: db}
}

func (a *AuditStore) Create(ctx context.Context, event model.AuditEvent) (*model.AuditEvent, error) {
	if err := a.getDB(ctx).Create(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating audit event: %w", err)
	}
	return &event, nil
}

// Last returns the event with the highest sequence for the job.
func (a *AuditStore) Last(ctx context.Context, jobID uuid.UUID) (*model.AuditEvent, error) {
	var event model.AuditEvent
	err := a.getDB(ctx).
		Where("job_id = ?", jobID).
		Order("sequence DESC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying last audit event: %w", err)
	}
	return &event, nil
}

func (a *AuditStore) ListByJob(ctx context.Context, jobID uuid.UUID) (model.AuditEventList, error) {
	var events model.AuditEventList
	err := a.getDB(ctx).
		Where("job_id = ?", jobID).
		Order("sequence ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	return events, nil
}

func (a *AuditStore) CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var count int64
	if err := a.getDB(ctx).Model(&model.AuditEvent{}).Where("job_id = ?", jobID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting audit events: %w", err)
	}
	return count, nil
}

func (a *AuditStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return a.db.WithContext(ctx)
}
