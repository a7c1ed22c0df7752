package store

import (
	"context"

	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	Audit() Audit
	InitialMigration(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db    *gorm.DB
	job   Job
	audit Audit
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		job:   NewJobStore(db),
		audit: NewAuditStore(db),
		db:    db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Audit() Audit {
	return s.audit
}

// InitialMigration creates the schema straight from the models. Production
// databases are migrated with goose; this is used for sqlite and tests.
func (s *DataStore) InitialMigration(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&model.Job{}, &model.AuditEvent{})
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
