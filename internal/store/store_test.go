package store_test

import (
	"context"
	"errors"

	"github.com/PaolaCartala/compliance-local-ai/internal/config"
	st "github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

func newTestJob(owner string, priority int) model.Job {
	now := util.Now()
	return model.Job{
		ID:             uuid.New(),
		RequestType:    model.RequestTypeChat,
		Specialization: model.SpecializationGeneral,
		Input:          model.MakeJSONField(model.JobInput{Text: "hello"}),
		Priority:       priority,
		Status:         model.JobStatusPending,
		OwnerUserID:    owner,
		CreatedAt:      now,
		RunAfter:       now,
	}
}

var _ = Describe("Store", Ordered, func() {
	var (
		store  st.Store
		gormDB *gorm.DB
	)

	BeforeAll(func() {
		cfg := config.NewDefault()
		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		store = st.NewStore(db)
		Expect(store).ToNot(BeNil())
		Expect(store.InitialMigration(context.TODO())).To(BeNil())
	})

	AfterAll(func() {
		store.Close()
	})

	Context("transaction", func() {
		It("insert a job successfully", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			job, err := store.Job().Create(ctx, newTestJob("alice", 5))
			Expect(job).ToNot(BeNil())
			Expect(err).To(BeNil())

			// commit
			_, cerr := st.Commit(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from jobs;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("rollback a job successfully", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			job, err := store.Job().Create(ctx, newTestJob("alice", 5))
			Expect(job).ToNot(BeNil())
			Expect(err).To(BeNil())

			// count in the same transaction
			jobs, err := store.Job().List(ctx, st.NewJobQueryFilter(), nil)
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(1))

			// rollback
			_, cerr := st.Rollback(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from jobs;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(0))
		})

		It("rolls back everything when the callback fails", func() {
			boom := errors.New("boom")
			err := st.WithTransaction(context.TODO(), store, func(ctx context.Context) error {
				job, err := store.Job().Create(ctx, newTestJob("alice", 5))
				Expect(err).To(BeNil())

				_, err = store.Audit().Create(ctx, model.AuditEvent{
					ID:        uuid.New(),
					JobID:     job.ID,
					Sequence:  1,
					EventType: model.AuditEventCreated,
					Actor:     "alice",
					Delta:     []byte("{}"),
					EventHash: "x",
					CreatedAt: util.Now(),
				})
				Expect(err).To(BeNil())
				return boom
			})
			Expect(err).To(MatchError(boom))

			count := 0
			Expect(gormDB.Raw("SELECT COUNT(*) from jobs;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(0))
			Expect(gormDB.Raw("SELECT COUNT(*) from audit_events;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(0))
		})

		It("joins an outer transaction", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			err = st.WithTransaction(ctx, store, func(ctx context.Context) error {
				_, err := store.Job().Create(ctx, newTestJob("alice", 5))
				return err
			})
			Expect(err).To(BeNil())

			// the inner call did not commit
			_, cerr := st.Rollback(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			Expect(gormDB.Raw("SELECT COUNT(*) from jobs;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(0))
		})

		AfterEach(func() {
			gormDB.Exec("DELETE from audit_events;")
			gormDB.Exec("DELETE from jobs;")
		})
	})
})
