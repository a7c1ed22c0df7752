package audit_test

import (
	"context"

	"github.com/PaolaCartala/compliance-local-ai/internal/audit"
	"github.com/PaolaCartala/compliance-local-ai/internal/config"
	"github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("audit logger", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		logger *audit.Logger
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration(context.TODO())).To(BeNil())
		logger = audit.NewLogger(s)
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM audit_events;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	newJob := func() model.Job {
		now := util.Now()
		return model.Job{
			ID:             uuid.New(),
			RequestType:    model.RequestTypeChat,
			Specialization: model.SpecializationGeneral,
			Input:          model.MakeJSONField(model.JobInput{Text: "hi"}),
			Priority:       5,
			Status:         model.JobStatusPending,
			OwnerUserID:    "alice",
			CreatedAt:      now,
			RunAfter:       now,
		}
	}

	It("chains events and replays them into the final state", func() {
		job := newJob()
		_, err := logger.Record(context.TODO(), audit.Entry{Type: model.AuditEventCreated, Actor: "alice", After: job})
		Expect(err).To(BeNil())

		claimed := job
		claimed.Status = model.JobStatusProcessing
		claimed.ClaimedAt = util.ToPtr(util.Now())
		_, err = logger.Record(context.TODO(), audit.Entry{Type: model.AuditEventClaimed, Actor: "worker-1", Before: &job, After: claimed})
		Expect(err).To(BeNil())

		done := claimed
		done.Status = model.JobStatusCompleted
		done.CompletedAt = util.ToPtr(util.Now())
		done.ConfidenceScore = util.ToPtr(0.92)
		done.SecCompliant = true
		done.Result = model.MakeJSONField(model.JobResult{Text: "answer", ModelID: "llama3.1:8b", InputTokens: 10, OutputTokens: 20})
		_, err = logger.Record(context.TODO(), audit.Entry{Type: model.AuditEventCompleted, Actor: "worker-1", Before: &claimed, After: done})
		Expect(err).To(BeNil())

		events, err := s.Audit().ListByJob(context.TODO(), job.ID)
		Expect(err).To(BeNil())
		Expect(events).To(HaveLen(3))
		Expect(events[0].PrevHash).To(BeEmpty())
		Expect(events[1].PrevHash).To(Equal(events[0].EventHash))
		Expect(events[2].Sequence).To(Equal(3))
		Expect(audit.Verify(events)).To(Succeed())

		replayed, err := audit.Replay(events)
		Expect(err).To(BeNil())
		Expect(replayed.Equal(done.Snapshot())).To(BeTrue())
	})

	It("only stores changed fields after the first event", func() {
		job := newJob()
		next := job
		next.Priority = 4

		delta, err := audit.Delta(&job, next)
		Expect(err).To(BeNil())
		Expect(string(delta)).To(Equal(`{"priority":4}`))
	})

	It("detects a tampered event", func() {
		job := newJob()
		_, err := logger.Record(context.TODO(), audit.Entry{Type: model.AuditEventCreated, Actor: "alice", After: job})
		Expect(err).To(BeNil())
		failed := job
		failed.Status = model.JobStatusFailed
		_, err = logger.Record(context.TODO(), audit.Entry{Type: model.AuditEventFailed, Actor: "alice", Reason: "cancelled", Before: &job, After: failed})
		Expect(err).To(BeNil())

		events, err := s.Audit().ListByJob(context.TODO(), job.ID)
		Expect(err).To(BeNil())
		events[1].Reason = "something else"
		Expect(audit.Verify(events)).ToNot(Succeed())
	})

	It("escalates persistence failures", func() {
		job := newJob()
		_, err := logger.Record(context.TODO(), audit.Entry{Type: model.AuditEventCreated, Actor: "alice", After: job})
		Expect(err).To(BeNil())

		Expect(gormdb.Exec("DROP TABLE audit_events;").Error).To(BeNil())
		defer func() {
			Expect(s.InitialMigration(context.TODO())).To(BeNil())
		}()

		_, err = logger.Record(context.TODO(), audit.Entry{Type: model.AuditEventFailed, Actor: "alice", Before: &job, After: job})
		Expect(err).To(MatchError(audit.ErrAuditPersistence))
	})

	It("refuses to replay an empty history", func() {
		_, err := audit.Replay(nil)
		Expect(err).ToNot(BeNil())
	})
})
