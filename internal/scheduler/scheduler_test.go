package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/audit"
	"github.com/PaolaCartala/compliance-local-ai/internal/config"
	"github.com/PaolaCartala/compliance-local-ai/internal/scheduler"
	"github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

// pendingJob inserts a pending job created at the given instant, together with
// its created event.
func pendingJob(s store.Store, priority int, createdAt time.Time) model.Job {
	job := model.Job{
		ID:             uuid.New(),
		RequestType:    model.RequestTypeChat,
		Specialization: model.SpecializationGeneral,
		Input:          model.MakeJSONField(model.JobInput{Text: "hello"}),
		Priority:       priority,
		Status:         model.JobStatusPending,
		OwnerUserID:    "alice",
		CreatedAt:      util.Truncate(createdAt),
		RunAfter:       util.Truncate(createdAt),
	}

	var created *model.Job
	err := store.WithTransaction(context.TODO(), s, func(ctx context.Context) error {
		var err error
		if created, err = s.Job().Create(ctx, job); err != nil {
			return err
		}
		_, err = audit.NewLogger(s).Record(ctx, audit.Entry{Type: model.AuditEventCreated, Actor: "alice", After: *created})
		return err
	})
	Expect(err).To(BeNil())
	return *created
}

var _ = Describe("scheduler", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		sched  *scheduler.Scheduler
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration(context.TODO())).To(BeNil())
		sched = scheduler.NewScheduler(s, nil)
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM audit_events;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	Context("selection", func() {
		It("claims FIFO within a priority and higher priority first", func() {
			t0 := util.Now().Add(-time.Minute)
			a := pendingJob(s, 8, t0)
			b := pendingJob(s, 8, t0.Add(time.Second))
			c := pendingJob(s, 9, t0.Add(2*time.Second))

			var order []uuid.UUID
			for i := 0; i < 3; i++ {
				claimed, err := sched.ClaimNext(context.TODO(), "worker-1")
				Expect(err).To(BeNil())
				order = append(order, claimed.Job.ID)
			}
			Expect(order).To(Equal([]uuid.UUID{c.ID, a.ID, b.ID}))

			_, err := sched.ClaimNext(context.TODO(), "worker-1")
			Expect(errors.Is(err, scheduler.ErrQueueEmpty)).To(BeTrue())
		})

		It("stamps the claim and records it", func() {
			job := pendingJob(s, 5, util.Now())

			claimed, err := sched.ClaimNext(context.TODO(), "worker-7")
			Expect(err).To(BeNil())
			Expect(claimed.Job.ID).To(Equal(job.ID))
			Expect(claimed.Job.Status).To(Equal(model.JobStatusProcessing))
			Expect(claimed.Job.ClaimedAt).ToNot(BeNil())
			Expect(*claimed.Job.ClaimedBy).To(Equal("worker-7"))
			Expect(*claimed.Job.LeaseToken).To(Equal(claimed.Lease.Token))

			events, err := s.Audit().ListByJob(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(events).To(HaveLen(2))
			Expect(events[1].EventType).To(Equal(model.AuditEventClaimed))
			Expect(events[1].Actor).To(Equal("worker-7"))
			Expect(audit.Verify(events)).To(Succeed())
		})

		It("skips jobs whose backoff has not elapsed", func() {
			job := pendingJob(s, 10, util.Now())
			Expect(gormdb.Model(&model.Job{}).Where("id = ?", job.ID).
				Update("run_after", util.Now().Add(time.Hour)).Error).To(BeNil())
			later := pendingJob(s, 1, util.Now())

			claimed, err := sched.ClaimNext(context.TODO(), "worker-1")
			Expect(err).To(BeNil())
			Expect(claimed.Job.ID).To(Equal(later.ID))
		})

		It("starves a low priority job while higher priority work keeps arriving", func() {
			low := pendingJob(s, 1, util.Now().Add(-time.Hour))

			for i := 0; i < 10; i++ {
				high := pendingJob(s, 10, util.Now())
				claimed, err := sched.ClaimNext(context.TODO(), "worker-1")
				Expect(err).To(BeNil())
				Expect(claimed.Job.ID).To(Equal(high.ID))
			}

			claimed, err := sched.ClaimNext(context.TODO(), "worker-1")
			Expect(err).To(BeNil())
			Expect(claimed.Job.ID).To(Equal(low.ID))
		})
	})

	Context("concurrency", func() {
		It("gives a job to exactly one of several racing workers", func() {
			job := pendingJob(s, 5, util.Now())

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				winners   int
				conflicts int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := sched.ClaimJob(context.TODO(), job.ID, fmt.Sprintf("worker-%d", i))
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						winners++
						return
					}
					Expect(errors.Is(err, store.ErrClaimConflict)).To(BeTrue())
					conflicts++
				}(i)
			}
			wg.Wait()

			Expect(winners).To(Equal(1))
			Expect(conflicts).To(Equal(7))

			events, err := s.Audit().ListByJob(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(events).To(HaveLen(2))
		})

		It("hands every pending job to one worker when many poll at once", func() {
			const jobs = 12
			for i := 0; i < jobs; i++ {
				pendingJob(s, 1+i%10, util.Now())
			}

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				claimed = map[uuid.UUID]string{}
			)
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func(worker string) {
					defer GinkgoRecover()
					defer wg.Done()
					for {
						c, err := sched.ClaimNext(context.TODO(), worker)
						if errors.Is(err, scheduler.ErrQueueEmpty) {
							return
						}
						Expect(err).To(BeNil())
						mu.Lock()
						_, seen := claimed[c.Job.ID]
						claimed[c.Job.ID] = worker
						mu.Unlock()
						Expect(seen).To(BeFalse())
					}
				}(fmt.Sprintf("worker-%d", w))
			}
			wg.Wait()

			Expect(claimed).To(HaveLen(jobs))
		})
	})
})
