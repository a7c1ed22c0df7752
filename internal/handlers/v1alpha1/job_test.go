package v1alpha1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	api "github.com/PaolaCartala/compliance-local-ai/api/v1alpha1"
	"github.com/PaolaCartala/compliance-local-ai/internal/auth"
	"github.com/PaolaCartala/compliance-local-ai/internal/config"
	handlers "github.com/PaolaCartala/compliance-local-ai/internal/handlers/v1alpha1"
	"github.com/PaolaCartala/compliance-local-ai/internal/scheduler"
	"github.com/PaolaCartala/compliance-local-ai/internal/service"
	"github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("job handler", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		router http.Handler
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration(context.TODO())).To(BeNil())

		authenticator, err := auth.NewHeaderAuthenticator("X-User-ID")
		Expect(err).To(BeNil())

		h := handlers.NewServiceHandler(service.NewJobService(s, nil), service.NewQueueServiceWithTTL(s, time.Millisecond))
		r := chi.NewRouter()
		h.HealthRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(authenticator.Authenticator)
			h.Routes(r)
		})
		router = r
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM audit_events;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	do := func(method, path, user string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if user != "" {
			req.Header.Set("X-User-ID", user)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	decodeJob := func(rec *httptest.ResponseRecorder) api.Job {
		var job api.Job
		Expect(json.Unmarshal(rec.Body.Bytes(), &job)).To(Succeed())
		return job
	}

	create := func(user string, body api.JobCreate) api.Job {
		rec := do(http.MethodPost, "/api/v1/jobs", user, body)
		Expect(rec.Code).To(Equal(http.StatusCreated))
		return decodeJob(rec)
	}

	chat := api.JobCreate{RequestType: "chat", Specialization: "general", Text: "What is my balance?"}

	Context("create", func() {
		It("accepts a job and returns it pending", func() {
			job := create("alice", chat)
			Expect(job.Id).NotTo(Equal(uuid.Nil))
			Expect(job.Status).To(Equal(api.JobStatusPending))
			Expect(job.Priority).To(Equal(model.DefaultPriority))
			Expect(job.Result).To(BeNil())
		})

		It("returns the existing job for a repeated dedup token", func() {
			body := chat
			token := "form-42"
			body.DedupToken = &token

			first := create("alice", body)
			rec := do(http.MethodPost, "/api/v1/jobs", "alice", body)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeJob(rec).Id).To(Equal(first.Id))
		})

		DescribeTable("rejects invalid submissions",
			func(body any) {
				rec := do(http.MethodPost, "/api/v1/jobs", "alice", body)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))

				var count int64
				Expect(gormdb.Model(&model.Job{}).Count(&count).Error).To(BeNil())
				Expect(count).To(BeZero())
			},
			Entry("unknown specialization", api.JobCreate{RequestType: "chat", Specialization: "astrology", Text: "hi"}),
			Entry("unknown request type", api.JobCreate{RequestType: "poem", Specialization: "general", Text: "hi"}),
			Entry("no text and no attachments", api.JobCreate{RequestType: "chat", Specialization: "general"}),
			Entry("priority out of range", api.JobCreate{RequestType: "chat", Specialization: "general", Text: "hi", Priority: ptr(11)}),
			Entry("malformed body", "not a job"),
		)

		It("requires a user", func() {
			rec := do(http.MethodPost, "/api/v1/jobs", "", chat)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Context("get", func() {
		It("returns the owner's job", func() {
			job := create("alice", chat)

			rec := do(http.MethodGet, "/api/v1/jobs/"+job.Id.String(), "alice", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeJob(rec).Id).To(Equal(job.Id))
		})

		It("forbids other users", func() {
			job := create("alice", chat)

			rec := do(http.MethodGet, "/api/v1/jobs/"+job.Id.String(), "bob", nil)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		It("returns 404 for an unknown job", func() {
			rec := do(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), "alice", nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 400 for a malformed id", func() {
			rec := do(http.MethodGet, "/api/v1/jobs/not-a-uuid", "alice", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("list", func() {
		It("pages through the caller's jobs", func() {
			for i := 0; i < 3; i++ {
				create("alice", chat)
			}
			create("bob", chat)

			rec := do(http.MethodGet, "/api/v1/jobs?limit=2&offset=0", "alice", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var list api.JobList
			Expect(json.Unmarshal(rec.Body.Bytes(), &list)).To(Succeed())
			Expect(list.Total).To(BeEquivalentTo(3))
			Expect(list.Items).To(HaveLen(2))
			Expect(list.Limit).To(Equal(2))
		})

		It("rejects a limit out of range", func() {
			rec := do(http.MethodGet, "/api/v1/jobs?limit=0", "alice", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("cancel", func() {
		It("fails a pending job and refuses a second cancel", func() {
			job := create("alice", chat)

			rec := do(http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/cancel", job.Id), "alice", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			cancelled := decodeJob(rec)
			Expect(cancelled.Status).To(Equal(api.JobStatusFailed))
			Expect(*cancelled.ErrorMessage).To(Equal(service.CancelledReason))

			rec = do(http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/cancel", job.Id), "alice", nil)
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("flags a processing job", func() {
			job := create("alice", chat)
			_, err := scheduler.NewScheduler(s, nil).ClaimJob(context.TODO(), job.Id, "worker-1")
			Expect(err).To(BeNil())

			rec := do(http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/cancel", job.Id), "alice", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			flagged := decodeJob(rec)
			Expect(flagged.Status).To(Equal(api.JobStatusProcessing))
			Expect(flagged.CancelRequested).To(BeTrue())
		})
	})

	Context("audit", func() {
		It("returns a verified trail", func() {
			job := create("alice", chat)

			rec := do(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/audit", job.Id), "alice", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var trail api.AuditTrail
			Expect(json.Unmarshal(rec.Body.Bytes(), &trail)).To(Succeed())
			Expect(trail.Verified).To(BeTrue())
			Expect(trail.Events).To(HaveLen(1))
			Expect(trail.Events[0].EventType).To(Equal(string(model.AuditEventCreated)))
			Expect(trail.Events[0].Actor).To(Equal("alice"))
			Expect(trail.Events[0].Delta).To(HaveKeyWithValue("status", "pending"))
		})

		It("forbids other users", func() {
			job := create("alice", chat)

			rec := do(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/audit", job.Id), "bob", nil)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})
	})

	Context("queue", func() {
		It("reports stats and health", func() {
			create("alice", chat)
			create("alice", chat)

			rec := do(http.MethodGet, "/api/v1/queue/stats", "alice", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var stats api.QueueStats
			Expect(json.Unmarshal(rec.Body.Bytes(), &stats)).To(Succeed())
			Expect(stats.Pending).To(BeEquivalentTo(2))
			Expect(stats.Total).To(BeEquivalentTo(2))

			time.Sleep(5 * time.Millisecond)
			rec = do(http.MethodGet, "/health", "", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(strings.Contains(rec.Body.String(), string(model.QueueHealthActive))).To(BeTrue())
		})
	})
})

func ptr[T any](v T) *T {
	return &v
}
