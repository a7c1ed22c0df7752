package v1alpha1

import (
	"net/http"

	api "github.com/PaolaCartala/compliance-local-ai/api/v1alpha1"
	"github.com/PaolaCartala/compliance-local-ai/internal/service"
	"github.com/PaolaCartala/compliance-local-ai/pkg/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type ServiceHandler struct {
	jobSrv   *service.JobService
	queueSrv *service.QueueService
}

func NewServiceHandler(jobService *service.JobService, queueService *service.QueueService) *ServiceHandler {
	return &ServiceHandler{
		jobSrv:   jobService,
		queueSrv: queueService,
	}
}

// Routes mounts the job API. Every route expects an authenticated user in the
// request context.
func (h *ServiceHandler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", h.CreateJob)
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Post("/jobs/{id}/cancel", h.CancelJob)
		r.Get("/jobs/{id}/audit", h.GetJobAudit)
		r.Get("/queue/stats", h.GetQueueStats)
	})
}

// HealthRoutes mounts the unauthenticated probes.
func (h *ServiceHandler) HealthRoutes(r chi.Router) {
	r.Get("/health", h.Health)
}

type errResponse struct {
	HTTPStatusCode int    `json:"-"`
	Message        string `json:"message"`
	RequestId      string `json:"requestId,omitempty"`
}

func (e *errResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	_ = render.Render(w, r, &errResponse{
		HTTPStatusCode: status,
		Message:        message,
		RequestId:      middleware.RequestIDFromRequest(r),
	})
}

func renderJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func renderStatus(w http.ResponseWriter, r *http.Request, status int, message string) {
	renderJSON(w, r, status, api.Status{Code: status, Message: message})
}
