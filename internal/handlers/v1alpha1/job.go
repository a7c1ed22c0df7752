package v1alpha1

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	api "github.com/PaolaCartala/compliance-local-ai/api/v1alpha1"
	"github.com/PaolaCartala/compliance-local-ai/internal/auth"
	"github.com/PaolaCartala/compliance-local-ai/internal/handlers/v1alpha1/mappers"
	"github.com/PaolaCartala/compliance-local-ai/internal/service"
	svcmappers "github.com/PaolaCartala/compliance-local-ai/internal/service/mappers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (h *ServiceHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.MustHaveUser(ctx)

	var body api.JobCreate
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		renderError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	job, created, err := h.jobSrv.Submit(ctx, svcmappers.JobSubmitFormFromApi(user, &body))
	if err != nil {
		var validationErr *service.ErrValidation
		if errors.As(err, &validationErr) {
			renderError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		zap.S().Named("job_handler").Errorw("failed to submit job", "user", user.Username, "error", err)
		renderError(w, r, http.StatusInternalServerError, fmt.Sprintf("failed to submit job: %v", err))
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	renderJSON(w, r, status, mappers.JobToApi(*job))
}

func (h *ServiceHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobSrv.GetJob(r.Context(), id, auth.MustHaveUser(r.Context()))
	if err != nil {
		h.renderJobError(w, r, "get job", err)
		return
	}
	renderJSON(w, r, http.StatusOK, mappers.JobToApi(*job))
}

func (h *ServiceHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", service.DefaultPageSize)
	if err != nil || limit < 1 || limit > service.MaxPageSize {
		renderError(w, r, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", service.MaxPageSize))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		renderError(w, r, http.StatusBadRequest, "offset must not be negative")
		return
	}

	jobs, total, err := h.jobSrv.ListJobs(r.Context(), auth.MustHaveUser(r.Context()), limit, offset)
	if err != nil {
		h.renderJobError(w, r, "list jobs", err)
		return
	}
	renderJSON(w, r, http.StatusOK, mappers.JobListToApi(jobs, total, limit, offset))
}

func (h *ServiceHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobSrv.CancelJob(r.Context(), id, auth.MustHaveUser(r.Context()))
	if err != nil {
		h.renderJobError(w, r, "cancel job", err)
		return
	}
	renderJSON(w, r, http.StatusOK, mappers.JobToApi(*job))
}

func (h *ServiceHandler) GetJobAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	events, verified, err := h.jobSrv.AuditTrail(r.Context(), id, auth.MustHaveUser(r.Context()))
	if err != nil {
		h.renderJobError(w, r, "get audit trail", err)
		return
	}
	renderJSON(w, r, http.StatusOK, mappers.AuditTrailToApi(id, events, verified))
}

func (h *ServiceHandler) renderJobError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch err.(type) {
	case *service.ErrResourceNotFound:
		renderError(w, r, http.StatusNotFound, err.Error())
	case *service.ErrJobAccessForbidden:
		renderError(w, r, http.StatusForbidden, err.Error())
	case *service.ErrJobAlreadyTerminal:
		renderError(w, r, http.StatusConflict, err.Error())
	default:
		zap.S().Named("job_handler").Errorw("request failed", "operation", op, "error", err)
		renderError(w, r, http.StatusInternalServerError, fmt.Sprintf("failed to %s: %v", op, err))
	}
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
