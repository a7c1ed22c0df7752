package v1alpha1

import (
	"fmt"
	"net/http"

	"github.com/PaolaCartala/compliance-local-ai/internal/handlers/v1alpha1/mappers"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"go.uber.org/zap"
)

func (h *ServiceHandler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queueSrv.Stats(r.Context())
	if err != nil {
		zap.S().Named("queue_handler").Errorw("failed to compute queue stats", "error", err)
		renderError(w, r, http.StatusInternalServerError, fmt.Sprintf("failed to compute queue stats: %v", err))
		return
	}
	renderJSON(w, r, http.StatusOK, mappers.QueueStatsToApi(stats))
}

// Health reports the queue grade. A critical backlog answers 503 so load
// balancers stop routing submissions here.
func (h *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queueSrv.Stats(r.Context())
	if err != nil {
		zap.S().Named("queue_handler").Errorw("health check failed", "error", err)
		renderStatus(w, r, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}

	health := mappers.QueueHealthToApi(stats)
	status := http.StatusOK
	if health.Status == string(model.QueueHealthCritical) {
		status = http.StatusServiceUnavailable
	}
	renderJSON(w, r, status, health)
}
