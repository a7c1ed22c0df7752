package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type uniqueSubmitters struct {
	counter         prometheus.Gauge
	submittersCache map[string]struct{}
	mu              sync.RWMutex
}

// Submitters
const submittersCountPerWeek = "submitters_count_per_week"

var totalUniqueSubmittersPerWeekMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: inferenceQueue,
		Name:      submittersCountPerWeek,
		Help:      "metrics to record the number of distinct users submitting jobs per week",
	},
)

var UniqueSubmittersPerWeek = &uniqueSubmitters{
	counter:         totalUniqueSubmittersPerWeekMetric,
	submittersCache: make(map[string]struct{}),
}

func (v *uniqueSubmitters) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.submittersCache = make(map[string]struct{})
	v.counter.Set(0)
}

func (v *uniqueSubmitters) Add(userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.submittersCache[userID]; exists {
		return
	}

	v.submittersCache[userID] = struct{}{}
	v.counter.Inc()
}

func (v *uniqueSubmitters) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.submittersCache)
}
