package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	inferenceQueue = "inference_queue"

	// Job metrics
	jobsSubmittedTotal   = "jobs_submitted_total"
	jobTransitionsTotal  = "job_transitions_total"
	claimConflictsTotal  = "claim_conflicts_total"
	reclaimedJobsTotal   = "reclaimed_jobs_total"
	lateResultsTotal     = "late_results_discarded_total"
	humanReviewTotal     = "human_review_required_total"
	complianceFlagsTotal = "compliance_flags_total"

	// Runtime metrics
	runtimeDurationSeconds = "runtime_duration_seconds"
	runtimeSlotsInUse      = "runtime_slots_in_use"

	// Labels
	requestTypeLabel    = "request_type"
	specializationLabel = "specialization"
	eventTypeLabel      = "event_type"
	outcomeLabel        = "outcome"
	flagLabel           = "flag"
)

/**
* Metrics definition
**/
var jobsSubmittedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: inferenceQueue,
		Name:      jobsSubmittedTotal,
		Help:      "number of jobs admitted to the queue",
	},
	[]string{requestTypeLabel, specializationLabel},
)

var jobTransitionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: inferenceQueue,
		Name:      jobTransitionsTotal,
		Help:      "number of recorded job transitions by audit event type",
	},
	[]string{eventTypeLabel},
)

var claimConflictsTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: inferenceQueue,
		Name:      claimConflictsTotal,
		Help:      "number of claims lost to another worker",
	},
)

var reclaimedJobsTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: inferenceQueue,
		Name:      reclaimedJobsTotal,
		Help:      "number of stale claims returned to pending",
	},
)

var lateResultsTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: inferenceQueue,
		Name:      lateResultsTotal,
		Help:      "number of runtime results discarded because the lease was lost",
	},
)

var humanReviewTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: inferenceQueue,
		Name:      humanReviewTotal,
		Help:      "number of completed jobs routed to human review",
	},
	[]string{specializationLabel},
)

var complianceFlagsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: inferenceQueue,
		Name:      complianceFlagsTotal,
		Help:      "number of disqualifying compliance flags raised",
	},
	[]string{flagLabel},
)

var runtimeDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: inferenceQueue,
		Name:      runtimeDurationSeconds,
		Help:      "time spent in the inference runtime",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	},
	[]string{specializationLabel, outcomeLabel},
)

var runtimeSlotsInUseMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: inferenceQueue,
		Name:      runtimeSlotsInUse,
		Help:      "number of inference calls in flight",
	},
)

func IncreaseJobsSubmittedMetric(requestType, specialization string) {
	labels := prometheus.Labels{
		requestTypeLabel:    requestType,
		specializationLabel: specialization,
	}
	jobsSubmittedTotalMetric.With(labels).Inc()
}

func IncreaseJobTransitionMetric(eventType string) {
	labels := prometheus.Labels{
		eventTypeLabel: eventType,
	}
	jobTransitionsTotalMetric.With(labels).Inc()
}

func IncreaseClaimConflictMetric() {
	claimConflictsTotalMetric.Inc()
}

func IncreaseReclaimedJobsMetric() {
	reclaimedJobsTotalMetric.Inc()
}

func IncreaseLateResultsMetric() {
	lateResultsTotalMetric.Inc()
}

func IncreaseHumanReviewMetric(specialization string) {
	humanReviewTotalMetric.With(prometheus.Labels{specializationLabel: specialization}).Inc()
}

func IncreaseComplianceFlagMetric(flag string) {
	complianceFlagsTotalMetric.With(prometheus.Labels{flagLabel: flag}).Inc()
}

func ObserveRuntimeDuration(specialization, outcome string, seconds float64) {
	labels := prometheus.Labels{
		specializationLabel: specialization,
		outcomeLabel:        outcome,
	}
	runtimeDurationMetric.With(labels).Observe(seconds)
}

func UpdateRuntimeSlotsInUse(n int) {
	runtimeSlotsInUseMetric.Set(float64(n))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsSubmittedTotalMetric)
	prometheus.MustRegister(jobTransitionsTotalMetric)
	prometheus.MustRegister(claimConflictsTotalMetric)
	prometheus.MustRegister(reclaimedJobsTotalMetric)
	prometheus.MustRegister(lateResultsTotalMetric)
	prometheus.MustRegister(humanReviewTotalMetric)
	prometheus.MustRegister(complianceFlagsTotalMetric)
	prometheus.MustRegister(runtimeDurationMetric)
	prometheus.MustRegister(runtimeSlotsInUseMetric)
	prometheus.MustRegister(UniqueSubmittersPerWeek.counter)
}
