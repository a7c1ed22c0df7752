package retry

import (
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/inference"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	backoff "github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 10 * time.Second
	backoffMultiplier     = 2
)

// Policy decides what happens to a job after a failed attempt.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// PriorityDecay is subtracted from the priority on every requeue, never
	// going below the minimum priority.
	PriorityDecay int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

// Decision is the ledger state a failed attempt leads to.
type Decision struct {
	Next   model.Job
	Event  model.AuditEventType
	Reason string
}

func (d Decision) Requeued() bool {
	return d.Next.Status == model.JobStatusPending
}

// Decide maps a failed outcome of the attempt on job to the next state. It
// is a pure function of its inputs.
func (p Policy) Decide(job model.Job, outcome inference.Outcome, now time.Time) Decision {
	next := job
	next.ErrorCount++
	next.LeaseToken = nil
	next.ClaimedBy = nil

	if outcome.Kind == inference.OutcomeRetryable && job.RetryCount < p.MaxRetries {
		next.RetryCount++
		next.Status = model.JobStatusPending
		next.ClaimedAt = nil
		next.RunAfter = util.Truncate(now.Add(p.Backoff(next.RetryCount)))
		next.Priority = max(job.Priority-p.PriorityDecay, model.MinPriority)
		return Decision{Next: next, Event: model.AuditEventRetried, Reason: outcome.Reason}
	}

	reason := outcome.Reason
	if outcome.Kind == inference.OutcomeRetryable {
		reason = "retries exhausted: " + reason
	}
	next.Status = model.JobStatusFailed
	next.CompletedAt = &now
	next.ErrorMessage = &reason
	return Decision{Next: next, Event: model.AuditEventFailed, Reason: reason}
}

// Backoff returns the delay before the given retry, 1-based: InitialBackoff
// doubled on every further retry and capped at MaxBackoff.
func (p Policy) Backoff(retry int) time.Duration {
	if retry < 1 || p.InitialBackoff <= 0 {
		return 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.Multiplier = backoffMultiplier
	b.MaxInterval = p.MaxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < retry; i++ {
		d = b.NextBackOff()
	}
	return d
}
