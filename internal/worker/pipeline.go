package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/agents"
	"github.com/PaolaCartala/compliance-local-ai/internal/audit"
	"github.com/PaolaCartala/compliance-local-ai/internal/compliance"
	"github.com/PaolaCartala/compliance-local-ai/internal/events"
	"github.com/PaolaCartala/compliance-local-ai/internal/inference"
	"github.com/PaolaCartala/compliance-local-ai/internal/lookup"
	"github.com/PaolaCartala/compliance-local-ai/internal/retry"
	"github.com/PaolaCartala/compliance-local-ai/internal/scheduler"
	"github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	"github.com/PaolaCartala/compliance-local-ai/pkg/metrics"
	"go.uber.org/zap"
)

const (
	CancelledReason            = "cancelled"
	defaultCancelCheckInterval = 2 * time.Second
)

// Pipeline carries one claimed job from execution to a terminal or requeued
// state. Every ledger write is conditional on the lease taken at claim time;
// a write that lost its lease is discarded.
type Pipeline struct {
	store               store.Store
	audit               *audit.Logger
	publisher           events.Publisher
	adapter             *inference.Adapter
	lookups             *lookup.Service
	gate                *compliance.Gate
	policy              retry.Policy
	cancelCheckInterval time.Duration
}

type PipelineConfig struct {
	Store               store.Store
	Publisher           events.Publisher
	Adapter             *inference.Adapter
	Lookups             *lookup.Service
	Gate                *compliance.Gate
	Policy              retry.Policy
	CancelCheckInterval time.Duration
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		store:               cfg.Store,
		audit:               audit.NewLogger(cfg.Store),
		publisher:           cfg.Publisher,
		adapter:             cfg.Adapter,
		lookups:             cfg.Lookups,
		gate:                cfg.Gate,
		policy:              cfg.Policy,
		cancelCheckInterval: cfg.CancelCheckInterval,
	}
	if p.publisher == nil {
		p.publisher = events.NopPublisher{}
	}
	if p.lookups == nil {
		p.lookups = lookup.NewService()
	}
	if p.cancelCheckInterval <= 0 {
		p.cancelCheckInterval = defaultCancelCheckInterval
	}
	return p
}

// published is an audit event to announce once its transaction committed.
type published struct {
	eventType model.AuditEventType
	job       model.Job
	reason    string
}

func (p *Pipeline) Process(ctx context.Context, claimed *scheduler.Claimed) error {
	job := claimed.Job
	logger := zap.S().Named("pipeline").With("job_id", job.ID, "worker", claimed.Job.ClaimedBy)

	outcome, eval := p.execute(ctx, job)

	// the attempt is over; its outcome is recorded even when the worker is
	// shutting down
	ctx = context.WithoutCancel(ctx)

	var (
		toPublish []published
		err       error
	)
	if outcome.Kind == inference.OutcomeSuccess {
		toPublish, err = p.complete(ctx, claimed, outcome.Response, eval)
	} else {
		toPublish, err = p.fail(ctx, claimed, outcome)
	}

	switch {
	case errors.Is(err, store.ErrLeaseLost):
		return p.leaseLost(ctx, claimed, outcome)
	case errors.Is(err, audit.ErrAuditPersistence):
		logger.Errorw("audit trail could not be written, failing attempt", "error", err)
		if _, ferr := p.fail(ctx, claimed, inference.Fatal("audit persistence failure: %v", err)); ferr != nil {
			// the job stays processing; the reaper reclaims it after the lease
			logger.Errorw("failed to fail job after audit failure", "error", ferr)
		}
		return err
	case err != nil:
		return err
	}

	for _, e := range toPublish {
		metrics.IncreaseJobTransitionMetric(string(e.eventType))
		p.publisher.Publish(ctx, e.eventType, e.job, e.reason)
	}
	logger.Infow("job attempt finished", "outcome", outcome.String(), "status", toPublish[len(toPublish)-1].job.Status)
	return nil
}

// execute routes the job, gathers lookups, runs it and evaluates the result.
// A cancellation requested while it runs aborts the runtime call.
func (p *Pipeline) execute(ctx context.Context, job model.Job) (inference.Outcome, compliance.Evaluation) {
	agent, err := agents.Route(job.Specialization)
	if err != nil {
		zap.S().Named("pipeline").Errorw("job has no agent", "job_id", job.ID, "error", err)
		return inference.Fatal("%v", err), compliance.Evaluation{}
	}

	execCtx, cancel := context.WithCancel(ctx)
	var cancelled atomic.Bool
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		p.watchCancel(execCtx, job, func() {
			cancelled.Store(true)
			cancel()
		})
	}()
	// the watcher must not touch the store once the attempt is over
	defer func() {
		cancel()
		<-watching
	}()

	supplements, err := p.lookups.Supplements(execCtx, agent, job.ClientID)
	if err != nil {
		return inference.Retryable("client data lookup failed: %v", err), compliance.Evaluation{}
	}

	outcome := p.adapter.Execute(execCtx, agent, job.Input.Data, supplements)
	if cancelled.Load() {
		return inference.Fatal(CancelledReason), compliance.Evaluation{}
	}
	if outcome.Kind != inference.OutcomeSuccess {
		return outcome, compliance.Evaluation{}
	}

	eval, err := p.gate.Evaluate(ctx, job, outcome.Response)
	if err != nil {
		return inference.Retryable("%v", err), compliance.Evaluation{}
	}
	return outcome, eval
}

func (p *Pipeline) watchCancel(ctx context.Context, job model.Job, onCancel func()) {
	ticker := time.NewTicker(p.cancelCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current, err := p.store.Job().Get(ctx, job.ID)
		if err != nil {
			if ctx.Err() == nil {
				zap.S().Named("pipeline").Warnw("failed to check for cancellation", "job_id", job.ID, "error", err)
			}
			continue
		}
		if current.CancelRequested {
			zap.S().Named("pipeline").Infow("cancellation requested, aborting execution", "job_id", job.ID)
			onCancel()
			return
		}
	}
}

func (p *Pipeline) complete(ctx context.Context, claimed *scheduler.Claimed, resp *inference.Response, eval compliance.Evaluation) ([]published, error) {
	job := claimed.Job
	now := util.Now()

	evaluated := job
	evaluated.ConfidenceScore = util.ToPtr(eval.ConfidenceScore)
	evaluated.SecCompliant = eval.SecCompliant
	evaluated.HumanReviewRequired = eval.HumanReviewRequired

	final := evaluated
	final.Status = model.JobStatusCompleted
	final.CompletedAt = &now
	final.LeaseToken = nil
	final.ClaimedBy = nil
	final.Result = model.MakeJSONField(model.JobResult{
		Text:             resp.Text,
		ModelID:          resp.ModelID,
		InputTokens:      resp.InputTokens,
		OutputTokens:     resp.OutputTokens,
		ProcessingTimeMs: resp.Latency.Milliseconds(),
		Flags:            eval.FlagIDs(),
	})

	var result *model.Job
	err := store.WithTransaction(ctx, p.store, func(ctx context.Context) error {
		var err error
		if result, err = p.store.Job().Transition(ctx, claimed.Lease, final, true); err != nil {
			return err
		}
		if _, err := p.audit.Record(ctx, audit.Entry{
			Type:   model.AuditEventComplianceEvaluated,
			Actor:  actor(job),
			Reason: complianceReason(eval),
			Before: &job,
			After:  evaluated,
		}); err != nil {
			return err
		}
		_, err = p.audit.Record(ctx, audit.Entry{
			Type:   model.AuditEventCompleted,
			Actor:  actor(job),
			Before: &evaluated,
			After:  *result,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return []published{
		{eventType: model.AuditEventComplianceEvaluated, job: evaluated},
		{eventType: model.AuditEventCompleted, job: *result},
	}, nil
}

func (p *Pipeline) fail(ctx context.Context, claimed *scheduler.Claimed, outcome inference.Outcome) ([]published, error) {
	job := claimed.Job
	decision := p.policy.Decide(job, outcome, util.Now())

	var result *model.Job
	err := store.WithTransaction(ctx, p.store, func(ctx context.Context) error {
		var err error
		if result, err = p.store.Job().Transition(ctx, claimed.Lease, decision.Next, true); err != nil {
			return err
		}
		_, err = p.audit.Record(ctx, audit.Entry{
			Type:   decision.Event,
			Actor:  actor(job),
			Reason: decision.Reason,
			Before: &job,
			After:  *result,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return []published{{eventType: decision.Event, job: *result, reason: decision.Reason}}, nil
}

// leaseLost handles a final write that matched no row. If the job is still
// ours and only flagged for cancellation it is failed as cancelled; otherwise
// it was reclaimed or finalized elsewhere and the result is dropped.
func (p *Pipeline) leaseLost(ctx context.Context, claimed *scheduler.Claimed, outcome inference.Outcome) error {
	current, err := p.store.Job().Get(ctx, claimed.Lease.JobID)
	if err != nil {
		return fmt.Errorf("reading job after lost lease: %w", err)
	}

	if current.Status == model.JobStatusProcessing && current.CancelRequested &&
		current.LeaseToken != nil && *current.LeaseToken == claimed.Lease.Token {
		return p.cancel(ctx, claimed, *current)
	}

	metrics.IncreaseLateResultsMetric()
	zap.S().Named("pipeline").Warnw("discarding result of an attempt that no longer holds the job",
		"job_id", current.ID, "outcome", outcome.String(), "status", current.Status, "retry_count", current.RetryCount)
	return nil
}

func (p *Pipeline) cancel(ctx context.Context, claimed *scheduler.Claimed, current model.Job) error {
	now := util.Now()
	next := current
	next.Status = model.JobStatusFailed
	next.CompletedAt = &now
	next.ErrorMessage = util.ToPtr(CancelledReason)
	next.LeaseToken = nil
	next.ClaimedBy = nil

	var result *model.Job
	err := store.WithTransaction(ctx, p.store, func(ctx context.Context) error {
		var err error
		if result, err = p.store.Job().Transition(ctx, claimed.Lease, next, false); err != nil {
			return err
		}
		_, err = p.audit.Record(ctx, audit.Entry{
			Type:   model.AuditEventFailed,
			Actor:  actor(current),
			Reason: CancelledReason,
			Before: &current,
			After:  *result,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrLeaseLost) {
			metrics.IncreaseLateResultsMetric()
			return nil
		}
		return err
	}

	metrics.IncreaseJobTransitionMetric(string(model.AuditEventFailed))
	p.publisher.Publish(ctx, model.AuditEventFailed, *result, CancelledReason)
	zap.S().Named("pipeline").Infow("job cancelled during execution", "job_id", result.ID)
	return nil
}

func actor(job model.Job) string {
	if job.ClaimedBy != nil {
		return *job.ClaimedBy
	}
	return "worker"
}

func complianceReason(eval compliance.Evaluation) string {
	if len(eval.Flags) == 0 {
		return fmt.Sprintf("confidence %.2f", eval.ConfidenceScore)
	}
	return fmt.Sprintf("confidence %.2f, flags %v", eval.ConfidenceScore, eval.FlagIDs())
}
