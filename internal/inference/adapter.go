package inference

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/agents"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Adapter runs jobs against a Runtime. At most slots calls are in flight at
// any time; callers beyond that wait for a slot.
type Adapter struct {
	runtime       Runtime
	slots         *semaphore.Weighted
	inUse         atomic.Int64
	timeout       time.Duration
	contextWindow int
}

func NewAdapter(rt Runtime, slots int64, timeout time.Duration, contextWindow int) *Adapter {
	if slots < 1 {
		slots = 1
	}
	return &Adapter{
		runtime:       rt,
		slots:         semaphore.NewWeighted(slots),
		timeout:       timeout,
		contextWindow: contextWindow,
	}
}

// Execute runs one attempt of a job. It never touches the ledger.
func (a *Adapter) Execute(ctx context.Context, agent agents.Config, input model.JobInput, supplements []string) Outcome {
	if err := a.slots.Acquire(ctx, 1); err != nil {
		return Retryable("no execution slot: %v", err)
	}
	metrics.UpdateRuntimeSlotsInUse(int(a.inUse.Add(1)))
	defer func() {
		metrics.UpdateRuntimeSlotsInUse(int(a.inUse.Add(-1)))
		a.slots.Release(1)
	}()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	req := Request{
		Instructions: agent.Instructions,
		Input:        input.Text,
		Context:      BoundContext(input.Context, a.contextWindow),
		Supplements:  supplements,
		Attachments:  input.Attachments,
		Temperature:  agent.Temperature,
		MaxTokens:    agent.MaxTokens,
	}

	start := time.Now()
	resp, err := a.runtime.Generate(ctx, req)
	elapsed := time.Since(start)

	outcome := a.classify(ctx, resp, err)
	if outcome.Kind == OutcomeSuccess && outcome.Response.Latency == 0 {
		outcome.Response.Latency = elapsed
	}

	metrics.ObserveRuntimeDuration(agent.Name, outcome.Kind.String(), elapsed.Seconds())
	zap.S().Named("inference").Debugw("runtime call finished", "agent", agent.Name, "outcome", outcome.String(), "elapsed", elapsed)

	return outcome
}

func (a *Adapter) classify(ctx context.Context, resp *Response, err error) Outcome {
	if err == nil {
		if resp == nil || resp.Text == "" {
			return Fatal("%v: empty response", ErrMalformedOutput)
		}
		return Success(resp)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Retryable("runtime timed out after %s", a.timeout)
	}
	if errors.Is(err, context.Canceled) {
		return Retryable("runtime call cancelled")
	}

	var rtErr *RuntimeError
	if errors.As(err, &rtErr) {
		if rtErr.Retryable {
			return Retryable("%v", rtErr.Err)
		}
		return Fatal("%v", rtErr.Err)
	}

	if errors.Is(err, ErrMalformedOutput) {
		return Fatal("%v", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable("runtime unreachable: %v", err)
	}

	// unclassified failures are treated as connectivity problems
	return Retryable("%v", err)
}

// BoundContext keeps the last n messages of a conversation. n <= 0 keeps none.
func BoundContext(messages []model.ContextMessage, n int) []model.ContextMessage {
	if n <= 0 || len(messages) == 0 {
		return nil
	}
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
