package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/scheduler"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pool runs independent poll-claim-execute loops. Workers share nothing but
// the ledger.
type Pool struct {
	scheduler    *scheduler.Scheduler
	pipeline     *Pipeline
	name         string
	workers      int
	pollInterval time.Duration
}

func NewPool(sched *scheduler.Scheduler, pipeline *Pipeline, name string, workers int, pollInterval time.Duration) *Pool {
	return &Pool{
		scheduler:    sched,
		pipeline:     pipeline,
		name:         name,
		workers:      max(workers, 1),
		pollInterval: pollInterval,
	}
}

// Run blocks until ctx is done and every worker finished its current job.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		id := fmt.Sprintf("%s-%d", p.name, i)
		g.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}

	zap.S().Named("worker_pool").Infow("workers started", "count", p.workers, "poll_interval", p.pollInterval)
	err := g.Wait()
	zap.S().Named("worker_pool").Info("workers stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, id string) {
	ticker := jitterbug.New(p.pollInterval, &jitterbug.Norm{Stdev: p.pollInterval / 5, Mean: 0})
	defer ticker.Stop()

	for {
		p.drain(ctx, id)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain processes jobs until none is eligible.
func (p *Pool) drain(ctx context.Context, id string) {
	for ctx.Err() == nil {
		claimed, err := p.scheduler.ClaimNext(ctx, id)
		if err != nil {
			if !errors.Is(err, scheduler.ErrQueueEmpty) && ctx.Err() == nil {
				zap.S().Named("worker_pool").Errorw("failed to claim job", "worker", id, "error", err)
			}
			return
		}

		if err := p.pipeline.Process(ctx, claimed); err != nil {
			zap.S().Named("worker_pool").Errorw("failed to process job", "worker", id, "job_id", claimed.Job.ID, "error", err)
		}
	}
}
