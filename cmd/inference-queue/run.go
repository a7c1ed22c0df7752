package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	apiserver "github.com/PaolaCartala/compliance-local-ai/internal/api_server"
	"github.com/PaolaCartala/compliance-local-ai/internal/compliance"
	"github.com/PaolaCartala/compliance-local-ai/internal/config"
	"github.com/PaolaCartala/compliance-local-ai/internal/events"
	"github.com/PaolaCartala/compliance-local-ai/internal/inference"
	"github.com/PaolaCartala/compliance-local-ai/internal/lookup"
	"github.com/PaolaCartala/compliance-local-ai/internal/retry"
	"github.com/PaolaCartala/compliance-local-ai/internal/scheduler"
	"github.com/PaolaCartala/compliance-local-ai/internal/service"
	"github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/internal/worker"
	"github.com/PaolaCartala/compliance-local-ai/pkg/log"
	"github.com/PaolaCartala/compliance-local-ai/pkg/metrics"
	"github.com/PaolaCartala/compliance-local-ai/pkg/migrations"
	"github.com/PaolaCartala/compliance-local-ai/pkg/opa"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	workersOnly bool
	apiOnly     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the job api, the workers and the reaper",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			zap.S().Fatalw("reading configuration", "error", err)
		}

		logger := log.InitLog(cfg.Service.LogLevel)
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting inference queue")
		defer zap.S().Info("Inference queue stopped")

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if cfg.Database.Type == "pgsql" {
			err = migrations.MigrateStore(db, cfg.Service.MigrationFolder)
		} else {
			err = s.InitialMigration(context.Background())
		}
		if err != nil {
			zap.S().Fatalw("running migrations", "error", err)
		}

		producer, err := newEventProducer(cfg)
		if err != nil {
			zap.S().Fatalw("creating event producer", "error", err)
		}
		defer func() {
			if err := producer.Close(); err != nil {
				zap.S().Errorw("failed to close event producer", "error", err)
			}
		}()

		metrics.RegisterQueueStatsCollector(s)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		done := make(chan struct{}, 4)
		run := func(name string, fn func(ctx context.Context) error) {
			go func() {
				defer func() { done <- struct{}{} }()
				defer cancel()
				if err := fn(ctx); err != nil {
					zap.S().Errorw("component stopped with error", "component", name, "error", err)
				}
			}()
		}

		components := 0
		if !workersOnly {
			jobs := service.NewJobService(s, producer)
			queue := service.NewQueueService(s)

			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}
			run("api_server", apiserver.New(cfg, listener, jobs, queue).Run)

			metricsListener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				zap.S().Fatalw("creating metrics listener", "error", err)
			}
			run("metrics_server", apiserver.NewMetricServer(cfg.Service.MetricsAddress, metricsListener).Run)
			components += 2
		}

		if !apiOnly {
			pipeline, err := newPipeline(cfg, s, producer)
			if err != nil {
				zap.S().Fatalw("creating worker pipeline", "error", err)
			}

			sched := scheduler.NewScheduler(s, producer)
			hostname, _ := os.Hostname()
			pool := worker.NewPool(sched, pipeline, fmt.Sprintf("%s-%d", hostname, os.Getpid()), cfg.Queue.Workers, cfg.Queue.PollInterval)
			run("worker_pool", pool.Run)

			reaper := scheduler.NewReaper(s, producer, cfg.Queue.LeaseDuration, cfg.Queue.MaxRetries)
			run("reaper", func(ctx context.Context) error {
				reaper.Run(ctx, cfg.Queue.ReaperInterval)
				return nil
			})
			components += 2
		}

		<-ctx.Done()
		for i := 0; i < components; i++ {
			<-done
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&workersOnly, "workers-only", false, "Run only the workers and the reaper")
	runCmd.Flags().BoolVar(&apiOnly, "api-only", false, "Run only the api and metrics servers")
	runCmd.MarkFlagsMutuallyExclusive("workers-only", "api-only")
}

func newEventProducer(cfg *config.Config) (*events.EventProducer, error) {
	var writer events.Writer = &events.StdoutWriter{}
	if cfg.Events.Writer == "nats" {
		nw, err := events.NewNatsWriter(cfg.Events.NatsURL)
		if err != nil {
			return nil, err
		}
		writer = nw
	}
	return events.NewEventProducer(writer, events.WithOutputTopic(cfg.Events.Subject)), nil
}

func newPipeline(cfg *config.Config, s store.Store, publisher events.Publisher) (*worker.Pipeline, error) {
	var (
		rules *opa.Validator
		err   error
	)
	if cfg.Service.PoliciesFolder != "" {
		rules, err = opa.NewValidatorFromDir(cfg.Service.PoliciesFolder)
	} else {
		rules, err = opa.NewDefaultValidator()
	}
	if err != nil {
		return nil, fmt.Errorf("loading compliance policies: %w", err)
	}

	rt, err := inference.NewOpenAIRuntime(cfg.Runtime.BaseURL, cfg.Runtime.Model, cfg.Runtime.Token)
	if err != nil {
		return nil, fmt.Errorf("creating runtime client: %w", err)
	}

	var providers []lookup.Provider
	if cfg.Lookup.CRMBaseURL != "" {
		providers = append(providers, lookup.NewCRMProvider(cfg.Lookup.CRMBaseURL, cfg.Lookup.Timeout, cfg.Lookup.CacheSize, cfg.Lookup.CacheTTL))
	}
	if cfg.Lookup.PortfolioBaseURL != "" {
		providers = append(providers, lookup.NewPortfolioProvider(cfg.Lookup.PortfolioBaseURL, cfg.Lookup.Timeout, cfg.Lookup.CacheSize, cfg.Lookup.CacheTTL))
	}

	return worker.NewPipeline(worker.PipelineConfig{
		Store:     s,
		Publisher: publisher,
		Adapter:   inference.NewAdapter(rt, cfg.Queue.ExecutionSlots, cfg.Queue.RuntimeTimeout, cfg.Queue.ContextWindow),
		Lookups:   lookup.NewService(providers...),
		Gate:      compliance.NewGate(rules, cfg.Queue.HumanReviewThreshold, cfg.Queue.ComplianceConfidenceThreshold),
		Policy: retry.Policy{
			MaxRetries:     cfg.Queue.MaxRetries,
			InitialBackoff: cfg.Queue.RetryInitialBackoff,
			MaxBackoff:     cfg.Queue.RetryMaxBackoff,
			PriorityDecay:  cfg.Queue.RetryPriorityDecay,
		},
		CancelCheckInterval: cfg.Queue.CancelCheckInterval,
	}), nil
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
