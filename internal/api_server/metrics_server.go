package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const submittersWindow = 7 * 24 * time.Hour

// MetricServer serves /metrics and a liveness probe on their own listener. It
// also closes the weekly window of the distinct submitters gauge.
type MetricServer struct {
	bindAddress      string
	httpServer       *http.Server
	listener         net.Listener
	submittersWindow time.Duration
}

type MetricServerOption func(*MetricServer)

func WithSubmittersWindow(d time.Duration) MetricServerOption {
	return func(m *MetricServer) {
		m.submittersWindow = d
	}
}

func NewMetricServer(bindAddress string, listener net.Listener, opts ...MetricServerOption) *MetricServer {
	router := chi.NewRouter()
	router.Handle("/metrics", metrics.NewPrometheusMetricsHandler().Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	m := &MetricServer{
		bindAddress:      bindAddress,
		listener:         listener,
		submittersWindow: submittersWindow,
		httpServer: &http.Server{
			Addr:    bindAddress,
			Handler: router,
		},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MetricServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		m.httpServer.SetKeepAlivesEnabled(false)
		_ = m.httpServer.Shutdown(ctxTimeout)
		zap.S().Named("metrics_server").Info("metrics server terminated")
	}()

	go m.rollSubmittersWindow(ctx)

	zap.S().Named("metrics_server").Infof("serving metrics: %s", m.listener.Addr())
	if err := m.httpServer.Serve(m.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *MetricServer) rollSubmittersWindow(ctx context.Context) {
	ticker := time.NewTicker(m.submittersWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			zap.S().Named("metrics_server").Infow("closing distinct submitters window", "submitters", metrics.UniqueSubmittersPerWeek.Count())
			metrics.UniqueSubmittersPerWeek.Reset()
		}
	}
}
