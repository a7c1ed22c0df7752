package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/auth"
	"github.com/PaolaCartala/compliance-local-ai/internal/config"
	handlers "github.com/PaolaCartala/compliance-local-ai/internal/handlers/v1alpha1"
	"github.com/PaolaCartala/compliance-local-ai/internal/service"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	"github.com/PaolaCartala/compliance-local-ai/pkg/metrics"
	"github.com/PaolaCartala/compliance-local-ai/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg      *config.Config
	listener net.Listener
	jobs     *service.JobService
	queue    *service.QueueService
}

// New returns a new instance of the job API server.
func New(
	cfg *config.Config,
	listener net.Listener,
	jobs *service.JobService,
	queue *service.QueueService,
) *Server {
	return &Server{
		cfg:      cfg,
		listener: listener,
		jobs:     jobs,
		queue:    queue,
	}
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	authenticator, err := auth.NewAuthenticator(s.cfg.Service.Auth)
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()

	h := handlers.NewServiceHandler(s.jobs, s.queue)

	router := chi.NewRouter()
	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.Service.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
		util.GatewayApiRewrite,
	)

	h.HealthRoutes(router)
	router.Group(func(r chi.Router) {
		r.Use(authenticator.Authenticator)
		h.Routes(r)
	})

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
