package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/meshbridge/internal/api/http"
	"github.com/GriffinCanCode/meshbridge/internal/api/middleware"
	"github.com/GriffinCanCode/meshbridge/internal/api/ws"
	"github.com/GriffinCanCode/meshbridge/internal/bridge/interceptor"
	"github.com/GriffinCanCode/meshbridge/internal/bundle"
	"github.com/GriffinCanCode/meshbridge/internal/domain/persistence"
	"github.com/GriffinCanCode/meshbridge/internal/domain/supervisor"
	"github.com/GriffinCanCode/meshbridge/internal/embedded"
	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/store"
	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/meshbridge/internal/upstream"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	config     *config.Config
	logger     *logging.Logger
	router     *gin.Engine
	httpServer *http.Server
	metrics    *monitoring.Metrics
	tracer     *tracing.Tracer
	store      *store.Store
	manifest   *bundle.Manifest
	supervisor *supervisor.Supervisor
}

// NewServer loads the bundle, opens the durable store and wires the
// bridge. The embedded server is not started until Activate.
func NewServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	manifest, err := bundle.LoadManifest(cfg.Bridge.Manifest)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing meshbridge",
		zap.String("addr", cfg.Addr()),
		zap.String("server", manifest.Name),
		zap.String("version", manifest.Version),
		zap.String("prefix", cfg.Bridge.Prefix),
	)

	client := resty.New().SetTimeout(cfg.Upstream.Timeout)
	prog, err := embedded.Load(ctx, manifest.Module, client)
	if err != nil {
		return nil, fmt.Errorf("load server program: %w", err)
	}
	logger.Info("Server program loaded", zap.String("module", prog.Name()), zap.Int("bytes", prog.Size()))

	db, err := store.Open(store.Config{
		Path:          cfg.Store.Path,
		PoolSize:      cfg.Store.PoolSize,
		CompressAbove: cfg.Store.CompressAbove,
	}, logger.Component("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("meshbridge", logger.Component("trace"))

	persist := persistence.NewManager(db, persistence.Config{
		Store:         manifest.Store,
		Version:       manifest.ImageVersion(),
		FlushInterval: cfg.Store.FlushInterval,
		InstanceID:    uuid.NewString(),
	}, logger.Component("persistence")).WithObserver(metrics)

	processLogger := logger.Component("embedded")
	start := func(_ context.Context, vol *persistence.Volume) (supervisor.Process, error) {
		p, err := embedded.Start(prog, embedded.Config{Env: manifest.Env, FS: vol, Logger: processLogger})
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	sup := supervisor.New(supervisor.Config{
		ReadyAttempts:          cfg.Supervisor.ReadyAttempts,
		ReadyInterval:          cfg.Supervisor.ReadyInterval,
		MaxConsecutiveFailures: cfg.Supervisor.MaxBootFailures,
		RestartCooldown:        cfg.Supervisor.RestartCooldown,
	}, persist, start, logger.Component("supervisor")).WithObserver(metrics)

	forwarder, err := upstream.New(upstream.Config{
		Origin:            cfg.Upstream.Origin,
		Timeout:           cfg.Upstream.Timeout,
		MaxRetries:        cfg.Upstream.MaxRetries,
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
	}, logger.Component("upstream"))
	if err != nil {
		db.Close()
		tracer.Close()
		return nil, err
	}

	bridge := interceptor.New(interceptor.Config{
		Prefix:      cfg.Bridge.Prefix,
		CallTimeout: cfg.Bridge.CallTimeout,
	}, interceptor.SupervisorGate(sup), forwarder, logger.Component("interceptor")).WithObserver(metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(cfg.CORS.AllowOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(sup, apihttp.Info{
		Name:    manifest.Name,
		Version: manifest.Version,
		Prefix:  cfg.Bridge.Prefix,
	})
	wsHandler := ws.NewHandler(sup, logger.Component("ws")).WithObserver(metrics)

	admin := router.Group("/_bridge")
	admin.GET("", handlers.Root)
	admin.GET("/health", handlers.Health)
	admin.GET("/metrics", gin.WrapH(metrics.Handler()))
	admin.GET("/events", wsHandler.HandleConnection)

	// Everything else is classified by the interceptor.
	router.NoRoute(bridge.Handler())

	logger.Info("Server initialized successfully")

	return &Server{
		config:     cfg,
		logger:     logger,
		router:     router,
		metrics:    metrics,
		tracer:     tracer,
		store:      db,
		manifest:   manifest,
		supervisor: sup,
	}, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Supervisor returns the embedded server's supervisor.
func (s *Server) Supervisor() *supervisor.Supervisor { return s.supervisor }

// Activate claims the durable store for this instance and boots the
// embedded server, waiting for it to become ready.
func (s *Server) Activate(ctx context.Context) error {
	if err := s.supervisor.Install(ctx); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	return s.supervisor.Activate(ctx)
}

// Run serves HTTP until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.config.Addr(),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.Close(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Close(shutdownCtx)
}

// Close stops accepting requests, stops the embedded server with a final
// sync of its volume, and closes the store.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.supervisor.Close(ctx); err != nil {
		s.logger.Error("Supervisor shutdown failed", zap.Error(err))
		errs = append(errs, err)
	}
	s.tracer.Close()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.logger.Sync()
	return errors.Join(errs...)
}
