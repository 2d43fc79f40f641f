package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"devserver/internal/config"
	"devserver/internal/devmiddleware"
	apierrors "devserver/internal/errors"
	"devserver/internal/infrastructure"
	"devserver/internal/middleware"
	"devserver/internal/pipeline"
	"devserver/pkg/contracts"
)

// Options configures NewApplication
type Options struct {
	// Config is used as is when set; otherwise it is loaded from ConfigPath
	Config     *config.Config
	ConfigPath string
	// Pwd resolves relative directories; defaults to the working directory
	Pwd string

	// Logger replaces the logger built from the logging config
	Logger *slog.Logger

	SetupMiddlewares []pipeline.SetupFunc
	// Factories replaces DefaultFactories
	Factories *pipeline.Factories
	// Compiler replaces the output directory compiler
	Compiler devmiddleware.Compiler
}

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Router        *chi.Mux
	Server        *http.Server
	Pipeline      *pipeline.Assembled
	Build         *devmiddleware.DevMiddleware
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.DevServerMetrics
	Pwd           string

	errors   *apierrors.ErrorHandler
	mu       sync.RWMutex
	listener net.Listener
	serveErr chan error

	stopOnce sync.Once
	stopErr  error
}

// NewApplication creates a new application instance with dependency injection
func NewApplication(ctx context.Context, opts Options) (*Application, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		l, err := infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", contracts.GetVersionString()))

	pwd := opts.Pwd
	if pwd == "" {
		wd, err := config.WorkingDir()
		if err != nil {
			return nil, err
		}
		pwd = wd
	}

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.NewDevServerMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
		Pwd:           pwd,
		errors:        apierrors.NewErrorHandler(logger, cfg.Logging.Development),
	}

	if err := app.assemble(ctx, opts); err != nil {
		_ = otelProviders.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// assemble builds the request pipeline around the build integration
func (a *Application) assemble(ctx context.Context, opts Options) error {
	distDir := a.Config.DistDir(a.Pwd)

	compiler := opts.Compiler
	if compiler == nil {
		compiler = devmiddleware.NewDirCompiler(distDir, a.Config.Output.PollInterval)
	}

	build, err := devmiddleware.New(devmiddleware.Options{
		Compiler:    compiler,
		PublicPaths: a.Config.Output.PublicPaths,
		DistPath:    distDir,
		Client:      a.Config.Dev.Client,
		Logger:      a.Logger,
		Metrics:     a.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create build integration: %w", err)
	}

	factories := DefaultFactories(a.Logger)
	if opts.Factories != nil {
		factories = *opts.Factories
	}

	assembled, err := pipeline.Assemble(ctx, pipeline.Options{
		Dev:              a.Config.Dev,
		Output:           a.Config.Output,
		Pwd:              a.Pwd,
		SetupMiddlewares: opts.SetupMiddlewares,
		NewBuild:         func() pipeline.BuildIntegration { return build },
		Factories:        factories,
		NotFound:         http.HandlerFunc(a.errors.NotFound),
		Observer: func(r *http.Request, stage pipeline.Stage) {
			a.Metrics.RecordStageResponse(r.Context(), stage.Name)
		},
		Logger: a.Logger,
		Tracer: a.OTelProviders.Tracer,
	})
	if err != nil {
		return fmt.Errorf("failed to assemble pipeline: %w", err)
	}

	a.Build = build
	a.Pipeline = assembled
	return nil
}

// setupRouter configures the HTTP router hosting the pipeline
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// These do not wrap the ResponseWriter, so upgrades can still hijack it
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.upgrades)

	// Prometheus metrics endpoint, outside the pipeline
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle(a.Config.Telemetry.MetricsPath, a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		// Ordering: RequestID → RealIP → OTel → Logger → Recoverer
		otelMiddleware := middleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics, a.Logger)
		r.Use(otelMiddleware.Handler)
		r.Use(middleware.StructuredLogger(a.Logger))
		r.Use(middleware.Recoverer(a.Logger))

		r.Handle("/*", a.Pipeline)
	})

	r.MethodNotAllowed(a.errors.MethodNotAllowed)

	a.Router = r
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start listens on the configured address and serves in the background
func (a *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.serveErr = make(chan error, 1)
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	go func() {
		err := a.Server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		a.serveErr <- err
	}()

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", "http://"+ln.Addr().String()),
		slog.Any("stages", a.Pipeline.Names()),
		slog.String("socket_path", a.Config.Dev.Client.Path))
	return nil
}

// Addr returns the address the server listens on, empty before Start
func (a *Application) Addr() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop gracefully stops the application. Later calls return the first result.
func (a *Application) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.stopErr = a.stop(ctx)
	})
	return a.stopErr
}

func (a *Application) stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	// Hijacked sockets are not tracked by the server; closing the build
	// integration disconnects live-update clients.
	if err := a.Pipeline.Close(); err != nil {
		errs = append(errs, fmt.Errorf("build shutdown error: %w", err))
	}

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// Run serves until ctx ends, SIGINT or SIGTERM arrives, or the server fails,
// then shuts down
func (a *Application) Run(ctx context.Context) error {
	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	if err := a.Start(ctx); err != nil {
		_ = a.Pipeline.Close()
		return err
	}

	served := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(served)
		if err := <-a.serveErr; err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-served:
		}
		if ctx.Err() != nil {
			a.Logger.InfoContext(gctx, "Received interrupt signal")
		}
		return a.Stop(context.WithoutCancel(gctx))
	})
	return g.Wait()
}
