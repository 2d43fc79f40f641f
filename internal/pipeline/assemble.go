package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"devserver/internal/config"
)

// Stage names
const (
	StageCompression     = "compression"
	StageHeaders         = "headers"
	StageProxy           = "proxy"
	StageBuild           = "build"
	StageStatic          = "static"
	StageHTMLFallback    = "html-fallback"
	StageHistoryFallback = "history-fallback"
	StageFavicon         = "favicon"
	StageUserBefore      = "user-before"
	StageUserAfter       = "user-after"
)

// Options configures Assemble. Dev and Output are read once.
type Options struct {
	Dev    config.DevConfig
	Output config.OutputConfig
	// Pwd resolves relative directories
	Pwd string

	SetupMiddlewares []SetupFunc
	NewBuild         func() BuildIntegration
	Factories        Factories

	// NotFound answers requests no stage responded to
	NotFound http.Handler
	Observer Observer
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// Assembled is a built pipeline. It is never rebuilt in place.
type Assembled struct {
	stages  []Stage
	handler http.Handler
	upgrade *Multicaster
	build   BuildIntegration

	closeOnce sync.Once
	closeErr  error
}

// Stages returns the stages in execution order
func (a *Assembled) Stages() []Stage {
	return append([]Stage(nil), a.stages...)
}

// Names returns the stage names in execution order
func (a *Assembled) Names() []string {
	names := make([]string, len(a.stages))
	for i, s := range a.stages {
		names[i] = s.Name
	}
	return names
}

// ServeHTTP runs the request through the pipeline
func (a *Assembled) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// Upgrade returns the multicaster for upgrade events
func (a *Assembled) Upgrade() *Multicaster {
	return a.upgrade
}

// Close tears down the build integration. Later calls return the first result.
func (a *Assembled) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.build.Close()
	})
	return a.closeErr
}

// Assemble builds the pipeline:
//
//	before ++ [compression?] ++ headers ++ [proxy...] ++ [build?] ++ [static?] ++
//	htmlFallback ++ [historyFallback? ++ build-again?] ++ favicon ++ after
//
// Enabled capabilities are acquired concurrently before any stage is
// activated. Any failure aborts assembly and nothing is returned.
func Assemble(ctx context.Context, opts Options) (*Assembled, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "pipeline"))

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("devserver/pipeline")
	}
	ctx, span := tracer.Start(ctx, "pipeline.assemble")
	defer span.End()

	a, err := assemble(ctx, opts, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("pipeline.stages", len(a.stages)),
		attribute.Int("pipeline.upgrade_subscribers", a.upgrade.Len()),
	)
	logger.InfoContext(ctx, "pipeline assembled",
		slog.Any("stages", a.Names()),
		slog.Int("upgrade_subscribers", a.upgrade.Len()))

	return a, nil
}

func assemble(ctx context.Context, opts Options, logger *slog.Logger) (*Assembled, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.NewBuild == nil {
		return nil, ErrNoBuildIntegration
	}
	build := opts.NewBuild()
	if build == nil {
		return nil, ErrNoBuildIntegration
	}

	dev := opts.Dev
	before, after := runSetup(opts.SetupMiddlewares, serverAPI{build: build})

	caps, err := acquireAll(dev, opts.Factories)
	if err != nil {
		return nil, err
	}

	var (
		stack    Stack
		upgrades []UpgradeFunc
	)
	for _, h := range before {
		stack.Add(SlotBefore, StageUserBefore, h)
	}

	if dev.Compress {
		h, err := caps.compression(CompressionOptions{Gzip: true, Brotli: false})
		if err != nil {
			return nil, &CapabilityError{Feature: StageCompression, Err: err}
		}
		stack.Add(SlotCompression, StageCompression, h)
	}

	stack.Add(SlotHeaders, StageHeaders, Headers(dev.Headers))

	if dev.Proxy.Enabled() {
		res, err := caps.proxy(dev.Proxy)
		if err != nil {
			return nil, &CapabilityError{Feature: StageProxy, Err: err}
		}
		for _, h := range res.Middlewares {
			stack.Add(SlotProxy, StageProxy, h)
		}
		upgrades = append(upgrades, res.Upgrade)
	}

	// From here on a failure must release what Init started.
	fail := func(err error) (*Assembled, error) {
		if cerr := build.Close(); cerr != nil {
			logger.WarnContext(ctx, "failed to close build integration",
				slog.String("error", cerr.Error()))
		}
		return nil, err
	}

	if err := build.Init(ctx); err != nil {
		return fail(fmt.Errorf("pipeline: init build integration: %w", err))
	}
	buildHandler := build.Middleware()
	if buildHandler != nil {
		stack.Add(SlotBuild, StageBuild, buildHandler)
	}
	upgrades = append(upgrades, build.Upgrade)

	if dev.PublicDir.Enabled() {
		dir := config.ResolveDir(opts.Pwd, dev.PublicDir.Name)
		h, err := caps.static(dir, StaticOptions{ETag: true, Dev: true})
		if err != nil {
			return fail(&CapabilityError{Feature: StageStatic, Err: err})
		}
		stack.Add(SlotStatic, StageStatic, h)
	}

	if opts.Factories.HTMLFallback == nil {
		return fail(&CapabilityError{Feature: StageHTMLFallback, Err: ErrFactoryMissing})
	}
	htmlFallback, err := opts.Factories.HTMLFallback(HTMLFallbackOptions{
		DistPath: config.ResolveDir(opts.Pwd, opts.Output.DistPath),
		Callback: buildHandler,
		Mode:     dev.HTMLFallback,
	})
	if err != nil {
		return fail(&CapabilityError{Feature: StageHTMLFallback, Err: err})
	}
	stack.Add(SlotHTMLFallback, StageHTMLFallback, htmlFallback)

	if dev.HistoryAPIFallback.Enabled {
		h, err := caps.history(dev.HistoryAPIFallback)
		if err != nil {
			return fail(&CapabilityError{Feature: StageHistoryFallback, Err: err})
		}
		stack.Add(SlotHistoryFallback, StageHistoryFallback, h)
		// A rewritten URL may now name a build asset.
		if buildHandler != nil {
			stack.Add(SlotHistoryFallback, StageBuild, buildHandler)
		}
	}

	if opts.Factories.Favicon == nil {
		return fail(&CapabilityError{Feature: StageFavicon, Err: ErrFactoryMissing})
	}
	stack.Add(SlotFavicon, StageFavicon, opts.Factories.Favicon)

	for _, h := range after {
		stack.Add(SlotAfter, StageUserAfter, h)
	}

	stages := stack.Stages()
	for _, s := range stages {
		logger.DebugContext(ctx, "stage activated",
			slog.String("slot", s.Slot.String()),
			slog.String("stage", s.Name))
	}

	return &Assembled{
		stages:  stages,
		handler: Compose(stages, opts.NotFound, opts.Observer),
		upgrade: NewMulticaster(upgrades...),
		build:   build,
	}, nil
}

// acquireAll resolves the providers of every enabled feature concurrently
func acquireAll(dev config.DevConfig, f Factories) (capabilities, error) {
	var (
		caps capabilities
		g    errgroup.Group
	)

	if dev.Compress {
		g.Go(func() (err error) {
			caps.compression, err = acquire(StageCompression, f.Compression)
			return err
		})
	}
	if dev.Proxy.Enabled() {
		g.Go(func() (err error) {
			caps.proxy, err = acquire(StageProxy, f.Proxy)
			return err
		})
	}
	if dev.PublicDir.Enabled() {
		g.Go(func() (err error) {
			caps.static, err = acquire(StageStatic, f.Static)
			return err
		})
	}
	if dev.HistoryAPIFallback.Enabled {
		g.Go(func() (err error) {
			caps.history, err = acquire(StageHistoryFallback, f.HistoryFallback)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return capabilities{}, err
	}
	return caps, nil
}
