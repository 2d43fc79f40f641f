// Package devmiddleware integrates the build with the request pipeline. It
// serves the build output, waits for builds in progress and owns the
// live-update socket that browsers connect to.
package devmiddleware

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"

	"devserver/internal/config"
	"devserver/internal/infrastructure"
	"devserver/internal/middleware"
	"devserver/internal/pipeline"
	"devserver/internal/websocket"
	"devserver/pkg/contracts/events"
)

// Options configures the dev middleware
type Options struct {
	// Compiler produces the build; without one there is nothing to serve
	Compiler Compiler
	// PublicPaths are the URL prefixes the build output is served under
	PublicPaths []string
	// DistPath is the absolute build output directory
	DistPath string
	Client   config.ClientConfig

	Logger  *slog.Logger
	Metrics *infrastructure.DevServerMetrics
}

// DevMiddleware is the pipeline's build integration
type DevMiddleware struct {
	opts    Options
	socket  *websocket.Server
	handler pipeline.Handler
	logger  *slog.Logger

	initOnce sync.Once
	initErr  error
	cancel   context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once

	closeOnce sync.Once
	closeErr  error
}

var _ pipeline.BuildIntegration = (*DevMiddleware)(nil)

// New creates the dev middleware. Nothing runs until Init.
func New(opts Options) (*DevMiddleware, error) {
	if opts.Logger == nil {
		opts.Logger = infrastructure.GetLogger()
	}
	if opts.Client.Path == "" {
		opts.Client.Path = config.DefaultClientPath
	}
	if len(opts.PublicPaths) == 0 {
		opts.PublicPaths = []string{"/"}
	}

	d := &DevMiddleware{
		opts:   opts,
		logger: infrastructure.WithComponent(opts.Logger, "devmiddleware"),
		ready:  make(chan struct{}),
		socket: websocket.NewServer(websocket.ServerOptions{
			Path:       opts.Client.Path,
			HMR:        opts.Client.HMR,
			LiveReload: opts.Client.LiveReload,
			Logger:     opts.Logger,
			Metrics:    opts.Metrics,
		}),
	}

	if opts.Compiler != nil {
		static, err := middleware.Static(opts.DistPath, pipeline.StaticOptions{ETag: true, Dev: true})
		if err != nil {
			return nil, err
		}
		d.handler = d.serve(static)
	}
	return d, nil
}

// Init starts the socket server and the compiler watch. Later calls return
// the first result.
func (d *DevMiddleware) Init(ctx context.Context) error {
	d.initOnce.Do(func() {
		d.socket.Start()
		if d.opts.Compiler == nil {
			return
		}

		// The watch outlives the assembly context
		watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		d.cancel = cancel

		err := d.opts.Compiler.Watch(watchCtx, Hooks{
			OnInvalid: d.invalid,
			OnDone:    d.done,
		})
		if err != nil {
			d.initErr = err
			return
		}
		d.logger.InfoContext(ctx, "build watch started",
			slog.String("dist", d.opts.DistPath),
			slog.Any("public_paths", d.opts.PublicPaths))
	})
	return d.initErr
}

// Middleware returns the handler serving build output, nil without a compiler
func (d *DevMiddleware) Middleware() pipeline.Handler {
	return d.handler
}

// Upgrade hands live-update socket requests to the socket server
func (d *DevMiddleware) Upgrade(r *http.Request, conn net.Conn, head []byte) {
	d.socket.Upgrade(r, conn, head)
}

// SockWrite broadcasts a message to every connected client
func (d *DevMiddleware) SockWrite(msgType string, data any) {
	d.socket.SockWrite(msgType, data)
}

// Close stops the compiler and then the socket server
func (d *DevMiddleware) Close() error {
	d.closeOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		var errs []error
		if d.opts.Compiler != nil {
			errs = append(errs, d.opts.Compiler.Close())
		}
		errs = append(errs, d.socket.Close())
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}

// Socket returns the live-update socket server
func (d *DevMiddleware) Socket() *websocket.Server {
	return d.socket
}

func (d *DevMiddleware) invalid() {
	d.logger.Info("build invalidated")
	d.socket.Invalidate()
}

func (d *DevMiddleware) done(stats events.BuildStats) {
	result := stats.Result()
	d.logger.Info("build done",
		slog.String("hash", stats.Hash),
		slog.String("result", result),
		slog.Int("errors", len(stats.Errors)),
		slog.Int("warnings", len(stats.Warnings)))

	d.opts.Metrics.RecordBuild(context.Background(), result)
	d.socket.UpdateStats(stats)
	d.readyOnce.Do(func() { close(d.ready) })
}

// serve maps requests under a public path onto the output directory
func (d *DevMiddleware) serve(static pipeline.Handler) pipeline.Handler {
	return pipeline.HandlerFunc(func(w http.ResponseWriter, r *http.Request) pipeline.Outcome {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			return pipeline.Continue()
		}
		rel, ok := d.relativePath(r.URL.Path)
		if !ok {
			return pipeline.Continue()
		}

		select {
		case <-d.ready:
		case <-r.Context().Done():
			return pipeline.Continue()
		}

		u := *r.URL
		u.Path = rel
		u.RawPath = ""
		inner := r.WithContext(r.Context())
		inner.URL = &u

		if static.Handle(w, inner).Responded() {
			return pipeline.Respond()
		}
		return pipeline.Continue()
	})
}

// relativePath strips the first public path that prefixes p
func (d *DevMiddleware) relativePath(p string) (string, bool) {
	for _, public := range d.opts.PublicPaths {
		prefix := strings.TrimSuffix(public, "/") + "/"
		if p == strings.TrimSuffix(public, "/") && public != "/" {
			return "/", true
		}
		if strings.HasPrefix(p, prefix) {
			rel := path.Clean("/" + strings.TrimPrefix(p, prefix))
			if strings.HasSuffix(p, "/") && rel != "/" {
				rel += "/"
			}
			return rel, true
		}
	}
	return "", false
}
