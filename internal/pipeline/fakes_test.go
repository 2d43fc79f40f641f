package pipeline

import (
	"context"
	"net"
	"net/http"
	"sync"

	"devserver/internal/config"
)

// trailStage writes its name into X-Trail and continues
type trailStage struct {
	name string
}

func (s *trailStage) Handle(w http.ResponseWriter, _ *http.Request) Outcome {
	w.Header().Add("X-Trail", s.name)
	return Continue()
}

func namedHandler(name string) Handler {
	return &trailStage{name: name}
}

// responder writes body with 200 and ends the chain
func responder(name, body string) Handler {
	return HandlerFunc(func(w http.ResponseWriter, r *http.Request) Outcome {
		w.Header().Add("X-Trail", name)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
		return Respond()
	})
}

type fakeBuild struct {
	mu         sync.Mutex
	handler    Handler
	initErr    error
	closeErr   error
	initCalls  int
	closeCalls int
	upgrades   int
	messages   []string
}

func newFakeBuild(withHandler bool) *fakeBuild {
	b := &fakeBuild{}
	if withHandler {
		b.handler = namedHandler(StageBuild)
	}
	return b
}

func (b *fakeBuild) Init(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initCalls++
	return b.initErr
}

func (b *fakeBuild) Middleware() Handler {
	return b.handler
}

func (b *fakeBuild) Upgrade(*http.Request, net.Conn, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.upgrades++
}

func (b *fakeBuild) SockWrite(msgType string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msgType)
}

func (b *fakeBuild) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeCalls++
	return b.closeErr
}

// providerCounter records how often each provider ran
type providerCounter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *providerCounter) hit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[name]++
}

func (c *providerCounter) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func fakeFactories(counter *providerCounter) Factories {
	return Factories{
		Compression: func() (CompressionFactory, error) {
			counter.hit(StageCompression)
			return func(CompressionOptions) (Handler, error) {
				return namedHandler(StageCompression), nil
			}, nil
		},
		Static: func() (StaticFactory, error) {
			counter.hit(StageStatic)
			return func(string, StaticOptions) (Handler, error) {
				return namedHandler(StageStatic), nil
			}, nil
		},
		Proxy: func() (ProxyFactory, error) {
			counter.hit(StageProxy)
			return func(cfg config.ProxyConfig) (ProxyResult, error) {
				res := ProxyResult{}
				for range cfg.Rules {
					res.Middlewares = append(res.Middlewares, namedHandler(StageProxy))
				}
				res.Upgrade = func(*http.Request, net.Conn, []byte) {}
				return res, nil
			}, nil
		},
		HistoryFallback: func() (HistoryFallbackFactory, error) {
			counter.hit(StageHistoryFallback)
			return func(config.HistoryFallbackConfig) (Handler, error) {
				return namedHandler(StageHistoryFallback), nil
			}, nil
		},
		HTMLFallback: func(HTMLFallbackOptions) (Handler, error) {
			return namedHandler(StageHTMLFallback), nil
		},
		Favicon: namedHandler(StageFavicon),
	}
}
