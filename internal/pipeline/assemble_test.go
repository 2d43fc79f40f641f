package pipeline

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devserver/internal/config"
	"devserver/internal/infrastructure"
)

func baseOptions(build *fakeBuild, counter *providerCounter) Options {
	return Options{
		Dev:       config.DevConfig{HTMLFallback: config.HTMLFallbackIndex},
		Output:    config.OutputConfig{DistPath: "dist", PublicPaths: []string{"/"}},
		Pwd:       "/srv/app",
		NewBuild:  func() BuildIntegration { return build },
		Factories: fakeFactories(counter),
		Logger:    infrastructure.NopLogger(),
	}
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func TestAssembleDefaultOrder(t *testing.T) {
	tests := []struct {
		name      string
		withBuild bool
		want      []string
	}{
		{
			name:      "with build handler",
			withBuild: true,
			want:      []string{StageHeaders, StageBuild, StageHTMLFallback, StageFavicon},
		},
		{
			name:      "without build handler",
			withBuild: false,
			want:      []string{StageHeaders, StageHTMLFallback, StageFavicon},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &providerCounter{}
			build := newFakeBuild(tt.withBuild)

			a, err := Assemble(context.Background(), baseOptions(build, counter))
			require.NoError(t, err)

			assert.Equal(t, tt.want, a.Names())
			assert.Equal(t, 1, build.initCalls)
			assert.Equal(t, 1, a.Upgrade().Len(), "the build upgrade subscriber is always present")

			// No optional capability was acquired.
			for _, feature := range []string{StageCompression, StageProxy, StageStatic, StageHistoryFallback} {
				assert.Zero(t, counter.count(feature), feature)
			}
		})
	}
}

func TestAssembleFullOrder(t *testing.T) {
	counter := &providerCounter{}
	build := newFakeBuild(true)
	opts := baseOptions(build, counter)
	opts.Dev.Compress = true
	opts.Dev.Proxy = config.ProxyConfig{Rules: []config.ProxyRule{
		{Context: []string{"/api"}, Target: "http://localhost:3001"},
		{Context: []string{"/auth"}, Target: "http://localhost:3002"},
	}}
	opts.Dev.PublicDir = config.PublicDirConfig{Name: "public"}
	opts.Dev.HistoryAPIFallback = config.HistoryFallbackConfig{Enabled: true}
	opts.SetupMiddlewares = []SetupFunc{
		func(m Middlewares, _ ServerAPI) {
			m.InsertAfter(namedHandler("a1"))
			m.InsertBefore(namedHandler("b1"))
		},
		func(m Middlewares, _ ServerAPI) {
			m.InsertBefore(namedHandler("b2"), namedHandler("b3"))
			m.InsertAfter(namedHandler("a2"))
		},
	}

	a, err := Assemble(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, []string{
		StageUserBefore, StageUserBefore, StageUserBefore,
		StageCompression,
		StageHeaders,
		StageProxy, StageProxy,
		StageBuild,
		StageStatic,
		StageHTMLFallback,
		StageHistoryFallback,
		StageBuild,
		StageFavicon,
		StageUserAfter, StageUserAfter,
	}, a.Names())
	assert.Equal(t, 2, a.Upgrade().Len(), "proxy and build subscribers")

	// User handlers keep call order across functions.
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nothing", nil))
	trail := rec.Header().Values("X-Trail")
	require.NotEmpty(t, trail)
	assert.Equal(t, []string{"b1", "b2", "b3"}, trail[:3])
	assert.Equal(t, []string{"a1", "a2"}, trail[len(trail)-2:])

	for _, feature := range []string{StageCompression, StageProxy, StageStatic, StageHistoryFallback} {
		assert.Equal(t, 1, counter.count(feature), feature)
	}
}

func TestCompressionPrecedesHeaders(t *testing.T) {
	for _, withHistory := range []bool{false, true} {
		opts := baseOptions(newFakeBuild(true), &providerCounter{})
		opts.Dev.Compress = true
		opts.Dev.HistoryAPIFallback.Enabled = withHistory

		a, err := Assemble(context.Background(), opts)
		require.NoError(t, err)

		names := a.Names()
		require.NotEqual(t, -1, indexOf(names, StageCompression))
		assert.Less(t, indexOf(names, StageCompression), indexOf(names, StageHeaders))
	}
}

func TestHistoryFallbackDuplicatesBuildHandler(t *testing.T) {
	opts := baseOptions(newFakeBuild(true), &providerCounter{})
	opts.Dev.HistoryAPIFallback = config.HistoryFallbackConfig{Enabled: true}

	a, err := Assemble(context.Background(), opts)
	require.NoError(t, err)

	stages := a.Stages()
	var buildAt []int
	for i, s := range stages {
		if s.Name == StageBuild {
			buildAt = append(buildAt, i)
		}
	}
	require.Len(t, buildAt, 2)
	history := indexOf(a.Names(), StageHistoryFallback)
	assert.Less(t, buildAt[0], history)
	assert.Equal(t, history+1, buildAt[1])
	assert.Same(t, stages[buildAt[0]].Handler, stages[buildAt[1]].Handler)
	assert.Equal(t, SlotHistoryFallback, stages[buildAt[1]].Slot)

	t.Run("no duplicate without build handler", func(t *testing.T) {
		opts := baseOptions(newFakeBuild(false), &providerCounter{})
		opts.Dev.HistoryAPIFallback.Enabled = true

		a, err := Assemble(context.Background(), opts)
		require.NoError(t, err)
		assert.Equal(t, []string{StageHeaders, StageHTMLFallback, StageHistoryFallback, StageFavicon}, a.Names())
	})
}

func TestInsertBeforePrecedesInternalStages(t *testing.T) {
	marker := namedHandler("mine")
	opts := baseOptions(newFakeBuild(true), &providerCounter{})
	opts.Dev.Compress = true
	opts.Dev.PublicDir.Name = "public"
	opts.SetupMiddlewares = []SetupFunc{func(m Middlewares, _ ServerAPI) {
		m.InsertBefore(marker)
	}}

	a, err := Assemble(context.Background(), opts)
	require.NoError(t, err)

	stages := a.Stages()
	require.NotEmpty(t, stages)
	assert.Same(t, marker, stages[0].Handler)
	assert.Equal(t, SlotBefore, stages[0].Slot)
}

func TestScenarioHeadersOnEveryResponse(t *testing.T) {
	build := newFakeBuild(false)
	opts := baseOptions(build, &providerCounter{})
	opts.Dev = config.DevConfig{
		Compress:     false,
		Headers:      map[string]string{"X-Test": "1"},
		HTMLFallback: config.HTMLFallbackIndex,
	}
	opts.Factories.Favicon = HandlerFunc(func(w http.ResponseWriter, r *http.Request) Outcome {
		if r.URL.Path != "/favicon.ico" {
			return Continue()
		}
		w.WriteHeader(http.StatusNoContent)
		return Respond()
	})

	a, err := Assemble(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, a.Stages(), 3)

	for _, path := range []string{"/", "/favicon.ico", "/missing.js"} {
		rec := httptest.NewRecorder()
		a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, "1", rec.Header().Get("X-Test"), path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
	}

	withBuild := baseOptions(newFakeBuild(true), &providerCounter{})
	withBuild.Dev = opts.Dev
	b, err := Assemble(context.Background(), withBuild)
	require.NoError(t, err)
	assert.Len(t, b.Stages(), 4)
}

func TestHotUpdateNeverAllowsCredentials(t *testing.T) {
	opts := baseOptions(newFakeBuild(true), &providerCounter{})
	opts.Dev.Headers = map[string]string{"access-control-allow-credentials": "true"}

	a, err := Assemble(context.Background(), opts)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/foo/hot-update.js", nil))
	assert.Equal(t, "false", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/foo/main.js", nil))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCloseTearsDownBuildOnce(t *testing.T) {
	build := newFakeBuild(true)
	build.closeErr = errors.New("close failed")

	a, err := Assemble(context.Background(), baseOptions(build, &providerCounter{}))
	require.NoError(t, err)

	assert.EqualError(t, a.Close(), "close failed")
	assert.EqualError(t, a.Close(), "close failed")
	assert.Equal(t, 1, build.closeCalls)
}

func TestSetupReceivesServerAPI(t *testing.T) {
	build := newFakeBuild(true)
	opts := baseOptions(build, &providerCounter{})

	var order []int
	opts.SetupMiddlewares = []SetupFunc{
		func(_ Middlewares, api ServerAPI) {
			order = append(order, 1)
			_, isBuild := api.(BuildIntegration)
			assert.False(t, isBuild, "extensions cannot reach the build lifecycle")
			api.SockWrite("static-changed", nil)
		},
		nil,
		func(_ Middlewares, api ServerAPI) {
			order = append(order, 2)
			assert.Zero(t, build.initCalls, "extensions run before any internal stage is activated")
		},
	}

	_, err := Assemble(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, []string{"static-changed"}, build.messages)
}

func TestMiddlewaresSealedAfterSetup(t *testing.T) {
	var leaked Middlewares
	opts := baseOptions(newFakeBuild(true), &providerCounter{})
	opts.SetupMiddlewares = []SetupFunc{func(m Middlewares, _ ServerAPI) {
		leaked = m
	}}

	_, err := Assemble(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, leaked)

	assert.Panics(t, func() { leaked.InsertBefore(namedHandler("late")) })
	assert.Panics(t, func() { leaked.InsertAfter(namedHandler("late")) })
}

func TestAcquisitionFailureAborts(t *testing.T) {
	boom := errors.New("module not found")

	tests := []struct {
		name     string
		enable   func(*Options)
		breakIt  func(*Factories)
		feature  string
		wantInit int
	}{
		{
			name:    "compression provider",
			enable:  func(o *Options) { o.Dev.Compress = true },
			breakIt: func(f *Factories) { f.Compression = func() (CompressionFactory, error) { return nil, boom } },
			feature: StageCompression,
		},
		{
			name:    "missing proxy provider",
			enable:  func(o *Options) { o.Dev.Proxy.Rules = []config.ProxyRule{{Context: []string{"/"}, Target: "http://x"}} },
			breakIt: func(f *Factories) { f.Proxy = nil },
			feature: StageProxy,
		},
		{
			name:   "static factory",
			enable: func(o *Options) { o.Dev.PublicDir.Name = "public" },
			breakIt: func(f *Factories) {
				f.Static = func() (StaticFactory, error) {
					return func(string, StaticOptions) (Handler, error) { return nil, boom }, nil
				}
			},
			feature:  StageStatic,
			wantInit: 1,
		},
		{
			name:   "history provider",
			enable: func(o *Options) { o.Dev.HistoryAPIFallback.Enabled = true },
			breakIt: func(f *Factories) {
				f.HistoryFallback = func() (HistoryFallbackFactory, error) { return nil, boom }
			},
			feature: StageHistoryFallback,
		},
		{
			name:     "missing favicon",
			enable:   func(*Options) {},
			breakIt:  func(f *Factories) { f.Favicon = nil },
			feature:  StageFavicon,
			wantInit: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			build := newFakeBuild(true)
			opts := baseOptions(build, &providerCounter{})
			tt.enable(&opts)
			tt.breakIt(&opts.Factories)

			a, err := Assemble(context.Background(), opts)
			require.Error(t, err)
			assert.Nil(t, a)

			var capErr *CapabilityError
			require.ErrorAs(t, err, &capErr)
			assert.Equal(t, tt.feature, capErr.Feature)

			assert.Equal(t, tt.wantInit, build.initCalls)
			assert.Equal(t, tt.wantInit, build.closeCalls, "an initialized build must be released")
		})
	}
}

func TestBuildInitFailureClosesBuild(t *testing.T) {
	build := newFakeBuild(true)
	build.initErr = errors.New("compiler crashed")

	_, err := Assemble(context.Background(), baseOptions(build, &providerCounter{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, build.initErr)
	assert.Equal(t, 1, build.closeCalls)
}

func TestAssembleWithoutBuild(t *testing.T) {
	opts := baseOptions(nil, &providerCounter{})
	opts.NewBuild = nil
	_, err := Assemble(context.Background(), opts)
	assert.ErrorIs(t, err, ErrNoBuildIntegration)

	opts.NewBuild = func() BuildIntegration { return nil }
	_, err = Assemble(context.Background(), opts)
	assert.ErrorIs(t, err, ErrNoBuildIntegration)
}

func TestAssembleCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	build := newFakeBuild(true)
	_, err := Assemble(ctx, baseOptions(build, &providerCounter{}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, build.initCalls)
}

func TestHTMLFallbackReceivesResolvedOptions(t *testing.T) {
	build := newFakeBuild(true)
	opts := baseOptions(build, &providerCounter{})
	opts.Output.DistPath = "build/out"
	opts.Dev.HTMLFallback = config.HTMLFallbackOff

	var got HTMLFallbackOptions
	opts.Factories.HTMLFallback = func(o HTMLFallbackOptions) (Handler, error) {
		got = o
		return namedHandler(StageHTMLFallback), nil
	}

	_, err := Assemble(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "/srv/app/build/out", got.DistPath)
	assert.Equal(t, config.HTMLFallbackOff, got.Mode)
	assert.Same(t, build.handler, got.Callback)
}

func TestUpgradeReachesBuildAndProxy(t *testing.T) {
	build := newFakeBuild(true)
	opts := baseOptions(build, &providerCounter{})

	var proxied int
	opts.Dev.Proxy.Rules = []config.ProxyRule{{Context: []string{"/ws"}, Target: "http://x", WS: true}}
	opts.Factories.Proxy = func() (ProxyFactory, error) {
		return func(config.ProxyConfig) (ProxyResult, error) {
			return ProxyResult{
				Middlewares: []Handler{namedHandler(StageProxy)},
				Upgrade:     func(*http.Request, net.Conn, []byte) { proxied++ },
			}, nil
		}, nil
	}

	a, err := Assemble(context.Background(), opts)
	require.NoError(t, err)

	a.Upgrade().OnUpgrade(httptest.NewRequest(http.MethodGet, "/ws", nil), nil, nil)
	assert.Equal(t, 1, proxied)
	assert.Equal(t, 1, build.upgrades)
}

func TestObserverSeesRespondingStage(t *testing.T) {
	opts := baseOptions(newFakeBuild(false), &providerCounter{})
	opts.Factories.Favicon = responder(StageFavicon, "icon")

	var seen []string
	opts.Observer = func(_ *http.Request, s Stage) { seen = append(seen, s.Name) }

	a, err := Assemble(context.Background(), opts)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	assert.Equal(t, "icon", rec.Body.String())
	assert.Equal(t, []string{StageFavicon}, seen)
}
