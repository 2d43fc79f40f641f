package pipeline

import (
	"devserver/internal/config"
)

// CompressionOptions selects the encodings offered
type CompressionOptions struct {
	Gzip   bool
	Brotli bool
}

// StaticOptions controls static asset serving
type StaticOptions struct {
	ETag bool
	Dev  bool
}

// HTMLFallbackOptions configures the navigation fallback. Callback is the
// build handler and may be nil.
type HTMLFallbackOptions struct {
	DistPath string
	Callback Handler
	Mode     string
}

// ProxyResult is what the proxy factory contributes: one handler per rule
// and a single upgrade subscriber.
type ProxyResult struct {
	Middlewares []Handler
	Upgrade     UpgradeFunc
}

type (
	// CompressionFactory builds the compression stage
	CompressionFactory func(opts CompressionOptions) (Handler, error)
	// StaticFactory builds a static asset stage rooted at dir
	StaticFactory func(dir string, opts StaticOptions) (Handler, error)
	// ProxyFactory builds the proxy stages
	ProxyFactory func(cfg config.ProxyConfig) (ProxyResult, error)
	// HistoryFallbackFactory builds the legacy-routing fallback stage
	HistoryFallbackFactory func(rule config.HistoryFallbackConfig) (Handler, error)
	// HTMLFallbackFactory builds the HTML fallback stage
	HTMLFallbackFactory func(opts HTMLFallbackOptions) (Handler, error)
)

// Factories is the registry of optional capabilities. Providers are only
// called for features the configuration enables.
type Factories struct {
	Compression     func() (CompressionFactory, error)
	Static          func() (StaticFactory, error)
	Proxy           func() (ProxyFactory, error)
	HistoryFallback func() (HistoryFallbackFactory, error)

	// Always used
	HTMLFallback HTMLFallbackFactory
	Favicon      Handler
}

type capabilities struct {
	compression CompressionFactory
	static      StaticFactory
	proxy       ProxyFactory
	history     HistoryFallbackFactory
}

func acquire[T any](feature string, provider func() (T, error)) (T, error) {
	var zero T
	if provider == nil {
		return zero, &CapabilityError{Feature: feature, Err: ErrFactoryMissing}
	}
	v, err := provider()
	if err != nil {
		return zero, &CapabilityError{Feature: feature, Err: err}
	}
	return v, nil
}
