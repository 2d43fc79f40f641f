package app

import (
	"log/slog"

	"devserver/internal/config"
	"devserver/internal/middleware"
	"devserver/internal/pipeline"
	"devserver/internal/proxy"
)

// DefaultFactories binds every pipeline capability to its implementation
func DefaultFactories(logger *slog.Logger) pipeline.Factories {
	return pipeline.Factories{
		Compression: func() (pipeline.CompressionFactory, error) {
			return middleware.Compression, nil
		},
		Static: func() (pipeline.StaticFactory, error) {
			return middleware.Static, nil
		},
		Proxy: func() (pipeline.ProxyFactory, error) {
			return func(cfg config.ProxyConfig) (pipeline.ProxyResult, error) {
				return proxy.New(cfg, logger)
			}, nil
		},
		HistoryFallback: func() (pipeline.HistoryFallbackFactory, error) {
			return func(rule config.HistoryFallbackConfig) (pipeline.Handler, error) {
				return middleware.NewHistoryFallback(rule, logger)
			}, nil
		},
		HTMLFallback: func(opts pipeline.HTMLFallbackOptions) (pipeline.Handler, error) {
			return middleware.NewHTMLFallback(opts, logger)
		},
		Favicon: middleware.FaviconFallback,
	}
}
