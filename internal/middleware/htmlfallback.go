package middleware

import (
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"devserver/internal/config"
	"devserver/internal/infrastructure"
	"devserver/internal/pipeline"
)

// HTMLFallbackStage maps page navigations onto HTML files in the build
// output and hands the rewritten request to the build handler.
type HTMLFallbackStage struct {
	distPath string
	callback pipeline.Handler
	index    bool
	logger   *slog.Logger
}

// NewHTMLFallback builds the HTML fallback stage
func NewHTMLFallback(opts pipeline.HTMLFallbackOptions, logger *slog.Logger) (pipeline.Handler, error) {
	if logger == nil {
		logger = infrastructure.NopLogger()
	}
	return &HTMLFallbackStage{
		distPath: opts.DistPath,
		callback: opts.Callback,
		index:    opts.Mode == config.HTMLFallbackIndex,
		logger:   logger,
	}, nil
}

// Handle rewrites "/dir/" to "/dir/index.html" and "/page" to "/page.html"
// when those files exist. In index mode anything else falls back to
// "/index.html".
func (s *HTMLFallbackStage) Handle(w http.ResponseWriter, r *http.Request) pipeline.Outcome {
	if ok, _ := navigation(r, nil); !ok {
		return pipeline.Continue()
	}

	p := cleanPath(r.URL.Path)
	switch {
	case strings.HasSuffix(p, "/"):
		if s.exists(p, config.IndexDocument) {
			return s.rewrite(w, r, p+config.IndexDocument, false)
		}
	case path.Ext(p) == "":
		if s.exists(p + ".html") {
			return s.rewrite(w, r, p+".html", false)
		}
	}

	if s.index && s.exists(config.IndexDocument) {
		return s.rewrite(w, r, "/"+config.IndexDocument, true)
	}
	return pipeline.Continue()
}

// cleanPath roots and cleans p, keeping a trailing slash
func cleanPath(p string) string {
	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

func (s *HTMLFallbackStage) exists(elem ...string) bool {
	parts := append([]string{s.distPath}, elem...)
	return config.FileExists(filepath.Join(parts...))
}

func (s *HTMLFallbackStage) rewrite(w http.ResponseWriter, r *http.Request, target string, fallback bool) pipeline.Outcome {
	if fallback {
		s.logger.DebugContext(r.Context(), "html fallback",
			slog.String("from", r.URL.Path),
			slog.String("to", target))
	}

	next := rewriteRequest(r, target)
	if s.callback == nil {
		return pipeline.ContinueWith(next)
	}

	out := s.callback.Handle(w, next)
	if out.Responded() {
		return out
	}
	return pipeline.ContinueWith(out.Request(next))
}
