package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"devserver/internal/config"
	"devserver/internal/infrastructure"
	"devserver/internal/pipeline"
)

// DefaultHistoryIndex is the rewrite target when no index is configured
const DefaultHistoryIndex = "/index.html"

type historyRewrite struct {
	from *regexp.Regexp
	to   string
}

// HistoryFallbackStage rewrites client-side routes to the application entry
// document so single page applications survive a reload.
type HistoryFallbackStage struct {
	index          string
	rewrites       []historyRewrite
	disableDotRule bool
	accept         []string
	verbose        bool
	logger         *slog.Logger
}

// NewHistoryFallback compiles rule into a stage
func NewHistoryFallback(rule config.HistoryFallbackConfig, logger *slog.Logger) (pipeline.Handler, error) {
	if logger == nil {
		logger = infrastructure.NopLogger()
	}

	rewrites := make([]historyRewrite, 0, len(rule.Rewrites))
	for i, rw := range rule.Rewrites {
		re, err := regexp.Compile(rw.From)
		if err != nil {
			return nil, fmt.Errorf("history fallback rewrite %d: %w", i, err)
		}
		rewrites = append(rewrites, historyRewrite{from: re, to: rw.To})
	}

	index := rule.Index
	if index == "" {
		index = DefaultHistoryIndex
	}

	return &HistoryFallbackStage{
		index:          index,
		rewrites:       rewrites,
		disableDotRule: rule.DisableDotRule,
		accept:         rule.HTMLAcceptHeaders,
		verbose:        rule.Verbose,
		logger:         logger,
	}, nil
}

// Handle applies the first matching rewrite, otherwise rewrites to the index
// unless the last path segment contains a dot. It never responds.
func (s *HistoryFallbackStage) Handle(_ http.ResponseWriter, r *http.Request) pipeline.Outcome {
	if ok, reason := navigation(r, s.accept); !ok {
		s.log(r, "not rewriting", slog.String("reason", reason))
		return pipeline.Continue()
	}

	p := r.URL.Path
	for _, rw := range s.rewrites {
		match := rw.from.FindStringSubmatchIndex(p)
		if match == nil {
			continue
		}
		target := expandGroups(rw.to, p, match)
		s.log(r, "rewriting", slog.String("to", target))
		return pipeline.ContinueWith(rewriteRequest(r, target))
	}

	if !s.disableDotRule && strings.LastIndex(p, ".") > strings.LastIndex(p, "/") {
		s.log(r, "not rewriting", slog.String("reason", "the path includes a dot (.) character"))
		return pipeline.Continue()
	}

	s.log(r, "rewriting", slog.String("to", s.index))
	return pipeline.ContinueWith(rewriteRequest(r, s.index))
}

func (s *HistoryFallbackStage) log(r *http.Request, msg string, attrs ...slog.Attr) {
	level := slog.LevelDebug
	if s.verbose {
		level = slog.LevelInfo
	}
	attrs = append(attrs,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))
	s.logger.LogAttrs(r.Context(), level, msg, attrs...)
}

var groupRef = regexp.MustCompile(`\$(?:(\d+)|\{(\d+)\})`)

// expandGroups replaces $N and ${N} in to with the submatches of p. Other
// dollar signs are kept as written.
func expandGroups(to, p string, match []int) string {
	return groupRef.ReplaceAllStringFunc(to, func(ref string) string {
		m := groupRef.FindStringSubmatch(ref)
		n, err := strconv.Atoi(m[1] + m[2])
		if err != nil || 2*n+1 >= len(match) || match[2*n] < 0 {
			return ""
		}
		return p[match[2*n]:match[2*n+1]]
	})
}
