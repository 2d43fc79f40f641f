package middleware

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"devserver/internal/pipeline"
)

// StaticStage serves files from a directory. Requests for files that do not
// exist continue down the pipeline.
type StaticStage struct {
	root string
	opts pipeline.StaticOptions
}

// Static returns a static asset stage rooted at dir. The directory does not
// need to exist yet.
func Static(dir string, opts pipeline.StaticOptions) (pipeline.Handler, error) {
	if dir == "" {
		return nil, fmt.Errorf("static: empty directory")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("static: resolve %q: %w", dir, err)
	}
	return &StaticStage{root: root, opts: opts}, nil
}

// Root returns the served directory
func (s *StaticStage) Root() string {
	return s.root
}

// Handle serves the file matching the request path, trying "<path>",
// "<path>.html" and "<path>/index.html" in that order.
func (s *StaticStage) Handle(w http.ResponseWriter, r *http.Request) pipeline.Outcome {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return pipeline.Continue()
	}

	name := path.Clean("/" + r.URL.Path)
	if hiddenPath(name) {
		return pipeline.Continue()
	}

	f, info, ok := s.open(name, strings.HasSuffix(r.URL.Path, "/"))
	if !ok {
		return pipeline.Continue()
	}
	defer f.Close()

	h := w.Header()
	if s.opts.ETag {
		h.Set("ETag", fmt.Sprintf(`W/"%d-%d"`, info.Size(), info.ModTime().UnixMilli()))
	}
	if s.opts.Dev {
		h.Set("Cache-Control", "no-cache")
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return pipeline.Respond()
}

func (s *StaticStage) open(name string, dirOnly bool) (*os.File, os.FileInfo, bool) {
	var candidates []string
	if !dirOnly && name != "/" {
		candidates = append(candidates, name, name+".html")
	}
	candidates = append(candidates, path.Join(name, "index.html"))

	for _, c := range candidates {
		full := filepath.Join(s.root, filepath.FromSlash(c))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		f, err := os.Open(full)
		if err != nil {
			continue
		}
		return f, info, true
	}
	return nil, nil, false
}

// hiddenPath reports whether any segment is a dotfile, except .well-known
func hiddenPath(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") && seg != ".well-known" {
			return true
		}
	}
	return false
}
