package devmiddleware

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"devserver/pkg/contracts/events"
)

// ErrCompilerClosed is returned by Watch and Rebuild after Close
var ErrCompilerClosed = errors.New("devmiddleware: compiler closed")

// Hooks receive build lifecycle events. OnInvalid fires when a rebuild starts,
// OnDone when it finishes.
type Hooks struct {
	OnInvalid func()
	OnDone    func(events.BuildStats)
}

// Compiler produces the build output served by the dev middleware
type Compiler interface {
	// Watch runs the first build and keeps reporting rebuilds until ctx ends
	// or the compiler is closed.
	Watch(ctx context.Context, hooks Hooks) error
	Close() error
}

// DirCompiler treats an output directory produced by an external tool as the
// build. A build fingerprints the directory. With a poll interval the
// directory is re-checked and every change is reported as a rebuild.
type DirCompiler struct {
	dir      string
	interval time.Duration

	mu       sync.Mutex
	hooks    Hooks
	lastHash string
	closed   bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewDirCompiler creates a compiler over dir. A zero interval disables
// polling.
func NewDirCompiler(dir string, interval time.Duration) *DirCompiler {
	return &DirCompiler{
		dir:      dir,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Dir returns the watched directory
func (c *DirCompiler) Dir() string {
	return c.dir
}

// Watch reports the first build synchronously, then polls in the background
func (c *DirCompiler) Watch(ctx context.Context, hooks Hooks) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCompilerClosed
	}
	c.hooks = hooks
	c.mu.Unlock()

	c.build(false)

	if c.interval > 0 {
		c.wg.Add(1)
		go c.poll(ctx)
	}
	return nil
}

// Rebuild reports invalid followed by a fresh build
func (c *DirCompiler) Rebuild() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrCompilerClosed
	}
	c.build(true)
	return nil
}

// Close stops polling. It is safe to call more than once.
func (c *DirCompiler) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *DirCompiler) poll(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			hash, _, err := fingerprint(c.dir)
			c.mu.Lock()
			changed := err == nil && hash != c.lastHash
			c.mu.Unlock()
			if changed {
				c.build(true)
			}
		}
	}
}

func (c *DirCompiler) build(invalidate bool) {
	c.mu.Lock()
	hooks := c.hooks
	c.mu.Unlock()

	if invalidate && hooks.OnInvalid != nil {
		hooks.OnInvalid()
	}

	hash, files, err := fingerprint(c.dir)

	c.mu.Lock()
	stats := events.BuildStats{Hash: hash, Emitted: hash != c.lastHash && files > 0}
	c.lastHash = hash
	c.mu.Unlock()

	switch {
	case err != nil:
		stats.Errors = []string{err.Error()}
	case files == 0:
		stats.Warnings = []string{fmt.Sprintf("output directory %s is empty", c.dir)}
	}

	if hooks.OnDone != nil {
		hooks.OnDone(stats)
	}
}

// fingerprint hashes the relative path, size and modification time of every
// regular file under dir
func fingerprint(dir string) (string, int, error) {
	type entry struct {
		rel  string
		size int64
		mod  int64
	}
	var entries []entry

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		entries = append(entries, entry{rel: filepath.ToSlash(rel), size: info.Size(), mod: info.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, fmt.Errorf("output directory %s does not exist", dir)
		}
		return "", 0, fmt.Errorf("scan output directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	d := xxhash.New()
	for _, e := range entries {
		_, _ = d.WriteString(e.rel)
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(strconv.FormatInt(e.size, 10))
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(strconv.FormatInt(e.mod, 10))
		_, _ = d.WriteString("\n")
	}
	return strconv.FormatUint(d.Sum64(), 16), len(entries), nil
}
