// Package watcher reports changes to extension directories.
//
// Raw fsnotify events are filtered by file pattern, then coalesced: a
// burst of changes within the debounce window is delivered to the
// handler as a single batch once the directory has been quiet for the
// whole window.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrPathNotExist    = errors.New("path does not exist")
)

// DefaultDelay is used when no positive debounce delay is configured.
const DefaultDelay = 250 * time.Millisecond

// Op is a bitmask of file system operations.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

func (op Op) String() string {
	if op == 0 {
		return "NONE"
	}
	var names []string
	for _, o := range []struct {
		op   Op
		name string
	}{{OpCreate, "CREATE"}, {OpWrite, "WRITE"}, {OpRemove, "REMOVE"}, {OpRename, "RENAME"}} {
		if op.Has(o.op) {
			names = append(names, o.name)
		}
	}
	if len(names) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(names, "|")
}

// Has reports whether op includes o.
func (op Op) Has(o Op) bool { return op&o == o }

// Event is one coalesced change to a path.
type Event struct {
	Path string
	Op   Op
}

// Handler receives a batch of coalesced events, sorted by path.
type Handler func(ctx context.Context, events []Event)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay sets the debounce window.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithPatterns limits events to files whose base name matches one of
// the glob patterns. Without patterns every file counts.
func WithPatterns(patterns ...string) Option {
	return func(w *Watcher) { w.patterns = append(w.patterns, patterns...) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher watches a set of directories.
type Watcher struct {
	fsw      *fsnotify.Watcher
	delay    time.Duration
	patterns []string
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	paths  map[string]bool
	closed bool
}

// New creates a watcher. Close releases it.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}
	w := &Watcher{
		fsw:    fsw,
		delay:  DefaultDelay,
		logger: zap.NewNop().Sugar(),
		paths:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add starts watching dir.
func (w *Watcher) Add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrapf(err, "resolving %s", dir)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(ErrPathNotExist, "%s", abs)
		}
		return errors.Wrapf(err, "stat %s", abs)
	}
	if !info.IsDir() {
		return errors.Newf("%s is not a directory", abs)
	}
	if w.paths[abs] {
		return ErrAlreadyWatching
	}
	if err := w.fsw.Add(abs); err != nil {
		return errors.Wrapf(err, "watching %s", abs)
	}
	w.paths[abs] = true
	return nil
}

// Paths returns the watched directories, sorted.
func (w *Watcher) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Run delivers batches to h until ctx is done or the watcher is closed.
// h runs on the calling goroutine, so batches never overlap.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	return w.run(ctx, w.fsw.Events, w.fsw.Errors, h)
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, h Handler) error {
	pending := make(map[string]Op)
	timer := time.NewTimer(w.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return ErrWatcherClosed
			}
			op := convertOp(ev.Op)
			if op == 0 || !w.accept(ev.Name) {
				continue
			}
			pending[ev.Name] |= op
			timer.Reset(w.delay)

		case err, ok := <-errs:
			if !ok {
				return ErrWatcherClosed
			}
			w.logger.Warnw("watch error", "error", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := drain(pending)
			w.logger.Debugw("changes settled", "events", len(batch))
			h(ctx, batch)
		}
	}
}

func drain(pending map[string]Op) []Event {
	batch := make([]Event, 0, len(pending))
	for p, op := range pending {
		batch = append(batch, Event{Path: p, Op: op})
		delete(pending, p)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	return batch
}

func (w *Watcher) accept(name string) bool {
	base := filepath.Base(name)
	if base == "" || base[0] == '.' {
		return false
	}
	if len(w.patterns) == 0 {
		return true
	}
	for _, p := range w.patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}

// Close stops watching. Run returns once its event channel closes.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return errors.Wrap(w.fsw.Close(), "closing file watcher")
}
