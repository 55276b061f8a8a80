package extension

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dshills/artifex/internal/services"
)

// Manager owns the registry and drives every lifecycle transition.
// Operations are serialized; extension code never runs concurrently.
type Manager struct {
	mu sync.Mutex

	discoverer *Discoverer
	services   services.Services
	logger     *zap.SugaredLogger

	registry *Registry
	issues   []*Error

	hmu      sync.RWMutex
	handlers []EventHandler
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *zap.SugaredLogger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager. svc is handed to every instance on load.
func NewManager(d *Discoverer, svc services.Services, opts ...ManagerOption) *Manager {
	m := &Manager{
		discoverer: d,
		services:   svc,
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EventHandler receives lifecycle events. Handlers run after the
// operation has released the manager lock; panics are recovered.
type EventHandler func(Event)

// Event describes one attempted lifecycle transition.
type Event struct {
	Extension string
	Op        Op
	From      State
	To        State
	Err       error
	Duration  time.Duration
}

// Subscribe registers handler and returns a function that removes it.
func (m *Manager) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}
	m.hmu.Lock()
	m.handlers = append(m.handlers, handler)
	index := len(m.handlers) - 1
	m.hmu.Unlock()

	return func() {
		m.hmu.Lock()
		defer m.hmu.Unlock()
		if index < len(m.handlers) {
			m.handlers[index] = nil
		}
	}
}

func (m *Manager) emit(events ...Event) {
	m.hmu.RLock()
	handlers := make([]EventHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.hmu.RUnlock()

	for _, ev := range events {
		for _, h := range handlers {
			if h == nil {
				continue
			}
			func() {
				defer func() { _ = recover() }()
				h(ev)
			}()
		}
	}
}

// Discover builds the registry from the discoverer if it does not exist.
func (m *Manager) Discover(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureRegistry(ctx)
}

func (m *Manager) ensureRegistry(ctx context.Context) error {
	if m.registry != nil {
		return nil
	}
	found, err := m.discoverer.Discover(ctx)
	if err != nil {
		return errors.Wrap(err, "discover extensions")
	}
	reg, conflicts := NewRegistry(found.Types)
	for _, c := range conflicts {
		m.logger.Warnw("extension name conflict", "extension", c.Extension, "error", c.Err)
	}
	m.registry = reg
	m.issues = append(append([]*Error(nil), found.Issues...), conflicts...)
	m.logger.Infow("registry built", "extensions", reg.Len(), "issues", len(m.issues))
	return nil
}

// List returns a snapshot of every registered extension, sorted by name.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registry == nil {
		return nil
	}
	names := m.registry.SortedNames()
	out := make([]Info, 0, len(names))
	for _, name := range names {
		rec, _ := m.registry.get(name)
		out = append(out, rec.info())
	}
	return out
}

// Info returns the snapshot for name.
func (m *Manager) Info(name string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.lookup(name)
	if err != nil {
		return Info{}, err
	}
	return rec.info(), nil
}

// Issues returns discovery, validation and conflict errors from the last scan.
func (m *Manager) Issues() []*Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Error(nil), m.issues...)
}

// Has reports whether name is registered.
func (m *Manager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry != nil && m.registry.Has(name)
}

func (m *Manager) lookup(name string) (*record, error) {
	if m.registry == nil {
		return nil, errors.Wrapf(ErrNotFound, "%q (registry not built)", name)
	}
	rec, ok := m.registry.get(name)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", name)
	}
	return rec, nil
}

// Load constructs an instance of name, injecting the shared services.
func (m *Manager) Load(ctx context.Context, name string) error {
	m.mu.Lock()
	ev, err := m.load(ctx, name)
	m.mu.Unlock()
	m.emit(ev...)
	return err
}

func (m *Manager) load(_ context.Context, name string) ([]Event, error) {
	rec, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	tr, err := checkTransition(name, rec.state, OpLoad)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	from := rec.state
	var inst Extension
	callErr := recoverCall(func() error {
		var nerr error
		inst, nerr = rec.typ.New(m.services)
		return nerr
	})
	if callErr == nil && inst == nil {
		callErr = errors.New("constructor returned no instance")
	}
	if callErr != nil {
		m.fail(rec, tr.failure, KindLoad, OpLoad, callErr)
		return []Event{{name, OpLoad, from, rec.state, rec.lastErr, time.Since(start)}}, rec.lastErr
	}

	rec.instance = inst
	rec.state = tr.success
	rec.lastErr = nil
	m.logger.Debugw("extension loaded", "extension", name, "module", rec.typ.Module())
	return []Event{{name, OpLoad, from, rec.state, nil, time.Since(start)}}, nil
}

// Initialize runs the instance's one-time initialization.
func (m *Manager) Initialize(ctx context.Context, name string) error {
	m.mu.Lock()
	ev, err := m.initialize(ctx, name)
	m.mu.Unlock()
	m.emit(ev...)
	return err
}

func (m *Manager) initialize(ctx context.Context, name string) ([]Event, error) {
	rec, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	tr, err := checkTransition(name, rec.state, OpInitialize)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	from := rec.state
	if callErr := recoverCall(func() error { return rec.instance.Initialize(ctx) }); callErr != nil {
		m.fail(rec, tr.failure, KindInitialization, OpInitialize, callErr)
		return []Event{{name, OpInitialize, from, rec.state, rec.lastErr, time.Since(start)}}, rec.lastErr
	}
	rec.state = tr.success
	rec.lastErr = nil
	m.logger.Debugw("extension initialized", "extension", name)
	return []Event{{name, OpInitialize, from, rec.state, nil, time.Since(start)}}, nil
}

// Execute runs name with args. The extension must be initialized.
func (m *Manager) Execute(ctx context.Context, name string, args Args) (any, error) {
	m.mu.Lock()
	value, ev, err := m.execute(ctx, name, args)
	m.mu.Unlock()
	m.emit(ev...)
	return value, err
}

func (m *Manager) execute(ctx context.Context, name string, args Args) (any, []Event, error) {
	rec, err := m.lookup(name)
	if err != nil {
		return nil, nil, err
	}
	tr, err := checkTransition(name, rec.state, OpExecute)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	from := rec.state
	var value any
	callErr := recoverCall(func() error {
		var xerr error
		value, xerr = rec.instance.Execute(ctx, args)
		return xerr
	})
	rec.lastRun = start
	if callErr != nil {
		// The instance is kept for inspection; unload runs its cleanup.
		m.fail(rec, tr.failure, KindExecution, OpExecute, callErr)
		return nil, []Event{{name, OpExecute, from, rec.state, rec.lastErr, time.Since(start)}}, rec.lastErr
	}
	rec.state = tr.success
	rec.lastErr = nil
	rec.executions++
	return value, []Event{{name, OpExecute, from, rec.state, nil, time.Since(start)}}, nil
}

// Unload runs cleanup, drops the instance and returns the record to
// UNLOADED. Cleanup errors are logged and never returned. Unloading an
// UNLOADED record is a no-op.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	ev, err := m.unload(ctx, name)
	m.mu.Unlock()
	m.emit(ev...)
	return err
}

func (m *Manager) unload(ctx context.Context, name string) ([]Event, error) {
	rec, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	if rec.state == StateUnloaded {
		return nil, nil
	}
	if _, err := checkTransition(name, rec.state, OpUnload); err != nil {
		return nil, err
	}

	start := time.Now()
	from := rec.state
	m.cleanup(ctx, rec)
	rec.state = StateUnloaded
	rec.lastErr = nil
	rec.executions = 0
	return []Event{{name, OpUnload, from, rec.state, nil, time.Since(start)}}, nil
}

// Disable moves an extension in ERROR to DISABLED, cleaning up its instance.
func (m *Manager) Disable(ctx context.Context, name string) error {
	m.mu.Lock()
	ev, err := m.disable(ctx, name)
	m.mu.Unlock()
	m.emit(ev...)
	return err
}

func (m *Manager) disable(ctx context.Context, name string) ([]Event, error) {
	rec, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	tr, err := checkTransition(name, rec.state, OpDisable)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	from := rec.state
	m.cleanup(ctx, rec)
	rec.state = tr.success
	m.logger.Infow("extension disabled", "extension", name, "error", rec.lastErr)
	return []Event{{name, OpDisable, from, rec.state, nil, time.Since(start)}}, nil
}

// cleanup calls Cleanup on the instance if one exists and drops it.
func (m *Manager) cleanup(ctx context.Context, rec *record) {
	if rec.instance == nil {
		return
	}
	inst := rec.instance
	rec.instance = nil
	if err := recoverCall(func() error { return inst.Cleanup(ctx) }); err != nil {
		cerr := newError(KindCleanup, rec.name, OpUnload, err)
		m.logger.Warnw("extension cleanup failed", "extension", rec.name, "error", cerr)
	}
}

func (m *Manager) fail(rec *record, to State, kind Kind, op Op, err error) {
	rec.state = to
	rec.lastErr = newError(kind, rec.name, op, err)
	if !to.holdsInstance() {
		rec.instance = nil
	}
	m.logger.Warnw("extension "+string(op)+" failed", "extension", rec.name, "error", err)
}

// ReloadReport summarizes a Reload.
type ReloadReport struct {
	Added         []string
	Removed       []string
	Reinitialized []string
	// Failed maps names that could not be restored to their error.
	Failed map[string]error
}

// Reload unloads every extension, rescans all roots and rebuilds the
// registry. Extensions that were INITIALIZED or ACTIVE and still exist
// are loaded and initialized again.
func (m *Manager) Reload(ctx context.Context) (*ReloadReport, error) {
	m.mu.Lock()
	report, events, err := m.reload(ctx)
	m.mu.Unlock()
	m.emit(events...)
	return report, err
}

func (m *Manager) reload(ctx context.Context) (*ReloadReport, []Event, error) {
	var events []Event
	before := map[string]bool{}
	var wasReady []string

	if m.registry != nil {
		for _, name := range m.registry.Names() {
			rec, _ := m.registry.get(name)
			before[name] = true
			if rec.state.Ready() {
				wasReady = append(wasReady, name)
			}
			ev, _ := m.unload(ctx, name)
			events = append(events, ev...)
		}
	}

	m.discoverer.Invalidate()
	m.registry = nil
	m.issues = nil
	if err := m.ensureRegistry(ctx); err != nil {
		return nil, events, err
	}

	report := &ReloadReport{Failed: map[string]error{}}
	for _, name := range m.registry.Names() {
		if !before[name] {
			report.Added = append(report.Added, name)
		}
	}
	for name := range before {
		if !m.registry.Has(name) {
			report.Removed = append(report.Removed, name)
		}
	}
	sort.Strings(report.Added)
	sort.Strings(report.Removed)

	for _, name := range wasReady {
		if !m.registry.Has(name) {
			continue
		}
		ev, err := m.load(ctx, name)
		events = append(events, ev...)
		if err == nil {
			ev, err = m.initialize(ctx, name)
			events = append(events, ev...)
		}
		if err != nil {
			report.Failed[name] = err
			continue
		}
		report.Reinitialized = append(report.Reinitialized, name)
	}

	events = append(events, Event{Op: OpReload, To: StateUnloaded})
	m.logger.Infow("extensions reloaded",
		"added", report.Added, "removed", report.Removed, "reinitialized", report.Reinitialized)
	return report, events, nil
}

// Shutdown unloads every extension.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	var events []Event
	if m.registry != nil {
		for _, name := range m.registry.Names() {
			ev, _ := m.unload(ctx, name)
			events = append(events, ev...)
		}
	}
	m.mu.Unlock()
	m.emit(events...)
}

// recoverCall runs fn and turns a panic into an error.
func recoverCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
		}
	}()
	return fn()
}
