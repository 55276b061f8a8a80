package extension

import (
	"context"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, types ...Type) *Manager {
	t.Helper()
	m := NewManager(NewDiscoverer(WithBuiltins(types...)), nil)
	require.NoError(t, m.Discover(context.Background()))
	return m
}

func stateOf(t *testing.T, m *Manager, name string) State {
	t.Helper()
	info, err := m.Info(name)
	require.NoError(t, err)
	return info.State
}

func TestLifecycleHappyPath(t *testing.T) {
	b := &behavior{}
	m := newTestManager(t, fakeType("alpha", nil, b))
	ctx := context.Background()

	assert.Equal(t, StateUnloaded, stateOf(t, m, "alpha"))
	require.NoError(t, m.Load(ctx, "alpha"))
	assert.Equal(t, StateLoaded, stateOf(t, m, "alpha"))
	require.NoError(t, m.Initialize(ctx, "alpha"))
	assert.Equal(t, StateInitialized, stateOf(t, m, "alpha"))

	v, err := m.Execute(ctx, "alpha", Args{Positional: []any{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "alpha", "args": 2}, v)
	assert.Equal(t, StateActive, stateOf(t, m, "alpha"))

	require.NoError(t, m.Unload(ctx, "alpha"))
	assert.Equal(t, StateUnloaded, stateOf(t, m, "alpha"))
	assert.Equal(t, 1, b.cleanups)
}

func TestExecuteTwiceDoesNotReinitialize(t *testing.T) {
	b := &behavior{}
	m := newTestManager(t, fakeType("alpha", []string{"ios"}, b))
	ctx := context.Background()
	require.NoError(t, m.Load(ctx, "alpha"))
	require.NoError(t, m.Initialize(ctx, "alpha"))

	before, err := m.Info("alpha")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := m.Execute(ctx, "alpha", Args{})
		require.NoError(t, err)
	}
	after, err := m.Info("alpha")
	require.NoError(t, err)

	assert.Equal(t, 1, b.inits)
	assert.Equal(t, 2, b.execs)
	assert.Equal(t, 2, after.Executions)
	assert.Equal(t, before.Metadata, after.Metadata)
	assert.Equal(t, StateActive, after.State)
}

func TestExecuteBeforeInitialize(t *testing.T) {
	m := newTestManager(t, fakeType("alpha", nil, &behavior{}))
	ctx := context.Background()

	_, err := m.Execute(ctx, "alpha", Args{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.Equal(t, StateUnloaded, stateOf(t, m, "alpha"))

	require.NoError(t, m.Load(ctx, "alpha"))
	_, err = m.Execute(ctx, "alpha", Args{})
	assert.Equal(t, KindNotInitialized, KindOf(err))
	assert.Equal(t, StateLoaded, stateOf(t, m, "alpha"))
}

func TestInvalidTransitions(t *testing.T) {
	m := newTestManager(t, fakeType("alpha", nil, &behavior{}))
	ctx := context.Background()

	err := m.Initialize(ctx, "alpha")
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	require.NoError(t, m.Load(ctx, "alpha"))
	assert.True(t, errors.Is(m.Load(ctx, "alpha"), ErrInvalidTransition))
	assert.True(t, errors.Is(m.Disable(ctx, "alpha"), ErrInvalidTransition))
	assert.Equal(t, StateLoaded, stateOf(t, m, "alpha"))

	assert.True(t, errors.Is(m.Load(ctx, "missing"), ErrNotFound))
	require.NoError(t, m.Unload(ctx, "alpha"))
	require.NoError(t, m.Unload(ctx, "alpha"), "unloading an unloaded extension is a no-op")
}

func TestFailuresMoveToError(t *testing.T) {
	ctx := context.Background()

	t.Run("load", func(t *testing.T) {
		m := newTestManager(t, fakeType("alpha", nil, &behavior{failNew: true}))
		err := m.Load(ctx, "alpha")
		assert.Equal(t, KindLoad, KindOf(err))
		info, _ := m.Info("alpha")
		assert.Equal(t, StateError, info.State)
		assert.Error(t, info.Err)
	})

	t.Run("initialize", func(t *testing.T) {
		b := &behavior{failInit: true}
		m := newTestManager(t, fakeType("alpha", nil, b))
		require.NoError(t, m.Load(ctx, "alpha"))
		err := m.Initialize(ctx, "alpha")
		assert.True(t, errors.Is(err, ErrInitialization))
		assert.Equal(t, StateError, stateOf(t, m, "alpha"))

		// ERROR is fail-closed until unloaded.
		_, err = m.Execute(ctx, "alpha", Args{})
		assert.True(t, errors.Is(err, ErrInvalidTransition))

		require.NoError(t, m.Unload(ctx, "alpha"))
		assert.Equal(t, 1, b.cleanups, "instance kept in ERROR is cleaned up on unload")
	})

	t.Run("execute panic", func(t *testing.T) {
		b := &behavior{panicExec: true}
		m := newTestManager(t, fakeType("alpha", nil, b))
		require.NoError(t, m.Load(ctx, "alpha"))
		require.NoError(t, m.Initialize(ctx, "alpha"))
		_, err := m.Execute(ctx, "alpha", Args{})
		assert.Equal(t, KindExecution, KindOf(err))
		assert.Contains(t, err.Error(), "exec panic")
		assert.Equal(t, StateError, stateOf(t, m, "alpha"))
	})
}

func TestUnloadAlwaysReturnsUnloadedWhenCleanupFails(t *testing.T) {
	b := &behavior{failCleanup: true}
	m := newTestManager(t, fakeType("alpha", nil, b))
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "alpha"))
	require.NoError(t, m.Initialize(ctx, "alpha"))
	require.NoError(t, m.Unload(ctx, "alpha"))
	assert.Equal(t, StateUnloaded, stateOf(t, m, "alpha"))
	assert.Equal(t, 1, b.cleanups)

	info, err := m.Info("alpha")
	require.NoError(t, err)
	assert.NoError(t, info.Err)
}

func TestDisableFromError(t *testing.T) {
	b := &behavior{failExec: true}
	m := newTestManager(t, fakeType("alpha", nil, b))
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "alpha"))
	require.NoError(t, m.Initialize(ctx, "alpha"))
	_, err := m.Execute(ctx, "alpha", Args{})
	require.Error(t, err)

	require.NoError(t, m.Disable(ctx, "alpha"))
	assert.Equal(t, StateDisabled, stateOf(t, m, "alpha"))
	assert.Equal(t, 1, b.cleanups)

	assert.True(t, errors.Is(m.Load(ctx, "alpha"), ErrInvalidTransition))
	require.NoError(t, m.Unload(ctx, "alpha"))
	assert.Equal(t, StateUnloaded, stateOf(t, m, "alpha"))
	assert.Equal(t, 1, b.cleanups, "disabled extensions hold no instance")
}

func TestStateIsAlwaysOneOfSix(t *testing.T) {
	valid := map[State]bool{
		StateUnloaded: true, StateLoaded: true, StateInitialized: true,
		StateActive: true, StateError: true, StateDisabled: true,
	}
	b := &behavior{}
	m := newTestManager(t, fakeType("alpha", nil, b))
	ctx := context.Background()

	ops := []func(){
		func() { _ = m.Load(ctx, "alpha") },
		func() { _ = m.Initialize(ctx, "alpha") },
		func() { _, _ = m.Execute(ctx, "alpha", Args{}) },
		func() { _ = m.Disable(ctx, "alpha") },
		func() { b.failExec = !b.failExec },
		func() { _ = m.Unload(ctx, "alpha") },
	}
	var seenActiveWithoutInit bool
	for i := 0; i < 60; i++ {
		ops[(i*7)%len(ops)]()
		s := stateOf(t, m, "alpha")
		require.True(t, valid[s], "state %v", s)
		if s == StateActive && b.inits == 0 {
			seenActiveWithoutInit = true
		}
	}
	assert.False(t, seenActiveWithoutInit)
}

func TestManagerEvents(t *testing.T) {
	m := newTestManager(t, fakeType("alpha", nil, &behavior{}))
	ctx := context.Background()

	var mu sync.Mutex
	var events []Event
	unsubscribe := m.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	m.Subscribe(func(Event) { panic("handler panic is recovered") })

	require.NoError(t, m.Load(ctx, "alpha"))
	require.NoError(t, m.Initialize(ctx, "alpha"))
	unsubscribe()
	require.NoError(t, m.Unload(ctx, "alpha"))

	require.Len(t, events, 2)
	assert.Equal(t, OpLoad, events[0].Op)
	assert.Equal(t, StateUnloaded, events[0].From)
	assert.Equal(t, StateLoaded, events[0].To)
	assert.Equal(t, OpInitialize, events[1].Op)
}

func TestReloadRebuildsRegistry(t *testing.T) {
	fsys := fstest.MapFS{
		"keep.ext": {Data: []byte("Keep keep 1.0.0")},
		"gone.ext": {Data: []byte("Gone gone 1.0.0")},
	}
	loader := &lineLoader{}
	d := NewDiscoverer(WithRoots(Root{Name: "r", FS: fsys}), WithLoaders(loader))
	m := NewManager(d, nil)
	ctx := context.Background()
	require.NoError(t, m.Discover(ctx))

	require.NoError(t, m.Load(ctx, "keep"))
	require.NoError(t, m.Initialize(ctx, "keep"))
	_, err := m.Execute(ctx, "keep", Args{})
	require.NoError(t, err)

	delete(fsys, "gone.ext")
	fsys["new.ext"] = &fstest.MapFile{Data: []byte("New new 1.0.0")}

	report, err := m.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, report.Added)
	assert.Equal(t, []string{"gone"}, report.Removed)
	assert.Equal(t, []string{"keep"}, report.Reinitialized)
	assert.Empty(t, report.Failed)

	assert.False(t, m.Has("gone"))
	assert.True(t, m.Has("new"))
	assert.Equal(t, StateInitialized, stateOf(t, m, "keep"))
	assert.Equal(t, StateUnloaded, stateOf(t, m, "new"))
	assert.Equal(t, 1, loader.behaviors["keep"].cleanups)
	assert.Equal(t, 2, loader.behaviors["keep"].inits)
}

func TestShutdownUnloadsAll(t *testing.T) {
	a, b := &behavior{}, &behavior{}
	m := newTestManager(t, fakeType("a", nil, a), fakeType("b", nil, b))
	ctx := context.Background()
	require.NoError(t, m.Load(ctx, "a"))
	require.NoError(t, m.Load(ctx, "b"))
	require.NoError(t, m.Initialize(ctx, "b"))

	m.Shutdown(ctx)
	for _, info := range m.List() {
		assert.Equal(t, StateUnloaded, info.State, info.Name)
	}
	assert.Equal(t, 1, a.cleanups)
	assert.Equal(t, 1, b.cleanups)
}
