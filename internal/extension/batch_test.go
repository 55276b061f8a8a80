package extension

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/artifex/internal/platform"
)

type staticDetector struct {
	label platform.Platform
	err   error
}

func (d staticDetector) DetectPlatform(context.Context) (platform.Platform, error) {
	return d.label, d.err
}

func resultNames(s *Summary) []string {
	out := make([]string, len(s.Results))
	for i, r := range s.Results {
		out[i] = r.Name
	}
	return out
}

func TestBatchContinuesAfterFailure(t *testing.T) {
	m := newTestManager(t,
		fakeType("one", nil, &behavior{}),
		fakeType("two", nil, &behavior{failInit: true}),
		fakeType("three", nil, &behavior{}),
	)
	o := NewOrchestrator(m, nil, nil)

	summary, err := o.Run(context.Background(), Selection{Names: []string{"one", "two", "three"}}, Args{})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Success)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"one", "two", "three"}, resultNames(summary))
	assert.False(t, summary.OK())
	assert.Equal(t, 1, summary.ExitCode())

	failed := summary.Results[1]
	assert.False(t, failed.Success)
	assert.Equal(t, OpInitialize, failed.Stage)
	assert.True(t, errors.Is(failed.Err, ErrInitialization))
	assert.NotEqual(t, uuid.Nil, summary.ID)
}

func TestSelectionModesAreExclusive(t *testing.T) {
	b := &behavior{}
	m := newTestManager(t, fakeType("one", nil, b))
	o := NewOrchestrator(m, nil, nil)
	ctx := context.Background()

	for _, sel := range []Selection{
		{},
		{Name: "one", All: true},
		{Names: []string{"one"}, All: true},
		{Names: []string{"one"}, Platform: "ios"},
		{Name: "one", Names: []string{"one"}, All: true, Platform: "ios"},
	} {
		summary, err := o.Run(ctx, sel, Args{})
		require.Error(t, err, "%+v", sel)
		assert.True(t, errors.Is(err, ErrConfiguration))
		assert.Nil(t, summary)
	}
	assert.Zero(t, b.inits+b.execs, "nothing runs for a rejected selection")
}

func TestSelectionUnknownNames(t *testing.T) {
	m := newTestManager(t, fakeType("one", nil, &behavior{}))
	o := NewOrchestrator(m, nil, nil)
	ctx := context.Background()

	_, err := o.Run(ctx, Selection{Name: "nope"}, Args{})
	assert.Equal(t, KindConfiguration, KindOf(err))

	_, err = o.Run(ctx, Selection{Names: []string{"one", "nope"}}, Args{})
	assert.Equal(t, KindConfiguration, KindOf(err))
	info, _ := m.Info("one")
	assert.Equal(t, StateUnloaded, info.State)

	_, err = o.Run(ctx, Selection{Platform: "amiga"}, Args{})
	assert.Equal(t, KindConfiguration, KindOf(err))
}

func TestExplicitListDedupesInOrder(t *testing.T) {
	a, b := &behavior{}, &behavior{}
	m := newTestManager(t, fakeType("a", nil, a), fakeType("b", nil, b))
	o := NewOrchestrator(m, nil, nil)

	names, _, err := o.Resolve(context.Background(), Selection{Names: []string{"b", "a", "b", "a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, names)
}

func TestAllCompatibleUsesDetectedPlatform(t *testing.T) {
	m := newTestManager(t,
		fakeType("any-ext", nil, &behavior{}),
		fakeType("ios-ext", []string{"ios"}, &behavior{}),
		fakeType("android-ext", []string{"android"}, &behavior{}),
		fakeType("mobile-ext", []string{"ios", "android"}, &behavior{}),
	)
	ctx := context.Background()

	o := NewOrchestrator(m, staticDetector{label: platform.IOS}, nil)
	summary, err := o.Run(ctx, Selection{All: true}, Args{})
	require.NoError(t, err)
	assert.Equal(t, platform.IOS, summary.Platform)
	assert.Equal(t, []string{"any-ext", "ios-ext", "mobile-ext"}, resultNames(summary))
	assert.True(t, summary.OK())

	failing := NewOrchestrator(m, staticDetector{err: errors.New("unreadable")}, nil)
	names, label, err := failing.Resolve(ctx, Selection{All: true})
	require.NoError(t, err)
	assert.Equal(t, platform.Unknown, label)
	assert.Equal(t, []string{"any-ext"}, names)
}

func TestPlatformFilteredSkipsDisabled(t *testing.T) {
	m := newTestManager(t,
		fakeType("a", []string{"android"}, &behavior{}),
		fakeType("b", []string{"android"}, &behavior{failNew: true}),
	)
	ctx := context.Background()
	require.Error(t, m.Load(ctx, "b"))
	require.NoError(t, m.Disable(ctx, "b"))

	o := NewOrchestrator(m, nil, nil)
	names, label, err := o.Resolve(ctx, Selection{Platform: "Android"})
	require.NoError(t, err)
	assert.Equal(t, platform.Android, label)
	assert.Equal(t, []string{"a"}, names)

	summary, err := o.Run(ctx, Selection{Name: "b"}, Args{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, errors.Is(summary.Results[0].Err, ErrInvalidTransition))
}

func TestRunResumesFromCurrentState(t *testing.T) {
	b := &behavior{}
	m := newTestManager(t, fakeType("a", nil, b))
	o := NewOrchestrator(m, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		summary, err := o.Run(ctx, Selection{Name: "a"}, Args{})
		require.NoError(t, err)
		require.True(t, summary.OK())
	}
	assert.Equal(t, 1, b.inits)
	assert.Equal(t, 3, b.execs)
}
