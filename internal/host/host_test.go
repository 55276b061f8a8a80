package host

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/artifex/internal/config"
	"github.com/dshills/artifex/internal/extension"
)

const localExt = `
Local = Extension.extend({ metadata = { name = "local-check", version = "1.0.0" } })
function Local:initialize() end
function Local:execute() return self.services.get("archive.overview") ~= nil end
function Local:cleanup() end
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Extensions.ExecutableDir = ""
	cfg.Extensions.Paths = []string{t.TempDir()}
	cfg.Output.Dir = t.TempDir()
	cfg.Console.Interactive = false
	cfg.Watch.Debounce = "20ms"
	return cfg
}

func newHost(t *testing.T, cfg config.Config) *Host {
	t.Helper()
	h, err := New(Options{Config: cfg, Stdout: &bytes.Buffer{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

func TestHostDiscoversEveryRoot(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Extensions.Paths[0], "local.lua"), []byte(localExt), 0o644))

	h := newHost(t, cfg)
	require.NoError(t, h.Discover(context.Background()))

	var names []string
	for _, info := range h.Manager().List() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{
		"android-accounts", "archive-inventory", "archive-overview",
		"ios-device-info", "local-check", "store-report",
	}, names)
	assert.Equal(t, cfg.Extensions.Paths, h.WatchDirs())
}

func TestHostBundledDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Extensions.Bundled = false
	h := newHost(t, cfg)
	require.NoError(t, h.Discover(context.Background()))
	assert.False(t, h.Manager().Has("archive-overview"))
	assert.True(t, h.Manager().Has("store-report"), "Go built-ins are always present")
}

func TestHostRunAndMetricsFile(t *testing.T) {
	cfg := testConfig(t)
	archive := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(archive, "readme.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Extensions.Paths[0], "local.lua"), []byte(localExt), 0o644))
	cfg.Input.Archive = archive
	cfg.Metrics.File = filepath.Join(t.TempDir(), "artifex.prom")

	h, err := New(Options{Config: cfg, Stdout: &bytes.Buffer{}})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, h.Discover(ctx))

	summary, err := h.Run(ctx, extension.Selection{Names: []string{"archive-overview", "local-check"}}, extension.Args{})
	require.NoError(t, err)
	require.True(t, summary.OK(), "%+v", summary.Results)
	assert.Equal(t, true, summary.Results[1].Value)

	require.NoError(t, h.Close(ctx))
	require.NoError(t, h.Close(ctx))
	data, err := os.ReadFile(cfg.Metrics.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), `artifex_batches_total{outcome="success"} 1`)

	info, err := h.Manager().Info("local-check")
	require.NoError(t, err)
	assert.Equal(t, extension.StateUnloaded, info.State, "close unloads everything")
}

func TestHostMissingArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Input.Archive = filepath.Join(t.TempDir(), "missing.zip")
	_, err := New(Options{Config: cfg})
	var ie *InitError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "archive", ie.Component)
}

func TestHostWatchReloads(t *testing.T) {
	cfg := testConfig(t)
	h := newHost(t, cfg)
	require.NoError(t, h.Discover(context.Background()))
	require.False(t, h.Manager().Has("local-check"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reloaded := make(chan *extension.ReloadReport, 4)
	done := make(chan error, 1)
	go func() {
		done <- h.Watch(ctx, WatchOptions{OnReload: func(r *extension.ReloadReport, _ *extension.Summary, err error) {
			if err == nil {
				reloaded <- r
			}
		}})
	}()

	dir := cfg.Extensions.Paths[0]
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "local.lua"), []byte(localExt), 0o644))
		select {
		case r := <-reloaded:
			if !slices.Contains(r.Added, "local-check") {
				continue
			}
			assert.True(t, h.Manager().Has("local-check"))
			cancel()
			assert.NoError(t, <-done)
			return
		case <-tick.C:
		case <-ctx.Done():
			t.Fatal("no reload observed")
		}
	}
}

func TestHostWatchNothing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Extensions.Paths = nil
	h := newHost(t, cfg)
	assert.ErrorIs(t, h.Watch(context.Background(), WatchOptions{}), ErrNothingToWatch)
}
