// Package host wires configuration, services, discovery, the lifecycle
// manager, batch execution, metrics and watch mode into one unit owned
// by the CLI.
package host

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dshills/artifex/extensions"
	"github.com/dshills/artifex/internal/builtin"
	"github.com/dshills/artifex/internal/config"
	"github.com/dshills/artifex/internal/extension"
	"github.com/dshills/artifex/internal/extension/lua"
	"github.com/dshills/artifex/internal/metrics"
	"github.com/dshills/artifex/internal/services"
)

// BundledRoot names the root holding the extensions embedded in the binary.
const BundledRoot = "bundled"

// InitError reports a component that failed to start.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string { return fmt.Sprintf("initializing %s: %v", e.Component, e.Err) }
func (e *InitError) Unwrap() error { return e.Err }

// Options configures a Host.
type Options struct {
	Config config.Config
	Logger *zap.SugaredLogger
	// Stdout receives console output. Defaults to os.Stdout.
	Stdout io.Writer
	// Roots replaces the roots derived from Config. Used by tests.
	Roots []extension.Root
	// Builtins replaces the built-in Go extensions.
	Builtins []extension.Type
}

// Host owns every long-lived component of one CLI invocation.
type Host struct {
	cfg    config.Config
	logger *zap.SugaredLogger

	services     *services.Facade
	discoverer   *extension.Discoverer
	manager      *extension.Manager
	orchestrator *extension.Orchestrator
	metrics      *metrics.Metrics

	watchDirs   []string
	unsubscribe func()
	closed      bool
}

// New builds a Host. Roots that do not exist are skipped during
// discovery; an archive path that does not exist is an error.
func New(opts Options) (*Host, error) {
	h := &Host{cfg: opts.Config, logger: opts.Logger}
	if h.logger == nil {
		h.logger = zap.NewNop().Sugar()
	}
	if err := h.bootstrap(opts); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Host) bootstrap(opts Options) error {
	cfg := h.cfg
	if err := cfg.Validate(); err != nil {
		return &InitError{Component: "config", Err: err}
	}
	hostVersion, err := cfg.HostSemver()
	if err != nil {
		return &InitError{Component: "config", Err: err}
	}

	// 1. Services
	if cfg.Input.Archive != "" {
		if _, err := os.Stat(cfg.Input.Archive); err != nil {
			return &InitError{Component: "archive", Err: errors.WithHint(
				errors.Wrapf(err, "evidence archive %s", cfg.Input.Archive),
				"pass --archive with a zip, tar, tar.gz or directory")}
		}
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	format, err := services.ParseFormat(cfg.Output.ReportFormat)
	if err != nil {
		return &InitError{Component: "services", Err: err}
	}
	h.services, err = services.New(services.Options{
		ArchivePath:  cfg.Input.Archive,
		OutputDir:    cfg.Output.Dir,
		ReportFormat: format,
		Logger:       h.logger.Named("services"),
		Console: services.NewConsole(services.ConsoleOptions{
			Writer:      stdout,
			Interactive: cfg.Console.Interactive,
			AssumeYes:   cfg.Console.AssumeYes,
			NoColor:     !cfg.Console.Color,
		}),
	})
	if err != nil {
		return &InitError{Component: "services", Err: err}
	}

	// 2. Discovery
	roots := opts.Roots
	if roots == nil {
		roots, h.watchDirs = h.roots()
	}
	builtins := opts.Builtins
	if builtins == nil {
		builtins = builtin.Types()
	}
	h.discoverer = extension.NewDiscoverer(
		extension.WithRoots(roots...),
		extension.WithLoaders(lua.NewLoader(lua.WithCallStackSize(cfg.Extensions.LuaCallStack))),
		extension.WithBuiltins(builtins...),
		extension.WithHostVersion(hostVersion),
		extension.WithDiscoveryLogger(h.logger.Named("discovery")),
	)

	// 3. Manager and batch execution
	h.manager = extension.NewManager(h.discoverer, h.services, extension.WithLogger(h.logger.Named("manager")))
	h.orchestrator = extension.NewOrchestrator(h.manager, h.services, h.logger.Named("batch"))

	// 4. Metrics
	h.metrics = metrics.New(nil)
	h.unsubscribe = h.metrics.Attach(h.manager)
	return nil
}

// roots returns the discovery roots in precedence order and the disk
// directories among them.
func (h *Host) roots() ([]extension.Root, []string) {
	var (
		roots []extension.Root
		dirs  []string
	)
	if h.cfg.Extensions.Bundled {
		roots = append(roots, extension.Root{Name: BundledRoot, FS: extensions.FS()})
	}
	if rel := h.cfg.Extensions.ExecutableDir; rel != "" {
		if r, err := extension.ExecutableRoot(rel); err != nil {
			h.logger.Warnw("executable extension directory unavailable", "error", err)
		} else {
			roots = append(roots, r)
			dirs = append(dirs, filepath.FromSlash(r.Name))
		}
	}
	for _, p := range h.cfg.Extensions.Paths {
		roots = append(roots, extension.DirRoot(p))
		dirs = append(dirs, p)
	}
	return roots, dirs
}

func (h *Host) Config() config.Config                 { return h.cfg }
func (h *Host) Logger() *zap.SugaredLogger            { return h.logger }
func (h *Host) Services() *services.Facade            { return h.services }
func (h *Host) Manager() *extension.Manager           { return h.manager }
func (h *Host) Orchestrator() *extension.Orchestrator { return h.orchestrator }
func (h *Host) Metrics() *metrics.Metrics             { return h.metrics }

// Discover scans every root and logs each issue found.
func (h *Host) Discover(ctx context.Context) error {
	if err := h.manager.Discover(ctx); err != nil {
		return err
	}
	for _, issue := range h.manager.Issues() {
		h.logger.Warnw("extension skipped", "path", issue.Path, "kind", issue.Kind.String(), "error", issue.Err)
	}
	return nil
}

// Run executes a selection and records it in the metrics.
func (h *Host) Run(ctx context.Context, sel extension.Selection, args extension.Args) (*extension.Summary, error) {
	summary, err := h.orchestrator.Run(ctx, sel, args)
	if err != nil {
		return nil, err
	}
	h.metrics.ObserveBatch(summary)
	return summary, nil
}

// Close unloads every extension, writes the metrics textfile when one
// is configured and releases services. It is safe to call twice.
func (h *Host) Close(ctx context.Context) error {
	if h.closed {
		return nil
	}
	h.closed = true

	h.manager.Shutdown(ctx)
	h.unsubscribe()

	var errs []error
	if path := h.cfg.Metrics.File; path != "" {
		errs = append(errs, h.metrics.WriteTextfile(path))
	}
	errs = append(errs, h.services.Close())
	_ = h.logger.Sync()
	return errors.Join(errs...)
}
