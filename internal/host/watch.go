package host

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/dshills/artifex/internal/extension"
	"github.com/dshills/artifex/internal/extension/lua"
	"github.com/dshills/artifex/internal/watcher"
)

// ErrNothingToWatch is returned by Watch when no extension directory exists.
var ErrNothingToWatch = errors.New("no extension directories to watch")

// WatchOptions configures Watch.
type WatchOptions struct {
	// Selection, when set, is run after every successful reload.
	Selection *extension.Selection
	Args      extension.Args
	// OnReload observes each reload. Summary is nil unless Selection is set.
	OnReload func(report *extension.ReloadReport, summary *extension.Summary, err error)
}

// WatchDirs returns the on-disk extension directories that exist.
func (h *Host) WatchDirs() []string {
	var out []string
	for _, d := range h.watchDirs {
		if info, err := os.Stat(d); err == nil && info.IsDir() {
			out = append(out, d)
		}
	}
	return out
}

// Watch reloads the registry whenever an extension file changes, until
// ctx is done.
func (h *Host) Watch(ctx context.Context, opts WatchOptions) error {
	dirs := h.WatchDirs()
	if len(dirs) == 0 {
		return errors.WithHint(ErrNothingToWatch, "pass --extensions-dir or set extensions.paths")
	}
	delay, err := h.cfg.DebounceInterval()
	if err != nil {
		return err
	}

	log := h.logger.Named("watch")
	w, err := watcher.New(
		watcher.WithDelay(delay),
		watcher.WithPatterns(lua.SourcePattern),
		watcher.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			return err
		}
	}
	log.Infow("watching extension directories", "dirs", w.Paths(), "debounce", delay)

	return w.Run(ctx, func(ctx context.Context, events []watcher.Event) {
		for _, ev := range events {
			log.Debugw("extension file changed", "path", ev.Path, "op", ev.Op.String())
		}
		report, err := h.manager.Reload(ctx)
		if err == nil {
			for _, issue := range h.manager.Issues() {
				log.Warnw("extension skipped", "path", issue.Path, "error", issue.Err)
			}
		}
		var summary *extension.Summary
		if err == nil && opts.Selection != nil {
			summary, err = h.Run(ctx, *opts.Selection, opts.Args)
		}
		if opts.OnReload != nil {
			opts.OnReload(report, summary, err)
		}
	})
}
