// Package config loads host configuration from a TOML file, ARTIFEX_*
// environment variables and command-line overrides, in that order of
// increasing precedence.
package config

import (
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/artifex/internal/services"
)

// HostVersion is the version extensions' requires_host constraints are
// checked against.
const HostVersion = "1.0.0"

// Config is the full host configuration.
type Config struct {
	Host       HostConfig       `toml:"host"`
	Input      InputConfig      `toml:"input"`
	Extensions ExtensionsConfig `toml:"extensions"`
	Output     OutputConfig     `toml:"output"`
	Log        LogConfig        `toml:"log"`
	Console    ConsoleConfig    `toml:"console"`
	Watch      WatchConfig      `toml:"watch"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// HostConfig identifies the host.
type HostConfig struct {
	Version string `toml:"version"`
}

// InputConfig selects the evidence source.
type InputConfig struct {
	// Archive is a zip, tar, tar.gz or directory. Empty means none.
	Archive string `toml:"archive"`
}

// ExtensionsConfig controls discovery roots.
type ExtensionsConfig struct {
	// Paths are extra directories searched after the bundle and the
	// executable-relative directory.
	Paths []string `toml:"paths"`
	// Bundled enables the extensions embedded in the binary.
	Bundled bool `toml:"bundled"`
	// ExecutableDir is resolved relative to the running executable.
	// Empty disables it.
	ExecutableDir string `toml:"executable_dir"`
	// LuaCallStack bounds the call depth of every Lua extension.
	LuaCallStack int `toml:"lua_call_stack"`
}

// OutputConfig controls where artifacts are written.
type OutputConfig struct {
	Dir          string `toml:"dir"`
	ReportFormat string `toml:"report_format"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// ConsoleConfig controls the interactive console.
type ConsoleConfig struct {
	Color       bool `toml:"color"`
	AssumeYes   bool `toml:"assume_yes"`
	Interactive bool `toml:"interactive"`
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	Debounce string `toml:"debounce"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	File string `toml:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host: HostConfig{Version: HostVersion},
		Extensions: ExtensionsConfig{
			Paths:         []string{},
			Bundled:       true,
			ExecutableDir: "extensions",
			LuaCallStack:  256,
		},
		Output:  OutputConfig{Dir: "artifex-out", ReportFormat: string(services.FormatJSON)},
		Log:     LogConfig{Level: "info"},
		Console: ConsoleConfig{Color: true, Interactive: true},
		Watch:   WatchConfig{Debounce: "250ms"},
	}
}

// Validate checks values that cannot be expressed by types alone.
func (c Config) Validate() error {
	var errs []error
	if _, err := semver.NewVersion(c.Host.Version); err != nil {
		errs = append(errs, errors.Wrapf(err, "host.version %q", c.Host.Version))
	}
	if _, err := services.ParseFormat(c.Output.ReportFormat); err != nil {
		errs = append(errs, errors.Wrap(err, "output.report_format"))
	}
	if c.Extensions.LuaCallStack < 1 {
		errs = append(errs, errors.Newf("extensions.lua_call_stack must be positive, got %d", c.Extensions.LuaCallStack))
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		errs = append(errs, errors.New("output.dir must not be empty"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, errors.Wrapf(err, "log.level"))
	}
	if _, err := c.DebounceInterval(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// HostSemver returns the parsed host version.
func (c Config) HostSemver() (*semver.Version, error) {
	v, err := semver.NewVersion(c.Host.Version)
	return v, errors.Wrap(err, "host.version")
}

// DebounceInterval parses watch.debounce.
func (c Config) DebounceInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 0, errors.Wrapf(err, "watch.debounce %q", c.Watch.Debounce)
	}
	if d < 0 {
		return 0, errors.Newf("watch.debounce must not be negative, got %s", d)
	}
	return d, nil
}
