// Package commands implements the artifex command line.
package commands

import (
	"context"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dshills/artifex/internal/config"
	"github.com/dshills/artifex/internal/host"
	"github.com/dshills/artifex/internal/logging"
)

// BuildInfo identifies the binary.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// ErrExtensionsFailed is returned when a batch finishes with failures.
var ErrExtensionsFailed = errors.New("one or more extensions failed")

// globals holds the persistent flags.
type globals struct {
	configPath    string
	archive       string
	output        string
	extensionDirs []string
	logLevel      string
	logJSON       bool
	assumeYes     bool
	metricsFile   string
	format        string
	noBundled     bool
	noColor       bool
}

type cli struct {
	build  BuildInfo
	flags  globals
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, build BuildInfo, args []string) int {
	return execute(ctx, build, args, os.Stdin, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, build BuildInfo, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{build: build, stdin: stdin, stdout: stdout, stderr: stderr}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, ErrExtensionsFailed) {
			pterm.Error.WithWriter(stderr).Println(err.Error())
			for _, hint := range errors.GetAllHints(err) {
				pterm.Info.WithWriter(stderr).Println(hint)
			}
		}
		return 1
	}
	return 0
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "artifex",
		Short: "Discover and run forensic analysis extensions",
		Long: `artifex discovers analysis extensions, manages their lifecycle and runs
them against an evidence archive, alone or in batches.

Extensions are loaded from the bundle compiled into the binary, from an
"extensions" directory next to the executable and from every
--extensions-dir, in that order. Files starting with "_" or "." are skipped.

Examples:
  artifex list --compatible --archive dump.zip
  artifex run --all --archive dump.zip --output out
  artifex run ios-device-info --archive dump.tar.gz --arg verbose=true
  artifex watch --extensions-dir ./ext --run-all --archive ./dump`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.flags.configPath, "config", "c", "", "config file (default ./"+config.DefaultFile+" if present)")
	pf.StringVarP(&c.flags.archive, "archive", "a", "", "evidence archive: zip, tar, tar.gz or directory")
	pf.StringVarP(&c.flags.output, "output", "o", "", "output directory for reports and extracted files")
	pf.StringArrayVarP(&c.flags.extensionDirs, "extensions-dir", "e", nil, "additional extension directory (repeatable)")
	pf.StringVar(&c.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&c.flags.logJSON, "log-json", false, "write logs as JSON")
	pf.BoolVarP(&c.flags.assumeYes, "yes", "y", false, "answer yes to every confirmation")
	pf.StringVar(&c.flags.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")
	pf.StringVar(&c.flags.format, "format", "", "report format: json, yaml or markdown")
	pf.BoolVar(&c.flags.noBundled, "no-bundled", false, "skip the extensions compiled into the binary")
	pf.BoolVar(&c.flags.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		c.listCommand(),
		c.infoCommand(),
		c.runCommand(),
		c.reloadCommand(),
		c.shellCommand(),
		c.watchCommand(),
		c.versionCommand(),
	)
	return root
}

// loadConfig merges the config file, the environment and the flags that
// were set on cmd.
func (c *cli) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.NewLoader(config.WithFile(c.flags.configPath)).Load()
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("archive") {
		cfg.Input.Archive = c.flags.archive
	}
	if flags.Changed("output") {
		cfg.Output.Dir = c.flags.output
	}
	if flags.Changed("extensions-dir") {
		cfg.Extensions.Paths = append(cfg.Extensions.Paths, c.flags.extensionDirs...)
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = c.flags.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = c.flags.logJSON
	}
	if flags.Changed("yes") {
		cfg.Console.AssumeYes = c.flags.assumeYes
	}
	if flags.Changed("metrics-file") {
		cfg.Metrics.File = c.flags.metricsFile
	}
	if flags.Changed("format") {
		cfg.Output.ReportFormat = c.flags.format
	}
	if c.flags.noBundled {
		cfg.Extensions.Bundled = false
	}
	if c.flags.noColor {
		cfg.Console.Color = false
	}
	return cfg, cfg.Validate()
}

// withHost builds a discovered host, runs fn and closes the host.
func (c *cli) withHost(cmd *cobra.Command, fn func(ctx context.Context, h *host.Host) error) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Writer: c.stderr})
	if err != nil {
		return err
	}
	h, err := host.New(host.Options{Config: cfg, Logger: logger, Stdout: c.stdout})
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	err = h.Discover(ctx)
	if err == nil {
		err = fn(ctx, h)
	}
	// Close must run on a context that is still live after an interrupt.
	return errors.Join(err, h.Close(context.WithoutCancel(ctx)))
}
