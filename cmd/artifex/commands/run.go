package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dshills/artifex/internal/extension"
	"github.com/dshills/artifex/internal/host"
)

type runFlags struct {
	names    []string
	all      bool
	platform string
	named    []string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.names, "extensions", "x", nil, "run these extensions in order (comma separated)")
	cmd.Flags().BoolVar(&f.all, "all", false, "run every extension compatible with the detected platform")
	cmd.Flags().StringVarP(&f.platform, "platform", "p", "", "run every extension compatible with this platform")
	cmd.Flags().StringArrayVar(&f.named, "arg", nil, "named argument key=value (repeatable)")
}

// selection builds the batch selection. Without a mode flag the first
// positional argument names the extension.
func (f *runFlags) selection(args []string) (extension.Selection, []string) {
	sel := extension.Selection{Names: f.names, All: f.all, Platform: f.platform}
	if len(f.names) == 0 && !f.all && f.platform == "" && len(args) > 0 {
		sel.Name = args[0]
		args = args[1:]
	}
	return sel, args
}

func (c *cli) runCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [NAME] [ARGS...]",
		Short: "Run one extension or a batch",
		Long: `Run executes extensions, loading and initializing them first as needed.

Exactly one selection is required: a NAME, --extensions, --all or
--platform. Remaining arguments are passed positionally; --arg key=value
passes named arguments. The exit code is 1 if any extension failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, positional := f.selection(args)
			xargs, err := buildArgs(positional, f.named)
			if err != nil {
				return err
			}
			return c.withHost(cmd, func(ctx context.Context, h *host.Host) error {
				summary, err := h.Run(ctx, sel, xargs)
				if err != nil {
					return err
				}
				c.printSummary(summary)
				if !summary.OK() {
					return ErrExtensionsFailed
				}
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

// buildArgs converts command-line values into extension arguments.
func buildArgs(positional, named []string) (extension.Args, error) {
	args := extension.Args{Named: map[string]any{}}
	for _, p := range positional {
		args.Positional = append(args.Positional, parseValue(p))
	}
	for _, kv := range named {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return extension.Args{}, extension.ConfigurationError("argument %q is not key=value", kv)
		}
		args.Named[strings.TrimSpace(k)] = parseValue(v)
	}
	return args, nil
}

func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func (c *cli) printSummary(s *extension.Summary) {
	data := pterm.TableData{{"EXTENSION", "RESULT", "STAGE", "DURATION", "DETAIL"}}
	for _, r := range s.Results {
		result, detail := "ok", formatValue(r.Value)
		if !r.Success {
			result, detail = "FAILED", errorText(r.Err)
		}
		data = append(data, []string{r.Name, result, string(r.Stage), r.Duration.Round(time.Millisecond).String(), detail})
	}
	if s.Total > 0 {
		out, _ := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
		fmt.Fprintln(c.stdout, out)
	}

	line := fmt.Sprintf("batch %s: %d total, %d succeeded, %d failed in %s",
		s.ID.String()[:8], s.Total, s.Success, s.Failed, s.Duration.Round(time.Millisecond))
	if s.Platform != "" {
		line += " (platform " + s.Platform.String() + ")"
	}
	if s.OK() {
		pterm.Success.WithWriter(c.stdout).Println(line)
	} else {
		pterm.Error.WithWriter(c.stdout).Println(line)
	}
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}
	s := fmt.Sprint(v)
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}

func (c *cli) reloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Rescan extension roots and report what changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withHost(cmd, func(ctx context.Context, h *host.Host) error {
				report, err := h.Manager().Reload(ctx)
				if err != nil {
					return err
				}
				c.printReload(report)
				c.printIssues(h.Manager().Issues())
				return nil
			})
		},
	}
}

func (c *cli) printReload(r *extension.ReloadReport) {
	w := pterm.Info.WithWriter(c.stdout)
	w.Printfln("added: %s", joinOrNone(r.Added))
	w.Printfln("removed: %s", joinOrNone(r.Removed))
	w.Printfln("reinitialized: %s", joinOrNone(r.Reinitialized))
	for name, err := range r.Failed {
		pterm.Error.WithWriter(c.stdout).Printfln("%s: %s", name, errorText(err))
	}
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

func (c *cli) watchCommand() *cobra.Command {
	var runAll bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload extensions whenever their files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withHost(cmd, func(ctx context.Context, h *host.Host) error {
				opts := host.WatchOptions{
					OnReload: func(r *extension.ReloadReport, s *extension.Summary, err error) {
						if err != nil {
							pterm.Error.WithWriter(c.stdout).Println(err.Error())
							return
						}
						c.printReload(r)
						c.printIssues(h.Manager().Issues())
						if s != nil {
							c.printSummary(s)
						}
					},
				}
				if runAll {
					opts.Selection = &extension.Selection{All: true}
				}
				pterm.Info.WithWriter(c.stdout).Printfln("watching %s (Ctrl-C to stop)", strings.Join(h.WatchDirs(), ", "))
				return h.Watch(ctx, opts)
			})
		},
	}
	cmd.Flags().BoolVar(&runAll, "run-all", false, "run every compatible extension after each reload")
	return cmd
}

func (c *cli) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(c.stdout, "artifex %s\nCommit: %s\nBuilt: %s\n", c.build.Version, c.build.Commit, c.build.Date)
		},
	}
}
