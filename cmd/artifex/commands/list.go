package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dshills/artifex/internal/extension"
	"github.com/dshills/artifex/internal/host"
	"github.com/dshills/artifex/internal/platform"
)

func (c *cli) listCommand() *cobra.Command {
	var (
		compatible bool
		label      string
		issues     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered extensions and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withHost(cmd, func(ctx context.Context, h *host.Host) error {
				infos := h.Manager().List()
				switch {
				case label != "":
					p, err := platform.Parse(label)
					if err != nil {
						return extension.ConfigurationError("invalid platform %q", label)
					}
					infos = filterCompatible(infos, p)
				case compatible:
					p, err := h.Services().DetectPlatform(ctx)
					if err != nil {
						p = platform.Unknown
					}
					pterm.Info.WithWriter(c.stdout).Printfln("detected platform: %s", p)
					infos = filterCompatible(infos, p)
				}
				c.printInfos(infos)
				if issues {
					c.printIssues(h.Manager().Issues())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&compatible, "compatible", false, "only extensions compatible with the detected platform")
	cmd.Flags().StringVarP(&label, "platform", "p", "", "only extensions compatible with this platform")
	cmd.Flags().BoolVar(&issues, "issues", false, "also list files that failed discovery")
	cmd.MarkFlagsMutuallyExclusive("compatible", "platform")
	return cmd
}

func filterCompatible(infos []extension.Info, p platform.Platform) []extension.Info {
	var out []extension.Info
	for _, info := range infos {
		if extension.Compatible(info.Metadata.TargetPlatforms, p) {
			out = append(out, info)
		}
	}
	return out
}

func (c *cli) printInfos(infos []extension.Info) {
	if len(infos) == 0 {
		pterm.Warning.WithWriter(c.stdout).Println("no extensions found")
		return
	}
	data := pterm.TableData{{"NAME", "VERSION", "PLATFORMS", "STATE", "MODULE"}}
	for _, info := range infos {
		data = append(data, []string{
			info.Name,
			info.Metadata.Version,
			strings.Join(info.Metadata.TargetPlatforms, ","),
			info.State.String(),
			info.Module,
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		fmt.Fprintln(c.stdout, err)
		return
	}
	fmt.Fprintln(c.stdout, out)
}

func (c *cli) printIssues(issues []*extension.Error) {
	if len(issues) == 0 {
		return
	}
	data := pterm.TableData{{"PATH", "KIND", "PROBLEM"}}
	for _, issue := range issues {
		data = append(data, []string{issue.Path, issue.Kind.String(), errorText(issue.Err)})
	}
	out, _ := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	fmt.Fprintln(c.stdout, out)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", " ")
}

func (c *cli) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info NAME",
		Short: "Show an extension's metadata and lifecycle state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withHost(cmd, func(_ context.Context, h *host.Host) error {
				info, err := h.Manager().Info(args[0])
				if err != nil {
					return err
				}
				c.printInfo(info)
				return nil
			})
		},
	}
}

func (c *cli) printInfo(info extension.Info) {
	m := info.Metadata
	rows := [][2]string{
		{"Name", m.Name},
		{"Version", m.Version},
		{"Description", m.Description},
		{"Author", m.Author},
		{"Platforms", strings.Join(m.TargetPlatforms, ", ")},
		{"Requires host", m.RequiresHost},
		{"Type", info.TypeName},
		{"Module", info.Module},
		{"State", info.State.String()},
		{"Executions", fmt.Sprint(info.Executions)},
	}
	if !info.LastRun.IsZero() {
		rows = append(rows, [2]string{"Last run", info.LastRun.Format("2006-01-02 15:04:05")})
	}
	if info.Err != nil {
		rows = append(rows, [2]string{"Last error", errorText(info.Err)})
	}
	data := pterm.TableData{}
	for _, r := range rows {
		if r[1] != "" {
			data = append(data, []string{r[0], r[1]})
		}
	}
	out, _ := pterm.DefaultTable.WithData(data).Srender()
	fmt.Fprintln(c.stdout, out)
}
