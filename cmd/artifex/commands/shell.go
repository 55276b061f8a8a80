package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dshills/artifex/internal/extension"
	"github.com/dshills/artifex/internal/host"
)

const shellHelp = `commands:
  list                      extensions and states
  status [NAME]             state of one or every extension
  info NAME                 metadata and state
  load NAME | init NAME     single lifecycle steps
  exec NAME [ARG...]        execute; key=value arguments are named
  unload NAME | disable NAME
  run NAME... | run --all | run --platform P
  reload                    rescan every root
  store [KEY]               shared store keys or one value
  help | quit`

var errQuit = errors.New("quit")

func (c *cli) shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Drive extension lifecycles interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withHost(cmd, func(ctx context.Context, h *host.Host) error {
				return c.repl(ctx, h, c.stdin)
			})
		},
	}
}

func (c *cli) repl(ctx context.Context, h *host.Host, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.stdout, "artifex> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.stdout)
			return errors.Wrap(scanner.Err(), "reading input")
		}
		if ctx.Err() != nil {
			return nil
		}
		words, err := shellquote.Split(scanner.Text())
		if err != nil {
			pterm.Error.WithWriter(c.stdout).Println(err.Error())
			continue
		}
		if len(words) == 0 {
			continue
		}
		if err := c.dispatch(ctx, h, words[0], words[1:]); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			pterm.Error.WithWriter(c.stdout).Println(errorText(err))
		}
	}
}

func (c *cli) dispatch(ctx context.Context, h *host.Host, verb string, args []string) error {
	m := h.Manager()
	one := func(fn func(context.Context, string) error, done string) error {
		if len(args) != 1 {
			return errors.Newf("usage: %s NAME", verb)
		}
		if err := fn(ctx, args[0]); err != nil {
			return err
		}
		pterm.Success.WithWriter(c.stdout).Printfln("%s %s", args[0], done)
		return nil
	}

	switch verb {
	case "quit", "exit":
		return errQuit
	case "help", "?":
		fmt.Fprintln(c.stdout, shellHelp)
	case "list":
		c.printInfos(m.List())
	case "status":
		if len(args) == 0 {
			for _, info := range m.List() {
				fmt.Fprintf(c.stdout, "%-24s %s\n", info.Name, info.State)
			}
			return nil
		}
		info, err := m.Info(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "%s %s\n", info.Name, info.State)
		if info.Err != nil {
			fmt.Fprintf(c.stdout, "  last error: %s\n", errorText(info.Err))
		}
	case "info":
		if len(args) != 1 {
			return errors.New("usage: info NAME")
		}
		info, err := m.Info(args[0])
		if err != nil {
			return err
		}
		c.printInfo(info)
	case "load":
		return one(m.Load, "loaded")
	case "init", "initialize":
		return one(m.Initialize, "initialized")
	case "unload":
		return one(m.Unload, "unloaded")
	case "disable":
		return one(m.Disable, "disabled")
	case "exec", "execute":
		if len(args) == 0 {
			return errors.New("usage: exec NAME [ARG...]")
		}
		xargs, err := splitArgs(args[1:])
		if err != nil {
			return err
		}
		v, err := m.Execute(ctx, args[0], xargs)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, renderValue(v))
	case "run":
		sel, err := shellSelection(args)
		if err != nil {
			return err
		}
		summary, err := h.Run(ctx, sel, extension.Args{})
		if err != nil {
			return err
		}
		c.printSummary(summary)
	case "reload":
		report, err := m.Reload(ctx)
		if err != nil {
			return err
		}
		c.printReload(report)
	case "store":
		store := h.Services().Store()
		if len(args) == 0 {
			fmt.Fprintln(c.stdout, joinOrNone(store.Keys()))
			return nil
		}
		v, ok := store.Get(args[0])
		if !ok {
			return errors.Newf("no store key %q", args[0])
		}
		fmt.Fprintln(c.stdout, renderValue(v))
	default:
		return errors.WithHint(errors.Newf("unknown command %q", verb), "type help for the command list")
	}
	return nil
}

// splitArgs treats key=value words as named arguments.
func splitArgs(words []string) (extension.Args, error) {
	var positional, named []string
	for _, w := range words {
		if k, _, ok := strings.Cut(w, "="); ok && k != "" {
			named = append(named, w)
			continue
		}
		positional = append(positional, w)
	}
	return buildArgs(positional, named)
}

func shellSelection(args []string) (extension.Selection, error) {
	switch {
	case len(args) == 1 && args[0] == "--all":
		return extension.Selection{All: true}, nil
	case len(args) == 2 && args[0] == "--platform":
		return extension.Selection{Platform: args[1]}, nil
	case len(args) == 1:
		return extension.Selection{Name: args[0]}, nil
	case len(args) > 1:
		return extension.Selection{Names: args}, nil
	}
	return extension.Selection{}, errors.New("usage: run NAME... | run --all | run --platform P")
}

func renderValue(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
