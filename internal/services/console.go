package services

import (
	"io"
	"os"

	"github.com/pterm/pterm"
)

// Console is the colored output and prompt surface offered to extensions.
type Console interface {
	Info(format string, args ...any)
	Success(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	// Confirm asks a yes/no question. Non-interactive consoles return def.
	Confirm(question string, def bool) bool
	// Prompt asks for a line of text. Non-interactive consoles return def.
	Prompt(question, def string) string
}

// ConsoleOptions configures a pterm console.
type ConsoleOptions struct {
	// Writer receives output. Defaults to stdout.
	Writer io.Writer
	// Interactive enables prompts; otherwise defaults are returned.
	Interactive bool
	// AssumeYes answers every Confirm with yes.
	AssumeYes bool
	NoColor   bool
}

// PtermConsole implements Console with pterm printers.
type PtermConsole struct {
	opts    ConsoleOptions
	info    *pterm.PrefixPrinter
	success *pterm.PrefixPrinter
	warn    *pterm.PrefixPrinter
	err     *pterm.PrefixPrinter
}

// NewConsole creates a pterm console.
func NewConsole(opts ConsoleOptions) *PtermConsole {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.NoColor {
		pterm.DisableColor()
	}
	return &PtermConsole{
		opts:    opts,
		info:    pterm.Info.WithWriter(opts.Writer),
		success: pterm.Success.WithWriter(opts.Writer),
		warn:    pterm.Warning.WithWriter(opts.Writer),
		err:     pterm.Error.WithWriter(opts.Writer),
	}
}

func (c *PtermConsole) Info(format string, args ...any)    { c.info.Printfln(format, args...) }
func (c *PtermConsole) Success(format string, args ...any) { c.success.Printfln(format, args...) }
func (c *PtermConsole) Warn(format string, args ...any)    { c.warn.Printfln(format, args...) }
func (c *PtermConsole) Error(format string, args ...any)   { c.err.Printfln(format, args...) }

// Confirm implements Console.
func (c *PtermConsole) Confirm(question string, def bool) bool {
	if c.opts.AssumeYes {
		return true
	}
	if !c.opts.Interactive {
		return def
	}
	ok, err := pterm.DefaultInteractiveConfirm.WithDefaultValue(def).Show(question)
	if err != nil {
		return def
	}
	return ok
}

// Prompt implements Console.
func (c *PtermConsole) Prompt(question, def string) string {
	if !c.opts.Interactive {
		return def
	}
	s, err := pterm.DefaultInteractiveTextInput.WithDefaultValue(def).Show(question)
	if err != nil || s == "" {
		return def
	}
	return s
}
