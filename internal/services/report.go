package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

// Format is a report output format.
type Format string

// Report formats.
const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	}
	return "", errors.WithHint(errors.Newf("unknown report format %q", s), "use json, yaml or markdown")
}

// Ext returns the file extension for f.
func (f Format) Ext() string {
	switch f {
	case FormatYAML:
		return ".yaml"
	case FormatMarkdown:
		return ".md"
	default:
		return ".json"
	}
}

// Report is a rendered extension result.
type Report struct {
	Title     string    `yaml:"title"`
	Extension string    `yaml:"extension"`
	Summary   string    `yaml:"summary,omitempty"`
	Generated time.Time `yaml:"generated_at"`
	Data      any       `yaml:"data,omitempty"`
	// Format overrides the host default when set.
	Format Format `yaml:"-"`
}

// Render encodes r in format.
func Render(r Report, format Format) ([]byte, error) {
	if r.Generated.IsZero() {
		r.Generated = time.Now().UTC()
	}
	switch format {
	case FormatJSON:
		return renderJSON(r)
	case FormatYAML:
		out, err := yaml.Marshal(r)
		return out, errors.Wrap(err, "render yaml")
	case FormatMarkdown:
		return renderMarkdown(r)
	}
	return nil, errors.Newf("unknown report format %q", format)
}

func renderJSON(r Report) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			doc, err = sjson.SetBytes(doc, path, v)
		}
	}
	set("title", r.Title)
	set("extension", r.Extension)
	if r.Summary != "" {
		set("summary", r.Summary)
	}
	set("generated_at", r.Generated.Format(time.RFC3339))
	if r.Data != nil {
		set("data", r.Data)
	}
	if err != nil {
		return nil, errors.Wrap(err, "render json")
	}
	return pretty.Pretty(doc), nil
}

func renderMarkdown(r Report) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", r.Title)
	fmt.Fprintf(&b, "- Extension: `%s`\n- Generated: %s\n\n", r.Extension, r.Generated.Format(time.RFC3339))
	if r.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", r.Summary)
	}

	switch data := r.Data.(type) {
	case nil:
	case map[string]any:
		b.WriteString("| Key | Value |\n|---|---|\n")
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "| %s | %s |\n", cell(k), cell(data[k]))
		}
	case []map[string]any:
		writeRows(&b, data)
	case []any:
		rows := make([]map[string]any, 0, len(data))
		for _, v := range data {
			m, ok := v.(map[string]any)
			if !ok {
				rows = nil
				break
			}
			rows = append(rows, m)
		}
		if rows != nil {
			writeRows(&b, rows)
			break
		}
		for _, v := range data {
			fmt.Fprintf(&b, "- %s\n", cell(v))
		}
	default:
		raw, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "render markdown data")
		}
		fmt.Fprintf(&b, "```json\n%s\n```\n", raw)
	}
	return b.Bytes(), nil
}

func writeRows(b *bytes.Buffer, rows []map[string]any) {
	colset := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			colset[k] = true
		}
	}
	cols := make([]string, 0, len(colset))
	for k := range colset {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	if len(cols) == 0 {
		return
	}
	fmt.Fprintf(b, "| %s |\n|%s\n", strings.Join(cols, " | "), strings.Repeat("---|", len(cols)))
	for _, r := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = cell(r[c])
		}
		fmt.Fprintf(b, "| %s |\n", strings.Join(cells, " | "))
	}
}

func cell(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	case map[string]any, []any:
		raw, _ := json.Marshal(t)
		s = string(raw)
	default:
		s = fmt.Sprint(t)
	}
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

// WriteReport renders r and writes it to <output>/<extension>/<slug>.<ext>.
func (f *Facade) WriteReport(extension string, r Report) (string, error) {
	format := f.opts.ReportFormat
	if r.Format != "" {
		var err error
		if format, err = ParseFormat(string(r.Format)); err != nil {
			return "", err
		}
	}
	if r.Extension == "" {
		r.Extension = extension
	}
	data, err := Render(r, format)
	if err != nil {
		return "", err
	}
	p, err := f.OutputPath(extension, slug(r.Title)+format.Ext())
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write report")
	}
	f.logger.Infow("report written", "extension", extension, "path", p, "format", format)
	return p, nil
}

func slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "report"
	}
	return s
}
