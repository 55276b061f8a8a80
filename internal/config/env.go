package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment variable the host reads.
const EnvPrefix = "ARTIFEX_"

// EnvLoader maps environment variables onto config keys.
//
// Explicit mappings win. Any other PREFIX_SECTION_KEY variable maps to
// section.key when section names an existing table, so
// ARTIFEX_OUTPUT_REPORT_FORMAT sets output.report_format.
type EnvLoader struct {
	prefix  string
	mapping map[string]string
	environ func() []string
}

// NewEnvLoader returns a loader for variables starting with prefix.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix: prefix,
		mapping: map[string]string{
			prefix + "ARCHIVE":        "input.archive",
			prefix + "EXTENSIONS_DIR": "extensions.paths",
			prefix + "LOG_LEVEL":      "log.level",
			prefix + "OUTPUT":         "output.dir",
			prefix + "METRICS_FILE":   "metrics.file",
		},
		environ: os.Environ,
	}
}

// WithEnviron replaces os.Environ. Used by tests.
func (l *EnvLoader) WithEnviron(environ func() []string) *EnvLoader {
	l.environ = environ
	return l
}

// AddMapping maps an environment variable to a dotted config key.
func (l *EnvLoader) AddMapping(env, key string) {
	l.mapping[env] = key
}

// Load returns the overrides found in the environment. base supplies the
// known sections and the type each value is parsed as.
func (l *EnvLoader) Load(base map[string]any) map[string]any {
	out := make(map[string]any)
	for _, kv := range l.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		key, ok := l.mapping[name]
		if !ok {
			key, ok = l.envToKey(name, base)
			if !ok {
				continue
			}
		}
		section, field, _ := strings.Cut(key, ".")
		table, _ := base[section].(map[string]any)
		if table == nil {
			continue
		}
		current, known := table[field]
		if !known {
			continue
		}
		v, ok := parseAs(current, value)
		if !ok {
			continue
		}
		dst, _ := out[section].(map[string]any)
		if dst == nil {
			dst = make(map[string]any)
			out[section] = dst
		}
		dst[field] = v
	}
	return out
}

func (l *EnvLoader) envToKey(name string, base map[string]any) (string, bool) {
	rest := strings.ToLower(strings.TrimPrefix(name, l.prefix))
	section, field, ok := strings.Cut(rest, "_")
	if !ok {
		return "", false
	}
	if _, isTable := base[section].(map[string]any); !isTable {
		return "", false
	}
	return section + "." + field, true
}

// parseAs converts s to the type of like.
func parseAs(like any, s string) (any, bool) {
	switch like.(type) {
	case bool:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "yes", "on":
			return true, true
		case "0", "false", "no", "off", "":
			return false, true
		}
		return nil, false
	case int64:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return n, err == nil
	case float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	case []any:
		items := []any{}
		for _, p := range filepath.SplitList(s) {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		return items, true
	default:
		return s, true
	}
}
