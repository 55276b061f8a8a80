package config

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

// DefaultFile is the config file looked up in the working directory when
// no explicit path is given.
const DefaultFile = "artifex.toml"

// ParseError reports a malformed config file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Loader assembles a Config from defaults, a TOML file and the environment.
type Loader struct {
	fsys    fs.ReadFileFS
	path    string
	env     *EnvLoader
	require bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFile sets the config file. An explicitly named file must exist.
func WithFile(path string) LoaderOption {
	return func(l *Loader) {
		if path != "" {
			l.path = path
			l.require = true
		}
	}
}

// WithFS reads config files from fsys instead of the OS.
func WithFS(fsys fs.ReadFileFS) LoaderOption {
	return func(l *Loader) { l.fsys = fsys }
}

// WithEnv replaces the environment loader.
func WithEnv(env *EnvLoader) LoaderOption {
	return func(l *Loader) { l.env = env }
}

// NewLoader returns a Loader reading DefaultFile and ARTIFEX_* variables.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{path: DefaultFile, env: NewEnvLoader(EnvPrefix)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the merged, validated configuration.
func (l *Loader) Load() (Config, error) {
	base, err := toMap(Default())
	if err != nil {
		return Config{}, err
	}

	file, err := l.loadFile()
	if err != nil {
		return Config{}, err
	}
	merged := DeepMerge(base, file)

	if l.env != nil {
		merged = DeepMerge(merged, l.env.Load(merged))
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.WithHint(errors.Wrap(err, "invalid configuration"),
			"check "+l.path+" and ARTIFEX_* environment variables")
	}
	return cfg, nil
}

func (l *Loader) loadFile() (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if l.fsys != nil {
		data, err = l.fsys.ReadFile(l.path)
	} else {
		data, err = os.ReadFile(l.path)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !l.require {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading config file %s", l.path)
	}
	return parse(l.path, data)
}

func parse(source string, data []byte) (map[string]any, error) {
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		return nil, pe
	}
	return m, nil
}

func toMap(cfg Config) (map[string]any, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "encoding defaults")
	}
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decoding defaults")
	}
	return m, nil
}

func fromMap(m map[string]any) (Config, error) {
	data, err := toml.Marshal(m)
	if err != nil {
		return Config{}, errors.Wrap(err, "encoding merged configuration")
	}
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var sme *toml.StrictMissingError
		if errors.As(err, &sme) {
			return Config{}, errors.WithHint(errors.New("unknown configuration keys"), sme.String())
		}
		return Config{}, errors.Wrap(err, "decoding configuration")
	}
	if cfg.Extensions.Paths == nil {
		cfg.Extensions.Paths = []string{}
	}
	return cfg, nil
}

// DeepMerge merges src into dst. Nested tables merge recursively;
// any other value in src replaces the one in dst.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	for key, srcVal := range src {
		srcMap, srcIsMap := srcVal.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = DeepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = srcVal
	}
	return dst
}

// Write encodes cfg as TOML to path.
func Write(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encoding configuration")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing %s", path)
}
