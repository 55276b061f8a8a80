package extension

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Root is one location searched by discovery.
type Root struct {
	// Name prefixes module names derived from files under this root.
	Name string
	FS   fs.FS
	// Dir is the directory inside FS to scan. Empty means ".".
	Dir string
}

// DirRoot returns a Root over a directory on disk.
func DirRoot(dir string) Root {
	return Root{Name: filepath.ToSlash(filepath.Clean(dir)), FS: os.DirFS(dir), Dir: "."}
}

// ExecutableRoot returns a Root for rel resolved against the directory of
// the running executable, following symlinks.
func ExecutableRoot(rel string) (Root, error) {
	exe, err := os.Executable()
	if err != nil {
		return Root{}, errors.Wrap(err, "locate executable")
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return DirRoot(filepath.Join(filepath.Dir(exe), rel)), nil
}

// Source is one candidate file handed to a TypeLoader.
type Source struct {
	// Module is the unique module name derived for the file.
	Module string
	// Path is a display path: root name plus file path.
	Path string
	Code []byte
}

// TypeLoader turns source files into extension types.
type TypeLoader interface {
	// Pattern is the path.Match glob selecting candidate files.
	Pattern() string
	// LoadTypes evaluates src in an isolated namespace. It returns every
	// candidate that satisfies the capability contract, and a
	// ValidationError for each candidate that does not. A non-nil error
	// means the file could not be loaded at all.
	LoadTypes(ctx context.Context, src Source) ([]Type, []*Error, error)
}

// Discovery is the result of one scan.
type Discovery struct {
	Types  []Type
	Issues []*Error
}

// Discoverer finds extension types across roots. Results are cached
// until Invalidate is called.
type Discoverer struct {
	mu sync.Mutex

	roots       []Root
	loaders     []TypeLoader
	builtins    []Type
	hostVersion *semver.Version
	logger      *zap.SugaredLogger

	cache *Discovery
}

// DiscovererOption configures a Discoverer.
type DiscovererOption func(*Discoverer)

// WithRoots appends search roots. Earlier roots win name conflicts.
func WithRoots(roots ...Root) DiscovererOption {
	return func(d *Discoverer) {
		d.roots = append(d.roots, roots...)
	}
}

// WithLoaders registers type loaders.
func WithLoaders(loaders ...TypeLoader) DiscovererOption {
	return func(d *Discoverer) {
		d.loaders = append(d.loaders, loaders...)
	}
}

// WithBuiltins registers Go-native types. They take precedence over files.
func WithBuiltins(types ...Type) DiscovererOption {
	return func(d *Discoverer) {
		d.builtins = append(d.builtins, types...)
	}
}

// WithHostVersion sets the version checked against metadata.requires_host.
func WithHostVersion(v *semver.Version) DiscovererOption {
	return func(d *Discoverer) {
		d.hostVersion = v
	}
}

// WithDiscoveryLogger sets the logger.
func WithDiscoveryLogger(l *zap.SugaredLogger) DiscovererOption {
	return func(d *Discoverer) {
		d.logger = l
	}
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Roots returns the configured roots.
func (d *Discoverer) Roots() []Root {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Root(nil), d.roots...)
}

// Invalidate drops the cached scan.
func (d *Discoverer) Invalidate() {
	d.mu.Lock()
	d.cache = nil
	d.mu.Unlock()
}

// Discover returns the cached scan, scanning if needed.
func (d *Discoverer) Discover(ctx context.Context) (*Discovery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache != nil {
		return d.cache, nil
	}

	result := &Discovery{}
	for _, t := range d.builtins {
		if issue := d.validate(t); issue != nil {
			result.Issues = append(result.Issues, issue)
			continue
		}
		result.Types = append(result.Types, t)
	}

	for _, root := range d.roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.scanRoot(ctx, root, result)
	}

	d.logger.Debugw("discovery complete", "types", len(result.Types), "issues", len(result.Issues))
	d.cache = result
	return result, nil
}

func (d *Discoverer) scanRoot(ctx context.Context, root Root, result *Discovery) {
	dir := root.Dir
	if dir == "" {
		dir = "."
	}
	entries, err := fs.ReadDir(root.FS, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		result.Issues = append(result.Issues, &Error{
			Kind: KindDiscovery, Op: OpDiscover, Path: root.Name, Err: errors.Wrap(err, "read root"),
		})
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || isPrivate(entry.Name()) {
			continue
		}
		loader := d.loaderFor(entry.Name())
		if loader == nil {
			continue
		}
		file := path.Join(dir, entry.Name())
		d.scanFile(ctx, root, file, loader, result)
	}
}

// isPrivate reports whether a file is excluded by the private or hidden marker.
func isPrivate(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")
}

func (d *Discoverer) loaderFor(name string) TypeLoader {
	for _, l := range d.loaders {
		if ok, _ := path.Match(l.Pattern(), name); ok {
			return l
		}
	}
	return nil
}

// moduleName derives a module name unique across roots.
func moduleName(root Root, file string) string {
	stem := strings.TrimSuffix(file, path.Ext(file))
	stem = strings.TrimPrefix(stem, "./")
	return root.Name + "/" + stem
}

func (d *Discoverer) scanFile(ctx context.Context, root Root, file string, loader TypeLoader, result *Discovery) {
	src := Source{
		Module: moduleName(root, file),
		Path:   root.Name + ":" + file,
	}
	fail := func(err error) {
		result.Issues = append(result.Issues, &Error{Kind: KindDiscovery, Op: OpDiscover, Path: src.Path, Err: err})
		d.logger.Warnw("discovery failed", "path", src.Path, "error", err)
	}

	code, err := fs.ReadFile(root.FS, file)
	if err != nil {
		fail(errors.Wrap(err, "read"))
		return
	}
	src.Code = code

	types, invalid, err := loader.LoadTypes(ctx, src)
	if err != nil {
		fail(errors.Wrap(err, "load"))
		return
	}
	for _, issue := range invalid {
		if issue.Path == "" {
			issue.Path = src.Path
		}
		result.Issues = append(result.Issues, issue)
	}

	var valid []Type
	for _, t := range types {
		if issue := d.validate(t); issue != nil {
			issue.Path = src.Path
			result.Issues = append(result.Issues, issue)
			continue
		}
		valid = append(valid, t)
	}

	switch {
	case len(valid) == 1:
		result.Types = append(result.Types, valid[0])
	case len(valid) > 1:
		names := make([]string, len(valid))
		for i, t := range valid {
			names[i] = t.TypeName()
		}
		fail(errors.Newf("ambiguous: %d extension types (%s)", len(valid), strings.Join(names, ", ")))
	case len(invalid) == 0 && len(types) == 0:
		fail(errors.New("no extension type found"))
	}
}

func (d *Discoverer) validate(t Type) *Error {
	meta := t.Metadata()
	if err := meta.Validate(d.hostVersion); err != nil {
		return &Error{Kind: KindValidation, Extension: meta.Name, Op: OpDiscover, Path: t.Module(), Err: err}
	}
	return nil
}

// ValidationError reports a candidate type that does not satisfy the contract.
func ValidationError(typeName string, err error) *Error {
	return &Error{Kind: KindValidation, Op: OpDiscover, Err: errors.Wrapf(err, "type %s", typeName)}
}
