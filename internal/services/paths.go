package services

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrPathEscapes is returned when an output path would leave the
// extension's output directory.
var ErrPathEscapes = errors.New("path escapes output directory")

// OutputPath joins elem under <output>/<extension> and creates the parent
// directory of the result.
func (f *Facade) OutputPath(extension string, elem ...string) (string, error) {
	return scopedPath(f.opts.OutputDir, extension, elem...)
}

func scopedPath(root, extension string, elem ...string) (string, error) {
	if extension == "" || strings.ContainsAny(extension, `/\`) || extension == "." || extension == ".." {
		return "", errors.Wrapf(ErrPathEscapes, "invalid extension name %q", extension)
	}
	base, err := filepath.Abs(filepath.Join(root, extension))
	if err != nil {
		return "", errors.Wrap(err, "resolve output directory")
	}
	p := filepath.Join(append([]string{base}, elem...)...)
	if p != base && !strings.HasPrefix(p, base+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrPathEscapes, "%q", filepath.Join(elem...))
	}

	dir := p
	if len(elem) > 0 {
		dir = filepath.Dir(p)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}
	return p, nil
}
