package services

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Entry describes one file in an evidence archive.
type Entry struct {
	Name    string      `json:"name" yaml:"name"`
	Size    int64       `json:"size" yaml:"size"`
	Mode    fs.FileMode `json:"-" yaml:"-"`
	ModTime time.Time   `json:"mod_time" yaml:"mod_time"`
}

// Archive is read access to an evidence source.
type Archive interface {
	Entries(ctx context.Context) ([]Entry, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Close() error
}

// ErrEntryNotFound is returned when an archive has no entry with the given name.
var ErrEntryNotFound = errors.New("archive entry not found")

// OpenArchive opens a zip, tar, gzip-compressed tar or directory.
func OpenArchive(p string) (Archive, error) {
	st, err := os.Stat(p)
	if err != nil {
		return nil, errors.Wrap(err, "open archive")
	}
	if st.IsDir() {
		return &fsArchive{fsys: os.DirFS(p)}, nil
	}

	kind, err := sniff(p)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "zip":
		zr, err := zip.OpenReader(p)
		if err != nil {
			return nil, errors.Wrap(err, "open zip")
		}
		return &fsArchive{fsys: zr, closer: zr}, nil
	case "gzip":
		return &tarArchive{path: p, gzipped: true}, nil
	default:
		return &tarArchive{path: p}, nil
	}
}

func sniff(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", errors.Wrap(err, "open archive")
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, []byte("PK\x03\x04")), bytes.HasPrefix(head, []byte("PK\x05\x06")):
		return "zip", nil
	case bytes.HasPrefix(head, []byte{0x1f, 0x8b}):
		return "gzip", nil
	case n >= 262 && string(head[257:262]) == "ustar":
		return "tar", nil
	}
	return "", errors.Newf("unsupported archive format: %s", p)
}

// cleanName normalizes an entry name to a slash-separated relative path.
func cleanName(name string) string {
	name = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if name == "." {
		return ""
	}
	return name
}

// fsArchive serves directories and zip files, both of which are fs.FS.
type fsArchive struct {
	fsys   fs.FS
	closer io.Closer
}

func (a *fsArchive) Entries(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := fs.WalkDir(a.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Entry{Name: cleanName(p), Size: info.Size(), Mode: info.Mode(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk archive")
	}
	return out, nil
}

func (a *fsArchive) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := a.fsys.Open(cleanName(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrEntryNotFound, "%q", name)
		}
		return nil, errors.Wrapf(err, "open entry %q", name)
	}
	return f, nil
}

func (a *fsArchive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// tarArchive rescans the tar stream for every call.
type tarArchive struct {
	path    string
	gzipped bool
}

func (a *tarArchive) reader() (*tar.Reader, io.Closer, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open tar")
	}
	if !a.gzipped {
		return tar.NewReader(bufio.NewReader(f)), f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, "open gzip")
	}
	return tar.NewReader(gz), multiCloser{gz, f}, nil
}

func (a *tarArchive) walk(ctx context.Context, fn func(h *tar.Header, r *tar.Reader) (bool, error)) error {
	tr, closer, err := a.reader()
	if err != nil {
		return err
	}
	defer closer.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read tar")
		}
		if h.Typeflag != tar.TypeReg {
			continue
		}
		stop, err := fn(h, tr)
		if err != nil || stop {
			return err
		}
	}
}

func (a *tarArchive) Entries(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := a.walk(ctx, func(h *tar.Header, _ *tar.Reader) (bool, error) {
		out = append(out, Entry{Name: cleanName(h.Name), Size: h.Size, Mode: h.FileInfo().Mode(), ModTime: h.ModTime})
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (a *tarArchive) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	want := cleanName(name)
	var data []byte
	found := false
	err := a.walk(ctx, func(h *tar.Header, r *tar.Reader) (bool, error) {
		if cleanName(h.Name) != want {
			return false, nil
		}
		b, err := io.ReadAll(r)
		if err != nil {
			return true, errors.Wrapf(err, "read entry %q", name)
		}
		data, found = b, true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(ErrEntryNotFound, "%q", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (a *tarArchive) Close() error { return nil }

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// attached returns the archive, opening it on first use.
func (f *Facade) attached() (Archive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.archive != nil {
		return f.archive, nil
	}
	if f.opts.ArchivePath == "" {
		return nil, ErrNoArchive
	}
	a, err := OpenArchive(f.opts.ArchivePath)
	if err != nil {
		return nil, err
	}
	f.archive = a
	return a, nil
}

// Entries lists the attached archive.
func (f *Facade) Entries(ctx context.Context) ([]Entry, error) {
	a, err := f.attached()
	if err != nil {
		return nil, err
	}
	return a.Entries(ctx)
}

// ReadEntry reads one archive entry fully.
func (f *Facade) ReadEntry(ctx context.Context, name string) ([]byte, error) {
	a, err := f.attached()
	if err != nil {
		return nil, err
	}
	rc, err := a.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "read entry %q", name)
	}
	return data, nil
}

// Extract writes an entry to <output>/<extension>/extracted/<name>.
func (f *Facade) Extract(ctx context.Context, extension, name string) (string, error) {
	a, err := f.attached()
	if err != nil {
		return "", err
	}
	dest, err := f.OutputPath(extension, "extracted", cleanName(name))
	if err != nil {
		return "", err
	}
	rc, err := a.Open(ctx, name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", errors.Wrap(err, "create extracted file")
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return "", errors.Wrapf(err, "extract %q", name)
	}
	if err := out.Close(); err != nil {
		return "", errors.Wrap(err, "close extracted file")
	}
	f.logger.Debugw("entry extracted", "extension", extension, "entry", name, "path", dest)
	return dest, nil
}
