// Package services implements the shared service facade handed to every
// extension instance: evidence archive access, structured format readers,
// platform detection, report rendering, console interaction, scoped
// output paths and the shared data store.
package services

import (
	"context"
	"database/sql"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dshills/artifex/internal/platform"
)

// Services is the single handle an extension receives at construction.
type Services interface {
	// Logger returns a logger named for extension.
	Logger(extension string) *zap.SugaredLogger
	// Store returns the process-wide shared data store.
	Store() *Store
	// Console returns the interactive console.
	Console() Console

	// Entries lists the evidence archive.
	Entries(ctx context.Context) ([]Entry, error)
	// ReadEntry returns the contents of one archive entry.
	ReadEntry(ctx context.Context, name string) ([]byte, error)
	// Extract copies an archive entry into the extension's output
	// directory and returns the path written.
	Extract(ctx context.Context, extension, name string) (string, error)

	// ReadPlist decodes an XML, binary or OpenStep property list.
	ReadPlist(data []byte) (any, error)
	// QuerySQLite runs a read-only query against a database file.
	QuerySQLite(ctx context.Context, path, query string, args ...any) ([]map[string]any, error)
	// QueryJSON evaluates a gjson path against data.
	QueryJSON(data []byte, path string) (any, bool)

	// DetectPlatform labels the evidence archive.
	DetectPlatform(ctx context.Context) (platform.Platform, error)

	// WriteReport renders r and writes it under the extension's output
	// directory, returning the path.
	WriteReport(extension string, r Report) (string, error)
	// OutputPath joins elem under the extension's output directory.
	OutputPath(extension string, elem ...string) (string, error)
}

// Options configures a Facade.
type Options struct {
	// ArchivePath is the evidence source: a zip, tar, tar.gz or directory.
	// Empty means no archive is attached.
	ArchivePath  string
	OutputDir    string
	ReportFormat Format
	Logger       *zap.SugaredLogger
	Console      Console
}

// ErrNoArchive is returned by archive operations when no archive is attached.
var ErrNoArchive = errors.New("no evidence archive attached")

// Facade is the Services implementation owned by the host.
type Facade struct {
	opts    Options
	logger  *zap.SugaredLogger
	store   *Store
	console Console

	mu       sync.Mutex
	archive  Archive
	detected platform.Platform
	db       map[string]*sql.DB
}

var _ Services = (*Facade)(nil)

// New creates a Facade. The archive is opened lazily on first use.
func New(opts Options) (*Facade, error) {
	if opts.OutputDir == "" {
		return nil, errors.New("services: output directory is required")
	}
	if opts.ReportFormat == "" {
		opts.ReportFormat = FormatJSON
	}
	format, err := ParseFormat(string(opts.ReportFormat))
	if err != nil {
		return nil, err
	}
	opts.ReportFormat = format
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	console := opts.Console
	if console == nil {
		console = NewConsole(ConsoleOptions{Writer: io.Discard})
	}
	return &Facade{
		opts:    opts,
		logger:  logger,
		store:   NewStore(),
		console: console,
		db:      make(map[string]*sql.DB),
	}, nil
}

// Logger returns a child logger for extension.
func (f *Facade) Logger(extension string) *zap.SugaredLogger {
	return f.logger.Named("ext").Named(extension)
}

// Store returns the shared data store.
func (f *Facade) Store() *Store { return f.store }

// Console returns the console.
func (f *Facade) Console() Console { return f.console }

// Close clears the shared store and releases the archive and databases.
func (f *Facade) Close() error {
	f.store.Clear()

	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	if f.archive != nil {
		errs = append(errs, f.archive.Close())
		f.archive = nil
	}
	for path, db := range f.db {
		errs = append(errs, db.Close())
		delete(f.db, path)
	}
	return errors.Join(errs...)
}
