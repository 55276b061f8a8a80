package extension

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind classifies extension errors.
type Kind int

// Error kinds.
const (
	KindDiscovery Kind = iota + 1
	KindValidation
	KindLoad
	KindInitialization
	KindNotInitialized
	KindExecution
	KindConfiguration
	KindCleanup
	KindInvalidTransition
)

func (k Kind) String() string {
	switch k {
	case KindDiscovery:
		return "DiscoveryError"
	case KindValidation:
		return "ValidationError"
	case KindLoad:
		return "LoadError"
	case KindInitialization:
		return "InitializationError"
	case KindNotInitialized:
		return "NotInitializedError"
	case KindExecution:
		return "ExecutionError"
	case KindConfiguration:
		return "ConfigurationError"
	case KindCleanup:
		return "CleanupError"
	case KindInvalidTransition:
		return "InvalidTransitionError"
	default:
		return "Error"
	}
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrDiscovery         = errors.New("discovery failed")
	ErrValidation        = errors.New("extension failed validation")
	ErrLoad              = errors.New("extension could not be loaded")
	ErrInitialization    = errors.New("extension failed to initialize")
	ErrNotInitialized    = errors.New("extension not initialized")
	ErrExecution         = errors.New("extension execution failed")
	ErrConfiguration     = errors.New("invalid configuration")
	ErrCleanup           = errors.New("extension cleanup failed")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrNotFound is returned when a name is not in the registry.
	ErrNotFound = errors.New("extension not found")
)

var kindSentinels = map[Kind]error{
	KindDiscovery:         ErrDiscovery,
	KindValidation:        ErrValidation,
	KindLoad:              ErrLoad,
	KindInitialization:    ErrInitialization,
	KindNotInitialized:    ErrNotInitialized,
	KindExecution:         ErrExecution,
	KindConfiguration:     ErrConfiguration,
	KindCleanup:           ErrCleanup,
	KindInvalidTransition: ErrInvalidTransition,
}

// Error is the single error type produced by the lifecycle core.
type Error struct {
	Kind      Kind
	Extension string // empty for errors not tied to one extension
	Op        Op
	Path      string // source module or file, for discovery errors
	Err       error
}

func newError(kind Kind, name string, op Op, err error) *Error {
	return &Error{Kind: kind, Extension: name, Op: op, Err: err}
}

func errorf(format string, args ...any) error {
	return errors.Newf(format, args...)
}

func (e *Error) Error() string {
	subject := e.Extension
	if subject == "" {
		subject = e.Path
	}
	msg := e.Kind.String()
	if subject != "" {
		msg = fmt.Sprintf("%s: %s", msg, subject)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Op)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel so callers can write
// errors.Is(err, extension.ErrNotInitialized).
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// ConfigurationError builds a configuration error not tied to an extension.
func ConfigurationError(format string, args ...any) *Error {
	return newError(KindConfiguration, "", OpSelect, errors.Newf(format, args...))
}
