package lua

import "github.com/cockroachdb/errors"

// Lua runtime errors.
var (
	// ErrStateClosed is returned when operating on a closed State.
	ErrStateClosed = errors.New("lua state is closed")
	// ErrTypeMissing is returned when an instance's source no longer
	// defines the type it was discovered with.
	ErrTypeMissing = errors.New("extension type missing from source")
)
