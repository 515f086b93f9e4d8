package offline

import (
	"errors"

	"github.com/swaggest/usecase/status"
)

// SentinelError is an error.
type SentinelError string

// Error implements error.
func (e SentinelError) Error() string {
	return string(e)
}

const (
	// ErrStorageClosed indicates storage was closed and deactivated.
	ErrStorageClosed = SentinelError("storage is closed")

	// ErrNotCacheable indicates response can not be stored.
	ErrNotCacheable = SentinelError("response is not cacheable")

	// ErrIncompatibleDump indicates dump was made with different types layout.
	ErrIncompatibleDump = SentinelError("incompatible dump")
)

// ErrNotFound indicates missing cache entry.
var ErrNotFound = status.Wrap(errors.New("missing cache entry"), status.NotFound)
