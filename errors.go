package telemex // import "github.com/durastream/telemex"

import "errors"

// ErrNotConnected is returned by store adapters when an operation is
// attempted before a connection is established or after it was lost. It is
// always classified as a connection-level error.
var ErrNotConnected = errors.New("store is not connected")

// ErrShutdown is returned when an operation is attempted on an exporter that
// is shutting down or closed.
var ErrShutdown = errors.New("exporter is shut down")

type connectionError struct {
	err error
}

func (e connectionError) Error() string { return e.err.Error() }

func (e connectionError) Unwrap() error { return e.err }

// NewConnectionError wraps err to mark it as connection-level (network drop,
// not-connected) rather than data-level. Connection-level flush failures
// trigger the debounced reconnect routine.
func NewConnectionError(err error) error {
	if err == nil {
		return nil
	}
	return connectionError{err: err}
}

// IsConnectionError reports whether err is classified as connection-level.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) {
		return true
	}
	var ce connectionError
	return errors.As(err, &ce)
}
