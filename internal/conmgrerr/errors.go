// Package conmgrerr defines the taxonomized error kinds shared across the
// connection manager. Errors are sentinel values so callers can use
// errors.Is; dynamic context is attached with errors.Wrap at the call site.
//
// Author: momentics <momentics@gmail.com>
package conmgrerr

import "github.com/nikandfor/errors"

var (
	// ErrInvalidArgument covers a bad fd or a required nil argument.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedFamily is returned when connect/listen is attempted
	// on a non-IP, non-AF_UNIX address family.
	ErrUnsupportedFamily = errors.New("unsupported address family")

	// ErrMissingSocket is returned when an operation requires a socket in
	// a valid, non-EOF state and the connection does not qualify.
	ErrMissingSocket = errors.New("connection is not a usable socket")

	// ErrConnection covers a disappeared peer, a poll error, or a failed
	// getsockopt(SO_ERROR) check.
	ErrConnection = errors.New("connection error")

	// ErrNotSupported is returned when credentials or another OS-specific
	// facility is unavailable on the current platform.
	ErrNotSupported = errors.New("not supported on this platform")

	// ErrShutdown names the shutting-down state. No operation in this
	// module returns it; mutators called after shutdown has been
	// requested do not check for that state.
	ErrShutdown = errors.New("connection manager is shutting down")
)

// Wrap attaches call-site context to a sentinel error without losing the
// ability to errors.Is against it.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
