// Package api
// Author: momentics <momentics@gmail.com>
//
// PollController abstracts the readiness-notification primitive (epoll on
// Linux, with a portable select-based fallback) used by the watch loop.
// Interest kinds map 1:1 onto PollKind; UNSUPPORTED is sticky and reported
// back to the caller instead of treated as a fatal error.

package api

import "time"

// PollEvent is one readiness result yielded by PollController.Poll.
type PollEvent struct {
	FD       int
	Readable bool
	Writable bool
	Error    bool
}

// PollController wraps the readiness primitive with the five operations the
// watch loop and connection lifecycle need.
type PollController interface {
	// LinkFD registers interest in fd at the given kind. Returns
	// ErrNotSupported (sticky) if the platform cannot poll this fd type;
	// any other error is fatal (programmer/setup error).
	LinkFD(fd int, kind PollKind, name string, caller string) error

	// RelinkFD changes interest in-place for an already-linked fd.
	RelinkFD(fd int, kind PollKind, name string, caller string) error

	// UnlinkFD deregisters fd.
	UnlinkFD(fd int, name string, caller string) error

	// Interrupt causes a blocked Poll call to return immediately.
	Interrupt()

	// Poll blocks until readiness or Interrupt, up to timeout (timeout < 0
	// blocks indefinitely), and yields the ready fds.
	Poll(timeout time.Duration) ([]PollEvent, error)

	// Close releases the underlying poller resource.
	Close() error
}
