//go:build !linux
// +build !linux

// File: internal/pollctl/pollctl_portable.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable select(2)-based fallback for platforms without epoll, using
// the same self-pipe wakeup idiom as the Linux controller. Interest
// tracking is a plain map rebuilt into an fd_set on every Poll call,
// trading scalability (Go's standard library select cap applies) for
// running unmodified anywhere select(2) exists.

package pollctl

import (
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
)

type interest struct {
	kind api.PollKind
}

// Controller is the select(2)-based api.PollController implementation
// used on platforms without epoll.
type Controller struct {
	mu    sync.Mutex
	fds   map[int]interest
	wakeR int
	wakeW int
}

// New creates the wakeup pipe and an empty interest set.
func New() (*Controller, error) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return nil, conmgrerr.Wrap(err, "pipe")
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		return nil, conmgrerr.Wrap(err, "set wake pipe non-blocking")
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		return nil, conmgrerr.Wrap(err, "set wake pipe non-blocking")
	}
	return &Controller{
		fds:   make(map[int]interest),
		wakeR: fds[0],
		wakeW: fds[1],
	}, nil
}

// LinkFD registers fd's interest kind.
func (c *Controller) LinkFD(fd int, kind api.PollKind, name string, caller string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fds[fd] = interest{kind: kind}
	return nil
}

// RelinkFD changes fd's interest kind in place.
func (c *Controller) RelinkFD(fd int, kind api.PollKind, name string, caller string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fds[fd] = interest{kind: kind}
	return nil
}

// UnlinkFD deregisters fd.
func (c *Controller) UnlinkFD(fd int, name string, caller string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fds, fd)
	return nil
}

// Interrupt wakes a blocked Poll call.
func (c *Controller) Interrupt() {
	_, _ = unix.Write(c.wakeW, []byte{0})
}

// Poll blocks on select(2) across every registered fd plus the wakeup
// pipe for up to timeout (negative blocks indefinitely).
func (c *Controller) Poll(timeout time.Duration) ([]api.PollEvent, error) {
	c.mu.Lock()
	snapshot := make(map[int]interest, len(c.fds))
	for fd, in := range c.fds {
		snapshot[fd] = in
	}
	c.mu.Unlock()

	var rfds, wfds unix.FdSet
	nfd := c.wakeR
	fdSetAdd(&rfds, c.wakeR)

	for fd, in := range snapshot {
		switch in.kind {
		case api.PollReadOnly, api.PollListen, api.PollReadWrite:
			fdSetAdd(&rfds, fd)
		}
		switch in.kind {
		case api.PollWriteOnly, api.PollConnected, api.PollReadWrite:
			fdSetAdd(&wfds, fd)
		}
		if fd > nfd {
			nfd = fd
		}
	}

	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	n, err := unix.Select(nfd+1, &rfds, &wfds, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, conmgrerr.Wrap(err, "select")
	}
	if n == 0 {
		return nil, nil
	}

	if fdSetIsSet(&rfds, c.wakeR) {
		drainWakePipe(c.wakeR)
	}

	out := make([]api.PollEvent, 0, len(snapshot))
	for fd := range snapshot {
		readable := fdSetIsSet(&rfds, fd)
		writable := fdSetIsSet(&wfds, fd)
		if readable || writable {
			out = append(out, api.PollEvent{FD: fd, Readable: readable, Writable: writable})
		}
	}
	return out, nil
}

func drainWakePipe(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// fdSetAdd and fdSetIsSet manipulate the fd_set at byte granularity so
// they work regardless of the host's native word size for Bits (int32 on
// some BSDs, int64 elsewhere).
func fdSetAdd(set *unix.FdSet, fd int) {
	bits := (*[unsafe.Sizeof(set.Bits)]byte)(unsafe.Pointer(&set.Bits))
	bits[fd/8] |= 1 << uint(fd%8)
}

func fdSetIsSet(set *unix.FdSet, fd int) bool {
	bits := (*[unsafe.Sizeof(set.Bits)]byte)(unsafe.Pointer(&set.Bits))
	return bits[fd/8]&(1<<uint(fd%8)) != 0
}

// Close releases the wakeup pipe.
func (c *Controller) Close() error {
	unix.Close(c.wakeR)
	return unix.Close(c.wakeW)
}

var _ api.PollController = (*Controller)(nil)
