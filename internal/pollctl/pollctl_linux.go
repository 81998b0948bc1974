//go:build linux
// +build linux

// File: internal/pollctl/pollctl_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7)-backed implementation of api.PollController. A self-pipe
// is registered alongside the watched fds so Interrupt can break a
// blocked epoll_wait from another goroutine without a signal.

package pollctl

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
)

const maxEvents = 256

// Controller is the Linux epoll implementation of api.PollController.
type Controller struct {
	epfd int

	wakeR int
	wakeW int
}

// New creates an epoll instance and its companion wakeup pipe.
func New() (*Controller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, conmgrerr.Wrap(err, "epoll_create1")
	}

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, conmgrerr.Wrap(err, "pipe2")
	}

	c := &Controller{epfd: epfd, wakeR: fds[0], wakeW: fds[1]}

	if err := unix.EpollCtl(c.epfd, unix.EPOLL_CTL_ADD, c.wakeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(c.wakeR),
	}); err != nil {
		c.Close()
		return nil, conmgrerr.Wrap(err, "epoll_ctl add wake pipe")
	}

	return c, nil
}

func pollEventsForKind(kind api.PollKind) uint32 {
	switch kind {
	case api.PollReadOnly, api.PollListen:
		return unix.EPOLLIN
	case api.PollWriteOnly, api.PollConnected:
		return unix.EPOLLOUT
	case api.PollReadWrite:
		return unix.EPOLLIN | unix.EPOLLOUT
	default:
		return 0
	}
}

// LinkFD registers fd for the interest implied by kind.
func (c *Controller) LinkFD(fd int, kind api.PollKind, name string, caller string) error {
	ev := unix.EpollEvent{Events: pollEventsForKind(kind), Fd: int32(fd)}
	if err := unix.EpollCtl(c.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		if err == unix.EPERM {
			return conmgrerr.ErrNotSupported
		}
		return conmgrerr.Wrap(err, "epoll_ctl add "+name+" ("+caller+")")
	}
	return nil
}

// RelinkFD changes the interest already registered for fd.
func (c *Controller) RelinkFD(fd int, kind api.PollKind, name string, caller string) error {
	ev := unix.EpollEvent{Events: pollEventsForKind(kind), Fd: int32(fd)}
	if err := unix.EpollCtl(c.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		if err == unix.EPERM {
			return conmgrerr.ErrNotSupported
		}
		return conmgrerr.Wrap(err, "epoll_ctl mod "+name+" ("+caller+")")
	}
	return nil
}

// UnlinkFD deregisters fd.
func (c *Controller) UnlinkFD(fd int, name string, caller string) error {
	if err := unix.EpollCtl(c.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return conmgrerr.Wrap(err, "epoll_ctl del "+name+" ("+caller+")")
	}
	return nil
}

// Interrupt wakes a blocked Poll call by writing a single byte to the
// self-pipe, the idiom this controller shares with the portable fallback.
func (c *Controller) Interrupt() {
	_, _ = unix.Write(c.wakeW, []byte{0})
}

// Poll blocks for up to timeout (negative blocks indefinitely) and
// returns every ready fd except the internal wakeup pipe, whose pending
// bytes are drained here.
func (c *Controller) Poll(timeout time.Duration) ([]api.PollEvent, error) {
	var events [maxEvents]unix.EpollEvent

	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}

	n, err := unix.EpollWait(c.epfd, events[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, conmgrerr.Wrap(err, "epoll_wait")
	}

	out := make([]api.PollEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := events[i]
		fd := int(ev.Fd)

		if fd == c.wakeR {
			drainWakePipe(c.wakeR)
			continue
		}

		out = append(out, api.PollEvent{
			FD:       fd,
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLHUP) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Error:    ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
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

// Close releases the epoll instance and the self-pipe.
func (c *Controller) Close() error {
	unix.Close(c.wakeR)
	unix.Close(c.wakeW)
	return unix.Close(c.epfd)
}

var _ api.PollController = (*Controller)(nil)
