// File: internal/dial/connect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CreateConnectSocket opens a non-blocking outbound connection,
// mirroring conmgr_create_connect_socket: EINPROGRESS/EAGAIN/EWOULDBLOCK
// mean "connect pending" and the new connection is registered in
// CONNECTED polling kind so the watch loop completes it later; EINTR is
// retried unless shutdown has been requested, in which case the fd is
// closed and no error is surfaced.

package dial

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
	"github.com/momentics/conmgr/internal/connection"
)

// CreateConnectSocket dials addr and adopts the resulting fd. shutdown
// is polled on every EINTR retry so a connect in progress during
// teardown exits promptly instead of spinning.
func CreateConnectSocket(d Deps, typ api.ConnType, addr unix.Sockaddr, events api.Events, arg any, shutdown func() bool) (*api.Connection, error) {
	family, proto, err := familyForAddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, conmgrerr.Wrap(err, "socket")
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, conmgrerr.Wrap(err, "set non-blocking")
	}

	connected := true
	for {
		err := unix.Connect(fd, addr)
		if err == nil {
			break
		}
		if err == unix.EINTR {
			if shutdown != nil && shutdown() {
				unix.Close(fd)
				return nil, nil
			}
			continue
		}
		if err == unix.EINPROGRESS || err == unix.EAGAIN {
			connected = false
			break
		}
		unix.Close(fd)
		return nil, conmgrerr.Wrap(err, "connect")
	}

	con, err := ProcessFD(d, typ, fd, fd, events, addr, arg, connected)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	kind := api.PollReadWrite
	if !connected {
		kind = api.PollConnected
	}
	d.Registry.Lock()
	err = connection.SetPolling(con, d.Poll, kind, d.Log, "CreateConnectSocket")
	d.Registry.Unlock()
	if err != nil {
		return con, err
	}

	return con, nil
}

func familyForAddr(addr unix.Sockaddr) (int, int, error) {
	switch addr.(type) {
	case *unix.SockaddrUnix:
		return unix.AF_UNIX, 0, nil
	case *unix.SockaddrInet4:
		return unix.AF_INET, unix.IPPROTO_TCP, nil
	case *unix.SockaddrInet6:
		return unix.AF_INET6, unix.IPPROTO_TCP, nil
	default:
		return 0, 0, conmgrerr.ErrUnsupportedFamily
	}
}
