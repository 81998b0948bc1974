// File: internal/dial/accept.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dial

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
	"github.com/momentics/conmgr/internal/connection"
)

// Accept drains every pending connection on a readable listen fd,
// constructing (but not registering) a new Connection for each one.
// Registration is left to the caller since accept is normally invoked by
// the watch loop while the registry is already locked, and registering
// here would self-deadlock. EAGAIN/EWOULDBLOCK ends the drain without
// error; any other accept error is returned alongside whatever
// connections were already built.
func Accept(listenFD int, typ api.ConnType, events api.Events, arg any, bufferStartSize int, keepAlive bool) ([]*api.Connection, error) {
	var accepted []*api.Connection
	for {
		fd, addr, err := unix.Accept4(listenFD, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return accepted, nil
			}
			return accepted, conmgrerr.Wrap(err, "accept4")
		}

		con, err := connection.New(connection.Options{
			Type:            typ,
			InputFD:         fd,
			OutputFD:        fd,
			Events:          events,
			Address:         addr,
			Arg:             arg,
			BufferStartSize: bufferStartSize,
			KeepAlive:       keepAlive,
		})
		if err != nil {
			unix.Close(fd)
			return accepted, err
		}
		con.IsConnected = true
		accepted = append(accepted, con)
	}
}
