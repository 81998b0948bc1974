// File: internal/dial/adopt.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Adoption turns an already-open fd or fd-pair into a tracked
// Connection: build it, register it, and wake the watch loop so it
// notices the new connection without delay, mirroring add_connection's
// locked tail section. Listeners get their LISTEN polling kind here;
// other adopted connections get theirs from the watch loop.

package dial

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/connection"
)

// ProcessFD adopts an already-open fd pair (possibly the same fd twice)
// as a regular connection. connected marks whether the fd is already
// fully connected (true for every already-open fd handed to the
// manager) or still has a pending non-blocking connect outstanding
// (false, used only by CreateConnectSocket); it is set before con is
// published to the registry so the watch loop never observes a
// connection flagged connected before it actually is.
func ProcessFD(d Deps, typ api.ConnType, inputFD, outputFD int, events api.Events, addr unix.Sockaddr, arg any, connected bool) (*api.Connection, error) {
	con, err := connection.New(connection.Options{
		Type:            typ,
		InputFD:         inputFD,
		OutputFD:        outputFD,
		Events:          events,
		Address:         addr,
		Arg:             arg,
		BufferStartSize: d.BufferStartSize,
		KeepAlive:       d.KeepAlive,
	})
	if err != nil {
		return nil, err
	}
	con.IsConnected = connected

	d.Registry.Lock()
	d.Registry.AddActive(con)
	d.Registry.WakeWatch()
	d.Registry.Unlock()
	d.Poll.Interrupt()

	return con, nil
}

// ProcessFDListen adopts an already-bound, already-listening TCP fd.
func ProcessFDListen(d Deps, fd int, typ api.ConnType, events api.Events, addr unix.Sockaddr, arg any) (*api.Connection, error) {
	return adoptListen(d, fd, typ, events, addr, "", arg)
}

// ProcessFDUnixListen adopts an already-bound, already-listening
// local-domain fd, recording its path so Close unlinks it.
func ProcessFDUnixListen(d Deps, fd int, typ api.ConnType, events api.Events, addr unix.Sockaddr, path string, arg any) (*api.Connection, error) {
	return adoptListen(d, fd, typ, events, addr, path, arg)
}

func adoptListen(d Deps, fd int, typ api.ConnType, events api.Events, addr unix.Sockaddr, unixPath string, arg any) (*api.Connection, error) {
	con, err := connection.New(connection.Options{
		Type:           typ,
		InputFD:        fd,
		OutputFD:       -1,
		Events:         events,
		Address:        addr,
		IsListen:       true,
		UnixSocketPath: unixPath,
		Arg:            arg,
	})
	if err != nil {
		return nil, err
	}

	if err := connection.SetPolling(con, d.Poll, api.PollListen, d.Log, "adoptListen"); err != nil {
		return nil, err
	}

	d.Registry.Lock()
	d.Registry.AddListen(con)
	d.Registry.WakeWatch()
	d.Registry.Unlock()
	d.Poll.Interrupt()

	return con, nil
}
