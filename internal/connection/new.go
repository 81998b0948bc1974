// File: internal/connection/new.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// New constructs a tracked Connection from a pair of already-open fds,
// mirroring add_connection: it classifies the fd(s) as a socket or not,
// arms TCP keepalive where appropriate, puts every fd in non-blocking
// mode, and resolves a display name before the connection is ever handed
// to the registry.

package connection

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
)

const bufferStartSize = 4096

// Options configures New. Address and UnixSocketPath are optional;
// leave Address nil for non-socket fds such as pipes or inherited ttys.
type Options struct {
	Type           api.ConnType
	InputFD        int
	OutputFD       int
	Events         api.Events
	Address        unix.Sockaddr
	IsListen       bool
	UnixSocketPath string
	Arg            any

	// BufferStartSize overrides the in_buffer's starting capacity.
	// Zero selects bufferStartSize, the package default.
	BufferStartSize int

	// KeepAlive arms SO_KEEPALIVE on qualifying sockets (non-listen, with
	// no UnixSocketPath). Callers that want keepalive unconditionally
	// disabled, regardless of socket kind, leave this false.
	KeepAlive bool
}

// New validates opts.Events against opts.Type, classifies the fd(s), and
// returns a ready-to-register Connection.
func New(opts Options) (*api.Connection, error) {
	if err := opts.Events.Validate(opts.Type); err != nil {
		return nil, conmgrerr.Wrap(err, "New")
	}

	hasIn := opts.InputFD >= 0
	hasOut := opts.OutputFD >= 0
	isSame := opts.InputFD == opts.OutputFD

	var inSocket, outSocket bool
	if hasIn {
		var st unix.Stat_t
		if err := unix.Fstat(opts.InputFD, &st); err != nil {
			return nil, conmgrerr.Wrap(err, "fstat input fd")
		}
		inSocket = st.Mode&unix.S_IFMT == unix.S_IFSOCK
	}
	if hasOut {
		var st unix.Stat_t
		if err := unix.Fstat(opts.OutputFD, &st); err != nil {
			return nil, conmgrerr.Wrap(err, "fstat output fd")
		}
		outSocket = st.Mode&unix.S_IFMT == unix.S_IFSOCK
	}
	isSocket := inSocket || outSocket

	setKeepAlive := opts.KeepAlive && opts.UnixSocketPath == "" && isSocket && !opts.IsListen

	if hasIn {
		if setKeepAlive {
			setTCPKeepAlive(opts.InputFD)
		}
		if err := unix.SetNonblock(opts.InputFD, true); err != nil {
			return nil, conmgrerr.Wrap(err, "set input fd non-blocking")
		}
	}
	if !isSame && hasOut {
		if setKeepAlive {
			setTCPKeepAlive(opts.OutputFD)
		}
		if err := unix.SetNonblock(opts.OutputFD, true); err != nil {
			return nil, conmgrerr.Wrap(err, "set output fd non-blocking")
		}
	}

	startSize := opts.BufferStartSize
	if startSize <= 0 {
		startSize = bufferStartSize
	}
	con := api.NewConnection(startSize, opts.IsListen)
	con.Type = opts.Type
	con.Events = opts.Events
	con.InputFD = opts.InputFD
	con.OutputFD = opts.OutputFD
	con.ReadEOF = !hasIn
	con.IsSocket = isSocket
	con.IsListen = opts.IsListen
	con.NewArg = opts.Arg
	con.UnixSocketPath = opts.UnixSocketPath
	if isSocket && opts.Address != nil {
		con.Address = opts.Address
	}

	con.Name = ResolveName(con.InputFD, con.OutputFD, con.IsSocket)

	return con, nil
}

func setTCPKeepAlive(fd int) {
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
}
