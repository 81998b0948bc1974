// File: internal/connection/authcreds.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// AuthCreds reads the peer credentials an AF_UNIX socket's kernel
// captured at connect() time, the Go equivalent of conmgr_fd_get_auth_creds.
// Only meaningful for AF_UNIX sockets; any other fd simply has none to
// report.

package connection

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
)

// AuthCreds returns the SO_PEERCRED credentials captured for con's input
// fd. Requires con to be a socket; any other fd returns ErrUnsupportedFamily.
func AuthCreds(con *api.Connection) (uid, gid uint32, pid int32, err error) {
	if !con.IsSocket {
		return 0, 0, 0, conmgrerr.Wrap(conmgrerr.ErrUnsupportedFamily, "AuthCreds: not a socket")
	}
	if con.InputFD < 0 {
		return 0, 0, 0, conmgrerr.Wrap(conmgrerr.ErrMissingSocket, "AuthCreds: invalid input_fd")
	}

	cred, err := unix.GetsockoptUcred(con.InputFD, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return 0, 0, 0, conmgrerr.Wrap(err, "getsockopt SO_PEERCRED")
	}
	return cred.Uid, cred.Gid, cred.Pid, nil
}
