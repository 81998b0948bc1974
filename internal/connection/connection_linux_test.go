//go:build linux
// +build linux

package connection

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
)

func TestChangeModePreservesUnreadBytesAndIsNoOpOnSameType(t *testing.T) {
	con := api.NewConnection(64, false)
	con.Type = api.ConnTypeRaw
	con.Events = api.Events{OnData: func(*api.Connection, any) error { return nil }}
	con.InBuffer.Append([]byte("partial"))
	log := zap.NewNop()

	err := ChangeMode(con, api.ConnTypeRaw, con.Events, log)
	require.NoError(t, err)
	assert.Equal(t, api.ConnTypeRaw, con.Type)
	assert.Equal(t, "partial", string(con.InBuffer.Unread()))

	rpcEvents := api.Events{OnMsg: func(*api.Connection, []byte, any) error { return nil }}
	err = ChangeMode(con, api.ConnTypeRPC, rpcEvents, log)
	require.NoError(t, err)
	assert.Equal(t, api.ConnTypeRPC, con.Type)
	assert.Equal(t, "partial", string(con.InBuffer.Unread()))
}

func TestChangeModeRejectsEventsMissingRequiredCallback(t *testing.T) {
	con := api.NewConnection(64, false)
	con.Type = api.ConnTypeRaw
	err := ChangeMode(con, api.ConnTypeRPC, api.Events{}, zap.NewNop())
	assert.Error(t, err)
}

func TestResolveNameNamesConnectedSocket(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	name := ResolveName(fds[0], fds[0], true)
	assert.NotEqual(t, "INVALID", name)
}

func TestResolveNameClassifiesPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	name := ResolveName(int(r.Fd()), -1, false)
	assert.Contains(t, name, "pipe")
}

func TestResolveNameReturnsInvalidForNoFDs(t *testing.T) {
	assert.Equal(t, "INVALID", ResolveName(-1, -1, false))
}

func TestAuthCredsReadsPeerCredsOverUnixSocketpair(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	con := api.NewConnection(0, false)
	con.IsSocket = true
	con.InputFD = fds[0]

	uid, gid, pid, err := AuthCreds(con)
	require.NoError(t, err)
	assert.Equal(t, uint32(os.Getuid()), uid)
	assert.Equal(t, uint32(os.Getgid()), gid)
	assert.Equal(t, int32(os.Getpid()), pid)
}

func TestAuthCredsRejectsNonSocket(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	con := api.NewConnection(0, false)
	con.IsSocket = false
	con.InputFD = int(r.Fd())

	_, _, _, err = AuthCreds(con)
	assert.Error(t, err)
}
