//go:build linux
// +build linux

package pollctl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
)

func TestLinkFDReportsReadability(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	c, err := New()
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.LinkFD(fds[0], api.PollReadOnly, "test", "TestLinkFDReportsReadability"))

	_, err = unix.Write(fds[1], []byte("hi"))
	require.NoError(t, err)

	events, err := c.Poll(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, fds[0], events[0].FD)
	require.True(t, events[0].Readable)
}

func TestInterruptUnblocksPoll(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		c.Poll(5 * time.Second)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	c.Interrupt()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll did not unblock after Interrupt")
	}
}
