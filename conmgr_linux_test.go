//go:build linux
// +build linux

package conmgr

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WorkerCount = 2
	cfg.PollTimeout = 20 * time.Millisecond
	m, err := New(cfg, nil, nil, nil)
	require.NoError(t, err)
	return m
}

func dialUnix(t *testing.T, path string) int {
	t.Helper()
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Connect(fd, &unix.SockaddrUnix{Name: path}))
	return fd
}

// TestManagerEchoesOverUnixSocket exercises the echo scenario
// end-to-end: a listen socket accepts a client, OnData echoes whatever
// it reads back onto the same connection's output queue.
func TestManagerEchoesOverUnixSocket(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(t.TempDir(), "conmgr.sock")

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-runDone)
	}()

	ev := api.Events{
		OnData: func(con *api.Connection, arg any) error {
			got := append([]byte(nil), con.InBuffer.Unread()...)
			con.InBuffer.Consume(len(got))
			buf := api.NewBuffer(len(got))
			buf.Append(got)
			con.OutQueue.Add(buf)
			con.BytesEnqueued += uint64(len(got))
			return nil
		},
	}
	require.NoError(t, m.CreateListenSockets(context.Background(), api.ConnTypeRaw, []string{"unix:" + path}, ev, nil))

	// Give the watch loop a chance to start polling the new listener.
	time.Sleep(50 * time.Millisecond)

	clientFD := dialUnix(t, path)
	defer unix.Close(clientFD)

	_, err := unix.Write(clientFD, []byte("hello"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, err := unix.Read(clientFD, buf)
		if err == nil && n > 0 {
			require.Equal(t, "hello", string(buf[:n]))
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("echo never arrived")
}

// TestManagerRejectsDuplicateUnixListener exercises the duplicate-listener
// scenario: a second CreateListenSockets call against the same path is a
// silent no-op, not a second bound socket.
func TestManagerRejectsDuplicateUnixListener(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(t.TempDir(), "conmgr.sock")
	ev := api.Events{OnData: func(con *api.Connection, arg any) error { return nil }}

	require.NoError(t, m.CreateListenSockets(context.Background(), api.ConnTypeRaw, []string{"unix:" + path}, ev, nil))
	require.NoError(t, m.CreateListenSockets(context.Background(), api.ConnTypeRaw, []string{"unix:" + path}, ev, nil))

	m.reg.Lock()
	_, listenCount, _ := m.reg.Counts()
	m.reg.Unlock()
	require.Equal(t, 1, listenCount)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()
	cancel()
	require.NoError(t, <-runDone)
}
