//go:build linux
// +build linux

package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/connection"
	"github.com/momentics/conmgr/internal/pollctl"
	"github.com/momentics/conmgr/internal/registry"
	"github.com/momentics/conmgr/internal/workqueue"
)

func TestLoopEchoesDataOverSocketpair(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	reg := registry.New()
	pc, err := pollctl.New()
	require.NoError(t, err)
	defer pc.Close()
	log := zap.NewNop()

	echoedCh := make(chan []byte, 1)
	con, err := connection.New(connection.Options{
		Type:     api.ConnTypeRaw,
		InputFD:  fds[0],
		OutputFD: fds[0],
		Events: api.Events{
			OnData: func(c *api.Connection, arg any) error {
				got := append([]byte(nil), c.InBuffer.Unread()...)
				c.InBuffer.Consume(len(got))
				echoedCh <- got
				return nil
			},
		},
	})
	require.NoError(t, err)
	con.IsConnected = true

	reg.Lock()
	reg.AddActive(con)
	reg.Unlock()

	pool := workqueue.NewPool(reg, 2)
	pool.Start()
	defer pool.Stop()

	loop := New(reg, pc, log, 100*time.Millisecond, 0, false)
	go loop.Run()
	defer func() {
		reg.Lock()
		con.ReadEOF = true
		reg.SetShutdown()
		reg.Unlock()
		pc.Interrupt()
		loop.Wait()
	}()

	_, err = unix.Write(fds[1], []byte("ping"))
	require.NoError(t, err)

	select {
	case got := <-echoedCh:
		require.Equal(t, "ping", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("on_data never ran")
	}
}
