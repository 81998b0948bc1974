package fdpass

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/registry"
	"github.com/momentics/conmgr/internal/workqueue"
)

func newConnectedPair(t *testing.T) (*api.Connection, *api.Connection) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	sender := api.NewConnection(0, false)
	sender.InputFD, sender.OutputFD = fds[0], fds[0]
	sender.IsSocket = true
	sender.IsConnected = true

	receiver := api.NewConnection(0, false)
	receiver.InputFD, receiver.OutputFD = fds[1], fds[1]
	receiver.IsSocket = true
	receiver.IsConnected = true

	return sender, receiver
}

func TestSendAndReceiveFDRoundTrip(t *testing.T) {
	reg := registry.New()
	sender, receiver := newConnectedPair(t)

	reg.Lock()
	reg.AddActive(sender)
	reg.AddActive(receiver)
	reg.Unlock()

	tmp, err := os.CreateTemp(t.TempDir(), "payload")
	require.NoError(t, err)
	defer tmp.Close()
	_, err = tmp.WriteString("hello")
	require.NoError(t, err)

	log := zap.NewNop()

	receivedCh := make(chan int, 1)
	err = QueueReceiveFD(reg, fakePollController{}, receiver, api.ConnTypeRaw, testEvents(), nil,
		func(fd int, typ api.ConnType, events api.Events, arg any) {
			receivedCh <- fd
		}, log)
	require.NoError(t, err)

	err = QueueSendFD(reg, sender, int(tmp.Fd()), log)
	require.NoError(t, err)

	pool := workqueue.NewPool(reg, 2)
	pool.Start()
	defer pool.Stop()

	select {
	case fd := <-receivedCh:
		defer unix.Close(fd)
		buf := make([]byte, 5)
		n, err := unix.Pread(fd, buf, 0)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf[:n]))
	case <-time.After(2 * time.Second):
		t.Fatal("file descriptor never arrived")
	}
}

func TestQueueSendFDRejectsNonSocket(t *testing.T) {
	reg := registry.New()
	con := api.NewConnection(0, false)
	con.IsSocket = false

	reg.Lock()
	reg.AddActive(con)
	reg.Unlock()

	err := QueueSendFD(reg, con, 0, zap.NewNop())
	assert.Error(t, err)
}

type fakePollController struct{}

func (fakePollController) LinkFD(int, api.PollKind, string, string) error   { return nil }
func (fakePollController) RelinkFD(int, api.PollKind, string, string) error { return nil }
func (fakePollController) UnlinkFD(int, string, string) error              { return nil }
func (fakePollController) Interrupt()                                     {}
func (fakePollController) Poll(time.Duration) ([]api.PollEvent, error)    { return nil, nil }
func (fakePollController) Close() error                                   { return nil }

var _ api.PollController = fakePollController{}

func testEvents() api.Events {
	return api.Events{OnData: func(*api.Connection, any) error { return nil }}
}
