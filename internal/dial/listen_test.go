package dial

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/registry"
)

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

func TestCreateUnixListenSocketRegistersListenConnection(t *testing.T) {
	reg := registry.New()
	d := Deps{Registry: reg, Poll: fakePollController{}, Log: zap.NewNop(), Backlog: 16}

	sockPath := filepath.Join(t.TempDir(), "conmgr.sock")

	cons, err := CreateListenSockets(context.Background(), d, DefaultParser{}, DefaultResolver{}, api.ConnTypeRaw, "unix:"+sockPath, testEvents(), nil)
	require.NoError(t, err)
	require.Len(t, cons, 1)
	assert.True(t, cons[0].IsListen)
	assert.Equal(t, sockPath, cons[0].UnixSocketPath)

	unix.Close(cons[0].InputFD)
}

func TestCreateListenSocketsSkipsDuplicateAddress(t *testing.T) {
	reg := registry.New()
	d := Deps{Registry: reg, Poll: fakePollController{}, Log: zap.NewNop(), Backlog: 16}

	addr := &unix.SockaddrInet4{Port: 18080, Addr: [4]byte{127, 0, 0, 1}}
	existing := api.NewConnection(0, true)
	existing.Address = addr

	reg.Lock()
	reg.AddListen(existing)
	reg.Unlock()

	cons, err := CreateListenSockets(context.Background(), d, DefaultParser{}, DefaultResolver{}, api.ConnTypeRaw, "127.0.0.1:18080", testEvents(), nil)
	require.NoError(t, err)
	assert.Empty(t, cons)
}
