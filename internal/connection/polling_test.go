package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
)

type fakePollController struct {
	linked, relinked, unlinked []int
	linkErr                    error
}

func (f *fakePollController) LinkFD(fd int, kind api.PollKind, name, caller string) error {
	if f.linkErr != nil {
		return f.linkErr
	}
	f.linked = append(f.linked, fd)
	return nil
}

func (f *fakePollController) RelinkFD(fd int, kind api.PollKind, name, caller string) error {
	f.relinked = append(f.relinked, fd)
	return nil
}

func (f *fakePollController) UnlinkFD(fd int, name, caller string) error {
	f.unlinked = append(f.unlinked, fd)
	return nil
}

func (f *fakePollController) Interrupt() {}
func (f *fakePollController) Poll(_ time.Duration) ([]api.PollEvent, error) {
	return nil, nil
}
func (f *fakePollController) Close() error { return nil }

var _ api.PollController = (*fakePollController)(nil)

func TestSetPollingReadWriteSplitsOnDistinctFDs(t *testing.T) {
	con := api.NewConnection(0, false)
	con.InputFD, con.OutputFD = 3, 4
	pc := &fakePollController{}

	err := SetPolling(con, pc, api.PollReadWrite, zap.NewNop(), "test")
	require.NoError(t, err)
	assert.Equal(t, api.PollReadOnly, con.PollingInputKind)
	assert.Equal(t, api.PollWriteOnly, con.PollingOutputKind)
	assert.Equal(t, []int{3}, pc.linked[:1])
}

func TestSetPollingReadWriteMergesOnSameFD(t *testing.T) {
	con := api.NewConnection(0, false)
	con.InputFD, con.OutputFD = 3, 3
	pc := &fakePollController{}

	err := SetPolling(con, pc, api.PollReadWrite, zap.NewNop(), "test")
	require.NoError(t, err)
	assert.Equal(t, api.PollReadWrite, con.PollingInputKind)
	assert.Equal(t, api.PollNone, con.PollingOutputKind)
}

func TestSetPollingWriteOnlyAppliesToInputKindOnSameFD(t *testing.T) {
	con := api.NewConnection(0, false)
	con.InputFD, con.OutputFD = 3, 3
	pc := &fakePollController{}

	err := SetPolling(con, pc, api.PollWriteOnly, zap.NewNop(), "test")
	require.NoError(t, err)
	assert.Equal(t, api.PollWriteOnly, con.PollingInputKind)
	assert.Equal(t, api.PollNone, con.PollingOutputKind)
	assert.Equal(t, []int{3}, pc.linked)
	assert.Empty(t, pc.unlinked)
}

func TestSetPollingNoneUnlinksOnlyWhenPreviouslyLinked(t *testing.T) {
	con := api.NewConnection(0, false)
	con.InputFD, con.OutputFD = 3, 3
	pc := &fakePollController{}

	require.NoError(t, SetPolling(con, pc, api.PollNone, zap.NewNop(), "test"))
	assert.Empty(t, pc.unlinked)

	require.NoError(t, SetPolling(con, pc, api.PollReadOnly, zap.NewNop(), "test"))
	require.NoError(t, SetPolling(con, pc, api.PollNone, zap.NewNop(), "test"))
	assert.Equal(t, []int{3}, pc.unlinked)
}

func TestSetPollingUnsupportedIsSticky(t *testing.T) {
	con := api.NewConnection(0, false)
	con.InputFD, con.OutputFD = 3, 3
	con.PollingInputKind = api.PollUnsupported
	pc := &fakePollController{}

	require.NoError(t, SetPolling(con, pc, api.PollReadWrite, zap.NewNop(), "test"))
	assert.Equal(t, api.PollUnsupported, con.PollingInputKind)
	assert.Empty(t, pc.linked)
	assert.Empty(t, pc.relinked)
}

func TestResolveFDPollingReturnsOnEveryBranch(t *testing.T) {
	pc := &fakePollController{}

	kind, err := resolveFDPolling(pc, 5, api.PollNone, api.PollNone, "c", zap.NewNop(), "t")
	require.NoError(t, err)
	assert.Equal(t, api.PollNone, kind)

	kind, err = resolveFDPolling(pc, 5, api.PollReadOnly, api.PollReadOnly, "c", zap.NewNop(), "t")
	require.NoError(t, err)
	assert.Equal(t, api.PollReadOnly, kind)

	kind, err = resolveFDPolling(pc, 5, api.PollUnsupported, api.PollReadOnly, "c", zap.NewNop(), "t")
	require.NoError(t, err)
	assert.Equal(t, api.PollUnsupported, kind)

	pc.linkErr = conmgrerr.ErrNotSupported
	kind, err = resolveFDPolling(pc, 5, api.PollNone, api.PollReadOnly, "c", zap.NewNop(), "t")
	require.NoError(t, err)
	assert.Equal(t, api.PollUnsupported, kind)
}
