package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/conmgr/api"
)

func TestDesiredKindListenAlwaysWantsListen(t *testing.T) {
	con := api.NewConnection(0, true)
	con.IsListen = true

	kind, finalize := desiredKind(con)
	assert.Equal(t, api.PollListen, kind)
	assert.False(t, finalize)
}

func TestDesiredKindPendingConnectWantsConnected(t *testing.T) {
	con := api.NewConnection(64, false)
	con.IsConnected = false

	kind, finalize := desiredKind(con)
	assert.Equal(t, api.PollConnected, kind)
	assert.False(t, finalize)
}

func TestDesiredKindFinalizesOnDrainedEOF(t *testing.T) {
	con := api.NewConnection(64, false)
	con.IsConnected = true
	con.ReadEOF = true

	kind, finalize := desiredKind(con)
	assert.Equal(t, api.PollNone, kind)
	assert.True(t, finalize)
}

func TestDesiredKindEOFWithPendingOutputDoesNotFinalize(t *testing.T) {
	con := api.NewConnection(64, false)
	con.IsConnected = true
	con.ReadEOF = true
	con.OutQueue.Add(api.NewBuffer(16))

	kind, finalize := desiredKind(con)
	assert.False(t, finalize)
	assert.Equal(t, api.PollWriteOnly, kind)
}

func TestDesiredKindReadWriteWhenBothPending(t *testing.T) {
	con := api.NewConnection(64, false)
	con.IsConnected = true
	con.OutQueue.Add(api.NewBuffer(16))

	kind, finalize := desiredKind(con)
	assert.False(t, finalize)
	assert.Equal(t, api.PollReadWrite, kind)
}

func TestDesiredKindNoneWhenBufferFullAndNothingPending(t *testing.T) {
	con := api.NewConnection(4, false)
	con.IsConnected = true
	con.InBuffer.Append(make([]byte, con.InBuffer.Cap()))

	kind, finalize := desiredKind(con)
	assert.False(t, finalize)
	assert.Equal(t, api.PollNone, kind)
}
