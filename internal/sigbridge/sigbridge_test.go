package sigbridge

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/registry"
	"github.com/momentics/conmgr/internal/workqueue"
)

func TestRegisteredSignalDispatchesAsWork(t *testing.T) {
	reg := registry.New()
	bridge := New(reg, zap.NewNop())

	statusCh := make(chan api.WorkStatus, 1)
	bridge.RegisterSignal(int(syscall.SIGUSR1), func(status api.WorkStatus) {
		statusCh <- status
	})
	bridge.Start()
	defer bridge.Stop()

	pool := workqueue.NewPool(reg, 1)
	pool.Start()
	defer pool.Stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case status := <-statusCh:
		assert.Equal(t, api.WorkRun, status)
	case <-time.After(2 * time.Second):
		t.Fatal("signal work item never ran")
	}
}

func TestMultipleHandlersForSameSignalAllRun(t *testing.T) {
	reg := registry.New()
	bridge := New(reg, zap.NewNop())

	doneCh := make(chan int, 2)
	bridge.RegisterSignal(int(syscall.SIGUSR2), func(status api.WorkStatus) { doneCh <- 1 })
	bridge.RegisterSignal(int(syscall.SIGUSR2), func(status api.WorkStatus) { doneCh <- 2 })
	bridge.Start()
	defer bridge.Stop()

	pool := workqueue.NewPool(reg, 2)
	pool.Start()
	defer pool.Stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))

	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-doneCh:
			seen[v] = true
		case <-time.After(2 * time.Second):
			t.Fatal("not all handlers ran")
		}
	}
	assert.True(t, seen[1] && seen[2])
}
