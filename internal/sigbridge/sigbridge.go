// File: internal/sigbridge/sigbridge.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bridge relays OS signals into the work queue as unattached work items,
// mirroring signals.c's add_work_signal/_on_signal dispatch: callers
// register a callback against a signal number, and every delivery of
// that signal runs every callback registered for it as ordinary queued
// work rather than from inside a signal handler. Go's os/signal already
// performs the self-pipe trick signals.c hand-rolls over signal_fd, so
// Bridge builds on a channel instead of reimplementing one.

package sigbridge

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/registry"
	"github.com/momentics/conmgr/internal/workqueue"
)

// Bridge owns the registered signal callbacks and the goroutine that
// drains the channel os/signal delivers into.
type Bridge struct {
	reg *registry.Registry
	log *zap.Logger

	mu       sync.RWMutex
	handlers map[int][]func(status api.WorkStatus)

	sigCh chan os.Signal
	done  chan struct{}
}

// New returns a Bridge bound to reg, not yet started.
func New(reg *registry.Registry, log *zap.Logger) *Bridge {
	return &Bridge{
		reg:      reg,
		log:      log,
		handlers: make(map[int][]func(status api.WorkStatus)),
		sigCh:    make(chan os.Signal, 16),
		done:     make(chan struct{}),
	}
}

// RegisterSignal adds fn to the set of callbacks run whenever signum is
// delivered, matching add_work_signal's "directly register new signal
// handler since connection already started" path: registration takes
// effect immediately, whether or not Start has been called yet.
func (b *Bridge) RegisterSignal(signum int, fn func(status api.WorkStatus)) {
	b.mu.Lock()
	_, alreadyCaught := b.handlers[signum]
	b.handlers[signum] = append(b.handlers[signum], fn)
	b.mu.Unlock()

	if !alreadyCaught {
		signal.Notify(b.sigCh, syscall.Signal(signum))
	}
}

// Start launches the relay goroutine. Call Stop to shut it down.
func (b *Bridge) Start() {
	go b.run()
}

func (b *Bridge) run() {
	defer close(b.done)
	for {
		select {
		case sig, ok := <-b.sigCh:
			if !ok {
				return
			}
			b.dispatch(int(sig.(syscall.Signal)))
		}
	}
}

// dispatch queues every callback registered for signum as unattached
// work, matching _on_signal's "warn and ignore" behavior when nothing
// is registered for a delivered signal.
func (b *Bridge) dispatch(signum int) {
	b.mu.RLock()
	fns := append([]func(status api.WorkStatus){}, b.handlers[signum]...)
	b.mu.RUnlock()

	if len(fns) == 0 {
		b.log.Warn("caught and ignoring signal with no registered work", zap.Int("signal", signum))
		return
	}

	b.reg.Lock()
	for _, fn := range fns {
		workqueue.Enqueue(b.reg, nil, fn, signum)
	}
	b.reg.Unlock()
}

// Stop detaches the signal relay and waits for the goroutine to exit.
func (b *Bridge) Stop() {
	signal.Stop(b.sigCh)
	close(b.sigCh)
	<-b.done
}

// ResetAfterFork is the pthread_atfork-equivalent hook signals.c's
// _on_finish documents: signal dispositions survive fork but the relay
// goroutine does not. Go programs practically never call raw fork
// without an immediate exec (os/exec always does both together), so
// there is no post-fork, pre-exec window in this process model where a
// child needs its own relay; this is a documented no-op kept for
// symmetry with the original interface rather than a live code path.
func (b *Bridge) ResetAfterFork() {}
