// File: internal/watch/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop is the single orchestrator goroutine: recompute each connection's
// desired polling kind, relink whatever changed, release the registry
// mutex, block in the poll controller, reacquire the mutex, and turn
// readiness into queued work. Modeled on core/concurrency.EventLoop's
// batch/backoff shape, with the batch being "every connection" each
// iteration instead of a channel of discrete events.

package watch

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/connection"
	"github.com/momentics/conmgr/internal/dial"
	"github.com/momentics/conmgr/internal/registry"
	"github.com/momentics/conmgr/internal/workqueue"
)

// Loop owns the poll cycle. It does not own the worker pool's
// goroutines, only the Enqueue calls that feed it.
type Loop struct {
	reg             *registry.Registry
	pc              api.PollController
	log             *zap.Logger
	timeout         time.Duration
	bufferStartSize int
	keepAlive       bool

	doneCh chan struct{}
}

// New returns a Loop ready to Run on its own goroutine. bufferStartSize
// sizes the in_buffer of every connection accepted while running; zero
// selects connection's package default. keepAlive arms SO_KEEPALIVE on
// every qualifying accepted socket.
func New(reg *registry.Registry, pc api.PollController, log *zap.Logger, timeout time.Duration, bufferStartSize int, keepAlive bool) *Loop {
	return &Loop{reg: reg, pc: pc, log: log, timeout: timeout, bufferStartSize: bufferStartSize, keepAlive: keepAlive, doneCh: make(chan struct{})}
}

// Run executes iterations until shutdown has been requested and every
// list has drained. Intended to run on its own goroutine; call Wait to
// block until it returns.
func (l *Loop) Run() {
	defer close(l.doneCh)

	for {
		l.reg.Lock()
		if l.reg.IsShutdown() && registryIdle(l.reg) {
			l.reg.Unlock()
			return
		}

		finalized := l.recompute()
		l.reg.Unlock()

		for _, con := range finalized {
			l.finish(con)
		}

		events, err := l.pc.Poll(l.timeout)
		if err != nil {
			l.log.Warn("poll failed", zap.Error(err))
			continue
		}

		l.reg.Lock()
		l.handleEvents(events)
		l.reg.Unlock()
	}
}

// Wait blocks until Run has returned.
func (l *Loop) Wait() { <-l.doneCh }

func registryIdle(reg *registry.Registry) bool {
	active, listen, complete := reg.Counts()
	return active == 0 && listen == 0 && complete == 0 && reg.UnattachedLen() == 0
}

// recompute updates every active connection's polling kind, moves
// finalize-eligible connections to complete, and returns those drained
// connections for on_finish delivery outside the lock. Listeners have no
// desired-kind transition of their own (desiredKind always wants LISTEN
// for them) so they are closed directly here once shutdown has been
// requested, matching "shutdown closes all connections" including
// listeners, not just active ones. Active connections are closed once
// shutdown has been requested and no worker holds them; they then reach
// complete through desiredKind after their output and work drain.
// Caller must hold the registry lock.
func (l *Loop) recompute() []*api.Connection {
	if l.reg.IsShutdown() {
		for _, con := range l.reg.Listen() {
			connection.Close(con, l.pc, l.reg.WakeWatch, l.log, "watch")
			l.reg.MoveToComplete(con)
		}
	}

	for _, con := range l.reg.Active() {
		if l.reg.IsShutdown() && !con.WorkActive {
			connection.Close(con, l.pc, l.reg.WakeWatch, l.log, "watch")
		}
		if con.IsConnected && !con.Started {
			l.scheduleStart(con)
		}

		kind, finalize := desiredKind(con)
		if finalize {
			connection.Close(con, l.pc, l.reg.WakeWatch, l.log, "watch")
			l.reg.MoveToComplete(con)
			continue
		}
		if kind != con.PollingInputKind || (!con.SameFD() && kind != con.PollingOutputKind) {
			if err := connection.SetPolling(con, l.pc, kind, l.log, "watch"); err != nil {
				l.log.Warn("unable to update polling", zap.String("connection", con.Name), zap.Error(err))
			}
		}
	}
	return l.reg.DrainComplete()
}

// finish runs a connection's on_finish callback and releases its
// output fd, the last step of close coordination.
func (l *Loop) finish(con *api.Connection) {
	if con.Events.OnFinish != nil {
		con.Events.OnFinish(con, con.Arg)
	}
	if con.OutputFD >= 0 && con.OutputFD != con.InputFD {
		unix.Close(con.OutputFD)
	}
}

// handleEvents converts poll readiness into registry mutations and
// queued work. Caller must hold the registry lock.
func (l *Loop) handleEvents(events []api.PollEvent) {
	for _, ev := range events {
		con := l.reg.FindByFD(ev.FD)
		if con == nil {
			continue
		}

		if ev.Error {
			connection.Close(con, l.pc, l.pc.Interrupt, l.log, "handleEvents")
			continue
		}

		if con.IsListen {
			if ev.Readable {
				l.acceptAll(con)
			}
			continue
		}

		if !con.IsConnected {
			if ev.Writable {
				l.completeConnect(con)
			}
			continue
		}

		if ev.Readable {
			con.CanRead = true
		}

		l.scheduleIO(con)
	}
}

func (l *Loop) acceptAll(listenCon *api.Connection) {
	accepted, err := dial.Accept(listenCon.InputFD, listenCon.Type, listenCon.Events, listenCon.NewArg, l.bufferStartSize, l.keepAlive)
	for _, con := range accepted {
		l.reg.AddActive(con)
	}
	if err != nil {
		l.log.Warn("accept failed", zap.String("connection", listenCon.Name), zap.Error(err))
	}
	if len(accepted) > 0 {
		l.reg.WakeWatch()
	}
}

func (l *Loop) completeConnect(con *api.Connection) {
	errno, err := unix.GetsockoptInt(con.InputFD, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		connection.Close(con, l.pc, l.pc.Interrupt, l.log, "completeConnect")
		return
	}
	if errno != 0 {
		l.log.Info("connect failed", zap.String("connection", con.Name), zap.Int("errno", errno))
		connection.Close(con, l.pc, l.pc.Interrupt, l.log, "completeConnect")
		return
	}
	con.IsConnected = true
	l.reg.WakeWatch()
}

// scheduleIO queues a work item to run the read/write/callback cycle for
// con, but only if nothing is already queued or running for it, so
// repeated readiness observed across iterations never piles up
// duplicate items.
func (l *Loop) scheduleIO(con *api.Connection) {
	if !con.Started || con.WorkActive || con.WorkQueue.Length() > 0 {
		return
	}
	workqueue.Enqueue(l.reg, con, func(status api.WorkStatus) {
		processIO(con, status, l.log)
	}, 0)
}

// scheduleStart queues con's OnConnection callback exactly once. Marking
// Started before the callback has actually run (rather than after)
// prevents recompute from queuing it again on the next iteration while
// the first item is still sitting in the work queue.
func (l *Loop) scheduleStart(con *api.Connection) {
	con.Started = true
	workqueue.Enqueue(l.reg, con, func(status api.WorkStatus) {
		processStart(l.reg, con, status, l.log)
	}, 0)
}
