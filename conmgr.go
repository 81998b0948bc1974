// File: conmgr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager is the composition root wiring the registry, poll controller,
// worker pool, watch loop, and signal bridge into the external interface
// callers use, mirroring server.HioloadWS's facade role: New builds and
// wires every subsystem, Run starts the background goroutines, Shutdown
// drains them.

package conmgr

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
	"github.com/momentics/conmgr/internal/connection"
	"github.com/momentics/conmgr/internal/dial"
	"github.com/momentics/conmgr/internal/fdpass"
	"github.com/momentics/conmgr/internal/pollctl"
	"github.com/momentics/conmgr/internal/registry"
	"github.com/momentics/conmgr/internal/sigbridge"
	"github.com/momentics/conmgr/internal/watch"
	"github.com/momentics/conmgr/internal/workqueue"
)

// Config holds every tunable the facade wires into its subsystems.
type Config struct {
	// BacklogDepth is the listen(2) backlog passed to every listen
	// socket this Manager creates.
	BacklogDepth int
	// BufferStartSize sizes every connection's in_buffer at creation.
	BufferStartSize int
	// WorkerCount is the number of worker goroutines draining queued work.
	WorkerCount int
	// DebugConmgr selects a debug-level development logger when New is
	// given no logger, mirroring debug_flags & DEBUG_FLAG_CONMGR in the
	// original. A logger passed to New is used as is.
	DebugConmgr bool
	// KeepAlive enables SO_KEEPALIVE on adopted sockets; set false to
	// skip it even where add_connection's rules would otherwise apply it.
	KeepAlive bool
	// PollTimeout bounds how long the watch loop blocks in one poll
	// cycle before re-checking the shutdown condition.
	PollTimeout time.Duration
}

// DefaultConfig returns a baseline Config.
func DefaultConfig() Config {
	return Config{
		BacklogDepth:     1024,
		BufferStartSize:  4096,
		WorkerCount:      4,
		DebugConmgr:      false,
		KeepAlive:        true,
		PollTimeout:      250 * time.Millisecond,
	}
}

// Manager is the central facade exposing every external operation.
type Manager struct {
	cfg Config
	log *zap.Logger

	reg  *registry.Registry
	pc   api.PollController
	pool *workqueue.Pool
	loop *watch.Loop
	sig  *sigbridge.Bridge

	dialDeps dial.Deps
	parser   dial.HostPortParser
	resolver dial.AddressResolver

	mu      sync.Mutex
	started bool
}

// New wires every subsystem per cfg and returns a Manager ready for Run.
// A nil logger gets zap.NewDevelopment() when cfg.DebugConmgr is set and
// zap.NewNop() otherwise; a nil parser/resolver get dial's
// stdlib-backed defaults, same pattern as server.New wiring adapters.*
// with hard-coded defaults when the caller supplies none.
func New(cfg Config, parser dial.HostPortParser, resolver dial.AddressResolver, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		if cfg.DebugConmgr {
			logger, _ = zap.NewDevelopment()
		} else {
			logger = zap.NewNop()
		}
	}
	if parser == nil {
		parser = dial.DefaultParser{}
	}
	if resolver == nil {
		resolver = dial.DefaultResolver{}
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 250 * time.Millisecond
	}

	reg := registry.New()
	pc, err := pollctl.New()
	if err != nil {
		return nil, conmgrerr.Wrap(err, "New: poll controller")
	}

	m := &Manager{
		cfg:      cfg,
		log:      logger,
		reg:      reg,
		pc:       pc,
		parser:   parser,
		resolver: resolver,
		dialDeps: dial.Deps{
			Registry:        reg,
			Poll:            pc,
			Log:             logger,
			Backlog:         cfg.BacklogDepth,
			BufferStartSize: cfg.BufferStartSize,
			KeepAlive:       cfg.KeepAlive,
		},
	}
	m.pool = workqueue.NewPool(reg, cfg.WorkerCount)
	m.loop = watch.New(reg, pc, logger, cfg.PollTimeout, cfg.BufferStartSize, cfg.KeepAlive)
	m.sig = sigbridge.New(reg, logger)

	return m, nil
}

// Run starts the worker pool, watch loop, and signal bridge, then blocks
// until ctx is cancelled, at which point it calls Shutdown and returns.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return conmgrerr.Wrap(conmgrerr.ErrInvalidArgument, "Run: already started")
	}
	m.started = true
	m.mu.Unlock()

	m.pool.Start()
	m.sig.Start()
	go m.loop.Run()

	<-ctx.Done()
	return m.Shutdown(context.Background())
}

// Shutdown marks the registry as draining, wakes every blocked goroutine,
// and waits for the watch loop and worker pool to exit, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.reg.Lock()
	m.reg.SetShutdown()
	m.reg.Unlock()
	m.pc.Interrupt()

	done := make(chan struct{})
	go func() {
		m.loop.Wait()
		m.pool.Stop()
		m.sig.Stop()
		close(done)
	}()

	select {
	case <-done:
		return m.pc.Close()
	case <-ctx.Done():
		return conmgrerr.Wrap(ctx.Err(), "Shutdown: timed out waiting for subsystems")
	}
}

// ResetAfterFork documents the pthread_atfork-equivalent gap: Go's
// supported process model has no fork() without an immediate exec(), so
// there is no live child state for this Manager to reset. Kept for
// symmetry with the original interface for the rare syscall.ForkExec
// embedder; see DESIGN.md.
func (m *Manager) ResetAfterFork() {
	m.sig.ResetAfterFork()
}

// CreateListenSockets binds and registers a listening socket for every
// address each entry in hostPorts resolves to ("unix:/path" or
// "host:port"), skipping any address already bound.
func (m *Manager) CreateListenSockets(ctx context.Context, typ api.ConnType, hostPorts []string, ev api.Events, arg any) error {
	for _, hostPort := range hostPorts {
		if _, err := dial.CreateListenSockets(ctx, m.dialDeps, m.parser, m.resolver, typ, hostPort, ev, arg); err != nil {
			return err
		}
	}
	return nil
}

// CreateConnectSocket dials addr non-blockingly and registers the result,
// completing the connect asynchronously via the watch loop if needed.
func (m *Manager) CreateConnectSocket(typ api.ConnType, addr unix.Sockaddr, ev api.Events, arg any) error {
	_, err := dial.CreateConnectSocket(m.dialDeps, typ, addr, ev, arg, m.reg.IsShutdown)
	return err
}

// ProcessFD adopts an already-open fd pair as a regular connection.
func (m *Manager) ProcessFD(typ api.ConnType, inputFD, outputFD int, addr unix.Sockaddr, ev api.Events, arg any) error {
	_, err := dial.ProcessFD(m.dialDeps, typ, inputFD, outputFD, ev, addr, arg, true)
	return err
}

// ProcessFDListen adopts an already-bound, already-listening TCP fd.
func (m *Manager) ProcessFDListen(typ api.ConnType, fd int, addr unix.Sockaddr, ev api.Events, arg any) error {
	_, err := dial.ProcessFDListen(m.dialDeps, fd, typ, ev, addr, arg)
	return err
}

// ProcessFDUnixListen adopts an already-bound, already-listening
// local-domain fd.
func (m *Manager) ProcessFDUnixListen(typ api.ConnType, fd int, addr unix.Sockaddr, path string, ev api.Events, arg any) error {
	_, err := dial.ProcessFDUnixListen(m.dialDeps, fd, typ, ev, addr, path, arg)
	return err
}

// QueueSendFD queues fd to be sent over con's output side via SCM_RIGHTS.
func (m *Manager) QueueSendFD(con *api.Connection, fd int) error {
	return fdpass.QueueSendFD(m.reg, con, fd, m.log)
}

// QueueReceiveFD queues a receive of one fd over src's input side,
// adopting the result as a new connection of typ once it arrives.
func (m *Manager) QueueReceiveFD(src *api.Connection, typ api.ConnType, ev api.Events, arg any) error {
	return fdpass.QueueReceiveFD(m.reg, m.pc, src, typ, ev, arg, func(fd int, adoptedTyp api.ConnType, adoptedEv api.Events, adoptedArg any) {
		if _, err := dial.ProcessFD(m.dialDeps, adoptedTyp, fd, fd, adoptedEv, nil, adoptedArg, true); err != nil {
			m.log.Warn("unable to adopt received file descriptor", zap.Int("fd", fd), zap.Error(err))
			unix.Close(fd)
		}
	}, m.log)
}

// QueueCloseFD requests con be closed, deferring if a worker is
// currently running con's callback.
func (m *Manager) QueueCloseFD(con *api.Connection) {
	m.reg.Lock()
	connection.CloseOrDefer(con, m.pc, m.reg.WakeWatch, m.log, "QueueCloseFD", func(con *api.Connection) {
		workqueue.Enqueue(m.reg, con, func(status api.WorkStatus) {
			// This item runs as con's sole active work, so the callback
			// that was running when close was requested has returned.
			m.reg.Lock()
			connection.Close(con, m.pc, m.reg.WakeWatch, m.log, "QueueCloseFD")
			m.reg.Unlock()
		}, 0)
	})
	m.reg.Unlock()
}

// FDChangeMode switches con between RAW and RPC delivery live.
func (m *Manager) FDChangeMode(con *api.Connection, typ api.ConnType, ev api.Events) error {
	m.reg.Lock()
	defer m.reg.Unlock()
	err := connection.ChangeMode(con, typ, ev, m.log)
	m.reg.WakeWatch()
	return err
}

// FDGetStatus returns a point-in-time snapshot of con's state.
func (m *Manager) FDGetStatus(con *api.Connection) (api.FDStatus, error) {
	m.reg.Lock()
	defer m.reg.Unlock()
	return api.FDStatus{
		IsSocket:    con.IsSocket,
		UnixSocket:  con.UnixSocketPath,
		IsListen:    con.IsListen,
		ReadEOF:     con.ReadEOF,
		IsConnected: con.IsConnected,
	}, nil
}

// FDGetAuthCreds returns the SO_PEERCRED credentials captured for con.
func (m *Manager) FDGetAuthCreds(con *api.Connection) (uid, gid uint32, pid int32, err error) {
	return connection.AuthCreds(con)
}

// FDGetName returns con's display name.
func (m *Manager) FDGetName(con *api.Connection) string {
	return con.Name
}
