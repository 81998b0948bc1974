// File: internal/registry/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry is the connection manager's single source of truth for which
// connections exist. It holds the three ordered lists (active, listen,
// complete) behind one mutex, and the condition variable the watch loop
// parks on between polling cycles. Every other subsystem that touches
// connection state does so while holding this mutex, mirroring mgr.mutex
// in the original C implementation.

package registry

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/conmgr/api"
	"golang.org/x/sys/unix"
)

// Registry tracks every live and recently-finished connection.
type Registry struct {
	mu   sync.Mutex
	cond *sync.Cond

	active   []*api.Connection
	listen   []*api.Connection
	complete []*api.Connection

	unattached *queue.Queue // of *api.WorkItem, Con == nil

	shutdown bool
}

// New returns an empty Registry ready for use.
func New() *Registry {
	r := &Registry{unattached: queue.New()}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// EnqueueUnattached queues a work item not tied to any connection, such
// as a dispatched signal callback. Caller must hold the lock.
func (r *Registry) EnqueueUnattached(item *api.WorkItem) {
	r.unattached.Add(item)
}

// DequeueUnattached pops the oldest unattached work item, or returns nil
// if none are queued. Caller must hold the lock.
func (r *Registry) DequeueUnattached() *api.WorkItem {
	if r.unattached.Length() == 0 {
		return nil
	}
	return r.unattached.Remove().(*api.WorkItem)
}

// UnattachedLen reports how many unattached work items are queued.
// Caller must hold the lock.
func (r *Registry) UnattachedLen() int {
	return r.unattached.Length()
}

// Lock acquires the registry mutex for a composite, multi-step operation.
// Callers must pair every Lock with an Unlock.
func (r *Registry) Lock() { r.mu.Lock() }

// Unlock releases the registry mutex.
func (r *Registry) Unlock() { r.mu.Unlock() }

// Wait parks the calling goroutine on the registry's condition variable.
// The caller must hold the lock; Wait releases it while parked and
// re-acquires it before returning, standard sync.Cond semantics.
func (r *Registry) Wait() { r.cond.Wait() }

// WakeWatch wakes every goroutine parked in Wait, used whenever the watch
// loop's view of desired polling state may have changed: a connection was
// added, removed, had work queued, or shutdown was requested.
func (r *Registry) WakeWatch() { r.cond.Broadcast() }

// AddActive appends con to the active list. Caller must hold the lock.
func (r *Registry) AddActive(con *api.Connection) {
	r.active = append(r.active, con)
}

// AddListen appends con to the listen list. Caller must hold the lock.
func (r *Registry) AddListen(con *api.Connection) {
	r.listen = append(r.listen, con)
}

// MoveToComplete removes con from the active or listen list and appends it
// to complete, where it waits for its OnFinish callback to run and be
// reaped. Caller must hold the lock.
func (r *Registry) MoveToComplete(con *api.Connection) {
	r.active = removeConn(r.active, con)
	r.listen = removeConn(r.listen, con)
	r.complete = append(r.complete, con)
}

func removeConn(list []*api.Connection, con *api.Connection) []*api.Connection {
	for i, c := range list {
		if c == con {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// FindByFD looks up the connection owning fd as either its input or
// output side, scanning active then listen as neither holds fds in
// complete. Caller must hold the lock.
func (r *Registry) FindByFD(fd int) *api.Connection {
	for _, con := range r.active {
		if con.InputFD == fd || con.OutputFD == fd {
			return con
		}
	}
	for _, con := range r.listen {
		if con.InputFD == fd {
			return con
		}
	}
	return nil
}

// Active returns a snapshot copy of the active connection list.
func (r *Registry) Active() []*api.Connection {
	return append([]*api.Connection(nil), r.active...)
}

// Listen returns a snapshot copy of the listen connection list.
func (r *Registry) Listen() []*api.Connection {
	return append([]*api.Connection(nil), r.listen...)
}

// DrainComplete removes and returns every connection currently in the
// complete list, so the caller can run their OnFinish callbacks outside
// the lock. Caller must hold the lock when calling DrainComplete itself;
// the callbacks it enables must run after Unlock.
func (r *Registry) DrainComplete() []*api.Connection {
	drained := r.complete
	r.complete = nil
	return drained
}

// Counts reports the size of each list, used for logging and for the
// watch loop's decision to exit once every list is empty and shutdown has
// been requested.
func (r *Registry) Counts() (active, listen, complete int) {
	return len(r.active), len(r.listen), len(r.complete)
}

// IsShutdown reports whether shutdown has been requested.
func (r *Registry) IsShutdown() bool { return r.shutdown }

// SetShutdown marks the registry as shutting down and wakes the watch
// loop so it can begin draining.
func (r *Registry) SetShutdown() {
	r.shutdown = true
	r.cond.Broadcast()
}

// FindListenByAddress reports whether a listening connection is already
// bound to addr, mirroring _is_listening/_match_socket_address: address
// family must match, and then ports/addresses (INET, INET6) or path
// (UNIX) must match exactly. Caller must hold the lock.
func (r *Registry) FindListenByAddress(addr unix.Sockaddr) *api.Connection {
	for _, con := range r.listen {
		if matchSocketAddress(con.Address, addr) {
			return con
		}
	}
	return nil
}

func matchSocketAddress(a, b unix.Sockaddr) bool {
	switch x := a.(type) {
	case *unix.SockaddrInet4:
		y, ok := b.(*unix.SockaddrInet4)
		if !ok {
			return false
		}
		return x.Port == y.Port && x.Addr == y.Addr
	case *unix.SockaddrInet6:
		y, ok := b.(*unix.SockaddrInet6)
		if !ok {
			return false
		}
		return x.Port == y.Port && x.ZoneId == y.ZoneId && x.Addr == y.Addr
	case *unix.SockaddrUnix:
		y, ok := b.(*unix.SockaddrUnix)
		if !ok {
			return false
		}
		return x.Name == y.Name
	default:
		return false
	}
}
