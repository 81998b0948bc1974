// File: internal/workqueue/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool is the bounded worker pool that drains connection work queues.
// Per-connection serialization is enforced by the selection rule itself:
// a worker only picks a connection whose WorkActive flag is false, so at
// most one worker ever runs a given connection's callback at a time.
// Modeled on core/concurrency.Executor's worker/stop shape, replacing its
// per-worker lock-free queues with the registry's shared connection list
// since work here is inherently tied to connection identity rather than
// freely schedulable tasks.

package workqueue

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/registry"
)

// Pool runs numWorkers goroutines, each repeatedly claiming one runnable
// connection, popping one work item from it, running it unlocked, then
// releasing the connection back for the next worker or iteration.
type Pool struct {
	reg        *registry.Registry
	numWorkers int

	stopping atomic.Bool
	wg       sync.WaitGroup
}

// NewPool returns a Pool bound to reg, not yet started.
func NewPool(reg *registry.Registry, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Pool{reg: reg, numWorkers: numWorkers}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Stop marks the pool as draining: every worker still delivers already-
// queued items (with WorkCancelled status rather than WorkRun once
// draining has begun) instead of dropping them, then exits once both the
// per-connection queues and the unattached queue are empty. Stop blocks
// until every worker has exited.
func (p *Pool) Stop() {
	p.stopping.Store(true)
	p.reg.Lock()
	p.reg.WakeWatch()
	p.reg.Unlock()
	p.wg.Wait()
}

func (p *Pool) run() {
	defer p.wg.Done()

	for {
		p.reg.Lock()

		item, con, ok := p.claim()
		for !ok {
			if p.stopping.Load() && p.drained() {
				p.reg.Unlock()
				return
			}
			p.reg.Wait()
			item, con, ok = p.claim()
		}

		p.reg.Unlock()

		status := api.WorkRun
		if p.stopping.Load() {
			status = api.WorkCancelled
		}
		item.Func(status)

		if con != nil {
			p.reg.Lock()
			con.WorkActive = false
			p.reg.WakeWatch()
			p.reg.Unlock()
		}
	}
}

// claim must be called with the registry locked. It returns the next
// runnable work item: an unattached item first (signal dispatch has no
// connection to serialize against), then the first connection whose
// queue is non-empty and not already claimed by another worker.
func (p *Pool) claim() (*api.WorkItem, *api.Connection, bool) {
	if item := p.reg.DequeueUnattached(); item != nil {
		return item, nil, true
	}

	for _, con := range p.reg.Active() {
		if item, ok := claimFromConnection(con); ok {
			return item, con, true
		}
	}
	for _, con := range p.reg.Listen() {
		if item, ok := claimFromConnection(con); ok {
			return item, con, true
		}
	}
	return nil, nil, false
}

func claimFromConnection(con *api.Connection) (*api.WorkItem, bool) {
	if con.WorkActive || con.WorkQueue.Length() == 0 {
		return nil, false
	}
	item := con.WorkQueue.Remove().(*api.WorkItem)
	con.WorkActive = true
	return item, true
}

// drained reports whether every work source is empty: the unattached
// queue and every connection's work queue.
func (p *Pool) drained() bool {
	if p.reg.UnattachedLen() > 0 {
		return false
	}
	for _, con := range p.reg.Active() {
		if con.WorkQueue.Length() > 0 || con.WorkActive {
			return false
		}
	}
	for _, con := range p.reg.Listen() {
		if con.WorkQueue.Length() > 0 || con.WorkActive {
			return false
		}
	}
	return true
}

// Enqueue queues a callback against con's work queue (con == nil queues
// it as unattached work, e.g. dispatched signal handling) and wakes a
// worker. Caller must hold the registry lock.
func Enqueue(reg *registry.Registry, con *api.Connection, fn func(status api.WorkStatus), onSignalNumber int) {
	item := &api.WorkItem{Con: con, Func: fn, OnSignalNumber: onSignalNumber}
	if con == nil {
		reg.EnqueueUnattached(item)
	} else {
		con.WorkQueue.Add(item)
	}
	reg.WakeWatch()
}
