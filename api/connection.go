// File: api/connection.go
// Author: momentics <momentics@gmail.com>
//
// Connection is the central per-fd data model shared by every internal
// subsystem (registry, watch loop, worker pool, poll controller). A single
// mutex external to this struct — owned by internal/registry.Registry —
// guards every mutable field; Connection itself holds no lock, mirroring
// conmgr_fd_t in the original C implementation where mgr.mutex is the sole
// guard for connection state.

package api

import (
	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// Buffer is a bounded, append-only byte buffer with a read cursor, matching
// the in_buffer: bytes accumulate at the tail and are
// consumed from a moving offset at the head.
type Buffer struct {
	data []byte
	off  int
}

// NewBuffer allocates a Buffer with the given starting capacity.
func NewBuffer(startSize int) *Buffer {
	return &Buffer{data: make([]byte, 0, startSize)}
}

// Append adds p to the tail of the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Unread returns the unconsumed slice of the buffer, starting at the read
// cursor.
func (b *Buffer) Unread() []byte {
	return b.data[b.off:]
}

// Consume advances the read cursor by n bytes. It compacts the backing
// array once the cursor reaches the end, so a long-lived connection does
// not grow the buffer unbounded.
func (b *Buffer) Consume(n int) {
	b.off += n
	if b.off >= len(b.data) {
		b.data = b.data[:0]
		b.off = 0
		return
	}
	if b.off > cap(b.data)/2 {
		remaining := len(b.data) - b.off
		copy(b.data, b.data[b.off:])
		b.data = b.data[:remaining]
		b.off = 0
	}
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int { return len(b.data) - b.off }

// Cap returns the backing array's capacity, used to decide whether more
// reads are permitted before the buffer is considered full.
func (b *Buffer) Cap() int { return cap(b.data) }

// Reset clears the buffer and its read cursor, used on close.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.off = 0
}

// WorkItem is a callback enqueued for execution by a worker, optionally
// bound to a connection (Con == nil marks unattached/signal work).
type WorkItem struct {
	Con            *Connection
	Func           func(status WorkStatus)
	OnSignalNumber int // signal number this item was queued for; 0 for non-signal work
}

// Connection is a tracked fd or fd-pair with buffers, polling kind, type,
// and callbacks.
type Connection struct {
	Name string

	InputFD  int
	OutputFD int

	Type   ConnType
	Events Events

	PollingInputKind  PollKind
	PollingOutputKind PollKind

	IsSocket    bool
	IsListen    bool
	IsConnected bool
	ReadEOF     bool
	CanRead     bool
	WorkActive  bool

	// Started marks that OnConnection has already run (or been scheduled)
	// for this connection, so the watch loop schedules it exactly once.
	Started bool

	InBuffer           *Buffer
	OutQueue           *queue.Queue // of *Buffer, oldest first
	WorkQueue          *queue.Queue // of *WorkItem
	WriteCompleteQueue *queue.Queue // of *WorkItem

	Address        unix.Sockaddr
	UnixSocketPath string

	Arg    any
	NewArg any

	// BytesEnqueued and BytesWritten track the out_queue drain invariant
	// (spec §8 property 5): for any connection closed normally,
	// BytesWritten >= the BytesEnqueued recorded before close began.
	BytesEnqueued uint64
	BytesWritten  uint64
}

// NewConnection allocates a Connection with freshly initialized queues and
// an in_buffer sized per bufferStartSize. Listen connections (isListen)
// receive no in_buffer/out_queue whatever bufferStartSize is, matching
// add_connection's `if (!is_listen)` branch.
func NewConnection(bufferStartSize int, isListen bool) *Connection {
	con := &Connection{
		WorkQueue:          queue.New(),
		WriteCompleteQueue: queue.New(),
	}
	if !isListen {
		con.InBuffer = NewBuffer(bufferStartSize)
		con.OutQueue = queue.New()
	}
	return con
}

// SameFD reports whether input and output share one fd, the "is_same" case
// that governs both polling-kind mapping and close-path branching.
func (c *Connection) SameFD() bool {
	return c.InputFD == c.OutputFD
}
