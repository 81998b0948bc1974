// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations for the connection manager: connection
// type, polling-kind sum type, and the caller-visible fd status snapshot.

package api

import "fmt"

// ConnType distinguishes how a connection delivers input to the caller.
type ConnType int

const (
	ConnTypeInvalid ConnType = iota
	// ConnTypeRaw connections deliver bytes as a stream via Events.OnData.
	ConnTypeRaw
	// ConnTypeRPC connections deliver framed messages via Events.OnMsg.
	ConnTypeRPC
)

func (t ConnType) String() string {
	switch t {
	case ConnTypeRaw:
		return "RAW"
	case ConnTypeRPC:
		return "RPC"
	default:
		return "INVALID"
	}
}

// PollKind is the interest level registered with the Poll Controller for one
// side (input or output) of a connection. UNSUPPORTED is sticky: once a side
// is marked unsupported it never reverts to another kind.
type PollKind int

const (
	PollNone PollKind = iota
	PollReadOnly
	PollWriteOnly
	PollReadWrite
	// PollConnected marks an outbound connect() in progress; write-readiness
	// satisfies it.
	PollConnected
	// PollListen marks accept-readiness on a listening socket.
	PollListen
	// PollUnsupported is sticky and overrides any future requested kind.
	PollUnsupported
)

func (k PollKind) String() string {
	switch k {
	case PollNone:
		return "NONE"
	case PollReadOnly:
		return "READ_ONLY"
	case PollWriteOnly:
		return "WRITE_ONLY"
	case PollReadWrite:
		return "READ_WRITE"
	case PollConnected:
		return "CONNECTED"
	case PollListen:
		return "LISTEN"
	case PollUnsupported:
		return "UNSUPPORTED"
	default:
		return fmt.Sprintf("PollKind(%d)", int(k))
	}
}

// WorkStatus is carried by every work item delivered to a callback.
type WorkStatus int

const (
	// WorkRun is the normal delivery status.
	WorkRun WorkStatus = iota
	// WorkCancelled is delivered instead of WorkRun for work items still
	// queued (not yet started) at shutdown, so callbacks can release
	// whatever resources their argument holds.
	WorkCancelled
)

func (s WorkStatus) String() string {
	if s == WorkCancelled {
		return "CANCELLED"
	}
	return "RUN"
}

// FDStatus is a point-in-time snapshot returned by Manager.FDGetStatus.
// It is only valid to request from within a running callback, matching
// conmgr_fd_get_status()'s xassert(con->work_active) in the original.
type FDStatus struct {
	IsSocket    bool
	UnixSocket  string
	IsListen    bool
	ReadEOF     bool
	IsConnected bool
}
