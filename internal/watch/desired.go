// File: internal/watch/desired.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// desiredKind computes the polling interest a connection should have
// right now from its current flags, per the mapping in con_set_polling's
// caller (the original's equivalent lives in the watch thread, not
// con.c): listeners always want LISTEN, a connection mid-connect wants
// CONNECTED, a connection that has hit read_eof with nothing left to
// write or run is ready for finalization instead of any further polling.

package watch

import "github.com/momentics/conmgr/api"

// desiredKind returns the polling kind con should have and whether it is
// instead ready to be finalized (moved to complete) this iteration.
func desiredKind(con *api.Connection) (kind api.PollKind, finalize bool) {
	if con.IsListen {
		return api.PollListen, false
	}

	if !con.IsConnected {
		return api.PollConnected, false
	}

	outPending := con.OutQueue != nil && con.OutQueue.Length() > 0
	workPending := con.WorkQueue.Length() > 0 || con.WorkActive

	if con.ReadEOF && !outPending && !workPending {
		return api.PollNone, true
	}

	readable := !con.ReadEOF && con.InBuffer != nil && con.InBuffer.Len() < con.InBuffer.Cap()

	switch {
	case readable && outPending:
		return api.PollReadWrite, false
	case readable:
		return api.PollReadOnly, false
	case outPending:
		return api.PollWriteOnly, false
	default:
		return api.PollNone, false
	}
}
