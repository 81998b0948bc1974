// File: internal/connection/mode.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import (
	"go.uber.org/zap"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
)

// ChangeMode switches con between RAW and RPC delivery live, preserving
// whatever unread bytes and queued output already sit in its buffers.
// events is checked against the new type's capability requirement
// (api.Events.Validate) first; a failing check returns an error and
// leaves con unchanged.
// An unchanged type is a deliberate no-op (matching fd_change_mode's
// `if (con->type == type) return` short-circuit) logged at debug level
// rather than silently skipped.
func ChangeMode(con *api.Connection, typ api.ConnType, events api.Events, log *zap.Logger) error {
	if err := events.Validate(typ); err != nil {
		return conmgrerr.Wrap(err, "ChangeMode")
	}

	if con.Type == typ {
		log.Debug("ignoring unchanged connection type",
			zap.String("connection", con.Name), zap.Stringer("type", typ))
		return nil
	}

	pendingRead := 0
	if con.InBuffer != nil {
		pendingRead = con.InBuffer.Len()
	}
	log.Debug("changing connection type",
		zap.String("connection", con.Name),
		zap.Stringer("from", con.Type), zap.Stringer("to", typ),
		zap.Int("pending_read_bytes", pendingRead))

	con.Type = typ
	con.Events = events
	return nil
}
