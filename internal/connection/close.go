// File: internal/connection/close.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Close stops reading from a connection's input side while letting
// queued output and work finish, mirroring close_con. CloseOrDefer
// resolves the ambiguity in conmgr_queue_close_fd/_deferred_close_fd:
// a close request arriving while a worker is actively executing this
// connection's callback is queued as work so it runs after that worker
// releases WorkActive; otherwise the fd is closed immediately.

package connection

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
)

// Close stops polling and reading con's input side, unlinks a listening
// unix socket path if any, and releases the input fd. It is safe to call
// more than once; a second call is a silent no-op, matching the
// "ignoring duplicate close request" branch in the original.
func Close(con *api.Connection, pc api.PollController, wake func(), log *zap.Logger, caller string) {
	if con.InputFD < 0 {
		return
	}

	if con.IsListen && con.UnixSocketPath != "" {
		if err := unix.Unlink(con.UnixSocketPath); err != nil {
			log.Warn("unable to unlink listen socket", zap.String("path", con.UnixSocketPath), zap.Error(err))
		}
	}

	if err := SetPolling(con, pc, api.PollNone, log, caller); err != nil {
		log.Warn("unable to stop polling before close", zap.String("connection", con.Name), zap.Error(err))
	}

	con.ReadEOF = true
	con.CanRead = false
	if con.InBuffer != nil {
		con.InBuffer.Reset()
	}

	switch {
	case con.IsListen:
		if err := unix.Close(con.InputFD); err != nil {
			log.Debug("unable to close listen fd", zap.String("connection", con.Name), zap.Error(err))
		}
	case con.InputFD != con.OutputFD:
		if err := unix.Close(con.InputFD); err != nil {
			log.Debug("unable to close input fd", zap.String("connection", con.Name), zap.Error(err))
		}
	case con.IsSocket:
		if err := unix.Shutdown(con.InputFD, unix.SHUT_RD); err != nil {
			log.Debug("unable to shutdown read side", zap.String("connection", con.Name), zap.Error(err))
		}
	}

	con.InputFD = -1
	wake()
}

// CloseOrDefer queues con for close once its active worker finishes if
// WorkActive is set, otherwise closes it immediately. enqueueDeferred
// queues a work item that retries CloseOrDefer for con once scheduled.
func CloseOrDefer(con *api.Connection, pc api.PollController, wake func(), log *zap.Logger, caller string, enqueueDeferred func(con *api.Connection)) {
	if con.WorkActive {
		enqueueDeferred(con)
		return
	}
	Close(con, pc, wake, log, caller)
}
