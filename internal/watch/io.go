// File: internal/watch/io.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Readiness turns into one queued work item per connection per
// iteration: the watch loop never calls into user code directly. The
// work item itself does the non-blocking read/write and invokes
// on_data/on_msg, keeping the registry mutex free of user code for the
// duration of the callback.

package watch

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
	"github.com/momentics/conmgr/internal/registry"
)

const readChunkSize = 65536

// processStart runs a connection's OnConnection callback exactly once,
// after the connection has moved to the connected state but before any
// on_data/on_msg delivery. A nil return closes the connection; otherwise
// the returned value replaces Arg for the rest of the connection's life.
func processStart(reg *registry.Registry, con *api.Connection, status api.WorkStatus, log *zap.Logger) {
	if status != api.WorkRun || con.Events.OnConnection == nil {
		return
	}
	newArg := con.Events.OnConnection(con, con.NewArg)

	reg.Lock()
	if newArg == nil {
		log.Error("on_connection returned nil, closing connection", zap.String("connection", con.Name))
		con.ReadEOF = true
	} else {
		con.Arg = newArg
	}
	reg.WakeWatch()
	reg.Unlock()
}

// processIO is run by a worker for a connection whose readiness or
// queued output the watch loop observed. status == WorkCancelled means
// shutdown began before this item ran; it still drains already-buffered
// output before returning since a deferred close may depend on it having
// tried, but skips invoking on_data/on_msg.
func processIO(con *api.Connection, status api.WorkStatus, log *zap.Logger) {
	if con.CanRead && status == api.WorkRun {
		if err := readInput(con); err != nil {
			log.Debug("read failed, marking EOF", zap.String("connection", con.Name), zap.Error(err))
			con.ReadEOF = true
		}
		con.CanRead = false

		if con.InBuffer.Len() > 0 {
			if err := dispatch(con); err != nil {
				log.Info("callback returned error, closing connection", zap.String("connection", con.Name), zap.Error(err))
				con.ReadEOF = true
			}
		}
	}

	drainOutput(con, log)
}

func readInput(con *api.Connection) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := unix.Read(con.InputFD, buf)
		if n > 0 {
			con.InBuffer.Append(buf[:n])
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			return conmgrerr.Wrap(err, "read")
		}
		if n == 0 {
			con.ReadEOF = true
			return nil
		}
		if n < len(buf) {
			return nil
		}
	}
}

func dispatch(con *api.Connection) error {
	switch con.Type {
	case api.ConnTypeRaw:
		return con.Events.OnData(con, con.Arg)
	case api.ConnTypeRPC:
		return con.Events.OnMsg(con, con.InBuffer.Unread(), con.Arg)
	default:
		return conmgrerr.Wrap(conmgrerr.ErrInvalidArgument, "dispatch: invalid connection type")
	}
}

// drainOutput writes as much of OutQueue as the output fd will currently
// accept, running write_complete callbacks for fully-flushed buffers
// once the queue empties.
func drainOutput(con *api.Connection, log *zap.Logger) {
	if con.OutQueue == nil {
		return
	}

	for con.OutQueue.Length() > 0 {
		buf := con.OutQueue.Peek().(*api.Buffer)
		n, err := unix.Write(con.OutputFD, buf.Unread())
		if n > 0 {
			buf.Consume(n)
			con.BytesWritten += uint64(n)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			log.Info("write failed, closing connection", zap.String("connection", con.Name), zap.Error(err))
			con.ReadEOF = true
			return
		}
		if buf.Len() == 0 {
			con.OutQueue.Remove()
		} else {
			return
		}
	}

	for con.WriteCompleteQueue.Length() > 0 {
		item := con.WriteCompleteQueue.Remove().(*api.WorkItem)
		item.Func(api.WorkRun)
	}
}
