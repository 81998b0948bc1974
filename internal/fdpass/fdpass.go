// File: internal/fdpass/fdpass.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Send and receive a file descriptor over an AF_UNIX socket via
// SCM_RIGHTS ancillary data, queued as ordinary per-connection work items
// so the transfer happens in fd order relative to whatever data
// surrounds it. Grounded on con.c's _send_fd/_receive_fd/
// conmgr_queue_send_fd/conmgr_queue_receive_fd, using the same
// ParseSocketControlMessage/ParseUnixRights shape the SCM_RIGHTS handoff
// daemon example uses, adapted to golang.org/x/sys/unix for consistency
// with the rest of this module's syscall surface.

package fdpass

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
	"github.com/momentics/conmgr/internal/connection"
	"github.com/momentics/conmgr/internal/registry"
	"github.com/momentics/conmgr/internal/workqueue"
)

// QueueSendFD queues a work item that sends fd over con's output_fd and
// always closes the local copy of fd afterward, matching
// conmgr_queue_send_fd/_send_fd. con must be a connected socket
// connection with a valid output fd.
func QueueSendFD(reg *registry.Registry, con *api.Connection, fd int, log *zap.Logger) error {
	if fd < 0 {
		return conmgrerr.Wrap(conmgrerr.ErrInvalidArgument, "QueueSendFD: invalid fd")
	}
	if !con.IsSocket {
		return conmgrerr.Wrap(conmgrerr.ErrUnsupportedFamily, "QueueSendFD: not a socket")
	}

	reg.Lock()
	defer reg.Unlock()

	if con.OutputFD < 0 {
		return conmgrerr.Wrap(conmgrerr.ErrMissingSocket, "QueueSendFD: invalid output_fd")
	}

	outputFD := con.OutputFD
	name := con.Name
	workqueue.Enqueue(reg, con, func(status api.WorkStatus) {
		defer unix.Close(fd)

		if status == api.WorkCancelled {
			log.Debug("canceled sending file descriptor", zap.String("connection", name), zap.Int("fd", fd))
			return
		}
		if err := sendFDOverSocket(outputFD, fd); err != nil {
			log.Warn("failed to send file descriptor", zap.String("connection", name), zap.Int("fd", fd), zap.Error(err))
			return
		}
		log.Debug("sent file descriptor", zap.String("connection", name), zap.Int("fd", fd), zap.Int("output_fd", outputFD))
	}, 0)

	return nil
}

// ReceiveFDAdopted is the callback invoked once QueueReceiveFD's work item
// has received a new fd, so the caller can adopt it as a tracked
// connection (done outside fdpass since adoption needs registry
// dependencies fdpass does not otherwise require).
type ReceiveFDAdopted func(fd int, typ api.ConnType, events api.Events, arg any)

// QueueReceiveFD queues a work item that receives one fd over src's
// input_fd and hands it to onReceived, matching
// conmgr_queue_receive_fd/_receive_fd. Rejected immediately (no work
// queued) if src is not a socket, has hit read_eof, or has no valid
// input fd.
func QueueReceiveFD(reg *registry.Registry, pc api.PollController, src *api.Connection, typ api.ConnType, events api.Events, arg any, onReceived ReceiveFDAdopted, log *zap.Logger) error {
	reg.Lock()
	defer reg.Unlock()

	if !src.IsSocket {
		return conmgrerr.Wrap(conmgrerr.ErrUnsupportedFamily, "QueueReceiveFD: not a socket")
	}
	if src.ReadEOF {
		return conmgrerr.Wrap(conmgrerr.ErrMissingSocket, "QueueReceiveFD: input is shut down for reading")
	}
	if src.InputFD < 0 {
		return conmgrerr.Wrap(conmgrerr.ErrMissingSocket, "QueueReceiveFD: invalid input_fd")
	}

	inputFD := src.InputFD
	name := src.Name
	workqueue.Enqueue(reg, src, func(status api.WorkStatus) {
		if status == api.WorkCancelled {
			log.Debug("canceled receiving file descriptor", zap.String("connection", name))
			return
		}

		fd, err := receiveFDOverSocket(inputFD)
		if err != nil {
			log.Warn("failed to receive file descriptor", zap.String("connection", name), zap.Error(err))
			reg.Lock()
			connection.Close(src, pc, reg.WakeWatch, log, "QueueReceiveFD")
			reg.Unlock()
			return
		}

		onReceived(fd, typ, events, arg)
	}, 0)

	return nil
}

// sendFDOverSocket transmits fd as SCM_RIGHTS ancillary data alongside a
// single placeholder byte, the minimum payload Linux requires to carry
// control messages.
func sendFDOverSocket(outputFD, fd int) error {
	rights := unix.UnixRights(fd)
	if err := unix.Sendmsg(outputFD, []byte{0}, rights, nil, 0); err != nil {
		return conmgrerr.Wrap(err, "sendmsg")
	}
	return nil
}

// receiveFDOverSocket reads one message from inputFD and returns the fd
// it carries as SCM_RIGHTS ancillary data, or an error if none arrives
// intact. It waits for data only when inputFD is in blocking mode; on a
// non-blocking fd with nothing pending, recvmsg's EAGAIN is returned. Any
// additional fds present in the same control message are closed to avoid
// leaking them silently.
func receiveFDOverSocket(inputFD int) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, flags, _, err := unix.Recvmsg(inputFD, buf, oob, 0)
	if err != nil {
		return -1, conmgrerr.Wrap(err, "recvmsg")
	}
	if flags&unix.MSG_CTRUNC != 0 {
		return -1, conmgrerr.Wrap(conmgrerr.ErrConnection, "control message truncated")
	}
	if n == 0 {
		return -1, conmgrerr.Wrap(conmgrerr.ErrConnection, "peer closed before sending file descriptor")
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, conmgrerr.Wrap(err, "parse control message")
	}

	var received []int
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		received = append(received, fds...)
	}

	if len(received) == 0 {
		return -1, conmgrerr.Wrap(conmgrerr.ErrConnection, "no file descriptor in control message")
	}

	for _, extra := range received[1:] {
		unix.Close(extra)
	}
	return received[0], nil
}
