// File: internal/connection/polling.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SetPolling maps one requested PollKind onto the input and output fd's
// individual interest levels and pushes the change to the poll
// controller, mirroring con_set_polling/_set_fd_polling. UNSUPPORTED is
// sticky per side: once set it is never downgraded back to a concrete
// kind, and resolveFDPolling always returns a kind on every branch so a
// caller can never observe a stale value after the call returns.

package connection

import (
	"errors"

	"go.uber.org/zap"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
)

// SetPolling updates con's input/output polling kind to satisfy kind,
// using pc to actually (un)link or relink the fds. caller is used only
// for poll controller diagnostics. log aborts the process via Fatal if
// the poll controller reports a failure that is neither success nor
// ErrNotSupported, matching the original's fatal() abort for a broken
// poll registration.
func SetPolling(con *api.Connection, pc api.PollController, kind api.PollKind, log *zap.Logger, caller string) error {
	hasIn := con.InputFD >= 0
	hasOut := con.OutputFD >= 0
	isSame := con.SameFD()

	var inKind, outKind api.PollKind = api.PollNone, api.PollNone

	switch kind {
	case api.PollNone:
		// both stay PollNone
	case api.PollConnected:
		inKind = api.PollConnected
		if !isSame {
			outKind = api.PollConnected
		}
	case api.PollReadOnly:
		inKind = api.PollReadOnly
	case api.PollReadWrite:
		if isSame {
			inKind = api.PollReadWrite
		} else {
			inKind = api.PollReadOnly
			outKind = api.PollWriteOnly
		}
	case api.PollWriteOnly:
		if isSame {
			inKind = api.PollWriteOnly
		} else {
			outKind = api.PollWriteOnly
		}
	case api.PollListen:
		inKind = api.PollListen
	case api.PollUnsupported:
		return conmgrerr.Wrap(conmgrerr.ErrInvalidArgument, "SetPolling: PollUnsupported is not a requestable kind")
	default:
		return conmgrerr.Wrap(conmgrerr.ErrInvalidArgument, "SetPolling: unknown poll kind")
	}

	if con.PollingOutputKind == api.PollUnsupported {
		outKind = api.PollUnsupported
	}
	if con.PollingInputKind == api.PollUnsupported {
		inKind = api.PollUnsupported
	}

	if isSame {
		resolved, err := resolveFDPolling(pc, con.InputFD, con.PollingInputKind, inKind, con.Name, log, caller)
		if err != nil {
			return err
		}
		con.PollingInputKind = resolved
		return nil
	}

	if hasIn {
		resolved, err := resolveFDPolling(pc, con.InputFD, con.PollingInputKind, inKind, con.Name, log, caller)
		if err != nil {
			return err
		}
		con.PollingInputKind = resolved
	}
	if hasOut {
		resolved, err := resolveFDPolling(pc, con.OutputFD, con.PollingOutputKind, outKind, con.Name, log, caller)
		if err != nil {
			return err
		}
		con.PollingOutputKind = resolved
	}
	return nil
}

// resolveFDPolling transitions one fd's polling kind from old to new
// through pc and returns the kind now in effect. Every branch below
// returns explicitly, including the old == new == PollNone case, so the
// caller never has to guess whether a kind was actually applied. A
// link/relink failure that is not ErrNotSupported means the poll
// controller itself is broken, a condition the original treats as fatal
// rather than recoverable; log.Fatal aborts the process after flushing.
func resolveFDPolling(pc api.PollController, fd int, old, new api.PollKind, name string, log *zap.Logger, caller string) (api.PollKind, error) {
	if old == api.PollUnsupported {
		return api.PollUnsupported, nil
	}

	if old == new {
		return new, nil
	}

	if new == api.PollNone {
		if old != api.PollNone {
			if err := pc.UnlinkFD(fd, name, caller); err != nil {
				return old, conmgrerr.Wrap(err, "unlink fd")
			}
		}
		return api.PollNone, nil
	}

	if old != api.PollNone {
		if err := pc.RelinkFD(fd, new, name, caller); err != nil {
			if errors.Is(err, conmgrerr.ErrNotSupported) {
				return api.PollUnsupported, nil
			}
			log.Fatal("poll registration failed", zap.String("connection", name), zap.String("caller", caller), zap.Error(err))
		}
		return new, nil
	}

	if err := pc.LinkFD(fd, new, name, caller); err != nil {
		if errors.Is(err, conmgrerr.ErrNotSupported) {
			return api.PollUnsupported, nil
		}
		log.Fatal("poll registration failed", zap.String("connection", name), zap.String("caller", caller), zap.Error(err))
	}
	return new, nil
}
