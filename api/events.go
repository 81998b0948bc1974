// File: api/events.go
// Package api defines the connection manager's shared data model: the
// per-connection callback table and the Connection handle itself.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Events is the per-connection callback table. Exactly one of OnData /
// OnMsg is required depending on Type: ConnTypeRaw needs OnData,
// ConnTypeRPC needs OnMsg. Validated by Events.Validate.
type Events struct {
	// OnConnection runs exactly once for a non-listen connection, before
	// any OnData/OnMsg delivery. A nil return closes the connection
	// immediately.
	OnConnection func(con *Connection, newArg any) any

	// OnData drains con.InBuffer for RAW connections. Returns an error to
	// have the connection closed.
	OnData func(con *Connection, arg any) error

	// OnMsg is called for RPC connections with msg set to every unread
	// byte of con.InBuffer. The manager does no framing and does not
	// consume InBuffer; the callback extracts its message and consumes
	// what it used. Returns an error to have the connection closed.
	OnMsg func(con *Connection, msg []byte, arg any) error

	// OnFinish runs exactly once at the end of a connection's lifetime,
	// after the registry has released it.
	OnFinish func(con *Connection, arg any)
}

// Validate checks the capability requirement for typ: RAW needs OnData,
// RPC needs OnMsg.
func (e Events) Validate(typ ConnType) error {
	switch typ {
	case ConnTypeRaw:
		if e.OnData == nil {
			return NewCapabilityError(typ, "OnData")
		}
	case ConnTypeRPC:
		if e.OnMsg == nil {
			return NewCapabilityError(typ, "OnMsg")
		}
	default:
		return NewCapabilityError(typ, "")
	}
	return nil
}

// CapabilityError reports a connection type missing its required callback.
type CapabilityError struct {
	Type     ConnType
	Callback string
}

func (e *CapabilityError) Error() string {
	if e.Callback == "" {
		return "invalid connection type: " + e.Type.String()
	}
	return "connection type " + e.Type.String() + " requires " + e.Callback
}

// NewCapabilityError constructs a CapabilityError.
func NewCapabilityError(typ ConnType, callback string) *CapabilityError {
	return &CapabilityError{Type: typ, Callback: callback}
}
