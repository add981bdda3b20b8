// Package proto defines the wire message format exchanged between Server
// and Client over the rendezvous and unique Unix domain sockets, and the
// stream codec that frames/reassembles it.
//
// Every logical message is a JSON object with four fields — id, command,
// data, delivery — concatenated back-to-back on the wire with no
// separator other than the adjoining braces (`}{`). See Decode/Feed for
// the reassembly rules.
package proto

import "encoding/json"

// Reserved command names. These must never be registered as application
// handler keys; their semantics are fixed by the server and client cores.
const (
	CmdHandshake = "handshake"
	CmdDiscover  = "discover"
	CmdBroadcast = "broadcast"
	CmdEmit      = "emit"
	CmdDelivery  = "delivery"
	CmdError     = "error"
)

// Reserved reports whether name is one of the six reserved command names.
func Reserved(name string) bool {
	switch name {
	case CmdHandshake, CmdDiscover, CmdBroadcast, CmdEmit, CmdDelivery, CmdError:
		return true
	default:
		return false
	}
}

// Error data codes, carried in Frame.Data when Frame.Command == CmdError.
const (
	ErrNotJSON   = 101 // message not parseable as JSON
	ErrNotArray  = 102 // message parsed but not a JSON array of frames
	ErrNameTaken = 201 // client name already taken on this domain
)

// Frame is one logical message: {"id":..., "command":..., "data":...,
// "delivery":...}. id, command and delivery are always string-or-null on
// the wire; data carries any JSON value, including null.
type Frame struct {
	ID       *string `json:"id"`
	Command  *string `json:"command"`
	Data     any     `json:"data"`
	Delivery *string `json:"delivery"`
}

// Str builds a *string for use in Frame fields; a convenience for call
// sites that would otherwise need a local variable to take an address of
// a string literal.
func Str(s string) *string { return &s }

// StringOr returns *p, or def if p is nil.
func StringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// DataFrame builds a Frame carrying only data — the "(data)" call shape
// from the source's argument-count-polymorphic encoder (see design notes).
func DataFrame(data any) Frame {
	return Frame{Data: data}
}

// CommandFrame builds a Frame carrying a command and data — the
// "(command, data)" call shape.
func CommandFrame(command string, data any) Frame {
	return Frame{Command: Str(command), Data: data}
}

// TargetFrame builds a Frame addressed to id, carrying a command and
// data — the "(id, command, data)" call shape.
func TargetFrame(id, command string, data any) Frame {
	return Frame{ID: Str(id), Command: Str(command), Data: data}
}

// DeliveryFrame builds a fully-populated Frame — the
// "(id, command, data, delivery)" call shape.
func DeliveryFrame(id, command string, data any, delivery string) Frame {
	return Frame{ID: Str(id), Command: Str(command), Data: data, Delivery: Str(delivery)}
}

// Encode serialises f as the wire JSON object, nulling absent fields.
func Encode(f Frame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		// Frame.Data held something json.Marshal refuses (e.g. a channel or
		// func); fall back to a frame that at least names the failure
		// instead of silently dropping the write.
		data, _ = json.Marshal(Frame{Command: Str(CmdError), Data: err.Error()})
	}
	return data
}

// Inner extracts the {id, command, data, delivery} fields a relay envelope
// (emit/broadcast) carries in its Data field. Missing fields report as
// zero values; ok is false only when data isn't frame-shaped at all.
func Inner(data any) (id, command string, inner any, delivery string, ok bool) {
	m, isMap := data.(map[string]any)
	if !isMap {
		return "", "", nil, "", false
	}
	if v, present := m["id"]; present && v != nil {
		id, _ = v.(string)
	}
	if v, present := m["command"]; present && v != nil {
		command, _ = v.(string)
	}
	inner = m["data"]
	if v, present := m["delivery"]; present && v != nil {
		delivery, _ = v.(string)
	}
	return id, command, inner, delivery, true
}

// InnerEnvelope is the JSON shape client.Emit/client.Broadcast nest inside
// an outer emit/broadcast frame's Data field.
type InnerEnvelope struct {
	ID       string `json:"id,omitempty"`
	Command  string `json:"command,omitempty"`
	Data     any    `json:"data,omitempty"`
	Delivery string `json:"delivery,omitempty"`
}
