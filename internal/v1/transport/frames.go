package transport

import "encoding/json"

// Wire frames are JSON text messages.
//
// Client to server:  {"id": "...", "event": "...", "args": [...]}
// Ack:               {"id": "...", "error": ..., "data": [...]}
// Notification:      {"event": "...", "args": [...]}

// RequestFrame is a client command. Args stay raw so each command can decode
// its own argument types.
type RequestFrame struct {
	ID    string            `json:"id"`
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args"`
}

// AckFrame answers exactly one RequestFrame. Error is nil on success.
type AckFrame struct {
	ID    string `json:"id"`
	Error any    `json:"error,omitempty"`
	Data  []any  `json:"data,omitempty"`
}

// EventFrame is a server-initiated notification; it carries no id and is
// never acknowledged.
type EventFrame struct {
	Event string `json:"event"`
	Args  []any  `json:"args"`
}
