package server

import (
	"encoding/json"

	"github.com/holdemlab/dealerd/pkg/engine"
)

// Client commands, one JSON object per websocket message.
const (
	CmdListTables  = "LIST_TABLES"
	CmdJoinTable   = "JOIN_TABLE"
	CmdCreateTable = "CREATE_TABLE"
	CmdSit         = "SIT"
	CmdLeave       = "LEAVE"
	CmdSitOut      = "SIT_OUT"
	CmdSitIn       = "SIT_IN"
	CmdAction      = "ACTION"
	CmdAttach      = "ATTACH"
	CmdReattach    = "REATTACH"
)

// Server event types not produced by the engine.
const (
	EvtSession            = "SESSION"
	EvtTableList          = "TABLE_LIST"
	EvtTableCreated       = "TABLE_CREATED"
	EvtError              = "ERROR"
	EvtPlayerDisconnected = "PLAYER_DISCONNECTED"
)

// Error codes surfaced on the wire.
const (
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeCommandFailed  = "COMMAND_FAILED"
	CodeTableNotFound  = "TABLE_NOT_FOUND"
	CodeBadMessage     = "BAD_MESSAGE"
)

// Command is a decoded client frame. Fields beyond Type are optional
// and validated per command.
type Command struct {
	Type      string `json:"type"`
	TableID   string `json:"tableId,omitempty"`
	Name      string `json:"name,omitempty"`
	Seat      *int   `json:"seat,omitempty"`
	Chips     int64  `json:"chips,omitempty"`
	PlayerID  string `json:"playerId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Action    string `json:"action,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
}

// SessionPayload acknowledges a connection, attach or reattach.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

// TableListPayload answers LIST_TABLES.
type TableListPayload struct {
	Tables []LobbyTable `json:"tables"`
}

// TableCreatedPayload announces a new table.
type TableCreatedPayload struct {
	Table LobbyTable `json:"table"`
}

// SnapshotPayload carries a per-viewer sanitized table state.
type SnapshotPayload struct {
	TableID string                `json:"tableId"`
	Table   *engine.TableSnapshot `json:"table"`
}

// ErrorPayload reports a rejected command or transport problem.
type ErrorPayload struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// PlayerDisconnectedPayload announces a dropped player to the table.
type PlayerDisconnectedPayload struct {
	TableID  string `json:"tableId"`
	Seat     int    `json:"seat"`
	PlayerID string `json:"playerId"`
}

// frame serializes a payload with its type tag folded in, producing
// the newline-free single-object wire format.
func frame(typ string, payload interface{}) ([]byte, error) {
	m := make(map[string]interface{})
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	m["type"] = typ
	return json.Marshal(m)
}
