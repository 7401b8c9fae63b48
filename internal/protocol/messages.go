// Package protocol defines the wire shapes shared by the Helper, the
// Router Daemon, and the Side Panel. Every hop (helper↔daemon IPC,
// daemon↔extension WebSocket) exchanges the same envelope; only the
// transport underneath differs.
package protocol

import "encoding/json"

// Kind tags the envelope's message type.
type Kind string

const (
	KindRegister      Kind = "REGISTER"
	KindRegisterOK    Kind = "REGISTER_OK"
	KindRegisterError Kind = "REGISTER_ERROR"
	KindRequest       Kind = "REQUEST"
	KindResponse      Kind = "RESPONSE"
	KindPing          Kind = "PING"
	KindPong          Kind = "PONG"
	KindStatus        Kind = "STATUS"
	KindStatusOK      Kind = "STATUS_OK"
	KindDisconnect    Kind = "DISCONNECT"
	KindSessionStart  Kind = "SESSION_START"
	KindSessionEnd    Kind = "SESSION_END"
)

// Envelope is the single message shape carried over every hop. Only the
// fields relevant to Kind are populated; the rest are left zero.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	ReqID     string          `json:"reqId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Action    string          `json:"action,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	TabID     string          `json:"tabId,omitempty"`
	OK        bool            `json:"ok,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`

	// STATUS_OK payload
	ExtensionConnected bool `json:"extensionConnected,omitempty"`
	ActiveSessions     int  `json:"activeSessions,omitempty"`
}

// NewRequest builds a REQUEST envelope. params is already-encoded JSON,
// stored as-is and embedded verbatim when the envelope is encoded; the
// caller owns producing it.
func NewRequest(reqID, sessionID, action string, params json.RawMessage, tabID string) Envelope {
	return Envelope{
		Kind:      KindRequest,
		ReqID:     reqID,
		SessionID: sessionID,
		Action:    action,
		Params:    params,
		TabID:     tabID,
	}
}

// NewResponse builds a RESPONSE envelope echoing reqID/sessionID per
// spec: the daemon and side panel never originate a reqId, only echo one.
func NewResponse(reqID, sessionID string, ok bool, data json.RawMessage, errMsg string) Envelope {
	return Envelope{
		Kind:      KindResponse,
		ReqID:     reqID,
		SessionID: sessionID,
		OK:        ok,
		Data:      data,
		Error:     errMsg,
	}
}
