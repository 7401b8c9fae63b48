package protocol

import "errors"

// Error kinds from spec §7. Callers match with errors.Is; the router
// never retries on a waiter's behalf, so each of these ends up as
// exactly one RESPONSE or MCP error surfaced to the original caller.
var (
	// Transport
	ErrExtensionNotConnected = errors.New("extension not connected")
	ErrDaemonNotConnected    = errors.New("daemon not connected")
	ErrTimeout               = errors.New("request timed out")
	ErrBufferOverflow        = errors.New("frame exceeded max buffer size")
	ErrMalformedFrame        = errors.New("malformed frame")

	// Routing
	ErrUnknownSession      = errors.New("unknown session")
	ErrUnknownRequest      = errors.New("unknown reqId")
	ErrTabNotFound         = errors.New("tab not found")
	ErrSessionLimitReached = errors.New("session limit exceeded")
	ErrDuplicateRequest    = errors.New("reqId already registered")

	// Action
	ErrUnknownAction   = errors.New("unknown action")
	ErrInvalidParams   = errors.New("invalid action parameters")
	ErrSessionEnded    = errors.New("session ended")
	ErrBridgeShutdown  = errors.New("shutting down")
	ErrExtensionLost   = errors.New("extension disconnected")
)
