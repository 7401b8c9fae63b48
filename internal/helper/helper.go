// Package helper implements the MCP Helper (spec §4.4, component C4):
// a per-agent process that speaks MCP over stdio to the agent host on
// one side, and either the Router Daemon or a directly-dialed extension
// on the other. It never interprets action semantics itself — every
// tool call is a name→action translation followed by a blind forward.
package helper

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/correlation"
	"github.com/browserbridge/bridge/internal/protocol"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

const requestTimeout = 30 * time.Second

// Helper owns the helper-side half of exactly one MCP session: its
// connection to the router (daemon or direct), its local reqId
// counter, and the pending table for requests it originated.
type Helper struct {
	cfg *config.Config
	log zerolog.Logger

	link      routerLink
	sessionID string

	mu      sync.Mutex
	counter int

	pending *correlation.Table
}

// New builds a Helper and runs the startup algorithm (spec §4.4 steps
// 1-5): try the daemon, self-spawn it if nobody answers, register, and
// fall back to direct mode if registration never completes.
func New(cfg *config.Config, log zerolog.Logger) (*Helper, error) {
	h := &Helper{
		cfg:     cfg,
		log:     log,
		pending: correlation.New(),
	}

	if err := h.connectDaemonMode(); err != nil {
		log.Warn().Err(err).Msg("daemon mode unavailable, falling back to direct mode")
		if err := h.connectDirectMode(); err != nil {
			return nil, fmt.Errorf("helper: no transport available: %w", err)
		}
	}

	return h, nil
}

// connectDaemonMode implements steps 1-4: dial, self-spawn-if-needed,
// dial again, REGISTER, await REGISTER_OK.
func (h *Helper) connectDaemonMode() error {
	link, err := dialDaemon(h.cfg)
	if err != nil {
		if err := ensureDaemon(h.cfg); err != nil {
			return err
		}
		link, err = dialDaemon(h.cfg)
		if err != nil {
			return err
		}
	}

	link.attachPending(h.pending, h.log)

	registered := make(chan error, 1)
	go link.readLoop(
		func(sessionID string) {
			h.mu.Lock()
			h.sessionID = sessionID
			h.mu.Unlock()
			select {
			case registered <- nil:
			default:
			}
		},
		func(reason string) {
			select {
			case registered <- fmt.Errorf("daemon rejected registration: %s", reason):
			default:
			}
		},
	)

	if err := link.send(protocol.Envelope{Kind: protocol.KindRegister}); err != nil {
		return err
	}

	select {
	case err := <-registered:
		if err != nil {
			return err
		}
	case <-time.After(requestTimeout):
		return fmt.Errorf("register timed out")
	}

	h.link = link
	h.log.Info().Str("sessionId", h.sessionID).Msg("helper registered with daemon")
	return nil
}

// connectDirectMode implements step 5: the helper plays the daemon's
// role for exactly one session, listening for the extension directly.
func (h *Helper) connectDirectMode() error {
	link, err := startDirectLink(h.cfg, h.pending, h.log)
	if err != nil {
		return err
	}
	h.link = link
	h.log.Info().Str("wsAddr", h.cfg.WSAddr()).Msg("helper listening directly for extension")
	return nil
}

// Close implements graceful shutdown: DISCONNECT the daemon (if in
// daemon mode), abort local pending entries, and close the transport.
func (h *Helper) Close() {
	if h.link == nil {
		return
	}
	if h.link.mode() == "daemon" {
		h.link.send(protocol.Envelope{Kind: protocol.KindDisconnect, SessionID: h.sessionID})
	}
	h.pending.AbortAll(protocol.ErrBridgeShutdown.Error())
	h.link.close()
}

func (h *Helper) nextReqID() string {
	h.mu.Lock()
	h.counter++
	id := fmt.Sprintf("%s:%d", h.sessionID, h.counter)
	h.mu.Unlock()
	return id
}

// callAction forwards one tool call as a REQUEST and blocks for its
// RESPONSE, the fixed requestTimeout deadline, or ctx cancellation,
// whichever comes first.
func (h *Helper) callAction(ctx context.Context, action string, params json.RawMessage, tabID string) (json.RawMessage, error) {
	reqID := h.nextReqID()
	ch, err := h.pending.Register(reqID, requestTimeout)
	if err != nil {
		return nil, err
	}

	env := protocol.NewRequest(reqID, h.sessionID, action, params, tabID)
	if err := h.link.send(env); err != nil {
		h.pending.Complete(reqID, correlation.Result{})
		return nil, err
	}

	select {
	case res := <-ch:
		if !res.OK {
			return nil, fmt.Errorf("%s", res.Error)
		}
		return res.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ConnectionStatus answers browser_get_connection_status without
// forwarding through the action pipeline (spec §4.4).
func (h *Helper) ConnectionStatus(ctx context.Context) (map[string]interface{}, error) {
	env, err := h.link.requestStatus(ctx)
	if err != nil {
		return nil, err
	}
	var sessionID interface{}
	if h.sessionID != "" {
		sessionID = h.sessionID
	}
	return map[string]interface{}{
		"mode":           h.link.mode(),
		"connected":      env.ExtensionConnected,
		"activeSessions": env.ActiveSessions,
		"sessionId":      sessionID,
	}, nil
}

// toolInput is the generic shape every dynamic-action tool accepts:
// the action's own params plus an optional tabId override (spec §4.6,
// explicit per-call tab override).
type toolInput struct {
	Params map[string]interface{} `json:"params,omitempty"`
	TabID  string                 `json:"tabId,omitempty"`
}

// RegisterTools mounts every tool name in toolToAction plus the status
// tool onto server, following the corpus's one-tool-per-handler shape
// (spec §9 "total compile-time table" realized here as one closure per
// action rather than one mega-switch tool). Tool names and their target
// actions come from the helper's own mapping table, not the action
// catalog directly, so that table is the one thing doing name→action
// translation on the real call path.
func (h *Helper) RegisterTools(server *mcp.Server) {
	for _, toolName := range ToolNames() {
		if toolName == StatusToolName {
			continue
		}
		action, ok := ActionForTool(toolName)
		if !ok {
			continue
		}
		mcp.AddTool(server, &mcp.Tool{
			Name:        toolName,
			Description: protocol.Actions[action].Description,
		}, h.makeActionHandler(toolName))
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        StatusToolName,
		Description: "Report whether the router daemon and browser extension are connected.",
	}, h.makeStatusHandler())
}

func (h *Helper) makeActionHandler(toolName string) func(context.Context, *mcp.CallToolRequest, toolInput) (*mcp.CallToolResult, map[string]interface{}, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input toolInput) (*mcp.CallToolResult, map[string]interface{}, error) {
		action, ok := ActionForTool(toolName)
		if !ok {
			return errorResult(fmt.Sprintf("%s: %v", toolName, protocol.ErrUnknownAction)), nil, nil
		}

		params, err := json.Marshal(input.Params)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}

		data, err := h.callAction(ctx, action, params, input.TabID)
		if err != nil {
			return errorResult(fmt.Sprintf("%s failed: %v", action, err)), nil, nil
		}

		if action == "screenshot" {
			if result, ok := imageResult(data); ok {
				return result, nil, nil
			}
		}

		var out map[string]interface{}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &out); err != nil {
				out = map[string]interface{}{"raw": string(data)}
			}
		}
		return nil, out, nil
	}
}

func (h *Helper) makeStatusHandler() func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, map[string]interface{}, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, map[string]interface{}, error) {
		status, err := h.ConnectionStatus(ctx)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		return nil, status, nil
	}
}

// imageResult detects the screenshot action's base64 PNG payload and
// re-wraps it as MCP image content instead of a JSON blob, so the
// agent host can render it directly.
func imageResult(data json.RawMessage) (*mcp.CallToolResult, bool) {
	var payload struct {
		Image    string `json:"image"`
		MIMEType string `json:"mimeType"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Image == "" {
		return nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(payload.Image)
	if err != nil {
		return nil, false
	}
	mimeType := payload.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.ImageContent{Data: decoded, MIMEType: mimeType}},
	}, true
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
