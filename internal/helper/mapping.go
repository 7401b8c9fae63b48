package helper

import (
	"sort"

	"github.com/browserbridge/bridge/internal/protocol"
)

// StatusToolName is the one MCP tool that never forwards to the router
// (spec §4.4 "A special tool browser_get_connection_status does not forward").
const StatusToolName = "browser_get_connection_status"

// toolToAction is the helper's "fixed, total mapping table" from MCP
// tool name to router action (spec §4.4, §9 "total compile-time
// table"). The helper never interprets action semantics; it only
// translates names. RegisterTools mounts handlers from this table
// rather than from the action catalog directly, so the name→action
// translation it performs on every tool call actually goes through it.
var toolToAction = buildToolMapping()

func buildToolMapping() map[string]string {
	m := make(map[string]string, len(protocol.Actions))
	for name := range protocol.Actions {
		m["browser_"+name] = name
	}
	return m
}

// ActionForTool returns the action the given MCP tool name maps to,
// and whether it is known.
func ActionForTool(toolName string) (string, bool) {
	action, ok := toolToAction[toolName]
	return action, ok
}

// ToolNames returns every MCP tool name the helper exposes, including
// the status tool, sorted for stable iteration.
func ToolNames() []string {
	names := make([]string, 0, len(toolToAction)+1)
	for name := range toolToAction {
		names = append(names, name)
	}
	sort.Strings(names)
	names = append(names, StatusToolName)
	return names
}
