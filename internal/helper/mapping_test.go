package helper

import (
	"testing"

	"github.com/browserbridge/bridge/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionForToolRoundTripsEveryCatalogAction(t *testing.T) {
	for name := range protocol.Actions {
		action, ok := ActionForTool("browser_" + name)
		require.True(t, ok, "tool for action %q should be known", name)
		assert.Equal(t, name, action)
	}
}

func TestActionForToolRejectsUnknownName(t *testing.T) {
	_, ok := ActionForTool("browser_does_not_exist")
	assert.False(t, ok)
}

func TestToolNamesIncludesStatusTool(t *testing.T) {
	names := ToolNames()
	assert.Contains(t, names, StatusToolName)
	assert.Len(t, names, len(protocol.Actions)+1)
}
