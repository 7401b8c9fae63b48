package protocol

// Action is one entry of the fixed action catalog from spec §6. Params
// is a JSON Schema fragment (object properties + required list)
// describing the action's parameters. Nothing reads it at run time: the
// executor decodes params per action, and the helper's MCP tools use
// Description only, taking their input schema from toolInput.
type Action struct {
	Name        string
	Description string
	Params      map[string]interface{}
}

// Actions is the total, fixed vocabulary the executor accepts. An
// action absent from this table is rejected at the boundary with
// ErrUnknownAction rather than deep inside a dispatch chain, per the
// "dynamic dispatch on action" design note.
var Actions = buildActionCatalog()

func buildActionCatalog() map[string]Action {
	str := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	num := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "number", "description": desc}
	}
	obj := map[string]interface{}{"type": "object"}

	schema := func(required []string, props map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{
			"type":       "object",
			"properties": props,
			"required":   required,
		}
	}

	table := []Action{
		{"navigate", "Navigate the bound tab to a URL.", schema([]string{"url"}, map[string]interface{}{
			"url": str("Destination URL."),
		})},
		{"click", "Click an element.", schema([]string{"selector"}, map[string]interface{}{
			"selector": str("CSS selector or element ref."),
		})},
		{"type", "Type text into the focused or targeted element.", schema([]string{"text"}, map[string]interface{}{
			"selector": str("Optional CSS selector or element ref."),
			"text":     str("Text to type."),
		})},
		{"scroll", "Scroll the page or an element.", schema(nil, map[string]interface{}{
			"selector": str("Optional element to scroll into view."),
			"x":        num("Horizontal scroll delta."),
			"y":        num("Vertical scroll delta."),
		})},
		{"screenshot", "Capture a screenshot of the current viewport.", schema(nil, map[string]interface{}{
			"fullPage": map[string]interface{}{"type": "boolean", "description": "Capture the full scrollable page."},
		})},
		{"evaluate", "Evaluate a JavaScript expression in the page.", schema([]string{"expression"}, map[string]interface{}{
			"expression": str("JavaScript expression to evaluate."),
		})},
		{"get_page_info", "Return the current URL and title.", obj},
		{"get_dom_tree", "Return the page's serialized outer HTML.", obj},
		{"get_tabs", "List open tabs in the current window.", obj},
		{"switch_tab", "Check that a tab exists; fails with tab not found otherwise. Does not change the session's home tab.", schema([]string{"tabId"}, map[string]interface{}{
			"tabId": str("Target tab identifier."),
		})},
		{"press_key", "Send a keyboard key press.", schema([]string{"key"}, map[string]interface{}{
			"key": str("Key name, e.g. Enter, Escape, Tab."),
		})},
		{"wait_for_selector", "Wait until an element matching a selector appears.", schema([]string{"selector"}, map[string]interface{}{
			"selector": str("CSS selector to wait for."),
			"timeoutMs": num("Maximum time to wait, in milliseconds."),
		})},
		{"wait_for_load_state", "Wait for a page load milestone.", schema(nil, map[string]interface{}{
			"state": str("domcontentloaded waits until readyState leaves loading; any other value (load, networkidle) waits for readyState complete. Network idleness is not tracked."),
		})},
		{"wait_for_function", "Wait until a JavaScript expression is truthy.", schema([]string{"expression"}, map[string]interface{}{
			"expression": str("JavaScript expression polled until truthy."),
			"timeoutMs":  num("Maximum time to wait, in milliseconds."),
		})},
		{"enable_network", "Start capturing network traffic for the tab.", obj},
		{"get_network_requests", "Return captured network requests since capture was enabled.", obj},
		{"wait_for_response", "Wait for a network response matching a URL pattern.", schema([]string{"urlPattern"}, map[string]interface{}{
			"urlPattern": str("Substring or pattern to match against response URLs."),
			"timeoutMs":  num("Maximum time to wait, in milliseconds."),
		})},
		{"upload_file", "Attach a local file to a file input.", schema([]string{"selector", "path"}, map[string]interface{}{
			"selector": str("CSS selector of the file input."),
			"path":     str("Absolute path of the file to upload."),
		})},
		{"get_dialog", "Return the currently pending dialog, if any.", obj},
		{"handle_dialog", "Accept or dismiss the pending dialog.", schema([]string{"accept"}, map[string]interface{}{
			"accept":     map[string]interface{}{"type": "boolean", "description": "Accept (true) or dismiss (false) the dialog."},
			"promptText": str("Text to enter for a prompt() dialog."),
		})},
		{"hover", "Hover over an element.", schema([]string{"selector"}, map[string]interface{}{
			"selector": str("CSS selector or element ref."),
		})},
		{"double_click", "Double-click an element.", schema([]string{"selector"}, map[string]interface{}{
			"selector": str("CSS selector or element ref."),
		})},
		{"right_click", "Right-click (context menu) an element.", schema([]string{"selector"}, map[string]interface{}{
			"selector": str("CSS selector or element ref."),
		})},
		{"download", "Allow downloads and click the element that triggers one; completion of the download is not awaited.", schema([]string{"selector"}, map[string]interface{}{
			"selector": str("Element that triggers the download when clicked."),
		})},
		{"lock", "Advisory lock marker; always succeeds. No lock state is kept and other automation is not blocked.", obj},
		{"unlock", "Counterpart of lock; always succeeds. No lock state is kept.", obj},
		{"update_status", "Write a status string to the side panel's log.", schema([]string{"status"}, map[string]interface{}{
			"status": str("Human-readable status line."),
		})},
	}

	catalog := make(map[string]Action, len(table))
	for _, a := range table {
		catalog[a.Name] = a
	}
	return catalog
}
