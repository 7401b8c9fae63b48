// Package executor is the concrete, CDP-backed action executor behind
// the opaque interface spec.md treats as external: `execute(tabId,
// action, params) -> result`. It is grounded on chromedp/cdproto, the
// only CDP stack present anywhere in the retrieval pack, and on the
// teacher's Chrome-launch bootstrapping (finding a local binary,
// polling a remote-debugging port) generalized from MCP-server
// delegation to direct chromedp control.
package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/protocol"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// dialogState is the one pending JS dialog a tab can have open at a time.
type dialogState struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type tabState struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	dialog    *dialogState
	capturing bool
	requests  []network.EventRequestWillBeSent
}

// Executor owns one browser instance and a set of tab-scoped chromedp
// contexts, keyed by target id. It implements binder.TabOpener so the
// side panel's binder can create/verify/close tabs through the same
// object that runs actions in them.
type Executor struct {
	log        zerolog.Logger
	allocCtx   context.Context
	allocCancel context.CancelFunc
	browserCtx context.Context
	browserCancel context.CancelFunc

	mu   sync.Mutex
	tabs map[string]*tabState
}

// New launches (or attaches to) a Chrome instance and returns an
// Executor ready to create tabs.
func New(cfg *config.Config, log zerolog.Logger) (*Executor, error) {
	profilePath := defaultProfilePath()
	port := 9222
	autoLaunch := true
	if cfg.Browser != nil {
		if cfg.Browser.ProfilePath != "" {
			profilePath = cfg.Browser.ProfilePath
		}
		if cfg.Browser.Port > 0 {
			port = cfg.Browser.Port
		}
		autoLaunch = cfg.Browser.AutoLaunch
	}

	if autoLaunch && !isPortOpen("127.0.0.1", port) {
		if !ensureBrowserReady(profilePath, port, log) {
			return nil, fmt.Errorf("executor: chrome not reachable on port %d and auto-launch failed", port)
		}
	} else if !isPortOpen("127.0.0.1", port) {
		return nil, fmt.Errorf("executor: chrome not reachable on port %d", port)
	}

	wsURL := fetchWSEndpoint(port)
	if wsURL == "" {
		return nil, fmt.Errorf("executor: could not fetch chrome websocket debugger URL")
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("executor: attach to browser: %w", err)
	}

	return &Executor{
		log:           log,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabs:          make(map[string]*tabState),
	}, nil
}

// Close tears down every tracked tab and the browser connection, and
// stops a Chrome process this executor auto-launched.
func (e *Executor) Close() {
	e.mu.Lock()
	tabs := e.tabs
	e.tabs = make(map[string]*tabState)
	e.mu.Unlock()

	for _, t := range tabs {
		t.cancel()
	}
	e.browserCancel()
	e.allocCancel()
	closeLaunchedBrowser()
}

// NewTab implements binder.TabOpener.
func (e *Executor) NewTab(ctx context.Context) (string, error) {
	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)
	if err := chromedp.Run(tabCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		return "", fmt.Errorf("executor: create tab: %w", err)
	}

	targetID := string(chromedp.FromContext(tabCtx).Target.TargetID)
	ts := &tabState{ctx: tabCtx, cancel: tabCancel}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if d, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			ts.mu.Lock()
			ts.dialog = &dialogState{Type: string(d.Type), Message: d.Message}
			ts.mu.Unlock()
		}
	})

	e.mu.Lock()
	e.tabs[targetID] = ts
	e.mu.Unlock()
	return targetID, nil
}

// TabExists implements binder.TabOpener.
func (e *Executor) TabExists(ctx context.Context, tabID string) bool {
	t := e.tab(tabID)
	if t == nil {
		return false
	}
	runCtx, cancel := context.WithTimeout(t.ctx, 2*time.Second)
	defer cancel()
	var title string
	if err := chromedp.Run(runCtx, chromedp.Title(&title)); err != nil {
		e.forget(tabID)
		return false
	}
	return true
}

// TabURL implements binder.TabOpener.
func (e *Executor) TabURL(ctx context.Context, tabID string) (string, bool) {
	t := e.tab(tabID)
	if t == nil {
		return "", false
	}
	var url string
	if err := chromedp.Run(t.ctx, chromedp.Location(&url)); err != nil {
		return "", false
	}
	return url, true
}

// CloseTab implements binder.TabOpener.
func (e *Executor) CloseTab(ctx context.Context, tabID string) error {
	t := e.tab(tabID)
	if t == nil {
		return nil
	}
	t.cancel()
	e.forget(tabID)
	return nil
}

func (e *Executor) tab(tabID string) *tabState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs[tabID]
}

func (e *Executor) forget(tabID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tabs, tabID)
}

// Execute dispatches one catalog action against tabID (spec §6, §9
// "tagged variant dispatch"). params is the request's raw JSON; the
// return value is the raw JSON to place in the RESPONSE's `data` field.
func (e *Executor) Execute(ctx context.Context, tabID string, action string, params json.RawMessage) (json.RawMessage, error) {
	if _, known := protocol.Actions[action]; !known {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownAction, action)
	}

	t := e.tab(tabID)
	if t == nil {
		return nil, protocol.ErrTabNotFound
	}

	runCtx, cancel := context.WithTimeout(t.ctx, 30*time.Second)
	defer cancel()

	switch action {
	case "navigate":
		var p struct{ URL string `json:"url"` }
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := chromedp.Run(runCtx, chromedp.Navigate(p.URL)); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "click":
		var p struct{ Selector string `json:"selector"` }
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := chromedp.Run(runCtx, chromedp.Click(p.Selector, chromedp.ByQuery)); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "double_click":
		var p struct{ Selector string `json:"selector"` }
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := chromedp.Run(runCtx, chromedp.DoubleClick(p.Selector, chromedp.ByQuery)); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "right_click":
		var p struct{ Selector string `json:"selector"` }
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := chromedp.Run(runCtx, chromedp.QueryAfter(p.Selector, func(ctx context.Context, execCtx runtime.ExecutionContextID, nodes ...*cdp.Node) error {
			if len(nodes) < 1 {
				return fmt.Errorf("selector %q did not return any nodes", p.Selector)
			}
			return chromedp.MouseClickNode(nodes[0], chromedp.Button("right")).Do(ctx)
		}, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "hover":
		var p struct{ Selector string `json:"selector"` }
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := chromedp.Run(runCtx, chromedp.ScrollIntoView(p.Selector, chromedp.ByQuery), mouseMoveToSelector(p.Selector)); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "type":
		var p struct {
			Selector string `json:"selector"`
			Text     string `json:"text"`
		}
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		var tasks chromedp.Tasks
		if p.Selector != "" {
			tasks = append(tasks, chromedp.Click(p.Selector, chromedp.ByQuery), chromedp.SendKeys(p.Selector, p.Text, chromedp.ByQuery))
		} else {
			tasks = append(tasks, chromedp.KeyEvent(p.Text))
		}
		if err := chromedp.Run(runCtx, tasks); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "press_key":
		var p struct{ Key string `json:"key"` }
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		namedKeys := map[string]string{"Enter": "\r", "Escape": "\u001b", "Tab": "\t", "Backspace": "\b", "Delete": "\u007f"}
		key := p.Key
		if seq, ok := namedKeys[key]; ok {
			key = seq
		}
		if err := chromedp.Run(runCtx, chromedp.KeyEvent(key)); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "scroll":
		var p struct {
			Selector string `json:"selector"`
			X        int64  `json:"x"`
			Y        int64  `json:"y"`
		}
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		if p.Selector != "" {
			if err := chromedp.Run(runCtx, chromedp.ScrollIntoView(p.Selector, chromedp.ByQuery)); err != nil {
				return nil, wrapExecErr(err)
			}
			return jsonOK()
		}
		expr := fmt.Sprintf("window.scrollBy(%d, %d)", p.X, p.Y)
		if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, nil)); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "screenshot":
		var p struct{ FullPage bool `json:"fullPage"` }
		unmarshal(params, &p) // optional params
		var buf []byte
		var err error
		if p.FullPage {
			err = chromedp.Run(runCtx, chromedp.FullScreenshot(&buf, 100))
		} else {
			err = chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf))
		}
		if err != nil {
			return nil, wrapExecErr(err)
		}
		return json.Marshal(map[string]string{"image": base64.StdEncoding.EncodeToString(buf), "mimeType": "image/png"})

	case "evaluate":
		var p struct{ Expression string `json:"expression"` }
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		var result interface{}
		if err := chromedp.Run(runCtx, chromedp.Evaluate(p.Expression, &result)); err != nil {
			return nil, wrapExecErr(err)
		}
		return json.Marshal(map[string]interface{}{"result": result})

	case "get_page_info":
		var url, title string
		if err := chromedp.Run(runCtx, chromedp.Location(&url), chromedp.Title(&title)); err != nil {
			return nil, wrapExecErr(err)
		}
		return json.Marshal(map[string]string{"url": url, "title": title})

	case "get_dom_tree":
		var html string
		if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			return nil, wrapExecErr(err)
		}
		return json.Marshal(map[string]string{"html": html})

	case "get_tabs":
		targets, err := chromedp.Targets(runCtx)
		if err != nil {
			return nil, wrapExecErr(err)
		}
		type tabInfo struct {
			TabID string `json:"tabId"`
			URL   string `json:"url"`
			Title string `json:"title"`
		}
		var out []tabInfo
		for _, tg := range targets {
			if tg.Type != "page" {
				continue
			}
			out = append(out, tabInfo{TabID: string(tg.TargetID), URL: tg.URL, Title: tg.Title})
		}
		return json.Marshal(map[string]interface{}{"tabs": out})

	case "switch_tab":
		var p struct{ TabID string `json:"tabId"` }
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		if !e.TabExists(runCtx, p.TabID) {
			return nil, protocol.ErrTabNotFound
		}
		return jsonOK()

	case "wait_for_selector":
		var p struct {
			Selector  string `json:"selector"`
			TimeoutMs int    `json:"timeoutMs"`
		}
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		waitCtx, waitCancel := withOptionalTimeout(t.ctx, p.TimeoutMs)
		defer waitCancel()
		if err := chromedp.Run(waitCtx, chromedp.WaitVisible(p.Selector, chromedp.ByQuery)); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "wait_for_load_state":
		var p struct{ State string `json:"state"` }
		unmarshal(params, &p)
		condition := "document.readyState === 'complete'"
		if p.State == "domcontentloaded" {
			condition = "document.readyState !== 'loading'"
		}
		if err := chromedp.Run(runCtx, chromedp.Poll(condition, nil)); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "wait_for_function":
		var p struct {
			Expression string `json:"expression"`
			TimeoutMs  int    `json:"timeoutMs"`
		}
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		waitCtx, waitCancel := withOptionalTimeout(t.ctx, p.TimeoutMs)
		defer waitCancel()
		if err := chromedp.Run(waitCtx, chromedp.Poll(p.Expression, nil)); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "enable_network":
		t.mu.Lock()
		if !t.capturing {
			t.capturing = true
			chromedp.ListenTarget(t.ctx, func(ev interface{}) {
				if e, ok := ev.(*network.EventRequestWillBeSent); ok {
					t.mu.Lock()
					t.requests = append(t.requests, *e)
					t.mu.Unlock()
				}
			})
		}
		t.mu.Unlock()
		if err := chromedp.Run(runCtx, network.Enable()); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "get_network_requests":
		t.mu.Lock()
		defer t.mu.Unlock()
		type reqInfo struct {
			URL    string `json:"url"`
			Method string `json:"method"`
		}
		out := make([]reqInfo, 0, len(t.requests))
		for _, r := range t.requests {
			out = append(out, reqInfo{URL: r.Request.URL, Method: r.Request.Method})
		}
		return json.Marshal(map[string]interface{}{"requests": out})

	case "wait_for_response":
		var p struct {
			URLPattern string `json:"urlPattern"`
			TimeoutMs  int    `json:"timeoutMs"`
		}
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		return e.waitForResponse(t, p.URLPattern, p.TimeoutMs)

	case "upload_file":
		var p struct {
			Selector string `json:"selector"`
			Path     string `json:"path"`
		}
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := chromedp.Run(runCtx, chromedp.SetUploadFiles(p.Selector, []string{p.Path}, chromedp.ByQuery)); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "get_dialog":
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.dialog == nil {
			return json.Marshal(map[string]interface{}{"dialog": nil})
		}
		return json.Marshal(map[string]interface{}{"dialog": t.dialog})

	case "handle_dialog":
		var p struct {
			Accept     bool   `json:"accept"`
			PromptText string `json:"promptText"`
		}
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := chromedp.Run(runCtx, page.HandleJavaScriptDialog(p.Accept).WithPromptText(p.PromptText)); err != nil {
			return nil, wrapExecErr(err)
		}
		t.mu.Lock()
		t.dialog = nil
		t.mu.Unlock()
		return jsonOK()

	case "download":
		var p struct{ Selector string `json:"selector"` }
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := chromedp.Run(runCtx,
			browserSetDownloadBehavior(),
			chromedp.Click(p.Selector, chromedp.ByQuery),
		); err != nil {
			return nil, wrapExecErr(err)
		}
		return jsonOK()

	case "lock", "unlock":
		// Advisory-only: the executor keeps no lock state and does not
		// block other requests against the tab; both report success.
		return jsonOK()

	case "update_status":
		var p struct{ Status string `json:"status"` }
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		e.log.Info().Str("tabId", tabID).Str("status", p.Status).Msg("status update")
		return jsonOK()

	default:
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownAction, action)
	}
}

func (e *Executor) waitForResponse(t *tabState, urlPattern string, timeoutMs int) (json.RawMessage, error) {
	waitCtx, cancel := withOptionalTimeout(t.ctx, timeoutMs)
	defer cancel()

	matched := make(chan network.EventResponseReceived, 1)
	chromedp.ListenTarget(waitCtx, func(ev interface{}) {
		if r, ok := ev.(*network.EventResponseReceived); ok {
			if strings.Contains(r.Response.URL, urlPattern) {
				select {
				case matched <- *r:
				default:
				}
			}
		}
	})

	if err := chromedp.Run(waitCtx, network.Enable()); err != nil {
		return nil, wrapExecErr(err)
	}

	select {
	case r := <-matched:
		return json.Marshal(map[string]interface{}{"url": r.Response.URL, "status": r.Response.Status})
	case <-waitCtx.Done():
		return nil, protocol.ErrTimeout
	}
}

// mouseMoveToSelector dispatches a real mouseover event at the
// element's center; chromedp has no first-class Hover action, so this
// mirrors what chromedp.Click does internally (resolve the box model,
// then dispatch a mouse event at its midpoint) but stops after moving.
func mouseMoveToSelector(selector string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(selector, &nodes, chromedp.ByQuery).Do(ctx); err != nil {
			return err
		}
		if len(nodes) == 0 {
			return fmt.Errorf("no node matched selector %q", selector)
		}
		boxes, err := dom.GetContentQuads().WithNodeID(nodes[0].NodeID).Do(ctx)
		if err != nil || len(boxes) == 0 {
			return fmt.Errorf("could not resolve box model for %q", selector)
		}
		x, y := quadCenter(boxes[0])
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
	})
}

func quadCenter(quad dom.Quad) (float64, float64) {
	var sumX, sumY float64
	for i := 0; i < len(quad); i += 2 {
		sumX += quad[i]
		sumY += quad[i+1]
	}
	n := float64(len(quad) / 2)
	return sumX / n, sumY / n
}

func browserSetDownloadBehavior() chromedp.Action {
	return browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow)
}

func withOptionalTimeout(parent context.Context, ms int) (context.Context, context.CancelFunc) {
	if ms <= 0 {
		ms = 30000
	}
	return context.WithTimeout(parent, time.Duration(ms)*time.Millisecond)
}

func unmarshal(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing params", protocol.ErrInvalidParams)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidParams, err)
	}
	return nil
}

func jsonOK() (json.RawMessage, error) {
	return json.Marshal(map[string]bool{"ok": true})
}

func wrapExecErr(err error) error {
	return fmt.Errorf("executor: %w", err)
}

