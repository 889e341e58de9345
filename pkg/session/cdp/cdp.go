// Package cdp implements session.Session over the Chrome DevTools Protocol for
// desktop builds that expose a remote debugging port. The connection is made
// by StartSession and torn down by DeleteSession or Disconnect.
package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/chromedp/cdproto/cdp"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/germanamz/devicelab/pkg/harnesserr"
	"github.com/germanamz/devicelab/pkg/session"
)

// ErrFrameUnsupported is returned when selecting anything but the top-level
// frame. The DevTools session always evaluates in the top-level document.
var ErrFrameUnsupported = errors.New("cdp: only the top-level frame can be selected")

// Option configures a Client.
type Option func(*Client)

// WithPortWait bounds how long WaitForPort polls the debugging endpoint.
func WithPortWait(d time.Duration) Option {
	return func(c *Client) { c.portWait = d }
}

// WithInstance attaches an in-process instance of the system under test.
func WithInstance(inst session.Instance) Option {
	return func(c *Client) { c.instance = inst }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client is a DevTools-backed session.
type Client struct {
	parentCtx context.Context
	debugURL  string
	portWait  time.Duration
	instance  session.Instance
	log       *slog.Logger

	mu            sync.Mutex
	tabCtx        context.Context
	tabDone       context.CancelFunc
	allocDone     context.CancelFunc
	caps          session.Capabilities
	imports       []string
	scriptTimeout time.Duration
	searchTimeout time.Duration
}

// New creates a Client for the debugging endpoint at debugURL
// (http://host:port). parentCtx roots the DevTools connection; cancelling it
// drops the session.
func New(parentCtx context.Context, debugURL string, opts ...Option) *Client {
	c := &Client{
		parentCtx:     parentCtx,
		debugURL:      strings.TrimRight(debugURL, "/"),
		portWait:      60 * time.Second,
		log:           slog.Default(),
		scriptTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WaitForPort polls /json/version until the debugging endpoint answers.
func (c *Client) WaitForPort(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.debugURL+"/json/version", nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, fmt.Errorf("status %d", resp.StatusCode)
		}
		return struct{}{}, nil
	}, backoff.WithMaxElapsedTime(c.portWait))
	if err != nil {
		return fmt.Errorf("cdp: wait for port: %w", err)
	}
	return nil
}

// StartSession attaches to the running build and records its capabilities.
func (c *Client) StartSession(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(c.parentCtx, c.debugURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	var platform string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate("navigator.platform", &platform)); err != nil {
		tabCancel()
		allocCancel()
		return harnesserr.Remote("new_session", c.debugURL, err)
	}

	c.tabCtx = tabCtx
	c.tabDone = tabCancel
	c.allocDone = allocCancel
	c.caps = session.Capabilities{
		"browserName":  "devtools",
		"platformName": platformName(platform),
	}

	c.log.Debug("cdp session started", "url", c.debugURL, "platform", c.caps.Platform())

	return nil
}

// platformName maps navigator.platform to a W3C platform name.
func platformName(navigatorPlatform string) string {
	p := strings.ToLower(navigatorPlatform)
	switch {
	case strings.Contains(p, "android"):
		return "android"
	case strings.Contains(p, "mac"):
		return "mac"
	case strings.Contains(p, "win"):
		return "windows"
	case strings.Contains(p, "linux"):
		return "linux"
	default:
		return runtime.GOOS
	}
}

// DeleteSession closes the attached tab.
func (c *Client) DeleteSession(context.Context) error {
	c.Disconnect()
	return nil
}

// Disconnect drops the DevTools connection and forgets the session.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.tabDone != nil {
		c.tabDone()
		c.allocDone()
	}
	c.tabCtx = nil
	c.tabDone = nil
	c.allocDone = nil
	c.caps = nil
	c.imports = nil
}

// Capabilities returns the capabilities of the active session.
func (c *Client) Capabilities() session.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// Instance returns the attached in-process instance, or nil.
func (c *Client) Instance() session.Instance {
	return c.instance
}

// ImportScript prepends js to every subsequent script of the current
// session. A module already imported is kept once.
func (c *Client) ImportScript(js string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.imports, js) {
		return
	}
	c.imports = append(c.imports, js)
}

// SetScriptTimeout bounds asynchronous scripts.
func (c *Client) SetScriptTimeout(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scriptTimeout = d
	return nil
}

// SetSearchTimeout bounds element lookups.
func (c *Client) SetSearchTimeout(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchTimeout = d
	return nil
}

func (c *Client) tab() (context.Context, []string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tabCtx == nil {
		return nil, nil, errors.New("no active session")
	}
	return c.tabCtx, append([]string(nil), c.imports...), nil
}

// run executes actions in the tab, cancelled by either ctx or the tab.
func (c *Client) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tabCtx, _, err := c.tab()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, timeout)
		defer tcancel()
	}

	return chromedp.Run(runCtx, actions...)
}

// ExecuteScript evaluates script as a function body with args bound to
// arguments.
func (c *Client) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	_, imports, err := c.tab()
	if err != nil {
		return nil, harnesserr.Remote("execute_sync", "", err)
	}

	expr, err := SyncExpression(imports, script, args)
	if err != nil {
		return nil, harnesserr.Remote("execute_sync", "", err)
	}

	var out any
	if err := c.run(ctx, 0, chromedp.Evaluate(expr, &out)); err != nil {
		return nil, harnesserr.Remote("execute_sync", "", err)
	}
	return out, nil
}

// ExecuteAsyncScript evaluates script with a completion callback appended to
// its arguments and awaits it, bounded by the script timeout.
func (c *Client) ExecuteAsyncScript(ctx context.Context, script string, args ...any) (any, error) {
	_, imports, err := c.tab()
	if err != nil {
		return nil, harnesserr.Remote("execute_async", "", err)
	}

	expr, err := AsyncExpression(imports, script, args)
	if err != nil {
		return nil, harnesserr.Remote("execute_async", "", err)
	}

	c.mu.Lock()
	timeout := c.scriptTimeout
	c.mu.Unlock()

	var out any
	await := func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	if err := c.run(ctx, timeout, chromedp.Evaluate(expr, &out, await)); err != nil {
		return nil, harnesserr.Remote("execute_async", "", err)
	}
	return out, nil
}

// Screenshot captures the viewport as a data-URI-prefixed base64 PNG.
func (c *Client) Screenshot(ctx context.Context) (string, error) {
	var buf []byte
	if err := c.run(ctx, 0, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", harnesserr.Remote("screenshot", "", err)
	}
	return session.DataURIPrefix + base64.StdEncoding.EncodeToString(buf), nil
}

// PageSource returns the outer HTML of the document element.
func (c *Client) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", harnesserr.Remote("page_source", "", err)
	}
	return html, nil
}

// SwitchToFrame accepts only nil, the top-level frame.
func (c *Client) SwitchToFrame(_ context.Context, frame any) error {
	if frame != nil {
		return harnesserr.Remote("switch_to_frame", "", ErrFrameUnsupported)
	}
	return nil
}

// FindElement waits up to the search timeout for a CSS selector match.
func (c *Client) FindElement(ctx context.Context, using, value string) (session.Element, error) {
	if using != "css selector" {
		return session.Element{}, harnesserr.Remote("find_element", using+"="+value, fmt.Errorf("unsupported locator %q", using))
	}

	c.mu.Lock()
	timeout := c.searchTimeout
	c.mu.Unlock()
	if timeout <= 0 {
		timeout = time.Second
	}

	var nodes []*cdp.Node
	if err := c.run(ctx, timeout, chromedp.Nodes(value, &nodes, chromedp.ByQuery)); err != nil {
		return session.Element{}, harnesserr.Remote("find_element", using+"="+value, err)
	}

	return session.Element{ID: value, Using: using, Value: value}, nil
}

// SyncExpression builds the expression evaluated for a synchronous script.
func SyncExpression(imports []string, script string, args []any) (string, error) {
	argList, err := jsArgs(args)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(function(){\n%s\n}).apply(null, [%s])", body(imports, script), argList), nil
}

// AsyncExpression builds the promise evaluated for an asynchronous script.
func AsyncExpression(imports []string, script string, args []any) (string, error) {
	argList, err := jsArgs(args)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("new Promise(function(resolve){\nvar args = [%s];\nargs.push(resolve);\n(function(){\n%s\n}).apply(null, args);\n})", argList, body(imports, script)), nil
}

func body(imports []string, script string) string {
	if len(imports) == 0 {
		return script
	}
	return strings.Join(imports, "\n") + "\n" + script
}

// jsArgs renders args as JavaScript literals. Elements become selector
// lookups in the page.
func jsArgs(args []any) (string, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if el, ok := a.(session.Element); ok {
			sel, err := json.Marshal(el.Value)
			if err != nil {
				return "", err
			}
			parts = append(parts, "document.querySelector("+string(sel)+")")
			continue
		}
		data, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encode argument: %w", err)
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, ", "), nil
}
