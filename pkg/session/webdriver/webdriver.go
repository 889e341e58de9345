// Package webdriver implements session.Session over the W3C WebDriver HTTP
// protocol. Imported script modules are prepended to every executed script so
// they behave like globals inside the remote sandbox.
package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/germanamz/devicelab/pkg/harnesserr"
	"github.com/germanamz/devicelab/pkg/session"
)

// DefaultPortWait bounds WaitForPort when no WithPortWait option is given.
const DefaultPortWait = 60 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPortWait bounds how long WaitForPort polls the remote end.
func WithPortWait(d time.Duration) Option {
	return func(c *Client) { c.portWait = d }
}

// WithPollInterval sets the first WaitForPort retry delay.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithInstance attaches an in-process instance of the system under test.
func WithInstance(inst session.Instance) Option {
	return func(c *Client) { c.instance = inst }
}

// WithCapabilities sets the capabilities requested by StartSession.
func WithCapabilities(caps map[string]any) Option {
	return func(c *Client) { c.desired = caps }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client is a WebDriver remote session. It is not safe for concurrent use.
type Client struct {
	baseURL      string
	http         *http.Client
	portWait     time.Duration
	pollInterval time.Duration
	instance     session.Instance
	desired      map[string]any
	log          *slog.Logger

	sessionID string
	caps      session.Capabilities
	imports   []string
}

// New creates a Client for the remote end at baseURL. No request is made
// until WaitForPort or StartSession.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{},
		portWait:     DefaultPortWait,
		pollInterval: 250 * time.Millisecond,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SessionID returns the active session id, or "".
func (c *Client) SessionID() string { return c.sessionID }

// ExecuteScript runs script synchronously.
func (c *Client) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	return c.execute(ctx, "sync", script, args)
}

// ExecuteAsyncScript runs script and waits for its callback, which the remote
// end passes as the last argument.
func (c *Client) ExecuteAsyncScript(ctx context.Context, script string, args ...any) (any, error) {
	return c.execute(ctx, "async", script, args)
}

// ImportScript prepends js to every subsequent script of the current
// session. A module already imported is kept once.
func (c *Client) ImportScript(js string) {
	if slices.Contains(c.imports, js) {
		return
	}
	c.imports = append(c.imports, js)
}

// Screenshot returns the viewport as base64 PNG.
func (c *Client) Screenshot(ctx context.Context) (string, error) {
	var out string
	if err := c.sessionCall(ctx, http.MethodGet, "/screenshot", nil, &out); err != nil {
		return "", harnesserr.Remote("screenshot", "", err)
	}
	return out, nil
}

// PageSource returns the current document markup.
func (c *Client) PageSource(ctx context.Context) (string, error) {
	var out string
	if err := c.sessionCall(ctx, http.MethodGet, "/source", nil, &out); err != nil {
		return "", harnesserr.Remote("page_source", "", err)
	}
	return out, nil
}

// SwitchToFrame selects frame; nil selects the top-level browsing context.
func (c *Client) SwitchToFrame(ctx context.Context, frame any) error {
	if err := c.sessionCall(ctx, http.MethodPost, "/frame", map[string]any{"id": frame}, nil); err != nil {
		return harnesserr.Remote("switch_to_frame", "", err)
	}
	return nil
}

// Capabilities returns the capabilities of the active session.
func (c *Client) Capabilities() session.Capabilities {
	return c.caps
}

// SetScriptTimeout bounds asynchronous scripts.
func (c *Client) SetScriptTimeout(ctx context.Context, d time.Duration) error {
	return c.setTimeout(ctx, "script", d)
}

// SetSearchTimeout bounds implicit element waits.
func (c *Client) SetSearchTimeout(ctx context.Context, d time.Duration) error {
	return c.setTimeout(ctx, "implicit", d)
}

// FindElement locates one element.
func (c *Client) FindElement(ctx context.Context, using, value string) (session.Element, error) {
	var out map[string]any
	if err := c.sessionCall(ctx, http.MethodPost, "/element", map[string]string{"using": using, "value": value}, &out); err != nil {
		return session.Element{}, harnesserr.Remote("find_element", using+"="+value, err)
	}

	id, ok := session.ElementFromJSON(out)
	if !ok {
		return session.Element{}, harnesserr.Remote("find_element", using+"="+value, errors.New("response has no element reference"))
	}

	return session.Element{ID: id, Using: using, Value: value}, nil
}

// WaitForPort polls the status endpoint with exponential backoff until the
// remote end answers or the port wait elapses.
func (c *Client) WaitForPort(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.call(ctx, http.MethodGet, "/status", nil, nil)
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(c.portWait))
	if err != nil {
		return fmt.Errorf("webdriver: wait for port: %w", err)
	}

	return nil
}

type newSessionValue struct {
	SessionID    string         `json:"sessionId"`
	Capabilities map[string]any `json:"capabilities"`
}

// StartSession creates a new session and records its capabilities.
func (c *Client) StartSession(ctx context.Context) error {
	desired := c.desired
	if desired == nil {
		desired = map[string]any{}
	}
	body := map[string]any{"capabilities": map[string]any{"alwaysMatch": desired}}

	var out newSessionValue
	if err := c.call(ctx, http.MethodPost, "/session", body, &out); err != nil {
		return harnesserr.Remote("new_session", c.baseURL, err)
	}
	if out.SessionID == "" {
		return harnesserr.Remote("new_session", c.baseURL, errors.New("response has no session id"))
	}

	c.sessionID = out.SessionID
	c.caps = session.Capabilities(out.Capabilities)

	c.log.Debug("webdriver session started", "session", c.sessionID, "platform", c.caps.Platform())

	return nil
}

// DeleteSession ends the active session. Without one it does nothing.
func (c *Client) DeleteSession(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}

	err := c.sessionCall(ctx, http.MethodDelete, "", nil, nil)
	c.Disconnect()
	if err != nil {
		return harnesserr.Remote("delete_session", c.baseURL, err)
	}

	return nil
}

// Disconnect drops idle connections and forgets the session along with its
// imported scripts.
func (c *Client) Disconnect() {
	c.http.CloseIdleConnections()
	c.sessionID = ""
	c.caps = nil
	c.imports = nil
}

// Instance returns the attached in-process instance, or nil.
func (c *Client) Instance() session.Instance {
	return c.instance
}

func (c *Client) execute(ctx context.Context, mode, script string, args []any) (any, error) {
	if args == nil {
		args = []any{}
	}

	body := map[string]any{"script": c.withImports(script), "args": args}

	var out any
	if err := c.sessionCall(ctx, http.MethodPost, "/execute/"+mode, body, &out); err != nil {
		return nil, harnesserr.Remote("execute_"+mode, excerpt(script), err)
	}

	return out, nil
}

func (c *Client) withImports(script string) string {
	if len(c.imports) == 0 {
		return script
	}
	return strings.Join(c.imports, "\n") + "\n" + script
}

func (c *Client) setTimeout(ctx context.Context, kind string, d time.Duration) error {
	body := map[string]int64{kind: d.Milliseconds()}
	if err := c.sessionCall(ctx, http.MethodPost, "/timeouts", body, nil); err != nil {
		return harnesserr.Remote("set_timeouts", kind, err)
	}
	return nil
}

func (c *Client) sessionCall(ctx context.Context, method, path string, body, out any) error {
	if c.sessionID == "" {
		return errors.New("no active session")
	}
	return c.call(ctx, method, "/session/"+c.sessionID+path, body, out)
}

// wireError is the W3C error payload.
type wireError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// call performs one request and decodes the "value" member into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope struct {
		Value     json.RawMessage `json:"value"`
		SessionID string          `json:"sessionId"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var we wireError
		if len(envelope.Value) > 0 && json.Unmarshal(envelope.Value, &we) == nil && we.Error != "" {
			return fmt.Errorf("%s: %s", we.Error, we.Message)
		}
		return fmt.Errorf("http status %d", resp.StatusCode)
	}

	if out == nil || len(envelope.Value) == 0 {
		return nil
	}

	if err := json.Unmarshal(envelope.Value, out); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}

	// Legacy remote ends report the session id beside "value".
	if ns, ok := out.(*newSessionValue); ok && ns.SessionID == "" {
		ns.SessionID = envelope.SessionID
	}

	return nil
}

// excerpt shortens a script for error messages.
func excerpt(script string) string {
	s := strings.Join(strings.Fields(script), " ")
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
