// Package datalayer queries settings and connectivity state of the running
// system through a script module injected into the remote session.
//
// A Client is bound to the session it was created on. When the session is
// replaced, for example after a device restart, create a new Client.
package datalayer

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/germanamz/devicelab/pkg/session"
)

//go:embed scripts/gaia_data_layer.js
var script string

// SearchTimeout is applied to the session when a Client is created.
const SearchTimeout = 10 * time.Second

// CardReady is the card state of a connected carrier.
const CardReady = "ready"

// Session is the part of session.Session the data layer uses.
type Session interface {
	session.Scripter
	SetSearchTimeout(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client is the data layer of one session.
type Client struct {
	sess Session
	vars map[string]any
	log  *slog.Logger
}

// New imports the data layer module into sess and sets its search timeout.
// vars may be nil.
func New(ctx context.Context, sess Session, vars map[string]any, opts ...Option) (*Client, error) {
	if vars == nil {
		vars = map[string]any{}
	}

	c := &Client{sess: sess, vars: vars, log: slog.Default()}
	for _, o := range opts {
		o(c)
	}

	sess.ImportScript(script)
	if err := sess.SetSearchTimeout(ctx, SearchTimeout); err != nil {
		return nil, fmt.Errorf("datalayer: set search timeout: %w", err)
	}

	return c, nil
}

// Vars returns the test variables the Client was created with.
func (c *Client) Vars() map[string]any {
	return c.vars
}

// IsCarrierConnected reports whether the SIM card state is "ready".
func (c *Client) IsCarrierConnected(ctx context.Context) (bool, error) {
	v, err := c.sess.ExecuteScript(ctx, "return GaiaDataLayer.cardState()")
	if err != nil {
		return false, fmt.Errorf("datalayer: card state: %w", err)
	}

	c.log.InfoContext(ctx, "card state", "state", v)

	state, _ := v.(string)
	return state == CardReady, nil
}

// AllSettings returns every device setting.
func (c *Client) AllSettings(ctx context.Context) (map[string]any, error) {
	v, err := c.sess.ExecuteAsyncScript(ctx, "GaiaDataLayer.getSetting('*', arguments[arguments.length - 1]);")
	if err != nil {
		return nil, fmt.Errorf("datalayer: all settings: %w", err)
	}

	settings, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("datalayer: all settings: expected object, got %T", v)
	}

	return settings, nil
}

// Setting returns one device setting, or nil when it is unset.
func (c *Client) Setting(ctx context.Context, name string) (any, error) {
	v, err := c.sess.ExecuteAsyncScript(ctx, "GaiaDataLayer.getSetting(arguments[0], arguments[arguments.length - 1]);", name)
	if err != nil {
		return nil, fmt.Errorf("datalayer: setting %s: %w", name, err)
	}
	return v, nil
}

// SetSetting changes one device setting.
func (c *Client) SetSetting(ctx context.Context, name string, value any) error {
	v, err := c.sess.ExecuteAsyncScript(ctx, "GaiaDataLayer.setSetting(arguments[0], arguments[1], arguments[arguments.length - 1]);", name, value)
	if err != nil {
		return fmt.Errorf("datalayer: set setting %s: %w", name, err)
	}
	if ok, _ := v.(bool); !ok {
		return fmt.Errorf("datalayer: set setting %s: rejected", name)
	}
	return nil
}

// IsWiFiEnabled reports whether the wifi radio is on.
func (c *Client) IsWiFiEnabled(ctx context.Context) (bool, error) {
	return c.flag(ctx, "return GaiaDataLayer.isWiFiEnabled()")
}

// IsWiFiConnected reports whether wifi is associated with a network.
func (c *Client) IsWiFiConnected(ctx context.Context) (bool, error) {
	return c.flag(ctx, "return GaiaDataLayer.isWiFiConnected()")
}

func (c *Client) flag(ctx context.Context, js string) (bool, error) {
	v, err := c.sess.ExecuteScript(ctx, js)
	if err != nil {
		return false, fmt.Errorf("datalayer: %w", err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("datalayer: expected boolean, got %T", v)
	}
	return b, nil
}
