// Package devicetools exposes a device controller as tools: its status,
// restarting it, taking a screenshot, and pushing files to it. The tools are
// meant to be dispatched through a toolbox.ToolBox, which runs one call at
// a time so device transitions never overlap.
package devicetools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/germanamz/devicelab/pkg/device"
	"github.com/germanamz/devicelab/pkg/session"
	"github.com/germanamz/devicelab/pkg/tools/toolbox"
)

// Status summarises what is known about the device. Probe failures are
// reported per field instead of failing the whole status.
type Status struct {
	State            device.State `json:"state"`
	Platform         string       `json:"platform,omitempty"`
	Physical         *bool        `json:"physical,omitempty"`
	MobileConnection *bool        `json:"mobile_connection,omitempty"`
	Wireless         *bool        `json:"wireless,omitempty"`
	Errors           []string     `json:"errors,omitempty"`
}

// Probe collects the Status of ctl.
func Probe(ctx context.Context, ctl *device.Controller) Status {
	st := Status{State: ctl.State()}
	if caps := ctl.Session().Capabilities(); caps != nil {
		st.Platform = caps.Platform()
	}

	probe := func(name string, fn func() (bool, error)) *bool {
		v, err := fn()
		if err != nil {
			st.Errors = append(st.Errors, fmt.Sprintf("%s: %v", name, err))
			return nil
		}
		return &v
	}

	st.Physical = probe("physical", ctl.IsPhysicalDevice)
	st.MobileConnection = probe("mobile_connection", func() (bool, error) { return ctl.HasMobileConnection(ctx) })
	st.Wireless = probe("wireless", func() (bool, error) { return ctl.HasWireless(ctx) })

	return st
}

// Option configures the tools.
type Option func(*tools)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(t *tools) { t.log = log }
}

type tools struct {
	ctl *device.Controller
	log *slog.Logger
}

// Tools returns the device tools bound to ctl.
func Tools(ctl *device.Controller, opts ...Option) []toolbox.Tool {
	t := &tools{ctl: ctl, log: slog.Default()}
	for _, o := range opts {
		o(t)
	}

	return []toolbox.Tool{
		{
			Name:        "device_status",
			Description: "Report the device state, platform, and radio capabilities.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Handler:     t.status,
		},
		{
			Name:        "device_restart",
			Description: "Stop and start the system under test, then reconnect the session.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Handler:     t.restart,
		},
		{
			Name:        "device_screenshot",
			Description: "Capture a PNG screenshot. Writes it to path when given, otherwise returns it base64 encoded.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Local file to write the PNG to"}}}`),
			Handler:     t.screenshot,
		},
		{
			Name:        "device_push",
			Description: "Push a local file to the device, optionally as count numbered copies.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` +
				`"source":{"type":"string","description":"Local file path"},` +
				`"destination":{"type":"string","description":"Remote directory or file path"},` +
				`"count":{"type":"integer","minimum":1,"description":"Number of copies"}},` +
				`"required":["source","destination"]}`),
			Handler: t.push,
		},
	}
}

// Register adds the device tools for ctl to tb.
func Register(tb *toolbox.ToolBox, ctl *device.Controller, opts ...Option) {
	tb.Register(Tools(ctl, opts...)...)
}

func (t *tools) status(ctx context.Context, _ json.RawMessage) (string, error) {
	out, err := json.Marshal(Probe(ctx, t.ctl))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *tools) restart(ctx context.Context, _ json.RawMessage) (string, error) {
	if err := t.ctl.Restart(ctx); err != nil {
		return "", err
	}
	t.log.InfoContext(ctx, "device restarted via tool")
	return fmt.Sprintf("device %s", t.ctl.State()), nil
}

func (t *tools) screenshot(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := toolbox.Decode(input, &params); err != nil {
		return "", err
	}

	payload, err := t.ctl.Session().Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	payload = session.StripDataURI(payload)

	if params.Path == "" {
		return payload, nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("screenshot: decode: %w", err)
	}
	if err := os.WriteFile(params.Path, data, 0o600); err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}

	return fmt.Sprintf("wrote %d bytes to %s", len(data), params.Path), nil
}

func (t *tools) push(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Count       int    `json:"count"`
	}
	if err := toolbox.Decode(input, &params); err != nil {
		return "", err
	}
	if params.Source == "" || params.Destination == "" {
		return "", fmt.Errorf("source and destination are required")
	}
	if params.Count < 1 {
		params.Count = 1
	}

	if err := t.ctl.DeployFile(ctx, params.Source, params.Count, params.Destination, nil); err != nil {
		return "", err
	}

	target := device.DeployTarget(params.Source, params.Destination)
	if params.Count == 1 {
		return fmt.Sprintf("pushed %s", target), nil
	}
	return fmt.Sprintf("pushed %d copies of %s", params.Count, target), nil
}
