package lifecycle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/germanamz/devicelab/pkg/debugdir"
	"github.com/germanamz/devicelab/pkg/session"
)

var errNoSession = errors.New("lifecycle: no session")

// DiagnosticArtifact is a file written by TearDown after a failure.
type DiagnosticArtifact struct {
	Kind    debugdir.Kind
	Path    string
	Payload []byte
}

type capture struct {
	kind debugdir.Kind
	run  func(ctx context.Context) ([]byte, error)
}

// Artifacts returns the diagnostics written by the last TearDown.
func (c *Case) Artifacts() []DiagnosticArtifact {
	return append([]DiagnosticArtifact(nil), c.artifacts...)
}

// DebugDir returns the directory diagnostics are written to.
func (c *Case) DebugDir() debugdir.Dir {
	return debugdir.ForTest(c.vars.XMLOutput(), c.debugRoot, c.class)
}

func (c *Case) captures() []capture {
	return []capture{
		{kind: debugdir.KindScreenshot, run: c.captureScreenshot},
		{kind: debugdir.KindPageSource, run: c.capturePageSource},
		{kind: debugdir.KindSettings, run: c.captureSettings},
	}
}

// captureDiagnostics writes every artifact it can. Failures are logged per
// artifact and the remaining captures still run.
func (c *Case) captureDiagnostics(ctx context.Context) {
	c.artifacts = nil

	dir := c.DebugDir()
	if err := dir.Ensure(); err != nil {
		c.log.ErrorContext(ctx, "diagnostics skipped", "dir", dir.Root(), "error", err)
		return
	}

	for _, cp := range c.captures() {
		p := dir.Path(c.test, cp.kind)

		data, err := cp.run(ctx)
		if err == nil {
			err = os.WriteFile(p, data, 0o600)
		}
		c.metrics.Artifact(string(cp.kind), err)

		if err != nil {
			c.log.ErrorContext(ctx, "diagnostic capture failed",
				"kind", cp.kind,
				"path", p,
				"error", err,
			)
			continue
		}

		c.artifacts = append(c.artifacts, DiagnosticArtifact{Kind: cp.kind, Path: p, Payload: data})
		c.log.InfoContext(ctx, "diagnostic captured", "kind", cp.kind, "path", p)
	}
}

// activeSession returns the composed session, falling back to the raw base
// session when SetUp failed before composing it.
func (c *Case) activeSession() session.Session {
	if c.sess != nil {
		return c.sess
	}
	return c.base.Session()
}

func (c *Case) captureScreenshot(ctx context.Context) ([]byte, error) {
	sess := c.activeSession()
	if sess == nil {
		return nil, errNoSession
	}

	payload, err := sess.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(session.StripDataURI(payload))
	if err != nil {
		return nil, fmt.Errorf("screenshot: decode: %w", err)
	}

	return data, nil
}

func (c *Case) capturePageSource(ctx context.Context) ([]byte, error) {
	sess := c.activeSession()
	if sess == nil {
		return nil, errNoSession
	}

	src, err := sess.PageSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("page source: %w", err)
	}

	return []byte(src), nil
}

// captureSettings leaves any application frame before reading the settings,
// since the data layer lives in the top-level frame.
func (c *Case) captureSettings(ctx context.Context) ([]byte, error) {
	sess := c.activeSession()
	if sess == nil {
		return nil, errNoSession
	}
	if c.dataLayer == nil {
		return nil, errors.New("lifecycle: no data layer")
	}

	if err := sess.SwitchToFrame(ctx, nil); err != nil {
		return nil, fmt.Errorf("switch to top frame: %w", err)
	}

	settings, err := c.dataLayer.AllSettings(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("settings: encode: %w", err)
	}

	return data, nil
}
