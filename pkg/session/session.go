// Package session defines the remote-control session consumed by the device
// controller, the data layer, and the lifecycle manager. Concrete clients live
// in the webdriver and cdp subpackages; this package only names the operations
// the harness relies on and composes the touch-input capability onto them.
package session

import (
	"context"
	"strings"
	"time"
)

// DataURIPrefix is prepended by some backends to base64 screenshot payloads.
const DataURIPrefix = "data:image/png;base64,"

// Capabilities is the metadata a remote end reports for a session.
type Capabilities map[string]any

// Platform returns the reported platform, preferring the legacy "platform"
// key over the W3C "platformName" key.
func (c Capabilities) Platform() string {
	for _, key := range []string{"platform", "platformName"} {
		if v, ok := c[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Element references a node found by FindElement.
type Element struct {
	ID    string
	Using string
	Value string
}

// Instance is a locally spawned copy of the system under test.
type Instance interface {
	Start(ctx context.Context) error
	Close() error
}

// Scripter executes scripts inside the remote end.
type Scripter interface {
	// ExecuteScript runs script synchronously and returns its result.
	ExecuteScript(ctx context.Context, script string, args ...any) (any, error)
	// ExecuteAsyncScript runs script and waits for it to invoke its
	// completion callback, up to the configured script timeout.
	ExecuteAsyncScript(ctx context.Context, script string, args ...any) (any, error)
	// ImportScript makes js available to every subsequent script.
	ImportScript(js string)
}

// Capturer extracts diagnostic state from the remote end.
type Capturer interface {
	// Screenshot returns a base64 PNG, possibly prefixed with DataURIPrefix.
	Screenshot(ctx context.Context) (string, error)
	// PageSource returns the current document markup.
	PageSource(ctx context.Context) (string, error)
	// SwitchToFrame makes frame the active browsing context; nil selects the
	// top-level frame.
	SwitchToFrame(ctx context.Context, frame any) error
}

// Session is the live control channel to the system under test.
type Session interface {
	Scripter
	Capturer

	// Capabilities returns the capabilities of the active session, or nil
	// when no session is active.
	Capabilities() Capabilities
	// SetScriptTimeout bounds asynchronous script execution.
	SetScriptTimeout(ctx context.Context, d time.Duration) error
	// SetSearchTimeout bounds implicit waits in element queries.
	SetSearchTimeout(ctx context.Context, d time.Duration) error
	// FindElement locates a single element.
	FindElement(ctx context.Context, using, value string) (Element, error)

	// WaitForPort blocks until the remote control port accepts connections.
	WaitForPort(ctx context.Context) error
	// StartSession establishes a fresh session.
	StartSession(ctx context.Context) error
	// DeleteSession ends the active session on the remote end.
	DeleteSession(ctx context.Context) error
	// Disconnect closes the client connection and clears the session and
	// window handles without contacting the remote end.
	Disconnect()
	// Instance returns the in-process instance, or nil.
	Instance() Instance
}

// StripDataURI removes DataURIPrefix from a screenshot payload if present.
func StripDataURI(payload string) string {
	if strings.HasPrefix(payload, DataURIPrefix) {
		return payload[len(DataURIPrefix):]
	}
	return payload
}
