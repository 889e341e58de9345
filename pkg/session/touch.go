package session

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed scripts/touch.js
var touchScript string

// w3cElementKey is the W3C WebDriver web element identifier.
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// MarshalJSON encodes e as a W3C web element reference so it can be passed
// as a script argument.
func (e Element) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{w3cElementKey: e.ID})
}

// ElementFromJSON extracts an element id from a W3C or legacy reference.
func ElementFromJSON(v map[string]any) (string, bool) {
	for _, key := range []string{w3cElementKey, "ELEMENT"} {
		if id, ok := v[key].(string); ok {
			return id, true
		}
	}
	return "", false
}

// Touch is the touch-input capability.
type Touch interface {
	SetupTouch(ctx context.Context) error
	Tap(ctx context.Context, el Element) error
	Swipe(ctx context.Context, el Element, dx, dy, steps int) error
}

// TouchSession is a Session with touch input. It is built by composition:
// the embedded Session is unchanged and the touch operations delegate to the
// configured Touch.
type TouchSession struct {
	Session
	Touch
}

// WithTouch composes t onto s. A nil t selects ScriptTouch over s.
func WithTouch(s Session, t Touch) *TouchSession {
	if t == nil {
		t = NewScriptTouch(s)
	}
	return &TouchSession{Session: s, Touch: t}
}

// ScriptTouch synthesises touch events by injecting a script module into the
// session.
type ScriptTouch struct {
	s Scripter
}

// NewScriptTouch creates a ScriptTouch over s.
func NewScriptTouch(s Scripter) *ScriptTouch {
	return &ScriptTouch{s: s}
}

// SetupTouch imports the touch module into the session.
func (t *ScriptTouch) SetupTouch(_ context.Context) error {
	t.s.ImportScript(touchScript)
	return nil
}

// Tap taps the centre of el.
func (t *ScriptTouch) Tap(ctx context.Context, el Element) error {
	if _, err := t.s.ExecuteScript(ctx, "return DeviceTouch.tap(arguments[0]);", el); err != nil {
		return fmt.Errorf("session: tap: %w", err)
	}
	return nil
}

// Swipe drags from the centre of el by (dx, dy) in the given number of steps.
func (t *ScriptTouch) Swipe(ctx context.Context, el Element, dx, dy, steps int) error {
	if steps < 1 {
		steps = 1
	}
	if _, err := t.s.ExecuteScript(ctx, "return DeviceTouch.swipe(arguments[0], arguments[1], arguments[2], arguments[3]);", el, dx, dy, steps); err != nil {
		return fmt.Errorf("session: swipe: %w", err)
	}
	return nil
}

// NoTouch is a Touch that accepts every call and does nothing. It serves
// desktop builds without touch input.
type NoTouch struct{}

// SetupTouch does nothing.
func (NoTouch) SetupTouch(context.Context) error { return nil }

// Tap does nothing.
func (NoTouch) Tap(context.Context, Element) error { return nil }

// Swipe does nothing.
func (NoTouch) Swipe(context.Context, Element, int, int, int) error { return nil }
