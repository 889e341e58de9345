// Package sessiontest provides an in-memory session.Session for tests. The
// fake records every call in order and answers scripts from responders
// registered with On.
package sessiontest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/devicelab/pkg/session"
)

// ErrNoSession is returned by operations that need an active session.
var ErrNoSession = errors.New("sessiontest: no active session")

type responder struct {
	match  string
	result any
	err    error
}

// Fake is a scripted session.Session.
type Fake struct {
	mu sync.Mutex

	// Caps is reported while a session is active.
	Caps session.Capabilities
	// Inst is returned by Instance.
	Inst session.Instance

	ScreenshotData string
	ScreenshotErr  error
	Source         string
	SourceErr      error
	FrameErr       error
	WaitErr        error
	StartErr       error
	AsyncErr       error

	// Active reports whether a session is open.
	Active bool

	ScriptTimeout time.Duration
	SearchTimeout time.Duration

	calls      []string
	scripts    []string
	imports    []string
	responders []responder
}

// New returns a Fake with an active session reporting caps.
func New(caps session.Capabilities) *Fake {
	return &Fake{Caps: caps, Active: true}
}

// On answers any script containing match with result and err. Later
// registrations take precedence.
func (f *Fake) On(match string, result any, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.responders = append([]responder{{match: match, result: result, err: err}}, f.responders...)
	return f
}

// Calls returns the recorded operation names in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Scripts returns every executed script in order.
func (f *Fake) Scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scripts...)
}

// Imports returns every imported script module in order.
func (f *Fake) Imports() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.imports...)
}

func (f *Fake) record(op string) {
	f.calls = append(f.calls, op)
}

func (f *Fake) answer(script string) (any, error) {
	for _, r := range f.responders {
		if strings.Contains(script, r.match) {
			return r.result, r.err
		}
	}
	return nil, nil
}

// ExecuteScript implements session.Session.
func (f *Fake) ExecuteScript(_ context.Context, script string, _ ...any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("execute_script")
	f.scripts = append(f.scripts, script)
	if !f.Active {
		return nil, ErrNoSession
	}
	return f.answer(script)
}

// ExecuteAsyncScript implements session.Session.
func (f *Fake) ExecuteAsyncScript(_ context.Context, script string, _ ...any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("execute_async_script")
	f.scripts = append(f.scripts, script)
	if !f.Active {
		return nil, ErrNoSession
	}
	if f.AsyncErr != nil {
		return nil, f.AsyncErr
	}
	return f.answer(script)
}

// ImportScript implements session.Session.
func (f *Fake) ImportScript(js string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("import_script")
	f.imports = append(f.imports, js)
}

// Screenshot implements session.Session.
func (f *Fake) Screenshot(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("screenshot")
	return f.ScreenshotData, f.ScreenshotErr
}

// PageSource implements session.Session.
func (f *Fake) PageSource(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("page_source")
	return f.Source, f.SourceErr
}

// SwitchToFrame implements session.Session.
func (f *Fake) SwitchToFrame(_ context.Context, frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if frame == nil {
		f.record("switch_to_frame:top")
	} else {
		f.record("switch_to_frame")
	}
	return f.FrameErr
}

// Capabilities implements session.Session.
func (f *Fake) Capabilities() session.Capabilities {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("capabilities")
	if !f.Active {
		return nil
	}
	return f.Caps
}

// SetScriptTimeout implements session.Session.
func (f *Fake) SetScriptTimeout(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("set_script_timeout")
	f.ScriptTimeout = d
	return nil
}

// SetSearchTimeout implements session.Session.
func (f *Fake) SetSearchTimeout(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("set_search_timeout")
	f.SearchTimeout = d
	return nil
}

// FindElement implements session.Session.
func (f *Fake) FindElement(_ context.Context, using, value string) (session.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("find_element")
	if !f.Active {
		return session.Element{}, ErrNoSession
	}
	return session.Element{ID: value, Using: using, Value: value}, nil
}

// WaitForPort implements session.Session.
func (f *Fake) WaitForPort(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("wait_for_port")
	return f.WaitErr
}

// StartSession implements session.Session.
func (f *Fake) StartSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("start_session")
	if f.StartErr != nil {
		return f.StartErr
	}
	f.Active = true
	return nil
}

// DeleteSession implements session.Session.
func (f *Fake) DeleteSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("delete_session")
	f.Active = false
	return nil
}

// Disconnect implements session.Session.
func (f *Fake) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("disconnect")
	f.Active = false
}

// Instance implements session.Session.
func (f *Fake) Instance() session.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Inst
}

// Instance is a recording session.Instance.
type Instance struct {
	mu       sync.Mutex
	Starts   int
	Closes   int
	StartErr error
	CloseErr error
}

// Start implements session.Instance.
func (i *Instance) Start(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.Starts++
	return i.StartErr
}

// Close implements session.Instance.
func (i *Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.Closes++
	return i.CloseErr
}
