// Package lifecycle runs a test case against the system under test: it
// prepares the session, device controller, and data layer before the test
// body, and after a failing body it writes a screenshot, the page source,
// and a settings dump next to the test report before closing the session.
//
// A Case is used by one test at a time.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/germanamz/devicelab/pkg/datalayer"
	"github.com/germanamz/devicelab/pkg/device"
	"github.com/germanamz/devicelab/pkg/metrics"
	"github.com/germanamz/devicelab/pkg/session"
	"github.com/germanamz/devicelab/pkg/testvars"
	"github.com/germanamz/devicelab/pkg/transport"
	"github.com/google/uuid"
)

// WipeDirs are removed from a physical device during a reset so the system
// starts without persisted state.
var WipeDirs = []string{"/data/local/indexedDB", "/data/b2g/mozilla"}

// Timeouts are applied to the session at the end of SetUp.
type Timeouts struct {
	Script time.Duration
	Search time.Duration
}

// DefaultTimeouts returns the script and search timeouts used when none are
// configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{Script: 60 * time.Second, Search: 10 * time.Second}
}

// Option configures a Case.
type Option func(*Case)

// WithRestart resets the system under test during SetUp.
func WithRestart(restart bool) Option {
	return func(c *Case) { c.restart = restart }
}

// WithVars sets the test variables.
func WithVars(v testvars.Vars) Option {
	return func(c *Case) { c.vars = v }
}

// WithTransport sets the device transport configuration.
func WithTransport(cfg transport.Config) Option {
	return func(c *Case) { c.transportCfg = cfg }
}

// WithTouch selects the touch implementation. The default synthesises touch
// events through scripts.
func WithTouch(t session.Touch) Option {
	return func(c *Case) { c.touch = t }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Case) { c.log = log }
}

// WithMetrics records setup durations, artifacts, and device transitions.
func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Case) { c.metrics = m }
}

// WithDebugRoot sets the diagnostics parent used when the test variables
// name no XML report.
func WithDebugRoot(root string) Option {
	return func(c *Case) { c.debugRoot = root }
}

// WithTimeouts replaces DefaultTimeouts.
func WithTimeouts(t Timeouts) Option {
	return func(c *Case) { c.timeouts = t }
}

// WithSettleDelay sets the pause between stop and start of a device restart.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Case) { c.deviceOpts = append(c.deviceOpts, device.WithSettleDelay(d)) }
}

// WithSleep replaces the sleep used by device restarts.
func WithSleep(fn device.SleepFunc) Option {
	return func(c *Case) { c.deviceOpts = append(c.deviceOpts, device.WithSleep(fn)) }
}

// WithDeviceOptions passes extra options to the device controller.
func WithDeviceOptions(opts ...device.Option) Option {
	return func(c *Case) { c.deviceOpts = append(c.deviceOpts, opts...) }
}

// WithMiddleware wraps the test body in Run. Recovery is always applied
// outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(c *Case) { c.middleware = append(c.middleware, mws...) }
}

// Case is one test case bound to a base session.
type Case struct {
	name  string
	class string
	test  string
	runID string

	base         Base
	restart      bool
	vars         testvars.Vars
	transportCfg transport.Config
	touch        session.Touch
	log          *slog.Logger
	metrics      *metrics.Recorder
	debugRoot    string
	timeouts     Timeouts
	deviceOpts   []device.Option
	middleware   []Middleware

	sess      *session.TouchSession
	device    *device.Controller
	dataLayer *datalayer.Client
	artifacts []DiagnosticArtifact
}

// New creates a Case for the test named name, in the runner's
// "<...> <package>.<Class>.<test>" form.
func New(name string, base Base, opts ...Option) *Case {
	class, test := ParseTestName(name)

	c := &Case{
		name:     name,
		class:    class,
		test:     test,
		runID:    uuid.NewString(),
		base:     base,
		vars:     testvars.Vars{},
		log:      slog.Default(),
		timeouts: DefaultTimeouts(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("run", c.runID, "test", c.test)

	return c
}

// ParseTestName splits a runner test name into its class and test parts,
// taken from the last two dot-separated segments of the last
// whitespace-separated field. A name without a dot has no class.
func ParseTestName(name string) (class, test string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}

	parts := strings.Split(fields[len(fields)-1], ".")
	if len(parts) < 2 {
		return "", parts[0]
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}

// Name returns the full test name.
func (c *Case) Name() string { return c.name }

// Class returns the test class parsed from the name.
func (c *Case) Class() string { return c.class }

// Test returns the test method parsed from the name.
func (c *Case) Test() string { return c.test }

// RunID returns the correlation id attached to every log line of the Case.
func (c *Case) RunID() string { return c.runID }

// Vars returns the test variables.
func (c *Case) Vars() testvars.Vars { return c.vars }

// Session returns the touch-capable session, or nil outside SetUp and
// TearDown.
func (c *Case) Session() *session.TouchSession { return c.sess }

// Device returns the device controller, or nil outside SetUp and TearDown.
func (c *Case) Device() *device.Controller { return c.device }

// DataLayer returns the data layer, or nil outside SetUp and TearDown.
func (c *Case) DataLayer() *datalayer.Client { return c.dataLayer }

// SetUp prepares the case. Any error aborts the test.
func (c *Case) SetUp(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if err == nil {
			c.metrics.Setup(time.Since(start))
		}
	}()

	if err := c.base.SetUp(ctx); err != nil {
		return fmt.Errorf("lifecycle: setup: %w", err)
	}

	c.sess = session.WithTouch(c.base.Session(), c.touch)

	c.dataLayer, err = datalayer.New(ctx, c.sess, nil, datalayer.WithLogger(c.log))
	if err != nil {
		return fmt.Errorf("lifecycle: setup: %w", err)
	}

	opts := append([]device.Option{
		device.WithTransport(c.transportCfg),
		device.WithLogger(c.log),
		device.WithMetrics(c.metrics),
	}, c.deviceOpts...)
	c.device = device.New(c.sess, opts...)

	if c.restart {
		if err := c.reset(ctx); err != nil {
			return fmt.Errorf("lifecycle: setup: %w", err)
		}
	}

	if err := c.sess.SetupTouch(ctx); err != nil {
		return fmt.Errorf("lifecycle: setup: touch: %w", err)
	}

	if err := c.sess.SetScriptTimeout(ctx, c.timeouts.Script); err != nil {
		return fmt.Errorf("lifecycle: setup: script timeout: %w", err)
	}
	if err := c.sess.SetSearchTimeout(ctx, c.timeouts.Search); err != nil {
		return fmt.Errorf("lifecycle: setup: search timeout: %w", err)
	}

	c.dataLayer, err = datalayer.New(ctx, c.sess, c.vars, datalayer.WithLogger(c.log))
	if err != nil {
		return fmt.Errorf("lifecycle: setup: %w", err)
	}

	c.log.InfoContext(ctx, "setup complete", "duration", time.Since(start))

	return nil
}

// reset stops the system, wipes persisted state on a physical device, and
// starts it again. Desktop builds without an in-process instance are left
// alone.
func (c *Case) reset(ctx context.Context) error {
	physical, err := c.device.IsPhysicalDevice()
	if err != nil {
		return err
	}
	if !physical && c.sess.Instance() == nil {
		c.log.InfoContext(ctx, "reset skipped", "reason", "no device or instance")
		return nil
	}

	c.log.InfoContext(ctx, "resetting", "physical", physical)

	if err := c.device.Stop(ctx); err != nil {
		return err
	}

	if physical {
		backend, err := c.device.TransportBackend()
		if err != nil {
			return err
		}
		for _, dir := range WipeDirs {
			if err := backend.RemoveDir(ctx, dir); err != nil {
				return fmt.Errorf("wipe %s: %w", dir, err)
			}
		}
	}

	return c.device.Start(ctx)
}

// TearDown finishes the case. When testErr is non-nil the diagnostics are
// captured first; capture failures are logged and never returned. The
// returned error only reports cleanup failures.
func (c *Case) TearDown(ctx context.Context, testErr error) error {
	if testErr != nil {
		c.captureDiagnostics(ctx)
	}

	c.dataLayer = nil

	var errs []error
	if err := c.base.TearDown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("lifecycle: teardown: %w", err))
	}
	if c.device != nil {
		if err := c.device.Close(); err != nil {
			errs = append(errs, fmt.Errorf("lifecycle: teardown: %w", err))
		}
	}
	c.device = nil
	c.sess = nil

	return errors.Join(errs...)
}

// Run executes SetUp, body, and TearDown. TearDown always runs, also when
// SetUp fails or body panics, and is not cancelled with ctx. The test error
// comes first in the result, followed by any cleanup error.
func (c *Case) Run(ctx context.Context, body Body) error {
	testErr := c.SetUp(ctx)
	if testErr == nil {
		mws := append([]Middleware{Recovery()}, c.middleware...)
		testErr = Chain(body, mws...)(ctx, c)
	}

	cleanupErr := c.TearDown(context.WithoutCancel(ctx), testErr)

	return errors.Join(testErr, cleanupErr)
}
