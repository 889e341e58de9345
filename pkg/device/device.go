// Package device controls the system under test behind one remote session:
// whether it runs on a physical device or as a desktop build, its radio
// capabilities, starting and stopping it, and pushing files to it.
//
// Facts about the device are computed once per Controller and never
// recomputed, even if the session later reports something different. A new
// session gets a new Controller.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/devicelab/pkg/harnesserr"
	"github.com/germanamz/devicelab/pkg/metrics"
	"github.com/germanamz/devicelab/pkg/session"
	"github.com/germanamz/devicelab/pkg/transport"
)

const (
	// DefaultPlatformMarker identifies a device platform in the session's
	// platform capability. Matching is case-insensitive.
	DefaultPlatformMarker = "android"

	// DefaultService is the on-device system service started and stopped
	// by Start and Stop.
	DefaultService = "b2g"

	// DefaultSettleDelay separates stop and start in Restart.
	DefaultSettleDelay = 2 * time.Second

	// ReadyScriptTimeout is the script timeout applied while waiting for a
	// physical device's UI to finish loading.
	ReadyScriptTimeout = 60 * time.Second
)

// ErrNoCapabilities is returned when the session reports no capabilities,
// which happens when no session is active.
var ErrNoCapabilities = errors.New("device: session reports no capabilities")

// readyScript completes once the first-run experience or the homescreen has
// finished loading.
const readyScript = `var done = arguments[arguments.length - 1];
window.addEventListener('mozbrowserloadend', function loaded(aEvent) {
  if (aEvent.target.src.indexOf('ftu') != -1 || aEvent.target.src.indexOf('homescreen') != -1) {
    window.removeEventListener('mozbrowserloadend', loaded);
    done();
  }
});`

const (
	mobileConnectionProbe = "return window.navigator.mozMobileConnection !== undefined"
	wirelessProbe         = "return window.navigator.mozWifiManager !== undefined"
)

// Resolver builds a transport backend from configuration.
type Resolver func(cfg transport.Config) (transport.Backend, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Controller.
type Option func(*Controller)

// WithTransport sets the transport configuration used by TransportBackend.
func WithTransport(cfg transport.Config) Option {
	return func(c *Controller) { c.transportCfg = cfg }
}

// WithResolver replaces transport.Resolve.
func WithResolver(r Resolver) Option {
	return func(c *Controller) { c.resolve = r }
}

// WithPlatformMarker replaces DefaultPlatformMarker.
func WithPlatformMarker(marker string) Option {
	return func(c *Controller) { c.marker = marker }
}

// WithService replaces DefaultService.
func WithService(name string) Option {
	return func(c *Controller) { c.service = name }
}

// WithSettleDelay replaces DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) { c.settle = d }
}

// WithSleep replaces the context-aware sleep used by Restart.
func WithSleep(fn SleepFunc) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithMetrics records transitions and deploy copies.
func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller wraps one remote session. Transitions must not run
// concurrently; callers sequence them.
type Controller struct {
	sess         session.Session
	transportCfg transport.Config
	resolve      Resolver
	marker       string
	service      string
	settle       time.Duration
	sleep        SleepFunc
	log          *slog.Logger
	metrics      *metrics.Recorder

	physical cell[bool]
	backend  cell[transport.Backend]
	wireless cell[bool]

	mu    sync.Mutex
	state State
}

// New creates a Controller over sess. Nothing is queried until first use.
func New(sess session.Session, opts ...Option) *Controller {
	c := &Controller{
		sess:    sess,
		resolve: transport.Resolve,
		marker:  DefaultPlatformMarker,
		service: DefaultService,
		settle:  DefaultSettleDelay,
		sleep:   sleepContext,
		log:     slog.Default(),
		state:   StateUnknown,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session returns the wrapped session.
func (c *Controller) Session() session.Session {
	return c.sess
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// IsPhysicalDevice reports whether the session's platform names a device.
// The first successful answer is kept for the Controller's lifetime.
func (c *Controller) IsPhysicalDevice() (bool, error) {
	return c.physical.get(func() (bool, error) {
		caps := c.sess.Capabilities()
		if caps == nil {
			return false, ErrNoCapabilities
		}
		platform := strings.ToLower(caps.Platform())
		return strings.Contains(platform, strings.ToLower(c.marker)), nil
	})
}

// TransportBackend returns the device transport, resolving it on first use.
// It fails with harnesserr.ErrDeviceUnavailable when the session is not a
// device; that failure is not cached.
func (c *Controller) TransportBackend() (transport.Backend, error) {
	return c.backend.get(func() (transport.Backend, error) {
		physical, err := c.IsPhysicalDevice()
		if err != nil {
			return nil, err
		}
		if !physical {
			return nil, harnesserr.ErrDeviceUnavailable
		}
		b, err := c.resolve(c.transportCfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
}

// HasMobileConnection probes for the mobile connection API. It is checked on
// every call.
func (c *Controller) HasMobileConnection(ctx context.Context) (bool, error) {
	return c.probe(ctx, mobileConnectionProbe)
}

// HasWireless probes for the wifi manager API. The first successful answer is
// kept.
func (c *Controller) HasWireless(ctx context.Context) (bool, error) {
	return c.wireless.get(func() (bool, error) {
		return c.probe(ctx, wirelessProbe)
	})
}

func (c *Controller) probe(ctx context.Context, script string) (bool, error) {
	v, err := c.sess.ExecuteScript(ctx, script)
	if err != nil {
		return false, fmt.Errorf("device: probe: %w", err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("device: probe: expected boolean, got %T", v)
	}
	return b, nil
}

// Close releases a resolved transport backend.
func (c *Controller) Close() error {
	if !c.backend.cached() {
		return nil
	}
	b, _ := c.backend.get(nil)
	if b == nil {
		return nil
	}
	return b.Close()
}
