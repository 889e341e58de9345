package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/germanamz/devicelab/pkg/config"
	"github.com/germanamz/devicelab/pkg/device"
	"github.com/germanamz/devicelab/pkg/instance"
	"github.com/germanamz/devicelab/pkg/session"
	"github.com/germanamz/devicelab/pkg/session/cdp"
	"github.com/germanamz/devicelab/pkg/session/webdriver"
	"github.com/germanamz/devicelab/pkg/testvars"
)

// target is the configured system under test: the remote session and, for
// desktop builds, the process behind it.
type target struct {
	sess session.Session
	inst *instance.Instance
}

// newTarget builds the session described by the configuration and starts the
// in-process instance, if one is configured. Nothing is connected yet.
func (a *app) newTarget(ctx context.Context) (*target, error) {
	t := &target{}

	if bin := a.cfg.Instance.Binary; bin != "" {
		t.inst = instance.New(bin, a.cfg.Instance.Args, instance.WithLogger(a.log))
	}

	sc := a.cfg.Session
	switch sc.Backend {
	case config.BackendCDP:
		opts := []cdp.Option{cdp.WithPortWait(sc.PortWait), cdp.WithLogger(a.log)}
		if t.inst != nil {
			opts = append(opts, cdp.WithInstance(t.inst))
		}
		t.sess = cdp.New(ctx, sc.URL, opts...)
	default:
		opts := []webdriver.Option{
			webdriver.WithPortWait(sc.PortWait),
			webdriver.WithCapabilities(sc.Capabilities),
			webdriver.WithLogger(a.log),
		}
		if t.inst != nil {
			opts = append(opts, webdriver.WithInstance(t.inst))
		}
		t.sess = webdriver.New(sc.URL, opts...)
	}

	if t.inst != nil {
		if err := t.inst.Start(ctx); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// connect waits for the remote port and starts a session.
func (t *target) connect(ctx context.Context) error {
	if err := t.sess.WaitForPort(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := t.sess.StartSession(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// close drops the client connection and terminates the instance.
func (t *target) close() error {
	t.sess.Disconnect()
	if t.inst != nil {
		return t.inst.Close()
	}
	return nil
}

func (a *app) newController(sess session.Session) *device.Controller {
	return device.New(sess,
		device.WithTransport(a.cfg.TransportConfig()),
		device.WithSettleDelay(a.cfg.Timeouts.Settle),
		device.WithLogger(a.log),
		device.WithMetrics(a.metrics),
	)
}

// withController connects to the target, runs fn with a controller over the
// session, and always cleans up afterwards.
func (a *app) withController(ctx context.Context, fn func(ctx context.Context, ctl *device.Controller) error) (err error) {
	t, err := a.newTarget(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, t.close()) }()

	if err := t.connect(ctx); err != nil {
		return err
	}

	ctl := a.newController(t.sess)
	defer func() {
		cleanup := context.WithoutCancel(ctx)
		err = errors.Join(err, t.sess.DeleteSession(cleanup), ctl.Close())
	}()

	return fn(ctx, ctl)
}

// loadVars reads the configured test variables. No file means no variables.
func (a *app) loadVars() (testvars.Vars, error) {
	return testvars.Load(a.cfg.TestVars)
}
