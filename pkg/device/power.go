package device

import (
	"context"
	"fmt"

	"github.com/germanamz/devicelab/pkg/harnesserr"
)

// mechanism is how the system under test is started or stopped.
type mechanism int

const (
	viaNone mechanism = iota
	viaInstance
	viaDevice
)

func (c *Controller) mechanism() (mechanism, error) {
	if c.sess.Instance() != nil {
		return viaInstance, nil
	}
	physical, err := c.IsPhysicalDevice()
	if err != nil {
		return viaNone, err
	}
	if physical {
		return viaDevice, nil
	}
	return viaNone, nil
}

// shellService runs "<verb> <service>" over the device transport.
func (c *Controller) shellService(ctx context.Context, verb string) error {
	backend, err := c.TransportBackend()
	if err != nil {
		return fmt.Errorf("device: %s: %w", verb, err)
	}
	if _, err := backend.Shell(ctx, verb, c.service); err != nil {
		return fmt.Errorf("device: %s %s: %w", verb, c.service, err)
	}
	return nil
}

// Start launches the system under test, waits for its control port, and
// opens a fresh session. On a physical device it then waits, bounded by
// ReadyScriptTimeout, for the homescreen or first-run UI to load.
//
// A failed Start leaves the state unchanged.
func (c *Controller) Start(ctx context.Context) (err error) {
	defer func() { c.metrics.Transition("start", err) }()

	if err := validateTransition(c.State(), StateRunning); err != nil {
		return err
	}

	via, err := c.mechanism()
	if err != nil {
		return fmt.Errorf("device: start: %w", err)
	}

	switch via {
	case viaInstance:
		if err := c.sess.Instance().Start(ctx); err != nil {
			return fmt.Errorf("device: start instance: %w", err)
		}
	case viaDevice:
		if err := c.shellService(ctx, "start"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("device: %w %s", harnesserr.ErrStartup, c.service)
	}

	if err := c.sess.WaitForPort(ctx); err != nil {
		return fmt.Errorf("device: start: %w", err)
	}
	if err := c.sess.StartSession(ctx); err != nil {
		return fmt.Errorf("device: start: %w", err)
	}

	if via == viaDevice {
		if err := c.sess.SetScriptTimeout(ctx, ReadyScriptTimeout); err != nil {
			return fmt.Errorf("device: start: %w", err)
		}
		if _, err := c.sess.ExecuteAsyncScript(ctx, readyScript); err != nil {
			return fmt.Errorf("device: wait for ui: %w", err)
		}
	}

	c.setState(StateRunning)
	c.log.InfoContext(ctx, "device started", "service", c.service, "instance", via == viaInstance)

	return nil
}

// Stop shuts the system under test down. Whenever a stop mechanism exists
// the session connection is closed and its handles cleared afterwards, even
// if stopping failed.
func (c *Controller) Stop(ctx context.Context) (err error) {
	defer func() { c.metrics.Transition("stop", err) }()

	if err := validateTransition(c.State(), StateStopped); err != nil {
		return err
	}

	via, err := c.mechanism()
	if err != nil {
		return fmt.Errorf("device: stop: %w", err)
	}

	switch via {
	case viaInstance:
		err = c.sess.Instance().Close()
		if err != nil {
			err = fmt.Errorf("device: stop instance: %w", err)
		}
	case viaDevice:
		err = c.shellService(ctx, "stop")
	default:
		return fmt.Errorf("device: %w %s", harnesserr.ErrShutdown, c.service)
	}

	c.sess.Disconnect()

	if err != nil {
		return err
	}

	c.setState(StateStopped)
	c.log.InfoContext(ctx, "device stopped", "service", c.service, "instance", via == viaInstance)

	return nil
}

// Restart stops the system under test, waits the settle delay, and starts it
// again. It is not atomic: if the start fails the device stays stopped.
// When no start mechanism exists it fails with harnesserr.ErrStartup before
// stopping anything.
func (c *Controller) Restart(ctx context.Context) (err error) {
	defer func() { c.metrics.Transition("restart", err) }()

	via, err := c.mechanism()
	if err != nil {
		return fmt.Errorf("device: restart: %w", err)
	}
	if via == viaNone {
		return fmt.Errorf("device: %w %s", harnesserr.ErrStartup, c.service)
	}

	if err := c.Stop(ctx); err != nil {
		return err
	}
	if err := c.sleep(ctx, c.settle); err != nil {
		return fmt.Errorf("device: restart: %w", err)
	}
	return c.Start(ctx)
}
