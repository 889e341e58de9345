package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/germanamz/devicelab/pkg/devicetools"
	"github.com/germanamz/devicelab/pkg/lifecycle"
	"github.com/spf13/cobra"
)

const defaultCaseName = "smoke.py Smoke.test_smoke"

// errForcedFailure is returned by the smoke body when --fail is set.
var errForcedFailure = errors.New("forced failure")

type runOptions struct {
	name     string
	fail     bool
	restart  bool
	testvars string
	timeout  time.Duration
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a smoke test case against the system under test",
		Long: `run sets up a test case (session, device controller, data layer), probes the
device capabilities, and tears the case down again. When the case fails, a
screenshot, the page source, and a settings dump are written to the debug
directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("restart") {
				a.cfg.Restart = opts.restart
			}
			if opts.testvars != "" {
				a.cfg.TestVars = opts.testvars
			}
			return a.runCase(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.name, "name", defaultCaseName, "fully qualified test name (\"<file> <Class>.<test>\")")
	f.BoolVar(&opts.fail, "fail", false, "fail the test body to exercise diagnostics capture")
	f.BoolVar(&opts.restart, "restart", false, "reset the system under test before the test (overrides config)")
	f.StringVar(&opts.testvars, "testvars", "", "test variables file, JSON with comments (overrides config)")
	f.DurationVar(&opts.timeout, "timeout", 0, "bound the test body; 0 means no bound")

	return cmd
}

func (a *app) runCase(ctx context.Context, opts runOptions) (err error) {
	vars, err := a.loadVars()
	if err != nil {
		return err
	}

	t, err := a.newTarget(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, t.close()) }()

	mws := []lifecycle.Middleware{lifecycle.Logger(a.log)}
	if opts.timeout > 0 {
		mws = append(mws, lifecycle.Timeout(opts.timeout))
	}

	c := lifecycle.New(opts.name, lifecycle.NewSessionBase(t.sess),
		lifecycle.WithRestart(a.cfg.Restart),
		lifecycle.WithVars(vars),
		lifecycle.WithTransport(a.cfg.TransportConfig()),
		lifecycle.WithTimeouts(lifecycle.Timeouts{
			Script: a.cfg.Timeouts.Script,
			Search: a.cfg.Timeouts.Search,
		}),
		lifecycle.WithSettleDelay(a.cfg.Timeouts.Settle),
		lifecycle.WithDebugRoot(a.cfg.DebugDir),
		lifecycle.WithLogger(a.log),
		lifecycle.WithMetrics(a.metrics),
		lifecycle.WithMiddleware(mws...),
	)

	runErr := c.Run(ctx, func(ctx context.Context, c *lifecycle.Case) error {
		st := devicetools.Probe(ctx, c.Device())
		renderStatus(a.stdout, st)

		carrier, err := c.DataLayer().IsCarrierConnected(ctx)
		if err != nil {
			return fmt.Errorf("carrier: %w", err)
		}
		fmt.Fprintf(a.stdout, "carrier connected: %t\n", carrier)

		if opts.fail {
			return errForcedFailure
		}
		return nil
	})

	reportCase(a, c, runErr)

	return runErr
}

func reportCase(a *app, c *lifecycle.Case, err error) {
	if err == nil {
		fmt.Fprintf(a.stdout, "%s %s (run %s)\n", okStyle.Render("PASS"), c.Name(), c.RunID())
		return
	}

	fmt.Fprintf(a.stdout, "%s %s (run %s)\n", errStyle.Render("FAIL"), c.Name(), c.RunID())
	for _, art := range c.Artifacts() {
		fmt.Fprintf(a.stdout, "  %-10s %s\n", art.Kind, dimStyle.Render(art.Path))
	}
}
