package main

import (
	"context"
	"fmt"

	"github.com/germanamz/devicelab/pkg/device"
	"github.com/spf13/cobra"
)

func newRestartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop and start the system under test",
		Long: `restart stops the system under test, waits for the settle delay
(timeouts.settle), and starts it again. On a physical device the command
returns once the first-run experience or the homescreen has loaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withController(cmd.Context(), func(ctx context.Context, ctl *device.Controller) error {
				if err := ctl.Restart(ctx); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "device %s\n", ctl.State())
				return nil
			})
		},
	}
}
