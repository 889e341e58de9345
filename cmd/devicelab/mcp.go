package main

import (
	"context"
	"errors"

	"github.com/germanamz/devicelab/pkg/device"
	"github.com/germanamz/devicelab/pkg/devicetools"
	"github.com/germanamz/devicelab/pkg/tools/mcpserver"
	"github.com/germanamz/devicelab/pkg/tools/toolbox"
	"github.com/spf13/cobra"
)

const mcpInstructions = `These tools drive one device or desktop build under test.
Calls run one at a time. Use device_status before device_restart or device_push.`

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the device tools over MCP on stdio",
		Long: `mcp connects to the configured system under test and serves
device_status, device_restart, device_screenshot, and device_push to an MCP
client over standard input and output. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withController(cmd.Context(), func(ctx context.Context, ctl *device.Controller) error {
				tb := toolbox.New()
				devicetools.Register(tb, ctl, devicetools.WithLogger(a.log))

				srv := mcpserver.New("devicelab", version,
					mcpserver.WithLogger(a.log),
					mcpserver.WithInstructions(mcpInstructions),
				)
				srv.Register(tb)

				a.log.InfoContext(ctx, "serving mcp", "tools", len(tb.Tools()))

				err := srv.ServeStdio(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}
