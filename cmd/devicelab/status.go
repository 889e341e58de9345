package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/germanamz/devicelab/pkg/device"
	"github.com/germanamz/devicelab/pkg/devicetools"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the device state and capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != "table" && output != "json" {
				return fmt.Errorf("invalid output format %q (want table or json)", output)
			}

			return a.withController(cmd.Context(), func(ctx context.Context, ctl *device.Controller) error {
				st := devicetools.Probe(ctx, ctl)
				if output == "json" {
					return writeJSON(a.stdout, st)
				}
				renderStatus(a.stdout, st)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or json")

	return cmd
}

// renderStatus prints st as a property table followed by any probe errors.
func renderStatus(w io.Writer, st devicetools.Status) {
	platform := st.Platform
	if platform == "" {
		platform = dimStyle.Render("unknown")
	}

	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	_ = table.Append([]string{"State", string(st.State)})
	_ = table.Append([]string{"Platform", platform})
	_ = table.Append([]string{"Physical device", yesNo(st.Physical)})
	_ = table.Append([]string{"Mobile connection", yesNo(st.MobileConnection)})
	_ = table.Append([]string{"Wireless", yesNo(st.Wireless)})
	_ = table.Render()

	for _, e := range st.Errors {
		fmt.Fprintf(w, "%s %s\n", errStyle.Render("!"), truncate(e, 120))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
