package main

import (
	"fmt"

	"github.com/germanamz/devicelab/pkg/debugdir"
	"github.com/germanamz/devicelab/pkg/debugreport"
	"github.com/spf13/cobra"
)

func newDebugCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect diagnostics captured from failed tests",
	}

	cmd.AddCommand(newDebugShowCmd(a), newDebugDiffCmd(a))

	return cmd
}

func newDebugShowCmd(a *app) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "show DIR",
		Short: "Summarize the artifacts in a debug directory",
		Long: `show lists the screenshots, page sources, and settings dumps captured for
one test class, e.g. debug/TestSettings.`,
		Annotations: map[string]string{"config": "skip"},
		Args:        cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			md, err := debugreport.Summarize(debugdir.New(args[0]))
			if err != nil {
				return err
			}

			if raw {
				fmt.Fprint(a.stdout, md)
				return nil
			}
			fmt.Fprintln(a.stdout, renderMarkdown(md, 100))
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without terminal rendering")

	return cmd
}

func newDebugDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "diff A B",
		Short:       "Show a unified diff of two settings dumps",
		Annotations: map[string]string{"config": "skip"},
		Args:        cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			diff, err := debugreport.DiffSettingsFiles(args[0], args[1])
			if err != nil {
				return err
			}

			if diff == "" {
				fmt.Fprintln(a.stdout, dimStyle.Render("settings are identical"))
				return nil
			}
			fmt.Fprint(a.stdout, diff)
			return nil
		},
	}
}
