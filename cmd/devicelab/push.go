package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/germanamz/devicelab/pkg/device"
	"github.com/spf13/cobra"
)

// defaultPushDestination receives pushed files when no DEST is given.
const defaultPushDestination = "/sdcard"

const maxBarWidth = 60

// copyDoneMsg reports that numbered copy n exists on the device.
type copyDoneMsg struct{ n int }

// pushDoneMsg reports the end of the deployment.
type pushDoneMsg struct{ err error }

// pushModel renders the copy progress of one deployment.
type pushModel struct {
	label     string
	total     int
	done      int
	finished  bool
	cancelled bool
	err       error
	bar       progress.Model
}

func newPushModel(label string, total int) pushModel {
	return pushModel{
		label: label,
		total: total,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m pushModel) Init() tea.Cmd { return nil }

func (m pushModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancelled = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-4, maxBarWidth)
	case copyDoneMsg:
		m.done = msg.n
	case pushDoneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m pushModel) percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return float64(m.done) / float64(m.total)
}

func (m pushModel) View() string {
	status := fmt.Sprintf("%d/%d", m.done, m.total)
	switch {
	case m.finished && m.err != nil:
		status = errStyle.Render("failed")
	case m.finished:
		status = okStyle.Render("done")
	case m.cancelled:
		status = dimStyle.Render("cancelled")
	}
	return fmt.Sprintf("%s\n%s %s\n", truncate(m.label, maxBarWidth), m.bar.ViewAs(m.percent()), status)
}

type pushOptions struct {
	count      int
	noProgress bool
}

func newPushCmd(a *app) *cobra.Command {
	var opts pushOptions

	cmd := &cobra.Command{
		Use:   "push SRC [DEST]",
		Short: "Push a file to the device",
		Long: `push copies SRC to DEST on the device (default /sdcard). A DEST without
any '.' is a directory and receives SRC's base name. With --count N the
pushed file is duplicated on the device into N numbered copies.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.count < 1 {
				return fmt.Errorf("invalid count %d (must be at least 1)", opts.count)
			}

			src, dest := args[0], defaultPushDestination
			if len(args) == 2 {
				dest = args[1]
			}

			return a.withController(cmd.Context(), func(ctx context.Context, ctl *device.Controller) error {
				if err := a.push(ctx, ctl, src, dest, opts); err != nil {
					return err
				}
				if opts.count > 1 {
					fmt.Fprintf(a.stdout, "pushed %d copies of %s\n", opts.count, device.DeployTarget(src, dest))
				} else {
					fmt.Fprintf(a.stdout, "pushed %s\n", device.DeployTarget(src, dest))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "number of numbered copies to create on the device")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")

	return cmd
}

// push deploys src, showing a progress bar while numbered copies are made.
func (a *app) push(ctx context.Context, ctl *device.Controller, src, dest string, opts pushOptions) error {
	if opts.count <= 1 || opts.noProgress {
		return ctl.DeployFile(ctx, src, opts.count, dest, nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newPushModel(device.DeployTarget(src, dest), opts.count), tea.WithOutput(a.stdout))

	errc := make(chan error, 1)
	go func() {
		err := ctl.DeployFile(ctx, src, opts.count, dest, func(n int) {
			p.Send(copyDoneMsg{n: n})
		})
		errc <- err
		p.Send(pushDoneMsg{err: err})
	}()

	final, runErr := p.Run()
	if m, ok := final.(pushModel); ok && m.cancelled {
		cancel()
	}

	err := <-errc
	if runErr != nil && err == nil {
		return fmt.Errorf("progress: %w", runErr)
	}
	return err
}
