package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/germanamz/devicelab/pkg/config"
	"github.com/germanamz/devicelab/pkg/transport"
	"github.com/spf13/cobra"
)

// wizardAnswers holds the raw form values. Numbers and durations stay text
// until buildConfig parses them.
type wizardAnswers struct {
	Kind     string
	Host     string
	Port     string
	Serial   string
	Backend  string
	URL      string
	Binary   string
	Args     string
	Restart  bool
	DebugDir string
	Settle   string
}

func defaultAnswers() wizardAnswers {
	d := config.Default()
	return wizardAnswers{
		Kind:     d.Transport.Kind,
		Port:     strconv.Itoa(d.Transport.Port),
		Backend:  d.Session.Backend,
		URL:      d.Session.URL,
		DebugDir: d.DebugDir,
		Settle:   d.Timeouts.Settle.String(),
	}
}

func newInitCmd(a *app) *cobra.Command {
	var (
		output   string
		force    bool
		defaults bool
	)

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a starter configuration file",
		Annotations: map[string]string{"config": "skip"},
		Args:        cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if !force {
				if _, err := os.Stat(output); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", output)
				}
			}

			ans := defaultAnswers()
			if !defaults {
				if err := runWizard(&ans); err != nil {
					return err
				}
			}

			if err := writeConfig(output, ans); err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", defaultConfigFile, "file to write")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "write the defaults without prompting")

	return cmd
}

func runWizard(ans *wizardAnswers) error {
	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Device transport").
				Options(
					huh.NewOption("Local cable (adb)", string(transport.KindADB)),
					huh.NewOption("Remote host (sut agent)", string(transport.KindSUT)),
				).
				Value(&ans.Kind),
			huh.NewSelect[string]().
				Title("Remote-control backend").
				Options(
					huh.NewOption("WebDriver", config.BackendWebDriver),
					huh.NewOption("Chrome DevTools", config.BackendCDP),
				).
				Value(&ans.Backend),
			huh.NewInput().
				Title("Remote-control URL").
				Value(&ans.URL).
				Validate(requireText("URL")),
		),
	).Run(); err != nil {
		return err
	}

	var transportGroup *huh.Group
	if ans.Kind == string(transport.KindSUT) {
		transportGroup = huh.NewGroup(
			huh.NewInput().Title("Device host").Value(&ans.Host).Validate(requireText("host")),
			huh.NewInput().Title("Agent port").Value(&ans.Port).Validate(validatePort),
		)
	} else {
		transportGroup = huh.NewGroup(
			huh.NewInput().Title("Device serial (empty for the only device)").Value(&ans.Serial),
		)
	}

	return huh.NewForm(
		transportGroup,
		huh.NewGroup(
			huh.NewInput().Title("Desktop build to spawn (empty for none)").Value(&ans.Binary),
			huh.NewInput().Title("Desktop build arguments").Value(&ans.Args),
			huh.NewConfirm().Title("Reset the system before each test?").Value(&ans.Restart),
			huh.NewInput().Title("Restart settle delay").Value(&ans.Settle).Validate(validateDuration),
			huh.NewInput().Title("Debug output directory").Value(&ans.DebugDir),
		),
	).Run()
}

func requireText(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return errors.New("port must be a number between 1 and 65535")
	}
	return nil
}

func validateDuration(s string) error {
	if _, err := time.ParseDuration(s); err != nil {
		return errors.New("use a duration such as 2s or 500ms")
	}
	return nil
}

// buildConfig turns wizard answers into a validated configuration.
func buildConfig(ans wizardAnswers) (config.Config, error) {
	cfg := config.Default()

	cfg.Transport.Kind = ans.Kind
	cfg.Transport.Host = strings.TrimSpace(ans.Host)
	cfg.Transport.Serial = strings.TrimSpace(ans.Serial)
	if ans.Port != "" {
		if err := validatePort(ans.Port); err != nil {
			return config.Config{}, err
		}
		cfg.Transport.Port, _ = strconv.Atoi(ans.Port)
	}

	cfg.Session.Backend = ans.Backend
	cfg.Session.URL = strings.TrimSpace(ans.URL)

	cfg.Instance.Binary = strings.TrimSpace(ans.Binary)
	cfg.Instance.Args = strings.Fields(ans.Args)

	cfg.Restart = ans.Restart
	if d := strings.TrimSpace(ans.DebugDir); d != "" {
		cfg.DebugDir = d
	}
	if ans.Settle != "" {
		d, err := time.ParseDuration(ans.Settle)
		if err != nil {
			return config.Config{}, fmt.Errorf("settle delay: %w", err)
		}
		cfg.Timeouts.Settle = d
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

func writeConfig(path string, ans wizardAnswers) error {
	cfg, err := buildConfig(ans)
	if err != nil {
		return err
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
