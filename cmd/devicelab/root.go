package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/germanamz/devicelab/pkg/config"
	"github.com/germanamz/devicelab/pkg/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Environment variables read at startup.
const (
	envTransportKind = "DM_TRANS"
	envDeviceHost    = "TEST_DEVICE"
)

// app carries what the root command resolves once for every subcommand.
type app struct {
	v       *viper.Viper
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Recorder
	stdout  io.Writer
	stderr  io.Writer
}

func newApp() *app {
	return &app{v: viper.New(), stdout: os.Stdout, stderr: os.Stderr}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "devicelab",
		Short: "Drive the system under test for UI test runs",
		Long: `devicelab prepares a device or desktop build for a UI test, runs the test
lifecycle around it, and collects diagnostics when a test fails.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.init(cmd) },
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to configuration file (default: devicelab.yaml if present)")
	pf.String("env", ".env", "path to .env file (ignored if missing)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("metrics-file", "", "write Prometheus metrics to this textfile on exit")

	_ = a.v.BindPFlag("config", pf.Lookup("config"))
	_ = a.v.BindPFlag("env", pf.Lookup("env"))
	_ = a.v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("log_format", pf.Lookup("log-format"))
	_ = a.v.BindPFlag("metrics_file", pf.Lookup("metrics-file"))
	_ = a.v.BindEnv("transport.kind", envTransportKind)
	_ = a.v.BindEnv("transport.host", envDeviceHost)

	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.AddCommand(
		newRunCmd(a),
		newRestartCmd(a),
		newPushCmd(a),
		newStatusCmd(a),
		newDebugCmd(a),
		newInitCmd(a),
		newMCPCmd(a),
		newVersionCmd(a),
	)

	return root
}

// init loads .env, the config file, and environment overrides, and builds
// the logger. Commands that need no configuration skip the config file.
func (a *app) init(cmd *cobra.Command) error {
	if err := loadDotEnv(a.v.GetString("env")); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	log, err := newLogger(a.stderr, a.v.GetString("log_level"), a.v.GetString("log_format"))
	if err != nil {
		return err
	}
	a.log = log
	slog.SetDefault(log)

	if cmd.Annotations["config"] == "skip" {
		return nil
	}

	cfg, err := loadConfig(resolveConfigPath(a.v.GetString("config")))
	if err != nil {
		return err
	}
	applyEnv(&cfg, a.v)

	if mf := a.v.GetString("metrics_file"); mf != "" {
		cfg.MetricsFile = mf
	}
	if cfg.MetricsFile != "" {
		a.metrics = metrics.New()
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	return nil
}

// flushMetrics writes the metrics textfile, if one is configured. It runs
// after every command, failed ones included.
func (a *app) flushMetrics() error {
	if err := a.metrics.WriteFile(a.cfg.MetricsFile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// applyEnv overrides the transport selection from DM_TRANS and TEST_DEVICE.
func applyEnv(cfg *config.Config, v *viper.Viper) {
	if kind := v.GetString("transport.kind"); kind != "" {
		cfg.Transport.Kind = kind
	}
	if host := v.GetString("transport.host"); host != "" {
		cfg.Transport.Host = host
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the devicelab version",
		Annotations: map[string]string{"config": "skip"},
		Args:        cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.stdout, "devicelab %s\n", version)
		},
	}
}
