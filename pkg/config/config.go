// Package config holds the devicelab configuration file schema. The file is
// YAML; ${VAR} references are expanded from the environment before parsing,
// and every field not present in the file keeps its Default value.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/germanamz/devicelab/pkg/debugdir"
	"github.com/germanamz/devicelab/pkg/transport"
	"gopkg.in/yaml.v3"
)

// Session backends.
const (
	BackendWebDriver = "webdriver"
	BackendCDP       = "cdp"
)

// Config is the top-level configuration.
type Config struct {
	Transport   TransportConfig `yaml:"transport"`
	Session     SessionConfig   `yaml:"session"`
	Instance    InstanceConfig  `yaml:"instance"`
	Timeouts    TimeoutsConfig  `yaml:"timeouts"`
	Restart     bool            `yaml:"restart"`
	DebugDir    string          `yaml:"debug_dir"`
	TestVars    string          `yaml:"testvars"`
	MetricsFile string          `yaml:"metrics_file"`
}

// TransportConfig selects the device transport.
type TransportConfig struct {
	Kind    string `yaml:"kind"` // adb | sut
	Host    string `yaml:"host"` // required for sut
	Port    int    `yaml:"port"`
	ADBPath string `yaml:"adb_path"`
	Serial  string `yaml:"serial"`
}

// SessionConfig describes the remote-control endpoint.
type SessionConfig struct {
	Backend      string         `yaml:"backend"` // webdriver | cdp
	URL          string         `yaml:"url"`
	PortWait     time.Duration  `yaml:"port_wait"`
	Capabilities map[string]any `yaml:"capabilities"`
}

// InstanceConfig describes a desktop build spawned in-process. An empty
// Binary means none.
type InstanceConfig struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
}

// TimeoutsConfig holds the session timeouts applied during setup and the
// restart settle delay.
type TimeoutsConfig struct {
	Script time.Duration `yaml:"script"`
	Search time.Duration `yaml:"search"`
	Settle time.Duration `yaml:"settle"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Transport: TransportConfig{
			Kind:    string(transport.KindADB),
			Port:    transport.DefaultSUTPort,
			ADBPath: "adb",
		},
		Session: SessionConfig{
			Backend:  BackendWebDriver,
			URL:      "http://127.0.0.1:2828",
			PortWait: 60 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			Script: 60 * time.Second,
			Search: 10 * time.Second,
			Settle: 2 * time.Second,
		},
		DebugDir: debugdir.DefaultRoot,
	}
}

// Load reads path over Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML over Default after expanding environment references.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	return cfg, nil
}

// Marshal encodes c as YAML.
func (c Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	return data, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	switch transport.Kind(c.Transport.Kind) {
	case "", transport.KindADB:
	case transport.KindSUT:
		if c.Transport.Host == "" {
			return fmt.Errorf("config: transport: host is required for kind %q", c.Transport.Kind)
		}
	default:
		return fmt.Errorf("config: transport: unknown kind %q", c.Transport.Kind)
	}

	if c.Transport.Port < 0 || c.Transport.Port > 65535 {
		return fmt.Errorf("config: transport: port %d out of range", c.Transport.Port)
	}

	switch c.Session.Backend {
	case BackendWebDriver, BackendCDP:
	default:
		return fmt.Errorf("config: session: unknown backend %q", c.Session.Backend)
	}

	if c.Session.URL == "" {
		return fmt.Errorf("config: session: url is required")
	}

	for name, d := range map[string]time.Duration{
		"session.port_wait": c.Session.PortWait,
		"timeouts.script":   c.Timeouts.Script,
		"timeouts.search":   c.Timeouts.Search,
		"timeouts.settle":   c.Timeouts.Settle,
	} {
		if d < 0 {
			return fmt.Errorf("config: %s: negative duration %s", name, d)
		}
	}

	if c.Instance.Binary == "" && len(c.Instance.Args) > 0 {
		return fmt.Errorf("config: instance: args given without binary")
	}

	return nil
}

// TransportConfig converts the transport section for transport.Resolve.
func (c Config) TransportConfig() transport.Config {
	return transport.Config{
		Kind:    transport.Kind(c.Transport.Kind),
		Host:    c.Transport.Host,
		Port:    c.Transport.Port,
		ADBPath: c.Transport.ADBPath,
		Serial:  c.Transport.Serial,
	}
}
