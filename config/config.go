// Package config reads and validates the node configuration file.
package config

import (
	"encoding/json"
	"os"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Version is the node version. It is set by LD flags at build time.
var Version = ""

// BuildDate is when the binary was built (unix seconds or RFC3339). It is
// set by LD flags and seeds the clock's bootstrap tier.
var BuildDate = ""

// Config describes the complete runtime configuration of a node.
type Config struct {
	DeviceID  string    `json:"device_id"`
	Network   Network   `json:"network"`
	Sensors   Sensors   `json:"sensors"`
	Telemetry Telemetry `json:"telemetry"`

	// SendIntervalMs is the control loop period.
	SendIntervalMs int `json:"send_interval_ms"`
}

// Network selects the uplink interface and name/time servers.
type Network struct {
	Interface string `json:"interface"`

	// AssociateCmd optionally (re)associates the link, e.g. a wpa_cli
	// invocation. Empty means the link is managed externally.
	AssociateCmd string `json:"associate_cmd,omitempty"`

	DNSServers []string `json:"dns_servers,omitempty"`
	NTPServers []string `json:"ntp_servers,omitempty"`
}

// Sensors configures the three sensing subsystems.
type Sensors struct {
	Particulate   Particulate   `json:"particulate"`
	Environmental Environmental `json:"environmental"`
	Radiation     Radiation     `json:"radiation"`
}

// Particulate configures the serial particulate sensor.
type Particulate struct {
	SerialPath   string `json:"serial_path"`
	ReadWindowMs int    `json:"read_window_ms,omitempty"`
	WarmupMs     int    `json:"warmup_ms,omitempty"`
	DebugRaw     bool   `json:"debug_raw,omitempty"`
}

// Environmental configures the I2C environmental sensor.
type Environmental struct {
	I2CBus         string `json:"i2c_bus"`
	Addresses      []byte `json:"addresses,omitempty"`
	RetryBackoffMs int    `json:"retry_backoff_ms,omitempty"`
	WarmupMs       int    `json:"warmup_ms,omitempty"`
}

// Radiation configures the pulse-counting radiation detector.
type Radiation struct {
	PulsePin      string  `json:"pulse_pin"`
	WindowMs      int     `json:"window_ms,omitempty"`
	CPMPerMicroSv float64 `json:"cpm_per_microsv,omitempty"`
}

// Telemetry names the collector endpoint and its key.
type Telemetry struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

// DefaultSendIntervalMs is the control loop period when the config names none.
const DefaultSendIntervalMs = 30_000

// Read loads, env-expands, and validates a config file. ${VAR} references in
// the file are substituted from the environment before parsing, so secrets
// like the API key can stay out of the file itself.
func Read(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %q", path)
	}
	expanded, err := envsubst.Bytes(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "expand config %q", path)
	}
	var cfg Config
	if err := json.Unmarshal(expanded, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %q", path)
	}
	if err := cfg.Ensure(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Ensure applies defaults and then validates.
func (c *Config) Ensure() error {
	if c.SendIntervalMs == 0 {
		c.SendIntervalMs = DefaultSendIntervalMs
	}
	return c.Validate()
}

// Validate checks that every required field is present.
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return goutils.NewConfigValidationFieldRequiredError("", "device_id")
	}
	if err := c.Network.Validate("network"); err != nil {
		return err
	}
	if err := c.Sensors.Validate("sensors"); err != nil {
		return err
	}
	return c.Telemetry.Validate("telemetry")
}

// Validate ensures all parts of the config are valid.
func (n *Network) Validate(path string) error {
	if n.Interface == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "interface")
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (s *Sensors) Validate(path string) error {
	if s.Particulate.SerialPath == "" {
		return goutils.NewConfigValidationFieldRequiredError(path+".particulate", "serial_path")
	}
	if s.Environmental.I2CBus == "" {
		return goutils.NewConfigValidationFieldRequiredError(path+".environmental", "i2c_bus")
	}
	if s.Radiation.PulsePin == "" {
		return goutils.NewConfigValidationFieldRequiredError(path+".radiation", "pulse_pin")
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (t *Telemetry) Validate(path string) error {
	if t.URL == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "url")
	}
	if t.APIKey == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "api_key")
	}
	return nil
}
