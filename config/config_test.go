package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/envsensing/envnode/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "envnode.json")
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

const validConfig = `{
	"device_id": "node-01",
	"network": {"interface": "wlan0"},
	"sensors": {
		"particulate": {"serial_path": "/dev/ttyUSB0"},
		"environmental": {"i2c_bus": "1"},
		"radiation": {"pulse_pin": "GPIO17", "window_ms": 10000}
	},
	"telemetry": {"url": "https://collector.example.com/ingest", "api_key": "${ENVNODE_API_KEY}"}
}`

func TestReadAppliesDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("ENVNODE_API_KEY", "s3cret")
	cfg, err := config.Read(writeConfig(t, validConfig))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, cfg.DeviceID, test.ShouldEqual, "node-01")
	test.That(t, cfg.Telemetry.APIKey, test.ShouldEqual, "s3cret")
	test.That(t, cfg.SendIntervalMs, test.ShouldEqual, config.DefaultSendIntervalMs)
	test.That(t, cfg.Sensors.Radiation.WindowMs, test.ShouldEqual, 10000)
}

func TestReadMissingFile(t *testing.T) {
	_, err := config.Read(filepath.Join(t.TempDir(), "nope.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadMalformedJSON(t *testing.T) {
	_, err := config.Read(writeConfig(t, `{"device_id": `))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateRequiredFields(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"device_id", func(c *config.Config) { c.DeviceID = "" }},
		{"interface", func(c *config.Config) { c.Network.Interface = "" }},
		{"serial_path", func(c *config.Config) { c.Sensors.Particulate.SerialPath = "" }},
		{"i2c_bus", func(c *config.Config) { c.Sensors.Environmental.I2CBus = "" }},
		{"pulse_pin", func(c *config.Config) { c.Sensors.Radiation.PulsePin = "" }},
		{"url", func(c *config.Config) { c.Telemetry.URL = "" }},
		{"api_key", func(c *config.Config) { c.Telemetry.APIKey = "" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{
				DeviceID: "node-01",
				Network:  config.Network{Interface: "wlan0"},
				Sensors: config.Sensors{
					Particulate:   config.Particulate{SerialPath: "/dev/ttyUSB0"},
					Environmental: config.Environmental{I2CBus: "1"},
					Radiation:     config.Radiation{PulsePin: "GPIO17"},
				},
				Telemetry: config.Telemetry{URL: "https://c.example.com", APIKey: "k"},
			}
			tc.mutate(cfg)
			err := cfg.Ensure()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.name)
		})
	}
}
