// Package main runs the environmental sensing node.
package main

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	goutils "go.viam.com/utils"

	"github.com/envsensing/envnode/board"
	"github.com/envsensing/envnode/config"
	"github.com/envsensing/envnode/network"
	"github.com/envsensing/envnode/node"
	"github.com/envsensing/envnode/sensor/bme680"
	"github.com/envsensing/envnode/sensor/geiger"
	"github.com/envsensing/envnode/sensor/sds011"
	"github.com/envsensing/envnode/telemetry"
)

var logger = golog.NewDevelopmentLogger("envnode")

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"0,required,usage=node config file"`
	Debug      bool   `flag:"debug,usage=enable debug logging"`
	ScanI2C    bool   `flag:"scan-i2c,usage=scan the i2c bus and exit"`
	DumpSerial bool   `flag:"dump-serial,usage=dump raw particulate serial bytes for 10s and exit"`
}

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger = golog.NewDebugLogger("envnode")
	}

	cfg, err := config.Read(argsParsed.ConfigFile)
	if err != nil {
		return err
	}
	if config.Version != "" {
		logger.Infow("starting envnode", "version", config.Version, "build_date", config.BuildDate)
	}

	realClock := clock.New()

	bus, err := board.NewPeriphI2C(cfg.Sensors.Environmental.I2CBus)
	if err != nil {
		return err
	}
	if argsParsed.ScanI2C {
		board.ScanI2C(ctx, bus, logger)
		return nil
	}
	if argsParsed.Debug {
		board.ScanI2C(ctx, bus, logger)
	}

	serialDev, err := sds011.Open(cfg.Sensors.Particulate.SerialPath)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(serialDev.Close)
	decoder := sds011.NewDecoder(serialDev, realClock, logger, sds011.Options{
		ReadWindow: time.Duration(cfg.Sensors.Particulate.ReadWindowMs) * time.Millisecond,
		Warmup:     time.Duration(cfg.Sensors.Particulate.WarmupMs) * time.Millisecond,
	})
	if argsParsed.DumpSerial || cfg.Sensors.Particulate.DebugRaw {
		decoder.DumpRaw(ctx, 10*time.Second)
		if argsParsed.DumpSerial {
			return nil
		}
	}

	envCtrl := bme680.NewController(bus, realClock, logger, bme680.ControllerOptions{
		Addresses:    cfg.Sensors.Environmental.Addresses,
		RetryBackoff: time.Duration(cfg.Sensors.Environmental.RetryBackoffMs) * time.Millisecond,
		WarmupDelay:  time.Duration(cfg.Sensors.Environmental.WarmupMs) * time.Millisecond,
	})

	di := board.NewBasicDigitalInterrupt()
	watcher, err := board.StartPulseWatcher(ctx, cfg.Sensors.Radiation.PulsePin, di, logger)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(watcher.Close)
	radMonitor := geiger.NewMonitor(di, realClock, logger, geiger.MonitorOptions{
		Window:        time.Duration(cfg.Sensors.Radiation.WindowMs) * time.Millisecond,
		CPMPerMicroSv: cfg.Sensors.Radiation.CPMPerMicroSv,
	})

	link := &network.IfaceLink{
		Name:         cfg.Network.Interface,
		AssociateCmd: cfg.Network.AssociateCmd,
	}
	netManager := network.NewManager(link, realClock, logger, network.ManagerOptions{})
	resolver := network.NewResolver(cfg.Network.DNSServers)
	trustedClock := network.NewTrustedClock(realClock, logger, network.TrustedClockOptions{
		NTPServers: cfg.Network.NTPServers,
	})

	client, err := telemetry.NewClient(cfg.Telemetry.URL, cfg.Telemetry.APIKey, resolver, realClock, logger, telemetry.ClientOptions{})
	if err != nil {
		return err
	}

	n := node.New(envCtrl, decoder, radMonitor, netManager, trustedClock, client, realClock, logger, node.Options{
		DeviceID:  cfg.DeviceID,
		BuildDate: config.BuildDate,
		Interval:  time.Duration(cfg.SendIntervalMs) * time.Millisecond,
	})
	return n.Run(ctx)
}
