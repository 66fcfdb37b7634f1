// wxnode is an outdoor weather node: it samples a DHT22 sensor and
// publishes each reading to an MQTT broker over Wi-Fi, keeping a
// hardware watchdog fed throughout and resetting the device when the
// broker stays unreachable.
//
// Usage:
//
//	wxnode run               Run the telemetry loop
//	wxnode read              Take one sensor reading and print it
//	wxnode status            Show boot count and last reset reason
//	wxnode init [dir]        Write example config and .env files
//	wxnode version           Print version and build information
//	wxnode -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/wxnode/internal/broker"
	"github.com/nugget/wxnode/internal/buildinfo"
	"github.com/nugget/wxnode/internal/config"
	"github.com/nugget/wxnode/internal/indicator"
	"github.com/nugget/wxnode/internal/node"
	"github.com/nugget/wxnode/internal/opstate"
	"github.com/nugget/wxnode/internal/reset"
	"github.com/nugget/wxnode/internal/sensor"
	"github.com/nugget/wxnode/internal/telemetry"
	"github.com/nugget/wxnode/internal/watchdog"
	"github.com/nugget/wxnode/internal/wifi"
)

// main constructs the OS-level environment and delegates to [run], so
// the command can be driven from tests without os.Exit or os.Args.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; fatal
// errors are returned for main to print on stderr, after any startup
// hint runDevice writes there. Arguments are parsed by hand to keep the
// flag package's globals out of parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "run":
		return runDevice(ctx, stdout, stderr, configPath)
	case "read":
		return runRead(stdout, configPath, outputFmt)
	case "status":
		return runStatus(stdout, configPath, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "wxnode - outdoor weather node")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: wxnode [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run          Run the telemetry loop")
	fmt.Fprintln(w, "  read         Take one sensor reading and print it")
	fmt.Fprintln(w, "  status       Show boot count and last reset reason")
	fmt.Fprintln(w, "  init [dir]   Write example config.yaml and .env (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/wxnode/config.yaml, /etc/wxnode/config.yaml")
	return nil
}

// runDevice handles "wxnode run". It assembles the device from config,
// then hands control to the boot sequence until SIGINT or SIGTERM.
//
// On escalation the configured Resetter restarts the device and this
// function does not return. On interrupt the broker session is closed
// and the watchdog disarmed before returning nil.
func runDevice(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting wxnode", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Validate() already rejected bad levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, cfg.LogFormat)
	logger.Info("config loaded",
		"path", cfgPath,
		"wifi_driver", cfg.WiFi.Driver,
		"broker", cfg.Broker.Address(),
		"protocol", cfg.Broker.Protocol,
		"topic", cfg.Broker.Topic,
		"sensor", cfg.Sensor.Driver,
		"watchdog", cfg.Watchdog.Driver,
		"reset_mode", cfg.Reset.Mode,
	)

	// Boot history is informational; the device runs without it.
	var recorder node.ResetRecorder
	if store, err := opstate.NewStore(opstate.Path(cfg.DataDir)); err != nil {
		logger.Warn("operational state unavailable", "data_dir", cfg.DataDir, "error", err)
	} else {
		defer store.Close()
		recorder = store
		logBoot(logger, store)
	}

	feeder, err := openFeeder(cfg.Watchdog)
	if err != nil {
		fmt.Fprintf(stderr, "wxnode: no usable %s watchdog; fix watchdog in %s, or use driver none on a development host\n", cfg.Watchdog.Driver, cfgPath)
		return fmt.Errorf("open watchdog: %w", err)
	}
	wd, err := armWatchdog(cfg, feeder, nil, logger.With("component", "watchdog"))
	if err != nil {
		fmt.Fprintf(stderr, "wxnode: watchdog timeout is %v; lower the timeouts listed below or lengthen the watchdog (watchdog.timeout, or WatchdogSec= under systemd)\n", feeder.Timeout())
		_ = feeder.Close()
		return err
	}
	defer func() {
		if err := wd.Close(); err != nil {
			logger.Warn("watchdog close failed", "error", err)
		}
	}()
	wd.Feed()
	logger.Info("watchdog armed", "driver", cfg.Watchdog.Driver, "timeout", wd.Timeout(), "feed_interval", wd.Interval())

	led, err := indicator.Open(cfg.Indicator.Pin, cfg.Indicator.ActiveLow, logger)
	if err != nil {
		logger.Warn("indicator unavailable", "pin", cfg.Indicator.Pin, "error", err)
		led = indicator.Nop{}
	}

	sens, err := sensor.Open(cfg.Sensor)
	if err != nil {
		return fmt.Errorf("open sensor: %w", err)
	}
	defer sens.Close()

	radio, err := wifi.Open(cfg.WiFi)
	if err != nil {
		return err
	}
	transport, err := broker.OpenTransport(cfg.Broker, logger.With("component", "mqtt"))
	if err != nil {
		return err
	}
	clientID := resolveClientID(cfg, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ws := wifi.NewSession(radio, cfg.WiFi, wd, logger.With("component", "wifi"))
	bs := broker.NewSession(transport, cfg.Broker, clientID, wd, led, logger.With("component", "broker"))
	agent := telemetry.NewAgent(sens, bs, wd, telemetry.Config{
		Topic:             cfg.Broker.Topic,
		CalibrationOffset: cfg.Sensor.CalibrationOffset,
		Interval:          cfg.Cycle.Interval,
	}, logger.With("component", "telemetry"))

	n := node.New(node.Config{
		Network:   ws,
		Broker:    bs,
		Telemetry: agent,
		Resetter:  newResetter(cfg.Reset, logger),
		Recorder:  recorder,
		Logger:    logger,
	})

	if err := wd.Ready(); err != nil {
		logger.Warn("service manager notify failed", "error", err)
	}

	if err := n.Run(ctx); err != nil {
		return err
	}

	st := agent.Stats()
	logger.Info("wxnode stopped",
		"uptime", buildinfo.Uptime(),
		"cycles", st.Cycles,
		"published", st.Published,
		"reconnects", bs.Reconnects(),
	)
	return nil
}

// runRead handles "wxnode read": one calibrated measurement, printed in
// the same shape the device publishes. No network or watchdog is used.
func runRead(w io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	sens, err := sensor.Open(cfg.Sensor)
	if err != nil {
		return fmt.Errorf("open sensor: %w", err)
	}
	defer sens.Close()

	r, err := sens.Measure()
	if err != nil {
		return err
	}
	r = r.Calibrated(cfg.Sensor.CalibrationOffset)

	if outputFmt == "json" {
		_, err := fmt.Fprintf(w, "%s\n", telemetry.FormatPayload(r))
		return err
	}
	fmt.Fprintf(w, "sensor:       %s\n", sens.Name())
	fmt.Fprintf(w, "temperature:  %.2f °C\n", r.Temperature)
	fmt.Fprintf(w, "humidity:     %.2f %%\n", r.Humidity)
	return nil
}

// runStatus handles "wxnode status".
func runStatus(w io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := opstate.NewStore(opstate.Path(cfg.DataDir))
	if err != nil {
		return fmt.Errorf("open operational state: %w", err)
	}
	defer store.Close()

	boot, err := store.Boot()
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		out := map[string]any{
			"boot_count":        boot.Count,
			"last_reset_reason": boot.LastResetReason,
		}
		if !boot.LastResetAt.IsZero() {
			out["last_reset_at"] = boot.LastResetAt.Format(time.RFC3339)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "boot count:   %d\n", boot.Count)
	if boot.LastResetReason == "" {
		fmt.Fprintln(w, "last reset:   none recorded")
	} else {
		fmt.Fprintf(w, "last reset:   %s (%s)\n", boot.LastResetReason, boot.LastResetAt.Format(time.RFC3339))
	}
	return nil
}

// loadConfig locates and parses the YAML configuration file. Returns
// the parsed config and the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func logBoot(logger *slog.Logger, store *opstate.Store) {
	boot, err := store.RecordBoot()
	if err != nil {
		logger.Warn("failed to record boot", "error", err)
		return
	}
	if boot.LastResetReason != "" {
		logger.Warn("recovered from reset",
			"boot", boot.Count,
			"reason", boot.LastResetReason,
			"reset_at", boot.LastResetAt,
		)
		return
	}
	logger.Info("boot recorded", "boot", boot.Count)
}

func openFeeder(cfg config.WatchdogConfig) (watchdog.Feeder, error) {
	switch cfg.Driver {
	case config.WatchdogDevice:
		return watchdog.OpenDevice(cfg.Device, cfg.Timeout)
	case config.WatchdogSystemd:
		return watchdog.NewSystemd()
	case config.WatchdogNone:
		return watchdog.NewNop(cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown watchdog driver %q", cfg.Driver)
	}
}

// armWatchdog wraps feeder in a Discipline and checks every blocking
// bound in cfg against the feeder's live timeout, which can be shorter
// than the configured one.
func armWatchdog(cfg *config.Config, feeder watchdog.Feeder, clock watchdog.Clock, logger *slog.Logger) (*watchdog.Discipline, error) {
	wd, err := watchdog.NewDiscipline(feeder, cfg.Watchdog.FeedInterval, clock, logger)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateTimeouts(wd.Timeout()); err != nil {
		return nil, fmt.Errorf("watchdog %s: %w", cfg.Watchdog.Driver, err)
	}
	return wd, nil
}

func newResetter(cfg config.ResetConfig, logger *slog.Logger) reset.Resetter {
	if cfg.Mode == config.ResetExit {
		return reset.Exit{Code: cfg.ExitCode, Logger: logger}
	}
	return reset.Reboot{Logger: logger}
}

// resolveClientID returns the configured client ID, or one derived
// from the persisted instance ID. If the data directory is unusable
// the hostname stands in so the device still comes up.
func resolveClientID(cfg *config.Config, logger *slog.Logger) string {
	if cfg.Broker.ClientID != "" {
		return cfg.Broker.ClientID
	}
	id, err := broker.LoadOrCreateInstanceID(cfg.DataDir)
	if err == nil {
		return broker.DefaultClientID(id)
	}

	host, herr := os.Hostname()
	if herr != nil {
		host = "unknown"
	}
	logger.Warn("instance ID unavailable, using hostname for client ID",
		"error", errors.Join(err, herr),
		"host", host,
	)
	return "wxnode-" + host
}
