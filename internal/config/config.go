// Package config handles wxnode configuration loading.
//
// Configuration is a single YAML file, optionally accompanied by a
// .env file holding Wi-Fi and broker credentials. The loaded [Config]
// is treated as immutable for the life of the process: nothing in
// wxnode reconfigures itself at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/wxnode/config.yaml, /etc/wxnode/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "wxnode", "config.yaml"))
	}

	paths = append(paths, "/etc/wxnode/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all wxnode configuration.
type Config struct {
	WiFi      WiFiConfig      `yaml:"wifi"`
	Broker    BrokerConfig    `yaml:"broker"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Reset     ResetConfig     `yaml:"reset"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Cycle     CycleConfig     `yaml:"cycle"`

	// EnvFile is an optional dotenv file loaded before ${VAR}
	// expansion. Relative paths resolve against the config file's
	// directory. Defaults to ".env" beside the config file; a missing
	// default file is not an error.
	EnvFile   string `yaml:"env_file"`
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text (default) or json
}

// Radio driver names accepted in wifi.driver.
const (
	RadioNMCLI = "nmcli"
	RadioNone  = "none"
)

// WiFiConfig defines the wireless link.
type WiFiConfig struct {
	// Driver selects how association is performed: "nmcli" drives
	// NetworkManager, "none" assumes the link is managed elsewhere
	// (wired Ethernet, or a host that associates on its own).
	Driver string `yaml:"driver"`
	// Interface is the network interface to watch (default wlan0 for
	// nmcli). With the none driver an empty value accepts any
	// interface holding a global unicast address.
	Interface string `yaml:"interface"`
	SSID      string `yaml:"ssid"`
	Password  string `yaml:"password"`

	// PollInterval is the wait between connectivity checks while
	// associating (default 500ms).
	PollInterval time.Duration `yaml:"poll_interval"`
	// ReassociateAfter re-issues the connect request if the link is
	// still down this long after the previous request (default 30s).
	ReassociateAfter time.Duration `yaml:"reassociate_after"`
	// CommandTimeout bounds each driver command (default 3s).
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// Broker protocol names accepted in broker.protocol.
const (
	ProtocolV5   = "v5"
	ProtocolV311 = "v311"
)

// BrokerConfig defines the MQTT broker session.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"`
	// ClientID identifies this device to the broker. When empty, a
	// stable ID is derived from the persisted instance ID.
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`

	// ConnectAttempts is how many connect attempts are made before the
	// session escalates to a device reset (default 3).
	ConnectAttempts int `yaml:"connect_attempts"`
	// Cooldown is the watchdog-fed wait after each failed connect
	// attempt (default 5s).
	Cooldown       time.Duration `yaml:"cooldown"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

// Address returns host:port for logging.
func (b BrokerConfig) Address() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// Sensor driver names accepted in sensor.driver.
const (
	SensorDHT22     = "dht22"
	SensorSimulated = "simulated"
)

// SensorConfig defines the temperature/humidity sensor.
type SensorConfig struct {
	Driver string `yaml:"driver"`
	Pin    string `yaml:"pin"`
	// CalibrationOffset is subtracted from every temperature reading,
	// in degrees Celsius.
	CalibrationOffset float64 `yaml:"calibration_offset"`
}

// Watchdog driver names accepted in watchdog.driver.
const (
	WatchdogDevice  = "device"
	WatchdogSystemd = "systemd"
	WatchdogNone    = "none"
)

// WatchdogConfig defines the liveness watchdog.
type WatchdogConfig struct {
	Driver string `yaml:"driver"`
	Device string `yaml:"device"`
	// Timeout is the hardware countdown. For the systemd driver the
	// unit's WatchdogSec= takes precedence.
	Timeout time.Duration `yaml:"timeout"`
	// FeedInterval is the longest any wait may run without a feed. It
	// must be shorter than half of Timeout.
	FeedInterval time.Duration `yaml:"feed_interval"`
}

// Reset mode names accepted in reset.mode.
const (
	ResetReboot = "reboot"
	ResetExit   = "exit"
)

// ResetConfig defines how an escalation restarts the device.
type ResetConfig struct {
	// Mode is "reboot" (restart the machine) or "exit" (terminate the
	// process and let the supervisor restart it).
	Mode string `yaml:"mode"`
	// ExitCode is the status used in exit mode. Zero is not a usable
	// value: a clean exit would not be restarted by Restart=on-failure,
	// so 0 (or unset) means the default, 75 (EX_TEMPFAIL).
	ExitCode int `yaml:"exit_code"`
}

// IndicatorConfig defines the optional activity LED.
type IndicatorConfig struct {
	Pin       string `yaml:"pin"`
	ActiveLow bool   `yaml:"active_low"`
}

// CycleConfig defines the telemetry cadence.
type CycleConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load reads configuration from a YAML file. A dotenv file is loaded
// into the process environment first (existing variables win), then
// ${VAR} references in the YAML are expanded, defaults are applied,
// and the result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Peek at env_file before expansion; the key itself may not use
	// variables.
	var pre struct {
		EnvFile string `yaml:"env_file"`
	}
	_ = yaml.Unmarshal(data, &pre)
	if err := loadEnvFile(path, pre.EnvFile); err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// loadEnvFile loads a dotenv file resolved relative to the config
// file. An explicitly named file must exist; the implicit ".env" is
// optional.
func loadEnvFile(configPath, envFile string) error {
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	if !filepath.IsAbs(envFile) {
		envFile = filepath.Join(filepath.Dir(configPath), envFile)
	}

	if _, err := os.Stat(envFile); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("env file %s: %w", envFile, err)
	}

	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return nil
}

// Default returns a configuration with every default applied, suitable
// for a development host with the simulated sensor and no watchdog.
func Default() *Config {
	cfg := &Config{
		WiFi:     WiFiConfig{Driver: RadioNone},
		Broker:   BrokerConfig{Host: "localhost"},
		Sensor:   SensorConfig{Driver: SensorSimulated},
		Watchdog: WatchdogConfig{Driver: WatchdogNone},
		Reset:    ResetConfig{Mode: ResetExit},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-value fields: 8s watchdog, 500ms feed
// cadence, 5s broker cooldown, 2s between cycles.
func (c *Config) applyDefaults() {
	if c.WiFi.Driver == "" {
		c.WiFi.Driver = RadioNMCLI
	}
	if c.WiFi.Interface == "" && c.WiFi.Driver == RadioNMCLI {
		c.WiFi.Interface = "wlan0"
	}
	if c.WiFi.PollInterval == 0 {
		c.WiFi.PollInterval = 500 * time.Millisecond
	}
	if c.WiFi.ReassociateAfter == 0 {
		c.WiFi.ReassociateAfter = 30 * time.Second
	}
	if c.WiFi.CommandTimeout == 0 {
		c.WiFi.CommandTimeout = 3 * time.Second
	}

	if c.Broker.Port == 0 {
		c.Broker.Port = 1883
	}
	if c.Broker.Protocol == "" {
		c.Broker.Protocol = ProtocolV5
	}
	if c.Broker.Topic == "" {
		c.Broker.Topic = "/home/sensor/outdoor"
	}
	if c.Broker.ConnectAttempts == 0 {
		c.Broker.ConnectAttempts = 3
	}
	if c.Broker.Cooldown == 0 {
		c.Broker.Cooldown = 5 * time.Second
	}
	if c.Broker.ConnectTimeout == 0 {
		c.Broker.ConnectTimeout = 5 * time.Second
	}
	if c.Broker.PublishTimeout == 0 {
		c.Broker.PublishTimeout = 2 * time.Second
	}
	if c.Broker.KeepAlive == 0 {
		c.Broker.KeepAlive = 60 * time.Second
	}

	if c.Sensor.Driver == "" {
		c.Sensor.Driver = SensorDHT22
	}
	if c.Sensor.Pin == "" {
		c.Sensor.Pin = "GPIO4"
	}

	if c.Watchdog.Driver == "" {
		c.Watchdog.Driver = WatchdogDevice
	}
	if c.Watchdog.Device == "" {
		c.Watchdog.Device = "/dev/watchdog"
	}
	if c.Watchdog.Timeout == 0 {
		c.Watchdog.Timeout = 8 * time.Second
	}
	if c.Watchdog.FeedInterval == 0 {
		c.Watchdog.FeedInterval = 500 * time.Millisecond
	}

	if c.Reset.Mode == "" {
		c.Reset.Mode = ResetReboot
	}
	if c.Reset.ExitCode == 0 {
		c.Reset.ExitCode = 75 // EX_TEMPFAIL
	}

	if c.Cycle.Interval == 0 {
		c.Cycle.Interval = 2 * time.Second
	}
	if c.DataDir == "" {
		c.DataDir = "/var/lib/wxnode"
	}
}

// ValidateTimeouts checks the feed interval and every blocking bound
// against timeout. Validate uses the configured watchdog.timeout; once
// the watchdog is open, its live timeout (systemd's WatchdogSec=, or
// what the device accepted) must be checked again, since it can be
// shorter.
func (c *Config) ValidateTimeouts(timeout time.Duration) error {
	var errs []error
	if c.Watchdog.FeedInterval <= 0 || c.Watchdog.FeedInterval >= timeout/2 {
		errs = append(errs, fmt.Errorf("watchdog.feed_interval %v must be positive and shorter than half of the watchdog timeout %v",
			c.Watchdog.FeedInterval, timeout))
	}
	bounded := []struct {
		name string
		d    time.Duration
	}{
		{"wifi.poll_interval", c.WiFi.PollInterval},
		{"wifi.command_timeout", c.WiFi.CommandTimeout},
		{"broker.connect_timeout", c.Broker.ConnectTimeout},
		{"broker.publish_timeout", c.Broker.PublishTimeout},
	}
	for _, b := range bounded {
		if b.d <= 0 || b.d >= timeout {
			errs = append(errs, fmt.Errorf("%s %v must be positive and shorter than the watchdog timeout %v", b.name, b.d, timeout))
		}
	}
	return errors.Join(errs...)
}

// Validate checks the configuration for values the device cannot run
// with. Every blocking operation must be bounded by less than the
// watchdog timeout, so timeouts are checked against it here rather
// than discovered as unexplained reboots in the field.
func (c *Config) Validate() error {
	var errs []error

	switch c.WiFi.Driver {
	case RadioNMCLI:
		if c.WiFi.SSID == "" {
			errs = append(errs, errors.New("wifi.ssid is required for the nmcli driver"))
		}
	case RadioNone:
	default:
		errs = append(errs, fmt.Errorf("wifi.driver %q is not one of nmcli, none", c.WiFi.Driver))
	}

	if c.Broker.Host == "" {
		errs = append(errs, errors.New("broker.host is required"))
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, fmt.Errorf("broker.port %d out of range", c.Broker.Port))
	}
	if c.Broker.Protocol != ProtocolV5 && c.Broker.Protocol != ProtocolV311 {
		errs = append(errs, fmt.Errorf("broker.protocol %q is not one of v5, v311", c.Broker.Protocol))
	}
	if c.Broker.Topic == "" {
		errs = append(errs, errors.New("broker.topic is required"))
	}
	if c.Broker.QoS != 0 && c.Broker.QoS != 1 {
		errs = append(errs, fmt.Errorf("broker.qos %d is not 0 or 1", c.Broker.QoS))
	}
	if c.Broker.ConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("broker.connect_attempts %d must be at least 1", c.Broker.ConnectAttempts))
	}

	switch c.Sensor.Driver {
	case SensorDHT22, SensorSimulated:
	default:
		errs = append(errs, fmt.Errorf("sensor.driver %q is not one of dht22, simulated", c.Sensor.Driver))
	}

	switch c.Watchdog.Driver {
	case WatchdogDevice, WatchdogSystemd, WatchdogNone:
	default:
		errs = append(errs, fmt.Errorf("watchdog.driver %q is not one of device, systemd, none", c.Watchdog.Driver))
	}

	switch c.Reset.Mode {
	case ResetReboot, ResetExit:
	default:
		errs = append(errs, fmt.Errorf("reset.mode %q is not one of reboot, exit", c.Reset.Mode))
	}

	if c.Watchdog.Timeout <= 0 {
		errs = append(errs, errors.New("watchdog.timeout must be positive"))
	} else if err := c.ValidateTimeouts(c.Watchdog.Timeout); err != nil {
		errs = append(errs, err)
	}

	if c.Cycle.Interval <= 0 {
		errs = append(errs, errors.New("cycle.interval must be positive"))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not one of text, json", c.LogFormat))
	}

	return errors.Join(errs...)
}
