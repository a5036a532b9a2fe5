package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dhavalsavalia/devlink/internal/descriptor"
)

// Duration wraps time.Duration for TOML string parsing.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// HexUint16 is a 16-bit id written as "0x1234" or plain decimal.
type HexUint16 uint16

func (h *HexUint16) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 0, 16)
	if err != nil {
		return fmt.Errorf("invalid 16-bit value %q", text)
	}
	*h = HexUint16(v)
	return nil
}

func (h HexUint16) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("0x%04x", uint16(h))), nil
}

// HexUint8 is an 8-bit value such as an endpoint address.
type HexUint8 uint8

func (h *HexUint8) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 0, 8)
	if err != nil {
		return fmt.Errorf("invalid 8-bit value %q", text)
	}
	*h = HexUint8(v)
	return nil
}

func (h HexUint8) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("0x%02x", uint8(h))), nil
}

// Config represents the complete devlink configuration.
type Config struct {
	Device  DeviceConfig  `toml:"device"`
	Watch   WatchConfig   `toml:"watch"`
	Restart RestartConfig `toml:"restart"`
	Log     LogConfig     `toml:"log"`
}

// DeviceConfig identifies the device and how to talk to it.
type DeviceConfig struct {
	VendorID    HexUint16 `toml:"vendor_id"`
	ProductID   HexUint16 `toml:"product_id"`
	DevDir      string    `toml:"dev_dir"`
	Interface   int       `toml:"interface"`
	EndpointIn  HexUint8  `toml:"endpoint_in"`
	EndpointOut HexUint8  `toml:"endpoint_out"`
	Timeout     Duration  `toml:"timeout"`
}

// Identity returns the configured vendor/product pair.
func (d DeviceConfig) Identity() descriptor.Identity {
	return descriptor.Identity{VendorID: uint16(d.VendorID), ProductID: uint16(d.ProductID)}
}

// WatchConfig selects how device nodes are watched.
type WatchConfig struct {
	Mode         string   `toml:"mode"`
	PollInterval Duration `toml:"poll_interval"`
}

// RestartConfig tunes reconnection after the device reappears.
type RestartConfig struct {
	InitialDelay Duration `toml:"initial_delay"`
	MaxDelay     Duration `toml:"max_delay"`
	Attempts     int      `toml:"attempts"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Override adjusts a loaded config before validation, e.g. from flags.
type Override func(*Config)

// WithIdentity replaces the configured device identity.
func WithIdentity(id descriptor.Identity) Override {
	return func(cfg *Config) {
		cfg.Device.VendorID = HexUint16(id.VendorID)
		cfg.Device.ProductID = HexUint16(id.ProductID)
	}
}

// WithLogLevel replaces the configured log level.
func WithLogLevel(level string) Override {
	return func(cfg *Config) {
		cfg.Log.Level = level
	}
}

// DefaultPath returns the default config file path following XDG conventions.
// On Unix, checks $XDG_CONFIG_HOME first, then falls back to ~/.config.
func DefaultPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "devlink", "config.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "devlink", "config.toml"), nil
}

// DefaultLogPath returns where the TUI writes its log, following XDG
// conventions: $XDG_STATE_HOME first, then ~/.local/state.
func DefaultLogPath() (string, error) {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "devlink", "devlink.log"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "devlink", "devlink.log"), nil
}

// Load reads and parses a config file from the given path.
// If path is empty, it uses the default XDG path; a missing default file
// is not an error, so flags and environment alone can configure devlink.
// Environment overrides (DEVLINK_VID, DEVLINK_PID) and then overrides are
// applied before validation.
func Load(path string, overrides ...Override) (*Config, error) {
	explicit := path != ""
	if !explicit {
		defaultPath, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file: %w", err)
		}
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	applyDefaults(cfg)

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	for _, o := range overrides {
		o(cfg)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	if cfg.Device.DevDir == "" {
		cfg.Device.DevDir = DefaultDevDir
	}
	if cfg.Device.EndpointIn == 0 {
		cfg.Device.EndpointIn = DefaultEndpointIn
	}
	if cfg.Device.EndpointOut == 0 {
		cfg.Device.EndpointOut = DefaultEndpointOut
	}
	if cfg.Device.Timeout == 0 {
		cfg.Device.Timeout = DefaultTimeout
	}
	if cfg.Watch.Mode == "" {
		cfg.Watch.Mode = WatchModeNotify
	}
	if cfg.Watch.PollInterval == 0 {
		cfg.Watch.PollInterval = DefaultPollInterval
	}
	if cfg.Restart.InitialDelay == 0 {
		cfg.Restart.InitialDelay = DefaultInitialDelay
	}
	if cfg.Restart.MaxDelay == 0 {
		cfg.Restart.MaxDelay = DefaultMaxDelay
	}
	if cfg.Restart.Attempts == 0 {
		cfg.Restart.Attempts = DefaultAttempts
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// applyEnv reads the device identity from DEVLINK_VID and DEVLINK_PID.
func applyEnv(cfg *Config) error {
	var errs []error
	for _, e := range []struct {
		name string
		dst  *HexUint16
	}{
		{EnvVendorID, &cfg.Device.VendorID},
		{EnvProductID, &cfg.Device.ProductID},
	} {
		v, ok := os.LookupEnv(e.name)
		if !ok || v == "" {
			continue
		}
		if err := e.dst.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

// validate checks that required fields are present and values are usable.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Device.VendorID == 0 {
		errs = append(errs, errors.New("device.vendor_id is required"))
	}
	if cfg.Device.ProductID == 0 {
		errs = append(errs, errors.New("device.product_id is required"))
	}
	if cfg.Device.Interface < 0 || cfg.Device.Interface > 255 {
		errs = append(errs, fmt.Errorf("device.interface %d out of range", cfg.Device.Interface))
	}
	if cfg.Device.EndpointIn&0x80 == 0 {
		errs = append(errs, fmt.Errorf("device.endpoint_in 0x%02x is not an IN endpoint", uint8(cfg.Device.EndpointIn)))
	}
	if cfg.Device.EndpointOut&0x80 != 0 {
		errs = append(errs, fmt.Errorf("device.endpoint_out 0x%02x is not an OUT endpoint", uint8(cfg.Device.EndpointOut)))
	}
	if cfg.Watch.Mode != WatchModeNotify && cfg.Watch.Mode != WatchModePoll {
		errs = append(errs, fmt.Errorf("watch.mode %q must be %q or %q", cfg.Watch.Mode, WatchModeNotify, WatchModePoll))
	}
	if cfg.Restart.Attempts < 1 {
		errs = append(errs, errors.New("restart.attempts must be at least 1"))
	}
	if cfg.Restart.InitialDelay < 0 || cfg.Restart.MaxDelay < 0 {
		errs = append(errs, errors.New("restart delays must not be negative"))
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format %q must be \"json\" or \"console\"", cfg.Log.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
