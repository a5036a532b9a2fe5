package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Default values for optional config fields.
const (
	DefaultDevDir       = "/dev/bus/usb"
	DefaultEndpointIn   = HexUint8(0x81)
	DefaultEndpointOut  = HexUint8(0x01)
	DefaultTimeout      = Duration(time.Second)
	DefaultPollInterval = Duration(500 * time.Millisecond)
	DefaultInitialDelay = Duration(250 * time.Millisecond)
	DefaultMaxDelay     = Duration(8 * time.Second)
	DefaultAttempts     = 4
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
)

// Watch modes.
const (
	WatchModeNotify = "notify"
	WatchModePoll   = "poll"
)

// Environment variables overriding the device identity.
const (
	EnvVendorID  = "DEVLINK_VID"
	EnvProductID = "DEVLINK_PID"
)

// ExampleConfig is the template for `devlink init` with documentation comments.
const ExampleConfig = `# devlink configuration
# See: https://github.com/dhavalsavalia/devlink

[device]
# Required: USB vendor and product id of the device to keep connected.
# DEVLINK_VID / DEVLINK_PID in the environment override these.
vendor_id = "0x1234"
product_id = "0x5678"

# Where usbfs device nodes live
dev_dir = "/dev/bus/usb"

# Interface to claim and bulk endpoints to use
interface = 0
endpoint_in = "0x81"
endpoint_out = "0x01"

# Timeout for a single bulk transfer (duration string: "500ms", "1s", etc.)
timeout = "1s"

[watch]
# "notify" uses inotify; "poll" rescans dev_dir, for containers without inotify
mode = "notify"

# Rescan period in poll mode
poll_interval = "500ms"

[restart]
# Backoff after the device reappears: the wait doubles after each failure
initial_delay = "250ms"
max_delay = "8s"

# Total attempts before giving up until the next arrival
attempts = 4

[log]
# debug, info, warn or error
level = "info"

# "console" or "json"
format = "console"

# Log file used by the terminal view (default: $XDG_STATE_HOME/devlink/devlink.log)
file = ""
`

// GenerateExampleConfig writes the example config to the given path.
// If path is empty, it uses the default XDG path. An existing file is
// never overwritten.
// Returns the path where the file was written.
func GenerateExampleConfig(path string) (string, error) {
	if path == "" {
		defaultPath, err := DefaultPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("config file already exists: %s", path)
		}
		return "", fmt.Errorf("cannot write config file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(ExampleConfig); err != nil {
		return "", fmt.Errorf("cannot write config file: %w", err)
	}

	return path, nil
}
