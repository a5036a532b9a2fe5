package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhavalsavalia/devlink/internal/config"
	"github.com/dhavalsavalia/devlink/internal/descriptor"
)

var version = "dev"

type flags struct {
	configPath string
	vid        string
	pid        string
	logLevel   string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "devlink",
		Short:         "Keep a connection to a USB device across unplug and replug",
		Long:          `devlink watches a USB device directory and keeps a link to one device up, reconnecting with backoff whenever the device comes back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&f.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/devlink/config.toml)")
	root.PersistentFlags().StringVar(&f.vid, "vid", "", "vendor id, overrides the config (e.g. 0x1234)")
	root.PersistentFlags().StringVar(&f.pid, "pid", "", "product id, overrides the config (e.g. 0x5678)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newRunCmd(f),
		newWatchCmd(f),
		newScanCmd(f),
		newInitCmd(f),
		newVersionCmd(),
	)
	return root
}

// load reads the config and applies flag overrides on top of it.
func (f *flags) load() (*config.Config, error) {
	var overrides []config.Override

	if f.vid != "" || f.pid != "" {
		if f.vid == "" || f.pid == "" {
			return nil, fmt.Errorf("--vid and --pid must be given together")
		}
		var vid, pid config.HexUint16
		if err := vid.UnmarshalText([]byte(f.vid)); err != nil {
			return nil, fmt.Errorf("--vid: %w", err)
		}
		if err := pid.UnmarshalText([]byte(f.pid)); err != nil {
			return nil, fmt.Errorf("--pid: %w", err)
		}
		overrides = append(overrides, config.WithIdentity(descriptor.Identity{
			VendorID:  uint16(vid),
			ProductID: uint16(pid),
		}))
	}
	if f.logLevel != "" {
		overrides = append(overrides, config.WithLogLevel(f.logLevel))
	}

	return config.Load(f.configPath, overrides...)
}

func newInitCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write an example config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.GenerateExampleConfig(f.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created config at %s\n", path)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "devlink %s\n", version)
		},
	}
}
