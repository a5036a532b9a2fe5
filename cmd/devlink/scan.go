package main

import (
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/dhavalsavalia/devlink/internal/config"
	"github.com/dhavalsavalia/devlink/internal/descriptor"
)

func newScanCmd(f *flags) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List USB device nodes and their descriptors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				// Scanning needs no device identity, so config errors
				// only matter when a file was asked for.
				cfg, err := f.load()
				switch {
				case err == nil:
					dir = cfg.Device.DevDir
				case f.configPath != "":
					return err
				default:
					dir = config.DefaultDevDir
				}
			}
			return scan(cmd.OutOrStdout(), dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory to scan (default is device.dev_dir)")
	return cmd
}

// scan prints one row per node under dir that holds a device descriptor.
func scan(w io.Writer, dir string) error {
	var rows [][]string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		desc, err := descriptor.ReadFile(path)
		if err != nil || desc.DescriptorType != descriptor.TypeDevice {
			return nil
		}
		rows = append(rows, []string{
			path,
			desc.Identity().String(),
			bcd(desc.USBVersion),
			fmt.Sprintf("%02x/%02x/%02x", desc.DeviceClass, desc.DeviceSubClass, desc.DeviceProtocol),
			bcd(desc.DeviceVersion),
			fmt.Sprintf("%d", desc.NumConfigurations),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("cannot scan %s: %w", dir, err)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PATH", "ID", "USB", "CLASS", "VERSION", "CONFIGS").
		Rows(rows...)
	_, err = fmt.Fprintf(w, "%s\n\n%d device(s) in %s\n", t.String(), len(rows), dir)
	return err
}

// bcd renders a binary-coded decimal release number such as 0x0210 as 2.10.
func bcd(v uint16) string {
	return fmt.Sprintf("%x.%02x", v>>8, v&0xff)
}
