package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dhavalsavalia/devlink/internal/descriptor"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DEVLINK_VID", "")
	t.Setenv("DEVLINK_PID", "")
}

func TestFlagsLoad_IdentityOverride(t *testing.T) {
	isolate(t)

	f := &flags{vid: "0x1234", pid: "0x5678", logLevel: "debug"}
	cfg, err := f.load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := descriptor.Identity{VendorID: 0x1234, ProductID: 0x5678}
	if got := cfg.Device.Identity(); got != want {
		t.Errorf("identity = %v, want %v", got, want)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestFlagsLoad_VidWithoutPid(t *testing.T) {
	isolate(t)

	f := &flags{vid: "0x1234"}
	if _, err := f.load(); err == nil {
		t.Fatal("expected error for --vid without --pid")
	}
}

func TestFlagsLoad_BadVid(t *testing.T) {
	isolate(t)

	f := &flags{vid: "zz", pid: "0x5678"}
	if _, err := f.load(); err == nil {
		t.Fatal("expected error for invalid --vid")
	}
}

func TestFlagsLoad_NoIdentity(t *testing.T) {
	isolate(t)

	if _, err := (&flags{}).load(); err == nil {
		t.Fatal("expected error without a device identity")
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	bus := filepath.Join(dir, "001")
	if err := os.Mkdir(bus, 0755); err != nil {
		t.Fatal(err)
	}

	d := descriptor.DeviceDescriptor{
		Length:            descriptor.Size,
		DescriptorType:    descriptor.TypeDevice,
		USBVersion:        0x0210,
		DeviceClass:       0xff,
		VendorID:          0x1234,
		ProductID:         0x5678,
		DeviceVersion:     0x0100,
		NumConfigurations: 1,
	}
	data, _ := d.MarshalBinary()
	if err := os.WriteFile(filepath.Join(bus, "004"), data, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bus, "junk"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := scan(&out, dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := out.String()
	for _, want := range []string{"1234:5678", "2.10", "ff/00/00", "1.00", "1 device(s)"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "junk") {
		t.Errorf("output lists non-device file:\n%s", got)
	}
}

func TestScan_MissingDir(t *testing.T) {
	var out bytes.Buffer
	if err := scan(&out, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestBCD(t *testing.T) {
	tests := map[uint16]string{
		0x0200: "2.00",
		0x0110: "1.10",
		0x0321: "3.21",
	}
	for in, want := range tests {
		if got := bcd(in); got != want {
			t.Errorf("bcd(%#04x) = %q, want %q", in, got, want)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.String(); got != "devlink dev\n" {
		t.Errorf("output = %q, want %q", got, "devlink dev\n")
	}
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"init", "--config", path})

	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config not written: %v", err)
	}

	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"init", "--config", path})
	if err := root.Execute(); err == nil {
		t.Error("expected error when config exists")
	}
}
