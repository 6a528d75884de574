// Package config holds the host-environment knobs the CLI honors.
package config

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/caarlos0/env/v8"
)

type Config struct {
	// DeveloperDir overrides the xcode-select developer tools root.
	DeveloperDir string `env:"IBRIDGE_DEVELOPER_DIR"`
	// LLDB is the debugger binary to invoke.
	LLDB string `env:"IBRIDGE_LLDB" envDefault:"lldb"`
	// UsbmuxdAddr overrides the usbmuxd socket (host:port); the usb
	// package also honors the conventional USBMUXD_SOCKET_ADDRESS.
	UsbmuxdAddr string `env:"USBMUXD_SOCKET_ADDRESS"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

// ResolveDeveloperDir returns the developer tools root, falling back to
// xcode-select when no override is set.
func (c *Config) ResolveDeveloperDir() (string, error) {
	if c.DeveloperDir != "" {
		return c.DeveloperDir, nil
	}
	out, err := exec.Command("xcode-select", "-print-path").Output()
	if err != nil {
		return "", fmt.Errorf("xcode-select -print-path: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
