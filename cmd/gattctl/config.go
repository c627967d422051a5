package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/srg/gattkit/internal/bluez"
	"github.com/srg/gattkit/pkg/gatt"
)

const configFileName = ".gattctl.yaml"

// fileConfig is the optional per-user configuration at ~/.gattctl.yaml.
type fileConfig struct {
	Adapter  string `yaml:"adapter" default:"hci0"`
	LogLevel string `yaml:"log_level"`
}

// loadFileConfig reads ~/.gattctl.yaml when present. A missing file yields
// the defaults; a malformed one is an error.
func loadFileConfig() (*fileConfig, error) {
	cfg := &fileConfig{}
	defaults.SetDefaults(cfg)

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Join(home, configFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", configFileName, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configFileName, err)
	}
	if cfg.Adapter == "" {
		defaults.SetDefaults(cfg)
	}
	return cfg, nil
}

// newManager wires flags, the config file, the logger, and the system bus
// into a ready DeviceManager. The --adapter flag wins over the file value.
func newManager(cmd *cobra.Command, cfg *gatt.Config) (*gatt.DeviceManager, *logrus.Logger, error) {
	fileCfg, err := loadFileConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := configureLogger(cmd, fileCfg)
	if err != nil {
		return nil, nil, err
	}

	adapter, _ := cmd.Flags().GetString("adapter")
	if adapter == "" {
		adapter = fileCfg.Adapter
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	bus, err := bluez.SystemBus()
	if err != nil {
		return nil, nil, err
	}

	if cfg == nil {
		cfg = &gatt.Config{}
	}
	cfg.AdapterName = adapter
	cfg.Logger = logger

	m, err := gatt.NewDeviceManager(bus, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, logger, nil
}
