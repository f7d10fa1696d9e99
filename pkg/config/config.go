package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/harvester/usb-flasher/pkg/bootable"
	"github.com/harvester/usb-flasher/pkg/tools"
	"github.com/harvester/usb-flasher/pkg/utils"
	"github.com/harvester/usb-flasher/pkg/writer"
)

const DefaultConfigFile = "usb-flasher.yaml"

// RawConfig tunes the raw image writer.
type RawConfig struct {
	ChunkSize int `yaml:"chunkSize"`
}

// InventoryConfig tunes drive enumeration.
type InventoryConfig struct {
	ExcludeModels     []string      `yaml:"excludeModels,omitempty"`
	ExcludePaths      []string      `yaml:"excludePaths,omitempty"`
	ExcludeMediaTypes []string      `yaml:"excludeMediaTypes,omitempty"`
	UdevRules         string        `yaml:"udevRules,omitempty"`
	CommandTimeout    time.Duration `yaml:"commandTimeout"`
}

// ServerConfig tunes the HTTP API.
type ServerConfig struct {
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// Config is the complete file layout. Sections left out of the file keep
// their defaults.
type Config struct {
	Tools     tools.Paths     `yaml:"tools"`
	Raw       RawConfig       `yaml:"raw"`
	Bootable  bootable.Config `yaml:"bootable"`
	Inventory InventoryConfig `yaml:"inventory"`
	Server    ServerConfig    `yaml:"server"`
}

func Default() *Config {
	return &Config{
		Tools:    tools.DefaultPaths(),
		Raw:      RawConfig{ChunkSize: writer.DefaultChunkSize},
		Bootable: bootable.DefaultConfig(),
		Inventory: InventoryConfig{
			CommandTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Address:        "127.0.0.1:8089",
			AllowedOrigins: []string{"http://localhost:*"},
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	stream, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Infof("Config file %s not found, using defaults", path)
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := yaml.Unmarshal(stream, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file %s", path)
	}

	logrus.Infof("Successfully loaded config file %s", path)
	logrus.Debugf("  - ExcludeModels: %s", strings.Join(cfg.Inventory.ExcludeModels, ","))
	logrus.Debugf("  - ExcludePaths: %s", strings.Join(cfg.Inventory.ExcludePaths, ","))
	logrus.Debugf("  - ExcludeMediaTypes: %s", strings.Join(cfg.Inventory.ExcludeMediaTypes, ","))
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Raw.ChunkSize < writer.SectorSize {
		return fmt.Errorf("raw.chunkSize must be at least %d bytes, got %d", writer.SectorSize, c.Raw.ChunkSize)
	}
	if c.Bootable.MountTimeout <= 0 {
		return fmt.Errorf("bootable.mountTimeout must be positive, got %s", c.Bootable.MountTimeout)
	}
	if c.Bootable.MountPollInterval <= 0 {
		return fmt.Errorf("bootable.mountPollInterval must be positive, got %s", c.Bootable.MountPollInterval)
	}
	if c.Bootable.VolumeTimeout <= 0 {
		return fmt.Errorf("bootable.volumeTimeout must be positive, got %s", c.Bootable.VolumeTimeout)
	}
	if !utils.IsDriveLetter(c.Bootable.VolumeLetter) {
		return fmt.Errorf("bootable.volumeLetter must be a single letter A-Z, got %q", c.Bootable.VolumeLetter)
	}
	if c.Bootable.FileSystem == "" || c.Bootable.BootCode == "" {
		return errors.New("bootable.fileSystem and bootable.bootCode must be set")
	}
	if c.Inventory.CommandTimeout < 0 {
		return fmt.Errorf("inventory.commandTimeout must not be negative, got %s", c.Inventory.CommandTimeout)
	}
	return nil
}
