// Package config loads the CLI's job configuration: a YAML file
// (gopkg.in/yaml.v3, the same tag set yanet2's coordinator.Config and
// balancer.Config use) with human-readable sizes and speeds
// (c2h5oh/datasize), replacing ublk-mem's hand-rolled
// parseSize/formatSize (cmd/ublk-mem/main.go) with a real parser.
package config

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/behrlich/go-cowbackup"
	"github.com/behrlich/go-cowbackup/internal/logging"
)

// Config is the on-disk job configuration for `cowbackup start`.
type Config struct {
	// Source and Target are device URIs: "mem:<size>" for an in-memory
	// device, or a bare filesystem path for a file-backed device. Source
	// accepts only "mem:<size>"; a filesystem path is rejected. Target is
	// created at Size if it does not exist.
	Source string `yaml:"source"`
	Target string `yaml:"target"`

	// Size is the target's size when it must be created. Ignored for an
	// existing file target.
	Size datasize.ByteSize `yaml:"size"`

	// Speed is the sweep's rate limit; 0 means unlimited.
	Speed datasize.ByteSize `yaml:"speed"`

	OnSourceError string `yaml:"on_source_error"`
	OnTargetError string `yaml:"on_target_error"`

	Log logging.Config `yaml:"log"`
}

// DefaultConfig returns the CLI's default configuration: unlimited speed,
// report-on-error for both sides.
func DefaultConfig() *Config {
	return &Config{
		Size:          64 * datasize.MB,
		OnSourceError: "report",
		OnTargetError: "report",
		Log:           *logging.DefaultConfig(),
	}
}

// Load reads and parses a YAML config file at path, starting from
// DefaultConfig so fields the file omits keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse YAML configuration: %w", err)
	}
	return cfg, nil
}

// ParsePolicy maps a config string onto a cowbackup.ErrorPolicy.
func ParsePolicy(s string) (cowbackup.ErrorPolicy, error) {
	switch s {
	case "", "report":
		return cowbackup.OnErrorReport, nil
	case "ignore":
		return cowbackup.OnErrorIgnore, nil
	case "stop":
		return cowbackup.OnErrorStop, nil
	case "enospc":
		return cowbackup.OnErrorENOSPC, nil
	default:
		return 0, fmt.Errorf("unknown error policy %q (want report, ignore, stop, or enospc)", s)
	}
}

// ToJobConfig resolves the YAML config into the in-process cowbackup.Config
// Start consumes.
func (c *Config) ToJobConfig() (cowbackup.Config, error) {
	sourcePolicy, err := ParsePolicy(c.OnSourceError)
	if err != nil {
		return cowbackup.Config{}, fmt.Errorf("on_source_error: %w", err)
	}
	targetPolicy, err := ParsePolicy(c.OnTargetError)
	if err != nil {
		return cowbackup.Config{}, fmt.Errorf("on_target_error: %w", err)
	}
	return cowbackup.Config{
		Speed:         int64(c.Speed.Bytes()),
		OnSourceError: sourcePolicy,
		OnTargetError: targetPolicy,
	}, nil
}
