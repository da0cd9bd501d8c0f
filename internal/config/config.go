// Package config loads the TRAC_CONFIG_FILE-pointed system config (§6),
// which holds the bucket storage descriptor, plus the pflag-bound
// command-line settings (gRPC bind address, metadata store connection
// string) every binary in cmd/ accepts. Grounded on the teacher's
// internal/source/server Config.Bind/Preflight shape (flags own the
// zero-value defaults, Preflight rejects an inconsistent combination
// once all sources have been merged) and on nishisan-dev-n-backup's use
// of gopkg.in/yaml.v3 for a declarative config file among the pack's
// other yaml consumers.
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Protocol is a storage bucket's backend kind. Only Local is
// implemented by this core; the others are named so a config file
// written against a future backend still parses (§1: "Storage plugin
// backends beyond a local-filesystem reference" are an external
// collaborator of this core, not unsupported syntax).
type Protocol string

const (
	ProtocolLocal Protocol = "LOCAL"
	ProtocolS3    Protocol = "S3"
	ProtocolGCS   Protocol = "GCS"
)

// BucketConfig is one entry of the buckets: map in §6's storage
// descriptor.
type BucketConfig struct {
	Protocol Protocol `yaml:"protocol"`
	RootPath string   `yaml:"rootPath"`
}

// SystemConfig is the on-disk shape of TRAC_CONFIG_FILE's storage
// section (the rest of the file, covering the gateway/auth/secret-store
// concerns §1 excludes, is read by an external collaborator).
type SystemConfig struct {
	Buckets       map[string]BucketConfig `yaml:"buckets"`
	DefaultBucket string                  `yaml:"defaultBucket"`
}

// Load reads and parses a SystemConfig from path.
func Load(path string) (*SystemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	var cfg SystemConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	return &cfg, nil
}

// Preflight validates the loaded config is internally consistent: every
// bucket is LOCAL (the only protocol this core's storage driver
// implements) with a non-empty rootPath, and defaultBucket names an
// entry that actually exists.
func (c *SystemConfig) Preflight() error {
	if len(c.Buckets) == 0 {
		return errors.New("no buckets configured")
	}
	for key, b := range c.Buckets {
		if b.Protocol != ProtocolLocal {
			return fmt.Errorf("bucket %q: protocol %q is not implemented by this core (§1 non-goal)", key, b.Protocol)
		}
		if b.RootPath == "" {
			return fmt.Errorf("bucket %q: rootPath is required", key)
		}
	}
	if c.DefaultBucket == "" {
		return errors.New("defaultBucket unset")
	}
	if _, ok := c.Buckets[c.DefaultBucket]; !ok {
		return fmt.Errorf("defaultBucket %q is not one of the configured buckets", c.DefaultBucket)
	}
	return nil
}

// ServerConfig is the full set of command-line-overridable settings for
// cmd/tracd, following the teacher's Config.Bind/Preflight pattern:
// flags own their zero-value defaults, and environment variables named
// in §6 locate the files flags point at by default.
type ServerConfig struct {
	ConfigFile string
	BindAddr   string
	DBConnString string
	WaitForDB  bool
}

// Bind registers this core's command-line flags on flags.
func (c *ServerConfig) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.ConfigFile, "configFile", os.Getenv("TRAC_CONFIG_FILE"),
		"path to the TRAC system config file (defaults to $TRAC_CONFIG_FILE)")
	flags.StringVar(&c.BindAddr, "bindAddr", ":8443",
		"the network address the gRPC data-plane service binds to")
	flags.StringVar(&c.DBConnString, "metadataDb", "",
		"the metadata store (postgres) connection string")
	flags.BoolVar(&c.WaitForDB, "waitForMetadataDb", false,
		"retry the initial metadata store connection instead of failing immediately")
}

// Preflight validates flag values once parsing has completed.
func (c *ServerConfig) Preflight() error {
	if c.ConfigFile == "" {
		return errors.New("configFile unset (pass --configFile or set TRAC_CONFIG_FILE)")
	}
	if c.BindAddr == "" {
		return errors.New("bindAddr unset")
	}
	if c.DBConnString == "" {
		return errors.New("metadataDb connection string unset")
	}
	return nil
}
