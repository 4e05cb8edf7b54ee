// Package config loads and validates .reed/config.toml: one
// struct-of-structs Config, a Default, and a Load that
// parses then validates with github.com/pelletier/go-toml/v2, rejecting
// unknown keys at open.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/reedbase/reedbase/pkg/reederr"
)

// Config groups the engine
type Config struct {
	Versioning  VersioningConfig  `toml:"versioning"`
	Concurrency ConcurrencyConfig `toml:"concurrency"`
	Indices     IndicesConfig     `toml:"indices"`
	Backup      BackupConfig      `toml:"backup"`
	Frames      FramesConfig      `toml:"frames"`
}

type VersioningConfig struct {
	MaxVersions    int  `toml:"max_versions"`
	AutoSnapshot   bool `toml:"auto_snapshot"`
	DeltaChainMax  int  `toml:"delta_chain_max"`
}

type ConcurrencyConfig struct {
	LockTimeoutSeconds int    `toml:"lock_timeout_seconds"`
	QueueSize          int    `toml:"queue_size"`
	MergeStrategy      string `toml:"merge_strategy"`
}

type IndicesConfig struct {
	DefaultBackend string                    `toml:"default_backend"`
	PerIndex       map[string]PerIndexConfig `toml:"per_index"`
}

type PerIndexConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type BackupConfig struct {
	RetentionDays int `toml:"retention_days"`
}

type FramesConfig struct {
	RetentionDays int `toml:"retention_days"`
}

// LockTimeout returns the configured lock-acquisition timeout as a
// time.Duration, defaulting to 30s.
func (c *Config) LockTimeout() time.Duration {
	if c.Concurrency.LockTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Concurrency.LockTimeoutSeconds) * time.Second
}

// Default returns the engine's built-in defaults, used when no
// config.toml is present.
func Default() *Config {
	return &Config{
		Versioning: VersioningConfig{
			MaxVersions:   0, // unbounded; retention is a separate maintenance pass
			AutoSnapshot:  true,
			DeltaChainMax: 0,
		},
		Concurrency: ConcurrencyConfig{
			LockTimeoutSeconds: 30,
			QueueSize:          1000,
			MergeStrategy:      "last_write_wins",
		},
		Indices: IndicesConfig{
			DefaultBackend: "hash",
			PerIndex:       map[string]PerIndexConfig{},
		},
		Backup: BackupConfig{RetentionDays: 30},
		Frames: FramesConfig{RetentionDays: 30},
	}
}

// Load reads and validates path (normally <root>/.reed/config.toml). A
// missing file is not an error, the engine falls back to Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, reederr.Wrap(reederr.KindIO, "reading config.toml", err).WithPath(path)
	}

	if err := rejectUnknownKeys(data); err != nil {
		return nil, err
	}

	if err := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(cfg); err != nil {
		return nil, reederr.Wrap(reederr.KindIndexConfigInvalid, "parsing config.toml", err).WithPath(path)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var knownTopLevel = map[string]bool{
	"versioning": true, "concurrency": true, "indices": true, "backup": true, "frames": true,
}

// rejectUnknownKeys decodes into a generic map and checks every
// top-level table name is recognised, since toml.Unmarshal silently
// ignores fields it doesn't know about.
func rejectUnknownKeys(data []byte) error {
	raw := map[string]any{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return reederr.Wrap(reederr.KindIndexConfigInvalid, "parsing config.toml", err)
	}
	for key := range raw {
		if !knownTopLevel[key] {
			return reederr.New(reederr.KindIndexConfigInvalid, fmt.Sprintf("unknown config key %q", key)).
				WithHint("recognised sections: versioning, concurrency, indices, backup, frames")
		}
	}
	return nil
}

func validate(c *Config) error {
	if c.Concurrency.LockTimeoutSeconds < 0 {
		return reederr.New(reederr.KindIndexConfigInvalid, "concurrency.lock_timeout_seconds must be >= 0")
	}
	if c.Concurrency.QueueSize < 1 {
		return reederr.New(reederr.KindIndexConfigInvalid, "concurrency.queue_size must be >= 1")
	}
	switch c.Concurrency.MergeStrategy {
	case "last_write_wins", "first_write_wins", "keep_both", "manual":
	default:
		return reederr.New(reederr.KindIndexConfigInvalid, fmt.Sprintf("unknown merge_strategy %q", c.Concurrency.MergeStrategy))
	}
	switch c.Indices.DefaultBackend {
	case "hash", "btree", "trie_btree":
	default:
		return reederr.New(reederr.KindIndexConfigInvalid, fmt.Sprintf("unknown default index backend %q", c.Indices.DefaultBackend))
	}
	return nil
}
