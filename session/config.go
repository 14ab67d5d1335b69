package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inkmill/chronicle/opgroup"
)

// Duration decodes YAML duration strings like "500ms" or "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("session: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the YAML-file configuration for a chronicle stack.
type Config struct {
	// DBPath is the document store (events, snapshots, metadata).
	DBPath string `yaml:"db_path"`
	// TelemetryDBPath is the separate telemetry database. Empty disables
	// persisted telemetry.
	TelemetryDBPath string `yaml:"telemetry_db_path"`
	LogLevel        string `yaml:"log_level"`

	Snapshot SnapshotConfig `yaml:"snapshot"`
	Grouping GroupingConfig `yaml:"grouping"`
}

// SnapshotConfig mirrors snapshot.Options for the file format.
type SnapshotConfig struct {
	BaseInterval   int64    `yaml:"base_interval"`
	MinInterval    int64    `yaml:"min_interval"`
	MaxInterval    int64    `yaml:"max_interval"`
	RateWindow     Duration `yaml:"rate_window"`
	HighRate       float64  `yaml:"high_rate"`
	HighRateFactor int64    `yaml:"high_rate_factor"`
	LowRate        float64  `yaml:"low_rate"`
	ForceAfter     Duration `yaml:"force_after"`
	WarnStateBytes int64    `yaml:"warn_state_bytes"`
	MaxStateBytes  int64    `yaml:"max_state_bytes"`
	KeepSnapshots  int      `yaml:"keep_snapshots"`
}

// GroupingConfig mirrors opgroup.Options for the file format.
type GroupingConfig struct {
	IdleTimeout Duration `yaml:"idle_timeout"`
}

func (g GroupingConfig) toOptions() opgroup.Options {
	return opgroup.Options{IdleTimeout: g.IdleTimeout.Std()}
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "chronicle.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Snapshot.KeepSnapshots < 2 {
		c.Snapshot.KeepSnapshots = 4
	}
	// Zero-valued snapshot and grouping settings fall through to the
	// package defaults in snapshot.Options and opgroup.Options.
}

// LoadConfig reads and validates a YAML config file. A missing path
// yields the defaults.
func LoadConfig(path string) (Config, error) {
	var c Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("session: read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("session: parse config %s: %w", path, err)
		}
	}
	c.defaults()
	return c, nil
}
