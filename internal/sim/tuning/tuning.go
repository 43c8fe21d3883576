package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz      int  `yaml:"tick_rate_hz"`
	MoveDurationMs  int  `yaml:"move_duration_ms"`
	MaxQueuedInputs int  `yaml:"max_queued_inputs"`
	PushCooldown    bool `yaml:"push_cooldown"`

	Level   LevelTuning   `yaml:"level"`
	Logging LoggingTuning `yaml:"logging"`
	Journal JournalTuning `yaml:"journal"`
}

type LevelTuning struct {
	// Path to a level YAML. Empty means generate.
	Path       string `yaml:"path"`
	Seed       int64  `yaml:"seed"`
	Iterations int    `yaml:"iterations"`
	MaxSize    int    `yaml:"max_size"`
	Crates     int    `yaml:"crates"`
}

type LoggingTuning struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type JournalTuning struct {
	Enabled bool `yaml:"enabled"`
	// SQLite move index next to the journal.
	IndexDB bool `yaml:"index_db"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      60,
		MoveDurationMs:  120,
		PushCooldown:    true,
		Level: LevelTuning{
			Seed:       1,
			Iterations: 30,
			MaxSize:    6,
			Crates:     3,
		},
		Logging: LoggingTuning{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Journal: JournalTuning{Enabled: true, IndexDB: true},
	}
}

// Load reads path over Defaults, so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	}
	if t.MoveDurationMs <= 0 {
		return fmt.Errorf("move_duration_ms must be positive: %d", t.MoveDurationMs)
	}
	if t.MaxQueuedInputs < 0 {
		return fmt.Errorf("max_queued_inputs must not be negative: %d", t.MaxQueuedInputs)
	}
	if t.Level.Path == "" && t.Level.MaxSize <= 0 {
		return fmt.Errorf("level.max_size must be positive when generating")
	}
	return nil
}

func (t Tuning) MoveDuration() time.Duration {
	return time.Duration(t.MoveDurationMs) * time.Millisecond
}
