package config

import (
	"fmt"
	"time"
)

// Config represents a prospector.yaml configuration file.
// All values are optional and act as defaults for prospector collect flags.
// CLI flags always override config values.
type Config struct {
	Location   string         `yaml:"location"`
	MaxUsers   int            `yaml:"max_users"`
	StartUser  int            `yaml:"start_user"`
	BatchSize  int            `yaml:"batch_size"`
	DataDir    string         `yaml:"data_dir"`
	Partitions string         `yaml:"partitions"`
	TokensFile string         `yaml:"tokens_file"`
	Queue      QueueConfig    `yaml:"queue"`
	Workers    WorkersConfig  `yaml:"workers"`
	Filter     FilterConfig   `yaml:"filter"`
	Storage    StorageConfig  `yaml:"storage"`
	Timeouts   TimeoutsConfig `yaml:"timeouts"`
}

// QueueConfig holds task queue defaults from the config file.
type QueueConfig struct {
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// WorkersConfig holds worker process defaults from the config file.
type WorkersConfig struct {
	Count  int  `yaml:"count"`
	NoAuto bool `yaml:"no_auto"`
}

// FilterConfig holds inclusion policy defaults from the config file.
type FilterConfig struct {
	MinRepos int `yaml:"min_repos"`
	MinStars int `yaml:"min_stars"`
}

// StorageConfig holds output sink defaults from the config file.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Output      string `yaml:"output"`
	S3Path      string `yaml:"s3_path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// TimeoutsConfig holds monitoring timeout defaults from the config file.
type TimeoutsConfig struct {
	Idle     Duration `yaml:"idle"`
	Absolute Duration `yaml:"absolute"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
