// Package config loads the engine's configuration from environment
// variables (with an optional .env fallback and an optional YAML override),
// mirroring the teacher's koanf-based pkg/config.Load.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds every detection-engine field from the documented spec plus
// the ambient fields needed to run as a real process.
type Config struct {
	// Detection (documented defaults, unchanged).
	WindowSizeSeconds          int     `koanf:"window_size_seconds"`
	LatencyP99ThresholdMS      float64 `koanf:"latency_p99_threshold_ms"`
	ErrorRateThreshold         float64 `koanf:"error_rate_threshold"`
	TrafficDropThreshold       float64 `koanf:"traffic_drop_threshold"`
	ConsecutiveWindowsForAlert int     `koanf:"consecutive_windows_for_alert"`
	AlertCooldownSeconds       int     `koanf:"alert_cooldown_seconds"`
	DetectionIntervalMessages  int64   `koanf:"detection_interval_messages"`

	// Ambient: bus, process, and admin-server wiring.
	KafkaBrokers           string `koanf:"kafka_brokers"`
	IngestTopic            string `koanf:"ingest_topic"`
	AlertsTopic            string `koanf:"alerts_topic"`
	ConsumerGroup          string `koanf:"consumer_group"`
	ConsumerTimeoutMS      int    `koanf:"consumer_timeout_ms"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
	LogLevel               string `koanf:"log_level"`
	AdminAddr              string `koanf:"admin_addr"`
}

// defaults mirrors every "(default X)" called out in the documented spec.
func defaults() *Config {
	return &Config{
		WindowSizeSeconds:          60,
		LatencyP99ThresholdMS:      500.0,
		ErrorRateThreshold:         0.05,
		TrafficDropThreshold:       0.5,
		ConsecutiveWindowsForAlert: 3,
		AlertCooldownSeconds:       300,
		DetectionIntervalMessages:  10,

		KafkaBrokers:           "localhost:9092",
		IngestTopic:            "metrics.raw",
		AlertsTopic:            "alerts.fired",
		ConsumerGroup:          "stream-processor-group",
		ConsumerTimeoutMS:      1000,
		ShutdownTimeoutSeconds: 10,
		LogLevel:               "info",
		AdminAddr:              ":9090",
	}
}

// Brokers splits KafkaBrokers on commas, trimming whitespace.
func (c *Config) Brokers() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConsumerTimeout returns ConsumerTimeoutMS as a time.Duration.
func (c *Config) ConsumerTimeout() time.Duration {
	return time.Duration(c.ConsumerTimeoutMS) * time.Millisecond
}

// ShutdownTimeout returns ShutdownTimeoutSeconds as a time.Duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// CooldownDuration returns AlertCooldownSeconds as a time.Duration.
func (c *Config) CooldownDuration() time.Duration {
	return time.Duration(c.AlertCooldownSeconds) * time.Second
}

// Load builds the Config from, in increasing precedence: built-in defaults,
// an optional YAML file (yamlPath, ignored if empty or missing), a .env
// file in the working directory (best-effort, matching the teacher's
// non-fatal-if-absent convention), then process environment variables
// uppercased to match each koanf tag (e.g. WINDOW_SIZE_SECONDS).
func Load(yamlPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if yamlPath != "" {
		if _, err := os.Stat(yamlPath); err == nil {
			if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load yaml config %s: %w", yamlPath, err)
			}
		}
	}

	_ = godotenv.Load() // .env is optional; absence is not an error

	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(k, v string) (string, any) {
			return strings.ToLower(k), v
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
