// Package config loads the YAML configuration surface spec.md §6
// describes: broker address, sideband thresholds, and call timeouts,
// following the teacher's flat Config-struct-plus-Load convention.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppName string `yaml:"app_name"`
	Debug   bool   `yaml:"debug"`

	Broker BrokerConfig `yaml:"broker"`

	AwaitTimeoutSeconds float64 `yaml:"await_timeout_seconds"`
	SidebandBytes       int     `yaml:"sideband_bytes"`
	KVKeyPrefix         string  `yaml:"kv_key_prefix"`
}

// BrokerConfig addresses the Redis instance serving both pub/sub and the
// sideband KV (spec.md §4.2's "key/value broker with PUBSUB").
type BrokerConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func defaults() Config {
	return Config{
		AppName:             "pubsubrpc",
		AwaitTimeoutSeconds: 30,
		SidebandBytes:       64 * 1024,
		KVKeyPrefix:         "pubsubrpc:sideband:",
		Broker: BrokerConfig{
			Address: "localhost:6379",
		},
	}
}

// Load reads and parses a YAML config file, filling in defaults for any
// field the file does not set, then applies environment overrides.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// FromEnv builds a Config from defaults plus environment overrides alone,
// for callers (tests, demos) that don't want to carry a YAML file,
// mirroring the teacher's GetDebugFromEnv/GetEnvConfig helpers.
func FromEnv() *Config {
	cfg := defaults()
	applyEnvOverrides(&cfg)
	return &cfg
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("PUBSUBRPC_BROKER_ADDRESS"); addr != "" {
		cfg.Broker.Address = addr
	}
	if pass := os.Getenv("PUBSUBRPC_BROKER_PASSWORD"); pass != "" {
		cfg.Broker.Password = pass
	}
	if os.Getenv("PUBSUBRPC_DEBUG") == "true" {
		cfg.Debug = true
	}
}
