package livetest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile loads a YAML configuration file on top of the defaults.
// Keys missing from the file keep their default values.
func LoadFile(path string, opts ...Option) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Apply(opts...); err != nil {
		return nil, err
	}
	return cfg, nil
}
