package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and parses the cluster configuration from a YAML file.
// Defaults are filled in before validation.
func LoadFile(path string) (*Config, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(data)
}

// Load parses the cluster configuration from YAML bytes.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Channel == "" {
		cfg.Channel = "stable"
	}
	if cfg.FlannelInterface == "" {
		cfg.FlannelInterface = "ens10"
	}
	if cfg.MaxConcurrentNodes <= 0 {
		cfg.MaxConcurrentNodes = 5
	}
	if cfg.SSHUser == "" {
		cfg.SSHUser = "root"
	}
	if cfg.KubeconfigPath == "" {
		cfg.KubeconfigPath = "kubeconfig.yaml"
	}
	if cfg.HCloudToken == "" {
		cfg.HCloudToken = os.Getenv("HCLOUD_TOKEN")
	}

	if cfg.Addons.CCMVersion == "" {
		cfg.Addons.CCMVersion = "v1.19.0"
	}
	if cfg.Addons.CSIVersion == "" {
		cfg.Addons.CSIVersion = "v2.9.0"
	}
	if cfg.Addons.KuredVersion == "" {
		cfg.Addons.KuredVersion = "1.16.0"
	}
	if cfg.Addons.IngressNginxVersion == "" {
		cfg.Addons.IngressNginxVersion = "v1.11.2"
	}
}
