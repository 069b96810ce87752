package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	StorePath     string `yaml:"store_path"`
	ListenAddress string `yaml:"listen_address"`
	LogDir        string `yaml:"log_dir"`
	LogLevel      string `yaml:"log_level"`
}

type ClientConfig struct {
	ServerAddress  string `yaml:"server_address"`
	CachePath      string `yaml:"cache_path"`
	MountPoint     string `yaml:"mount_point"`
	ControlAddress string `yaml:"control_address"`
	ConflictPolicy string `yaml:"conflict_policy"`
	LogDir         string `yaml:"log_dir"`
	LogLevel       string `yaml:"log_level"`
}

func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		StorePath:     "./offs-server.db",
		ListenAddress: ":10780",
		LogLevel:      "INFO",
	}
}

func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerAddress:  "localhost:10780",
		CachePath:      "./offs-cache.db",
		ControlAddress: "127.0.0.1:10781",
		ConflictPolicy: "recreate-local",
		LogLevel:       "INFO",
	}
}

// LoadServerConfig reads a YAML config, writing the defaults on first
// run when the file does not exist.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := load(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := load(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func load(path string, cfg any) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}

		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}
