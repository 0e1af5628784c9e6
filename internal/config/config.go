// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Server struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"server"`

	Committer struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"committer"`

	Storage struct {
		CacheSize          int `json:"cache_size"`
		CompressionLevel   int `json:"compression_level"`
		CompressionMinSize int `json:"compression_min_size"`
	} `json:"storage"`

	FetchTimeoutSeconds int    `json:"fetch_timeout_seconds"`
	LogLevel            string `json:"log_level"` // debug, info, warn, error
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 7420
	cfg.Committer.Name = "graft"
	cfg.Committer.Email = "graft@localhost"
	cfg.Storage.CacheSize = 1000
	cfg.Storage.CompressionLevel = 2
	cfg.Storage.CompressionMinSize = 1024
	cfg.FetchTimeoutSeconds = 30
	cfg.LogLevel = "info"
	return cfg
}

// getConfigPath selects the config file for the current GRAFT_ENV. A
// plain ./config.json takes precedence when present.
func getConfigPath() string {
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	env := os.Getenv("GRAFT_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadOrDefault loads the config at path, falling back to defaults when
// the file does not exist. An empty path selects the GRAFT_ENV config
// file.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = getConfigPath()
	}
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}
