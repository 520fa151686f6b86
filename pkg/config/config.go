package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

type Config struct {
	Storage struct {
		Backend  string `yaml:"backend"`
		Path     string `yaml:"path"`
		Database string `yaml:"database"`
		S3       struct {
			Endpoint  string `yaml:"endpoint"`
			Region    string `yaml:"region"`
			Bucket    string `yaml:"bucket"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
		} `yaml:"s3"`
	} `yaml:"storage"`
	Vault struct {
		MaxFileSize       int64 `yaml:"max_file_size"`
		MinRetentionHours int   `yaml:"min_retention_hours"`
		MaxRetentionHours int   `yaml:"max_retention_hours"`
	} `yaml:"vault"`
	Encryption struct {
		Salt string `yaml:"salt"`
	} `yaml:"encryption"`
	ClamAV struct {
		Path           string `yaml:"path"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"clamav"`
	API struct {
		Port     string `yaml:"port"`
		AdminKey string `yaml:"admin_key"`
	} `yaml:"api"`
}

var ErrBadSalt = errors.New("config: encryption salt must be exactly 8 bytes")

// Load reads config.yaml (or CONFIG_PATH), applies defaults and environment
// overrides. A missing file is not an error; the defaults are usable for a
// local instance.
func Load() (*Config, error) {
	config := defaultConfig()

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
	}

	// Secrets may be supplied via environment instead of the config file.
	if key := os.Getenv("VAULT_ADMIN_KEY"); key != "" {
		config.API.AdminKey = key
	}
	if salt := os.Getenv("VAULT_SALT"); salt != "" {
		config.Encryption.Salt = salt
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the startup invariants. Violations are fatal
// misconfiguration, not per-request errors.
func (c *Config) Validate() error {
	if c.Encryption.Salt != "" && len(c.Encryption.Salt) != 8 {
		return ErrBadSalt
	}
	if c.Storage.Backend != BackendLocal && c.Storage.Backend != BackendS3 {
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendS3 && c.Storage.S3.Bucket == "" {
		return errors.New("config: s3 backend requires a bucket")
	}
	if c.Vault.MinRetentionHours <= 0 || c.Vault.MaxRetentionHours < c.Vault.MinRetentionHours {
		return errors.New("config: retention window is invalid")
	}
	if c.Vault.MaxFileSize <= 0 {
		return errors.New("config: max_file_size must be positive")
	}
	return nil
}

func defaultConfig() *Config {
	config := &Config{}
	config.Storage.Backend = BackendLocal
	config.Storage.Path = "./files"
	config.Storage.Database = "./vault.db"
	config.Vault.MaxFileSize = 512 << 20
	config.Vault.MinRetentionHours = 24
	config.Vault.MaxRetentionHours = 24 * 30
	config.ClamAV.TimeoutSeconds = 60
	config.API.Port = "8080"
	return config
}
