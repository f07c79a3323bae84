// Package config holds the full atelier service configuration, loaded
// from an optional YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"atelier/imagery"
	"atelier/shield"
)

// Config holds the full atelier configuration.
type Config struct {
	Listen        string `yaml:"listen"`
	CatalogDB     string `yaml:"catalog_db"`
	UploadsDir    string `yaml:"uploads_dir"`
	MaxUploadMB   int64  `yaml:"max_upload_mb"`
	LogLevel      string `yaml:"log_level"`
	RetentionDays int    `yaml:"event_retention_days"`

	// AnnotationSecret enables annotation-at-rest encryption when set.
	// Read from ANNOTATION_KEY only, never from the YAML file.
	AnnotationSecret string `yaml:"-"`

	Imagery imagery.Config `yaml:"imagery"`

	RateLimits map[string]shield.RateLimitConfig `yaml:"rate_limits"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	return &Config{
		Listen:        ":8080",
		CatalogDB:     "db/catalog.db",
		UploadsDir:    "data/uploads",
		MaxUploadMB:   100,
		LogLevel:      "info",
		RetentionDays: 90,
		RateLimits: map[string]shield.RateLimitConfig{
			"POST /api/protect":   {MaxRequests: 10, WindowSeconds: 60, Enabled: true},
			"POST /api/unprotect": {MaxRequests: 10, WindowSeconds: 60, Enabled: true},
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the
// file is absent), applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
	if v := os.Getenv("CATALOG_DB"); v != "" {
		c.CatalogDB = v
	}
	if v := os.Getenv("UPLOADS_DIR"); v != "" {
		c.UploadsDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxUploadMB = n
		}
	}
	c.AnnotationSecret = os.Getenv("ANNOTATION_KEY")
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.CatalogDB == "" {
		return fmt.Errorf("catalog_db is required")
	}
	if c.UploadsDir == "" {
		return fmt.Errorf("uploads_dir is required")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be > 0")
	}
	return nil
}
