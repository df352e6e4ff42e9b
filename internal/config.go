package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Vault     VaultConfig       `yaml:"vault"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Templates TemplatesConfig   `yaml:"templates"`
	Scan      ScanConfig        `yaml:"scan"`
	Search    SearchConfig      `yaml:"search"`
	Watch     WatchConfig       `yaml:"watch"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Scan.Validate(); err != nil {
		return err
	}
	return c.Search.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds the local HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns the HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the document root.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// TemplatesConfig points at the template registry file. The file is
// optional; without it every edge classifies as the default kind.
type TemplatesConfig struct {
	Path string `yaml:"path"`
}

// ScanConfig controls vault scanning.
type ScanConfig struct {
	// Excludes are exclusion patterns applied to directory and file names.
	Excludes []string `yaml:"excludes"`
	// Concurrency caps concurrent file reads during a scan.
	Concurrency int `yaml:"concurrency"`
}

// Validate validates the scan configuration.
func (c *ScanConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Concurrency, validation.Min(0), validation.Max(256)),
	)
}

// SearchConfig tunes the hybrid search engine.
type SearchConfig struct {
	OverfetchFactor int `yaml:"overfetch_factor"`
	MaxFetch        int `yaml:"max_fetch"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.OverfetchFactor, validation.Min(0), validation.Max(100)),
		validation.Field(&c.MaxFetch, validation.Min(0), validation.Max(10000)),
	)
}

// WatchConfig controls the live updater.
type WatchConfig struct {
	// Enabled turns the filesystem watcher on.
	Enabled bool `yaml:"enabled"`
	// Debounce is how long a change burst must stay quiet before an
	// incremental reindex starts.
	Debounce time.Duration `yaml:"debounce"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8471,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./othala.db",
		},
		Templates: TemplatesConfig{
			Path: "./config/templates.yaml",
		},
		Scan: ScanConfig{
			Excludes:    []string{".git", ".obsidian", "_*"},
			Concurrency: 8,
		},
		Search: SearchConfig{
			OverfetchFactor: 3,
			MaxFetch:        200,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 250 * time.Millisecond,
		},
	}
}
