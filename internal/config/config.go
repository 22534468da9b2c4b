// Package config loads the dissemin configuration from YAML, .env files and
// the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/wetneb/dissemin/internal/resilience"
)

const (
	// AppDir is the directory name under the XDG config and data homes.
	AppDir = "dissemin"
	// ConfigFile is the config file name.
	ConfigFile = "config.yml"
	// DBFile is the default SQLite catalog file name.
	DBFile = "catalog.db"
)

// ORCID instances.
const (
	ProductionDomain = "orcid.org"
	SandboxDomain    = "sandbox.orcid.org"
)

// Error policies for unexpected per-profile failures during bulk imports.
const (
	PolicyAbort    = "abort"
	PolicyContinue = "continue"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full dissemin configuration.
type Config struct {
	ORCIDBaseDomain string  `yaml:"orcid_base_domain"`
	ORCIDAPIURL     string  `yaml:"orcid_api_url,omitempty"`
	ORCIDRateLimit  float64 `yaml:"orcid_rate_limit"` // requests per second

	CrossrefURL       string  `yaml:"crossref_url"`
	CrossrefMailto    string  `yaml:"crossref_mailto,omitempty"`
	CrossrefRateLimit float64 `yaml:"crossref_rate_limit"`
	DOIProxyURL       string  `yaml:"doi_proxy_url,omitempty"`

	HTTPTimeout time.Duration     `yaml:"http_timeout"`
	Resilience  resilience.Config `yaml:"resilience"`

	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Import   ImportConfig   `yaml:"import"`
	Log      LogConfig      `yaml:"log"`

	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// DatabaseConfig selects the catalog store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// NATSConfig enables the NATS notification fan-out when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject"`
}

// ImportConfig tunes bulk imports.
type ImportConfig struct {
	Workers           int    `yaml:"workers"`
	OnUnexpectedError string `yaml:"on_unexpected_error"`
	TempDir           string `yaml:"temp_dir,omitempty"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ORCIDBaseDomain:   ProductionDomain,
		ORCIDRateLimit:    10,
		CrossrefURL:       "https://api.crossref.org",
		CrossrefRateLimit: 10,
		HTTPTimeout:       30 * time.Second,
		Resilience:        resilience.DefaultConfig(),
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    filepath.Join(xdg.DataHome, AppDir, DBFile),
		},
		NATS:   NATSConfig{Subject: "dissemin.notifications"},
		Import: ImportConfig{Workers: 1, OnUnexpectedError: PolicyAbort},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Path returns the default config file path, honoring XDG_CONFIG_HOME.
func Path() string {
	return filepath.Join(xdg.ConfigHome, AppDir, ConfigFile)
}

// cache holds the config loaded from the default path.
var cache *Config

// Global loads the config from the default path once.
func Global() (*Config, error) {
	if cache != nil {
		return cache, nil
	}
	cfg, err := Load("")
	if err != nil {
		return nil, err
	}
	cache = cfg
	return cfg, nil
}

// ResetCache clears the cached config. Useful for testing.
func ResetCache() {
	cache = nil
}

// Load reads the config file at path (the default path when empty),
// applies environment overrides and validates the result. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DISSEMIN_ORCID_BASE_DOMAIN":   &c.ORCIDBaseDomain,
		"DISSEMIN_ORCID_API_URL":       &c.ORCIDAPIURL,
		"DISSEMIN_DATABASE_DRIVER":     &c.Database.Driver,
		"DISSEMIN_DATABASE_DSN":        &c.Database.DSN,
		"DISSEMIN_CROSSREF_URL":        &c.CrossrefURL,
		"DISSEMIN_CROSSREF_MAILTO":     &c.CrossrefMailto,
		"DISSEMIN_DOI_PROXY_URL":       &c.DOIProxyURL,
		"DISSEMIN_NATS_URL":            &c.NATS.URL,
		"DISSEMIN_NATS_SUBJECT":        &c.NATS.Subject,
		"DISSEMIN_ON_UNEXPECTED_ERROR": &c.Import.OnUnexpectedError,
		"DISSEMIN_METRICS_ADDR":        &c.MetricsAddr,
		"LOG_LEVEL":                    &c.Log.Level,
		"LOG_FORMAT":                   &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("DISSEMIN_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: DISSEMIN_WORKERS=%q is not a number", ErrInvalidConfig, v)
		}
		c.Import.Workers = n
	}
	return nil
}

// Validate checks enumerated fields and URLs.
func (c *Config) Validate() error {
	if c.ORCIDBaseDomain != ProductionDomain && c.ORCIDBaseDomain != SandboxDomain {
		return fmt.Errorf("%w: orcid_base_domain must be %s or %s, got %q",
			ErrInvalidConfig, ProductionDomain, SandboxDomain, c.ORCIDBaseDomain)
	}
	if c.Database.Driver != DriverSQLite && c.Database.Driver != DriverPostgres {
		return fmt.Errorf("%w: database.driver must be %s or %s, got %q",
			ErrInvalidConfig, DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if c.Import.OnUnexpectedError != PolicyAbort && c.Import.OnUnexpectedError != PolicyContinue {
		return fmt.Errorf("%w: import.on_unexpected_error must be %s or %s, got %q",
			ErrInvalidConfig, PolicyAbort, PolicyContinue, c.Import.OnUnexpectedError)
	}
	if c.Import.Workers < 1 {
		return fmt.Errorf("%w: import.workers must be at least 1, got %d", ErrInvalidConfig, c.Import.Workers)
	}
	for name, raw := range map[string]string{"crossref_url": c.CrossrefURL, "orcid_api_url": c.ORCIDAPIURL, "doi_proxy_url": c.DOIProxyURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s is not an absolute URL: %q", ErrInvalidConfig, name, raw)
		}
	}
	return nil
}

// ORCIDAPI returns the public API base URL of the configured instance,
// such as https://pub.orcid.org/v2.1.
func (c *Config) ORCIDAPI() string {
	if c.ORCIDAPIURL != "" {
		return strings.TrimRight(c.ORCIDAPIURL, "/")
	}
	return "https://pub." + c.ORCIDBaseDomain + "/v2.1"
}

// Redacted returns a copy safe to print: credentials in the database DSN
// and NATS URL are masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Database.DSN = redactURL(c.Database.DSN)
	out.NATS.URL = redactURL(c.NATS.URL)
	return &out
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
