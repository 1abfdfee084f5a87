package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	appLog "apsgen/internal/log"
)

// NOTE: Load creates a default config on first run; Save writes atomically
// with 0600 permissions.

// Event source kinds.
const (
	SourceAPI = "api"
	SourceICS = "ics"
)

const (
	DefaultBaseURL           = "http://localhost:4321"
	DefaultTimeoutSeconds    = 10
	DefaultMaxRetries        = 3
	DefaultRequestsPerSecond = 2.0
	DefaultLogoPath          = "files/APS logo-black.svg"
	DefaultTimezone          = "America/Edmonton"
	DefaultCacheDir          = "./cache/ics-cache"
	DefaultSchedule          = "0 8 * * 1"
	DefaultListen            = "127.0.0.1:8080"
	DefaultLogLevel          = "info"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for caching and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the preview server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// BaseURL is the APS site hosting /api/events.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// TimeoutSeconds bounds each HTTP attempt.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`

	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// RequestsPerSecond throttles outgoing fetches.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	// LogoPath is referenced by every graphic.
	LogoPath string `yaml:"logo_path" json:"logo_path"`

	// OutputDir receives the batch output. Empty means a directory named
	// after the start date.
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// Source selects where events come from:
	//   - "api" (default): the APS events API at BaseURL
	//   - "ics": the subscriptions listed in ICS
	Source string `yaml:"source" json:"source"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// Timezone is the IANA zone used for ICS occurrences and schedules.
	Timezone string `yaml:"timezone" json:"timezone"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Schedule is a cron spec for -schedule mode.
	Schedule string `yaml:"schedule" json:"schedule"`

	// Listen is the HTTP listen address for -serve mode.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// ExportPNG rasterizes each graphic with headless Chromium.
	ExportPNG bool `yaml:"export_png" json:"export_png"`

	// ExportICS writes events.ics next to the digest.
	ExportICS bool `yaml:"export_ics" json:"export_ics"`

	// LogLevel is debug, info, warn or error. -verbose / -quiet override it.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           DefaultBaseURL,
		TimeoutSeconds:    DefaultTimeoutSeconds,
		MaxRetries:        DefaultMaxRetries,
		RequestsPerSecond: DefaultRequestsPerSecond,
		LogoPath:          DefaultLogoPath,
		Source:            SourceAPI,
		ICS:               []ICSConfig{},
		Timezone:          DefaultTimezone,
		CacheDir:          DefaultCacheDir,
		Schedule:          DefaultSchedule,
		Listen:            DefaultListen,
		LogLevel:          DefaultLogLevel,
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.LogoPath == "" {
		c.LogoPath = DefaultLogoPath
	}
	switch c.Source {
	case SourceAPI, SourceICS:
	default:
		// Unknown or empty; the API is the primary source.
		c.Source = SourceAPI
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Timeout returns the per-attempt HTTP timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Source == SourceICS {
		n := 0
		for _, s := range c.ICS {
			if s.URL != "" {
				n++
			}
		}
		if n == 0 {
			return errors.New("config: source is \"ics\" but no ics urls are configured")
		}
	}
	if _, err := appLog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "") != (c.BasicAuth.Password == "") {
		return errors.New("config: basic_auth needs both username and password")
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	cfg, found, err := read(path)
	if err != nil || found {
		return cfg, err
	}
	if err := Save(path, cfg); err != nil {
		// Even if save fails, return cfg with error so caller can decide.
		return cfg, err
	}
	return cfg, nil
}

// Read is Load without the first-run write: a missing file yields the
// defaults and nothing is created.
func Read(path string) (*Config, error) {
	cfg, _, err := read(path)
	return cfg, err
}

func read(path string) (*Config, bool, error) {
	if path == "" {
		return nil, false, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), false, nil
		}
		return nil, false, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, true, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, true, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".apsgen-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
