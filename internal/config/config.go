package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	// Timezone names must resolve on minimal images.
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS subscription source whose events are
// imported as schedule items.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
	// Status is the status label given to imported items.
	Status string `yaml:"status" json:"status"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API. The
// username doubles as the live-event session key.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" envconfig:"USERNAME"`
	Password string `yaml:"password" json:"password" envconfig:"PASSWORD"`
}

// LiveConfig covers both sides of the live-event channel.
type LiveConfig struct {
	// StreamURL is the push endpoint the watch client subscribes to.
	StreamURL string `yaml:"stream_url" json:"stream_url" envconfig:"STREAM_URL"`
	// AckURL receives acknowledgments for handled events.
	AckURL string `yaml:"ack_url" json:"ack_url" envconfig:"ACK_URL"`
	// PingCron is the keep-alive schedule of the push server.
	PingCron string `yaml:"ping_cron" json:"ping_cron" envconfig:"PING_CRON"`
	// Buffer is the per-subscriber event buffer of the push server.
	Buffer int `yaml:"buffer" json:"buffer" envconfig:"BUFFER"`
	// AckTimeout bounds a single acknowledgment request.
	AckTimeout time.Duration `yaml:"ack_timeout" json:"ack_timeout" envconfig:"ACK_TIMEOUT"`
}

// Config is the top-level application configuration.
type Config struct {
	// Env selects the logger flavour: development, staging, production, test.
	Env string `yaml:"env" json:"env" envconfig:"ENV"`

	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" envconfig:"LISTEN"`

	// Database is the SQLite file path.
	Database string `yaml:"database" json:"database" envconfig:"DATABASE"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" envconfig:"CACHE_DIR"`

	// Timezone is the IANA timezone used to decide "today".
	Timezone string `yaml:"timezone" json:"timezone" envconfig:"TIMEZONE"`

	// WeekStart controls which weekday is column 0 of a calendar week.
	// Supported values:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start" envconfig:"WEEK_START"`

	// ICSRefreshCron is the cron schedule for re-importing ICS sources.
	ICSRefreshCron string `yaml:"ics_refresh" json:"ics_refresh" envconfig:"ICS_REFRESH"`

	// HorizonDays is how far ahead recurring ICS events are expanded.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" envconfig:"HORIZON_DAYS"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics" ignored:"true"`

	Live LiveConfig `yaml:"live" json:"live" envconfig:"LIVE"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty" envconfig:"BASIC_AUTH"`
}

// EnvPrefix is the prefix of environment overrides, e.g. JOBCAL_LISTEN.
const EnvPrefix = "JOBCAL"

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Env:            "production",
		Listen:         "127.0.0.1:8080",
		Database:       "/var/lib/jobcal/jobcal.db",
		CacheDir:       "/var/lib/jobcal/ics-cache",
		Timezone:       "Asia/Seoul",
		WeekStart:      "sunday",
		ICSRefreshCron: "*/30 * * * *",
		HorizonDays:    90,
		ICS:            []ICSConfig{},
		Live: LiveConfig{
			StreamURL:  "http://127.0.0.1:8080/api/live/stream",
			AckURL:     "http://127.0.0.1:8080/api/live/ack",
			PingCron:   "@every 30s",
			Buffer:     16,
			AckTimeout: 10 * time.Second,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Env == "" {
		c.Env = def.Env
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Database == "" {
		c.Database = def.Database
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		// Unknown value; fall back to sunday to avoid surprising layouts.
		c.WeekStart = def.WeekStart
	}
	if c.ICSRefreshCron == "" {
		c.ICSRefreshCron = def.ICSRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Live.StreamURL == "" {
		c.Live.StreamURL = def.Live.StreamURL
	}
	if c.Live.AckURL == "" {
		c.Live.AckURL = def.Live.AckURL
	}
	if c.Live.PingCron == "" {
		c.Live.PingCron = def.Live.PingCron
	}
	if c.Live.Buffer <= 0 {
		c.Live.Buffer = def.Live.Buffer
	}
	if c.Live.AckTimeout <= 0 {
		c.Live.AckTimeout = def.Live.AckTimeout
	}
	// envconfig allocates pointer structs; an empty one means "disabled".
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate rejects values Normalize cannot repair.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Env] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Env)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "") != (c.BasicAuth.Password == "") {
		return errors.New("basic_auth requires both username and password")
	}
	for i, src := range c.ICS {
		if src.URL == "" {
			return fmt.Errorf("ics[%d]: url is empty", i)
		}
	}
	return nil
}

// WeekStartDay maps WeekStart to a time.Weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
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

// Load loads configuration from the given YAML path and applies JOBCAL_*
// environment overrides.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - Environment overrides are applied, then defaults are normalized and
//     the result validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		if err := Save(path, cfg); err != nil {
			return cfg, fmt.Errorf("write default config: %w", err)
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process env overrides: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
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

	tmp, err := os.CreateTemp(dir, ".jobcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{Env=%s, Listen=%s, Database=%s, WeekStart=%s, ICS=%d, Live.PingCron=%s, BasicAuth=%t}",
		c.Env, c.Listen, c.Database, c.WeekStart, len(c.ICS), c.Live.PingCron, c.BasicAuth != nil)
}
