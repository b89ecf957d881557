// Package config loads the ingest.yaml configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the conventional configuration file name.
const FileName = "ingest.yaml"

// Config represents the top-level ingest.yaml configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Poller   PollerConfig   `yaml:"poller"`
	Teller   TellerConfig   `yaml:"teller"`
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// DatabaseConfig points at the Postgres database.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// IngestConfig controls file ingestion.
type IngestConfig struct {
	IncomingDir    string   `yaml:"incoming_dir"`
	MappingsDir    string   `yaml:"mappings_dir"`
	RescanInterval Duration `yaml:"rescan_interval"`
	SettleInterval Duration `yaml:"settle_interval"` // size must hold this long before ingest
	RunLog         string   `yaml:"run_log"`
	RefreshView    string   `yaml:"refresh_view"` // empty disables the refresh
}

// PollerConfig controls the API polling engine.
type PollerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Institution     string   `yaml:"institution"`
	Interval        Duration `yaml:"interval"`
	MaxAttempts     int      `yaml:"max_attempts"`
	BaseDelay       Duration `yaml:"base_delay"`
	Multiplier      float64  `yaml:"multiplier"`
	BackfillOnStart bool     `yaml:"backfill_on_start"`
}

// TellerConfig holds the provider API endpoint and credentials.
type TellerConfig struct {
	BaseURL  string   `yaml:"base_url"`
	Tokens   []string `yaml:"tokens,omitempty"`
	CertFile string   `yaml:"cert_file"`
	KeyFile  string   `yaml:"key_file"`
	Timeout  Duration `yaml:"timeout"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// HTTPConfig controls the HTTP adapter.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Duration is a time.Duration written as "30s" or "1h" in YAML.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads an ingest.yaml file from disk. Fields absent from the file keep
// their defaults; relative paths are taken relative to the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Resolve(filepath.Dir(path))
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new deployment.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{MaxConns: 4},
		Ingest: IngestConfig{
			IncomingDir:    "incoming",
			MappingsDir:    "mappings",
			RescanInterval: Duration(30 * time.Second),
			SettleInterval: Duration(time.Second),
			RunLog:         filepath.Join("logs", "ingest-log.csv"),
			RefreshView:    "transactions_view",
		},
		Poller: PollerConfig{
			Enabled:         true,
			Institution:     "teller",
			Interval:        Duration(time.Hour),
			MaxAttempts:     3,
			BaseDelay:       Duration(time.Second),
			Multiplier:      2,
			BackfillOnStart: true,
		},
		Teller: TellerConfig{
			BaseURL: "https://api.teller.io",
			Timeout: Duration(30 * time.Second),
		},
		Log:  LogConfig{Level: "info", Format: "console"},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Resolve makes relative file paths absolute against base.
func (c *Config) Resolve(base string) {
	for _, p := range []*string{&c.Ingest.IncomingDir, &c.Ingest.MappingsDir, &c.Ingest.RunLog,
		&c.Teller.CertFile, &c.Teller.KeyFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv() {
	c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("DB_URL", &c.Database.URL)
	set("TELLER_CERT_FILE", &c.Teller.CertFile)
	set("TELLER_KEY_FILE", &c.Teller.KeyFile)
	set("INGEST_DIR", &c.Ingest.IncomingDir)
	set("INGEST_CONFIG_DIR", &c.Ingest.MappingsDir)
	if v, ok := lookup("TELLER_TOKENS"); ok && strings.TrimSpace(v) != "" {
		c.Teller.Tokens = SplitTokens(v)
	}
}

// SplitTokens splits a comma-separated token list, dropping blanks.
func SplitTokens(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.MaxConns < 0 {
		errs = append(errs, errors.New("database.max_conns must not be negative"))
	}
	if c.Ingest.IncomingDir == "" {
		errs = append(errs, errors.New("ingest.incoming_dir is required"))
	}
	if c.Ingest.RescanInterval <= 0 {
		errs = append(errs, errors.New("ingest.rescan_interval must be positive"))
	}
	if c.Ingest.SettleInterval < 0 {
		errs = append(errs, errors.New("ingest.settle_interval must not be negative"))
	}
	if c.Poller.Enabled && c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("poller.interval must be positive"))
	}
	if c.Poller.MaxAttempts < 1 {
		errs = append(errs, errors.New("poller.max_attempts must be at least 1"))
	}
	if c.Poller.BaseDelay < 0 {
		errs = append(errs, errors.New("poller.base_delay must not be negative"))
	}
	if c.Poller.Multiplier < 1 {
		errs = append(errs, errors.New("poller.multiplier must be at least 1"))
	}
	if (c.Teller.CertFile == "") != (c.Teller.KeyFile == "") {
		errs = append(errs, errors.New("teller.cert_file and teller.key_file must be set together"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
