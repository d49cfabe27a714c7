// Package config loads the reverify YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "reverify"
	configFile = "config.yaml"
)

// Supported row sources.
const (
	SourceAppsScript = "appsscript"
	SourceSheets     = "sheets"
)

type Config struct {
	Source        string      `yaml:"source"`
	Endpoint      string      `yaml:"endpoint"`
	Sheet         string      `yaml:"sheet"`
	SpreadsheetID string      `yaml:"spreadsheet_id"`
	User          UserConfig  `yaml:"user"`
	Listen        string      `yaml:"listen"`
	NoticeTTL     Duration    `yaml:"notice_ttl"`
	Timezone      string      `yaml:"timezone"`
	HTTP          HTTPConfig  `yaml:"http"`
	Write         WriteConfig `yaml:"write"`
}

// UserConfig is the identity the review session runs as.
type UserConfig struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

type HTTPConfig struct {
	Timeout Duration `yaml:"timeout"` // 0 means no timeout
}

// WriteConfig is the retry policy of the background sheet write.
type WriteConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
}

// Duration is a time.Duration written as "5s" in YAML.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func DefaultConfig() Config {
	return Config{
		Source:    SourceAppsScript,
		Sheet:     "DELEGATION",
		Listen:    "127.0.0.1:8080",
		NoticeTTL: Duration(5 * time.Second),
		Timezone:  "Local",
		Write: WriteConfig{
			MaxAttempts:     1,
			InitialInterval: Duration(500 * time.Millisecond),
			MaxInterval:     Duration(10 * time.Second),
		},
	}
}

func GetXdgHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := GetXdgHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the configuration at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Source == "" {
		c.Source = defaults.Source
	}
	if c.Sheet == "" {
		c.Sheet = defaults.Sheet
	}
	if c.Listen == "" {
		c.Listen = defaults.Listen
	}
	if c.NoticeTTL == 0 {
		c.NoticeTTL = defaults.NoticeTTL
	}
	if c.Timezone == "" {
		c.Timezone = defaults.Timezone
	}
	if c.Write.MaxAttempts == 0 {
		c.Write.MaxAttempts = defaults.Write.MaxAttempts
	}
	if c.Write.InitialInterval == 0 {
		c.Write.InitialInterval = defaults.Write.InitialInterval
	}
	if c.Write.MaxInterval == 0 {
		c.Write.MaxInterval = defaults.Write.MaxInterval
	}
}

// Save writes cfg to path, creating its directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate checks the configuration. Errors are criterio.FieldErrors keyed by YAML path.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("source", c.Source, validSource),
		c.validateSource(),
		criterio.Run("user.name", c.User.Name, required),
		criterio.Run("listen", c.Listen, required),
		criterio.Run("timezone", c.Timezone, validTimezone),
		c.validateDurations(),
	)
}

func (c *Config) validateSource() error {
	var errs criterio.FieldErrorsBuilder
	switch c.Source {
	case SourceAppsScript:
		if err := validURL(c.Endpoint); err != nil {
			errs = errs.Append("endpoint", err)
		}
	case SourceSheets:
		if c.SpreadsheetID == "" {
			errs = errs.Append("spreadsheet_id", fmt.Errorf("required for source %q", SourceSheets))
		}
	}
	if c.Sheet == "" {
		errs = errs.Append("sheet", fmt.Errorf("cannot be empty"))
	}
	return errs.ToError()
}

func (c *Config) validateDurations() error {
	var errs criterio.FieldErrorsBuilder
	if c.NoticeTTL < 0 {
		errs = errs.Append("notice_ttl", fmt.Errorf("must not be negative"))
	}
	if c.HTTP.Timeout < 0 {
		errs = errs.Append("http.timeout", fmt.Errorf("must not be negative"))
	}
	if c.Write.MaxAttempts < 1 {
		errs = errs.Append("write.max_attempts", fmt.Errorf("must be at least 1"))
	}
	if c.Write.InitialInterval <= 0 {
		errs = errs.Append("write.initial_interval", fmt.Errorf("must be positive"))
	}
	if c.Write.MaxInterval < c.Write.InitialInterval {
		errs = errs.Append("write.max_interval", fmt.Errorf("must not be less than write.initial_interval"))
	}
	return errs.ToError()
}

func validSource(s string) error {
	switch s {
	case SourceAppsScript, SourceSheets:
		return nil
	}
	return fmt.Errorf("must be %q or %q, got %q", SourceAppsScript, SourceSheets, s)
}

func validURL(s string) error {
	if s == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	return nil
}

func validTimezone(tz string) error {
	if tz == "" || tz == "Local" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("unknown timezone %q", tz)
	}
	return nil
}

func required(s string) error {
	if s == "" {
		return fmt.Errorf("cannot be empty")
	}
	return nil
}
