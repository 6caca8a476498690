package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"EnigmaNetz/Enigma-Tshark/internal/capture/tshark"
	"EnigmaNetz/Enigma-Tshark/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. TSHARK_CAPTURE_INTERFACE.
const EnvPrefix = "TSHARK"

// maxSelectorLength bounds interface selectors; Windows device names are long
// but well under this.
const maxSelectorLength = 255

// Config represents the application configuration
type Config struct {
	// Logging configuration
	Logging struct {
		// Level is the minimum log level to output (debug, info, warn, error)
		Level string `mapstructure:"level"`
		// File is the path to the log file. If empty, logs to stdout only
		File string `mapstructure:"file"`
		// MaxSizeMB is the maximum size of log file before rotation
		MaxSizeMB  int `mapstructure:"max_size_mb"`
		MaxBackups int `mapstructure:"max_backups"`
		MaxAgeDays int `mapstructure:"max_age_days"`
	} `mapstructure:"logging"`

	Tshark struct {
		// Path to the tshark executable; the platform default when empty
		Path string `mapstructure:"path"`
		// StopTimeoutSeconds bounds each step of a graceful stop
		StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds"`
	} `mapstructure:"tshark"`

	// Capture configuration
	Capture struct {
		// Interface is one tshark interface index, name or description
		Interface string `mapstructure:"interface"`
		// OutputDir is where capture files are stored
		OutputDir string `mapstructure:"output_dir"`
		// Filter is a capture (BPF) filter
		Filter string `mapstructure:"filter"`
		// DurationSeconds is how long a capture runs; 0 runs until stopped
		DurationSeconds int  `mapstructure:"duration_seconds"`
		Promiscuous     bool `mapstructure:"promiscuous"`
	} `mapstructure:"capture"`

	Catalog struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"catalog"`

	Ingest struct {
		WatchDir            string `mapstructure:"watch_dir"`
		PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
		FileStableSeconds   int    `mapstructure:"file_stable_seconds"`
		CrossCheck          bool   `mapstructure:"cross_check"`
	} `mapstructure:"ingest"`
}

// SetDefaults registers every key's default on v. Keys must be known to viper
// for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", filepath.Join("logs", "enigma-tshark.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("tshark.path", tshark.DefaultPath)
	v.SetDefault("tshark.stop_timeout_seconds", 5)

	v.SetDefault("capture.interface", "1")
	v.SetDefault("capture.output_dir", "captures")
	v.SetDefault("capture.filter", "")
	v.SetDefault("capture.duration_seconds", 60)
	v.SetDefault("capture.promiscuous", false)

	v.SetDefault("catalog.enabled", true)
	v.SetDefault("catalog.path", filepath.Join("data", "catalog.db"))

	v.SetDefault("ingest.watch_dir", "ingest")
	v.SetDefault("ingest.poll_interval_seconds", 5)
	v.SetDefault("ingest.file_stable_seconds", 2)
	v.SetDefault("ingest.cross_check", false)
}

// LoadConfig loads configuration from a config file (JSON, YAML or TOML by
// extension), environment variables and defaults, in that order of precedence
// from lowest to highest: defaults, file, environment.
//
// An empty configPath looks for config.{json,yaml,toml} in the working
// directory and carries on without one if none exists.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadEnvFile loads KEY=value pairs from a .env file into the environment
// without overriding variables already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ValidateAndSetDefaults fills zero values and rejects unusable settings.
func (c *Config) ValidateAndSetDefaults() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if _, err := logger.ParseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}

	if c.Tshark.Path == "" {
		c.Tshark.Path = tshark.DefaultPath
	}
	if c.Tshark.StopTimeoutSeconds <= 0 {
		c.Tshark.StopTimeoutSeconds = 5
	}

	sel, err := c.InterfaceSelector()
	if err != nil {
		return err
	}
	c.Capture.Interface = sel
	if c.Capture.OutputDir == "" {
		c.Capture.OutputDir = "captures"
	}
	if c.Capture.DurationSeconds < 0 {
		return fmt.Errorf("capture duration cannot be negative: %d", c.Capture.DurationSeconds)
	}

	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join("data", "catalog.db")
	}

	if c.Ingest.WatchDir == "" {
		c.Ingest.WatchDir = "ingest"
	}
	if c.Ingest.PollIntervalSeconds <= 0 {
		c.Ingest.PollIntervalSeconds = 5
	}
	if c.Ingest.FileStableSeconds < 0 {
		c.Ingest.FileStableSeconds = 0
	}
	return nil
}

// CaptureDuration is Capture.DurationSeconds as a time.Duration.
func (c *Config) CaptureDuration() time.Duration {
	return time.Duration(c.Capture.DurationSeconds) * time.Second
}

// StopTimeout is Tshark.StopTimeoutSeconds as a time.Duration.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Tshark.StopTimeoutSeconds) * time.Second
}

// PollInterval is Ingest.PollIntervalSeconds as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Ingest.PollIntervalSeconds) * time.Second
}

// InterfaceSelector returns the trimmed Capture.Interface, "1" when unset.
// A session captures on exactly one interface, so a list is an error.
func (c *Config) InterfaceSelector() (string, error) {
	sel := strings.TrimSpace(c.Capture.Interface)
	if sel == "" {
		return "1", nil
	}
	if err := validateInterfaceSelector(sel); err != nil {
		return "", fmt.Errorf("invalid interface '%s': %w", sel, err)
	}
	return sel, nil
}

// validateInterfaceSelector checks a selector before it reaches tshark's
// argument list. Descriptions may contain spaces and punctuation, so only
// control characters and a leading dash are refused.
func validateInterfaceSelector(sel string) error {
	if sel == "" {
		return errors.New("interface selector cannot be empty")
	}
	if len(sel) > maxSelectorLength {
		return fmt.Errorf("interface selector too long: %d characters", len(sel))
	}
	if strings.HasPrefix(sel, "-") {
		return errors.New("interface selector cannot start with '-'")
	}
	if strings.Contains(sel, ",") {
		return errors.New("only one interface can be captured per session")
	}
	for _, r := range sel {
		if unicode.IsControl(r) {
			return errors.New("interface selector contains control characters")
		}
	}
	return nil
}

// InitializeLogging sets up logging based on config. Console output goes to
// stderr so command output on stdout stays clean.
func (c *Config) InitializeLogging() error {
	level, err := logger.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %v", err)
	}

	logConfig := logger.Config{
		LogLevel:   level,
		LogFile:    c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Console:    os.Stderr,
	}
	if err := logger.Initialize(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	return nil
}
