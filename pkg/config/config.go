package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mediagrab/pkg/models"
)

// Config holds all configuration options for mediagrab
type Config struct {
	Scroll        models.ScrollOptions `yaml:"scroll" json:"scroll"`
	Archive       ArchiveConfig        `yaml:"archive" json:"archive"`
	Aggregator    AggregatorConfig     `yaml:"aggregator" json:"aggregator"`
	Storage       StorageConfig        `yaml:"storage" json:"storage"`
	Delivery      DeliveryConfig       `yaml:"delivery" json:"delivery"`
	Browser       BrowserConfig        `yaml:"browser" json:"browser"`
	Server        ServerConfig         `yaml:"server" json:"server"`
	Notifications NotificationConfig   `yaml:"notifications" json:"notifications"`
	Logging       LoggingConfig        `yaml:"logging" json:"logging"`
}

// ArchiveConfig controls archive naming and media fetching
type ArchiveConfig struct {
	Name              string        `yaml:"name" json:"name"`
	Folder            string        `yaml:"folder" json:"folder"`
	ProgressEvery     int           `yaml:"progress_every" json:"progress_every"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	Workers           int           `yaml:"workers" json:"workers"`
}

// AggregatorConfig controls batch coalescing
type AggregatorConfig struct {
	FlushDelay time.Duration `yaml:"flush_delay" json:"flush_delay"`
}

// StorageConfig selects where per-target results are persisted
type StorageConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
}

// DeliveryConfig controls how finished archives are saved
type DeliveryConfig struct {
	OutputDir    string        `yaml:"output_dir" json:"output_dir"`
	SaveAs       bool          `yaml:"save_as" json:"save_as"`
	ReleaseAfter time.Duration `yaml:"release_after" json:"release_after"`
}

// BrowserConfig controls the headless browser used for scrolling
type BrowserConfig struct {
	Headless        bool          `yaml:"headless" json:"headless"`
	ExecPath        string        `yaml:"exec_path" json:"exec_path"`
	CardSelector    string        `yaml:"card_selector" json:"card_selector"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout" json:"navigate_timeout"`

	// NavigateAttempts is how many times a page load is tried before giving up
	NavigateAttempts int `yaml:"navigate_attempts" json:"navigate_attempts"`
}

// ServerConfig holds the control API settings
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	OnComplete bool `yaml:"on_complete" json:"on_complete"`
	OnError    bool `yaml:"on_error" json:"on_error"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

const (
	DefaultArchiveName = "pinterest-media.zip"
	DefaultFolder      = "pinterest-media"
)

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Scroll: models.ScrollOptions{
			StepPx:     2600,
			Interval:   90 * time.Millisecond,
			ScanEvery:  700 * time.Millisecond,
			StallAfter: 2 * time.Second,
		},
		Archive: ArchiveConfig{
			Name:          DefaultArchiveName,
			Folder:        DefaultFolder,
			ProgressEvery: 30,
			FetchTimeout:  60 * time.Second,
			UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			Workers:       1,
		},
		Aggregator: AggregatorConfig{
			FlushDelay: 900 * time.Millisecond,
		},
		Storage: StorageConfig{
			Driver: "file",
			Path:   defaultDataPath("results"),
		},
		Delivery: DeliveryConfig{
			OutputDir:    ".",
			ReleaseAfter: 120 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:         true,
			CardSelector:     `[data-test-id="pin"]`,
			NavigateTimeout:  45 * time.Second,
			NavigateAttempts: 2,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8765",
		},
		Notifications: NotificationConfig{
			Enabled:    true,
			OnComplete: true,
			OnError:    true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from MEDIAGRAB_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("MEDIAGRAB_ARCHIVE_NAME"); v != "" {
		c.Archive.Name = v
	}
	if v := os.Getenv("MEDIAGRAB_FOLDER"); v != "" {
		c.Archive.Folder = v
	}
	if v := os.Getenv("MEDIAGRAB_USER_AGENT"); v != "" {
		c.Archive.UserAgent = v
	}
	if v := os.Getenv("MEDIAGRAB_REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MEDIAGRAB_REQUESTS_PER_SECOND: %w", err))
		} else {
			c.Archive.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("MEDIAGRAB_STEP_PX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("MEDIAGRAB_STEP_PX: %w", err))
		} else {
			c.Scroll.StepPx = n
		}
	}
	durations := map[string]*time.Duration{
		"MEDIAGRAB_INTERVAL":    &c.Scroll.Interval,
		"MEDIAGRAB_SCAN_EVERY":  &c.Scroll.ScanEvery,
		"MEDIAGRAB_STALL_AFTER": &c.Scroll.StallAfter,
		"MEDIAGRAB_FLUSH_DELAY": &c.Aggregator.FlushDelay,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = d
	}
	if v := os.Getenv("MEDIAGRAB_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("MEDIAGRAB_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("MEDIAGRAB_OUTPUT_DIR"); v != "" {
		c.Delivery.OutputDir = v
	}
	if v := os.Getenv("MEDIAGRAB_HEADLESS"); v != "" {
		c.Browser.Headless = strings.ToLower(v) != "false"
	}
	if v := os.Getenv("MEDIAGRAB_CHROME_PATH"); v != "" {
		c.Browser.ExecPath = v
	}
	if v := os.Getenv("MEDIAGRAB_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MEDIAGRAB_NOTIFICATIONS_ENABLED"); v != "" {
		c.Notifications.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("MEDIAGRAB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MEDIAGRAB_LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home, _ := os.UserHomeDir()
	locations := []string{
		".mediagrab.yaml",
		".mediagrab.yml",
		filepath.Join(home, ".config", "mediagrab", "config.yaml"),
		filepath.Join(home, ".config", "mediagrab", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Scroll values below the driver minimums are clamped later, not rejected
	if c.Scroll.StepPx < 0 {
		errs = append(errs, errors.New("scroll step cannot be negative"))
	}
	if c.Scroll.Interval < 0 || c.Scroll.ScanEvery < 0 || c.Scroll.StallAfter < 0 {
		errs = append(errs, errors.New("scroll durations cannot be negative"))
	}

	if c.Archive.ProgressEvery <= 0 {
		errs = append(errs, errors.New("archive progress interval must be positive"))
	}
	if c.Archive.FetchTimeout <= 0 {
		errs = append(errs, errors.New("archive fetch timeout must be positive"))
	}
	if c.Archive.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests per second cannot be negative"))
	}
	if c.Archive.Workers <= 0 {
		errs = append(errs, errors.New("archive workers must be positive"))
	}
	if c.Browser.NavigateAttempts < 1 {
		errs = append(errs, errors.New("navigate attempts must be at least 1"))
	}
	if c.Aggregator.FlushDelay <= 0 {
		errs = append(errs, errors.New("flush delay must be positive"))
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "memory":
	case "file", "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage path is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage driver %q", c.Storage.Driver))
	}

	if c.Delivery.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Delivery.ReleaseAfter <= 0 {
		errs = append(errs, errors.New("release delay must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// RunConfig builds the per-target run configuration from the loaded values.
func (c *Config) RunConfig() models.RunConfig {
	return models.RunConfig{
		ArchiveName: c.Archive.Name,
		Folder:      c.Archive.Folder,
		Scroll:      c.Scroll,
	}
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["archive-name"].(string); ok && v != "" {
		c.Archive.Name = v
	}
	if v, ok := flags["folder"].(string); ok && v != "" {
		c.Archive.Folder = v
	}
	if v, ok := flags["step-px"].(int); ok && v != 0 {
		c.Scroll.StepPx = v
	}
	if v, ok := flags["interval"].(time.Duration); ok && v != 0 {
		c.Scroll.Interval = v
	}
	if v, ok := flags["scan-every"].(time.Duration); ok && v != 0 {
		c.Scroll.ScanEvery = v
	}
	if v, ok := flags["stall-after"].(time.Duration); ok && v != 0 {
		c.Scroll.StallAfter = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Delivery.OutputDir = v
	}
	if v, ok := flags["save-as"].(bool); ok {
		c.Delivery.SaveAs = v
	}
	if v, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = v
	}
	if v, ok := flags["storage-driver"].(string); ok && v != "" {
		c.Storage.Driver = v
	}
	if v, ok := flags["addr"].(string); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := flags["notifications"].(bool); ok {
		c.Notifications.Enabled = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".mediagrab.env"))
	}

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// defaultDataPath returns a path under the user's data directory
func defaultDataPath(name string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "mediagrab", name)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".mediagrab", name)
	}
	return filepath.Join(home, ".local", "share", "mediagrab", name)
}
