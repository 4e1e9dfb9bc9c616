package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/insect-identifier/internal/utils"
	"github.com/menta2k/insect-identifier/pkg/capture"
	"github.com/menta2k/insect-identifier/pkg/processing"
	"github.com/menta2k/insect-identifier/pkg/store"
)

// ErrMissingAPIKey is returned when the openai provider has no API key
var ErrMissingAPIKey = errors.New("config: missing API key (set vision.api_key or OPENAI_API_KEY)")

const appName = "insectid"

// Providers
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Store backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config holds the application configuration
type Config struct {
	Vision  VisionConfig  `mapstructure:"vision" yaml:"vision"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// VisionConfig selects and configures the identification provider
type VisionConfig struct {
	Provider     string        `mapstructure:"provider" yaml:"provider"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model        string        `mapstructure:"model" yaml:"model"`
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxDimension int           `mapstructure:"max_dimension" yaml:"max_dimension"`
	Quality      int           `mapstructure:"quality" yaml:"quality"`
}

// CaptureConfig holds camera settings for the snap command
type CaptureConfig struct {
	Command     string        `mapstructure:"command" yaml:"command"`
	Orientation string        `mapstructure:"orientation" yaml:"orientation"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StoreConfig holds collection storage settings
type StoreConfig struct {
	Backend      string `mapstructure:"backend" yaml:"backend"`
	DataDir      string `mapstructure:"data_dir" yaml:"data_dir"`
	CacheDir     string `mapstructure:"cache_dir" yaml:"cache_dir"`
	SQLitePath   string `mapstructure:"sqlite_path" yaml:"sqlite_path,omitempty"`
	ImageQuality int    `mapstructure:"image_quality" yaml:"image_quality"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Listen     string        `mapstructure:"listen" yaml:"listen"`
	AttemptTTL time.Duration `mapstructure:"attempt_ttl" yaml:"attempt_ttl"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Vision: VisionConfig{
			Provider:     ProviderOpenAI,
			Model:        "gpt-4o",
			BaseURL:      "https://api.openai.com/v1",
			Timeout:      60 * time.Second,
			MaxDimension: processing.DefaultMaxDimension,
			Quality:      processing.DefaultModelQuality,
		},
		Capture: CaptureConfig{
			Command:     capture.DefaultCommand,
			Orientation: capture.OrientationPortrait.String(),
			Timeout:     30 * time.Second,
		},
		Store: StoreConfig{
			Backend:      BackendFile,
			DataDir:      defaultDir(os.UserConfigDir, "./data"),
			CacheDir:     defaultDir(os.UserCacheDir, "./cache"),
			ImageQuality: processing.DefaultStoreQuality,
		},
		Server: ServerConfig{
			Listen:     ":8080",
			AttemptTTL: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultDir(base func() (string, error), fallback string) string {
	dir, err := base()
	if err != nil {
		return fallback
	}
	return filepath.Join(dir, appName)
}

// envBindings maps config keys to the environment variables read for them,
// in addition to the INSECTID_ prefixed form
var envBindings = map[string][]string{
	"vision.api_key": {"INSECTID_VISION_API_KEY", "OPENAI_API_KEY"},
}

// Load reads configuration from path (or the default location when empty),
// then INSECTID_* environment variables. A missing file is not an error
// unless path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, Default())

	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Dir(GetConfigPath()))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	if !utils.FileExists(filename) {
		return nil, fmt.Errorf("failed to read config file: %s does not exist", filename)
	}
	return Load(filename)
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("vision.provider", d.Vision.Provider)
	v.SetDefault("vision.api_key", d.Vision.APIKey)
	v.SetDefault("vision.model", d.Vision.Model)
	v.SetDefault("vision.base_url", d.Vision.BaseURL)
	v.SetDefault("vision.timeout", d.Vision.Timeout)
	v.SetDefault("vision.max_dimension", d.Vision.MaxDimension)
	v.SetDefault("vision.quality", d.Vision.Quality)

	v.SetDefault("capture.command", d.Capture.Command)
	v.SetDefault("capture.orientation", d.Capture.Orientation)
	v.SetDefault("capture.timeout", d.Capture.Timeout)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.data_dir", d.Store.DataDir)
	v.SetDefault("store.cache_dir", d.Store.CacheDir)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.image_quality", d.Store.ImageQuality)

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.attempt_ttl", d.Server.AttemptTTL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := utils.WriteFileAtomic(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid. Credentials are checked
// separately by CheckCredentials, since only some commands need them.
func (c *Config) Validate() error {
	switch c.Vision.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("vision.provider must be %q or %q", ProviderOpenAI, ProviderOllama)
	}

	if c.Vision.Quality < 1 || c.Vision.Quality > 100 {
		return fmt.Errorf("vision.quality must be between 1 and 100")
	}

	if c.Vision.MaxDimension < 0 {
		return fmt.Errorf("vision.max_dimension must not be negative")
	}

	if _, err := capture.ParseOrientation(c.Capture.Orientation); err != nil {
		return fmt.Errorf("capture.orientation: %w", err)
	}

	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("store.backend must be %q or %q", BackendFile, BackendSQLite)
	}

	if c.Store.ImageQuality < 1 || c.Store.ImageQuality > 100 {
		return fmt.Errorf("store.image_quality must be between 1 and 100")
	}

	if c.Store.DataDir == "" || c.Store.CacheDir == "" {
		return fmt.Errorf("store.data_dir and store.cache_dir cannot be empty")
	}

	return nil
}

// CheckCredentials fails with ErrMissingAPIKey when the openai provider has no key
func (c *Config) CheckCredentials() error {
	if c.Vision.Provider == ProviderOpenAI && strings.TrimSpace(c.Vision.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// ImageDir is where captured images are written
func (c *Config) ImageDir() string {
	return filepath.Join(c.Store.CacheDir, store.ImageDirName)
}

// SQLitePath is the database file for the sqlite backend
func (c *Config) SQLitePath() string {
	if c.Store.SQLitePath != "" {
		return c.Store.SQLitePath
	}
	return filepath.Join(c.Store.DataDir, appName+".db")
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(defaultDir(os.UserConfigDir, "."), "config.yaml")
}
