// Package config loads the tasksync YAML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tasksync/internal/utils"
)

//go:embed config.sample.yaml
var sampleConfig []byte

const (
	CONFIG_DIR_PATH  = "tasksync"
	CONFIG_FILE_PATH = "config.yaml"
	CONFIG_DIR_PERM  = 0755
	CONFIG_FILE_PERM = 0644

	// EnvPrefix prefixes every environment override
	EnvPrefix = "TASKSYNC_"

	// MemoryURL selects the in-process remote database
	MemoryURL = "mem://"
)

// Config is the application configuration
type Config struct {
	DataDir string       `yaml:"data_dir" validate:"required"`
	Local   LocalConfig  `yaml:"local"`
	Remote  RemoteConfig `yaml:"remote"`
	Sync    SyncConfig   `yaml:"sync"`
	Server  ServerConfig `yaml:"server"`
	Verbose bool         `yaml:"verbose"`

	path string
}

// LocalConfig selects and locates the local engines
type LocalConfig struct {
	Engine   string `yaml:"engine" validate:"oneof=sqlite flat"`
	DBPath   string `yaml:"db_path,omitempty"`
	FlatPath string `yaml:"flat_path,omitempty"`
}

// RemoteConfig points at the CouchDB server
type RemoteConfig struct {
	URL      string        `yaml:"url" validate:"required"`
	Database string        `yaml:"database" validate:"required"`
	Username string        `yaml:"username,omitempty"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// IsMemory reports whether the in-process database is configured
func (r RemoteConfig) IsMemory() bool {
	return strings.HasPrefix(r.URL, MemoryURL)
}

// SyncConfig tunes live sync
type SyncConfig struct {
	ConflictWindow  time.Duration `yaml:"conflict_window" validate:"gte=0"`
	IgnoreOwnEchoes bool          `yaml:"ignore_own_echoes"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Local:   LocalConfig{Engine: "sqlite"},
		Remote: RemoteConfig{
			URL:      "http://localhost:5984",
			Database: "tasksync",
			Timeout:  10 * time.Second,
		},
		Sync:   SyncConfig{ConflictWindow: 5 * time.Second},
		Server: ServerConfig{Addr: "127.0.0.1:8787"},
	}
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, CONFIG_DIR_PATH)
	}
	return filepath.Join("~", ".local", "share", CONFIG_DIR_PATH)
}

// GetConfigPath resolves the config file location. A custom path may be a
// file or a directory holding config.yaml.
func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		if info, err := os.Stat(customPath); err == nil && info.IsDir() {
			return filepath.Join(customPath, CONFIG_FILE_PATH), nil
		}
		return customPath, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	return filepath.Join(dir, CONFIG_DIR_PATH, CONFIG_FILE_PATH), nil
}

// Load reads the config file at customPath (or the default location), applies
// .env and TASKSYNC_* overrides, resolves paths and validates the result.
// A missing file yields the defaults.
func Load(customPath string) (*Config, error) {
	// A missing .env is normal
	_ = godotenv.Load()

	configPath, err := GetConfigPath(customPath)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if customPath != "" {
			return nil, utils.ErrConfigFileNotFound(configPath)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML in config file %s: %w", configPath, err)
		}
	}
	cfg.path = configPath

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults without touching the environment
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteSample writes the commented sample configuration to path unless a
// file already exists there
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), CONFIG_DIR_PERM); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return os.WriteFile(path, sampleConfig, CONFIG_FILE_PERM)
}

// Path returns the file the config was loaded from
func (c *Config) Path() string {
	return c.path
}

// Validate checks field constraints and the remote URL
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return utils.ErrInvalidConfig(fieldName(fe.Namespace()), fmt.Sprintf("failed '%s' check (value %v)", fe.Tag(), fe.Value()))
		}
		return err
	}

	if !c.Remote.IsMemory() {
		u, err := url.Parse(c.Remote.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return utils.ErrInvalidConfig("remote.url", "expected http(s)://host[:port] or "+MemoryURL)
		}
	}
	return nil
}

// fieldName turns "Config.Local.Engine" into "local.engine"
func fieldName(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}

func (c *Config) resolvePaths() error {
	var err error
	if c.DataDir, err = utils.ExpandPath(c.DataDir); err != nil {
		return fmt.Errorf("failed to expand data_dir: %w", err)
	}
	if c.Local.DBPath == "" {
		c.Local.DBPath = filepath.Join(c.DataDir, "tasks.db")
	} else if c.Local.DBPath, err = utils.ExpandPath(c.Local.DBPath); err != nil {
		return fmt.Errorf("failed to expand local.db_path: %w", err)
	}
	if c.Local.FlatPath == "" {
		c.Local.FlatPath = filepath.Join(c.DataDir, "store.json")
	} else if c.Local.FlatPath, err = utils.ExpandPath(c.Local.FlatPath); err != nil {
		return fmt.Errorf("failed to expand local.flat_path: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.Local.Engine = getEnv("LOCAL_ENGINE", c.Local.Engine)
	c.Local.DBPath = getEnv("DB_PATH", c.Local.DBPath)
	c.Local.FlatPath = getEnv("FLAT_PATH", c.Local.FlatPath)
	c.Remote.URL = getEnv("REMOTE_URL", c.Remote.URL)
	c.Remote.Database = getEnv("REMOTE_DATABASE", c.Remote.Database)
	c.Remote.Username = getEnv("REMOTE_USERNAME", c.Remote.Username)
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)

	var err error
	if c.Remote.Timeout, err = getEnvAsDuration("REMOTE_TIMEOUT", c.Remote.Timeout); err != nil {
		return err
	}
	if c.Sync.ConflictWindow, err = getEnvAsDuration("CONFLICT_WINDOW", c.Sync.ConflictWindow); err != nil {
		return err
	}
	if c.Sync.IgnoreOwnEchoes, err = getEnvAsBool("IGNORE_OWN_ECHOES", c.Sync.IgnoreOwnEchoes); err != nil {
		return err
	}
	if c.Verbose, err = getEnvAsBool("VERBOSE", c.Verbose); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	return d, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	return b, nil
}
