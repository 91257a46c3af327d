package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/rawblock/entropy-scorer/internal/node"
)

type ServerConfig struct {
	Port           string   `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
	AuthToken      string   `toml:"auth_token"`
	GinMode        string   `toml:"gin_mode"`
}

type RateLimitConfig struct {
	PerMinute int `toml:"per_minute"`
	Burst     int `toml:"burst"`
}

type DatabaseConfig struct {
	URL string `toml:"url"`
}

// StorageConfig bounds the server-side paths API callers may name:
// input files are resolved inside DataDir, internals inside InternalsDir.
type StorageConfig struct {
	DataDir      string `toml:"data_dir"`
	InternalsDir string `toml:"internals_dir"`
}

// SelectionConfig declares what the two linked endpoints show:
// "entities" or "clusters".
type SelectionConfig struct {
	Left  string `toml:"left"`
	Right string `toml:"right"`
}

type Config struct {
	Server    ServerConfig    `toml:"server"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Database  DatabaseConfig  `toml:"database"`
	Storage   StorageConfig   `toml:"storage"`
	Node      node.Settings   `toml:"node"`
	Selection SelectionConfig `toml:"selection"`
	LogLevel  string          `toml:"log_level"`
}

// Default returns the settings used when neither file nor environment
// says otherwise.
func Default() Config {
	return Config{
		Server:    ServerConfig{Port: "5339"},
		RateLimit: RateLimitConfig{PerMinute: 120, Burst: 30},
		Storage:   StorageConfig{DataDir: "./data", InternalsDir: "./internals"},
		Selection: SelectionConfig{Left: "entities", Right: "entities"},
		LogLevel:  "info",
	}
}

// Load builds the configuration: defaults, then the TOML file at path (if
// path is non-empty), then environment variables. A .env file in the
// working directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.AuthToken, "API_AUTH_TOKEN")
	setString(&c.Server.GinMode, "GIN_MODE")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Storage.DataDir, "DATA_DIR")
	setString(&c.Storage.InternalsDir, "INTERNALS_DIR")
	setString(&c.Node.ReferenceColumn, "REFERENCE_COLUMN")
	setString(&c.Node.ClusteringColumn, "CLUSTERING_COLUMN")
	setString(&c.Selection.Left, "SELECTION_LEFT")
	setString(&c.Selection.Right, "SELECTION_RIGHT")
	setString(&c.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, o)
			}
		}
	}
	if err := setInt(&c.RateLimit.PerMinute, "RATE_LIMIT_PER_MIN"); err != nil {
		return err
	}
	return setInt(&c.RateLimit.Burst, "RATE_LIMIT_BURST")
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port must be set")
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit must be positive (per_minute=%d burst=%d)", c.RateLimit.PerMinute, c.RateLimit.Burst)
	}
	for _, side := range []string{c.Selection.Left, c.Selection.Right} {
		if side != "entities" && side != "clusters" {
			return fmt.Errorf("selection universe %q must be \"entities\" or \"clusters\"", side)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
