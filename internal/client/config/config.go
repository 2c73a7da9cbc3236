package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
	PathStyle bool
}

type LogConfig struct {
	Backend    string
	Format     string
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Config holds runtime settings for the chat client.
type Config struct {
	APIBaseURL     string
	AccessToken    string
	RequestTimeout time.Duration
	// RequestRetries is the number of extra attempts for idempotent REST
	// reads. Zero turns retries off.
	RequestRetries int

	Transport    string
	GatewayURL   string
	KafkaBrokers []string
	KafkaTopic   string

	ObjectStore string
	ObjectDir   string
	S3          S3Config

	Cache         string
	SQLiteDSN     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TransferTTL    time.Duration
	SweepInterval  time.Duration
	MaxChunkBytes  int
	GroupThreshold time.Duration
	SearchDebounce time.Duration

	Log LogConfig
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://127.0.0.1:8000"
	c.RequestTimeout = 10 * time.Second
	c.RequestRetries = 2

	c.Transport = "websocket"
	c.GatewayURL = "ws://127.0.0.1:8000/ws/"
	c.KafkaTopic = "gophchat-events"

	c.ObjectStore = "local"
	c.ObjectDir = filepath.Join(os.TempDir(), "gophchat")
	c.S3.Region = "us-east-1"

	c.Cache = "sqlite"
	c.SQLiteDSN = ":memory:"
	c.RedisAddr = "127.0.0.1:6379"

	c.TransferTTL = 2 * time.Minute
	c.SweepInterval = 30 * time.Second
	c.MaxChunkBytes = 45000
	c.GroupThreshold = 5 * time.Minute
	c.SearchDebounce = 300 * time.Millisecond

	c.Log = LogConfig{Backend: "slog", Format: "text", Level: "info", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 7}
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api base url is required")
	}
	if !slices.Contains([]string{"websocket", "kafka", "memory"}, c.Transport) {
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Transport == "kafka" && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka transport needs at least one broker")
	}
	if !slices.Contains([]string{"local", "s3"}, c.ObjectStore) {
		return fmt.Errorf("unknown object store %q", c.ObjectStore)
	}
	if c.ObjectStore == "s3" && c.S3.Bucket == "" {
		return fmt.Errorf("s3 object store needs a bucket")
	}
	if !slices.Contains([]string{"sqlite", "redis"}, c.Cache) {
		return fmt.Errorf("unknown cache %q", c.Cache)
	}
	if c.MaxChunkBytes < 3 {
		return fmt.Errorf("max chunk bytes must be at least 3, got %d", c.MaxChunkBytes)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.RequestRetries < 0 {
		return fmt.Errorf("request retries must not be negative, got %d", c.RequestRetries)
	}
	return nil
}

// Load builds a Config from defaults, the config file named in args, the
// environment and finally the flags in args.
func Load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg, dotenvPath, lookupEnv); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfig is Load over os.Args and the process environment. It panics
// when the configuration cannot be loaded.
func LoadConfig() *Config {
	cfg, err := Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		panic(err)
	}
	return cfg
}
