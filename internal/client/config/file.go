package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dmitrijs2005/gophchat/internal/flagx"
	"github.com/dmitrijs2005/gophchat/internal/timex"
)

type s3File struct {
	Endpoint  string `json:"endpoint" toml:"endpoint"`
	Region    string `json:"region" toml:"region"`
	Bucket    string `json:"bucket" toml:"bucket"`
	AccessKey string `json:"access_key" toml:"access_key"`
	SecretKey string `json:"secret_key" toml:"secret_key"`
	Prefix    string `json:"prefix" toml:"prefix"`
	PathStyle bool   `json:"path_style" toml:"path_style"`
}

type logFile struct {
	Backend    string `json:"backend" toml:"backend"`
	Format     string `json:"format" toml:"format"`
	Level      string `json:"level" toml:"level"`
	File       string `json:"file" toml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" toml:"max_age_days"`
}

// fileConfig is a DTO used only for decoding config files. Durations go
// through timex.Duration; zero values leave the current setting alone.
type fileConfig struct {
	APIBaseURL     string         `json:"api_base_url" toml:"api_base_url"`
	AccessToken    string         `json:"access_token" toml:"access_token"`
	RequestTimeout timex.Duration `json:"request_timeout" toml:"request_timeout"`
	RequestRetries *int           `json:"request_retries" toml:"request_retries"`

	Transport    string   `json:"transport" toml:"transport"`
	GatewayURL   string   `json:"gateway_url" toml:"gateway_url"`
	KafkaBrokers []string `json:"kafka_brokers" toml:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic" toml:"kafka_topic"`

	ObjectStore string `json:"object_store" toml:"object_store"`
	ObjectDir   string `json:"object_dir" toml:"object_dir"`
	S3          s3File `json:"s3" toml:"s3"`

	Cache         string `json:"cache" toml:"cache"`
	SQLiteDSN     string `json:"sqlite_dsn" toml:"sqlite_dsn"`
	RedisAddr     string `json:"redis_addr" toml:"redis_addr"`
	RedisPassword string `json:"redis_password" toml:"redis_password"`
	RedisDB       int    `json:"redis_db" toml:"redis_db"`

	TransferTTL    timex.Duration `json:"transfer_ttl" toml:"transfer_ttl"`
	SweepInterval  timex.Duration `json:"sweep_interval" toml:"sweep_interval"`
	MaxChunkBytes  int            `json:"max_chunk_bytes" toml:"max_chunk_bytes"`
	GroupThreshold timex.Duration `json:"group_threshold" toml:"group_threshold"`
	SearchDebounce timex.Duration `json:"search_debounce" toml:"search_debounce"`

	Log logFile `json:"log" toml:"log"`
}

// parseFile overlays cfg with the file given by -c/-config, if any.
func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

func (fc fileConfig) apply(cfg *Config) {
	setString(&cfg.APIBaseURL, fc.APIBaseURL)
	setString(&cfg.AccessToken, fc.AccessToken)
	setDuration(&cfg.RequestTimeout, fc.RequestTimeout)
	if fc.RequestRetries != nil {
		cfg.RequestRetries = *fc.RequestRetries
	}

	setString(&cfg.Transport, fc.Transport)
	setString(&cfg.GatewayURL, fc.GatewayURL)
	if len(fc.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = fc.KafkaBrokers
	}
	setString(&cfg.KafkaTopic, fc.KafkaTopic)

	setString(&cfg.ObjectStore, fc.ObjectStore)
	setString(&cfg.ObjectDir, fc.ObjectDir)
	setString(&cfg.S3.Endpoint, fc.S3.Endpoint)
	setString(&cfg.S3.Region, fc.S3.Region)
	setString(&cfg.S3.Bucket, fc.S3.Bucket)
	setString(&cfg.S3.AccessKey, fc.S3.AccessKey)
	setString(&cfg.S3.SecretKey, fc.S3.SecretKey)
	setString(&cfg.S3.Prefix, fc.S3.Prefix)
	cfg.S3.PathStyle = cfg.S3.PathStyle || fc.S3.PathStyle

	setString(&cfg.Cache, fc.Cache)
	setString(&cfg.SQLiteDSN, fc.SQLiteDSN)
	setString(&cfg.RedisAddr, fc.RedisAddr)
	setString(&cfg.RedisPassword, fc.RedisPassword)
	setInt(&cfg.RedisDB, fc.RedisDB)

	setDuration(&cfg.TransferTTL, fc.TransferTTL)
	setDuration(&cfg.SweepInterval, fc.SweepInterval)
	setInt(&cfg.MaxChunkBytes, fc.MaxChunkBytes)
	setDuration(&cfg.GroupThreshold, fc.GroupThreshold)
	setDuration(&cfg.SearchDebounce, fc.SearchDebounce)

	setString(&cfg.Log.Backend, fc.Log.Backend)
	setString(&cfg.Log.Format, fc.Log.Format)
	setString(&cfg.Log.Level, fc.Log.Level)
	setString(&cfg.Log.File, fc.Log.File)
	setInt(&cfg.Log.MaxSizeMB, fc.Log.MaxSizeMB)
	setInt(&cfg.Log.MaxBackups, fc.Log.MaxBackups)
	setInt(&cfg.Log.MaxAgeDays, fc.Log.MaxAgeDays)
}
