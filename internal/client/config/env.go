package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var dotenvPath = ".env"

// parseEnv overlays cfg with GOPHCHAT_* variables. Variables missing from
// the process environment are looked up in the dotenv file at path.
func parseEnv(cfg *Config, path string, lookup func(string) (string, bool)) error {
	fileVars := map[string]string{}
	if path != "" {
		m, err := godotenv.Read(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return fmt.Errorf("read %s: %w", path, err)
		default:
			fileVars = m
		}
	}

	get := func(key string) (string, bool) {
		if lookup != nil {
			if v, ok := lookup(key); ok {
				return v, true
			}
		}
		v, ok := fileVars[key]
		return v, ok
	}

	str := func(key string, dst *string) {
		if v, ok := get(key); ok && v != "" {
			*dst = v
		}
	}

	str("GOPHCHAT_API_URL", &cfg.APIBaseURL)
	str("GOPHCHAT_TOKEN", &cfg.AccessToken)
	str("GOPHCHAT_TRANSPORT", &cfg.Transport)
	str("GOPHCHAT_GATEWAY_URL", &cfg.GatewayURL)
	str("GOPHCHAT_KAFKA_TOPIC", &cfg.KafkaTopic)
	str("GOPHCHAT_OBJECT_STORE", &cfg.ObjectStore)
	str("GOPHCHAT_S3_ENDPOINT", &cfg.S3.Endpoint)
	str("GOPHCHAT_S3_BUCKET", &cfg.S3.Bucket)
	str("GOPHCHAT_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	str("GOPHCHAT_S3_SECRET_KEY", &cfg.S3.SecretKey)
	str("GOPHCHAT_CACHE", &cfg.Cache)
	str("GOPHCHAT_REDIS_ADDR", &cfg.RedisAddr)
	str("GOPHCHAT_REDIS_PASSWORD", &cfg.RedisPassword)
	str("GOPHCHAT_LOG_LEVEL", &cfg.Log.Level)

	if v, ok := get("GOPHCHAT_KAFKA_BROKERS"); ok && v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	if v, ok := get("GOPHCHAT_REDIS_DB"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GOPHCHAT_REDIS_DB: %w", err)
		}
		cfg.RedisDB = n
	}
	if v, ok := get("GOPHCHAT_REQUEST_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GOPHCHAT_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if v, ok := get("GOPHCHAT_REQUEST_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GOPHCHAT_REQUEST_RETRIES: %w", err)
		}
		cfg.RequestRetries = n
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
