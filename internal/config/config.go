package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL           string `yaml:"url"`
		NotifyChannel string `yaml:"notify_channel"`
	} `yaml:"postgres"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
	Feed struct {
		Backend string `yaml:"backend"` // memory | redis | nats
	} `yaml:"feed"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Clock struct {
		Tick string `yaml:"tick"`
	} `yaml:"clock"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

const (
	FeedMemory = "memory"
	FeedRedis  = "redis"
	FeedNATS   = "nats"
)

// Load reads YAML config from path and applies environment overrides. A missing file
// leaves the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	if cfg.Feed.Backend == "" {
		cfg.Feed.Backend = FeedMemory
	}
	cfg.Feed.Backend = strings.ToLower(cfg.Feed.Backend)
	switch cfg.Feed.Backend {
	case FeedMemory, FeedRedis, FeedNATS:
	default:
		return cfg, fmt.Errorf("unknown feed backend %q", cfg.Feed.Backend)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Postgres.URL, "POSTGRES_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Feed.Backend, "FEED_BACKEND")
	setString(&cfg.Log.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
