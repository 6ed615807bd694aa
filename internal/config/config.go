package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stego_chat/internal/utils/log"

	"github.com/BurntSushi/toml"
)

const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type (
	// Config is the server's config.toml.
	Config struct {
		Server   Server     `toml:"server"`
		Mongo    Mongo      `toml:"mongo"`
		Redis    Redis      `toml:"redis"`
		Delivery Delivery   `toml:"delivery"`
		Codec    Codec      `toml:"codec"`
		Keys     Keys       `toml:"keys"`
		Log      log.Config `toml:"log"`
	}

	Server struct {
		Addr string `toml:"addr"`
	}

	Mongo struct {
		URI      string `toml:"uri"`
		Database string `toml:"database"`
	}

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
	}

	Delivery struct {
		Backend       string   `toml:"backend"`
		SQLitePath    string   `toml:"sqlite_path"`
		Retention     Duration `toml:"retention"`
		PruneInterval Duration `toml:"prune_interval"`
	}

	Codec struct {
		// Secret seeds the per-recipient carrier traversal keys.
		Secret string `toml:"secret"`
	}

	Keys struct {
		// MasterKey seals private keys at rest. Base64, 32 bytes decoded.
		MasterKey string `toml:"master_key"`
	}

	// Duration decodes TOML strings such as "72h".
	Duration struct {
		time.Duration
	}
)

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a config usable for local development. Secrets are left
// empty and must be provided.
func Default() *Config {
	return &Config{
		Server: Server{Addr: "localhost:9090"},
		Mongo: Mongo{
			URI:      "mongodb://localhost:27017",
			Database: "stego_chat",
		},
		Redis: Redis{Addr: "localhost:6379"},
		Delivery: Delivery{
			Backend:       BackendRedis,
			SQLitePath:    "data/delivery.db",
			Retention:     Duration{72 * time.Hour},
			PruneInterval: Duration{10 * time.Minute},
		},
		Log: log.Config{Level: "info"},
	}
}

// Load reads config from path on top of Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if len(c.Codec.Secret) < 16 {
		errs = append(errs, errors.New("codec.secret must be at least 16 characters"))
	}
	if c.Keys.MasterKey == "" {
		errs = append(errs, errors.New("keys.master_key is required"))
	}
	switch c.Delivery.Backend {
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis backend"))
		}
	case BackendSQLite:
		if c.Delivery.SQLitePath == "" {
			errs = append(errs, errors.New("delivery.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown delivery.backend %q", c.Delivery.Backend))
	}
	if c.Delivery.Retention.Duration <= 0 {
		errs = append(errs, errors.New("delivery.retention must be positive"))
	}
	if c.Delivery.PruneInterval.Duration <= 0 {
		errs = append(errs, errors.New("delivery.prune_interval must be positive"))
	}
	return errors.Join(errs...)
}
