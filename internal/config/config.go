// Package config loads the dpapctl TOML configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	gotoml "github.com/pelletier/go-toml/v2"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the effective configuration after defaults and file values.
type Config struct {
	// Server is host:port. Empty means discover over mDNS.
	Server             string
	Username           string
	Password           string
	DiscoveryTimeout   time.Duration
	RequestTimeout     time.Duration
	RetryInterval      time.Duration
	PollInterval       time.Duration
	RequestRate        float64
	RequestBurst       int
	MaxParallelRefresh int
	ThumbnailCacheTTL  time.Duration
	AdminAddr          string
	CorsOrigins        []string
}

func Default() Config {
	return Config{
		DiscoveryTimeout:   5 * time.Second,
		RequestTimeout:     30 * time.Second,
		RetryInterval:      2 * time.Minute,
		PollInterval:       5 * time.Second,
		RequestRate:        20,
		RequestBurst:       4,
		MaxParallelRefresh: 2,
		ThumbnailCacheTTL:  10 * time.Minute,
		AdminAddr:          "127.0.0.1:9870",
	}
}

// fileConfig mirrors the on-disk keys. Durations are strings.
type fileConfig struct {
	Server             string   `toml:"server"`
	Username           string   `toml:"username"`
	Password           string   `toml:"password"`
	DiscoveryTimeout   string   `toml:"discovery_timeout"`
	RequestTimeout     string   `toml:"request_timeout"`
	RetryInterval      string   `toml:"retry_interval"`
	PollInterval       string   `toml:"poll_interval"`
	RequestRate        float64  `toml:"request_rate"`
	RequestBurst       int      `toml:"request_burst"`
	MaxParallelRefresh int      `toml:"max_parallel_refresh"`
	ThumbnailCacheTTL  string   `toml:"thumbnail_cache_ttl"`
	AdminAddr          string   `toml:"admin_addr"`
	CorsOrigins        []string `toml:"cors_origins"`
}

// Load reads path over Default and validates the result. Keys absent from
// the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	if meta.IsDefined("server") {
		cfg.Server = strings.TrimSpace(raw.Server)
	}
	if meta.IsDefined("username") {
		cfg.Username = raw.Username
	}
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"discovery_timeout", raw.DiscoveryTimeout, &cfg.DiscoveryTimeout},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
		{"retry_interval", raw.RetryInterval, &cfg.RetryInterval},
		{"poll_interval", raw.PollInterval, &cfg.PollInterval},
		{"thumbnail_cache_ttl", raw.ThumbnailCacheTTL, &cfg.ThumbnailCacheTTL},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("request_rate") {
		cfg.RequestRate = raw.RequestRate
	}
	if meta.IsDefined("request_burst") {
		cfg.RequestBurst = raw.RequestBurst
	}
	if meta.IsDefined("max_parallel_refresh") {
		cfg.MaxParallelRefresh = raw.MaxParallelRefresh
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.Server != "" {
		if _, _, err := net.SplitHostPort(cfg.Server); err != nil {
			return fmt.Errorf("%w: server %q: %v", ErrInvalid, cfg.Server, err)
		}
	}
	if cfg.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.AdminAddr); err != nil {
			return fmt.Errorf("%w: admin_addr %q: %v", ErrInvalid, cfg.AdminAddr, err)
		}
	}
	if cfg.RetryInterval <= 0 {
		return fmt.Errorf("%w: retry_interval must be positive", ErrInvalid)
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalid)
	}
	if cfg.RequestRate < 0 {
		return fmt.Errorf("%w: request_rate must not be negative", ErrInvalid)
	}
	if cfg.RequestBurst < 1 {
		return fmt.Errorf("%w: request_burst must be at least 1", ErrInvalid)
	}
	if cfg.MaxParallelRefresh < 1 {
		return fmt.Errorf("%w: max_parallel_refresh must be at least 1", ErrInvalid)
	}
	return nil
}

// Marshal renders cfg in the file format. The password is omitted.
func Marshal(cfg Config) ([]byte, error) {
	out := fileConfig{
		Server:             cfg.Server,
		Username:           cfg.Username,
		DiscoveryTimeout:   cfg.DiscoveryTimeout.String(),
		RequestTimeout:     cfg.RequestTimeout.String(),
		RetryInterval:      cfg.RetryInterval.String(),
		PollInterval:       cfg.PollInterval.String(),
		RequestRate:        cfg.RequestRate,
		RequestBurst:       cfg.RequestBurst,
		MaxParallelRefresh: cfg.MaxParallelRefresh,
		ThumbnailCacheTTL:  cfg.ThumbnailCacheTTL.String(),
		AdminAddr:          cfg.AdminAddr,
		CorsOrigins:        cfg.CorsOrigins,
	}
	b, err := gotoml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("config marshal: %w", err)
	}
	return b, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		v := strings.TrimSpace(o)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
