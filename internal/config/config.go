// Package config defines the top-level configuration for the odds arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ODDSARB_* environment variables.
type Config struct {
	Database   DatabaseConfig    `toml:"database"`
	Redis      RedisConfig       `toml:"redis"`
	S3         S3Config          `toml:"s3"`
	Engine     EngineConfig      `toml:"engine"`
	Sweep      SweepConfig       `toml:"sweep"`
	Server     ServerConfig      `toml:"server"`
	Bookmakers []BookmakerConfig `toml:"bookmakers"`
	Mode       string            `toml:"mode"`
	LogLevel   string            `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the retention
// archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds the tunable thresholds of the matching engine. They are
// passed explicitly into the index, matcher, allocator, and lifecycle manager
// at construction; there is no process-wide state.
type EngineConfig struct {
	// StalenessWindow is the maximum quote age considered live by BestFor.
	StalenessWindow duration `toml:"staleness_window"`
	// RetentionWindow is the maximum quote age before eviction.
	RetentionWindow duration `toml:"retention_window"`
	// ValidityWindow bounds how long a freshly detected opportunity stays
	// active without re-confirmation.
	ValidityWindow duration `toml:"validity_window"`
	// TotalStake is the default stake budget split across selections.
	TotalStake float64 `toml:"total_stake"`
	// MinProfitPct filters out near-zero arbitrages produced by rounding.
	MinProfitPct float64 `toml:"min_profit_pct"`
	// EventPastWindow / EventFutureWindow bound accepted event start times
	// around "now".
	EventPastWindow   duration `toml:"event_past_window"`
	EventFutureWindow duration `toml:"event_future_window"`
	// Risk tier thresholds on the opportunity confidence score.
	LowRiskConfidence    float64 `toml:"low_risk_confidence"`
	MediumRiskConfidence float64 `toml:"medium_risk_confidence"`
	// IndexShards is the shard count of the freshness index.
	IndexShards int `toml:"index_shards"`
}

// SweepConfig holds the periodic background sweep schedules.
type SweepConfig struct {
	EvictionInterval  duration `toml:"eviction_interval"`
	ExpiryInterval    duration `toml:"expiry_interval"`
	RetentionInterval duration `toml:"retention_interval"`
	ArchiveEnabled    bool     `toml:"archive_enabled"`
}

// ServerConfig holds the HTTP API server configuration. ReadAPIKey grants
// read-only access; WriteAPIKey additionally grants the privileged operations
// (cleanup trigger, bookmaker administration).
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	ReadAPIKey  string   `toml:"read_api_key"`
	WriteAPIKey string   `toml:"write_api_key"`
	// RateLimit is requests per RateWindow per client IP. Zero disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// BookmakerConfig declares one bookmaker the engine accepts quotes from.
// Reliability weighs the confidence of opportunities built on this source.
type BookmakerConfig struct {
	Name        string  `toml:"name"`
	DisplayName string  `toml:"display_name"`
	WebsiteURL  string  `toml:"website_url"`
	Reliability float64 `toml:"reliability"`
	Active      bool    `toml:"active"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "15m", "24h").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "15m" or "24h".
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "oddsarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "oddsarb-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			StalenessWindow:      duration{24 * time.Hour},
			RetentionWindow:      duration{7 * 24 * time.Hour},
			ValidityWindow:       duration{15 * time.Minute},
			TotalStake:           1000.0,
			MinProfitPct:         0.01,
			EventPastWindow:      duration{7 * 24 * time.Hour},
			EventFutureWindow:    duration{365 * 24 * time.Hour},
			LowRiskConfidence:    0.8,
			MediumRiskConfidence: 0.5,
			IndexShards:          32,
		},
		Sweep: SweepConfig{
			EvictionInterval:  duration{10 * time.Minute},
			ExpiryInterval:    duration{1 * time.Minute},
			RetentionInterval: duration{6 * time.Hour},
			ArchiveEnabled:    false,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Bookmakers: []BookmakerConfig{},
		Mode:       "full",
		LogLevel:   "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest": true,
	"server": true,
	"sweep":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, server, sweep, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: either dsn or host must be set")
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database name must not be empty")
		}
		if c.Database.User == "" {
			errs = append(errs, "database: user must not be empty")
		}
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, fmt.Sprintf("database: pool_min_conns (%d) exceeds pool_max_conns (%d)",
			c.Database.PoolMinConns, c.Database.PoolMaxConns))
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// Engine thresholds
	if c.Engine.StalenessWindow.Duration <= 0 {
		errs = append(errs, "engine: staleness_window must be positive")
	}
	if c.Engine.RetentionWindow.Duration < c.Engine.StalenessWindow.Duration {
		errs = append(errs, "engine: retention_window must not be shorter than staleness_window")
	}
	if c.Engine.ValidityWindow.Duration <= 0 {
		errs = append(errs, "engine: validity_window must be positive")
	}
	if c.Engine.TotalStake <= 0 {
		errs = append(errs, "engine: total_stake must be positive")
	}
	if c.Engine.MinProfitPct < 0 {
		errs = append(errs, "engine: min_profit_pct must not be negative")
	}
	if c.Engine.LowRiskConfidence <= c.Engine.MediumRiskConfidence {
		errs = append(errs, fmt.Sprintf("engine: low_risk_confidence (%.2f) must exceed medium_risk_confidence (%.2f)",
			c.Engine.LowRiskConfidence, c.Engine.MediumRiskConfidence))
	}
	if c.Engine.IndexShards <= 0 {
		errs = append(errs, "engine: index_shards must be positive")
	}

	// Bookmakers
	seen := map[string]bool{}
	for i, bm := range c.Bookmakers {
		if bm.Name == "" {
			errs = append(errs, fmt.Sprintf("bookmakers[%d]: name must not be empty", i))
			continue
		}
		if seen[bm.Name] {
			errs = append(errs, fmt.Sprintf("bookmakers[%d]: duplicate name %q", i, bm.Name))
		}
		seen[bm.Name] = true
		if bm.Reliability < 0 || bm.Reliability > 1 {
			errs = append(errs, fmt.Sprintf("bookmakers[%d] %s: reliability must be in [0,1], got %g", i, bm.Name, bm.Reliability))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
		}
		if c.Server.WriteAPIKey != "" && c.Server.ReadAPIKey == "" {
			errs = append(errs, "server: read_api_key must be set when write_api_key is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Reliability returns the configured reliability weight for a bookmaker slug,
// defaulting to 1.0 for unknown bookmakers.
func (c *Config) Reliability(name string) float64 {
	for _, bm := range c.Bookmakers {
		if bm.Name == name {
			if bm.Reliability > 0 {
				return bm.Reliability
			}
			return 1.0
		}
	}
	return 1.0
}
