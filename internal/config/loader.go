package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ODDSARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ODDSARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "ODDSARB_DATABASE_DSN")
	setStr(&cfg.Database.Host, "ODDSARB_DATABASE_HOST")
	setInt(&cfg.Database.Port, "ODDSARB_DATABASE_PORT")
	setStr(&cfg.Database.Database, "ODDSARB_DATABASE_NAME")
	setStr(&cfg.Database.User, "ODDSARB_DATABASE_USER")
	setStr(&cfg.Database.Password, "ODDSARB_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "ODDSARB_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "ODDSARB_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "ODDSARB_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "ODDSARB_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ODDSARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ODDSARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ODDSARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ODDSARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ODDSARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ODDSARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ODDSARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ODDSARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "ODDSARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ODDSARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ODDSARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ODDSARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ODDSARB_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setDuration(&cfg.Engine.StalenessWindow, "ODDSARB_ENGINE_STALENESS_WINDOW")
	setDuration(&cfg.Engine.RetentionWindow, "ODDSARB_ENGINE_RETENTION_WINDOW")
	setDuration(&cfg.Engine.ValidityWindow, "ODDSARB_ENGINE_VALIDITY_WINDOW")
	setFloat64(&cfg.Engine.TotalStake, "ODDSARB_ENGINE_TOTAL_STAKE")
	setFloat64(&cfg.Engine.MinProfitPct, "ODDSARB_ENGINE_MIN_PROFIT_PCT")
	setDuration(&cfg.Engine.EventPastWindow, "ODDSARB_ENGINE_EVENT_PAST_WINDOW")
	setDuration(&cfg.Engine.EventFutureWindow, "ODDSARB_ENGINE_EVENT_FUTURE_WINDOW")
	setFloat64(&cfg.Engine.LowRiskConfidence, "ODDSARB_ENGINE_LOW_RISK_CONFIDENCE")
	setFloat64(&cfg.Engine.MediumRiskConfidence, "ODDSARB_ENGINE_MEDIUM_RISK_CONFIDENCE")
	setInt(&cfg.Engine.IndexShards, "ODDSARB_ENGINE_INDEX_SHARDS")

	// ── Sweep ──
	setDuration(&cfg.Sweep.EvictionInterval, "ODDSARB_SWEEP_EVICTION_INTERVAL")
	setDuration(&cfg.Sweep.ExpiryInterval, "ODDSARB_SWEEP_EXPIRY_INTERVAL")
	setDuration(&cfg.Sweep.RetentionInterval, "ODDSARB_SWEEP_RETENTION_INTERVAL")
	setBool(&cfg.Sweep.ArchiveEnabled, "ODDSARB_SWEEP_ARCHIVE_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ODDSARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ODDSARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ODDSARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ReadAPIKey, "ODDSARB_SERVER_READ_API_KEY")
	setStr(&cfg.Server.WriteAPIKey, "ODDSARB_SERVER_WRITE_API_KEY")
	setInt(&cfg.Server.RateLimit, "ODDSARB_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ODDSARB_SERVER_RATE_WINDOW")

	// ── Top level ──
	setStr(&cfg.Mode, "ODDSARB_MODE")
	setStr(&cfg.LogLevel, "ODDSARB_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
