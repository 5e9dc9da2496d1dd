package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "guildmirror.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "GUILDMIRROR_PORT")
	setString(&cfg.Server.CORSOrigin, "GUILDMIRROR_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "GUILDMIRROR_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "GUILDMIRROR_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "GUILDMIRROR_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "GUILDMIRROR_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "GUILDMIRROR_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Discord.APIBaseURL, "GUILDMIRROR_DISCORD_API_URL")
	setString(&cfg.Discord.GatewayURL, "GUILDMIRROR_DISCORD_GATEWAY_URL")
	setDuration(&cfg.Reconcile.Interval, "GUILDMIRROR_RECONCILE_INTERVAL")
	setInt(&cfg.Reconcile.MaxParallel, "GUILDMIRROR_RECONCILE_MAX_PARALLEL")
	setInt64(&cfg.Cache.MaxCostBytes, "GUILDMIRROR_CACHE_MAX_COST_BYTES")
	setDuration(&cfg.Cache.MemberTTL, "GUILDMIRROR_CACHE_MEMBER_TTL")
	setInt(&cfg.Breaker.MaxFailures, "GUILDMIRROR_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "GUILDMIRROR_BREAKER_TIMEOUT")
	setString(&cfg.Logging.Level, "GUILDMIRROR_LOG_LEVEL")
	setString(&cfg.Logging.Service, "GUILDMIRROR_LOG_SERVICE")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setDuration(&cfg.Telemetry.Interval, "GUILDMIRROR_TELEMETRY_INTERVAL")
	setString(&cfg.Alert.WebhookURL, "GUILDMIRROR_ALERT_WEBHOOK_URL")

	// Bot tokens come from env as GUILDMIRROR_BOT_TOKEN_<ID> so the YAML
	// file never has to contain credentials.
	for i := range cfg.Discord.Bots {
		setString(&cfg.Discord.Bots[i].Token, "GUILDMIRROR_BOT_TOKEN_"+envKey(cfg.Discord.Bots[i].ID))
	}
}

// envKey uppercases a bot id for use in an environment variable name.
func envKey(id string) string {
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Reconcile.MaxParallel < 1 {
		return errors.New("reconcile.max_parallel must be >= 1")
	}
	seen := make(map[string]struct{}, len(cfg.Discord.Bots))
	for _, b := range cfg.Discord.Bots {
		if b.ID == "" {
			return errors.New("discord.bots[].id is required")
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("discord.bots: duplicate bot id %q", b.ID)
		}
		seen[b.ID] = struct{}{}
	}
	return nil
}

func setString(dst *string, key string) {
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

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
