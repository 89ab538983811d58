package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvVarMapping defines the mapping between environment variables and config paths.
var EnvVarMapping = map[string]string{
	"CURATOR_SOURCE":            "sources.provider",
	"CURATOR_BOOKMARKS_FILE":    "sources.bookmarks_file",
	"CURATOR_FETCH_LIMIT":       "sources.fetch_limit",
	"CURATOR_KB_ROOT":           "kb.root",
	"CURATOR_DB_DRIVER":         "database.driver",
	"CURATOR_DB_PATH":           "database.sqlite.path",
	"CURATOR_DB_HOST":           "database.postgres.host",
	"CURATOR_DB_PORT":           "database.postgres.port",
	"CURATOR_DB_NAME":           "database.postgres.database",
	"CURATOR_DB_USER":           "database.postgres.user",
	"CURATOR_DB_PASSWORD":       "database.postgres.password",
	"CURATOR_DB_SSL_MODE":       "database.postgres.ssl_mode",
	"CURATOR_MAX_CONCURRENT":    "pipeline.max_concurrent",
	"CURATOR_FAILURE_THRESHOLD": "pipeline.failure_rate_threshold",
	"CURATOR_MAX_RETRIES":       "retry.max_retries",
	"CURATOR_RETRY_STRATEGY":    "retry.strategy",
	"CURATOR_RETRY_BASE_DELAY":  "retry.base_delay",
	"CURATOR_RETRY_MAX_DELAY":   "retry.max_delay",
	"CURATOR_HEARTBEAT":         "runtime.heartbeat_interval",
	"CURATOR_RETENTION_DAYS":    "runtime.retention_days",
	"CURATOR_EVENTS_REDIS":      "events.redis.enabled",
	"CURATOR_EVENTS_REDIS_ADDR": "events.redis.addr",
	"CURATOR_EVENTS_NATS":       "events.nats.enabled",
	"CURATOR_EVENTS_NATS_URL":   "events.nats.url",
	"CURATOR_TELEMETRY":         "telemetry.enabled",
	"CURATOR_TELEMETRY_LISTEN":  "telemetry.listen",
	"CURATOR_PID_FILE":          "agent.pid_file",
}

// ApplyEnvVars applies environment variable overrides to a TrackedConfig.
// Returns a list of paths that were overridden.
func ApplyEnvVars(tc *TrackedConfig) []string {
	var overridden []string

	for envVar, configPath := range EnvVarMapping {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}

		if applyEnvVar(tc.Config, configPath, value) {
			tc.SetSource(configPath, SourceEnv)
			overridden = append(overridden, configPath)
		}
	}

	return overridden
}

// applyEnvVar applies a single environment variable to the config.
// Returns true if the value was applied.
func applyEnvVar(cfg *Config, path string, value string) bool {
	switch path {
	case "sources.provider":
		cfg.Sources.Provider = value
	case "sources.bookmarks_file":
		cfg.Sources.BookmarksFile = value
	case "sources.fetch_limit":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Sources.FetchLimit = v
		}
	case "kb.root":
		cfg.KB.Root = value
	case "database.driver":
		cfg.Database.Driver = value
	case "database.sqlite.path":
		cfg.Database.SQLite.Path = value
	case "database.postgres.host":
		cfg.Database.Postgres.Host = value
	case "database.postgres.port":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Database.Postgres.Port = v
		}
	case "database.postgres.database":
		cfg.Database.Postgres.Database = value
	case "database.postgres.user":
		cfg.Database.Postgres.User = value
	case "database.postgres.password":
		cfg.Database.Postgres.Password = value
	case "database.postgres.ssl_mode":
		cfg.Database.Postgres.SSLMode = value
	case "pipeline.max_concurrent":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Pipeline.MaxConcurrent = v
		}
	case "pipeline.failure_rate_threshold":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.Pipeline.FailureRateThreshold = v
		}
	case "retry.max_retries":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Retry.MaxRetries = v
		}
	case "retry.strategy":
		cfg.Retry.Strategy = value
	case "retry.base_delay":
		if d, err := time.ParseDuration(value); err == nil {
			cfg.Retry.BaseDelay = d
		}
	case "retry.max_delay":
		if d, err := time.ParseDuration(value); err == nil {
			cfg.Retry.MaxDelay = d
		}
	case "runtime.heartbeat_interval":
		if d, err := time.ParseDuration(value); err == nil {
			cfg.Runtime.HeartbeatInterval = d
		}
	case "runtime.retention_days":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Runtime.RetentionDays = v
		}
	case "events.redis.enabled":
		cfg.Events.Redis.Enabled = parseBool(value)
	case "events.redis.addr":
		cfg.Events.Redis.Addr = value
	case "events.nats.enabled":
		cfg.Events.NATS.Enabled = parseBool(value)
	case "events.nats.url":
		cfg.Events.NATS.URL = value
	case "telemetry.enabled":
		cfg.Telemetry.Enabled = parseBool(value)
	case "telemetry.listen":
		cfg.Telemetry.Listen = value
	case "agent.pid_file":
		cfg.Agent.PIDFile = value
	default:
		return false
	}
	return true
}

// parseBool parses a boolean string (case-insensitive).
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
