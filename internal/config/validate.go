package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	curatorerrors "github.com/curator-ai/curator/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for structural and cross-field
// problems. Tag-level rules (ranges, enums) run first; rules that span
// fields follow.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return curatorerrors.ErrConfigInvalid(
				fieldPath(first),
				fmt.Sprintf("failed %q validation (value %v)", first.Tag(), first.Value()),
			)
		}
		return curatorerrors.ErrConfigInvalid("config", err.Error())
	}

	if c.Database.Driver == "postgres" {
		if c.Database.Postgres.Host == "" {
			return curatorerrors.ErrConfigMissing("database.postgres.host")
		}
		if c.Database.Postgres.Database == "" {
			return curatorerrors.ErrConfigMissing("database.postgres.database")
		}
	}
	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		return curatorerrors.ErrConfigMissing("database.sqlite.path")
	}

	if c.Sources.Provider == "file" && c.Sources.BookmarksFile == "" {
		return curatorerrors.ErrConfigMissing("sources.bookmarks_file")
	}

	if c.KB.Root == "" {
		return curatorerrors.ErrConfigMissing("kb.root")
	}

	if c.Retry.BaseDelay <= 0 {
		return curatorerrors.ErrConfigInvalid("retry.base_delay", "must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return curatorerrors.ErrConfigInvalid("retry.max_delay", "must be at least retry.base_delay")
	}
	if c.Retry.Breaker.Cooldown <= 0 {
		return curatorerrors.ErrConfigInvalid("retry.breaker.cooldown", "must be positive")
	}

	if _, ok := c.Runtime.Queues["default"]; !ok {
		return curatorerrors.ErrConfigMissing("runtime.queues.default")
	}
	for name, q := range c.Runtime.Queues {
		if q.RatePerSecond > 0 && q.Burst < 1 {
			return curatorerrors.ErrConfigInvalid(
				fmt.Sprintf("runtime.queues.%s.burst", name),
				"must be at least 1 when rate_per_second is set",
			)
		}
	}
	if c.Runtime.HeartbeatInterval <= 0 {
		return curatorerrors.ErrConfigInvalid("runtime.heartbeat_interval", "must be positive")
	}
	if c.Runtime.ProgressCoalesce < 0 {
		return curatorerrors.ErrConfigInvalid("runtime.progress_coalesce", "must not be negative")
	}

	if c.Events.PersistFlushInterval <= 0 {
		return curatorerrors.ErrConfigInvalid("events.persist_flush_interval", "must be positive")
	}
	if c.Events.Redis.Enabled && c.Events.Redis.Addr == "" {
		return curatorerrors.ErrConfigMissing("events.redis.addr")
	}
	if c.Events.NATS.Enabled && c.Events.NATS.URL == "" {
		return curatorerrors.ErrConfigMissing("events.nats.url")
	}

	if c.Telemetry.Enabled && c.Telemetry.Listen == "" {
		return curatorerrors.ErrConfigMissing("telemetry.listen")
	}

	for i, s := range c.Schedules {
		if s.Name == "" {
			return curatorerrors.ErrConfigInvalid(
				fmt.Sprintf("schedules[%d].name", i), "must not be empty")
		}
		if s.Cron == "" {
			return curatorerrors.ErrConfigInvalid(
				fmt.Sprintf("schedules[%d].cron", i), "must not be empty")
		}
		if !IsValidRunMode(s.Preferences.RunMode) {
			return curatorerrors.ErrConfigInvalid(
				fmt.Sprintf("schedules[%d].preferences.run_mode", i),
				fmt.Sprintf("unknown run mode %q", s.Preferences.RunMode))
		}
	}

	return nil
}

// fieldPath converts a validator namespace like
// "Config.Retry.MaxRetries" into the config file path "retry.max_retries".
func fieldPath(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:] // drop the root struct name
	}
	for i, p := range parts {
		parts[i] = toSnake(p)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] >= 'a' && s[i-1] <= 'z' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
