package config

import (
	"strings"
	"testing"
	"time"

	curatorerrors "github.com/curator-ai/curator/internal/errors"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errSubstr string
	}{
		{
			name:    "default config is valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "unknown database driver",
			mutate:    func(c *Config) { c.Database.Driver = "oracle" },
			wantErr:   true,
			errSubstr: "database.driver",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Database.Postgres.Host = ""
			},
			wantErr:   true,
			errSubstr: "database.postgres.host",
		},
		{
			name:      "sqlite without path",
			mutate:    func(c *Config) { c.Database.SQLite.Path = "" },
			wantErr:   true,
			errSubstr: "database.sqlite.path",
		},
		{
			name:      "file source without bookmarks file",
			mutate:    func(c *Config) { c.Sources.BookmarksFile = "" },
			wantErr:   true,
			errSubstr: "sources.bookmarks_file",
		},
		{
			name:      "unknown retry strategy",
			mutate:    func(c *Config) { c.Retry.Strategy = "fibonacci" },
			wantErr:   true,
			errSubstr: "retry.strategy",
		},
		{
			name:      "max delay below base delay",
			mutate:    func(c *Config) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 },
			wantErr:   true,
			errSubstr: "retry.max_delay",
		},
		{
			name:      "missing default queue",
			mutate:    func(c *Config) { delete(c.Runtime.Queues, "default") },
			wantErr:   true,
			errSubstr: "runtime.queues.default",
		},
		{
			name: "throttled queue without burst",
			mutate: func(c *Config) {
				c.Runtime.Queues["ai_processing"] = QueueConfig{Workers: 2, RatePerSecond: 1, Burst: 0}
			},
			wantErr:   true,
			errSubstr: "burst",
		},
		{
			name:      "zero heartbeat",
			mutate:    func(c *Config) { c.Runtime.HeartbeatInterval = 0 },
			wantErr:   true,
			errSubstr: "heartbeat",
		},
		{
			name:      "failure rate above one",
			mutate:    func(c *Config) { c.Pipeline.FailureRateThreshold = 1.5 },
			wantErr:   true,
			errSubstr: "failure_rate_threshold",
		},
		{
			name:      "redis bridge without addr",
			mutate:    func(c *Config) { c.Events.Redis.Enabled = true; c.Events.Redis.Addr = "" },
			wantErr:   true,
			errSubstr: "events.redis.addr",
		},
		{
			name:      "nats bridge without url",
			mutate:    func(c *Config) { c.Events.NATS.Enabled = true; c.Events.NATS.URL = "" },
			wantErr:   true,
			errSubstr: "events.nats.url",
		},
		{
			name: "schedule without cron",
			mutate: func(c *Config) {
				c.Schedules = []ScheduleConfig{{Name: "nightly", Cron: ""}}
			},
			wantErr:   true,
			errSubstr: "cron",
		},
		{
			name: "schedule with bad run mode",
			mutate: func(c *Config) {
				c.Schedules = []ScheduleConfig{{
					Name:        "nightly",
					Cron:        "0 3 * * *",
					Preferences: RunPreferences{RunMode: "warp"},
				}}
			},
			wantErr:   true,
			errSubstr: "run_mode",
		},
		{
			name: "valid schedule",
			mutate: func(c *Config) {
				c.Schedules = []ScheduleConfig{{
					Name:        "nightly",
					Cron:        "0 3 * * *",
					Enabled:     true,
					Preferences: RunPreferences{RunMode: RunModeFull},
				}}
			},
			wantErr: false,
		},
		{
			name:      "negative breaker cooldown",
			mutate:    func(c *Config) { c.Retry.Breaker.Cooldown = -time.Minute },
			wantErr:   true,
			errSubstr: "cooldown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errSubstr != "" && !strings.Contains(err.Error(), tt.errSubstr) {
					t.Errorf("error %q does not mention %q", err.Error(), tt.errSubstr)
				}
				cErr := curatorerrors.AsCuratorError(err)
				if cErr == nil {
					t.Fatalf("expected a coded error, got %T", err)
				}
				if cErr.Code != curatorerrors.CodeConfigInvalid && cErr.Code != curatorerrors.CodeConfigMissing {
					t.Errorf("unexpected error code %s", cErr.Code)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFieldPath(t *testing.T) {
	cfg := Default()
	cfg.Retry.Factor = 0.5 // violates min=1 tag

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "retry.factor") {
		t.Errorf("expected dotted snake path in %q", err.Error())
	}
}

func TestToSnake(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"MaxRetries", "max_retries"},
		{"KBGeneration", "kbgeneration"},
		{"BaseDelay", "base_delay"},
		{"Retry", "retry"},
	}
	for _, tt := range tests {
		if got := toSnake(tt.in); got != tt.want {
			t.Errorf("toSnake(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
