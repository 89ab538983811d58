package config

import "time"

// Default returns the default configuration. Defaults favor a local,
// self-contained setup: embedded database, file bookmark source, all
// inference routed to anthropic with openai fallback.
func Default() *Config {
	return &Config{
		Version: 1,
		Sources: SourcesConfig{
			Provider:      "file",
			BookmarksFile: ".curator/bookmarks.json",
			CacheDir:      ".curator/cache",
			FetchLimit:    0, // no cap
		},
		KB: KBConfig{
			Root:         "kb",
			SynthesisDir: "kb/syntheses",
			ReadmePath:   "kb/README.md",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path: ".curator/curator.db",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "curator",
				User:     "curator",
				SSLMode:  "disable",
			},
		},
		Models: ModelsConfig{
			Vision: PhaseModelConfig{
				Provider: "anthropic",
				Model:    "claude-sonnet-4-20250514",
				Fallbacks: []ModelRef{
					{Provider: "openai", Model: "gpt-4o"},
				},
			},
			KBGeneration: PhaseModelConfig{
				Provider: "anthropic",
				Model:    "claude-sonnet-4-20250514",
				Fallbacks: []ModelRef{
					{Provider: "openai", Model: "gpt-4o"},
				},
			},
			Synthesis: PhaseModelConfig{
				Provider: "anthropic",
				Model:    "claude-opus-4-20250514",
				Fallbacks: []ModelRef{
					{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
				},
			},
			Chat: PhaseModelConfig{
				Provider: "anthropic",
				Model:    "claude-sonnet-4-20250514",
			},
			ReadmeGeneration: PhaseModelConfig{
				Provider: "anthropic",
				Model:    "claude-sonnet-4-20250514",
			},
			Embedding: PhaseModelConfig{
				Provider: "openai",
				Model:    "text-embedding-3-small",
				Fallbacks: []ModelRef{
					{Provider: "gemini", Model: "gemini-embedding-001"},
				},
			},
		},
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{
				APIKeyEnv:      "ANTHROPIC_API_KEY",
				RequestTimeout: 2 * time.Minute,
			},
			OpenAI: ProviderConfig{
				APIKeyEnv:      "OPENAI_API_KEY",
				RequestTimeout: 2 * time.Minute,
			},
			Gemini: ProviderConfig{
				APIKeyEnv:      "GEMINI_API_KEY",
				RequestTimeout: 2 * time.Minute,
			},
		},
		Pipeline: PipelineConfig{
			BatchSize:            10,
			MaxConcurrent:        4,
			FailureRateThreshold: 0.5,
			FailureRateMinItems:  10,
			SynthesisMinItems:    2,
			TextTimeout:          3 * time.Minute,
			VisionTimeout:        5 * time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries:          3,
			Strategy:            "exponential",
			BaseDelay:           time.Second,
			Factor:              2.0,
			MaxDelay:            300 * time.Second,
			RateLimitMultiplier: 10,
			Jitter:              true,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Cooldown:         60 * time.Minute,
			},
		},
		Runtime: RuntimeConfig{
			Queues: map[string]QueueConfig{
				"content_fetching": {Workers: 2, RatePerSecond: 1, Burst: 2},
				"ai_processing":    {Workers: 4, RatePerSecond: 2, Burst: 4},
				"synthesis":        {Workers: 1, RatePerSecond: 0.5, Burst: 1},
				"monitoring":       {Workers: 2},
				"priority":         {Workers: 2},
				"default":          {Workers: 2},
			},
			HeartbeatInterval:    30 * time.Second,
			WorkerLostMultiplier: 3,
			ProgressCoalesce:     100 * time.Millisecond,
			RetentionDays:        7,
		},
		Estimates: EstimatesConfig{
			WindowSize: 50,
			Seeds: map[string]time.Duration{
				"cache":   5 * time.Second,
				"media":   20 * time.Second,
				"llm":     15 * time.Second,
				"kb_item": 10 * time.Second,
				"db_sync": 1 * time.Second,
			},
		},
		Events: EventsConfig{
			BufferSize:           100,
			PersistBatchSize:     10,
			PersistFlushInterval: 5 * time.Second,
			RetentionDays:        7,
			Redis: RedisBridgeConfig{
				Enabled: false,
				Addr:    "localhost:6379",
				Channel: "curator.events",
			},
			NATS: NATSBridgeConfig{
				Enabled: false,
				URL:     "nats://localhost:4222",
				Subject: "curator.events",
			},
		},
		Agent: AgentConfig{
			PIDFile:       ".curator/agent.pid",
			ShutdownGrace: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9090",
		},
	}
}
