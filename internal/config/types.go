package config

import (
	"time"
)

// Config represents the curator configuration.
type Config struct {
	// Version is the config file version
	Version int `yaml:"version"`

	// Sources configures bookmark ingestion.
	Sources SourcesConfig `yaml:"sources"`

	// KB configures the knowledge-base tree on disk.
	KB KBConfig `yaml:"kb"`

	// Database selects and configures the state backend.
	Database DatabaseConfig `yaml:"database"`

	// Models is the per-phase inference routing table.
	Models ModelsConfig `yaml:"models"`

	// Providers holds backend connection settings.
	Providers ProvidersConfig `yaml:"providers"`

	// Pipeline configures run behavior.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Retry configures failure classification handling.
	Retry RetryConfig `yaml:"retry"`

	// Runtime configures task execution.
	Runtime RuntimeConfig `yaml:"runtime"`

	// Estimates configures completion-time estimation.
	Estimates EstimatesConfig `yaml:"estimates"`

	// Events configures the event bus and its bridges.
	Events EventsConfig `yaml:"events"`

	// Agent configures the controller process.
	Agent AgentConfig `yaml:"agent"`

	// Telemetry configures the metrics endpoint.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Schedules seeds recurring runs at init time.
	Schedules []ScheduleConfig `yaml:"schedules,omitempty"`
}

// SourcesConfig configures where bookmarks come from.
type SourcesConfig struct {
	// Provider names the bookmark source ("twitter" or "file").
	Provider string `yaml:"provider" validate:"oneof=twitter file"`

	// BookmarksFile is the export file read by the file provider.
	BookmarksFile string `yaml:"bookmarks_file,omitempty"`

	// CacheDir is where fetched content and media land before processing.
	CacheDir string `yaml:"cache_dir"`

	// FetchLimit caps items fetched per run. Zero means no cap.
	FetchLimit int `yaml:"fetch_limit" validate:"min=0"`
}

// KBConfig configures the generated knowledge base.
type KBConfig struct {
	// Root is the knowledge-base directory, organized as
	// root/category/subcategory/item_name/.
	Root string `yaml:"root"`

	// SynthesisDir is where per-category synthesis documents are written.
	SynthesisDir string `yaml:"synthesis_dir"`

	// ReadmePath is the generated root index document.
	ReadmePath string `yaml:"readme_path"`
}

// DatabaseConfig selects the state backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`

	// SQLite settings (used when driver is sqlite).
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Postgres settings (used when driver is postgres).
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig configures the embedded database.
type SQLiteConfig struct {
	// Path is the database file, relative to the working directory.
	Path string `yaml:"path"`
}

// PostgresConfig configures a server-backed database.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"min=0,max=65535"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ModelsConfig is the routing table keyed by inference phase. Each entry
// names a primary backend/model and an ordered fallback chain.
type ModelsConfig struct {
	Vision           PhaseModelConfig `yaml:"vision"`
	KBGeneration     PhaseModelConfig `yaml:"kb_generation"`
	Synthesis        PhaseModelConfig `yaml:"synthesis"`
	Chat             PhaseModelConfig `yaml:"chat"`
	ReadmeGeneration PhaseModelConfig `yaml:"readme_generation"`
	Embedding        PhaseModelConfig `yaml:"embedding"`
}

// PhaseModelConfig routes one inference phase.
type PhaseModelConfig struct {
	// Provider is the backend name ("anthropic", "openai", "gemini", "mock").
	Provider string `yaml:"provider"`

	// Model is the provider's model identifier.
	Model string `yaml:"model"`

	// Fallbacks are tried in order when the primary is unavailable.
	Fallbacks []ModelRef `yaml:"fallbacks,omitempty"`

	// MaxTokens caps the response size. Zero uses the backend default.
	MaxTokens int `yaml:"max_tokens,omitempty" validate:"min=0"`

	// Temperature, when set, overrides the backend default.
	Temperature *float64 `yaml:"temperature,omitempty"`
}

// ModelRef names a provider/model pair.
type ModelRef struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ProvidersConfig holds backend connection settings. API keys come from the
// environment, never from the config file.
type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Gemini    ProviderConfig `yaml:"gemini"`
}

// ProviderConfig configures one inference backend.
type ProviderConfig struct {
	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider endpoint (proxies, test servers).
	BaseURL string `yaml:"base_url,omitempty"`

	// RequestTimeout bounds a single inference call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PipelineConfig configures run behavior.
type PipelineConfig struct {
	// BatchSize is how many items go into one submitted task.
	BatchSize int `yaml:"batch_size" validate:"min=1"`

	// MaxConcurrent bounds per-item workers inside a phase.
	MaxConcurrent int `yaml:"max_concurrent" validate:"min=1"`

	// FailureRateThreshold gates dependent phases when the observed item
	// failure fraction exceeds it. 1.0 disables the gate.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" validate:"min=0,max=1"`

	// FailureRateMinItems is the smallest sample the gate acts on.
	FailureRateMinItems int `yaml:"failure_rate_min_items" validate:"min=1"`

	// SynthesisMinItems is the smallest category that gets a synthesis
	// document.
	SynthesisMinItems int `yaml:"synthesis_min_items" validate:"min=1"`

	// TextTimeout bounds one text completion call.
	TextTimeout time.Duration `yaml:"text_timeout"`

	// VisionTimeout bounds one vision completion call.
	VisionTimeout time.Duration `yaml:"vision_timeout"`
}

// RetryConfig configures failure handling for pipeline items.
type RetryConfig struct {
	// MaxRetries bounds attempts per item before it is parked.
	MaxRetries int `yaml:"max_retries" validate:"min=0"`

	// Strategy is "exponential", "linear", "immediate", or "none".
	Strategy string `yaml:"strategy" validate:"oneof=exponential linear immediate none"`

	// BaseDelay seeds the backoff schedule.
	BaseDelay time.Duration `yaml:"base_delay"`

	// Factor is the exponential growth multiplier.
	Factor float64 `yaml:"factor" validate:"min=1"`

	// MaxDelay clamps any computed delay.
	MaxDelay time.Duration `yaml:"max_delay"`

	// RateLimitMultiplier scales the base delay for rate-limit failures.
	RateLimitMultiplier float64 `yaml:"rate_limit_multiplier" validate:"min=1"`

	// Jitter randomizes computed delays by a factor in [0.8, 1.2] so
	// failed items do not retry in lockstep.
	Jitter bool `yaml:"jitter"`

	// Breaker configures the per-item circuit breaker.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the per-item circuit breaker.
type BreakerConfig struct {
	// FailureThreshold trips the breaker after this many consecutive
	// failures.
	FailureThreshold int `yaml:"failure_threshold" validate:"min=1"`

	// Cooldown is how long a tripped breaker blocks the item.
	Cooldown time.Duration `yaml:"cooldown"`
}

// RuntimeConfig configures task execution.
type RuntimeConfig struct {
	// Queues maps queue name to its worker and rate settings. Unlisted
	// queues fall back to the "default" entry.
	Queues map[string]QueueConfig `yaml:"queues"`

	// HeartbeatInterval is how often workers report liveness.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// WorkerLostMultiplier marks a worker lost after this many missed
	// heartbeat intervals.
	WorkerLostMultiplier int `yaml:"worker_lost_multiplier" validate:"min=1"`

	// ProgressCoalesce floors the interval between persisted progress
	// updates per task.
	ProgressCoalesce time.Duration `yaml:"progress_coalesce"`

	// RetentionDays bounds how long finished task rows are kept.
	RetentionDays int `yaml:"retention_days" validate:"min=1"`
}

// QueueConfig sizes one execution queue.
type QueueConfig struct {
	// Workers is the concurrent task cap for the queue.
	Workers int `yaml:"workers" validate:"min=1"`

	// RatePerSecond throttles task starts. Zero means unthrottled.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"min=0"`

	// Burst is the token-bucket burst size when throttled.
	Burst int `yaml:"burst" validate:"min=0"`
}

// EstimatesConfig configures completion-time estimation.
type EstimatesConfig struct {
	// WindowSize is the per-phase sample ring capacity.
	WindowSize int `yaml:"window_size" validate:"min=1"`

	// Seeds provide per-phase expected durations before history exists.
	Seeds map[string]time.Duration `yaml:"seeds,omitempty"`
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	// BufferSize is the per-subscriber channel depth.
	BufferSize int `yaml:"buffer_size" validate:"min=1"`

	// PersistBatchSize flushes buffered events to storage at this count.
	PersistBatchSize int `yaml:"persist_batch_size" validate:"min=1"`

	// PersistFlushInterval flushes buffered events at this age.
	PersistFlushInterval time.Duration `yaml:"persist_flush_interval"`

	// RetentionDays bounds how long persisted events are kept.
	RetentionDays int `yaml:"retention_days" validate:"min=1"`

	// Redis optionally mirrors events to a Redis channel.
	Redis RedisBridgeConfig `yaml:"redis"`

	// NATS optionally mirrors events to a NATS subject.
	NATS NATSBridgeConfig `yaml:"nats"`
}

// RedisBridgeConfig configures the Redis event bridge.
type RedisBridgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr,omitempty"`
	Channel string `yaml:"channel,omitempty"`
}

// NATSBridgeConfig configures the NATS event bridge.
type NATSBridgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// AgentConfig configures the controller process.
type AgentConfig struct {
	// PIDFile guards against concurrent agents over one data directory.
	PIDFile string `yaml:"pid_file"`

	// ShutdownGrace bounds how long a stop waits for the active run.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// QueueRuns makes start requests during an active run wait their
	// turn instead of failing with AGENT_BUSY.
	QueueRuns bool `yaml:"queue_runs"`
}

// TelemetryConfig configures the metrics endpoint.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// ScheduleConfig seeds one recurring run.
type ScheduleConfig struct {
	// Name identifies the schedule.
	Name string `yaml:"name"`

	// Cron is a standard five-field cron expression.
	Cron string `yaml:"cron"`

	// Enabled toggles the schedule without deleting it.
	Enabled bool `yaml:"enabled"`

	// Preferences shape the runs this schedule launches.
	Preferences RunPreferences `yaml:"preferences"`
}

// RunPreferences shape one pipeline run.
type RunPreferences struct {
	// RunMode selects the base phase set: "full" runs everything,
	// "synthesis_only", "embedding_only", and "readme_only" run a single
	// global phase over existing items.
	RunMode string `yaml:"run_mode,omitempty" json:"run_mode,omitempty"`

	// ItemIDs restricts the run to the named items. Empty means all.
	ItemIDs []string `yaml:"item_ids,omitempty" json:"item_ids,omitempty"`

	// ForceRecacheItems re-fetches content even when already cached.
	ForceRecacheItems bool `yaml:"force_recache_items,omitempty" json:"force_recache_items,omitempty"`

	// ForceReprocessMedia redoes vision analysis for all items.
	ForceReprocessMedia bool `yaml:"force_reprocess_media,omitempty" json:"force_reprocess_media,omitempty"`

	// ForceReprocessLLM redoes understanding and categorization.
	ForceReprocessLLM bool `yaml:"force_reprocess_llm,omitempty" json:"force_reprocess_llm,omitempty"`

	// ForceReprocessKBItem regenerates knowledge-base documents and
	// implies a db resync for the regenerated items.
	ForceReprocessKBItem bool `yaml:"force_reprocess_kb_item,omitempty" json:"force_reprocess_kb_item,omitempty"`

	// ForceRegenerateSynthesis rebuilds synthesis documents even when no
	// category changed.
	ForceRegenerateSynthesis bool `yaml:"force_regenerate_synthesis,omitempty" json:"force_regenerate_synthesis,omitempty"`

	// ForceRegenerateEmbeddings rebuilds the vector index.
	ForceRegenerateEmbeddings bool `yaml:"force_regenerate_embeddings,omitempty" json:"force_regenerate_embeddings,omitempty"`

	// ForceRegenerateReadme rewrites the root index document.
	ForceRegenerateReadme bool `yaml:"force_regenerate_readme,omitempty" json:"force_regenerate_readme,omitempty"`

	// SkipFetchBookmarks processes only already-known items.
	SkipFetchBookmarks bool `yaml:"skip_fetch_bookmarks,omitempty" json:"skip_fetch_bookmarks,omitempty"`

	// SkipProcessContent leaves the per-item phases out of the run.
	SkipProcessContent bool `yaml:"skip_process_content,omitempty" json:"skip_process_content,omitempty"`

	// SkipSynthesis leaves synthesis out of the run.
	SkipSynthesis bool `yaml:"skip_synthesis,omitempty" json:"skip_synthesis,omitempty"`

	// SkipEmbedding leaves the vector index out of the run.
	SkipEmbedding bool `yaml:"skip_embedding,omitempty" json:"skip_embedding,omitempty"`

	// SkipReadme leaves the root index out of the run.
	SkipReadme bool `yaml:"skip_readme,omitempty" json:"skip_readme,omitempty"`

	// SkipGitSync leaves the export step out of the run.
	SkipGitSync bool `yaml:"skip_git_sync,omitempty" json:"skip_git_sync,omitempty"`

	// ModelsOverride replaces routing entries for this run only, keyed by
	// inference phase.
	ModelsOverride map[string]ModelRef `yaml:"models_override,omitempty" json:"models_override,omitempty"`
}

// Run modes accepted by RunPreferences.RunMode.
const (
	RunModeFull          = "full"
	RunModeSynthesisOnly = "synthesis_only"
	RunModeEmbeddingOnly = "embedding_only"
	RunModeReadmeOnly    = "readme_only"
)

// IsValidRunMode returns true for a known run mode. The empty string is
// valid and means RunModeFull.
func IsValidRunMode(mode string) bool {
	switch mode {
	case "", RunModeFull, RunModeSynthesisOnly, RunModeEmbeddingOnly, RunModeReadmeOnly:
		return true
	default:
		return false
	}
}
