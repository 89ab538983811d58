package item

import (
	"fmt"
	"time"
)

// RetryHistoryCap bounds the per-record retry attempt history.
const RetryHistoryCap = 20

// MediaRef describes one media attachment on an item, in source order.
type MediaRef struct {
	// Type is the media kind as reported by the source (photo, video, animated_gif).
	Type string `yaml:"type" json:"type"`

	// URL is the remote location of the media.
	URL string `yaml:"url" json:"url"`

	// LocalPath is set once the media has been cached to disk.
	LocalPath string `yaml:"local_path,omitempty" json:"local_path,omitempty"`

	// AltText carries the source's alt text or a generated description.
	AltText string `yaml:"alt_text,omitempty" json:"alt_text,omitempty"`
}

// ThreadItem is one sibling payload of a threaded item.
type ThreadItem struct {
	ItemID   string     `yaml:"item_id" json:"item_id"`
	FullText string     `yaml:"full_text" json:"full_text"`
	Media    []MediaRef `yaml:"media,omitempty" json:"media,omitempty"`
}

// Categories is the structured categorization output for an item.
type Categories struct {
	MainCategory string   `yaml:"main_category" json:"main_category"`
	SubCategory  string   `yaml:"sub_category" json:"sub_category"`
	ItemName     string   `yaml:"item_name" json:"item_name"`
	Tags         []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// RetryAttempt is one entry in a record's bounded retry history.
type RetryAttempt struct {
	Attempt     int       `yaml:"attempt" json:"attempt"`
	Phase       Phase     `yaml:"phase" json:"phase"`
	FailureType string    `yaml:"failure_type" json:"failure_type"`
	Error       string    `yaml:"error" json:"error"`
	FailedAt    time.Time `yaml:"failed_at" json:"failed_at"`
	NextRetryAt time.Time `yaml:"next_retry_at" json:"next_retry_at"`
}

// Record is the durable state of one ingested item, keyed by ItemID (the
// external source id). All mutation goes through the item store.
type Record struct {
	// ItemID is the primary key, equal to the external source id.
	ItemID string `yaml:"item_id" json:"item_id"`

	// BookmarkedItemID is the id of the bookmark entry that referenced this item.
	BookmarkedItemID string `yaml:"bookmarked_item_id,omitempty" json:"bookmarked_item_id,omitempty"`

	// Source tags the origin of the item (e.g. "twitter").
	Source string `yaml:"source" json:"source"`

	// RawContent is the opaque source payload as JSON text.
	RawContent string `yaml:"raw_content,omitempty" json:"raw_content,omitempty"`

	// DisplayTitle is a short human-readable title derived from the content.
	DisplayTitle string `yaml:"display_title,omitempty" json:"display_title,omitempty"`

	// FullText is the complete text content, thread-merged when applicable.
	FullText string `yaml:"full_text,omitempty" json:"full_text,omitempty"`

	// MediaRefs lists the item's media in source order.
	MediaRefs []MediaRef `yaml:"media_refs,omitempty" json:"media_refs,omitempty"`

	// IsThread marks items that are part of a thread.
	IsThread bool `yaml:"is_thread,omitempty" json:"is_thread,omitempty"`

	// ThreadItems holds sibling payloads when IsThread is set.
	ThreadItems []ThreadItem `yaml:"thread_items,omitempty" json:"thread_items,omitempty"`

	// Per-phase completion flags. A flag moves false to true only after the
	// phase's postconditions hold, and true to false only via a reprocess
	// request.
	CacheComplete       bool `yaml:"cache_complete" json:"cache_complete"`
	MediaProcessed      bool `yaml:"media_processed" json:"media_processed"`
	CategoriesProcessed bool `yaml:"categories_processed" json:"categories_processed"`
	KBItemCreated       bool `yaml:"kb_item_created" json:"kb_item_created"`
	DBSynced            bool `yaml:"db_synced" json:"db_synced"`

	// Per-phase error annotations. Empty means no error. A non-empty
	// annotation implies the same phase's completion flag is false.
	CacheError  string `yaml:"cache_error,omitempty" json:"cache_error,omitempty"`
	MediaError  string `yaml:"media_error,omitempty" json:"media_error,omitempty"`
	LLMError    string `yaml:"llm_error,omitempty" json:"llm_error,omitempty"`
	KBItemError string `yaml:"kb_item_error,omitempty" json:"kb_item_error,omitempty"`
	DBSyncError string `yaml:"db_sync_error,omitempty" json:"db_sync_error,omitempty"`

	// Categorization outputs.
	MainCategory       string      `yaml:"main_category,omitempty" json:"main_category,omitempty"`
	SubCategory        string      `yaml:"sub_category,omitempty" json:"sub_category,omitempty"`
	ItemNameSuggestion string      `yaml:"item_name_suggestion,omitempty" json:"item_name_suggestion,omitempty"`
	Categories         *Categories `yaml:"categories,omitempty" json:"categories,omitempty"`

	// Knowledge-item outputs.
	KBItemPath   string   `yaml:"kb_item_path,omitempty" json:"kb_item_path,omitempty"`
	KBMediaPaths []string `yaml:"kb_media_paths,omitempty" json:"kb_media_paths,omitempty"`

	// Reprocess controls.
	ForceReprocessPipeline bool       `yaml:"force_reprocess_pipeline,omitempty" json:"force_reprocess_pipeline,omitempty"`
	ForceRecache           bool       `yaml:"force_recache,omitempty" json:"force_recache,omitempty"`
	ReprocessRequestedAt   *time.Time `yaml:"reprocess_requested_at,omitempty" json:"reprocess_requested_at,omitempty"`
	ReprocessRequestedBy   string     `yaml:"reprocess_requested_by,omitempty" json:"reprocess_requested_by,omitempty"`

	// Retry metadata, kept on the record so restarts resume schedules.
	RetryCount       int            `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`
	LastRetryAttempt *time.Time     `yaml:"last_retry_attempt,omitempty" json:"last_retry_attempt,omitempty"`
	NextRetryAfter   *time.Time     `yaml:"next_retry_after,omitempty" json:"next_retry_after,omitempty"`
	FailureType      string         `yaml:"failure_type,omitempty" json:"failure_type,omitempty"`
	RetryHistory     []RetryAttempt `yaml:"retry_history,omitempty" json:"retry_history,omitempty"`

	// Runtime-scoped flags, cleared at run start.
	CacheSucceededThisRun  bool `yaml:"cache_succeeded_this_run,omitempty" json:"cache_succeeded_this_run,omitempty"`
	MediaSucceededThisRun  bool `yaml:"media_succeeded_this_run,omitempty" json:"media_succeeded_this_run,omitempty"`
	LLMSucceededThisRun    bool `yaml:"llm_succeeded_this_run,omitempty" json:"llm_succeeded_this_run,omitempty"`
	KBItemSucceededThisRun bool `yaml:"kb_item_succeeded_this_run,omitempty" json:"kb_item_succeeded_this_run,omitempty"`
	DBSyncSucceededThisRun bool `yaml:"db_sync_succeeded_this_run,omitempty" json:"db_sync_succeeded_this_run,omitempty"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// New creates a record for a freshly ingested item.
func New(itemID, source string) *Record {
	now := time.Now().UTC()
	return &Record{
		ItemID:    itemID,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Flag returns the completion flag for a per-item phase.
func (r *Record) Flag(p Phase) bool {
	switch p {
	case PhaseCache:
		return r.CacheComplete
	case PhaseMedia:
		return r.MediaProcessed
	case PhaseLLM:
		return r.CategoriesProcessed
	case PhaseKBItem:
		return r.KBItemCreated
	case PhaseDBSync:
		return r.DBSynced
	default:
		return false
	}
}

// SetFlag sets the completion flag for a per-item phase. Setting a flag
// true clears the phase's error annotation; per-item flags and errors never
// coexist.
func (r *Record) SetFlag(p Phase, v bool) {
	switch p {
	case PhaseCache:
		r.CacheComplete = v
	case PhaseMedia:
		r.MediaProcessed = v
	case PhaseLLM:
		r.CategoriesProcessed = v
	case PhaseKBItem:
		r.KBItemCreated = v
	case PhaseDBSync:
		r.DBSynced = v
	}
	if v {
		r.SetPhaseError(p, "")
	}
}

// PhaseError returns the error annotation for a per-item phase.
func (r *Record) PhaseError(p Phase) string {
	switch p {
	case PhaseCache:
		return r.CacheError
	case PhaseMedia:
		return r.MediaError
	case PhaseLLM:
		return r.LLMError
	case PhaseKBItem:
		return r.KBItemError
	case PhaseDBSync:
		return r.DBSyncError
	default:
		return ""
	}
}

// SetPhaseError records an error annotation for a per-item phase. A
// non-empty message forces the phase's completion flag false.
func (r *Record) SetPhaseError(p Phase, msg string) {
	switch p {
	case PhaseCache:
		r.CacheError = msg
	case PhaseMedia:
		r.MediaError = msg
	case PhaseLLM:
		r.LLMError = msg
	case PhaseKBItem:
		r.KBItemError = msg
	case PhaseDBSync:
		r.DBSyncError = msg
	default:
		return
	}
	if msg != "" {
		switch p {
		case PhaseCache:
			r.CacheComplete = false
		case PhaseMedia:
			r.MediaProcessed = false
		case PhaseLLM:
			r.CategoriesProcessed = false
		case PhaseKBItem:
			r.KBItemCreated = false
		case PhaseDBSync:
			r.DBSynced = false
		}
	}
}

// HasAnyError reports whether any per-item phase has an error annotation.
func (r *Record) HasAnyError() bool {
	return r.CacheError != "" || r.MediaError != "" || r.LLMError != "" ||
		r.KBItemError != "" || r.DBSyncError != ""
}

// SucceededThisRun returns the runtime-scoped success flag for a phase.
func (r *Record) SucceededThisRun(p Phase) bool {
	switch p {
	case PhaseCache:
		return r.CacheSucceededThisRun
	case PhaseMedia:
		return r.MediaSucceededThisRun
	case PhaseLLM:
		return r.LLMSucceededThisRun
	case PhaseKBItem:
		return r.KBItemSucceededThisRun
	case PhaseDBSync:
		return r.DBSyncSucceededThisRun
	default:
		return false
	}
}

// SetSucceededThisRun sets the runtime-scoped success flag for a phase.
func (r *Record) SetSucceededThisRun(p Phase, v bool) {
	switch p {
	case PhaseCache:
		r.CacheSucceededThisRun = v
	case PhaseMedia:
		r.MediaSucceededThisRun = v
	case PhaseLLM:
		r.LLMSucceededThisRun = v
	case PhaseKBItem:
		r.KBItemSucceededThisRun = v
	case PhaseDBSync:
		r.DBSyncSucceededThisRun = v
	}
}

// ClearRuntimeFlags resets all runtime-scoped success flags, as done at the
// start of every run.
func (r *Record) ClearRuntimeFlags() {
	r.CacheSucceededThisRun = false
	r.MediaSucceededThisRun = false
	r.LLMSucceededThisRun = false
	r.KBItemSucceededThisRun = false
	r.DBSyncSucceededThisRun = false
}

// RequestReprocess marks the record for full pipeline reprocessing. Flags
// flip false so the planner re-selects the item; error annotations clear;
// retry statistics survive so operator history stays truthful.
func (r *Record) RequestReprocess(by string, recache bool) {
	now := time.Now().UTC()
	r.ForceReprocessPipeline = true
	r.ForceRecache = recache
	r.ReprocessRequestedAt = &now
	r.ReprocessRequestedBy = by
	if recache {
		r.CacheComplete = false
	}
	r.MediaProcessed = false
	r.CategoriesProcessed = false
	r.KBItemCreated = false
	r.DBSynced = false
	for _, p := range PerItemPhases() {
		r.SetPhaseError(p, "")
	}
}

// AppendRetryAttempt adds an attempt to the bounded retry history, dropping
// the oldest entries past RetryHistoryCap.
func (r *Record) AppendRetryAttempt(a RetryAttempt) {
	r.RetryHistory = append(r.RetryHistory, a)
	if len(r.RetryHistory) > RetryHistoryCap {
		r.RetryHistory = r.RetryHistory[len(r.RetryHistory)-RetryHistoryCap:]
	}
}

// ClearRetryState wipes all retry metadata, as done after a successful
// retry.
func (r *Record) ClearRetryState() {
	r.RetryCount = 0
	r.LastRetryAttempt = nil
	r.NextRetryAfter = nil
	r.FailureType = ""
	r.RetryHistory = nil
}

// Validate checks the record's structural invariants: flag dependency
// order, flag/error exclusion, and identity fields.
func (r *Record) Validate() error {
	if r.ItemID == "" {
		return fmt.Errorf("item record has empty item_id")
	}
	for _, p := range PerItemPhases() {
		if r.Flag(p) && r.PhaseError(p) != "" {
			return fmt.Errorf("item %s: phase %s is complete but carries error %q", r.ItemID, p, r.PhaseError(p))
		}
		if r.Flag(p) {
			for _, dep := range p.Dependencies() {
				if !r.Flag(dep) {
					return fmt.Errorf("item %s: phase %s is complete but dependency %s is not", r.ItemID, p, dep)
				}
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the record. Store reads hand out clones so
// callers never alias the cached row.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.MediaRefs != nil {
		out.MediaRefs = make([]MediaRef, len(r.MediaRefs))
		copy(out.MediaRefs, r.MediaRefs)
	}
	if r.ThreadItems != nil {
		out.ThreadItems = make([]ThreadItem, len(r.ThreadItems))
		for i, ti := range r.ThreadItems {
			out.ThreadItems[i] = ti
			if ti.Media != nil {
				out.ThreadItems[i].Media = make([]MediaRef, len(ti.Media))
				copy(out.ThreadItems[i].Media, ti.Media)
			}
		}
	}
	if r.Categories != nil {
		cat := *r.Categories
		if r.Categories.Tags != nil {
			cat.Tags = make([]string, len(r.Categories.Tags))
			copy(cat.Tags, r.Categories.Tags)
		}
		out.Categories = &cat
	}
	if r.KBMediaPaths != nil {
		out.KBMediaPaths = make([]string, len(r.KBMediaPaths))
		copy(out.KBMediaPaths, r.KBMediaPaths)
	}
	if r.RetryHistory != nil {
		out.RetryHistory = make([]RetryAttempt, len(r.RetryHistory))
		copy(out.RetryHistory, r.RetryHistory)
	}
	if r.ReprocessRequestedAt != nil {
		t := *r.ReprocessRequestedAt
		out.ReprocessRequestedAt = &t
	}
	if r.LastRetryAttempt != nil {
		t := *r.LastRetryAttempt
		out.LastRetryAttempt = &t
	}
	if r.NextRetryAfter != nil {
		t := *r.NextRetryAfter
		out.NextRetryAfter = &t
	}
	return &out
}
