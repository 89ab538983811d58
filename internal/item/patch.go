package item

import "time"

// Patch is a partial record update. Nil fields leave the record untouched;
// set fields replace the corresponding record field (last writer wins per
// field). Slices and structs replace wholesale, never merge element-wise.
//
// String-typed record fields use the empty string as their null, so setting
// a pointer to "" clears the field. Time-typed fields cannot express
// clearing through a pointer-to-pointer; the explicit Clear* switches cover
// the clearing operations the pipeline actually performs.
type Patch struct {
	BookmarkedItemID *string
	Source           *string
	RawContent       *string
	DisplayTitle     *string
	FullText         *string
	MediaRefs        *[]MediaRef
	IsThread         *bool
	ThreadItems      *[]ThreadItem

	CacheComplete       *bool
	MediaProcessed      *bool
	CategoriesProcessed *bool
	KBItemCreated       *bool
	DBSynced            *bool

	CacheError  *string
	MediaError  *string
	LLMError    *string
	KBItemError *string
	DBSyncError *string

	MainCategory       *string
	SubCategory        *string
	ItemNameSuggestion *string
	Categories         *Categories

	KBItemPath   *string
	KBMediaPaths *[]string

	ForceReprocessPipeline *bool
	ForceRecache           *bool
	ReprocessRequestedAt   *time.Time
	ReprocessRequestedBy   *string

	RetryCount       *int
	LastRetryAttempt *time.Time
	NextRetryAfter   *time.Time
	FailureType      *string
	RetryHistory     *[]RetryAttempt

	CacheSucceededThisRun  *bool
	MediaSucceededThisRun  *bool
	LLMSucceededThisRun    *bool
	KBItemSucceededThisRun *bool
	DBSyncSucceededThisRun *bool

	// ClearRetryState wipes retry_count, last/next retry times,
	// failure_type, and history in one step.
	ClearRetryState bool

	// ClearReprocessRequest resets the reprocess control fields after a
	// forced run has honored them.
	ClearReprocessRequest bool
}

// IsZero reports whether the patch carries no changes.
func (p Patch) IsZero() bool {
	return p == Patch{}
}

// Apply merges the patch into the record field by field and bumps
// UpdatedAt. Flag and error fields go through the record's setters so the
// flag/error exclusion invariant holds no matter how the patch is shaped.
func (p Patch) Apply(r *Record) {
	if p.BookmarkedItemID != nil {
		r.BookmarkedItemID = *p.BookmarkedItemID
	}
	if p.Source != nil {
		r.Source = *p.Source
	}
	if p.RawContent != nil {
		r.RawContent = *p.RawContent
	}
	if p.DisplayTitle != nil {
		r.DisplayTitle = *p.DisplayTitle
	}
	if p.FullText != nil {
		r.FullText = *p.FullText
	}
	if p.MediaRefs != nil {
		r.MediaRefs = *p.MediaRefs
	}
	if p.IsThread != nil {
		r.IsThread = *p.IsThread
	}
	if p.ThreadItems != nil {
		r.ThreadItems = *p.ThreadItems
	}

	if p.CacheComplete != nil {
		r.SetFlag(PhaseCache, *p.CacheComplete)
	}
	if p.MediaProcessed != nil {
		r.SetFlag(PhaseMedia, *p.MediaProcessed)
	}
	if p.CategoriesProcessed != nil {
		r.SetFlag(PhaseLLM, *p.CategoriesProcessed)
	}
	if p.KBItemCreated != nil {
		r.SetFlag(PhaseKBItem, *p.KBItemCreated)
	}
	if p.DBSynced != nil {
		r.SetFlag(PhaseDBSync, *p.DBSynced)
	}

	if p.CacheError != nil {
		r.SetPhaseError(PhaseCache, *p.CacheError)
	}
	if p.MediaError != nil {
		r.SetPhaseError(PhaseMedia, *p.MediaError)
	}
	if p.LLMError != nil {
		r.SetPhaseError(PhaseLLM, *p.LLMError)
	}
	if p.KBItemError != nil {
		r.SetPhaseError(PhaseKBItem, *p.KBItemError)
	}
	if p.DBSyncError != nil {
		r.SetPhaseError(PhaseDBSync, *p.DBSyncError)
	}

	if p.MainCategory != nil {
		r.MainCategory = *p.MainCategory
	}
	if p.SubCategory != nil {
		r.SubCategory = *p.SubCategory
	}
	if p.ItemNameSuggestion != nil {
		r.ItemNameSuggestion = *p.ItemNameSuggestion
	}
	if p.Categories != nil {
		r.Categories = p.Categories
	}

	if p.KBItemPath != nil {
		r.KBItemPath = *p.KBItemPath
	}
	if p.KBMediaPaths != nil {
		r.KBMediaPaths = *p.KBMediaPaths
	}

	if p.ForceReprocessPipeline != nil {
		r.ForceReprocessPipeline = *p.ForceReprocessPipeline
	}
	if p.ForceRecache != nil {
		r.ForceRecache = *p.ForceRecache
	}
	if p.ReprocessRequestedAt != nil {
		t := *p.ReprocessRequestedAt
		r.ReprocessRequestedAt = &t
	}
	if p.ReprocessRequestedBy != nil {
		r.ReprocessRequestedBy = *p.ReprocessRequestedBy
	}

	if p.RetryCount != nil {
		r.RetryCount = *p.RetryCount
	}
	if p.LastRetryAttempt != nil {
		t := *p.LastRetryAttempt
		r.LastRetryAttempt = &t
	}
	if p.NextRetryAfter != nil {
		t := *p.NextRetryAfter
		r.NextRetryAfter = &t
	}
	if p.FailureType != nil {
		r.FailureType = *p.FailureType
	}
	if p.RetryHistory != nil {
		r.RetryHistory = *p.RetryHistory
	}

	if p.CacheSucceededThisRun != nil {
		r.CacheSucceededThisRun = *p.CacheSucceededThisRun
	}
	if p.MediaSucceededThisRun != nil {
		r.MediaSucceededThisRun = *p.MediaSucceededThisRun
	}
	if p.LLMSucceededThisRun != nil {
		r.LLMSucceededThisRun = *p.LLMSucceededThisRun
	}
	if p.KBItemSucceededThisRun != nil {
		r.KBItemSucceededThisRun = *p.KBItemSucceededThisRun
	}
	if p.DBSyncSucceededThisRun != nil {
		r.DBSyncSucceededThisRun = *p.DBSyncSucceededThisRun
	}

	if p.ClearRetryState {
		r.ClearRetryState()
	}
	if p.ClearReprocessRequest {
		r.ForceReprocessPipeline = false
		r.ForceRecache = false
		r.ReprocessRequestedAt = nil
		r.ReprocessRequestedBy = ""
	}

	r.UpdatedAt = time.Now().UTC()
}

// Helper constructors keep call sites terse without reflection.

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to i.
func IntPtr(i int) *int { return &i }

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return &t }
