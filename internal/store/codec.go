package store

import (
	"encoding/json"

	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/item"
)

// recordToRow converts a domain record to its row form. Nested structures
// serialize to JSON text; empty collections store as empty strings so the
// row stays readable in sqlite browsers.
func recordToRow(r *item.Record) *db.Item {
	row := &db.Item{
		ItemID:           r.ItemID,
		BookmarkedItemID: r.BookmarkedItemID,
		Source:           r.Source,
		RawContent:       r.RawContent,
		DisplayTitle:     r.DisplayTitle,
		FullText:         r.FullText,
		IsThread:         r.IsThread,

		CacheComplete:       r.CacheComplete,
		MediaProcessed:      r.MediaProcessed,
		CategoriesProcessed: r.CategoriesProcessed,
		KBItemCreated:       r.KBItemCreated,
		DBSynced:            r.DBSynced,

		CacheError:  r.CacheError,
		MediaError:  r.MediaError,
		LLMError:    r.LLMError,
		KBItemError: r.KBItemError,
		DBSyncError: r.DBSyncError,

		MainCategory:       r.MainCategory,
		SubCategory:        r.SubCategory,
		ItemNameSuggestion: r.ItemNameSuggestion,
		KBItemPath:         r.KBItemPath,

		ForceReprocessPipeline: r.ForceReprocessPipeline,
		ForceRecache:           r.ForceRecache,
		ReprocessRequestedAt:   r.ReprocessRequestedAt,
		ReprocessRequestedBy:   r.ReprocessRequestedBy,

		RetryCount:       r.RetryCount,
		LastRetryAttempt: r.LastRetryAttempt,
		NextRetryAfter:   r.NextRetryAfter,
		FailureType:      r.FailureType,

		CacheSucceededThisRun:  r.CacheSucceededThisRun,
		MediaSucceededThisRun:  r.MediaSucceededThisRun,
		LLMSucceededThisRun:    r.LLMSucceededThisRun,
		KBItemSucceededThisRun: r.KBItemSucceededThisRun,
		DBSyncSucceededThisRun: r.DBSyncSucceededThisRun,

		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if len(r.MediaRefs) > 0 {
		if data, err := json.Marshal(r.MediaRefs); err == nil {
			row.MediaRefs = string(data)
		}
	}
	if len(r.ThreadItems) > 0 {
		if data, err := json.Marshal(r.ThreadItems); err == nil {
			row.ThreadItems = string(data)
		}
	}
	if r.Categories != nil {
		if data, err := json.Marshal(r.Categories); err == nil {
			row.Categories = string(data)
		}
	}
	if len(r.KBMediaPaths) > 0 {
		if data, err := json.Marshal(r.KBMediaPaths); err == nil {
			row.KBMediaPaths = string(data)
		}
	}
	if len(r.RetryHistory) > 0 {
		if data, err := json.Marshal(r.RetryHistory); err == nil {
			row.RetryHistory = string(data)
		}
	}

	return row
}

// rowToRecord converts a row back to its domain form. Malformed JSON in
// nested columns leaves the corresponding field empty rather than failing
// the read.
func rowToRecord(row *db.Item) *item.Record {
	r := &item.Record{
		ItemID:           row.ItemID,
		BookmarkedItemID: row.BookmarkedItemID,
		Source:           row.Source,
		RawContent:       row.RawContent,
		DisplayTitle:     row.DisplayTitle,
		FullText:         row.FullText,
		IsThread:         row.IsThread,

		CacheComplete:       row.CacheComplete,
		MediaProcessed:      row.MediaProcessed,
		CategoriesProcessed: row.CategoriesProcessed,
		KBItemCreated:       row.KBItemCreated,
		DBSynced:            row.DBSynced,

		CacheError:  row.CacheError,
		MediaError:  row.MediaError,
		LLMError:    row.LLMError,
		KBItemError: row.KBItemError,
		DBSyncError: row.DBSyncError,

		MainCategory:       row.MainCategory,
		SubCategory:        row.SubCategory,
		ItemNameSuggestion: row.ItemNameSuggestion,
		KBItemPath:         row.KBItemPath,

		ForceReprocessPipeline: row.ForceReprocessPipeline,
		ForceRecache:           row.ForceRecache,
		ReprocessRequestedAt:   row.ReprocessRequestedAt,
		ReprocessRequestedBy:   row.ReprocessRequestedBy,

		RetryCount:       row.RetryCount,
		LastRetryAttempt: row.LastRetryAttempt,
		NextRetryAfter:   row.NextRetryAfter,
		FailureType:      row.FailureType,

		CacheSucceededThisRun:  row.CacheSucceededThisRun,
		MediaSucceededThisRun:  row.MediaSucceededThisRun,
		LLMSucceededThisRun:    row.LLMSucceededThisRun,
		KBItemSucceededThisRun: row.KBItemSucceededThisRun,
		DBSyncSucceededThisRun: row.DBSyncSucceededThisRun,

		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}

	if row.MediaRefs != "" {
		_ = json.Unmarshal([]byte(row.MediaRefs), &r.MediaRefs)
	}
	if row.ThreadItems != "" {
		_ = json.Unmarshal([]byte(row.ThreadItems), &r.ThreadItems)
	}
	if row.Categories != "" {
		cats := &item.Categories{}
		if err := json.Unmarshal([]byte(row.Categories), cats); err == nil {
			r.Categories = cats
		}
	}
	if row.KBMediaPaths != "" {
		_ = json.Unmarshal([]byte(row.KBMediaPaths), &r.KBMediaPaths)
	}
	if row.RetryHistory != "" {
		_ = json.Unmarshal([]byte(row.RetryHistory), &r.RetryHistory)
	}

	return r
}
