package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Item is the persisted row form of an item record. Nested structures
// (media refs, thread items, categories, retry history, kb media paths)
// are stored as JSON text; the store layer owns the codec.
type Item struct {
	ItemID           string
	BookmarkedItemID string
	Source           string
	RawContent       string
	DisplayTitle     string
	FullText         string
	MediaRefs        string // JSON array
	IsThread         bool
	ThreadItems      string // JSON array

	CacheComplete       bool
	MediaProcessed      bool
	CategoriesProcessed bool
	KBItemCreated       bool
	DBSynced            bool

	CacheError  string
	MediaError  string
	LLMError    string
	KBItemError string
	DBSyncError string

	MainCategory       string
	SubCategory        string
	ItemNameSuggestion string
	Categories         string // JSON object
	KBItemPath         string
	KBMediaPaths       string // JSON array

	ForceReprocessPipeline bool
	ForceRecache           bool
	ReprocessRequestedAt   *time.Time
	ReprocessRequestedBy   string

	RetryCount       int
	LastRetryAttempt *time.Time
	NextRetryAfter   *time.Time
	FailureType      string
	RetryHistory     string // JSON array

	CacheSucceededThisRun  bool
	MediaSucceededThisRun  bool
	LLMSucceededThisRun    bool
	KBItemSucceededThisRun bool
	DBSyncSucceededThisRun bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemFilter restricts ListItems/CountItems. Nil pointer fields are
// ignored; indexed fields (source, main_category, next_retry_after,
// kb_item_created) push down to SQL, the rest deliberately scan.
type ItemFilter struct {
	IDs          []string
	Source       string
	MainCategory string

	CacheComplete       *bool
	MediaProcessed      *bool
	CategoriesProcessed *bool
	KBItemCreated       *bool
	DBSynced            *bool

	HasErrors       *bool
	FailureType     string
	RetryableBefore *time.Time // next_retry_after set and <= this instant

	Limit  int
	Offset int
}

const itemColumns = `item_id, bookmarked_item_id, source, raw_content, display_title, full_text,
	media_refs, is_thread, thread_items,
	cache_complete, media_processed, categories_processed, kb_item_created, db_synced,
	cache_error, media_error, llm_error, kb_item_error, db_sync_error,
	main_category, sub_category, item_name_suggestion, categories, kb_item_path, kb_media_paths,
	force_reprocess_pipeline, force_recache, reprocess_requested_at, reprocess_requested_by,
	retry_count, last_retry_attempt, next_retry_after, failure_type, retry_history,
	cache_succeeded_this_run, media_succeeded_this_run, llm_succeeded_this_run,
	kb_item_succeeded_this_run, db_sync_succeeded_this_run,
	created_at, updated_at`

// SaveItem inserts or fully replaces an item row.
func (s *Store) SaveItem(it *Item) error {
	_, err := s.Exec(upsertItemSQL, upsertItemArgs(it)...)
	if err != nil {
		return fmt.Errorf("save item %s: %w", it.ItemID, err)
	}
	return nil
}

// SaveItems writes multiple item rows in a single transaction.
func (s *Store) SaveItems(items []*Item) error {
	if len(items) == 0 {
		return nil
	}
	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		for _, it := range items {
			if _, err := tx.Exec(upsertItemSQL, upsertItemArgs(it)...); err != nil {
				return fmt.Errorf("save item %s: %w", it.ItemID, err)
			}
		}
		return nil
	})
}

const upsertItemSQL = `
	INSERT INTO items (` + itemColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (item_id) DO UPDATE SET
		bookmarked_item_id = excluded.bookmarked_item_id,
		source = excluded.source,
		raw_content = excluded.raw_content,
		display_title = excluded.display_title,
		full_text = excluded.full_text,
		media_refs = excluded.media_refs,
		is_thread = excluded.is_thread,
		thread_items = excluded.thread_items,
		cache_complete = excluded.cache_complete,
		media_processed = excluded.media_processed,
		categories_processed = excluded.categories_processed,
		kb_item_created = excluded.kb_item_created,
		db_synced = excluded.db_synced,
		cache_error = excluded.cache_error,
		media_error = excluded.media_error,
		llm_error = excluded.llm_error,
		kb_item_error = excluded.kb_item_error,
		db_sync_error = excluded.db_sync_error,
		main_category = excluded.main_category,
		sub_category = excluded.sub_category,
		item_name_suggestion = excluded.item_name_suggestion,
		categories = excluded.categories,
		kb_item_path = excluded.kb_item_path,
		kb_media_paths = excluded.kb_media_paths,
		force_reprocess_pipeline = excluded.force_reprocess_pipeline,
		force_recache = excluded.force_recache,
		reprocess_requested_at = excluded.reprocess_requested_at,
		reprocess_requested_by = excluded.reprocess_requested_by,
		retry_count = excluded.retry_count,
		last_retry_attempt = excluded.last_retry_attempt,
		next_retry_after = excluded.next_retry_after,
		failure_type = excluded.failure_type,
		retry_history = excluded.retry_history,
		cache_succeeded_this_run = excluded.cache_succeeded_this_run,
		media_succeeded_this_run = excluded.media_succeeded_this_run,
		llm_succeeded_this_run = excluded.llm_succeeded_this_run,
		kb_item_succeeded_this_run = excluded.kb_item_succeeded_this_run,
		db_sync_succeeded_this_run = excluded.db_sync_succeeded_this_run,
		updated_at = excluded.updated_at
`

func upsertItemArgs(it *Item) []any {
	return []any{
		it.ItemID, it.BookmarkedItemID, it.Source, it.RawContent, it.DisplayTitle, it.FullText,
		it.MediaRefs, boolToInt(it.IsThread), it.ThreadItems,
		boolToInt(it.CacheComplete), boolToInt(it.MediaProcessed), boolToInt(it.CategoriesProcessed),
		boolToInt(it.KBItemCreated), boolToInt(it.DBSynced),
		it.CacheError, it.MediaError, it.LLMError, it.KBItemError, it.DBSyncError,
		it.MainCategory, it.SubCategory, it.ItemNameSuggestion, it.Categories, it.KBItemPath, it.KBMediaPaths,
		boolToInt(it.ForceReprocessPipeline), boolToInt(it.ForceRecache),
		formatTimePtr(it.ReprocessRequestedAt), it.ReprocessRequestedBy,
		it.RetryCount, formatTimePtr(it.LastRetryAttempt), formatTimePtr(it.NextRetryAfter),
		it.FailureType, it.RetryHistory,
		boolToInt(it.CacheSucceededThisRun), boolToInt(it.MediaSucceededThisRun),
		boolToInt(it.LLMSucceededThisRun), boolToInt(it.KBItemSucceededThisRun),
		boolToInt(it.DBSyncSucceededThisRun),
		formatTime(it.CreatedAt), formatTime(it.UpdatedAt),
	}
}

// GetItem retrieves an item by id. A missing id returns (nil, nil).
func (s *Store) GetItem(id string) (*Item, error) {
	row := s.QueryRow("SELECT "+itemColumns+" FROM items WHERE item_id = ?", id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return it, nil
}

// GetItems retrieves multiple items by id. Missing ids are silently
// absent from the result map.
func (s *Store) GetItems(ids []string) (map[string]*Item, error) {
	result := make(map[string]*Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := "SELECT " + itemColumns + " FROM items WHERE item_id IN (" + strings.Join(placeholders, ", ") + ")"
	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		result[it.ItemID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	return result, nil
}

// ListItems retrieves items matching the filter, ordered by created_at
// then item_id for deterministic iteration.
func (s *Store) ListItems(f ItemFilter) ([]*Item, error) {
	query, args := buildItemQuery("SELECT "+itemColumns+" FROM items", f, true)

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	return items, nil
}

// ListItemIDs retrieves only the ids of items matching the filter, in
// the same order as ListItems.
func (s *Store) ListItemIDs(f ItemFilter) ([]string, error) {
	query, args := buildItemQuery("SELECT item_id FROM items", f, true)

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list item ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item ids: %w", err)
	}

	return ids, nil
}

// CountItems returns the number of items matching the filter.
func (s *Store) CountItems(f ItemFilter) (int, error) {
	f.Limit = 0
	f.Offset = 0
	query, args := buildItemQuery("SELECT COUNT(*) FROM items", f, false)

	var count int
	if err := s.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

// DeleteItem removes an item row.
func (s *Store) DeleteItem(id string) error {
	_, err := s.Exec("DELETE FROM items WHERE item_id = ?", id)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	return nil
}

// ResetRunScopedFlags clears the *_succeeded_this_run columns for the
// given ids, or for every item when ids is empty. Called at run start.
func (s *Store) ResetRunScopedFlags(ids ...string) error {
	var query strings.Builder
	var args []any

	query.WriteString(`
		UPDATE items SET
			cache_succeeded_this_run = 0,
			media_succeeded_this_run = 0,
			llm_succeeded_this_run = 0,
			kb_item_succeeded_this_run = 0,
			db_sync_succeeded_this_run = 0
		WHERE (cache_succeeded_this_run != 0
			OR media_succeeded_this_run != 0
			OR llm_succeeded_this_run != 0
			OR kb_item_succeeded_this_run != 0
			OR db_sync_succeeded_this_run != 0)
	`)
	if len(ids) > 0 {
		placeholders := make([]string, len(ids))
		for i, id := range ids {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query.WriteString(" AND item_id IN (")
		query.WriteString(strings.Join(placeholders, ", "))
		query.WriteString(")")
	}

	_, err := s.Exec(query.String(), args...)
	if err != nil {
		return fmt.Errorf("reset run-scoped flags: %w", err)
	}
	return nil
}

func buildItemQuery(selectClause string, f ItemFilter, withOrder bool) (string, []any) {
	var query strings.Builder
	var args []any

	query.WriteString(selectClause)
	query.WriteString(" WHERE 1=1")

	if len(f.IDs) > 0 {
		placeholders := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query.WriteString(" AND item_id IN (")
		query.WriteString(strings.Join(placeholders, ", "))
		query.WriteString(")")
	}
	if f.Source != "" {
		query.WriteString(" AND source = ?")
		args = append(args, f.Source)
	}
	if f.MainCategory != "" {
		query.WriteString(" AND main_category = ?")
		args = append(args, f.MainCategory)
	}

	boolFilter := func(col string, v *bool) {
		if v == nil {
			return
		}
		query.WriteString(" AND " + col + " = ?")
		args = append(args, boolToInt(*v))
	}
	boolFilter("cache_complete", f.CacheComplete)
	boolFilter("media_processed", f.MediaProcessed)
	boolFilter("categories_processed", f.CategoriesProcessed)
	boolFilter("kb_item_created", f.KBItemCreated)
	boolFilter("db_synced", f.DBSynced)

	if f.HasErrors != nil {
		if *f.HasErrors {
			query.WriteString(" AND (cache_error != '' OR media_error != '' OR llm_error != '' OR kb_item_error != '' OR db_sync_error != '')")
		} else {
			query.WriteString(" AND cache_error = '' AND media_error = '' AND llm_error = '' AND kb_item_error = '' AND db_sync_error = ''")
		}
	}
	if f.FailureType != "" {
		query.WriteString(" AND failure_type = ?")
		args = append(args, f.FailureType)
	}
	if f.RetryableBefore != nil {
		query.WriteString(" AND next_retry_after IS NOT NULL AND next_retry_after <= ?")
		args = append(args, formatTime(*f.RetryableBefore))
	}

	if withOrder {
		query.WriteString(" ORDER BY created_at ASC, item_id ASC")
	}

	if f.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query.WriteString(" OFFSET ?")
			args = append(args, f.Offset)
		}
	}

	return query.String(), args
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var it Item
	var isThread, cacheComplete, mediaProcessed, categoriesProcessed, kbItemCreated, dbSynced int
	var forceReprocess, forceRecache int
	var cacheRun, mediaRun, llmRun, kbItemRun, dbSyncRun int
	var reprocessAt, lastRetry, nextRetry sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&it.ItemID, &it.BookmarkedItemID, &it.Source, &it.RawContent, &it.DisplayTitle, &it.FullText,
		&it.MediaRefs, &isThread, &it.ThreadItems,
		&cacheComplete, &mediaProcessed, &categoriesProcessed, &kbItemCreated, &dbSynced,
		&it.CacheError, &it.MediaError, &it.LLMError, &it.KBItemError, &it.DBSyncError,
		&it.MainCategory, &it.SubCategory, &it.ItemNameSuggestion, &it.Categories, &it.KBItemPath, &it.KBMediaPaths,
		&forceReprocess, &forceRecache, &reprocessAt, &it.ReprocessRequestedBy,
		&it.RetryCount, &lastRetry, &nextRetry, &it.FailureType, &it.RetryHistory,
		&cacheRun, &mediaRun, &llmRun, &kbItemRun, &dbSyncRun,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	it.IsThread = isThread != 0
	it.CacheComplete = cacheComplete != 0
	it.MediaProcessed = mediaProcessed != 0
	it.CategoriesProcessed = categoriesProcessed != 0
	it.KBItemCreated = kbItemCreated != 0
	it.DBSynced = dbSynced != 0
	it.ForceReprocessPipeline = forceReprocess != 0
	it.ForceRecache = forceRecache != 0
	it.CacheSucceededThisRun = cacheRun != 0
	it.MediaSucceededThisRun = mediaRun != 0
	it.LLMSucceededThisRun = llmRun != 0
	it.KBItemSucceededThisRun = kbItemRun != 0
	it.DBSyncSucceededThisRun = dbSyncRun != 0
	it.ReprocessRequestedAt = parseTimePtr(reprocessAt)
	it.LastRetryAttempt = parseTimePtr(lastRetry)
	it.NextRetryAfter = parseTimePtr(nextRetry)
	it.CreatedAt = parseTime(createdAt)
	it.UpdatedAt = parseTime(updatedAt)

	return &it, nil
}
