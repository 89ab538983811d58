// Package store provides the durable stores the pipeline runs against:
// item records, per-phase statistics, and the event-log sink, all backed
// by internal/db. Domain types live here and in internal/item; SQL rows
// stay inside internal/db.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/item"
)

// ItemStore is the durable mapping from item id to item record. All
// record mutation goes through it: writers to the same id serialize on a
// per-item mutex, so patches apply read-merge-write without a global
// lock, and every write is committed before the call returns.
type ItemStore struct {
	db     *db.Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewItemStore creates an item store over the given database.
func NewItemStore(store *db.Store, logger *slog.Logger) *ItemStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ItemStore{
		db:     store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockItem acquires the write lock for one item id and returns the
// unlock func.
func (s *ItemStore) lockItem(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get retrieves a record by id. A missing id returns (nil, nil).
func (s *ItemStore) Get(id string) (*item.Record, error) {
	row, err := s.db.GetItem(id)
	if err != nil {
		return nil, errors.ErrStorageFailed("get item "+id, err)
	}
	if row == nil {
		return nil, nil
	}
	return rowToRecord(row), nil
}

// GetMany retrieves records for the given ids. Ids with no record are
// silently absent from the result map.
func (s *ItemStore) GetMany(ids []string) (map[string]*item.Record, error) {
	rows, err := s.db.GetItems(ids)
	if err != nil {
		return nil, errors.ErrStorageFailed("get items", err)
	}
	records := make(map[string]*item.Record, len(rows))
	for id, row := range rows {
		records[id] = rowToRecord(row)
	}
	return records, nil
}

// Upsert applies a partial update to the record with the given id,
// creating the record first when the id is new. Patch fields are
// last-writer-wins per field; unspecified fields keep their values.
// Returns the record as written.
func (s *ItemStore) Upsert(id string, patch item.Patch) (*item.Record, error) {
	unlock := s.lockItem(id)
	defer unlock()

	row, err := s.db.GetItem(id)
	if err != nil {
		return nil, errors.ErrStorageFailed("get item "+id, err)
	}

	var rec *item.Record
	if row == nil {
		source := ""
		if patch.Source != nil {
			source = *patch.Source
		}
		rec = item.New(id, source)
	} else {
		rec = rowToRecord(row)
	}

	patch.Apply(rec)

	if err := s.db.SaveItem(recordToRow(rec)); err != nil {
		return nil, errors.ErrStorageFailed("upsert item "+id, err)
	}
	return rec, nil
}

// SetFlags atomically updates completion flags on an existing record.
// Restricted to the per-item phase booleans; setting a flag true clears
// the phase's error annotation. Unknown ids are an error here, unlike Get.
func (s *ItemStore) SetFlags(id string, flags map[item.Phase]bool) (*item.Record, error) {
	if len(flags) == 0 {
		return s.Get(id)
	}

	unlock := s.lockItem(id)
	defer unlock()

	row, err := s.db.GetItem(id)
	if err != nil {
		return nil, errors.ErrStorageFailed("get item "+id, err)
	}
	if row == nil {
		return nil, errors.ErrItemNotFound(id)
	}

	rec := rowToRecord(row)
	for _, p := range item.PerItemPhases() {
		if v, ok := flags[p]; ok {
			rec.SetFlag(p, v)
		}
	}
	rec.UpdatedAt = time.Now().UTC()

	if err := s.db.SaveItem(recordToRow(rec)); err != nil {
		return nil, errors.ErrStorageFailed("set flags on item "+id, err)
	}
	return rec, nil
}

// ClearRuntimeFlags resets the *_succeeded_this_run flags for the given
// ids, or for every record when no ids are passed. One UPDATE statement
// either way.
func (s *ItemStore) ClearRuntimeFlags(ids ...string) error {
	if err := s.db.ResetRunScopedFlags(ids...); err != nil {
		return errors.ErrStorageFailed("clear runtime flags", err)
	}
	return nil
}

// List returns the records matching the filter in creation order.
// Indexed predicates (source, main_category, next_retry_after,
// kb_item_created) push down to SQL; the remaining flag and error
// predicates scan, which is fine at knowledge-base scale.
func (s *ItemStore) List(f db.ItemFilter) ([]*item.Record, error) {
	rows, err := s.db.ListItems(f)
	if err != nil {
		return nil, errors.ErrStorageFailed("list items", err)
	}
	records := make([]*item.Record, len(rows))
	for i, row := range rows {
		records[i] = rowToRecord(row)
	}
	return records, nil
}

// ListIDs returns only the matching ids, in the same order as List.
func (s *ItemStore) ListIDs(f db.ItemFilter) ([]string, error) {
	ids, err := s.db.ListItemIDs(f)
	if err != nil {
		return nil, errors.ErrStorageFailed("list item ids", err)
	}
	return ids, nil
}

// Count returns the number of records matching the filter, ignoring
// limit and offset.
func (s *ItemStore) Count(f db.ItemFilter) (int, error) {
	n, err := s.db.CountItems(f)
	if err != nil {
		return 0, errors.ErrStorageFailed("count items", err)
	}
	return n, nil
}
