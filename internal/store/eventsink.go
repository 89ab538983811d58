package store

import (
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/events"
)

// EventSink persists event rows into the event_log table. It implements
// events.EventSink so the persistent publisher can flush through it
// without the events package depending on the database.
type EventSink struct {
	db *db.Store
}

// NewEventSink creates a database-backed event sink.
func NewEventSink(store *db.Store) *EventSink {
	return &EventSink{db: store}
}

// SaveEvents writes a batch of event rows in one transaction. Duplicate
// rows (same task, type, phase, timestamp) are skipped by the dedup
// index; inserted rows get their assigned ids written back.
func (s *EventSink) SaveEvents(rows []*events.EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := make([]*db.EventLog, len(rows))
	for i, row := range rows {
		batch[i] = &db.EventLog{
			TaskID:     row.TaskID,
			Phase:      row.Phase,
			EventType:  row.EventType,
			Data:       row.Data,
			Source:     row.Source,
			CreatedAt:  row.CreatedAt,
			DurationMs: row.DurationMs,
		}
	}

	if err := s.db.SaveEvents(batch); err != nil {
		return err
	}

	for i, saved := range batch {
		rows[i].ID = saved.ID
	}
	return nil
}

var _ events.EventSink = (*EventSink)(nil)
