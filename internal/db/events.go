package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventLog represents a persisted event from the event bus.
// Used for timeline reconstruction and historical queries.
type EventLog struct {
	ID         int64
	TaskID     string
	Phase      *string // nullable for run-level events
	EventType  string
	Data       any // JSON marshaled to TEXT
	Source     string
	CreatedAt  time.Time
	DurationMs *int64 // nullable
}

// QueryEventsOptions specifies filters for querying events.
type QueryEventsOptions struct {
	TaskID     string
	Since      *time.Time
	Until      *time.Time
	EventTypes []string
	Limit      int
	Offset     int
}

// eventTimeFormat keeps nanosecond precision so the dedup index can tell
// genuine duplicates from events created in quick succession.
const eventTimeFormat = "2006-01-02 15:04:05.000000000"

// SaveEvent inserts a single event into the event_log table.
// Duplicates (same task, type, phase, and timestamp) are silently skipped.
func (s *Store) SaveEvent(event *EventLog) error {
	dataJSON, err := marshalEventData(event.Data)
	if err != nil {
		return err
	}

	result, err := s.Exec(`
		INSERT INTO event_log (task_id, phase, event_type, data, source, created_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, event.TaskID, event.Phase, event.EventType, dataJSON, event.Source,
		event.CreatedAt.UTC().Format(eventTimeFormat), event.DurationMs)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}

	// RowsAffected is 0 when the duplicate was skipped
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		if id, err := result.LastInsertId(); err == nil {
			event.ID = id
		}
	}
	return nil
}

// SaveEvents inserts multiple events in a single transaction.
func (s *Store) SaveEvents(events []*EventLog) error {
	if len(events) == 0 {
		return nil
	}

	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		for _, event := range events {
			dataJSON, err := marshalEventData(event.Data)
			if err != nil {
				return err
			}

			result, err := tx.Exec(`
				INSERT INTO event_log (task_id, phase, event_type, data, source, created_at, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`, event.TaskID, event.Phase, event.EventType, dataJSON, event.Source,
				event.CreatedAt.UTC().Format(eventTimeFormat), event.DurationMs)
			if err != nil {
				return fmt.Errorf("insert event: %w", err)
			}

			if rows, err := result.RowsAffected(); err == nil && rows > 0 {
				if id, err := result.LastInsertId(); err == nil {
					event.ID = id
				}
			}
		}
		return nil
	})
}

func marshalEventData(data any) (*string, error) {
	if data == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	s := string(bytes)
	return &s, nil
}

// QueryEvents retrieves events matching the filters, newest first.
func (s *Store) QueryEvents(opts QueryEventsOptions) ([]EventLog, error) {
	var query strings.Builder
	var args []any

	query.WriteString(`
		SELECT id, task_id, phase, event_type, data, source, created_at, duration_ms
		FROM event_log
		WHERE 1=1
	`)

	if opts.TaskID != "" {
		query.WriteString(" AND task_id = ?")
		args = append(args, opts.TaskID)
	}
	if opts.Since != nil {
		query.WriteString(" AND created_at >= ?")
		args = append(args, opts.Since.UTC().Format(eventTimeFormat))
	}
	if opts.Until != nil {
		query.WriteString(" AND created_at <= ?")
		args = append(args, opts.Until.UTC().Format(eventTimeFormat))
	}
	if len(opts.EventTypes) > 0 {
		placeholders := make([]string, len(opts.EventTypes))
		for i, et := range opts.EventTypes {
			placeholders[i] = "?"
			args = append(args, et)
		}
		query.WriteString(" AND event_type IN (")
		query.WriteString(strings.Join(placeholders, ", "))
		query.WriteString(")")
	}

	query.WriteString(" ORDER BY created_at DESC, id DESC")

	if opts.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query.WriteString(" OFFSET ?")
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEventLogs(rows)
}

// CountEvents returns the number of events matching the filters.
func (s *Store) CountEvents(opts QueryEventsOptions) (int, error) {
	var query strings.Builder
	var args []any

	query.WriteString("SELECT COUNT(*) FROM event_log WHERE 1=1")

	if opts.TaskID != "" {
		query.WriteString(" AND task_id = ?")
		args = append(args, opts.TaskID)
	}
	if opts.Since != nil {
		query.WriteString(" AND created_at >= ?")
		args = append(args, opts.Since.UTC().Format(eventTimeFormat))
	}
	if opts.Until != nil {
		query.WriteString(" AND created_at <= ?")
		args = append(args, opts.Until.UTC().Format(eventTimeFormat))
	}
	if len(opts.EventTypes) > 0 {
		placeholders := make([]string, len(opts.EventTypes))
		for i, et := range opts.EventTypes {
			placeholders[i] = "?"
			args = append(args, et)
		}
		query.WriteString(" AND event_type IN (")
		query.WriteString(strings.Join(placeholders, ", "))
		query.WriteString(")")
	}

	var count int
	if err := s.QueryRow(query.String(), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// PruneEventsBefore removes events older than the cutoff. Returns the
// number of rows removed.
func (s *Store) PruneEventsBefore(cutoff time.Time) (int64, error) {
	result, err := s.Exec("DELETE FROM event_log WHERE created_at < ?",
		cutoff.UTC().Format(eventTimeFormat))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned events: %w", err)
	}
	return n, nil
}

// scanEventLogs scans rows into an EventLog slice.
func scanEventLogs(rows *sql.Rows) ([]EventLog, error) {
	var events []EventLog
	for rows.Next() {
		var e EventLog
		var phase, dataJSON sql.NullString
		var durationMs sql.NullInt64
		var createdAt string

		if err := rows.Scan(
			&e.ID, &e.TaskID, &phase, &e.EventType,
			&dataJSON, &e.Source, &createdAt, &durationMs,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		if phase.Valid {
			e.Phase = &phase.String
		}
		if durationMs.Valid {
			e.DurationMs = &durationMs.Int64
		}

		e.CreatedAt = parseEventTimestamp(createdAt)

		if dataJSON.Valid && dataJSON.String != "" {
			var data any
			if err := json.Unmarshal([]byte(dataJSON.String), &data); err == nil {
				e.Data = data
			} else {
				// Keep the raw string when it is not valid JSON
				e.Data = dataJSON.String
			}
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// parseEventTimestamp parses timestamps in decreasing precision order.
// Returns zero time if parsing fails.
func parseEventTimestamp(s string) time.Time {
	formats := []string{
		"2006-01-02 15:04:05.000000000", // nanoseconds
		"2006-01-02 15:04:05.000000",    // microseconds
		"2006-01-02 15:04:05",           // seconds
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
