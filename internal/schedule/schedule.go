// Package schedule keeps recurring run definitions and fires pipeline
// runs when they come due. Definitions persist in the store; a Runner
// sweeps them on a ticker and hands due ones to the agent controller.
package schedule

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
)

// Frequencies a definition can carry. The preset frequencies compute
// the next due time from the last run; custom uses a cron expression.
const (
	FreqManual  = "manual"
	FreqDaily   = "daily"
	FreqWeekly  = "weekly"
	FreqMonthly = "monthly"
	FreqCustom  = "custom"
)

// Definition is one recurring run specification.
type Definition struct {
	ID        string
	Name      string
	Frequency string
	CronExpr  string
	Enabled   bool
	Prefs     config.RunPreferences
	LastRunAt *time.Time
	NextRunAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NextAfter computes the next due time strictly after ref. Manual and
// disabled definitions have no due time and return nil.
func NextAfter(def *Definition, ref time.Time) (*time.Time, error) {
	if !def.Enabled {
		return nil, nil
	}
	switch def.Frequency {
	case FreqManual:
		return nil, nil
	case FreqDaily, FreqWeekly, FreqMonthly:
		base := ref
		if def.LastRunAt != nil {
			base = *def.LastRunAt
		}
		next := advance(def.Frequency, base)
		for !next.After(ref) {
			next = advance(def.Frequency, next)
		}
		return &next, nil
	case FreqCustom:
		sched, err := cron.ParseStandard(def.CronExpr)
		if err != nil {
			return nil, errors.ErrScheduleInvalid(def.Name,
				fmt.Sprintf("cron expression %q: %v", def.CronExpr, err))
		}
		next := sched.Next(ref)
		if next.IsZero() {
			return nil, nil
		}
		return &next, nil
	default:
		return nil, errors.ErrScheduleInvalid(def.Name,
			fmt.Sprintf("unknown frequency %q", def.Frequency))
	}
}

// advance moves one period along in wall-clock terms, so a daily
// schedule keeps its time of day across DST shifts.
func advance(freq string, t time.Time) time.Time {
	switch freq {
	case FreqDaily:
		return t.AddDate(0, 0, 1)
	case FreqWeekly:
		return t.AddDate(0, 0, 7)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// Store is the persistence surface for definitions and run history.
type Store struct {
	db     *db.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewStore wraps the database for schedule access.
func NewStore(dbs *db.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: dbs, logger: logger, now: time.Now}
}

// Create validates and persists a new definition, assigning an id when
// none is set and computing the first due time.
func (s *Store) Create(def *Definition) error {
	if err := s.validate(def); err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := s.now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	next, err := NextAfter(def, now)
	if err != nil {
		return err
	}
	def.NextRunAt = next

	return s.save(def)
}

// Update rewrites an existing definition and recomputes its due time.
func (s *Store) Update(def *Definition) error {
	existing, err := s.db.GetSchedule(def.ID)
	if err != nil {
		return errors.ErrStorageFailed("load schedule", err)
	}
	if existing == nil {
		return errors.ErrScheduleNotFound(def.ID)
	}
	if err := s.validate(def); err != nil {
		return err
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = s.now().UTC()

	next, err := NextAfter(def, def.UpdatedAt)
	if err != nil {
		return err
	}
	def.NextRunAt = next

	return s.save(def)
}

// Get retrieves one definition by id.
func (s *Store) Get(id string) (*Definition, error) {
	row, err := s.db.GetSchedule(id)
	if err != nil {
		return nil, errors.ErrStorageFailed("load schedule", err)
	}
	if row == nil {
		return nil, errors.ErrScheduleNotFound(id)
	}
	return s.fromRow(row), nil
}

// List returns definitions ordered by name. enabledOnly excludes
// disabled ones.
func (s *Store) List(enabledOnly bool) ([]*Definition, error) {
	rows, err := s.db.ListSchedules(enabledOnly)
	if err != nil {
		return nil, errors.ErrStorageFailed("list schedules", err)
	}
	defs := make([]*Definition, 0, len(rows))
	for _, row := range rows {
		defs = append(defs, s.fromRow(row))
	}
	return defs, nil
}

// Delete removes a definition and its run history.
func (s *Store) Delete(id string) error {
	row, err := s.db.GetSchedule(id)
	if err != nil {
		return errors.ErrStorageFailed("load schedule", err)
	}
	if row == nil {
		return errors.ErrScheduleNotFound(id)
	}
	if err := s.db.DeleteSchedule(id); err != nil {
		return errors.ErrStorageFailed("delete schedule", err)
	}
	return nil
}

// SetEnabled toggles a definition. Enabling recomputes the due time
// from now; disabling clears it.
func (s *Store) SetEnabled(id string, enabled bool) error {
	def, err := s.Get(id)
	if err != nil {
		return err
	}
	def.Enabled = enabled
	return s.Update(def)
}

// MarkFired records that a definition fired at the given time and
// advances its due time for the next period.
func (s *Store) MarkFired(def *Definition, at time.Time) error {
	fired := at.UTC()
	def.LastRunAt = &fired
	def.UpdatedAt = fired

	next, err := NextAfter(def, fired)
	if err != nil {
		return err
	}
	def.NextRunAt = next

	return s.save(def)
}

// History returns the bounded run history for a schedule, newest first.
func (s *Store) History(id string) ([]*db.ScheduleRun, error) {
	runs, err := s.db.ListScheduleRuns(id)
	if err != nil {
		return nil, errors.ErrStorageFailed("list schedule runs", err)
	}
	return runs, nil
}

// EnsureConfigured upserts the schedules declared in the config file,
// matching existing rows by name. Config-declared schedules are always
// cron-based.
func (s *Store) EnsureConfigured(configured []config.ScheduleConfig) error {
	if len(configured) == 0 {
		return nil
	}
	existing, err := s.List(false)
	if err != nil {
		return err
	}
	byName := make(map[string]*Definition, len(existing))
	for _, def := range existing {
		byName[def.Name] = def
	}

	for _, sc := range configured {
		if def, ok := byName[sc.Name]; ok {
			def.Frequency = FreqCustom
			def.CronExpr = sc.Cron
			def.Enabled = sc.Enabled
			def.Prefs = sc.Preferences
			if err := s.Update(def); err != nil {
				return err
			}
			continue
		}
		def := &Definition{
			Name:      sc.Name,
			Frequency: FreqCustom,
			CronExpr:  sc.Cron,
			Enabled:   sc.Enabled,
			Prefs:     sc.Preferences,
		}
		if err := s.Create(def); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) validate(def *Definition) error {
	if def.Name == "" {
		return errors.ErrScheduleInvalid("(unnamed)", "name is required")
	}
	switch def.Frequency {
	case FreqManual, FreqDaily, FreqWeekly, FreqMonthly:
	case FreqCustom:
		if _, err := cron.ParseStandard(def.CronExpr); err != nil {
			return errors.ErrScheduleInvalid(def.Name,
				fmt.Sprintf("cron expression %q: %v", def.CronExpr, err))
		}
	default:
		return errors.ErrScheduleInvalid(def.Name,
			fmt.Sprintf("unknown frequency %q", def.Frequency))
	}
	return nil
}

func (s *Store) save(def *Definition) error {
	prefs, err := json.Marshal(def.Prefs)
	if err != nil {
		return errors.ErrScheduleInvalid(def.Name, fmt.Sprintf("encode preferences: %v", err))
	}
	row := &db.Schedule{
		ID:          def.ID,
		Name:        def.Name,
		Frequency:   def.Frequency,
		CronExpr:    def.CronExpr,
		Enabled:     def.Enabled,
		Preferences: string(prefs),
		LastRunAt:   def.LastRunAt,
		NextRunAt:   def.NextRunAt,
		CreatedAt:   def.CreatedAt,
		UpdatedAt:   def.UpdatedAt,
	}
	if err := s.db.SaveSchedule(row); err != nil {
		return errors.ErrStorageFailed("save schedule", err)
	}
	return nil
}

func (s *Store) fromRow(row *db.Schedule) *Definition {
	def := &Definition{
		ID:        row.ID,
		Name:      row.Name,
		Frequency: row.Frequency,
		CronExpr:  row.CronExpr,
		Enabled:   row.Enabled,
		LastRunAt: row.LastRunAt,
		NextRunAt: row.NextRunAt,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Preferences != "" {
		if err := json.Unmarshal([]byte(row.Preferences), &def.Prefs); err != nil {
			s.logger.Warn("schedule has unreadable preferences, using defaults",
				"schedule_id", row.ID, "error", err)
		}
	}
	return def
}
