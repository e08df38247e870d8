// Package recorder persists maneuver events so a run can be inspected after
// it finishes. Store writes rows through GORM to SQLite or Postgres,
// InfluxSink writes one point per event, and Multi fans events out.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

// ErrUnknownDriver is returned by Open for drivers other than sqlite and
// postgres.
var ErrUnknownDriver = errors.New("unknown recorder driver")

const memoryDSN = "file::memory:?cache=shared"

// EventRow is the persisted form of a model.ManeuverEvent.
type EventRow struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"index"`
	Step      int    `gorm:"index"`
	PlatoonID string `gorm:"index"`
	Kind      string
	FromState string
	ToState   string
	Direction string
	Index     int
	Vehicle   string
	Detail    string
	CreatedAt time.Time
}

func (EventRow) TableName() string { return "maneuver_events" }

// Store records maneuver events in a SQL database.
type Store struct {
	db  *gorm.DB
	log logging.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for write failures.
func WithStoreLogger(l logging.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Open connects to the database and migrates the event table. An empty
// sqlite DSN opens a shared in-memory database.
func Open(driver, dsn string, opts ...StoreOption) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = memoryDSN
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s recorder: %w", driver, err)
	}
	if err := db.AutoMigrate(&EventRow{}); err != nil {
		return nil, fmt.Errorf("migrate recorder: %w", err)
	}

	s := &Store{db: db, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Record inserts ev. Failures are logged; the coordinator never blocks on
// the recorder.
func (s *Store) Record(ctx context.Context, ev model.ManeuverEvent) {
	row := rowOf(ev)
	row.RunID = logging.RunIDFromContext(ctx)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.log.Warn(ctx, "recorder: insert failed",
			logging.String("kind", string(ev.Kind)),
			logging.Err(err),
		)
	}
}

// Events returns the recorded events in insertion order. A non-empty
// platoonID restricts the result to that platoon.
func (s *Store) Events(ctx context.Context, platoonID string) ([]model.ManeuverEvent, error) {
	var rows []EventRow
	q := s.db.WithContext(ctx).Order("id")
	if platoonID != "" {
		q = q.Where("platoon_id = ?", platoonID)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	out := make([]model.ManeuverEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.event())
	}
	return out, nil
}

// Counts returns the number of recorded events per kind.
func (s *Store) Counts(ctx context.Context) (map[model.EventKind]int64, error) {
	var rows []struct {
		Kind  string
		Total int64
	}
	err := s.db.WithContext(ctx).
		Model(&EventRow{}).
		Select("kind, count(*) as total").
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	out := make(map[model.EventKind]int64, len(rows))
	for _, r := range rows {
		out[model.EventKind(r.Kind)] = r.Total
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowOf(ev model.ManeuverEvent) EventRow {
	row := EventRow{
		Step:      ev.Step,
		PlatoonID: ev.PlatoonID,
		Kind:      string(ev.Kind),
		Index:     ev.Index,
		Vehicle:   string(ev.Vehicle),
		Detail:    ev.Detail,
	}
	switch ev.Kind {
	case model.EventTransition:
		row.FromState = ev.From.String()
		row.ToState = ev.To.String()
	case model.EventLaneChange:
		row.Direction = ev.Direction.String()
	}
	return row
}

func (r EventRow) event() model.ManeuverEvent {
	ev := model.ManeuverEvent{
		Step:      r.Step,
		PlatoonID: r.PlatoonID,
		Kind:      model.EventKind(r.Kind),
		Index:     r.Index,
		Vehicle:   model.VehicleID(r.Vehicle),
		Detail:    r.Detail,
	}
	ev.From, _ = model.ParseManeuverState(r.FromState)
	ev.To, _ = model.ParseManeuverState(r.ToState)
	ev.Direction, _ = model.ParseDirection(r.Direction)
	return ev
}
