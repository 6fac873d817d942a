// Package store provides SQLite storage for schedule items and live-event
// acknowledgments.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"jobcal/internal/calendar"
	"jobcal/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid schedule")
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// New opens or creates an SQLite database at the given path. ":memory:"
// opens a private in-memory database.
func New(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		source_uid TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_range ON schedules(start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_schedules_source ON schedules(source_uid);
	CREATE TABLE IF NOT EXISTS live_acks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Schedule Methods ---

func validate(it *model.ScheduleItem) error {
	it.Title = strings.TrimSpace(it.Title)
	if it.Title == "" {
		return fmt.Errorf("%w: title is empty", ErrInvalid)
	}
	if it.StartDate.IsZero() || it.EndDate.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalid)
	}
	it.StartDate = calendar.Day(it.StartDate)
	it.EndDate = calendar.Day(it.EndDate)
	if it.EndDate.Before(it.StartDate) {
		return fmt.Errorf("%w: end date %s is before start date %s", ErrInvalid,
			it.EndDate.Format(calendar.DateLayout), it.StartDate.Format(calendar.DateLayout))
	}
	return nil
}

const scheduleColumns = "id, title, start_date, end_date, status, source_uid"

// ListSchedules returns all schedule items, ordered by start date then id.
func (db *DB) ListSchedules(ctx context.Context) ([]model.ScheduleItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules ORDER BY start_date, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListSchedulesBetween returns items intersecting [from, to].
func (db *DB) ListSchedulesBetween(ctx context.Context, from, to time.Time) ([]model.ScheduleItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE start_date <= ? AND end_date >= ? ORDER BY start_date, id",
		calendar.Day(to).Format(calendar.DateLayout), calendar.Day(from).Format(calendar.DateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (db *DB) GetSchedule(ctx context.Context, id int64) (model.ScheduleItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	if err != nil {
		return model.ScheduleItem{}, err
	}
	defer rows.Close()
	items, err := scanSchedules(rows)
	if err != nil {
		return model.ScheduleItem{}, err
	}
	if len(items) == 0 {
		return model.ScheduleItem{}, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return items[0], nil
}

// CreateSchedule validates and inserts it, returning the stored item.
func (db *DB) CreateSchedule(ctx context.Context, it model.ScheduleItem) (model.ScheduleItem, error) {
	if err := validate(&it); err != nil {
		return model.ScheduleItem{}, err
	}
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO schedules (title, start_date, end_date, status, source_uid) VALUES (?, ?, ?, ?, ?)",
		it.Title, it.StartDate.Format(calendar.DateLayout), it.EndDate.Format(calendar.DateLayout), it.StatusLabel, it.SourceUID)
	if err != nil {
		return model.ScheduleItem{}, fmt.Errorf("insert schedule: %w", err)
	}
	it.ID, err = res.LastInsertId()
	if err != nil {
		return model.ScheduleItem{}, err
	}
	return it, nil
}

// UpdateSchedule replaces title, dates and status of an existing item.
func (db *DB) UpdateSchedule(ctx context.Context, it model.ScheduleItem) (model.ScheduleItem, error) {
	if err := validate(&it); err != nil {
		return model.ScheduleItem{}, err
	}
	res, err := db.conn.ExecContext(ctx,
		"UPDATE schedules SET title = ?, start_date = ?, end_date = ?, status = ? WHERE id = ?",
		it.Title, it.StartDate.Format(calendar.DateLayout), it.EndDate.Format(calendar.DateLayout), it.StatusLabel, it.ID)
	if err != nil {
		return model.ScheduleItem{}, fmt.Errorf("update schedule: %w", err)
	}
	if err := expectOne(res, it.ID); err != nil {
		return model.ScheduleItem{}, err
	}
	return db.GetSchedule(ctx, it.ID)
}

// UpdateScheduleStatus moves an item to another board column.
func (db *DB) UpdateScheduleStatus(ctx context.Context, id int64, status string) error {
	res, err := db.conn.ExecContext(ctx, "UPDATE schedules SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return expectOne(res, id)
}

func (db *DB) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return expectOne(res, id)
}

// ReplaceImported swaps every item imported from sourceID for items, in
// one transaction. Items must carry SourceUIDs under "<sourceID>/".
func (db *DB) ReplaceImported(ctx context.Context, sourceID string, items []model.ScheduleItem) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM schedules WHERE source_uid LIKE ? ESCAPE '\\'",
		escapeLike(sourceID)+"/%"); err != nil {
		return 0, fmt.Errorf("clear imported: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO schedules (title, start_date, end_date, status, source_uid) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, it := range items {
		if err := validate(&it); err != nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, it.Title, it.StartDate.Format(calendar.DateLayout),
			it.EndDate.Format(calendar.DateLayout), it.StatusLabel, it.SourceUID); err != nil {
			return 0, fmt.Errorf("insert imported: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func scanSchedules(rows *sql.Rows) ([]model.ScheduleItem, error) {
	var items []model.ScheduleItem
	for rows.Next() {
		var (
			it         model.ScheduleItem
			start, end string
		)
		if err := rows.Scan(&it.ID, &it.Title, &start, &end, &it.StatusLabel, &it.SourceUID); err != nil {
			return nil, err
		}
		var err error
		if it.StartDate, err = calendar.ParseDate(start); err != nil {
			return nil, err
		}
		if it.EndDate, err = calendar.ParseDate(end); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func expectOne(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// --- Ack Methods ---

// RecordAck stores an acknowledgment received from session.
func (db *DB) RecordAck(ctx context.Context, session string, ack model.Ack) (int64, error) {
	payload := string(ack.Payload)
	if payload == "" {
		payload = "{}"
	}
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO live_acks (session, event_type, payload, received_at) VALUES (?, ?, ?, ?)",
		session, string(ack.EventType), payload, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert ack: %w", err)
	}
	return res.LastInsertId()
}

// ListAcks returns the most recent acknowledgments of session, newest first.
func (db *DB) ListAcks(ctx context.Context, session string, limit int) ([]model.AckRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, session, event_type, payload, received_at FROM live_acks WHERE session = ? ORDER BY id DESC LIMIT ?",
		session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AckRecord
	for rows.Next() {
		var rec model.AckRecord
		var typ string
		if err := rows.Scan(&rec.ID, &rec.Session, &typ, &rec.Payload, &rec.ReceivedAt); err != nil {
			return nil, err
		}
		rec.EventType = model.EventType(typ)
		out = append(out, rec)
	}
	return out, rows.Err()
}
