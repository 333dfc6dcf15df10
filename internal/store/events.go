package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/setevik/vllmscope/internal/event"
)

const eventColumns = `id, instance_id, target, timestamp, kind, severity, source, summary, detail, raw_line, fields_json`

const selectColumns = eventColumns + `, COALESCE(notified, FALSE)`

// Insert stores ev. A nil Fields map is stored as an empty object.
func (d *DB) Insert(ev *event.Event) error {
	fields := []byte("{}")
	if len(ev.Fields) > 0 {
		b, err := json.Marshal(ev.Fields)
		if err != nil {
			return fmt.Errorf("encoding fields of event %s: %w", ev.ID, err)
		}
		fields = b
	}

	_, err := d.db.Exec(`INSERT INTO events (`+eventColumns+`, notified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE)`,
		ev.ID, ev.InstanceID, ev.Target, formatTime(ev.Timestamp),
		string(ev.Kind), string(ev.Severity), string(ev.Source),
		ev.Summary, ev.Detail, ev.RawLine, string(fields),
	)
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", ev.ID, err)
	}
	return nil
}

// MarkNotified records that the notification for id went out.
func (d *DB) MarkNotified(id string) error {
	_, err := d.db.Exec(`UPDATE events SET notified = TRUE WHERE id = ?`, id)
	return err
}

// QueryFilter selects events. Zero fields match everything.
type QueryFilter struct {
	Since      time.Time
	Until      time.Time
	Kind       event.Kind
	InstanceID string
	Target     string
	Limit      int
}

func (f QueryFilter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if !f.Since.IsZero() {
		add("timestamp >= ?", formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		add("timestamp <= ?", formatTime(f.Until))
	}
	if f.Kind != "" {
		add("kind = ?", string(f.Kind))
	}
	if f.InstanceID != "" {
		add("instance_id = ?", f.InstanceID)
	}
	if f.Target != "" {
		add("target = ?", f.Target)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns matching events, newest first.
func (d *DB) Query(f QueryFilter) ([]*event.Event, error) {
	where, args := f.where()
	query := `SELECT ` + selectColumns + ` FROM events` + where + ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count returns the number of matching events. Limit is ignored.
func (d *DB) Count(f QueryFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM events`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// CountByKind returns per-kind counts of events at or after since.
func (d *DB) CountByKind(since time.Time) (map[event.Kind]int, error) {
	rows, err := d.db.Query(`SELECT kind, COUNT(*) FROM events WHERE timestamp >= ? GROUP BY kind`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("counting events by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[event.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[event.Kind(kind)] = n
	}
	return counts, rows.Err()
}

// Purge deletes events older than retention and returns how many went.
func (d *DB) Purge(retention time.Duration) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM events WHERE timestamp < ?`, formatTime(time.Now().Add(-retention)))
	if err != nil {
		return 0, fmt.Errorf("purging events: %w", err)
	}
	return res.RowsAffected()
}

func scanEvent(rows *sql.Rows) (*event.Event, error) {
	var ev event.Event
	var ts string
	var detail, rawLine, fields sql.NullString

	if err := rows.Scan(&ev.ID, &ev.InstanceID, &ev.Target, &ts, &ev.Kind, &ev.Severity,
		&ev.Source, &ev.Summary, &detail, &rawLine, &fields, &ev.Notified); err != nil {
		return nil, fmt.Errorf("scanning event row: %w", err)
	}

	ev.Timestamp = parseTime(ts)
	ev.Detail = detail.String
	ev.RawLine = rawLine.String
	ev.Fields = map[string]string{}
	if fields.String != "" {
		_ = json.Unmarshal([]byte(fields.String), &ev.Fields)
	}
	return &ev, nil
}
