package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store"
	dbpkg "github.com/BrandonDHaskell/Portunus/acsbridge/internal/db"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer}
}

// SaveEvents inserts a page of events in one transaction. Rows already
// present under (device_id, raw_event_id) are skipped.
func (s *AccessEventStore) SaveEvents(ctx context.Context, deviceID string, events []isapi.AccessEvent, receivedAt time.Time) (int, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || len(events) == 0 {
		return 0, nil
	}

	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	recvMs := receivedAt.UTC().UnixMilli()

	var inserted int

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		inserted = 0

		if err := ensureDevice(ctx, tx, deviceID, recvMs); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO access_events(
  device_id, raw_event_id, event_type, major, minor,
  employee_no, card_no, name, occurred_at_ms, received_at_ms, raw_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`)
		if err != nil {
			return fmt.Errorf("SaveEvents prepare: %w", err)
		}
		defer stmt.Close()

		for _, ev := range events {
			raw := string(ev.Raw)
			if raw == "" {
				raw = "{}"
			}

			res, err := stmt.ExecContext(ctx,
				deviceID, ev.RawEventID, string(ev.Type), ev.Major, ev.Minor,
				ev.EmployeeNo, ev.CardNo, ev.Name, ev.Time.UTC().UnixMilli(), recvMs, raw,
			)
			if err != nil {
				return fmt.Errorf("SaveEvents insert %s: %w", ev.RawEventID, err)
			}

			n, _ := res.RowsAffected()
			inserted += int(n)
		}

		return nil
	})

	return inserted, err
}

func (s *AccessEventStore) ListEvents(ctx context.Context, q store.EventQuery) ([]store.AccessEventRecord, error) {
	var (
		where []string
		args  []any
	)

	if q.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, q.DeviceID)
	}

	if !q.Since.IsZero() {
		where = append(where, "occurred_at_ms >= ?")
		args = append(args, q.Since.UTC().UnixMilli())
	}

	if !q.Until.IsZero() {
		where = append(where, "occurred_at_ms < ?")
		args = append(args, q.Until.UTC().UnixMilli())
	}

	limit := q.Limit
	if limit <= 0 {
		limit = store.DefaultEventLimit
	}

	query := `
SELECT device_id, raw_event_id, event_type, major, minor,
       employee_no, card_no, name, occurred_at_ms, received_at_ms, raw_json
FROM access_events`
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}

	query += "\nORDER BY occurred_at_ms, id\nLIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	defer rows.Close()

	var out []store.AccessEventRecord

	for rows.Next() {
		var (
			rec        store.AccessEventRecord
			eventType  string
			occurredMs int64
			recvMs     int64
			raw        string
		)

		if err := rows.Scan(
			&rec.DeviceID, &rec.RawEventID, &eventType, &rec.Major, &rec.Minor,
			&rec.EmployeeNo, &rec.CardNo, &rec.Name, &occurredMs, &recvMs, &raw,
		); err != nil {
			return nil, fmt.Errorf("ListEvents scan: %w", err)
		}

		rec.Type = isapi.EventType(eventType)
		rec.Time = time.UnixMilli(occurredMs).UTC()
		rec.ReceivedAt = time.UnixMilli(recvMs).UTC()
		rec.Raw = []byte(raw)

		out = append(out, rec)
	}

	return out, rows.Err()
}

// PruneOlderThan deletes events whose device time is before cutoff.
// Uses the idx_access_events_time index for the range scan.
func (s *AccessEventStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM access_events WHERE occurred_at_ms < ?;`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}

		deleted, _ = res.RowsAffected()

		return nil
	})

	return deleted, err
}
