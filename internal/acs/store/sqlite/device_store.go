package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store"
	dbpkg "github.com/BrandonDHaskell/Portunus/acsbridge/internal/db"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

type DeviceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDeviceStore(db *sql.DB, writer *dbpkg.Worker) *DeviceStore {
	return &DeviceStore{db: db, writer: writer}
}

func (s *DeviceStore) UpsertDevice(ctx context.Context, rec store.DeviceRecord) error {
	id := strings.TrimSpace(rec.DeviceID)
	if id == "" {
		return nil
	}

	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO devices(device_id, name, base_url, enabled, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
  name          = excluded.name,
  base_url      = excluded.base_url,
  enabled       = excluded.enabled,
  updated_at_ms = excluded.updated_at_ms;
`, id, rec.Name, rec.BaseURL, boolInt(rec.Enabled), nowMs, nowMs); err != nil {
			return fmt.Errorf("UpsertDevice: %w", err)
		}

		return nil
	})
}

const deviceColumns = `device_id, name, base_url, enabled, last_health_ok, last_health_reason, last_checked_at_ms`

func (s *DeviceStore) GetDevice(ctx context.Context, deviceID string) (store.DeviceRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = ?;`, deviceID)

	rec, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DeviceRecord{}, store.ErrDeviceNotFound
	}

	if err != nil {
		return store.DeviceRecord{}, fmt.Errorf("GetDevice: %w", err)
	}

	return rec, nil
}

func (s *DeviceStore) ListDevices(ctx context.Context) ([]store.DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY device_id;`)
	if err != nil {
		return nil, fmt.Errorf("ListDevices: %w", err)
	}
	defer rows.Close()

	var out []store.DeviceRecord

	for rows.Next() {
		rec, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("ListDevices scan: %w", err)
		}

		out = append(out, rec)
	}

	return out, rows.Err()
}

// RecordHealth stores the latest probe outcome, creating the device row if
// the registry has not written it yet.
func (s *DeviceStore) RecordHealth(ctx context.Context, deviceID string, st isapi.HealthStatus, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	ms := at.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, deviceID, ms); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE devices
SET last_health_ok     = ?,
    last_health_reason = ?,
    last_checked_at_ms = ?,
    updated_at_ms      = ?
WHERE device_id = ?;
`, boolInt(st.OK), st.Reason, ms, ms, deviceID); err != nil {
			return fmt.Errorf("RecordHealth: %w", err)
		}

		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(r rowScanner) (store.DeviceRecord, error) {
	var (
		rec       store.DeviceRecord
		enabled   int
		healthOK  sql.NullInt64
		reason    sql.NullString
		checkedMs sql.NullInt64
	)

	if err := r.Scan(&rec.DeviceID, &rec.Name, &rec.BaseURL, &enabled, &healthOK, &reason, &checkedMs); err != nil {
		return store.DeviceRecord{}, err
	}

	rec.Enabled = enabled == 1

	if healthOK.Valid {
		rec.LastHealth = &isapi.HealthStatus{OK: healthOK.Int64 == 1, Reason: reason.String}
	}

	if checkedMs.Valid {
		rec.LastCheckedAt = time.UnixMilli(checkedMs.Int64).UTC()
	}

	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
