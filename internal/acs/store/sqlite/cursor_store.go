package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store"
	dbpkg "github.com/BrandonDHaskell/Portunus/acsbridge/internal/db"
)

type CursorStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewCursorStore(db *sql.DB, writer *dbpkg.Worker) *CursorStore {
	return &CursorStore{db: db, writer: writer}
}

func (s *CursorStore) GetCursor(ctx context.Context, deviceID string) (store.SyncCursor, bool, error) {
	var (
		c       = store.SyncCursor{DeviceID: deviceID}
		eventMs sql.NullInt64
		runMs   sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, `
SELECT last_event_at_ms, last_run_id, last_run_at_ms, last_error
FROM sync_cursors
WHERE device_id = ?;
`, deviceID).Scan(&eventMs, &c.LastRunID, &runMs, &c.LastError)

	if errors.Is(err, sql.ErrNoRows) {
		return store.SyncCursor{}, false, nil
	}

	if err != nil {
		return store.SyncCursor{}, false, fmt.Errorf("GetCursor: %w", err)
	}

	if eventMs.Valid {
		c.LastEventAt = time.UnixMilli(eventMs.Int64).UTC()
	}

	if runMs.Valid {
		c.LastRunAt = time.UnixMilli(runMs.Int64).UTC()
	}

	return c, true, nil
}

func (s *CursorStore) SaveCursor(ctx context.Context, c store.SyncCursor) error {
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, c.DeviceID, nowMs); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO sync_cursors(device_id, last_event_at_ms, last_run_id, last_run_at_ms, last_error, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
  last_event_at_ms = excluded.last_event_at_ms,
  last_run_id      = excluded.last_run_id,
  last_run_at_ms   = excluded.last_run_at_ms,
  last_error       = excluded.last_error,
  updated_at_ms    = excluded.updated_at_ms;
`, c.DeviceID, nullMs(c.LastEventAt), c.LastRunID, nullMs(c.LastRunAt), c.LastError, nowMs); err != nil {
			return fmt.Errorf("SaveCursor: %w", err)
		}

		return nil
	})
}

func nullMs(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t.UTC().UnixMilli()
}
