package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// ensureDevice guarantees a devices row exists for deviceID so that foreign
// keys from access_events and sync_cursors are satisfied. Rows created here
// carry no name or URL until the registry upserts the descriptor.
//
// Must be called inside an existing transaction.
func ensureDevice(ctx context.Context, tx *sql.Tx, deviceID string, nowMs int64) error {
	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO devices(device_id, created_at_ms, updated_at_ms)
VALUES (?, ?, ?);
`, deviceID, nowMs, nowMs); err != nil {
		return fmt.Errorf("ensureDevice %s: %w", deviceID, err)
	}

	return nil
}
