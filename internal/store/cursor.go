package store

// #region imports
import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// #endregion

// #region load-cursor

// LoadCursor reads the durable driver cursor. A fresh database yields the
// zero cursor: cycle 0, index 0, paused.
func (s *Store) LoadCursor(ctx context.Context) (Cursor, error) {
	var c Cursor
	var paused int
	err := s.db.QueryRowContext(ctx,
		`SELECT cycle_id, next_target_index, paused FROM driver_cursor WHERE id = 1`,
	).Scan(&c.CycleID, &c.NextTargetIndex, &paused)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{Paused: true}, nil
	}
	if err != nil {
		return Cursor{}, storeErr("load cursor", err)
	}
	c.Paused = paused != 0
	return c, nil
}

// #endregion load-cursor

// #region save-cursor

// SaveCursor persists the driver cursor so resume continues the cycle.
func (s *Store) SaveCursor(ctx context.Context, c Cursor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO driver_cursor (id, cycle_id, next_target_index, paused, updated_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   cycle_id = excluded.cycle_id,
		   next_target_index = excluded.next_target_index,
		   paused = excluded.paused,
		   updated_at = excluded.updated_at`,
		c.CycleID, c.NextTargetIndex, boolInt(c.Paused),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return storeErr("save cursor", err)
}

// #endregion save-cursor
