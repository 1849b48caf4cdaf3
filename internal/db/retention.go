package db

import (
	"context"
	"fmt"
	"time"
)

// DeleteOlderThan removes every item created before cutoff, together with
// its full-text record.
func (d *DB) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := d.write(ctx, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM clipboard_fts WHERE rowid IN (
				SELECT id FROM clipboard_items WHERE timestamp < ?
			)`, cutoff.UnixMilli()); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM clipboard_items WHERE timestamp < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deleting items older than %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

// DeleteOldest removes up to n of the oldest items. When olderThan is non-zero
// only items created before it are eligible.
func (d *DB) DeleteOldest(ctx context.Context, n int64, olderThan time.Time) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	selectIDs := `SELECT id FROM clipboard_items`
	args := []any{}
	if !olderThan.IsZero() {
		selectIDs += ` WHERE timestamp < ?`
		args = append(args, olderThan.UnixMilli())
	}
	selectIDs += ` ORDER BY timestamp ASC, id ASC LIMIT ?`
	args = append(args, n)

	var deleted int64
	err := d.write(ctx, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM clipboard_fts WHERE rowid IN (`+selectIDs+`)`, args...); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM clipboard_items WHERE id IN (`+selectIDs+`)`, args...)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("trimming oldest items: %w", err)
	}
	return deleted, nil
}

// CountOlderThan returns the number of items created before cutoff.
func (d *DB) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clipboard_items WHERE timestamp < ?`, cutoff.UnixMilli()).Scan(&n)
	return n, err
}

// CountPasswordsOlderThan returns the number of password items created before cutoff.
func (d *DB) CountPasswordsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clipboard_items WHERE is_password = 1 AND timestamp < ?`,
		cutoff.UnixMilli()).Scan(&n)
	return n, err
}
