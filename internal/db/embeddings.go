package db

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// bytesToEmbedding converts a little-endian byte slice to []float32.
// Each 4 bytes = one LE float32. Short trailing chunk → 0.0.
func bytesToEmbedding(data []byte) []float32 {
	n := len(data) / 4
	if len(data)%4 != 0 {
		n++ // include partial chunk as 0.0
	}
	result := make([]float32, n)
	for i := 0; i < len(data)/4; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		result[i] = math.Float32frombits(bits)
	}
	return result
}

// embeddingToBytes is the inverse of bytesToEmbedding.
func embeddingToBytes(v []float32) []byte {
	data := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return data
}

// embeddingArg binds an absent embedding as NULL rather than an empty blob.
func embeddingArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return embeddingToBytes(v)
}

// UpdateEmbedding stores the vector for an item. The full-text record is not
// touched because embeddings are not indexed.
func (d *DB) UpdateEmbedding(ctx context.Context, id int64, vec []float32) (bool, error) {
	var updated bool
	err := d.write(ctx, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE clipboard_items SET embedding = ? WHERE id = ?`, embeddingArg(vec), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		updated = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("storing embedding of item %d: %w", id, err)
	}
	return updated, nil
}

// RecentWithEmbeddings returns up to limit of the newest items that have an
// embedding. This is the candidate window for semantic search.
func (d *DB) RecentWithEmbeddings(ctx context.Context, limit int, f Filter) ([]Item, error) {
	where, args := f.clause("")
	query := `SELECT ` + itemColumns("") + ` FROM clipboard_items WHERE embedding IS NOT NULL`
	if where != "" {
		query += ` AND ` + where
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	rows, err := d.conn.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("loading embedded items: %w", err)
	}
	return collectItems(rows)
}

// CountWithEmbeddings returns the count of items with non-null embeddings.
func (d *DB) CountWithEmbeddings(ctx context.Context) (int64, error) {
	var count int64
	err := d.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM clipboard_items WHERE embedding IS NOT NULL").Scan(&count)
	return count, err
}
