package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var itemColumnNames = []string{
	"id", "content", "content_type", "ocr_text", "embedding", "source_app",
	"window_title", "timestamp", "is_password", "is_encrypted", "metadata",
	"content_hash", "code_language",
}

func itemColumns(alias string) string {
	if alias == "" {
		return strings.Join(itemColumnNames, ", ")
	}
	cols := make([]string, len(itemColumnNames))
	for i, c := range itemColumnNames {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// scanItem scans a row into an Item. The row must start with all item columns in standard order.
func scanItem(scanner interface{ Scan(dest ...any) error }, extra ...any) (Item, error) {
	var it Item
	var (
		contentType string
		embedding   []byte
		metadata    string
	)
	dest := []any{
		&it.ID, &it.Content, &contentType, &it.OCRText, &embedding, &it.SourceApp,
		&it.WindowTitle, &it.Timestamp, &it.IsPassword, &it.IsEncrypted, &metadata,
		&it.Hash, &it.CodeLanguage,
	}
	if err := scanner.Scan(append(dest, extra...)...); err != nil {
		return it, err
	}
	it.ContentType = ContentType(contentType)
	if embedding != nil {
		it.Embedding = bytesToEmbedding(embedding)
	}
	it.Metadata = map[string]string{}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &it.Metadata); err != nil {
			return it, fmt.Errorf("decoding metadata of item %d: %w", it.ID, err)
		}
	}
	return it, nil
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

// Add inserts the item and its full-text record, then sets item.ID.
// A zero Timestamp is replaced with the current time.
func (d *DB) Add(ctx context.Context, item *Item) (int64, error) {
	if item.Hash == "" {
		return 0, errors.New("adding item: content hash is required")
	}
	if item.Timestamp == 0 {
		item.Timestamp = time.Now().UnixMilli()
	}
	metadata, err := encodeMetadata(item.Metadata)
	if err != nil {
		return 0, err
	}

	var id int64
	err = d.write(ctx, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO clipboard_items (
				content, content_type, ocr_text, embedding, source_app, window_title,
				timestamp, is_password, is_encrypted, metadata, content_hash, code_language
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, item.Content, string(item.ContentType), item.OCRText, embeddingArg(item.Embedding),
			item.SourceApp, item.WindowTitle, item.Timestamp, item.IsPassword, item.IsEncrypted,
			metadata, item.Hash, item.CodeLanguage)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		item.ID = id
		return syncFTS(ctx, tx, item)
	})
	if err != nil {
		item.ID = 0
		if isUniqueViolation(err) {
			return 0, ErrDuplicateHash
		}
		return 0, fmt.Errorf("adding item: %w", err)
	}
	return id, nil
}

// Get returns a single item by ID, or ErrNotFound
func (d *DB) Get(ctx context.Context, id int64) (*Item, error) {
	return getItem(ctx, d.conn, id)
}

func getItem(ctx context.Context, q DBTX, id int64) (*Item, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+itemColumns("")+` FROM clipboard_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading item %d: %w", id, err)
	}
	return &it, nil
}

// ListRecent returns up to limit items newest first.
func (d *DB) ListRecent(ctx context.Context, limit int, f Filter) ([]Item, error) {
	where, args := f.clause("")
	query := `SELECT ` + itemColumns("") + ` FROM clipboard_items`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	rows, err := d.conn.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return collectItems(rows)
}

// Update overwrites every column of the item with the given ID and rebuilds
// its full-text record. Returns false when no such item exists.
func (d *DB) Update(ctx context.Context, item *Item) (bool, error) {
	var updated bool
	err := d.write(ctx, func(ctx context.Context, tx DBTX) error {
		var err error
		updated, err = overwrite(ctx, tx, item)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("updating item %d: %w", item.ID, err)
	}
	return updated, nil
}

func overwrite(ctx context.Context, tx DBTX, item *Item) (bool, error) {
	metadata, err := encodeMetadata(item.Metadata)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE clipboard_items SET
			content = ?, content_type = ?, ocr_text = ?, embedding = ?, source_app = ?,
			window_title = ?, timestamp = ?, is_password = ?, is_encrypted = ?,
			metadata = ?, content_hash = ?, code_language = ?
		WHERE id = ?
	`, item.Content, string(item.ContentType), item.OCRText, embeddingArg(item.Embedding),
		item.SourceApp, item.WindowTitle, item.Timestamp, item.IsPassword, item.IsEncrypted,
		metadata, item.Hash, item.CodeLanguage, item.ID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	return true, syncFTS(ctx, tx, item)
}

// Modify re-reads the latest row inside the write transaction, lets fn change
// it and writes it back. fn returns false to leave the row untouched.
// Returns the stored item and whether it was written.
func (d *DB) Modify(ctx context.Context, id int64, fn func(it *Item) bool) (*Item, bool, error) {
	var (
		current *Item
		changed bool
	)
	err := d.write(ctx, func(ctx context.Context, tx DBTX) error {
		var err error
		current, err = getItem(ctx, tx, id)
		if err != nil {
			return err
		}
		if changed = fn(current); !changed {
			return nil
		}
		_, err = overwrite(ctx, tx, current)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("modifying item %d: %w", id, err)
	}
	return current, changed, nil
}

// UpdateOCRText stores extracted text on an item and resyncs its full-text record.
func (d *DB) UpdateOCRText(ctx context.Context, id int64, text string) (bool, error) {
	_, changed, err := d.Modify(ctx, id, func(it *Item) bool {
		it.OCRText = &text
		return true
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return changed, err
}

// PromoteToCode turns a Text item into Code with the given language. Items
// that are no longer Text are left as they are.
func (d *DB) PromoteToCode(ctx context.Context, id int64, language string) (*Item, bool, error) {
	it, changed, err := d.Modify(ctx, id, func(it *Item) bool {
		if it.ContentType != TypeText {
			return false
		}
		it.ContentType = TypeCode
		it.CodeLanguage = &language
		if it.Metadata == nil {
			it.Metadata = map[string]string{}
		}
		it.Metadata[MetaLanguage] = language
		return true
	})
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	return it, changed, err
}

// Delete removes the item and its full-text record.
func (d *DB) Delete(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := d.write(ctx, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM clipboard_items WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		_, err = tx.ExecContext(ctx, `DELETE FROM clipboard_fts WHERE rowid = ?`, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("deleting item %d: %w", id, err)
	}
	return deleted, nil
}

// DeleteAll removes every item and empties the full-text index.
func (d *DB) DeleteAll(ctx context.Context) (int64, error) {
	var n int64
	err := d.write(ctx, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM clipboard_items`)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM clipboard_fts`)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deleting all items: %w", err)
	}
	return n, nil
}

// Count returns the number of stored items.
func (d *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM clipboard_items`).Scan(&n)
	return n, err
}

// ExistsByHash reports whether an item with the given content hash is stored.
func (d *DB) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var one int
	err := d.conn.QueryRowContext(ctx,
		`SELECT 1 FROM clipboard_items WHERE content_hash = ? LIMIT 1`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking hash: %w", err)
	}
	return true, nil
}

// CountByType returns item counts grouped by content type.
func (d *DB) CountByType(ctx context.Context) (map[ContentType]int64, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT content_type, COUNT(*) FROM clipboard_items GROUP BY content_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[ContentType]int64)
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[ContentType(t)] = n
	}
	return counts, rows.Err()
}

// syncFTS replaces the full-text record of an item. The old record is always
// deleted first so a stale entry cannot survive an update.
func syncFTS(ctx context.Context, tx DBTX, item *Item) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM clipboard_fts WHERE rowid = ?`, item.ID); err != nil {
		return fmt.Errorf("clearing full-text record: %w", err)
	}

	content := ""
	if item.Indexable() {
		content = strings.ToValidUTF8(string(item.Content), "")
	}
	ocr := ""
	if item.OCRText != nil {
		ocr = *item.OCRText
	}
	lang := ""
	if item.CodeLanguage != nil {
		lang = *item.CodeLanguage
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO clipboard_fts (rowid, content, ocr_text, code_language, source_app)
		VALUES (?, ?, ?, ?, ?)
	`, item.ID, content, ocr, lang, item.SourceApp)
	if err != nil {
		return fmt.Errorf("writing full-text record: %w", err)
	}
	return nil
}
