package db

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "of": true, "is": true,
	"it": true, "and": true, "or": true, "with": true, "from": true,
	"by": true, "this": true, "that": true, "as": true, "be": true,
}

// BuildFTSQuery preprocesses a free-text query for FTS5.
// Splits on whitespace, trims punctuation, removes stopwords and single
// characters, quotes each term and joins with " OR ". The last term is
// prefix-matched so partially typed words still hit.
func BuildFTSQuery(query string) string {
	words := strings.Fields(query)
	var filtered []string
	for _, w := range words {
		// Trim non-letter/digit chars from both ends
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		if len([]rune(trimmed)) < 2 {
			continue
		}
		if stopwords[strings.ToLower(trimmed)] {
			continue
		}
		filtered = append(filtered, `"`+strings.ReplaceAll(trimmed, `"`, `""`)+`"`)
	}
	if len(filtered) == 0 {
		return ""
	}
	filtered[len(filtered)-1] += "*"
	return strings.Join(filtered, " OR ")
}

// Match is an item returned by a full-text query with its native FTS5 rank.
// Rank is negative; values closer to zero are weaker matches.
type Match struct {
	Item Item
	Rank float64
}

// SearchFTS runs an FTS5 match over content, OCR text, language and source
// app. Returns an empty slice if the preprocessed query is empty.
func (d *DB) SearchFTS(ctx context.Context, query string, limit int, f Filter) ([]Match, error) {
	ftsQuery := BuildFTSQuery(query)
	if ftsQuery == "" {
		return []Match{}, nil
	}

	where, args := f.clause("i")
	sqlText := `
		SELECT ` + itemColumns("i") + `, rank
		FROM clipboard_fts
		JOIN clipboard_items i ON i.id = clipboard_fts.rowid
		WHERE clipboard_fts MATCH ?`
	if where != "" {
		sqlText += ` AND ` + where
	}
	sqlText += ` ORDER BY rank LIMIT ?`

	params := append([]any{ftsQuery}, args...)
	rows, err := d.conn.QueryContext(ctx, sqlText, append(params, limit)...)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var rank float64
		it, err := scanItem(rows, &rank)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{Item: it, Rank: rank})
	}
	return matches, rows.Err()
}
