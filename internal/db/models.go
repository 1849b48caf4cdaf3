package db

import (
	"fmt"
	"strings"
	"time"
)

// ContentType is the coarse kind of a clipboard payload.
type ContentType string

const (
	TypeText     ContentType = "Text"
	TypeRichText ContentType = "RichText"
	TypeCode     ContentType = "Code"
	TypeImage    ContentType = "Image"
	TypeURL      ContentType = "Url"
	TypeEmail    ContentType = "Email"
	TypePhone    ContentType = "Phone"
	TypeFilePath ContentType = "FilePath"
	TypePassword ContentType = "Password"
)

var contentTypes = []ContentType{
	TypeText, TypeRichText, TypeCode, TypeImage, TypeURL,
	TypeEmail, TypePhone, TypeFilePath, TypePassword,
}

func (t ContentType) String() string {
	return string(t)
}

// ParseContentType accepts any casing of a known type name.
func ParseContentType(s string) (ContentType, error) {
	for _, t := range contentTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown content type %q", s)
}

// Metadata keys written by the ingestion pipeline.
const (
	MetaHash         = "hash"
	MetaMimeType     = "mime_type"
	MetaLanguage     = "language"
	MetaClassifiedAs = "classified_as"
)

// Item represents a row in the clipboard_items table
type Item struct {
	ID           int64             `json:"id"`
	Content      []byte            `json:"content"`
	ContentType  ContentType       `json:"content_type"`
	OCRText      *string           `json:"ocr_text"`
	Embedding    []float32         `json:"-"`
	SourceApp    string            `json:"source_app"`
	WindowTitle  *string           `json:"window_title"`
	Timestamp    int64             `json:"timestamp"` // Unix millis
	IsPassword   bool              `json:"is_password"`
	IsEncrypted  bool              `json:"is_encrypted"`
	Metadata     map[string]string `json:"metadata"`
	Hash         string            `json:"content_hash"`
	CodeLanguage *string           `json:"code_language"`
}

// Time returns the creation timestamp.
func (it *Item) Time() time.Time {
	return time.UnixMilli(it.Timestamp)
}

// HasEmbedding reports whether the embedding worker has run for this item.
func (it *Item) HasEmbedding() bool {
	return len(it.Embedding) > 0
}

// Indexable reports whether the raw content may be placed in the full-text index.
func (it *Item) Indexable() bool {
	return it.ContentType != TypeImage && !it.IsPassword && !it.IsEncrypted
}

// Filter narrows list and search queries. Zero values mean "no constraint".
type Filter struct {
	Types            []ContentType
	SourceApp        string
	Since            time.Time
	Until            time.Time
	ExcludeCode      bool
	ExcludePasswords bool
}

// clause renders the filter as SQL conditions against the given table alias.
func (f Filter) clause(alias string) (string, []any) {
	var conds []string
	var args []any
	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}

	if len(f.Types) > 0 {
		marks := make([]string, len(f.Types))
		for i, t := range f.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, col("content_type")+" IN ("+strings.Join(marks, ", ")+")")
	}
	if f.SourceApp != "" {
		conds = append(conds, col("source_app")+" = ? COLLATE NOCASE")
		args = append(args, f.SourceApp)
	}
	if !f.Since.IsZero() {
		conds = append(conds, col("timestamp")+" >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		conds = append(conds, col("timestamp")+" <= ?")
		args = append(args, f.Until.UnixMilli())
	}
	if f.ExcludeCode {
		conds = append(conds, col("content_type")+" <> ?")
		args = append(args, string(TypeCode))
	}
	if f.ExcludePasswords {
		conds = append(conds, col("is_password")+" = 0")
	}
	return strings.Join(conds, " AND "), args
}
