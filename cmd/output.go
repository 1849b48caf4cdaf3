package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"clipmind/internal/api"
	"clipmind/internal/db"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// Find a safe UTF-8 boundary
	truncated := s[:limit]
	for len(truncated) > 0 && truncated[len(truncated)-1]>>6 == 2 {
		truncated = truncated[:len(truncated)-1]
	}
	if len(truncated) > 0 && truncated[len(truncated)-1] >= 0xC0 {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated + "..."
}

// preview is a one-line, human readable summary of an item's content.
func preview(it *db.Item, limit int) string {
	switch {
	case it.IsEncrypted:
		return "[encrypted]"
	case it.ContentType == db.TypeImage:
		if it.OCRText != nil && *it.OCRText != "" {
			return "[image] " + truncate(strings.Join(strings.Fields(*it.OCRText), " "), limit)
		}
		return fmt.Sprintf("[image %d bytes]", len(it.Content))
	}
	return truncate(strings.Join(strings.Fields(string(it.Content)), " "), limit)
}

func formatAge(ts int64) string {
	d := time.Since(time.UnixMilli(ts))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

func printItemLine(it *db.Item) {
	kind := string(it.ContentType)
	if it.CodeLanguage != nil {
		kind += "/" + *it.CodeLanguage
	}
	fmt.Printf("  %6d  %-16s %-9s %s\n", it.ID, kind, formatAge(it.Timestamp), preview(it, 70))
}

func itemViews(items []db.Item) []api.ItemView {
	views := make([]api.ItemView, len(items))
	for i := range items {
		views[i] = api.NewItemView(&items[i])
	}
	return views
}

func parseTypes(raw []string) ([]db.ContentType, error) {
	var types []db.ContentType
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			t, err := db.ParseContentType(part)
			if err != nil {
				return nil, err
			}
			types = append(types, t)
		}
	}
	return types, nil
}
