package cmd

import (
	"context"
	"strings"
	"testing"

	"clipmind/internal/db"
	"clipmind/internal/history"
)

func strPtr(s string) *string { return &s }

func newTestApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("CLIPMIND_HOME", t.TempDir())
	t.Setenv("CLIPMIND_CONFIG", "")
	t.Setenv("CLIPMIND_DB", "")
	t.Setenv("CLIPMIND_OCR_ENABLED", "false")
	t.Setenv("CLIPMIND_LOG_LEVEL", "error")
	a, err := OpenApp()
	if err != nil {
		t.Fatalf("OpenApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func addText(t *testing.T, a *App, text string) *db.Item {
	t.Helper()
	item, err := a.Service.ProcessEvent(context.Background(), history.Event{Data: []byte(text), SourceApp: "test"})
	if err != nil {
		t.Fatalf("ProcessEvent(%q): %v", text, err)
	}
	a.Service.Wait()
	return item
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"ascii", "hello world", 5, "hello..."},
		{"multibyte boundary", "añb", 2, "a..."},
		{"multibyte whole", "ñañ", 3, "ña..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.limit); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		item db.Item
		want string
	}{
		{"collapses whitespace", db.Item{ContentType: db.TypeText, Content: []byte("a\n\n  b\tc")}, "a b c"},
		{"encrypted", db.Item{ContentType: db.TypePassword, IsEncrypted: true, Content: []byte{1, 2}}, "[encrypted]"},
		{"image", db.Item{ContentType: db.TypeImage, Content: make([]byte, 12)}, "[image 12 bytes]"},
		{"image with ocr", db.Item{ContentType: db.TypeImage, OCRText: strPtr("Total\n42")}, "[image] Total 42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := preview(&tt.item, 40); got != tt.want {
				t.Errorf("preview = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTypes(t *testing.T) {
	got, err := parseTypes([]string{"text,code", " Url "})
	if err != nil {
		t.Fatal(err)
	}
	want := []db.ContentType{db.TypeText, db.TypeCode, db.TypeURL}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if _, err := parseTypes([]string{"video"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestResolveItem(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	alpha := addText(t, a, "alpha quarterly report")
	addText(t, a, "beta quarterly report")

	got, err := ResolveItem(ctx, a, "1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != alpha.ID {
		t.Errorf("by id: got %d, want %d", got.ID, alpha.ID)
	}

	got, err = ResolveItem(ctx, a, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != alpha.ID {
		t.Errorf("by query: got %d, want %d", got.ID, alpha.ID)
	}

	_, err = ResolveItem(ctx, a, "quarterly")
	if err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("expected ambiguous error, got %v", err)
	}

	_, err = ResolveItem(ctx, a, "gamma")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found, got %v", err)
	}

	_, err = ResolveItem(ctx, a, "999")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found for missing id, got %v", err)
	}
}

func TestResolveItem_DecryptsPasswords(t *testing.T) {
	a := newTestApp(t)
	item := addText(t, a, "Tr0ub4dor&3x")
	if !item.IsPassword {
		t.Fatalf("expected password item, got %s", item.ContentType)
	}

	stored, err := a.Store.Get(context.Background(), item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.IsEncrypted || string(stored.Content) == "Tr0ub4dor&3x" {
		t.Fatal("password should be encrypted at rest")
	}

	got, err := ResolveItem(context.Background(), a, "1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Content) != "Tr0ub4dor&3x" {
		t.Errorf("decrypted content = %q", got.Content)
	}
}

func TestOpenApp_FlagOverrides(t *testing.T) {
	dir := t.TempDir()
	dbPath = dir + "/custom.db"
	t.Cleanup(func() { dbPath = "" })

	a := newTestApp(t)
	if a.Config.Storage.Path != dbPath {
		t.Errorf("storage path = %s, want %s", a.Config.Storage.Path, dbPath)
	}
	if a.Search == nil || a.Service == nil || a.Embedder == nil || a.Detector == nil {
		t.Error("pipeline not fully wired")
	}
	if a.OCR != nil {
		t.Error("OCR should be disabled")
	}
}
