package enrich

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordDetector(t *testing.T) {
	d := NewKeywordDetector(0)
	ctx := context.Background()

	det, err := d.DetectLanguage(ctx, "ssh user@10.0.0.1 -p 2222")
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, "bash", det.Language)

	det, err = d.DetectLanguage(ctx, "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"hi\")\n}")
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, "go", det.Language)
	assert.Greater(t, det.Confidence, 0.0)
	assert.LessOrEqual(t, det.Confidence, 1.0)

	det, err = d.DetectLanguage(ctx, "Remember to bring the documents for the meeting tomorrow morning.")
	require.NoError(t, err)
	assert.Nil(t, det)

	det, err = d.DetectLanguage(ctx, "   ")
	require.NoError(t, err)
	assert.Nil(t, det)
}

func TestKeywordDetector_ProseWithCommandPrefix(t *testing.T) {
	d := NewKeywordDetector(0)
	for _, text := range []string{
		"Make sure you call the dentist tomorrow",
		"Find attached the invoice for March",
		"go to the store and buy milk",
		"cat videos are the best part of the internet",
	} {
		det, err := d.DetectLanguage(context.Background(), text)
		require.NoError(t, err)
		assert.Nil(t, det, text)
	}

	det, err := d.DetectLanguage(context.Background(), "go test ./...")
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, "bash", det.Language)
}

func TestKeywordDetector_MinConfidence(t *testing.T) {
	d := NewKeywordDetector(1.01)
	det, err := d.DetectLanguage(context.Background(), "SELECT id, name FROM users WHERE active = 1 ORDER BY name")
	require.NoError(t, err)
	assert.Nil(t, det)
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(0)
	assert.Equal(t, DefaultDimensions, e.Dimensions())
	ctx := context.Background()

	v, err := e.Embed(ctx, "docker compose up")
	require.NoError(t, err)
	require.Len(t, v, DefaultDimensions)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	again, err := e.Embed(ctx, "Docker  compose, UP")
	require.NoError(t, err)
	assert.Equal(t, v, again)

	empty, err := e.Embed(ctx, "  ...  ")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "wörld", "42"}, Tokenize("Hello, Wörld! 42"))
	assert.Empty(t, Tokenize("--- ..."))
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)
		assert.Equal(t, "hello", req.Prompt)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/", "all-minilm", 3, 0)
	require.True(t, e.Available())
	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
}

func TestOllamaEmbedder_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{1}})
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "m", 3, 0).Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "expected 3")

	_, err = NewOllamaEmbedder(srv.URL+"/?fail=1#", "m", 0, 0).Embed(context.Background(), "x")
	assert.Error(t, err)

	assert.False(t, NewOllamaEmbedder("", "m", 0, 0).Available())
}

func TestCleanOCRText(t *testing.T) {
	in := "< Inbox\nO\nMeeting notes 3\n> Settings\nx"
	assert.Equal(t, "Inbox\nMeeting notes\nSettings", CleanOCRText(in))
}

func TestTesseractEngine_Unavailable(t *testing.T) {
	t.Setenv(TesseractEnv, "")
	t.Setenv("PATH", t.TempDir())
	e := NewTesseractEngine(TesseractConfig{}, nil, zerolog.Nop())
	assert.False(t, e.Available())
	text, err := e.ExtractText(context.Background(), []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestCappedBuffer(t *testing.T) {
	buf := cappedBuffer{limit: 4}
	n, err := buf.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", buf.String())
}

func TestReadyHelpers(t *testing.T) {
	assert.False(t, EmbedderReady(nil))
	assert.False(t, DetectorReady(nil))
	assert.False(t, OCRReady(nil))
	assert.True(t, EmbedderReady(NewHashEmbedder(8)))
}
