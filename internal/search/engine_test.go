package search

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipmind/internal/db"
	"clipmind/internal/enrich"
)

func openStore(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.OpenDB(filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func addItem(t *testing.T, d *db.DB, it db.Item) db.Item {
	t.Helper()
	if it.ContentType == "" {
		it.ContentType = db.TypeText
	}
	if it.Hash == "" {
		it.Hash = fmt.Sprintf("h-%s-%d", it.Content, it.Timestamp)
	}
	_, err := d.Add(context.Background(), &it)
	require.NoError(t, err)
	return it
}

func embed(t *testing.T, e enrich.EmbeddingProvider, text string) []float32 {
	t.Helper()
	v, err := e.Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, m)

	m, err = ParseMode(" Semantic ")
	require.NoError(t, err)
	assert.Equal(t, ModeSemantic, m)

	_, err = ParseMode("fuzzy")
	assert.Error(t, err)
}

func TestNormalizeRank(t *testing.T) {
	assert.Equal(t, 1.0, NormalizeRank(0))
	assert.InDelta(t, 0.5, NormalizeRank(-1), 1e-9)
	assert.Greater(t, NormalizeRank(-0.5), NormalizeRank(-4))
}

func TestCombine_ExactMatchesAlwaysFirst(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	weights := [][2]float64{{0.7, 0.3}, {0.5, 0.5}, {0.1, 0.9}, {0, 1}, {1, 0}}

	for _, w := range weights {
		for round := 0; round < 20; round++ {
			var matches []db.Match
			var similar []Similar
			for id := int64(1); id <= 30; id++ {
				it := db.Item{ID: id, ContentType: db.TypeText}
				switch rng.Intn(3) {
				case 0:
					matches = append(matches, db.Match{Item: it, Rank: -rng.Float64() * 20})
				case 1:
					similar = append(similar, Similar{Item: it, Similarity: rng.Float64()})
				default:
					matches = append(matches, db.Match{Item: it, Rank: -rng.Float64() * 20})
					similar = append(similar, Similar{Item: it, Similarity: rng.Float64()})
				}
			}

			results := Combine(matches, similar, w[0], w[1], 0)
			require.Len(t, results, 30)
			seenSemanticOnly := false
			for i, r := range results {
				if !r.Exact {
					seenSemanticOnly = true
					assert.Equal(t, SemanticMatch, r.Type)
					continue
				}
				assert.False(t, seenSemanticOnly, "weights %v: exact result at %d after a semantic-only one", w, i)
			}
		}
	}
}

func TestCombine_ScoresAndTypes(t *testing.T) {
	ocr := "scanned words"
	matches := []db.Match{
		{Item: db.Item{ID: 1, ContentType: db.TypeText}, Rank: -1},
		{Item: db.Item{ID: 2, ContentType: db.TypeImage, OCRText: &ocr}, Rank: 0},
	}
	similar := []Similar{
		{Item: db.Item{ID: 1, ContentType: db.TypeText}, Similarity: 0.8},
		{Item: db.Item{ID: 3, ContentType: db.TypeText}, Similarity: 0.99},
	}

	results := Combine(matches, similar, 0.7, 0.3, 10)
	require.Len(t, results, 3)

	// Image: 1.0*0.7 = 0.7; item 1: 0.5*0.7 + 0.8*0.3 = 0.59.
	assert.Equal(t, int64(2), results[0].Item.ID)
	assert.Equal(t, OcrMatch, results[0].Type)
	assert.InDelta(t, 0.7, results[0].Score, 1e-9)

	assert.Equal(t, int64(1), results[1].Item.ID)
	assert.Equal(t, TextMatch, results[1].Type)
	assert.InDelta(t, 0.59, results[1].Score, 1e-9)

	assert.Equal(t, int64(3), results[2].Item.ID)
	assert.Equal(t, SemanticMatch, results[2].Type)
	assert.False(t, results[2].Exact)
	assert.InDelta(t, 0.297, results[2].Score, 1e-9)
}

func TestCombine_TieBreaksOnNewerID(t *testing.T) {
	similar := []Similar{
		{Item: db.Item{ID: 4}, Similarity: 0.5},
		{Item: db.Item{ID: 9}, Similarity: 0.5},
	}
	results := Combine(nil, similar, 0.7, 0.3, 1)
	require.Len(t, results, 1)
	assert.Equal(t, int64(9), results[0].Item.ID)
}

func TestEngine_EmptyQueryListsRecent(t *testing.T) {
	d := openStore(t)
	addItem(t, d, db.Item{Content: []byte("older"), Timestamp: 1000})
	addItem(t, d, db.Item{Content: []byte("newer"), Timestamp: 2000})

	e := NewEngine(d, nil, DefaultConfig(), zerolog.Nop())
	results, err := e.Search(context.Background(), Query{Text: "   "})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "newer", string(results[0].Item.Content))
	for _, r := range results {
		assert.Equal(t, TextMatch, r.Type)
		assert.Zero(t, r.Score)
	}
}

func TestEngine_OCRTextMatch(t *testing.T) {
	d := openStore(t)
	ocr := "Invoice total due Friday"
	addItem(t, d, db.Item{
		Content:     []byte{0x89, 0x50, 0x4E, 0x47, 0x01, 0x02},
		ContentType: db.TypeImage,
		OCRText:     &ocr,
		Timestamp:   1000,
	})
	addItem(t, d, db.Item{Content: []byte("nothing relevant here"), Timestamp: 2000})

	e := NewEngine(d, nil, DefaultConfig(), zerolog.Nop())
	results, err := e.Search(context.Background(), Query{Text: "invoice", Mode: ModeText})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, db.TypeImage, results[0].Item.ContentType)
	assert.Equal(t, OcrMatch, results[0].Type)
	assert.True(t, results[0].Exact)
}

func TestEngine_SemanticDegradesWithoutEmbedder(t *testing.T) {
	d := openStore(t)
	addItem(t, d, db.Item{Content: []byte("deploy the staging cluster"), Timestamp: 1000})

	e := NewEngine(d, nil, DefaultConfig(), zerolog.Nop())
	for _, mode := range []Mode{ModeSemantic, ModeHybrid} {
		results, err := e.Search(context.Background(), Query{Text: "staging", Mode: mode})
		require.NoError(t, err)
		require.Len(t, results, 1, "mode %s", mode)
		assert.Equal(t, TextMatch, results[0].Type)
		assert.True(t, results[0].Exact)
	}
}

func TestEngine_SemanticDisabledByConfig(t *testing.T) {
	d := openStore(t)
	emb := enrich.NewHashEmbedder(64)
	addItem(t, d, db.Item{Content: []byte("unrelated"), Embedding: embed(t, emb, "kubernetes"), Timestamp: 1000})

	cfg := DefaultConfig()
	cfg.Semantic = false
	e := NewEngine(d, emb, cfg, zerolog.Nop())
	results, err := e.Search(context.Background(), Query{Text: "kubernetes", Mode: ModeSemantic})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_Hybrid(t *testing.T) {
	d := openStore(t)
	emb := enrich.NewHashEmbedder(enrich.DefaultDimensions)
	exact := addItem(t, d, db.Item{
		Content:   []byte("kubernetes cluster upgrade notes"),
		Embedding: embed(t, emb, "kubernetes"),
		Timestamp: 1000,
	})
	semanticOnly := addItem(t, d, db.Item{
		Content:   []byte("something else entirely"),
		Embedding: embed(t, emb, "kubernetes"),
		Timestamp: 2000,
	})

	e := NewEngine(d, emb, DefaultConfig(), zerolog.Nop())
	results, err := e.Search(context.Background(), Query{Text: "kubernetes", Mode: ModeHybrid, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, exact.ID, results[0].Item.ID)
	assert.Equal(t, TextMatch, results[0].Type)
	assert.True(t, results[0].Exact)

	assert.Equal(t, semanticOnly.ID, results[1].Item.ID)
	assert.Equal(t, SemanticMatch, results[1].Type)
	assert.InDelta(t, 0.3, results[1].Score, 1e-6)
}

func TestEngine_SemanticMode(t *testing.T) {
	d := openStore(t)
	emb := enrich.NewHashEmbedder(enrich.DefaultDimensions)
	near := addItem(t, d, db.Item{Content: []byte("a"), Embedding: embed(t, emb, "rust borrow checker"), Timestamp: 1000})
	addItem(t, d, db.Item{Content: []byte("b"), Embedding: embed(t, emb, "grocery list milk eggs"), Timestamp: 2000})

	e := NewEngine(d, emb, DefaultConfig(), zerolog.Nop())
	results, err := e.Search(context.Background(), Query{Text: "borrow checker", Mode: ModeSemantic})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, near.ID, results[0].Item.ID)
	assert.Equal(t, SemanticMatch, results[0].Type)
	assert.Greater(t, results[0].Score, 0.0)
}

type countingEmbedder struct {
	*enrich.HashEmbedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.HashEmbedder.Embed(ctx, text)
}

func TestEngine_CachesQueryEmbeddings(t *testing.T) {
	d := openStore(t)
	emb := &countingEmbedder{HashEmbedder: enrich.NewHashEmbedder(32)}
	e := NewEngine(d, emb, DefaultConfig(), zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := e.Search(context.Background(), Query{Text: "Same Query", Mode: ModeSemantic})
		require.NoError(t, err)
	}
	_, err := e.Search(context.Background(), Query{Text: "  Same Query ", Mode: ModeSemantic})
	require.NoError(t, err)
	assert.Equal(t, 1, emb.calls)

	// Different casing is a different query for case-sensitive backends.
	_, err = e.Search(context.Background(), Query{Text: "same query", Mode: ModeSemantic})
	require.NoError(t, err)
	assert.Equal(t, 2, emb.calls)
}

func TestEngine_SemanticModeIsPureTopK(t *testing.T) {
	d := openStore(t)
	emb := enrich.NewHashEmbedder(enrich.DefaultDimensions)
	query := embed(t, emb, "borrow checker")
	opposite := make([]float32, len(query))
	for i, v := range query {
		opposite[i] = -v
	}
	near := addItem(t, d, db.Item{Content: []byte("a"), Embedding: query, Timestamp: 1000})
	far := addItem(t, d, db.Item{Content: []byte("b"), Embedding: opposite, Timestamp: 2000})
	addItem(t, d, db.Item{Content: []byte("c"), Embedding: []float32{1, 0, 0}, Timestamp: 3000})

	e := NewEngine(d, emb, DefaultConfig(), zerolog.Nop())
	results, err := e.Search(context.Background(), Query{Text: "borrow checker", Mode: ModeSemantic})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, near.ID, results[0].Item.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, far.ID, results[1].Item.ID)
	assert.InDelta(t, -1.0, results[1].Score, 1e-6)
}

type failingEmbedder struct{ enrich.HashEmbedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("backend down")
}

func TestEngine_HybridSurvivesEmbedderFailure(t *testing.T) {
	d := openStore(t)
	addItem(t, d, db.Item{Content: []byte("postgres connection string"), Timestamp: 1000})

	e := NewEngine(d, &failingEmbedder{}, DefaultConfig(), zerolog.Nop())
	results, err := e.Search(context.Background(), Query{Text: "postgres", Mode: ModeHybrid})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, TextMatch, results[0].Type)

	_, err = e.Search(context.Background(), Query{Text: "postgres", Mode: ModeSemantic})
	assert.Error(t, err)
}

// blockingEmbedder parks "slow" queries until their context is cancelled.
type blockingEmbedder struct {
	*enrich.HashEmbedder
	started chan struct{}
}

func (b *blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "slow" {
		close(b.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.HashEmbedder.Embed(ctx, text)
}

func TestSession_LatestQueryWins(t *testing.T) {
	d := openStore(t)
	emb := &blockingEmbedder{HashEmbedder: enrich.NewHashEmbedder(32), started: make(chan struct{})}
	sess := NewSession(NewEngine(d, emb, DefaultConfig(), zerolog.Nop()))

	errCh := make(chan error, 1)
	go func() {
		_, err := sess.Search(context.Background(), Query{Text: "slow", Mode: ModeSemantic})
		errCh <- err
	}()

	select {
	case <-emb.started:
	case <-time.After(5 * time.Second):
		t.Fatal("slow query never started")
	}

	_, err := sess.Search(context.Background(), Query{Text: "fast", Mode: ModeSemantic})
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("superseded query did not return")
	}
}

func TestSession_Cancel(t *testing.T) {
	d := openStore(t)
	emb := &blockingEmbedder{HashEmbedder: enrich.NewHashEmbedder(32), started: make(chan struct{})}
	sess := NewSession(NewEngine(d, emb, DefaultConfig(), zerolog.Nop()))

	errCh := make(chan error, 1)
	go func() {
		_, err := sess.Search(context.Background(), Query{Text: "slow", Mode: ModeSemantic})
		errCh <- err
	}()
	<-emb.started
	sess.Cancel()
	assert.ErrorIs(t, <-errCh, ErrSuperseded)
}
