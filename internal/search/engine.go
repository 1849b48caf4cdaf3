// Package search answers lexical, semantic and hybrid queries over the
// clipboard history.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"clipmind/internal/db"
	"clipmind/internal/enrich"
)

var (
	searchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipmind_search_queries_total",
		Help: "Search queries by effective mode",
	}, []string{"mode"})
	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipmind_search_duration_seconds",
		Help:    "Search latency by effective mode",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"mode"})
)

// Mode selects the ranking strategy.
type Mode string

const (
	ModeText     Mode = "text"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// ParseMode maps "" to hybrid.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeHybrid, nil
	case ModeText, ModeSemantic, ModeHybrid:
		return m, nil
	}
	return "", fmt.Errorf("unknown search mode %q (want text, semantic or hybrid)", s)
}

// ResultType tags how an item matched.
type ResultType string

const (
	TextMatch     ResultType = "TextMatch"
	SemanticMatch ResultType = "SemanticMatch"
	OcrMatch      ResultType = "OcrMatch"
	// HybridMatch is part of the result vocabulary clients accept; ranking
	// tags every exact hit by its full-text source instead.
	HybridMatch ResultType = "HybridMatch"
)

// Result is one ranked hit. Score semantics depend on the mode: raw FTS rank
// in text mode, cosine similarity in semantic mode, combined weight in hybrid.
type Result struct {
	Item  db.Item    `json:"item"`
	Score float64    `json:"score"`
	Type  ResultType `json:"result_type"`
	// Exact is set when the item matched the full-text query.
	Exact bool `json:"exact"`
}

// Query is a search request.
type Query struct {
	Text   string
	Mode   Mode
	Limit  int
	Filter db.Filter
}

// Store is the read surface search needs. *db.DB implements it.
type Store interface {
	SearchFTS(ctx context.Context, query string, limit int, f db.Filter) ([]db.Match, error)
	RecentWithEmbeddings(ctx context.Context, limit int, f db.Filter) ([]db.Item, error)
	ListRecent(ctx context.Context, limit int, f db.Filter) ([]db.Item, error)
}

type Config struct {
	Semantic       bool
	TextWeight     float64
	SemanticWeight float64
	// SemanticWindow caps how many recent embedded items are scanned.
	SemanticWindow int
	DefaultLimit   int
	CacheSize      int
	CacheTTL       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Semantic:       true,
		TextWeight:     0.7,
		SemanticWeight: 0.3,
		SemanticWindow: 500,
		DefaultLimit:   20,
		CacheSize:      256,
		CacheTTL:       10 * time.Minute,
	}
}

// Engine runs searches. It is safe for concurrent use.
type Engine struct {
	store    Store
	embedder enrich.EmbeddingProvider
	cfg      Config
	cache    *expirable.LRU[string, []float32]
	log      zerolog.Logger
}

// NewEngine builds an engine. embedder may be nil, in which case semantic
// and hybrid queries fall back to text.
func NewEngine(store Store, embedder enrich.EmbeddingProvider, cfg Config, log zerolog.Logger) *Engine {
	if cfg.SemanticWindow <= 0 {
		cfg.SemanticWindow = 500
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		cache:    expirable.NewLRU[string, []float32](cfg.CacheSize, nil, cfg.CacheTTL),
		log:      log.With().Str("component", "search").Logger(),
	}
}

func (e *Engine) semanticReady() bool {
	return e.cfg.Semantic && enrich.EmbedderReady(e.embedder)
}

// Search runs q. An empty query lists recent items instead.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Limit <= 0 {
		q.Limit = e.cfg.DefaultLimit
	}
	if q.Mode == "" {
		q.Mode = ModeHybrid
	}
	if strings.TrimSpace(q.Text) == "" {
		return e.recent(ctx, q)
	}
	if q.Mode != ModeText && !e.semanticReady() {
		q.Mode = ModeText
	}

	start := time.Now()
	var (
		results []Result
		err     error
	)
	switch q.Mode {
	case ModeText:
		results, err = e.text(ctx, q)
	case ModeSemantic:
		results, err = e.semantic(ctx, q)
	case ModeHybrid:
		results, err = e.hybrid(ctx, q)
	default:
		return nil, fmt.Errorf("unknown search mode %q", q.Mode)
	}
	if err != nil {
		return nil, err
	}
	searchTotal.WithLabelValues(string(q.Mode)).Inc()
	searchDuration.WithLabelValues(string(q.Mode)).Observe(time.Since(start).Seconds())
	return results, nil
}

func (e *Engine) recent(ctx context.Context, q Query) ([]Result, error) {
	items, err := e.store.ListRecent(ctx, q.Limit, q.Filter)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(items))
	for i, it := range items {
		results[i] = Result{Item: it, Type: TextMatch}
	}
	searchTotal.WithLabelValues("recent").Inc()
	return results, nil
}

func textType(it *db.Item) ResultType {
	if it.ContentType == db.TypeImage && it.OCRText != nil {
		return OcrMatch
	}
	return TextMatch
}

func (e *Engine) text(ctx context.Context, q Query) ([]Result, error) {
	matches, err := e.store.SearchFTS(ctx, q.Text, q.Limit, q.Filter)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{Item: m.Item, Score: m.Rank, Type: textType(&m.Item), Exact: true}
	}
	return results, nil
}

func (e *Engine) semantic(ctx context.Context, q Query) ([]Result, error) {
	similar, err := e.similar(ctx, q.Text, q.Limit, q.Filter)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(similar))
	for i, s := range similar {
		results[i] = Result{Item: s.Item, Score: s.Similarity, Type: SemanticMatch}
	}
	return results, nil
}

func (e *Engine) similar(ctx context.Context, text string, limit int, f db.Filter) ([]Similar, error) {
	vec, err := e.queryEmbedding(ctx, text)
	if err != nil || len(vec) == 0 {
		return nil, err
	}
	candidates, err := e.store.RecentWithEmbeddings(ctx, e.cfg.SemanticWindow, f)
	if err != nil {
		return nil, err
	}
	// Vectors from another embedder (different dimension) are not comparable.
	usable := candidates[:0]
	for _, c := range candidates {
		if len(c.Embedding) == len(vec) {
			usable = append(usable, c)
		}
	}
	// Pure top-K: negative similarities still rank, just last.
	return FindSimilar(vec, usable, limit, math.Inf(-1)), nil
}

// queryEmbedding embeds the trimmed query text. The cache key is the exact
// text that was embedded, so case-sensitive backends never share vectors.
func (e *Engine) queryEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := strings.TrimSpace(text)
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := e.embedder.Embed(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vec) > 0 {
		e.cache.Add(key, vec)
	}
	return vec, nil
}

// NormalizeRank maps a native FTS rank (closer to zero is better) into (0, 1].
func NormalizeRank(rank float64) float64 {
	return 1 / (1 + math.Abs(rank))
}

type candidate struct {
	item     db.Item
	text     float64
	semantic float64
	hasText  bool
	hasSem   bool
}

func (e *Engine) hybrid(ctx context.Context, q Query) ([]Result, error) {
	fetch := q.Limit * 2
	var (
		matches []db.Match
		similar []Similar
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		matches, err = e.store.SearchFTS(gctx, q.Text, fetch, q.Filter)
		return err
	})
	g.Go(func() error {
		var err error
		similar, err = e.similar(gctx, q.Text, fetch, q.Filter)
		if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			// Semantic trouble degrades to text-only ranking.
			e.log.Warn().Err(err).Msg("semantic leg failed")
			similar = nil
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Combine(matches, similar, e.cfg.TextWeight, e.cfg.SemanticWeight, q.Limit), nil
}

// Combine merges full-text and semantic candidates. Every full-text hit
// ranks above every semantic-only hit; within each group the weighted score
// decides, then the newer item. Full-text hits keep their TextMatch or
// OcrMatch tag even when the semantic side found them too.
func Combine(matches []db.Match, similar []Similar, textWeight, semanticWeight float64, limit int) []Result {
	byID := make(map[int64]*candidate, len(matches)+len(similar))
	var order []*candidate
	get := func(it db.Item) *candidate {
		if c, ok := byID[it.ID]; ok {
			return c
		}
		c := &candidate{item: it}
		byID[it.ID] = c
		order = append(order, c)
		return c
	}
	for _, m := range matches {
		c := get(m.Item)
		c.text, c.hasText = NormalizeRank(m.Rank), true
	}
	for _, s := range similar {
		c := get(s.Item)
		c.semantic, c.hasSem = s.Similarity, true
	}

	results := make([]Result, 0, len(order))
	for _, c := range order {
		r := Result{Item: c.item, Exact: c.hasText}
		switch {
		case c.hasText && c.hasSem:
			r.Score = c.text*textWeight + c.semantic*semanticWeight
			r.Type = textType(&c.item)
		case c.hasText:
			r.Score = c.text * textWeight
			r.Type = textType(&c.item)
		default:
			r.Score = c.semantic * semanticWeight
			r.Type = SemanticMatch
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Exact != b.Exact {
			return a.Exact
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Item.ID > b.Item.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
