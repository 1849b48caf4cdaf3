package search

import (
	"math"
	"sort"

	"clipmind/internal/db"
)

// Similar is a candidate item with its cosine similarity to a query vector.
type Similar struct {
	Item       db.Item
	Similarity float64
}

// CosineSimilarity computes cosine similarity between two vectors.
// Returns 0 for zero-norm vectors or mismatched lengths. The result is
// clamped to [-1, 1] to absorb rounding.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, sim))
}

// FindSimilar ranks candidates by similarity to target and returns the top N
// whose similarity is strictly above minSimilarity. Ties keep the newer item
// (higher id) first.
func FindSimilar(target []float32, candidates []db.Item, topN int, minSimilarity float64) []Similar {
	var results []Similar
	for _, c := range candidates {
		sim := CosineSimilarity(target, c.Embedding)
		if sim > minSimilarity {
			results = append(results, Similar{Item: c, Similarity: sim})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Item.ID > results[j].Item.ID
	})

	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results
}
