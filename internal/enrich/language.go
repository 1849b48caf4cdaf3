package enrich

import (
	"context"
	"strings"

	"clipmind/internal/classify"
)

// KeywordDetector is the offline fallback detector built on the classifier's
// keyword scorer. Lines with real shell syntax behind a known command are
// labelled bash outright; anything else is
// scored only when the heuristic code detector already agrees it is code.
type KeywordDetector struct {
	// MinConfidence is the share of all pattern hits the winner must hold.
	MinConfidence float64
}

func NewKeywordDetector(minConfidence float64) *KeywordDetector {
	return &KeywordDetector{MinConfidence: minConfidence}
}

func (k *KeywordDetector) Available() bool { return true }

func (k *KeywordDetector) DetectLanguage(ctx context.Context, text string) (*Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if classify.IsShellCommand(text) {
		return &Detection{Language: "bash", Confidence: 1}, nil
	}
	if !classify.IsCode(text) {
		return nil, nil
	}

	scores := classify.ScoreLanguages(text)
	lang, hits, ok := classify.GuessLanguage(text)
	if !ok {
		return nil, nil
	}
	total := 0
	for _, s := range scores {
		total += s.Hits
	}
	conf := float64(hits) / float64(total)
	if conf < k.MinConfidence {
		return nil, nil
	}
	return &Detection{Language: lang, Confidence: conf}, nil
}
