// Package enrich defines the optional enrichment capabilities (language
// detection, embeddings, OCR) and their built-in backends.
//
// Every capability reports Available(); callers check it instead of probing
// the concrete type. A nil capability behaves like an unavailable one.
package enrich

import "context"

// Detection is a language label with the detector's confidence in [0,1].
type Detection struct {
	Language   string
	Confidence float64
}

// LanguageDetector labels source code. A nil Detection means "no confident
// answer" and is not an error.
type LanguageDetector interface {
	DetectLanguage(ctx context.Context, text string) (*Detection, error)
	Available() bool
}

// EmbeddingProvider maps text to a fixed-length vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Available() bool
}

// OCREngine extracts text from encoded image bytes. Failure yields "".
type OCREngine interface {
	ExtractText(ctx context.Context, img []byte) (string, error)
	Available() bool
}

// DetectorReady reports whether d is non-nil and available.
func DetectorReady(d LanguageDetector) bool { return d != nil && d.Available() }

// EmbedderReady reports whether e is non-nil and available.
func EmbedderReady(e EmbeddingProvider) bool { return e != nil && e.Available() }

// OCRReady reports whether o is non-nil and available.
func OCRReady(o OCREngine) bool { return o != nil && o.Available() }
