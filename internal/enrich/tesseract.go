package enrich

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
)

// TesseractEnv overrides the tesseract binary location.
const TesseractEnv = "CLIPMIND_TESSERACT"

var (
	leadingArtifact  = regexp.MustCompile(`^[<>O\d]\s+`)
	trailingArtifact = regexp.MustCompile(`\s+[<>O\d]$`)
)

// TesseractConfig configures the tesseract CLI backend.
type TesseractConfig struct {
	Binary    string
	Languages string // e.g. "spa+eng"
	TessData  string // TESSDATA_PREFIX, optional
	Timeout   time.Duration
}

// TesseractEngine shells out to the tesseract CLI. Output for text that the
// detector does not recognise as code is stripped of icon artifacts.
type TesseractEngine struct {
	binary   string
	cfg      TesseractConfig
	detector LanguageDetector
	log      zerolog.Logger
}

// NewTesseractEngine resolves the binary once. A missing binary yields an
// engine whose Available() is false rather than an error.
func NewTesseractEngine(cfg TesseractConfig, detector LanguageDetector, log zerolog.Logger) *TesseractEngine {
	if cfg.Languages == "" {
		cfg.Languages = "spa+eng"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	log = log.With().Str("component", "tesseract").Logger()
	bin, err := FindBinary("tesseract", TesseractEnv, cfg.Binary)
	if err != nil {
		log.Warn().Err(err).Msg("OCR disabled")
	}
	return &TesseractEngine{binary: bin, cfg: cfg, detector: detector, log: log}
}

func (t *TesseractEngine) Available() bool { return t.binary != "" }

func (t *TesseractEngine) ExtractText(ctx context.Context, img []byte) (string, error) {
	if !t.Available() {
		return "", nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		t.log.Debug().Err(err).Int("bytes", len(img)).Msg("undecodable image")
		return "", nil
	}

	tmp := filepath.Join(os.TempDir(), "clipmind-ocr-"+uuid.NewString()+"."+format)
	if err := os.WriteFile(tmp, img, 0o600); err != nil {
		return "", fmt.Errorf("writing OCR input: %w", err)
	}
	defer os.Remove(tmp)

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.binary, tmp, "stdout", "-l", t.cfg.Languages, "--psm", "3")
	if t.cfg.TessData != "" {
		if _, err := os.Stat(t.cfg.TessData); err == nil {
			cmd.Env = append(os.Environ(), "TESSDATA_PREFIX="+t.cfg.TessData)
		}
	}
	var stdout bytes.Buffer
	stderr := cappedBuffer{limit: 4 * 1024}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.log.Warn().Err(err).Str("stderr", strings.TrimSpace(stderr.String())).Msg("tesseract failed")
		return "", nil
	}

	text := strings.TrimSpace(stdout.String())
	if text != "" && !t.looksLikeCode(ctx, text) {
		text = CleanOCRText(text)
	}
	t.log.Debug().
		Int("width", cfg.Width).Int("height", cfg.Height).
		Int("chars", utf8.RuneCountInString(text)).
		Dur("took", time.Since(start)).
		Msg("OCR finished")
	return text, nil
}

func (t *TesseractEngine) looksLikeCode(ctx context.Context, text string) bool {
	if !DetectorReady(t.detector) {
		return false
	}
	det, err := t.detector.DetectLanguage(ctx, text)
	return err == nil && det != nil
}

// CleanOCRText drops single-character lines and strips stray icon glyphs
// (<, >, O, lone digits) that tesseract reads at line edges.
func CleanOCRText(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= 1 {
			continue
		}
		line = leadingArtifact.ReplaceAllString(line, "")
		line = trailingArtifact.ReplaceAllString(line, "")
		if utf8.RuneCountInString(strings.TrimSpace(line)) > 1 {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
