package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"clipmind/internal/config"
	"clipmind/internal/db"
	"clipmind/internal/enrich"
	"clipmind/internal/history"
	"clipmind/internal/logging"
	"clipmind/internal/notify"
	"clipmind/internal/ocr"
	"clipmind/internal/search"
	"clipmind/internal/security"
)

// App holds every wired component of one process.
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Store    *db.DB
	Bus      *notify.Bus
	Detector enrich.LanguageDetector
	Embedder enrich.EmbeddingProvider
	OCR      *ocr.Queue
	Service  *history.Service
	Search   *search.Engine

	logCloser io.Closer
}

// OpenApp loads configuration and builds the pipeline. The OCR queue is
// created but not started.
func OpenApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log, closer, err := logging.Open(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, logCloser: closer, Bus: notify.NewBus()}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	store, err := db.OpenDB(cfg.Storage.Path,
		db.WithBusyRetry(uint64(cfg.Storage.BusyRetries), cfg.Storage.BusyRetryBase.Duration))
	if err != nil {
		return err
	}
	a.Store = store

	key, err := masterKey(cfg.Security)
	if err != nil {
		return err
	}
	gate, err := security.NewGate(key, cfg.Security.AutoDetectPasswords)
	if err != nil {
		return err
	}

	if cfg.Enrichment.Language.Backend == "keyword" {
		a.Detector = enrich.NewKeywordDetector(cfg.Enrichment.Language.MinConfidence)
	}

	emb := cfg.Enrichment.Embedding
	switch emb.Backend {
	case "hash":
		a.Embedder = enrich.NewHashEmbedder(emb.Dimensions)
	case "ollama":
		a.Embedder = enrich.NewOllamaEmbedder(emb.OllamaURL, emb.Model, emb.Dimensions, emb.Timeout.Duration)
	}

	deps := history.Deps{Detector: a.Detector, Embedder: a.Embedder, Sink: a.Bus}
	if o := cfg.Enrichment.OCR; o.Enabled && o.Backend == "tesseract" {
		engine := enrich.NewTesseractEngine(enrich.TesseractConfig{
			Binary:    o.Binary,
			Languages: o.Languages,
			TessData:  o.TessData,
			Timeout:   o.Timeout.Duration,
		}, a.Detector, a.Log)
		if engine.Available() {
			a.OCR = ocr.New(store, engine, a.Detector, a.Embedder, a.Bus, ocr.Config{Grace: o.Grace.Duration}, a.Log)
			deps.OCR = a.OCR
		} else {
			a.Log.Warn().Msg("tesseract not found, OCR disabled")
		}
	}

	a.Service = history.New(store, gate, deps, history.Config{
		PasswordPolicy:  cfg.PasswordPolicy(),
		PasswordTimeout: cfg.Security.PasswordTimeout.Duration,
		MaxItems:        cfg.Retention.MaxItems,
		MaxAge:          cfg.Retention.MaxAge.Duration,
		OCREnabled:      a.OCR != nil,
		SemanticSearch:  cfg.Search.Semantic,
		MonitorText:     cfg.Capture.MonitorText,
		MonitorImages:   cfg.Capture.MonitorImages,
		IgnoreApps:      cfg.Capture.IgnoreApps,
	}, a.Log)

	a.Search = search.NewEngine(store, a.Embedder, search.Config{
		Semantic:       cfg.Search.Semantic,
		TextWeight:     cfg.Search.TextWeight,
		SemanticWeight: cfg.Search.SemanticWeight,
		SemanticWindow: cfg.Search.SemanticWindow,
		DefaultLimit:   cfg.Search.DefaultLimit,
		CacheSize:      cfg.Search.CacheSize,
		CacheTTL:       cfg.Search.CacheTTL.Duration,
	}, a.Log)

	a.Log.Debug().Str("db", cfg.Storage.Path).Str("embedding", emb.Backend).
		Bool("ocr", a.OCR != nil).Msg("pipeline ready")
	return nil
}

// Close stops background work and releases the store. Safe on a partially
// built App.
func (a *App) Close() {
	if a.OCR != nil {
		a.OCR.Close()
	}
	if a.Service != nil {
		a.Service.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("closing database")
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

const passphraseEnv = "CLIPMIND_PASSPHRASE"

func masterKey(sec config.Security) ([]byte, error) {
	if sec.KeyMode != "passphrase" {
		return security.LoadOrCreateKey(sec.KeyPath)
	}
	pass, err := readPassphrase()
	if err != nil {
		return nil, err
	}
	return security.DeriveKey(pass, sec.SaltPath)
}

func readPassphrase() ([]byte, error) {
	if p := os.Getenv(passphraseEnv); p != "" {
		return []byte(p), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("passphrase key mode needs a terminal or $%s", passphraseEnv)
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(strings.TrimSpace(string(pass))) == 0 {
		return nil, errors.New("empty passphrase")
	}
	return pass, nil
}
