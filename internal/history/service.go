// Package history is the ingestion pipeline and item lifecycle of the
// clipboard history: classify, gate, deduplicate, persist, then enrich in the
// background.
package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"clipmind/internal/classify"
	"clipmind/internal/db"
	"clipmind/internal/enrich"
	"clipmind/internal/notify"
	"clipmind/internal/security"
)

// Event is one raw clipboard capture.
type Event struct {
	Data        []byte
	SourceApp   string
	WindowTitle string
	MimeType    string
}

// Store is the storage surface the service needs. *db.DB implements it.
type Store interface {
	Add(ctx context.Context, item *db.Item) (int64, error)
	Get(ctx context.Context, id int64) (*db.Item, error)
	ListRecent(ctx context.Context, limit int, f db.Filter) ([]db.Item, error)
	Delete(ctx context.Context, id int64) (bool, error)
	DeleteAll(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	PromoteToCode(ctx context.Context, id int64, language string) (*db.Item, bool, error)
	UpdateEmbedding(ctx context.Context, id int64, vec []float32) (bool, error)
	DeleteOldest(ctx context.Context, n int64, olderThan time.Time) (int64, error)
	CountPasswordsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// OCRQueue accepts images for background text extraction.
type OCRQueue interface {
	Enqueue(itemID int64, img []byte) error
}

// Config holds the pipeline policy.
type Config struct {
	PasswordPolicy  security.PasswordPolicy
	PasswordTimeout time.Duration
	MaxItems        int
	MaxAge          time.Duration
	OCREnabled      bool
	SemanticSearch  bool
	MonitorText     bool
	MonitorImages   bool
	IgnoreApps      []string
}

// DefaultConfig mirrors the built-in configuration defaults.
func DefaultConfig() Config {
	return Config{
		PasswordPolicy:  security.PolicyEncrypt,
		PasswordTimeout: 300 * time.Second,
		MaxItems:        1000,
		MaxAge:          30 * 24 * time.Hour,
		OCREnabled:      true,
		SemanticSearch:  true,
		MonitorText:     true,
		MonitorImages:   true,
	}
}

// Deps are the optional collaborators. Any of them may be nil.
type Deps struct {
	Detector enrich.LanguageDetector
	Embedder enrich.EmbeddingProvider
	OCR      OCRQueue
	Sink     notify.Sink
}

// Mime targets that describe clipboard ownership rather than content.
var ignoredMimes = map[string]bool{
	"SAVE_TARGETS": true,
	"TARGETS":      true,
	"MULTIPLE":     true,
	"TIMESTAMP":    true,
}

const ignoredMimePrefix = "chromium/"

// Service is the clipboard history pipeline.
type Service struct {
	store Store
	gate  *security.Gate
	deps  Deps
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time

	ignored map[string]bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

func New(store Store, gate *security.Gate, deps Deps, cfg Config, log zerolog.Logger) *Service {
	if deps.Sink == nil {
		deps.Sink = notify.Discard{}
	}
	ignored := make(map[string]bool, len(cfg.IgnoreApps))
	for _, app := range cfg.IgnoreApps {
		ignored[strings.ToLower(strings.TrimSpace(app))] = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:    store,
		gate:     gate,
		deps:     deps,
		cfg:      cfg,
		log:      log.With().Str("component", "history").Logger(),
		now:      time.Now,
		ignored:  ignored,
		bgCtx:    ctx,
		bgCancel: cancel,
	}
}

// ProcessEvent runs one clipboard event through the pipeline and returns the
// stored item before any enrichment. Rejections satisfy IsRejection.
func (s *Service) ProcessEvent(ctx context.Context, ev Event) (*db.Item, error) {
	item, err := s.ingest(ctx, ev)
	if err != nil {
		ingestTotal.WithLabelValues(rejectionLabel(err)).Inc()
		if IsRejection(err) {
			s.log.Debug().Err(err).Str("source_app", ev.SourceApp).Int("bytes", len(ev.Data)).Msg("event rejected")
		}
		return nil, err
	}
	ingestTotal.WithLabelValues("stored").Inc()
	return item, nil
}

func (s *Service) ingest(ctx context.Context, ev Event) (*db.Item, error) {
	if len(ev.Data) == 0 || isIgnoredMime(ev.MimeType) {
		return nil, ErrEmptyOrInvalidInput
	}
	if s.ignored[strings.ToLower(ev.SourceApp)] {
		return nil, ErrIgnoredSource
	}

	classified := classify.Classify(ev.Data, ev.MimeType)
	contentType := classified
	if contentType == db.TypeImage {
		if !s.cfg.MonitorImages {
			return nil, ErrIgnoredSource
		}
	} else {
		if !s.cfg.MonitorText {
			return nil, ErrIgnoredSource
		}
		if len(bytes.TrimSpace(ev.Data)) == 0 {
			return nil, ErrEmptyOrInvalidInput
		}
		// Only the background detector may decide an item is code.
		if contentType == db.TypeCode {
			contentType = db.TypeText
		}
	}

	var text string
	if contentType != db.TypeImage && utf8.Valid(ev.Data) {
		text = string(ev.Data)
	}

	isPassword := false
	if contentType == db.TypeText && text != "" {
		isPassword = s.gate.IsPassword(text, ev.SourceApp, ev.WindowTitle)
	}
	if isPassword && s.cfg.PasswordPolicy == security.PolicyIgnore {
		return nil, ErrPasswordIgnored
	}

	hash := security.Hash(ev.Data)
	exists, err := s.store.ExistsByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("checking duplicate: %w", err)
	}
	if exists {
		return nil, ErrDuplicateContent
	}

	content := ev.Data
	encrypted := false
	if isPassword && s.cfg.PasswordPolicy == security.PolicyEncrypt {
		if content, err = s.gate.Encrypt(ev.Data); err != nil {
			return nil, fmt.Errorf("encrypting password: %w", err)
		}
		encrypted = true
	}

	mime := ev.MimeType
	if mime == "" {
		mime = "unknown"
	}
	item := &db.Item{
		Content:     content,
		ContentType: contentType,
		SourceApp:   ev.SourceApp,
		Timestamp:   s.now().UnixMilli(),
		IsPassword:  isPassword,
		IsEncrypted: encrypted,
		Hash:        hash,
		Metadata: map[string]string{
			db.MetaHash:         hash,
			db.MetaMimeType:     mime,
			db.MetaClassifiedAs: string(classified),
		},
	}
	if isPassword {
		item.ContentType = db.TypePassword
	}
	if ev.WindowTitle != "" {
		title := ev.WindowTitle
		item.WindowTitle = &title
	}

	if _, err := s.store.Add(ctx, item); err != nil {
		if errors.Is(err, db.ErrDuplicateHash) {
			// Lost a race with a concurrent capture of the same bytes.
			return nil, ErrDuplicateContent
		}
		return nil, fmt.Errorf("storing item: %w", err)
	}

	logEv := s.log.Debug().Int64("item_id", item.ID).Str("type", string(item.ContentType)).
		Str("source_app", item.SourceApp)
	if isPassword {
		logEv = logEv.Bool("encrypted", encrypted)
	}
	logEv.Msg("item stored")

	s.deps.Sink.Publish(notify.Event{Kind: notify.ItemCreated, ItemID: item.ID, Item: publicCopy(item)})

	if contentType == db.TypeText && !isPassword && text != "" {
		s.spawn("language", func(ctx context.Context) { s.detectLanguage(ctx, item.ID, text) })
	}
	if s.cfg.SemanticSearch && !isPassword && text != "" && enrich.EmbedderReady(s.deps.Embedder) {
		s.spawn("embedding", func(ctx context.Context) { s.embed(ctx, item.ID, text) })
	}
	if contentType == db.TypeImage && s.cfg.OCREnabled && s.deps.OCR != nil {
		if err := s.deps.OCR.Enqueue(item.ID, ev.Data); err != nil {
			s.log.Warn().Err(err).Int64("item_id", item.ID).Msg("OCR not scheduled")
		}
	}
	return item, nil
}

func isIgnoredMime(mime string) bool {
	return ignoredMimes[mime] || strings.HasPrefix(mime, ignoredMimePrefix)
}

// publicCopy strips secret payloads before an item leaves the service.
func publicCopy(it *db.Item) *db.Item {
	c := *it
	if c.IsPassword {
		c.Content = nil
	}
	return &c
}

// spawn runs fn in the background. Panics are logged, never propagated.
func (s *Service) spawn(kind string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				enrichTotal.WithLabelValues(kind, "panic").Inc()
				s.log.Error().Interface("panic", r).Str("kind", kind).Msg("background task panicked")
			}
		}()
		fn(s.bgCtx)
	}()
}

func (s *Service) detectLanguage(ctx context.Context, id int64, text string) {
	if !enrich.DetectorReady(s.deps.Detector) {
		return
	}
	det, err := s.deps.Detector.DetectLanguage(ctx, text)
	if err != nil {
		enrichTotal.WithLabelValues("language", "failed").Inc()
		s.log.Warn().Err(err).Int64("item_id", id).Msg("language detection failed")
		return
	}
	if det == nil || det.Language == "" {
		enrichTotal.WithLabelValues("language", "none").Inc()
		return
	}
	_, promoted, err := s.store.PromoteToCode(ctx, id, det.Language)
	if err != nil {
		enrichTotal.WithLabelValues("language", "failed").Inc()
		s.log.Warn().Err(err).Int64("item_id", id).Msg("promoting item to code failed")
		return
	}
	if !promoted {
		return
	}
	enrichTotal.WithLabelValues("language", "ok").Inc()
	s.log.Debug().Int64("item_id", id).Str("language", det.Language).
		Float64("confidence", det.Confidence).Msg("item promoted to code")
	s.deps.Sink.Publish(notify.Event{Kind: notify.LanguageDetected, ItemID: id, Language: det.Language, IsCode: true})
}

func (s *Service) embed(ctx context.Context, id int64, text string) {
	vec, err := s.deps.Embedder.Embed(ctx, text)
	if err != nil {
		enrichTotal.WithLabelValues("embedding", "failed").Inc()
		s.log.Warn().Err(err).Int64("item_id", id).Msg("embedding failed")
		return
	}
	if len(vec) == 0 {
		enrichTotal.WithLabelValues("embedding", "none").Inc()
		return
	}
	if _, err := s.store.UpdateEmbedding(ctx, id, vec); err != nil {
		enrichTotal.WithLabelValues("embedding", "failed").Inc()
		s.log.Warn().Err(err).Int64("item_id", id).Msg("storing embedding failed")
		return
	}
	enrichTotal.WithLabelValues("embedding", "ok").Inc()
}

// Wait blocks until every background task started so far has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels running background tasks and waits for them to return.
func (s *Service) Close() {
	s.bgCancel()
	s.wg.Wait()
}

// GetItem returns an item with its content decrypted.
func (s *Service) GetItem(ctx context.Context, id int64) (*db.Item, error) {
	item, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.IsEncrypted {
		plain, err := s.gate.Decrypt(item.Content)
		if err != nil {
			s.log.Error().Err(err).Int64("item_id", id).Msg("cannot decrypt item")
			return nil, fmt.Errorf("decrypting item %d: %w", id, err)
		}
		item.Content = plain
		item.IsEncrypted = false
	}
	return item, nil
}

// GetRecent lists items newest first. Encrypted content stays encrypted.
func (s *Service) GetRecent(ctx context.Context, limit int, f db.Filter) ([]db.Item, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListRecent(ctx, limit, f)
}

func (s *Service) DeleteItem(ctx context.Context, id int64) (bool, error) {
	return s.store.Delete(ctx, id)
}

// ClearAll deletes the whole history and returns how many items were removed.
func (s *Service) ClearAll(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteAll(ctx)
	if err == nil {
		s.log.Info().Int64("deleted", n).Msg("history cleared")
	}
	return n, err
}

// Count returns the number of stored items.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}
