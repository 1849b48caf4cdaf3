// Package ocr runs the background OCR queue: many producers enqueue images,
// one consumer extracts their text in FIFO order and writes it back.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"clipmind/internal/db"
	"clipmind/internal/enrich"
	"clipmind/internal/notify"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clipmind_ocr_queue_depth",
		Help: "Images waiting for OCR",
	})
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipmind_ocr_tasks_total",
		Help: "OCR tasks processed, by result",
	}, []string{"result"})
	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clipmind_ocr_task_duration_seconds",
		Help:    "Time spent on one OCR task",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("ocr queue closed")

// Store is the slice of the storage engine the queue writes through.
type Store interface {
	UpdateOCRText(ctx context.Context, id int64, text string) (bool, error)
	Modify(ctx context.Context, id int64, fn func(it *db.Item) bool) (*db.Item, bool, error)
	UpdateEmbedding(ctx context.Context, id int64, vec []float32) (bool, error)
}

// Task is one enqueued image.
type Task struct {
	ItemID   int64
	Image    []byte
	Enqueued time.Time
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Pending   int    `json:"pending"`
	Busy      bool   `json:"busy"`
	Processed uint64 `json:"processed"`
	Empty     uint64 `json:"empty"`
	Failed    uint64 `json:"failed"`
}

// Config tunes the consumer loop.
type Config struct {
	// BackoffBase and BackoffMax bound the pause after a failed task.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Grace is how long Close waits for the in-flight task.
	Grace time.Duration
}

func (c *Config) defaults() {
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 5 * time.Second
	}
}

// Queue is the OCR work queue. The zero value is not usable; use New.
type Queue struct {
	store    Store
	engine   enrich.OCREngine
	detector enrich.LanguageDetector
	embedder enrich.EmbeddingProvider
	sink     notify.Sink
	cfg      Config
	log      zerolog.Logger

	mu      sync.Mutex
	pending []Task
	busy    bool
	closed  bool
	signal  chan struct{}

	processed atomic.Uint64
	empty     atomic.Uint64
	failed    atomic.Uint64

	cancel     context.CancelFunc
	hardCancel context.CancelFunc
	done       chan struct{}
}

// New builds a queue. detector, embedder and sink may be nil.
func New(store Store, engine enrich.OCREngine, detector enrich.LanguageDetector,
	embedder enrich.EmbeddingProvider, sink notify.Sink, cfg Config, log zerolog.Logger) *Queue {
	cfg.defaults()
	if sink == nil {
		sink = notify.Discard{}
	}
	return &Queue{
		store:    store,
		engine:   engine,
		detector: detector,
		embedder: embedder,
		sink:     sink,
		cfg:      cfg,
		log:      log.With().Str("component", "ocr").Logger(),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends a task and wakes the consumer. It never blocks.
func (q *Queue) Enqueue(itemID int64, img []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, Task{ItemID: itemID, Image: img, Enqueued: time.Now()})
	depth := len(q.pending)
	q.mu.Unlock()

	queueDepth.Set(float64(depth))
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Start launches the consumer goroutine. Cancelling ctx stops the loop after
// the in-flight task; Close additionally bounds how long that task may run.
func (q *Queue) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	taskCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	q.hardCancel = hardCancel
	q.done = make(chan struct{})

	go q.run(loopCtx, taskCtx)
	q.log.Info().Msg("OCR queue started")
}

// Close stops accepting work, lets the in-flight task finish within the
// grace period and abandons it afterwards. Tasks still pending are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	queueDepth.Set(0)

	if q.cancel == nil {
		return
	}
	q.cancel()
	select {
	case <-q.done:
	case <-time.After(q.cfg.Grace):
		q.log.Warn().Dur("grace", q.cfg.Grace).Msg("abandoning in-flight OCR task")
		q.hardCancel()
		<-q.done
	}
	q.hardCancel()
	q.log.Info().Int("dropped", dropped).Msg("OCR queue stopped")
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:   len(q.pending),
		Busy:      q.busy,
		Processed: q.processed.Load(),
		Empty:     q.empty.Load(),
		Failed:    q.failed.Load(),
	}
}

// WaitIdle blocks until nothing is pending or running, or ctx ends.
func (q *Queue) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s := q.Stats(); s.Pending == 0 && !s.Busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Task{}, false
	}
	t := q.pending[0]
	q.pending[0] = Task{}
	q.pending = q.pending[1:]
	q.busy = true
	queueDepth.Set(float64(len(q.pending)))
	return t, true
}

func (q *Queue) idle() {
	q.mu.Lock()
	q.busy = false
	q.mu.Unlock()
}

func (q *Queue) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(q.cfg.BackoffMax, retry.NewExponential(q.cfg.BackoffBase))
}

func (q *Queue) run(loopCtx, taskCtx context.Context) {
	defer close(q.done)
	backoff := q.newBackoff()

	for {
		if loopCtx.Err() != nil {
			return
		}
		task, ok := q.next()
		if !ok {
			select {
			case <-loopCtx.Done():
				return
			case <-q.signal:
				continue
			}
		}

		start := time.Now()
		err := q.safeProcess(taskCtx, task)
		q.idle()
		taskDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			backoff = q.newBackoff()
			continue
		}

		q.failed.Add(1)
		tasksTotal.WithLabelValues("failed").Inc()
		q.log.Warn().Err(err).Int64("item_id", task.ItemID).Msg("OCR task failed")

		// Pause the loop, not the task: the failed task is not requeued.
		wait, _ := backoff.Next()
		select {
		case <-loopCtx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (q *Queue) safeProcess(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return q.process(ctx, task)
}

func (q *Queue) process(ctx context.Context, task Task) error {
	if !enrich.OCRReady(q.engine) {
		return nil
	}
	text, err := q.engine.ExtractText(ctx, task.Image)
	if err != nil {
		return fmt.Errorf("extracting text: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		q.empty.Add(1)
		tasksTotal.WithLabelValues("empty").Inc()
		q.log.Debug().Int64("item_id", task.ItemID).Msg("no text in image")
		return nil
	}

	stored, err := q.store.UpdateOCRText(ctx, task.ItemID, text)
	if err != nil {
		return fmt.Errorf("storing OCR text: %w", err)
	}
	if !stored {
		// Deleted while queued.
		q.log.Debug().Int64("item_id", task.ItemID).Msg("item gone before OCR finished")
		return nil
	}
	q.processed.Add(1)
	tasksTotal.WithLabelValues("ok").Inc()

	language := q.detectLanguage(ctx, task.ItemID, text)
	q.sink.Publish(notify.Event{
		Kind:     notify.OcrCompleted,
		ItemID:   task.ItemID,
		Text:     text,
		IsCode:   language != "",
		Language: language,
	})

	q.embed(ctx, task.ItemID, text)
	return nil
}

// detectLanguage tags the item with the language of its OCR text. Images keep
// their Image type; a Text item would be promoted to Code. The OcrCompleted
// IsCode flag therefore describes the recognized text, not the item type.
func (q *Queue) detectLanguage(ctx context.Context, id int64, text string) string {
	if !enrich.DetectorReady(q.detector) {
		return ""
	}
	det, err := q.detector.DetectLanguage(ctx, text)
	if err != nil {
		q.log.Warn().Err(err).Int64("item_id", id).Msg("language detection failed")
		return ""
	}
	if det == nil {
		return ""
	}
	lang := det.Language
	_, _, err = q.store.Modify(ctx, id, func(it *db.Item) bool {
		switch it.ContentType {
		case db.TypeText:
			it.ContentType = db.TypeCode
		case db.TypeImage:
		default:
			return false
		}
		it.CodeLanguage = &lang
		if it.Metadata == nil {
			it.Metadata = map[string]string{}
		}
		it.Metadata[db.MetaLanguage] = lang
		return true
	})
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		q.log.Warn().Err(err).Int64("item_id", id).Msg("storing OCR language failed")
	}
	return lang
}

func (q *Queue) embed(ctx context.Context, id int64, text string) {
	if !enrich.EmbedderReady(q.embedder) {
		return
	}
	vec, err := q.embedder.Embed(ctx, text)
	if err != nil {
		q.log.Warn().Err(err).Int64("item_id", id).Msg("embedding OCR text failed")
		return
	}
	if len(vec) == 0 {
		return
	}
	if _, err := q.store.UpdateEmbedding(ctx, id, vec); err != nil {
		q.log.Warn().Err(err).Int64("item_id", id).Msg("storing OCR embedding failed")
	}
}
