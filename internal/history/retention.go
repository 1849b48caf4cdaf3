package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CleanupResult reports one retention pass.
type CleanupResult struct {
	Before int64 `json:"before"`
	// Deleted items are the oldest ones beyond MaxItems that are also older
	// than MaxAge.
	Deleted int64 `json:"deleted"`
	After   int64 `json:"after"`
	// ExpiredPasswords counts password items older than PasswordTimeout.
	// They are reported, not removed.
	ExpiredPasswords int64         `json:"expired_passwords"`
	Duration         time.Duration `json:"duration"`
}

// CleanupOldItems trims the history when it holds more than MaxItems. Only
// the overflow is eligible, oldest first, and only items older than MaxAge
// (MaxAge 0 disables the age guard). Items are never deleted just for age
// while the history is within MaxItems.
func (s *Service) CleanupOldItems(ctx context.Context) (*CleanupResult, error) {
	start := time.Now()
	res := &CleanupResult{}

	count, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting items: %w", err)
	}
	res.Before, res.After = count, count

	now := s.now()
	if limit := int64(s.cfg.MaxItems); limit > 0 && count > limit {
		var cutoff time.Time
		if s.cfg.MaxAge > 0 {
			cutoff = now.Add(-s.cfg.MaxAge)
		}
		deleted, err := s.store.DeleteOldest(ctx, count-limit, cutoff)
		if err != nil {
			return nil, err
		}
		res.Deleted = deleted
		if res.After, err = s.store.Count(ctx); err != nil {
			return nil, fmt.Errorf("counting items: %w", err)
		}
	}

	if s.cfg.PasswordTimeout > 0 {
		n, err := s.store.CountPasswordsOlderThan(ctx, now.Add(-s.cfg.PasswordTimeout))
		if err != nil {
			return nil, fmt.Errorf("counting expired passwords: %w", err)
		}
		res.ExpiredPasswords = n
	}

	res.Duration = time.Since(start)
	cleanupRunsTotal.Inc()
	cleanupDeletedTotal.Add(float64(res.Deleted))
	cleanupDuration.Observe(res.Duration.Seconds())
	return res, nil
}

// RetentionWorker runs CleanupOldItems on an interval.
type RetentionWorker struct {
	svc      *Service
	interval time.Duration
	log      zerolog.Logger

	mu     sync.Mutex // serialises RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRetentionWorker(svc *Service, interval time.Duration, log zerolog.Logger) *RetentionWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionWorker{
		svc:      svc,
		interval: interval,
		log:      log.With().Str("component", "retention").Logger(),
	}
}

// Start runs a pass immediately and then every interval until Stop or ctx ends.
func (w *RetentionWorker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx)
	w.log.Info().Dur("interval", w.interval).Msg("retention worker started")
}

// Stop cancels the loop and waits for the current pass to finish.
func (w *RetentionWorker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.log.Info().Msg("retention worker stopped")
}

func (w *RetentionWorker) run(ctx context.Context) {
	defer close(w.done)
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one cleanup pass. Errors are logged and returned.
func (w *RetentionWorker) RunOnce(ctx context.Context) (*CleanupResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	res, err := w.svc.CleanupOldItems(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("retention cleanup failed")
		return nil, err
	}
	w.log.Info().
		Int64("deleted", res.Deleted).
		Int64("remaining", res.After).
		Int64("expired_passwords", res.ExpiredPasswords).
		Dur("duration", res.Duration).
		Msg("retention cleanup finished")
	return res, nil
}
