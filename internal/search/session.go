package search

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is the cancellation cause of a query replaced by a newer one.
var ErrSuperseded = errors.New("search superseded by a newer query")

// Session serializes interactive search-as-you-type: starting a query
// cancels the one still in flight, so only the latest answer is delivered.
type Session struct {
	searcher Searcher

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	seq    uint64
}

// Searcher is anything a Session can front. *Engine implements it.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

func NewSession(s Searcher) *Session {
	return &Session{searcher: s}
}

// Search runs q, cancelling any previous query of this session. A query that
// loses the race returns ErrSuperseded.
func (s *Session) Search(ctx context.Context, q Query) ([]Result, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel(ErrSuperseded)
	}
	s.seq++
	seq := s.seq
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.seq == seq {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel(nil)
	}()

	results, err := s.searcher.Search(ctx, q)
	if cause := context.Cause(ctx); errors.Is(cause, ErrSuperseded) {
		return nil, ErrSuperseded
	}
	return results, err
}

// Cancel aborts the in-flight query, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel(ErrSuperseded)
		s.cancel = nil
	}
}
