// Package capture turns clipboard activity into history events.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"clipmind/internal/db"
	"clipmind/internal/history"
)

var capturedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clipmind_capture_events_total",
	Help: "Clipboard events delivered by capture sources",
}, []string{"source", "format"})

// Source streams clipboard events until ctx is done or the source runs dry.
// The returned channel is closed when the source stops.
type Source interface {
	Stream(ctx context.Context) (<-chan history.Event, error)
}

// Processor consumes one event at a time. *history.Service implements it.
type Processor interface {
	ProcessEvent(ctx context.Context, ev history.Event) (*db.Item, error)
}

// DefaultMaxBytes caps a single payload read from a stream.
const DefaultMaxBytes = 32 << 20

// ReaderSource delivers the whole of R as a single event.
type ReaderSource struct {
	R           io.Reader
	SourceApp   string
	WindowTitle string
	// MimeType is sniffed from the payload when empty.
	MimeType string
	MaxBytes int64
}

func (r *ReaderSource) Stream(ctx context.Context) (<-chan history.Event, error) {
	limit := r.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r.R, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("payload exceeds %d bytes", limit)
	}

	mime := r.MimeType
	if mime == "" && len(data) > 0 {
		mime = sniffMime(data)
	}
	ev := history.Event{Data: data, SourceApp: r.SourceApp, WindowTitle: r.WindowTitle, MimeType: mime}

	out := make(chan history.Event, 1)
	out <- ev
	close(out)
	capturedTotal.WithLabelValues("reader", formatLabel(mime)).Inc()
	return out, nil
}

// sniffMime keeps only the media type, e.g. "text/plain".
func sniffMime(data []byte) string {
	ct := http.DetectContentType(data)
	media, _, _ := strings.Cut(ct, ";")
	return media
}

func formatLabel(mime string) string {
	if strings.HasPrefix(mime, "image/") {
		return "image"
	}
	return "text"
}

// PumpStats summarises a Pump run.
type PumpStats struct {
	Stored   int
	Rejected int
	Failed   int
}

// Pump feeds every event from src to p, one at a time, until the stream
// closes or ctx is cancelled. Per-event failures are logged and counted;
// only a failure to start the stream is returned.
func Pump(ctx context.Context, src Source, p Processor, log zerolog.Logger) (PumpStats, error) {
	var stats PumpStats
	events, err := src.Stream(ctx)
	if err != nil {
		return stats, err
	}
	for {
		select {
		case <-ctx.Done():
			return stats, nil
		case ev, ok := <-events:
			if !ok {
				return stats, nil
			}
			item, err := p.ProcessEvent(ctx, ev)
			switch {
			case err == nil:
				stats.Stored++
				log.Debug().Int64("id", item.ID).Str("type", item.ContentType.String()).Msg("captured")
			case history.IsRejection(err):
				stats.Rejected++
				log.Debug().Err(err).Str("source_app", ev.SourceApp).Msg("event rejected")
			case errors.Is(err, context.Canceled):
				return stats, nil
			default:
				stats.Failed++
				log.Warn().Err(err).Msg("processing clipboard event")
			}
		}
	}
}
