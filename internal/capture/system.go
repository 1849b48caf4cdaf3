package capture

import (
	"context"
	"fmt"
	"sync"

	"golang.design/x/clipboard"

	"clipmind/internal/history"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init prepares the platform clipboard. It is safe to call repeatedly.
func Init() error {
	initOnce.Do(func() {
		if err := clipboard.Init(); err != nil {
			initErr = fmt.Errorf("clipboard unavailable: %w", err)
		}
	})
	return initErr
}

// SystemSource watches the desktop clipboard for text and PNG images.
type SystemSource struct {
	SourceApp string
	Text      bool
	Images    bool
}

func (s *SystemSource) Stream(ctx context.Context) (<-chan history.Event, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	out := make(chan history.Event, 16)
	var wg sync.WaitGroup
	watch := func(format clipboard.Format, mime string) {
		defer wg.Done()
		for data := range clipboard.Watch(ctx, format) {
			if len(data) == 0 {
				continue
			}
			ev := history.Event{Data: data, SourceApp: s.SourceApp, MimeType: mime}
			select {
			case out <- ev:
				capturedTotal.WithLabelValues("system", formatLabel(mime)).Inc()
			case <-ctx.Done():
				return
			}
		}
	}
	if s.Text {
		wg.Add(1)
		go watch(clipboard.FmtText, "text/plain")
	}
	if s.Images {
		wg.Add(1)
		go watch(clipboard.FmtImage, "image/png")
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// Copy places content back on the system clipboard. Images must be PNG.
func Copy(content []byte, image bool) error {
	if err := Init(); err != nil {
		return err
	}
	format := clipboard.FmtText
	if image {
		format = clipboard.FmtImage
	}
	clipboard.Write(format, content)
	return nil
}
