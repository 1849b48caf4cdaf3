package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipmind/internal/db"
	"clipmind/internal/enrich"
	"clipmind/internal/notify"
)

// fakeEngine returns canned text per image payload.
type fakeEngine struct {
	mu    sync.Mutex
	texts map[string]string
	errs  map[string]error
	seen  []string
	block chan struct{}
	panic bool
}

func (f *fakeEngine) Available() bool { return true }

func (f *fakeEngine) ExtractText(ctx context.Context, img []byte) (string, error) {
	f.mu.Lock()
	f.seen = append(f.seen, string(img))
	block, shouldPanic := f.block, f.panic
	f.mu.Unlock()

	if shouldPanic {
		panic("engine crashed")
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[string(img)]; err != nil {
		return "", err
	}
	return f.texts[string(img)], nil
}

func (f *fakeEngine) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

type fakeDetector struct{ lang string }

func (f fakeDetector) Available() bool { return true }
func (f fakeDetector) DetectLanguage(context.Context, string) (*enrich.Detection, error) {
	if f.lang == "" {
		return nil, nil
	}
	return &enrich.Detection{Language: f.lang, Confidence: 0.9}, nil
}

func newTestStore(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.OpenDB(filepath.Join(t.TempDir(), "ocr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func addImage(t *testing.T, d *db.DB, payload []byte) *db.Item {
	t.Helper()
	it := &db.Item{
		Content:     payload,
		ContentType: db.TypeImage,
		SourceApp:   "screenshot",
		Hash:        "img-" + string(payload[len(payload)-4:]),
	}
	_, err := d.Add(context.Background(), it)
	require.NoError(t, err)
	return it
}

func blankPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	for x := 0; x < 50; x++ {
		for y := 0; y < 50; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	q.Start(context.Background())
	t.Cleanup(q.Close)
}

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))
}

func TestQueue_EmptyTextLeavesItemUntouched(t *testing.T) {
	d := newTestStore(t)
	payload := blankPNG(t)
	it := addImage(t, d, payload)

	bus := notify.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	q := New(d, &fakeEngine{texts: map[string]string{}}, fakeDetector{lang: "go"}, nil, bus, Config{}, zerolog.Nop())
	startQueue(t, q)
	require.NoError(t, q.Enqueue(it.ID, payload))
	waitIdle(t, q)

	got, err := d.Get(context.Background(), it.ID)
	require.NoError(t, err)
	assert.Nil(t, got.OCRText)
	assert.Nil(t, got.CodeLanguage)
	assert.Equal(t, db.TypeImage, got.ContentType)
	assert.Equal(t, uint64(1), q.Stats().Empty)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestQueue_StoresTextAndNotifies(t *testing.T) {
	d := newTestStore(t)
	payload := []byte("\x89PNGimage-one")
	it := addImage(t, d, payload)

	bus := notify.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	engine := &fakeEngine{texts: map[string]string{string(payload): "  func main() {}  "}}
	q := New(d, engine, fakeDetector{lang: "go"}, enrich.NewHashEmbedder(16), bus, Config{}, zerolog.Nop())
	startQueue(t, q)
	require.NoError(t, q.Enqueue(it.ID, payload))
	waitIdle(t, q)

	got, err := d.Get(context.Background(), it.ID)
	require.NoError(t, err)
	require.NotNil(t, got.OCRText)
	assert.Equal(t, "func main() {}", *got.OCRText)
	assert.Equal(t, db.TypeImage, got.ContentType)
	require.NotNil(t, got.CodeLanguage)
	assert.Equal(t, "go", *got.CodeLanguage)
	assert.Len(t, got.Embedding, 16)

	ev := <-events
	assert.Equal(t, notify.OcrCompleted, ev.Kind)
	assert.Equal(t, it.ID, ev.ItemID)
	assert.True(t, ev.IsCode)
	assert.Equal(t, "go", ev.Language)
	assert.Equal(t, uint64(1), q.Stats().Processed)

	matches, err := d.SearchFTS(context.Background(), "main", 10, db.Filter{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, it.ID, matches[0].Item.ID)
}

func TestQueue_FailureDoesNotStopLoop(t *testing.T) {
	d := newTestStore(t)
	bad := []byte("\x89PNGbad-0001")
	good := []byte("\x89PNGgood-002")
	badItem := addImage(t, d, bad)
	goodItem := addImage(t, d, good)

	engine := &fakeEngine{
		texts: map[string]string{string(good): "receipt total"},
		errs:  map[string]error{string(bad): errors.New("tesseract exploded")},
	}
	q := New(d, engine, nil, nil, nil, Config{BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond}, zerolog.Nop())
	startQueue(t, q)
	require.NoError(t, q.Enqueue(badItem.ID, bad))
	require.NoError(t, q.Enqueue(goodItem.ID, good))

	require.Eventually(t, func() bool {
		s := q.Stats()
		return s.Failed == 1 && s.Processed == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{string(bad), string(good)}, engine.order())
	got, err := d.Get(context.Background(), goodItem.ID)
	require.NoError(t, err)
	require.NotNil(t, got.OCRText)
	assert.Equal(t, "receipt total", *got.OCRText)
}

func TestQueue_RecoversFromPanic(t *testing.T) {
	d := newTestStore(t)
	payload := []byte("\x89PNGboom-001")
	it := addImage(t, d, payload)

	q := New(d, &fakeEngine{panic: true}, nil, nil, nil, Config{BackoffBase: time.Millisecond}, zerolog.Nop())
	startQueue(t, q)
	require.NoError(t, q.Enqueue(it.ID, payload))

	require.Eventually(t, func() bool { return q.Stats().Failed == 1 }, 5*time.Second, 10*time.Millisecond)
	waitIdle(t, q)
}

func TestQueue_DeletedItemIsSkipped(t *testing.T) {
	d := newTestStore(t)
	payload := []byte("\x89PNGgone-001")
	it := addImage(t, d, payload)
	_, err := d.Delete(context.Background(), it.ID)
	require.NoError(t, err)

	q := New(d, &fakeEngine{texts: map[string]string{string(payload): "hello"}}, nil, nil, nil, Config{}, zerolog.Nop())
	startQueue(t, q)
	require.NoError(t, q.Enqueue(it.ID, payload))
	waitIdle(t, q)

	s := q.Stats()
	assert.Equal(t, uint64(0), s.Processed)
	assert.Equal(t, uint64(0), s.Failed)
}

func TestQueue_CloseAbandonsInFlightAfterGrace(t *testing.T) {
	d := newTestStore(t)
	payload := []byte("\x89PNGslow-001")
	it := addImage(t, d, payload)

	engine := &fakeEngine{block: make(chan struct{})}
	q := New(d, engine, nil, nil, nil, Config{Grace: 50 * time.Millisecond}, zerolog.Nop())
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(it.ID, payload))
	require.Eventually(t, func() bool { return q.Stats().Busy }, 5*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.ErrorIs(t, q.Enqueue(it.ID, payload), ErrClosed)
}

func TestQueue_CloseWithoutStart(t *testing.T) {
	q := New(nil, &fakeEngine{}, nil, nil, nil, Config{}, zerolog.Nop())
	require.NoError(t, q.Enqueue(1, []byte("x")))
	q.Close()
	assert.Equal(t, 0, q.Stats().Pending)
	assert.ErrorIs(t, q.Enqueue(1, []byte("x")), ErrClosed)
}
