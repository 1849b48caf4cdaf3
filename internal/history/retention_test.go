package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipmind/internal/db"
)

var retentionNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// seed stores old items aged 40 days and fresh ones aged one hour. Old items
// are inserted first so their ids are lower.
func seed(t *testing.T, store *db.DB, old, fresh int) {
	t.Helper()
	ctx := context.Background()
	add := func(i int, ts time.Time, password bool) {
		it := &db.Item{
			Content:     []byte(fmt.Sprintf("item %d", i)),
			ContentType: db.TypeText,
			SourceApp:   "seed",
			Timestamp:   ts.UnixMilli(),
			Hash:        fmt.Sprintf("seed-%d", i),
			IsPassword:  password,
		}
		_, err := store.Add(ctx, it)
		require.NoError(t, err)
	}
	for i := 0; i < old; i++ {
		add(i, retentionNow.Add(-40*24*time.Hour).Add(time.Duration(i)*time.Second), i%10 == 0)
	}
	for i := 0; i < fresh; i++ {
		add(old+i, retentionNow.Add(-time.Hour).Add(time.Duration(i)*time.Second), false)
	}
}

func retentionService(t *testing.T, maxItems int, maxAge time.Duration) (*Service, *db.DB) {
	cfg := DefaultConfig()
	cfg.MaxItems = maxItems
	cfg.MaxAge = maxAge
	svc, store := newTestService(t, cfg, Deps{})
	svc.now = func() time.Time { return retentionNow }
	return svc, store
}

func TestCleanup_TrimsOverflowOfOldItems(t *testing.T) {
	svc, store := retentionService(t, 100, 30*24*time.Hour)
	seed(t, store, 120, 30)

	res, err := svc.CleanupOldItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.Before)
	assert.Equal(t, int64(50), res.Deleted)
	assert.Equal(t, int64(100), res.After)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.After, n)

	// The survivors are the newest 100.
	recent, err := store.ListRecent(context.Background(), 200, db.Filter{})
	require.NoError(t, err)
	require.Len(t, recent, 100)
	oldest := recent[len(recent)-1]
	assert.Equal(t, "seed-50", oldest.Hash)
}

func TestCleanup_NeverDeletesItemsNewerThanCutoff(t *testing.T) {
	svc, store := retentionService(t, 100, 30*24*time.Hour)
	seed(t, store, 20, 130)

	res, err := svc.CleanupOldItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.Deleted)
	assert.Equal(t, int64(130), res.After)

	n, err := store.CountOlderThan(context.Background(), retentionNow.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanup_WithinLimitDeletesNothing(t *testing.T) {
	svc, store := retentionService(t, 100, 30*24*time.Hour)
	seed(t, store, 60, 10)

	res, err := svc.CleanupOldItems(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, int64(70), res.After)
}

func TestCleanup_ZeroMaxAgeIsPureCountTrim(t *testing.T) {
	svc, store := retentionService(t, 100, 0)
	seed(t, store, 0, 150)

	res, err := svc.CleanupOldItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Deleted)
	assert.Equal(t, int64(100), res.After)
}

func TestCleanup_ReportsExpiredPasswords(t *testing.T) {
	svc, store := retentionService(t, 1000, 30*24*time.Hour)
	seed(t, store, 30, 5)

	res, err := svc.CleanupOldItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.ExpiredPasswords)
	assert.Zero(t, res.Deleted)
}

func TestRetentionWorker_RunsOnStart(t *testing.T) {
	svc, store := retentionService(t, 10, 0)
	seed(t, store, 0, 15)

	w := NewRetentionWorker(svc, time.Hour, zerolog.Nop())
	w.Start(context.Background())
	require.Eventually(t, func() bool {
		n, err := store.Count(context.Background())
		return err == nil && n == 10
	}, 5*time.Second, 10*time.Millisecond)
	w.Stop()

	res, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
}
