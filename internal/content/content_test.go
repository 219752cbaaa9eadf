package content_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/TopicDigest/internal/collector"
	"github.com/LJTian/TopicDigest/internal/content"
	"github.com/LJTian/TopicDigest/internal/logging"
	"github.com/LJTian/TopicDigest/internal/storage/storagetest"
)

type fakeSource struct {
	entries []collector.RawEntry
	err     error
	calls   int
	gotLim  int
	block   bool
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, topic string, limit int) ([]collector.RawEntry, error) {
	f.calls++
	f.gotLim = limit
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func entries(n int) []collector.RawEntry {
	out := make([]collector.RawEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, collector.RawEntry{
			Title:   fmt.Sprintf("news %d", i),
			Summary: fmt.Sprintf("<p>summary %d</p>", i),
			URL:     fmt.Sprintf("https://example.com/%d", i),
			Source:  "fake",
		})
	}
	return out
}

var fixedNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func newFetcher(t *testing.T, src collector.Source) *content.Fetcher {
	t.Helper()
	store := storagetest.New(t)
	return content.NewFetcher(src, store, content.Options{
		Now:    func() time.Time { return fixedNow },
		Logger: logging.Discard(),
	})
}

func TestCollectRespectsLimitAndOrder(t *testing.T) {
	src := &fakeSource{entries: entries(8)}
	f := newFetcher(t, src)

	items := f.Collect(context.Background(), "go", 3)
	require.Len(t, items, 3)
	for i, it := range items {
		assert.Equal(t, fmt.Sprintf("https://example.com/%d", i), it.URL)
		assert.Equal(t, "go", it.Topic)
		assert.Equal(t, fmt.Sprintf("summary %d", i), it.Summary)
		assert.True(t, it.PublishedAt.Equal(fixedNow))
	}
	assert.Equal(t, 3, src.gotLim)
}

func TestCollectClampsLimit(t *testing.T) {
	src := &fakeSource{entries: entries(2)}
	f := newFetcher(t, src)

	f.Collect(context.Background(), "go", 0)
	assert.Equal(t, content.DefaultLimit, src.gotLim)

	f.Collect(context.Background(), "go", 1000)
	assert.Equal(t, content.MaxLimit, src.gotLim)
}

func TestCollectAbsorbsSourceFailure(t *testing.T) {
	src := &fakeSource{err: &collector.FetchError{Source: "fake", Err: errors.New("boom")}}
	f := newFetcher(t, src)

	items := f.Collect(context.Background(), "go", 5)
	assert.Empty(t, items)
	assert.Equal(t, 1, src.calls)
}

func TestCollectTimeoutYieldsEmpty(t *testing.T) {
	src := &fakeSource{block: true}
	store := storagetest.New(t)
	f := content.NewFetcher(src, store, content.Options{
		FetchTimeout: 20 * time.Millisecond,
		Logger:       logging.Discard(),
	})

	start := time.Now()
	items := f.Collect(context.Background(), "go", 5)
	assert.Empty(t, items)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPersistCountsOnlyNewPairs(t *testing.T) {
	f := newFetcher(t, &fakeSource{entries: entries(5)})
	ctx := context.Background()

	first := f.Collect(ctx, "go", 3)
	n, err := f.Persist(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// N=5, M=3 已存在
	all := f.Collect(ctx, "go", 5)
	n, err = f.Persist(ctx, all)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.Persist(ctx, all)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// 同一 URL 换个主题是新的一条
	other := f.Collect(ctx, "rust", 1)
	n, err = f.Persist(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPersistEmpty(t *testing.T) {
	f := newFetcher(t, &fakeSource{})
	n, err := f.Persist(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPersistFailureIsPersistenceError(t *testing.T) {
	store := storagetest.New(t)
	f := content.NewFetcher(&fakeSource{entries: entries(2)}, store, content.Options{Logger: logging.Discard()})
	items := f.Collect(context.Background(), "go", 2)

	sqlDB, err := store.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	n, err := f.Persist(context.Background(), items)
	assert.Zero(t, n)
	var pe *content.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "news batch", pe.Op)
}

func TestRecentReturnsWindow(t *testing.T) {
	f := newFetcher(t, &fakeSource{entries: entries(4)})
	ctx := context.Background()

	_, err := f.Persist(ctx, f.Collect(ctx, "go", 4))
	require.NoError(t, err)

	got, err := f.Recent(ctx, "go", fixedNow.Add(-time.Hour), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = f.Recent(ctx, "go", fixedNow.Add(time.Hour), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
