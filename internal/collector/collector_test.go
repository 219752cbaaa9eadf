package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const googleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>"AI" - Google News</title>
  <link>https://news.google.com</link>
  <item>
    <title>First headline - Example Daily</title>
    <link>https://news.example.com/a</link>
    <pubDate>Mon, 05 Oct 2026 08:00:00 GMT</pubDate>
    <description>&lt;a href="https://news.example.com/a"&gt;First headline&lt;/a&gt;</description>
  </item>
  <item>
    <title>Second headline</title>
    <link>https://news.example.com/b</link>
    <pubDate>not a date</pubDate>
    <description>plain summary</description>
  </item>
  <item>
    <title>Third headline</title>
    <link>https://news.example.com/c</link>
  </item>
</channel>
</rss>`

func TestGoogleNewsSourceFetch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, googleRSS)
	}))
	defer srv.Close()

	src := NewGoogleNewsSource(srv.URL+"/rss/search", "zh-TW", "TW")
	entries, err := src.Fetch(context.Background(), "AI 人工智慧", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Contains(t, gotQuery, "hl=zh-TW")
	assert.Contains(t, gotQuery, "ceid=TW%3Azh-Hant")
	assert.Contains(t, gotQuery, "q=AI+%E4%BA%BA")

	assert.Equal(t, "First headline - Example Daily", entries[0].Title)
	assert.Equal(t, "https://news.example.com/a", entries[0].URL)
	assert.Equal(t, "Google News", entries[0].Source)
	require.NotNil(t, entries[0].PublishedAt)
	assert.Equal(t, 2026, entries[0].PublishedAt.Year())

	// 无法解析的日期保留原文，交给 processor 兜底
	assert.Nil(t, entries[1].PublishedAt)
	assert.Equal(t, "not a date", entries[1].Published)
}

func TestGoogleNewsSourceBadFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>definitely not a feed")
	}))
	defer srv.Close()

	_, err := NewGoogleNewsSource(srv.URL, "en", "US").Fetch(context.Background(), "go", 5)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "google_news", fe.Source)
}

func TestHackerNewsSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search_by_date", r.URL.Path)
		assert.Equal(t, "golang", r.URL.Query().Get("query"))
		assert.Equal(t, "3", r.URL.Query().Get("hitsPerPage"))
		fmt.Fprint(w, `{"hits":[
			{"objectID":"1","title":"Go 1.30 released","url":"https://go.dev/blog","author":"gopher","points":10,"num_comments":2,"created_at_i":1760000000},
			{"objectID":"2","title":"Ask HN: Go?","story_text":"<p>thoughts</p>","created_at_i":1760000100},
			{"objectID":"3","title":""}
		]}`)
	}))
	defer srv.Close()

	src := NewHackerNewsSource()
	src.BaseURL = srv.URL
	entries, err := src.Fetch(context.Background(), "golang", 3)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "https://go.dev/blog", entries[0].URL)
	assert.Equal(t, "10 points · 2 comments · by gopher", entries[0].Summary)
	require.NotNil(t, entries[0].PublishedAt)
	assert.Equal(t, int64(1760000000), entries[0].PublishedAt.Unix())

	assert.Equal(t, "https://news.ycombinator.com/item?id=2", entries[1].URL)
	assert.Equal(t, "<p>thoughts</p>", entries[1].Summary)
}

func TestHackerNewsSourceStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewHackerNewsSource()
	src.BaseURL = srv.URL
	_, err := src.Fetch(context.Background(), "golang", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}

const bingHTML = `<html><body>
<div class="news-card" data-title="Card one" data-url="https://news.example.com/1" data-author="Example Post">
  <a class="title" href="https://news.example.com/1">Card one</a>
  <div class="snippet">  First   card
    snippet </div>
  <span aria-label="2 hours ago">2h</span>
</div>
<div class="news-card">
  <a class="title" href="/relative/2">Card two</a>
  <div class="source"><a>Wire Service</a></div>
</div>
<div class="news-card" data-title="Card three" data-url="https://news.example.com/3"></div>
<div class="news-card"><span>no title</span></div>
</body></html>`

func TestBingNewsSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rust lang", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, bingHTML)
	}))
	defer srv.Close()

	src := NewBingNewsSource()
	src.BaseURL = srv.URL + "/news/search"
	entries, err := src.Fetch(context.Background(), "rust lang", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Card one", entries[0].Title)
	assert.Equal(t, "First card snippet", entries[0].Summary)
	assert.Equal(t, "Example Post", entries[0].Source)
	assert.Equal(t, "2 hours ago", entries[0].Published)

	assert.Equal(t, srv.URL+"/relative/2", entries[1].URL)
	assert.Equal(t, "Wire Service", entries[1].Source)
}

type fakeSource struct {
	name    string
	entries []RawEntry
	err     error
	calls   int
	gotWant int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(_ context.Context, _ string, limit int) ([]RawEntry, error) {
	f.calls++
	f.gotWant = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func entries(urls ...string) []RawEntry {
	out := make([]RawEntry, 0, len(urls))
	for _, u := range urls {
		out = append(out, RawEntry{Title: u, URL: u})
	}
	return out
}

func TestChainFillsFromFallbackSources(t *testing.T) {
	first := &fakeSource{name: "first", entries: entries("a", "b")}
	second := &fakeSource{name: "second", err: errors.New("down")}
	third := &fakeSource{name: "third", entries: entries("b", "c", "d", "e")}

	chain := NewChain(nil, first, second, third)
	got, err := chain.Fetch(context.Background(), "topic", 4)
	require.NoError(t, err)

	urls := make([]string, 0, len(got))
	for _, e := range got {
		urls = append(urls, e.URL)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, urls)
	assert.Equal(t, 4, third.gotWant)
	assert.Equal(t, "chain(first,second,third)", chain.Name())
}

func TestChainStopsWhenSatisfied(t *testing.T) {
	first := &fakeSource{name: "first", entries: entries("a", "b", "c")}
	second := &fakeSource{name: "second", entries: entries("x")}

	got, err := NewChain(nil, first, second).Fetch(context.Background(), "topic", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Zero(t, second.calls)
}

func TestChainAllFailed(t *testing.T) {
	chain := NewChain(nil,
		&fakeSource{name: "a", err: errors.New("a down")},
		&fakeSource{name: "b", err: errors.New("b down")},
	)
	_, err := chain.Fetch(context.Background(), "topic", 3)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "a down")
	assert.Contains(t, err.Error(), "b down")
}

func TestChainEmptyIsNotAnError(t *testing.T) {
	got, err := NewChain(nil, &fakeSource{name: "a"}).Fetch(context.Background(), "topic", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBuildSources(t *testing.T) {
	sources, unknown := BuildSources([]string{"google", "hn", "bing", "yahoo"}, "https://example.com/rss", "en", "US")
	require.Len(t, sources, 3)
	assert.Equal(t, "google_news", sources[0].Name())
	assert.Equal(t, "hackernews", sources[1].Name())
	assert.Equal(t, "bing_news", sources[2].Name())
	assert.Equal(t, []string{"yahoo"}, unknown)
}

func TestBingNewsSourceExpiredContext(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := NewBingNewsSource().Fetch(ctx, "x", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
