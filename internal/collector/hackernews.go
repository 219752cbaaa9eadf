package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	hnSearchBaseURL    = "https://hn.algolia.com/api/v1"
	hnMaxHitsPerPage   = 50
	hnMaxResponseBytes = 1 << 20 // 1MB
	hnClientTimeout    = 10 * time.Second
)

// HackerNewsSource 通过 Algolia 提供的 HN 搜索 API 按主题检索最新故事
type HackerNewsSource struct {
	BaseURL string
	client  *http.Client
}

func NewHackerNewsSource() *HackerNewsSource {
	return &HackerNewsSource{
		BaseURL: hnSearchBaseURL,
		client:  &http.Client{Timeout: hnClientTimeout},
	}
}

func (h *HackerNewsSource) Name() string {
	return "hackernews"
}

type hnSearchResponse struct {
	Hits []hnHit `json:"hits"`
}

type hnHit struct {
	ObjectID    string `json:"objectID"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	StoryText   string `json:"story_text"`
	Author      string `json:"author"`
	Points      int    `json:"points"`
	NumComments int    `json:"num_comments"`
	CreatedAtI  int64  `json:"created_at_i"`
}

func (h *HackerNewsSource) Fetch(ctx context.Context, topic string, limit int) ([]RawEntry, error) {
	if limit <= 0 || limit > hnMaxHitsPerPage {
		limit = hnMaxHitsPerPage
	}

	q := url.Values{}
	q.Set("query", topic)
	q.Set("tags", "story")
	q.Set("hitsPerPage", strconv.Itoa(limit))
	endpoint := h.BaseURL + "/search_by_date?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fetchErr(h.Name(), "new request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fetchErr(h.Name(), "search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fetchErr(h.Name(), "unexpected status %d", resp.StatusCode)
	}

	var body hnSearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, hnMaxResponseBytes)).Decode(&body); err != nil {
		return nil, fetchErr(h.Name(), "decode: %w", err)
	}

	results := make([]RawEntry, 0, len(body.Hits))
	for _, hit := range body.Hits {
		if hit.Title == "" {
			continue
		}
		itemURL := hit.URL
		if itemURL == "" {
			itemURL = "https://news.ycombinator.com/item?id=" + hit.ObjectID
		}
		summary := hit.StoryText
		if summary == "" {
			summary = fmt.Sprintf("%d points · %d comments · by %s", hit.Points, hit.NumComments, hit.Author)
		}

		entry := RawEntry{
			Title:   hit.Title,
			Summary: summary,
			URL:     itemURL,
			Source:  "Hacker News",
		}
		if hit.CreatedAtI > 0 {
			t := time.Unix(hit.CreatedAtI, 0).UTC()
			entry.PublishedAt = &t
		}
		results = append(results, entry)
	}
	return results, nil
}
