package collector

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const googleNewsClientTimeout = 15 * time.Second

// GoogleNewsSource 通过 Google News RSS 搜索接口按主题抓取新闻
type GoogleNewsSource struct {
	BaseURL string
	Lang    string
	Region  string

	parser *gofeed.Parser
}

func NewGoogleNewsSource(baseURL, lang, region string) *GoogleNewsSource {
	p := gofeed.NewParser()
	p.UserAgent = defaultUserAgent
	p.Client = &http.Client{Timeout: googleNewsClientTimeout}
	return &GoogleNewsSource{BaseURL: baseURL, Lang: lang, Region: region, parser: p}
}

func (g *GoogleNewsSource) Name() string {
	return "google_news"
}

func (g *GoogleNewsSource) searchURL(topic string) string {
	q := url.Values{}
	q.Set("q", topic)
	if g.Lang != "" {
		q.Set("hl", g.Lang)
	}
	if g.Region != "" {
		q.Set("gl", g.Region)
		q.Set("ceid", g.Region+":"+ceidLang(g.Lang))
	}
	sep := "?"
	if strings.Contains(g.BaseURL, "?") {
		sep = "&"
	}
	return g.BaseURL + sep + q.Encode()
}

// ceidLang Google News 对中文使用文字体系而非地区
func ceidLang(lang string) string {
	switch strings.ToLower(lang) {
	case "zh-tw", "zh-hk":
		return "zh-Hant"
	case "zh-cn":
		return "zh-Hans"
	}
	return lang
}

func (g *GoogleNewsSource) Fetch(ctx context.Context, topic string, limit int) ([]RawEntry, error) {
	feed, err := g.parser.ParseURLWithContext(g.searchURL(topic), ctx)
	if err != nil {
		return nil, &FetchError{Source: g.Name(), Err: err}
	}

	items := feed.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	out := make([]RawEntry, 0, len(items))
	for _, it := range items {
		summary := it.Description
		if summary == "" {
			summary = it.Content
		}
		entry := RawEntry{
			Title:     it.Title,
			Summary:   summary,
			URL:       it.Link,
			Source:    "Google News",
			Published: it.Published,
		}
		if it.PublishedParsed != nil {
			entry.PublishedAt = it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			entry.PublishedAt = it.UpdatedParsed
		}
		out = append(out, entry)
	}
	return out, nil
}
