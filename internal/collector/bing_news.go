package collector

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

const bingNewsBaseURL = "https://www.bing.com/news/search"

// BingNewsSource 抓取 Bing News 搜索结果页，RSS 源没有内容时作为兜底
type BingNewsSource struct {
	BaseURL string
	Timeout time.Duration
}

func NewBingNewsSource() *BingNewsSource {
	return &BingNewsSource{BaseURL: bingNewsBaseURL, Timeout: 10 * time.Second}
}

func (b *BingNewsSource) Name() string {
	return "bing_news"
}

func (b *BingNewsSource) Fetch(ctx context.Context, topic string, limit int) ([]RawEntry, error) {
	c := colly.NewCollector(colly.UserAgent(defaultUserAgent))

	timeout := b.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout || timeout <= 0 {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, &FetchError{Source: b.Name(), Err: context.DeadlineExceeded}
	}
	c.SetRequestTimeout(timeout)

	results := make([]RawEntry, 0, 16)
	c.OnHTML("div.news-card", func(e *colly.HTMLElement) {
		if limit > 0 && len(results) >= limit {
			return
		}

		title := strings.TrimSpace(e.Attr("data-title"))
		if title == "" {
			title = strings.TrimSpace(e.ChildText("a.title"))
		}
		link := e.Attr("data-url")
		if link == "" {
			link = e.ChildAttr("a.title", "href")
		}
		if title == "" || link == "" {
			return
		}

		results = append(results, RawEntry{
			Title:     title,
			Summary:   cardSnippet(e.DOM),
			URL:       e.Request.AbsoluteURL(link),
			Source:    cardSource(e.DOM, e.Attr("data-author")),
			Published: strings.TrimSpace(e.ChildAttr("span[aria-label]", "aria-label")),
		})
	})

	q := url.Values{}
	q.Set("q", topic)
	if err := c.Visit(b.BaseURL + "?" + q.Encode()); err != nil {
		return nil, &FetchError{Source: b.Name(), Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Source: b.Name(), Err: err}
	}
	return results, nil
}

// cardSnippet 取卡片摘要的纯文本
func cardSnippet(card *goquery.Selection) string {
	snippet := card.Find("div.snippet").First()
	if snippet.Length() == 0 {
		return ""
	}
	if t, ok := snippet.Attr("title"); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	return strings.Join(strings.Fields(snippet.Text()), " ")
}

func cardSource(card *goquery.Selection, fallback string) string {
	if s := strings.TrimSpace(card.Find("div.source a").First().Text()); s != "" {
		return s
	}
	if fallback != "" {
		return fallback
	}
	return "Bing News"
}
