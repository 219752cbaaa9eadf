package processor

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/LJTian/TopicDigest/internal/collector"
	"github.com/LJTian/TopicDigest/internal/storage"
)

// SummaryMaxRunes 摘要最多保留的字符数（按 rune 计）
const SummaryMaxRunes = 500

// 数据源常见的日期格式；都解析失败时使用入库时间
var publishedLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// SimpleProcessor 做最基础的数据清洗与 ID 生成
type SimpleProcessor struct {
	policy *bluemonday.Policy
}

func NewSimpleProcessor() *SimpleProcessor {
	return &SimpleProcessor{policy: bluemonday.StrictPolicy()}
}

// Process 把原始条目转成某主题下的 NewsItem：丢弃缺少标题或链接的条目，
// 同批内按 URL 去重，保持原始顺序。now 作为入库时间和缺省发布时间。
func (p *SimpleProcessor) Process(topic string, entries []collector.RawEntry, now time.Time) []storage.NewsItem {
	out := make([]storage.NewsItem, 0, len(entries))
	seen := make(map[string]struct{})

	for _, e := range entries {
		url := strings.TrimSpace(e.URL)
		title := p.plainText(e.Title)
		if url == "" || title == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}

		out = append(out, storage.NewsItem{
			ID:          hashKey(url, topic),
			Title:       title,
			Summary:     truncateRunes(p.plainText(e.Summary), SummaryMaxRunes),
			URL:         url,
			Source:      strings.TrimSpace(e.Source),
			Topic:       topic,
			PublishedAt: publishedAt(e, now),
			CreatedAt:   now,
		})
	}

	return out
}

// plainText 去掉 HTML 标签与实体，折叠空白
func (p *SimpleProcessor) plainText(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(p.policy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

func publishedAt(e collector.RawEntry, now time.Time) time.Time {
	if e.PublishedAt != nil && !e.PublishedAt.IsZero() {
		return e.PublishedAt.UTC()
	}
	raw := strings.TrimSpace(e.Published)
	if raw != "" {
		for _, layout := range publishedLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC()
			}
		}
	}
	return now
}

// truncateRunes 按 rune 截断并追加省略号
func truncateRunes(s string, limit int) string {
	rs := []rune(s)
	if limit <= 0 || len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "…"
}

// hashKey 与 (url, topic) 唯一约束保持一致
func hashKey(url, topic string) string {
	h := sha1.New()
	h.Write([]byte(url))
	h.Write([]byte{'|'})
	h.Write([]byte(topic))
	return hex.EncodeToString(h.Sum(nil))
}
