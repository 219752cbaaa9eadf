package collector

import (
	"context"
	"fmt"
	"time"
)

const defaultUserAgent = "TopicDigestBot/1.0"

// RawEntry 数据源返回的原始条目，尚未清洗
type RawEntry struct {
	Title   string
	Summary string
	URL     string
	Source  string
	// PublishedAt 数据源已解析出的时间；为空时 Published 保存原始文本，交给 processor 解析
	PublishedAt *time.Time
	Published   string
}

// Source 按主题检索新闻；返回条数可能少于 limit，必须遵守 ctx 的超时
type Source interface {
	Name() string
	Fetch(ctx context.Context, topic string, limit int) ([]RawEntry, error)
}

// FetchError 数据源不可达或响应无法解析
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func fetchErr(source string, format string, args ...any) *FetchError {
	return &FetchError{Source: source, Err: fmt.Errorf(format, args...)}
}
