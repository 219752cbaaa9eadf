package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// Sent 一次被记录下来的投递
type Sent struct {
	Digest   Digest
	Rendered Rendered
	At       time.Time
	File     string
}

// RecordingNotifier 不真正发送，用于测试和离线运行；总是成功
type RecordingNotifier struct {
	mu        sync.Mutex
	sent      []Sent
	outboxDir string
	now       func() time.Time
	logger    *slog.Logger
}

func NewRecordingNotifier(outboxDir string, logger *slog.Logger) *RecordingNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingNotifier{outboxDir: outboxDir, now: time.Now, logger: logger}
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (r *RecordingNotifier) Deliver(_ context.Context, d Digest) error {
	now := r.now()
	rendered, err := Render(d, now)
	if err != nil {
		r.logger.Warn("mock notifier: render failed", "err", err)
	}

	rec := Sent{Digest: d, Rendered: rendered, At: now}
	if r.outboxDir != "" {
		name := fmt.Sprintf("%s_%s.html", now.Format("20060102T150405.000000000"), unsafeFileChars.ReplaceAllString(d.Recipient, "_"))
		path := filepath.Join(r.outboxDir, name)
		if err := os.MkdirAll(r.outboxDir, 0o755); err != nil {
			r.logger.Warn("mock notifier: create outbox", "dir", r.outboxDir, "err", err)
		} else if err := os.WriteFile(path, []byte(rendered.HTML), 0o644); err != nil {
			r.logger.Warn("mock notifier: write outbox", "path", path, "err", err)
		} else {
			rec.File = path
		}
	}

	r.mu.Lock()
	r.sent = append(r.sent, rec)
	r.mu.Unlock()

	r.logger.Info("mock email recorded", "to", d.Recipient, "subject", rendered.Subject, "items", len(d.Items))
	return nil
}

// Sent 返回已记录投递的副本
func (r *RecordingNotifier) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}
