// Package notifier 负责把新闻摘要渲染成邮件并投递。
// SMTP 实现带超时与指数退避重试，Recording 实现只记录不发送。
package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"syscall"

	"github.com/LJTian/TopicDigest/internal/storage"
)

// Digest 一封待投递的摘要；所有实现消费同一个 NewsItem 类型
type Digest struct {
	Recipient string
	Topic     string
	Items     []storage.NewsItem
	Welcome   bool
}

type Notifier interface {
	Deliver(ctx context.Context, d Digest) error
}

type ErrorKind string

const (
	KindAuth         ErrorKind = "auth"
	KindConnection   ErrorKind = "connection"
	KindTimeout      ErrorKind = "timeout"
	KindDisconnected ErrorKind = "disconnected"
	KindRejected     ErrorKind = "rejected"
	KindConfig       ErrorKind = "config"
)

// DeliveryError 重试用尽或遇到不可重试错误后返回给调用方
type DeliveryError struct {
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver failed (%s, %d attempt(s)): %v", e.Kind, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// classify 把底层错误归类，permanent 表示不应再重试。
// 认证失败与 5xx 拒收重试也不会成功。
func classify(err error) (kind ErrorKind, permanent bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout, false
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return classifyCode(tpErr.Code)
	}
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) && coded.ErrorCode() > 0 {
		return classifyCode(coded.ErrorCode())
	}
	if code, ok := smtpCode(err.Error()); ok {
		return classifyCode(code)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "auth"):
		return KindAuth, true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return KindDisconnected, false
	}
	// 拨号失败、DNS 解析失败等都算连接失败
	return KindConnection, false
}

func classifyCode(code int) (ErrorKind, bool) {
	switch {
	case code == 530 || code == 534 || code == 535:
		return KindAuth, true
	case code >= 500:
		return KindRejected, true
	case code >= 400:
		return KindRejected, false
	}
	return KindConnection, false
}

// smtpCode 从 "535 5.7.8 ..." 之类的错误文本里取状态码
func smtpCode(msg string) (int, bool) {
	for _, f := range strings.Fields(msg) {
		if len(f) != 3 || (f[0] != '4' && f[0] != '5') {
			continue
		}
		n := 0
		ok := true
		for _, c := range f {
			if c < '0' || c > '9' {
				ok = false
				break
			}
			n = n*10 + int(c-'0')
		}
		if ok {
			return n, true
		}
	}
	return 0, false
}
