package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
	// Timeout 单次连接加发送的上限
	Timeout     time.Duration
	MaxAttempts int
	// InitialInterval 第一次重试前的等待，之后指数增长
	InitialInterval time.Duration
}

type SMTPNotifier struct {
	cfg    SMTPConfig
	send   func(ctx context.Context, msg *mail.Msg) error
	now    func() time.Time
	logger *slog.Logger
}

func NewSMTPNotifier(cfg SMTPConfig, logger *slog.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" || cfg.Sender == "" {
		return nil, &DeliveryError{Kind: KindConfig, Err: errors.New("smtp host, username, password and sender are required")}
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []mail.Option{
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}
	opts = append(opts, mail.WithPort(cfg.Port))

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, &DeliveryError{Kind: KindConfig, Err: fmt.Errorf("create smtp client: %w", err)}
	}

	return &SMTPNotifier{
		cfg:    cfg,
		send: func(ctx context.Context, m *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, m)
		},
		now:    time.Now,
		logger: logger,
	}, nil
}

// Deliver 失败时最多重试 MaxAttempts 次；认证失败和永久拒收立即返回
func (n *SMTPNotifier) Deliver(ctx context.Context, d Digest) error {
	msg, err := n.buildMessage(d)
	if err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = n.cfg.InitialInterval
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 2

	var (
		attempts int
		lastKind ErrorKind
		lastErr  error
	)
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()

		sendErr := n.send(attemptCtx, msg)
		if sendErr == nil {
			return struct{}{}, nil
		}
		kind, permanent := classify(sendErr)
		lastKind, lastErr = kind, sendErr
		if permanent {
			return struct{}{}, backoff.Permanent(sendErr)
		}
		return struct{}{}, sendErr
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(n.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			n.logger.Warn("smtp send failed, retrying", "to", d.Recipient, "attempt", attempts, "next", next, "err", err)
		}),
	)
	if err == nil {
		n.logger.Info("digest sent", "to", d.Recipient, "topic", d.Topic, "items", len(d.Items), "attempts", attempts)
		return nil
	}

	if lastErr == nil {
		// 第一次尝试前 ctx 已结束
		lastErr = err
		lastKind, _ = classify(err)
	}
	return &DeliveryError{Kind: lastKind, Attempts: attempts, Err: lastErr}
}

func (n *SMTPNotifier) buildMessage(d Digest) (*mail.Msg, error) {
	r, err := Render(d, n.now())
	if err != nil {
		return nil, &DeliveryError{Kind: KindConfig, Err: err}
	}

	msg := mail.NewMsg()
	if err := msg.From(n.cfg.Sender); err != nil {
		return nil, &DeliveryError{Kind: KindConfig, Err: fmt.Errorf("sender: %w", err)}
	}
	if err := msg.To(d.Recipient); err != nil {
		return nil, &DeliveryError{Kind: KindRejected, Err: fmt.Errorf("recipient: %w", err)}
	}
	msg.Subject(r.Subject)
	msg.SetBodyString(mail.TypeTextPlain, r.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, r.HTML)
	return msg, nil
}
