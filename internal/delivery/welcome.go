package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LJTian/TopicDigest/internal/notifier"
	"github.com/LJTian/TopicDigest/internal/storage"
	"github.com/LJTian/TopicDigest/internal/subscription"
)

type WelcomeAction string

const (
	WelcomeSentExisting     WelcomeAction = "sent_existing"
	WelcomeCollectedAndSent WelcomeAction = "collected_and_sent"
	WelcomeWaitForSchedule  WelcomeAction = "wait_for_schedule"
	WelcomeFailed           WelcomeAction = "failed"
	WelcomeInFlight         WelcomeAction = "in_flight"
	// 拿到锁后发现本周期已投递过（例如调度先一步发送）或订阅已取消
	WelcomeAlreadySent WelcomeAction = "already_sent"
	WelcomeInactive    WelcomeAction = "inactive"
)

type WelcomeResult struct {
	Action    WelcomeAction `json:"action"`
	NewsCount int           `json:"newsCount"`
	Error     string        `json:"error,omitempty"`
}

// Welcome 新订阅立即发送一封欢迎摘要，不经过到期判断：
// 近期已有该主题的新闻就直接发，否则现采现发；都没有则等下一轮调度。
func (e *Engine) Welcome(ctx context.Context, sub storage.Subscription) WelcomeResult {
	if !e.begin() {
		return WelcomeResult{Action: WelcomeFailed, Error: ErrClosed.Error()}
	}
	defer e.inflight.Done()

	runID := uuid.NewString()
	log := e.logger.With("run_id", runID, "subscription_id", sub.ID, "topic", sub.Topic)

	unlock, ok, err := e.locker.TryLock(ctx, lockKey(sub.ID))
	if err != nil {
		return WelcomeResult{Action: WelcomeFailed, Error: "acquire lock: " + err.Error()}
	}
	if !ok {
		return WelcomeResult{Action: WelcomeInFlight}
	}
	defer unlock()

	fresh, err := e.registry.Get(ctx, sub.ID)
	if err != nil {
		return WelcomeResult{Action: WelcomeFailed, Error: "reload subscription: " + err.Error()}
	}
	if !fresh.IsActive {
		return WelcomeResult{Action: WelcomeInactive}
	}
	if fresh.LastSent != nil {
		log.Info("welcome: already delivered this cycle, skip")
		return WelcomeResult{Action: WelcomeAlreadySent}
	}
	sub = *fresh

	recent, err := e.fetcher.Recent(ctx, sub.Topic, e.now().Add(-e.welcomeWindow), welcomeItemLimit)
	if err != nil {
		log.Warn("welcome: load recent news", "err", err)
	}

	action := WelcomeSentExisting
	items := recent
	persist := false
	if len(items) == 0 {
		items = e.fetcher.Collect(ctx, sub.Topic, e.itemLimit)
		if len(items) == 0 {
			log.Info("welcome: no content yet, wait for schedule")
			return WelcomeResult{Action: WelcomeWaitForSchedule}
		}
		action = WelcomeCollectedAndSent
		persist = true
	}

	res := e.send(ctx, runID, KindWelcome, sub, items, persist, true)
	if res.Outcome != OutcomeSent {
		return WelcomeResult{Action: WelcomeFailed, NewsCount: len(items), Error: res.Error}
	}
	log.Info("welcome digest sent", "action", action, "items", len(items))
	return WelcomeResult{Action: action, NewsCount: len(items)}
}

type SubscriptionStatus struct {
	Subscription storage.Subscription `json:"subscription"`
	Due          bool                 `json:"due"`
	// NextDueAt 从未发送过时为 nil
	NextDueAt *time.Time `json:"nextDueAt"`
}

// Status 返回每个有效订阅的到期情况
func (e *Engine) Status(ctx context.Context) ([]SubscriptionStatus, error) {
	subs, err := e.registry.List(ctx, subscription.Filter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	now := e.now()
	out := make([]SubscriptionStatus, 0, len(subs))
	for _, s := range subs {
		st := SubscriptionStatus{Subscription: s, Due: IsDue(s, now)}
		if next := NextDueAt(s); !next.IsZero() {
			st.NextDueAt = &next
		}
		out = append(out, st)
	}
	return out, nil
}

type TestResult struct {
	Recipient string `json:"recipient"`
	Topic     string `json:"topic"`
	Items     int    `json:"items"`
}

// SendTest 给任意地址发一封测试摘要，优先用已入库的新闻，不影响任何订阅的 last_sent
func (e *Engine) SendTest(ctx context.Context, email, topic string) (TestResult, error) {
	if !e.begin() {
		return TestResult{}, ErrClosed
	}
	defer e.inflight.Done()

	if err := subscription.ValidateEmail(email); err != nil {
		return TestResult{}, err
	}
	if topic == "" {
		return TestResult{}, &subscription.ValidationError{Field: "topic", Reason: "required"}
	}

	items, err := e.fetcher.Recent(ctx, topic, time.Time{}, testItemLimit)
	if err != nil {
		e.logger.Warn("test email: load stored news", "topic", topic, "err", err)
	}
	if len(items) == 0 {
		items = e.fetcher.Collect(ctx, topic, testItemLimit)
		if len(items) > 0 {
			if _, err := e.fetcher.Persist(ctx, items); err != nil {
				e.logger.Warn("test email: persist collected news", "topic", topic, "err", err)
			}
		}
	}
	if len(items) == 0 {
		return TestResult{}, ErrNoContent
	}

	runID := uuid.NewString()
	digest := notifier.Digest{Recipient: email, Topic: topic, Items: items}
	dctx, cancel := context.WithTimeout(ctx, e.deliveryTimeout)
	err = e.notifier.Deliver(dctx, digest)
	cancel()
	e.audit(context.WithoutCancel(ctx), runID, KindTest, 0, digest, e.now(), err)
	if err != nil {
		return TestResult{}, err
	}
	return TestResult{Recipient: email, Topic: topic, Items: len(items)}, nil
}
