// Package subscription 管理订阅记录：创建、查询、取消，以及投递成功后更新 last_sent
package subscription

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/LJTian/TopicDigest/internal/storage"
)

var (
	ErrDuplicate = errors.New("subscription: active subscription already exists")
	ErrNotFound  = errors.New("subscription: not found")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Filter struct {
	Email      string
	ActiveOnly bool
}

type Registry struct {
	store *storage.Store
	now   func() time.Time
}

func NewRegistry(store *storage.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Create 先查重再插入；并发下的重复由部分唯一索引兜底，同样映射为 ErrDuplicate
func (r *Registry) Create(ctx context.Context, topic, email string, freq storage.Frequency) (*storage.Subscription, error) {
	topic = strings.TrimSpace(topic)
	email = strings.ToLower(strings.TrimSpace(email))
	freq = storage.Frequency(strings.ToLower(strings.TrimSpace(string(freq))))

	if err := validateInput(createInput{Topic: topic, Email: email, Frequency: freq}); err != nil {
		return nil, err
	}

	existing, err := r.store.FindActiveSubscription(ctx, topic, email)
	if err != nil {
		return nil, fmt.Errorf("find active subscription: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicate
	}

	sub := &storage.Subscription{
		Topic:     topic,
		Email:     email,
		Frequency: freq,
		IsActive:  true,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.CreateSubscription(ctx, sub); err != nil {
		if errors.Is(err, storage.ErrUniqueViolation) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// createInput 创建订阅的入参校验规则，字段名取 json tag
type createInput struct {
	Topic     string            `json:"topic" validate:"required,max=200"`
	Email     string            `json:"email" validate:"required,max=120,email"`
	Frequency storage.Frequency `json:"frequency" validate:"required,oneof=daily weekly monthly"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateInput(in createInput) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return fmt.Errorf("validate subscription: %w", err)
	}
	// 按字段声明顺序只报告第一个错误
	return toValidationError(errs[0].Field(), errs[0])
}

func toValidationError(field string, fe validator.FieldError) *ValidationError {
	reason := fe.Tag()
	switch fe.Tag() {
	case "required":
		reason = "required"
	case "max":
		reason = fmt.Sprintf("longer than %s characters", fe.Param())
	case "email":
		reason = "not a valid address"
	case "oneof":
		reason = "must be daily, weekly or monthly"
	}
	return &ValidationError{Field: field, Reason: reason}
}

// ValidateEmail 只接受裸地址，不接受带显示名的形式
func ValidateEmail(email string) error {
	err := validate.Var(email, "required,max=120,email")
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		return toValidationError("email", errs[0])
	}
	return &ValidationError{Field: "email", Reason: "not a valid address"}
}

// List 按 id 升序返回
func (r *Registry) List(ctx context.Context, f Filter) ([]storage.Subscription, error) {
	email := strings.ToLower(strings.TrimSpace(f.Email))
	list, err := r.store.ListSubscriptions(ctx, email, f.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return list, nil
}

func (r *Registry) Get(ctx context.Context, id uint) (*storage.Subscription, error) {
	sub, err := r.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return sub, nil
}

// Deactivate 幂等；记录保留不删除
func (r *Registry) Deactivate(ctx context.Context, id uint) error {
	if err := r.store.DeactivateSubscription(ctx, id); err != nil {
		return mapNotFound(err)
	}
	return nil
}

// MarkSent 只应在确认投递成功后调用
func (r *Registry) MarkSent(ctx context.Context, id uint, ts time.Time) error {
	if err := r.store.UpdateLastSent(ctx, id, ts.UTC()); err != nil {
		return mapNotFound(err)
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
