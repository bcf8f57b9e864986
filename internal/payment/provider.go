// Package payment содержит адаптеры платёжных провайдеров.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Ошибки адаптеров платёжных провайдеров.
var (
	// ErrUnavailable возвращается при временных сетевых ошибках или 5xx провайдера: вызывающий повторяет запрос позже.
	ErrUnavailable = errors.New("payment provider unavailable")
	// ErrSessionNotFound возвращается, если платёжная сессия не существует у провайдера.
	ErrSessionNotFound = errors.New("payment session not found")
	// ErrInvalidSignature возвращается при несовпадении подписи вебхука.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidPayload возвращается на непригодное тело вебхука.
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrEventIgnored возвращается на корректные, но неинтересные события вебхука.
	ErrEventIgnored = errors.New("webhook event ignored")
)

// SessionRequest описывает параметры открытия платёжной сессии.
type SessionRequest struct {
	AmountCents   int64
	Currency      string
	Description   string
	VIN           string
	OrderRef      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// Validate проверяет обязательные поля запроса сессии.
func (r SessionRequest) Validate() error {
	if r.AmountCents <= 0 {
		return fmt.Errorf("amount must be positive, got %d", r.AmountCents)
	}
	if len(r.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code, got %q", r.Currency)
	}
	return nil
}

// Session содержит результат открытия платёжной сессии у провайдера.
type Session struct {
	ID        string
	HostedURL string
}

// Status содержит наблюдение статуса платёжной сессии.
// Только одно из полей Paid, Expired, Failed может быть истинным.
type Status struct {
	Paid      bool
	Expired   bool
	Failed    bool
	PaymentID string
	Raw       string
}

// EventKind описывает тип события вебхука после нормализации.
type EventKind string

const (
	EventPaid    EventKind = "paid"
	EventExpired EventKind = "expired"
	EventFailed  EventKind = "failed"
)

// WebhookEvent содержит нормализованное событие вебхука провайдера.
type WebhookEvent struct {
	SessionID string
	Kind      EventKind
}

// Provider описывает единый контракт платёжного провайдера.
// Адаптер никогда не пишет статус заказа: он возвращает наблюдения,
// которые интерпретирует координатор.
type Provider interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	QueryStatus(ctx context.Context, sessionID string) (*Status, error)
	VerifyWebhook(ctx context.Context, payload []byte, header http.Header) error
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}

// formatAmount переводит сумму из минорных единиц в десятичную строку вида "24.99".
func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
