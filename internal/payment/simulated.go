package payment

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// SimulatedProvider реализует Provider в памяти процесса.
// Выбирается только явно через конфигурацию и никогда не служит
// неявным запасным вариантом внутри реальных адаптеров.
type SimulatedProvider struct {
	webhookSecret string

	mu       sync.Mutex
	sessions map[string]*Status
}

// NewSimulatedProvider создаёт симулированный провайдер с указанным секретом вебхука.
func NewSimulatedProvider(webhookSecret string) *SimulatedProvider {
	return &SimulatedProvider{
		webhookSecret: webhookSecret,
		sessions:      make(map[string]*Status),
	}
}

// Name возвращает идентификатор провайдера.
func (p *SimulatedProvider) Name() string { return "simulated" }

// CreateSession регистрирует сессию в памяти и возвращает локальный checkout URL.
func (p *SimulatedProvider) CreateSession(_ context.Context, req SessionRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	id := "sim_" + hex.EncodeToString(buf)

	p.mu.Lock()
	p.sessions[id] = &Status{Raw: "open"}
	p.mu.Unlock()

	return &Session{
		ID:        id,
		HostedURL: req.SuccessURL + "?simulated_session=" + id,
	}, nil
}

// QueryStatus возвращает текущее состояние сессии из памяти.
func (p *SimulatedProvider) QueryStatus(_ context.Context, sessionID string) (*Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := *st
	return &copied, nil
}

// MarkPaid помечает сессию оплаченной. Используется в тестах и в dev-режиме.
func (p *SimulatedProvider) MarkPaid(sessionID, paymentID string) bool {
	return p.mark(sessionID, func(st *Status) {
		st.Paid = true
		st.PaymentID = paymentID
		st.Raw = "paid"
	})
}

// MarkExpired помечает сессию истёкшей.
func (p *SimulatedProvider) MarkExpired(sessionID string) bool {
	return p.mark(sessionID, func(st *Status) {
		st.Expired = true
		st.Raw = "expired"
	})
}

// MarkFailed помечает сессию неуспешной.
func (p *SimulatedProvider) MarkFailed(sessionID string) bool {
	return p.mark(sessionID, func(st *Status) {
		st.Failed = true
		st.Raw = "failed"
	})
}

func (p *SimulatedProvider) mark(sessionID string, fn func(*Status)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.sessions[sessionID]
	if !ok {
		return false
	}
	fn(st)
	return true
}

// VerifyWebhook проверяет HMAC-SHA256 подпись тела из заголовка X-Simulated-Signature.
func (p *SimulatedProvider) VerifyWebhook(_ context.Context, payload []byte, header http.Header) error {
	signature := strings.TrimSpace(header.Get("X-Simulated-Signature"))
	if signature == "" {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}

	return nil
}

type simulatedWebhookEvent struct {
	SessionID string `json:"session_id"`
	Event     string `json:"event"`
}

// ParseWebhook разбирает событие симулированного провайдера.
func (p *SimulatedProvider) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var event simulatedWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ErrInvalidPayload
	}
	if event.SessionID == "" {
		return nil, ErrInvalidPayload
	}

	var kind EventKind
	switch event.Event {
	case "paid":
		kind = EventPaid
	case "expired":
		kind = EventExpired
	case "failed":
		kind = EventFailed
	default:
		return nil, ErrEventIgnored
	}

	return &WebhookEvent{SessionID: event.SessionID, Kind: kind}, nil
}
