package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeProvider реализует Provider поверх Stripe Checkout Sessions.
type StripeProvider struct {
	apiKey        string
	webhookSecret string
	apiBase       string
	httpClient    *http.Client
}

// NewStripeProvider создаёт адаптер Stripe с указанными ключом API и секретом вебхука.
func NewStripeProvider(apiKey, webhookSecret string) *StripeProvider {
	return &StripeProvider{
		apiKey:        strings.TrimSpace(apiKey),
		webhookSecret: strings.TrimSpace(webhookSecret),
		apiBase:       stripeAPIBase,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
	}
}

// Name возвращает идентификатор провайдера.
func (p *StripeProvider) Name() string { return "stripe" }

type stripeCheckoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	PaymentIntent string `json:"payment_intent"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CreateSession открывает Checkout-сессию Stripe и возвращает её идентификатор и hosted URL.
func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("mode", "payment")
	values.Set("success_url", req.SuccessURL)
	values.Set("cancel_url", req.CancelURL)
	values.Set("customer_email", req.CustomerEmail)
	values.Set("line_items[0][quantity]", "1")
	values.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	values.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountCents, 10))
	values.Set("line_items[0][price_data][product_data][name]", req.Description)
	values.Set("metadata[order_ref]", req.OrderRef)
	values.Set("metadata[vin]", req.VIN)
	// Сессия действительна 30 минут, далее Stripe переводит её в expired.
	values.Set("expires_at", strconv.FormatInt(time.Now().Add(30*time.Minute).Unix(), 10))

	session, err := p.doRequest(ctx, http.MethodPost, "/v1/checkout/sessions", values, "order:"+req.OrderRef)
	if err != nil {
		return nil, err
	}

	return &Session{ID: session.ID, HostedURL: session.URL}, nil
}

// QueryStatus запрашивает актуальный статус Checkout-сессии. Безопасен для повторных вызовов.
func (p *StripeProvider) QueryStatus(ctx context.Context, sessionID string) (*Status, error) {
	session, err := p.doRequest(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, "")
	if err != nil {
		return nil, err
	}

	st := &Status{
		PaymentID: session.PaymentIntent,
		Raw:       session.Status + "/" + session.PaymentStatus,
	}

	switch {
	case session.PaymentStatus == "paid":
		st.Paid = true
	case session.Status == "expired":
		st.Expired = true
	}

	return st, nil
}

// VerifyWebhook проверяет подпись вебхука Stripe из заголовка Stripe-Signature.
// На любые некорректные входные данные возвращает ErrInvalidSignature, не паникуя.
func (p *StripeProvider) VerifyWebhook(_ context.Context, payload []byte, header http.Header) error {
	sigHeader := strings.TrimSpace(header.Get("Stripe-Signature"))
	if sigHeader == "" {
		return ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return ErrInvalidSignature
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseWebhook извлекает ссылку на сессию из события Stripe.
func (p *StripeProvider) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, ErrInvalidPayload
	}

	var kind EventKind
	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		kind = EventPaid
	case "checkout.session.expired":
		kind = EventExpired
	case "checkout.session.async_payment_failed":
		kind = EventFailed
	default:
		return nil, ErrEventIgnored
	}

	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, ErrInvalidPayload
	}

	return &WebhookEvent{SessionID: session.ID, Kind: kind}, nil
}

func (p *StripeProvider) doRequest(ctx context.Context, method, path string, values url.Values, idempotencyKey string) (*stripeCheckoutSession, error) {
	body := ""
	if values != nil {
		body = values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, p.apiBase+path, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSessionNotFound
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: stripe status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return nil, fmt.Errorf("stripe status %d", resp.StatusCode)
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = fmt.Sprintf("stripe status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("stripe request rejected: %s", message)
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("stripe response without session id")
	}

	return &session, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	var timestamp string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return "", nil, fmt.Errorf("malformed signature header")
	}

	return timestamp, signatures, nil
}
