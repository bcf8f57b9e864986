package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// PayPalProvider реализует Provider поверх PayPal Orders v2.
type PayPalProvider struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalProvider создаёт адаптер PayPal для указанного окружения (sandbox или live).
func NewPayPalProvider(baseURL, clientID, clientSecret, webhookID string) *PayPalProvider {
	return &PayPalProvider{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		clientID:     strings.TrimSpace(clientID),
		clientSecret: strings.TrimSpace(clientSecret),
		webhookID:    strings.TrimSpace(webhookID),
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
	}
}

// Name возвращает идентификатор провайдера.
func (p *PayPalProvider) Name() string { return "paypal" }

type paypalOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CreateSession создаёт заказ PayPal с intent=CAPTURE и возвращает approve-ссылку.
func (p *PayPalProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"reference_id": req.OrderRef,
				"description":  req.Description,
				"custom_id":    req.VIN,
				"amount": map[string]string{
					"currency_code": strings.ToUpper(req.Currency),
					"value":         formatAmount(req.AmountCents),
				},
			},
		},
		"application_context": map[string]string{
			"return_url":  req.SuccessURL,
			"cancel_url":  req.CancelURL,
			"user_action": "PAY_NOW",
		},
	}

	var order paypalOrder
	if err := p.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", body, "", &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, fmt.Errorf("paypal response without order id")
	}

	hostedURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" {
			hostedURL = link.Href
			break
		}
	}
	if hostedURL == "" {
		return nil, fmt.Errorf("paypal response without approve link")
	}

	return &Session{ID: order.ID, HostedURL: hostedURL}, nil
}

// QueryStatus запрашивает статус заказа PayPal. Одобренный покупателем заказ
// захватывается здесь же: повторный capture с тем же PayPal-Request-Id
// идемпотентен на стороне провайдера.
func (p *PayPalProvider) QueryStatus(ctx context.Context, sessionID string) (*Status, error) {
	var order paypalOrder
	if err := p.doJSON(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(sessionID), nil, "", &order); err != nil {
		return nil, err
	}

	if order.Status == "APPROVED" {
		var captured paypalOrder
		err := p.doJSON(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(sessionID)+"/capture", map[string]any{}, sessionID, &captured)
		if err != nil {
			return nil, err
		}
		order = captured
	}

	st := &Status{Raw: order.Status}

	switch order.Status {
	case "COMPLETED":
		st.Paid = true
		st.PaymentID = firstCaptureID(order)
	case "VOIDED":
		st.Failed = true
	}

	return st, nil
}

func firstCaptureID(order paypalOrder) string {
	for _, pu := range order.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			if c.ID != "" {
				return c.ID
			}
		}
	}
	return ""
}

type paypalVerifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyWebhook проверяет подпись вебхука через API PayPal
// /v1/notifications/verify-webhook-signature.
func (p *PayPalProvider) VerifyWebhook(ctx context.Context, payload []byte, header http.Header) error {
	transmissionID := strings.TrimSpace(header.Get("Paypal-Transmission-Id"))
	transmissionTime := strings.TrimSpace(header.Get("Paypal-Transmission-Time"))
	transmissionSig := strings.TrimSpace(header.Get("Paypal-Transmission-Sig"))
	certURL := strings.TrimSpace(header.Get("Paypal-Cert-Url"))
	authAlgo := strings.TrimSpace(header.Get("Paypal-Auth-Algo"))

	if transmissionID == "" || transmissionTime == "" || transmissionSig == "" || certURL == "" || authAlgo == "" {
		return ErrInvalidSignature
	}
	if !json.Valid(payload) {
		return ErrInvalidSignature
	}

	body := map[string]any{
		"transmission_id":   transmissionID,
		"transmission_time": transmissionTime,
		"transmission_sig":  transmissionSig,
		"cert_url":          certURL,
		"auth_algo":         authAlgo,
		"webhook_id":        p.webhookID,
		"webhook_event":     json.RawMessage(payload),
	}

	var verify paypalVerifyResponse
	if err := p.doJSON(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, "", &verify); err != nil {
		return err
	}

	if verify.VerificationStatus != "SUCCESS" {
		return ErrInvalidSignature
	}

	return nil
}

type paypalWebhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID string `json:"id"`
	} `json:"resource"`
}

// ParseWebhook извлекает ссылку на заказ из события PayPal.
func (p *PayPalProvider) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var event paypalWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Resource.ID) == "" {
		return nil, ErrInvalidPayload
	}

	var kind EventKind
	switch strings.TrimSpace(event.EventType) {
	case "CHECKOUT.ORDER.APPROVED", "CHECKOUT.ORDER.COMPLETED":
		kind = EventPaid
	case "CHECKOUT.ORDER.VOIDED":
		kind = EventFailed
	default:
		return nil, ErrEventIgnored
	}

	return &WebhookEvent{SessionID: event.Resource.ID, Kind: kind}, nil
}

func (p *PayPalProvider) doJSON(ctx context.Context, method, path string, body any, requestID string, out any) error {
	token, err := p.token(ctx)
	if err != nil {
		return err
	}

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: paypal status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("paypal request rejected: status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// token возвращает кэшированный OAuth-токен, обновляя его незадолго до истечения.
func (p *PayPalProvider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: paypal token status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal token request rejected: status %d", resp.StatusCode)
	}

	var token paypalTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("paypal token response without access_token")
	}

	p.accessToken = token.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - time.Minute)

	return p.accessToken, nil
}
