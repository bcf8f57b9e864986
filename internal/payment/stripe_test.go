package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestStripe(t *testing.T, handler http.HandlerFunc) *StripeProvider {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	p := NewStripeProvider("sk_test_123", "whsec_test")
	p.apiBase = ts.URL
	return p
}

func TestStripeCreateSession(t *testing.T) {
	p := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Fatalf("path = %s, want /v1/checkout/sessions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Fatalf("authorization = %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "order:VHR-TEST" {
			t.Fatalf("idempotency key = %q", got)
		}

		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.Form.Get("line_items[0][price_data][unit_amount]"); got != "2499" {
			t.Fatalf("unit_amount = %q, want 2499", got)
		}
		if got := r.Form.Get("mode"); got != "payment" {
			t.Fatalf("mode = %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_1","url":"https://checkout.stripe.com/pay/cs_test_1","status":"open","payment_status":"unpaid"}`)
	})

	session, err := p.CreateSession(context.Background(), SessionRequest{
		AmountCents:   2499,
		Currency:      "USD",
		Description:   "Vehicle history report (Standard)",
		VIN:           "1HGCM82633A123456",
		OrderRef:      "VHR-TEST",
		CustomerEmail: "buyer@example.com",
		SuccessURL:    "https://shop.example.com/success",
		CancelURL:     "https://shop.example.com/cancel",
	})
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if session.ID != "cs_test_1" {
		t.Fatalf("session id = %q", session.ID)
	}
	if session.HostedURL != "https://checkout.stripe.com/pay/cs_test_1" {
		t.Fatalf("hosted url = %q", session.HostedURL)
	}
}

func TestStripeCreateSession_InvalidRequest(t *testing.T) {
	p := NewStripeProvider("sk", "whsec")

	if _, err := p.CreateSession(context.Background(), SessionRequest{AmountCents: 0, Currency: "USD"}); err == nil {
		t.Fatalf("expected error for non-positive amount")
	}
	if _, err := p.CreateSession(context.Background(), SessionRequest{AmountCents: 100, Currency: "DOLLARS"}); err == nil {
		t.Fatalf("expected error for bad currency code")
	}
}

func TestStripeQueryStatus(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantPaid bool
		wantExp  bool
		wantPID  string
	}{
		{
			name:     "paid",
			body:     `{"id":"cs_1","status":"complete","payment_status":"paid","payment_intent":"pi_42"}`,
			wantPaid: true,
			wantPID:  "pi_42",
		},
		{
			name: "still open",
			body: `{"id":"cs_1","status":"open","payment_status":"unpaid"}`,
		},
		{
			name:    "expired",
			body:    `{"id":"cs_1","status":"expired","payment_status":"unpaid"}`,
			wantExp: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/checkout/sessions/cs_1" {
					t.Fatalf("path = %s", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.body)
			})

			st, err := p.QueryStatus(context.Background(), "cs_1")
			if err != nil {
				t.Fatalf("QueryStatus error: %v", err)
			}
			if st.Paid != tt.wantPaid || st.Expired != tt.wantExp {
				t.Fatalf("status = %+v", st)
			}
			if st.PaymentID != tt.wantPID {
				t.Fatalf("payment id = %q, want %q", st.PaymentID, tt.wantPID)
			}
		})
	}
}

func TestStripeQueryStatus_NotFound(t *testing.T) {
	p := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := p.QueryStatus(context.Background(), "cs_missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestStripeQueryStatus_ServerError(t *testing.T) {
	p := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.QueryStatus(context.Background(), "cs_1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func signStripePayload(secret string, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestStripeVerifyWebhook(t *testing.T) {
	p := NewStripeProvider("sk", "whsec_test")
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())

	header := http.Header{}
	header.Set("Stripe-Signature", "t="+ts+",v1="+signStripePayload("whsec_test", ts, payload))

	if err := p.VerifyWebhook(context.Background(), payload, header); err != nil {
		t.Fatalf("VerifyWebhook error: %v", err)
	}
}

func TestStripeVerifyWebhook_Rejections(t *testing.T) {
	p := NewStripeProvider("sk", "whsec_test")
	payload := []byte(`{"id":"evt_1"}`)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "garbage header", header: "not-a-signature"},
		{name: "wrong secret", header: "t=1700000000,v1=" + signStripePayload("whsec_other", "1700000000", payload)},
		{name: "tampered payload", header: "t=1700000000,v1=" + signStripePayload("whsec_test", "1700000000", []byte(`{"id":"evt_2"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set("Stripe-Signature", tt.header)
			}
			if err := p.VerifyWebhook(context.Background(), payload, header); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("err = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestStripeParseWebhook(t *testing.T) {
	p := NewStripeProvider("sk", "whsec")

	event := map[string]any{
		"id":   "evt_1",
		"type": "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{"id": "cs_paid_1"},
		},
	}
	payload, _ := json.Marshal(event)

	got, err := p.ParseWebhook(payload)
	if err != nil {
		t.Fatalf("ParseWebhook error: %v", err)
	}
	if got.SessionID != "cs_paid_1" || got.Kind != EventPaid {
		t.Fatalf("event = %+v", got)
	}
}

func TestStripeParseWebhook_Rejections(t *testing.T) {
	p := NewStripeProvider("sk", "whsec")

	if _, err := p.ParseWebhook([]byte("{broken")); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}

	ignored, _ := json.Marshal(map[string]any{
		"id":   "evt_2",
		"type": "invoice.paid",
		"data": map[string]any{"object": map[string]any{"id": "in_1"}},
	})
	if _, err := p.ParseWebhook(ignored); !errors.Is(err, ErrEventIgnored) {
		t.Fatalf("err = %v, want ErrEventIgnored", err)
	}
}
