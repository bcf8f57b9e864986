package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/vinreport-system/internal/middleware"
	"github.com/mmeshcher/vinreport-system/internal/model"
	"github.com/mmeshcher/vinreport-system/internal/payment"
	"github.com/mmeshcher/vinreport-system/internal/repository"
	"github.com/mmeshcher/vinreport-system/internal/service"
)

type stubService struct {
	createOrder       *model.Order
	createCheckoutURL string
	createErr         error

	statusView *service.StatusView
	statusErr  error

	processOrder *model.Order
	processErr   error

	webhookOrder     *model.Order
	webhookErr       error
	webhookSessionID string

	openReport *model.Report
	openBody   string
	openErr    error

	listResp []model.Order
	listErr  error
}

func (s *stubService) CreateOrder(_ context.Context, _ model.Tier, _ string, _ model.Customer) (*model.Order, string, error) {
	return s.createOrder, s.createCheckoutURL, s.createErr
}

func (s *stubService) GetStatus(_ context.Context, _ int64) (*service.StatusView, error) {
	return s.statusView, s.statusErr
}

func (s *stubService) ProcessOrder(_ context.Context, _ int64) (*model.Order, error) {
	return s.processOrder, s.processErr
}

func (s *stubService) ProcessWebhookEvent(_ context.Context, event *payment.WebhookEvent) (*model.Order, error) {
	s.webhookSessionID = event.SessionID
	return s.webhookOrder, s.webhookErr
}

type stubDocument struct{ *bytes.Reader }

func (stubDocument) Close() error { return nil }

func (s *stubService) OpenReport(_ context.Context, _ int64) (*model.Report, io.ReadSeekCloser, error) {
	if s.openErr != nil {
		return nil, nil, s.openErr
	}
	return s.openReport, stubDocument{bytes.NewReader([]byte(s.openBody))}, nil
}

func (s *stubService) ListOrders(_ context.Context, _ int) ([]model.Order, error) {
	return s.listResp, s.listErr
}

const webhookSecret = "wh-test-secret"

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	provider := payment.NewSimulatedProvider(webhookSecret)
	adminAuth := middleware.NewAdminAuth("admin-token")

	return NewHandler(svc, provider, nil, logger, adminAuth)
}

func signPayload(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCreateOrder(t *testing.T) {
	svc := &stubService{
		createOrder: &model.Order{
			ID: 1, TransactionCode: "VHR-ABC123", Status: model.OrderStatusPending,
		},
		createCheckoutURL: "https://pay.example/sess_1",
	}
	router := newTestHandler(t, svc).SetupRouter()

	body := `{"tier":"tier2","vin":"1HGCM82633A123456","customer":{"email":"a@b.c","name":"Ivan"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d want %d, body %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp createOrderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OrderID != 1 || resp.CheckoutURL == "" || resp.Status != "pending" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestCreateOrderErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		createErr  error
		wantStatus int
	}{
		{name: "malformed json", body: `{"tier":`, wantStatus: http.StatusBadRequest},
		{name: "missing email", body: `{"tier":"tier1","vin":"1HGCM82633A123456","customer":{}}`, wantStatus: http.StatusBadRequest},
		{
			name: "invalid vin", body: `{"tier":"tier1","vin":"too-short","customer":{"email":"a@b.c"}}`,
			createErr: service.ErrInvalidVIN, wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown tier", body: `{"tier":"gold","vin":"1HGCM82633A123456","customer":{"email":"a@b.c"}}`,
			createErr: service.ErrUnknownTier, wantStatus: http.StatusBadRequest,
		},
		{
			name: "provider down", body: `{"tier":"tier1","vin":"1HGCM82633A123456","customer":{"email":"a@b.c"}}`,
			createErr: payment.ErrUnavailable, wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{createErr: tt.createErr}
			router := newTestHandler(t, svc).SetupRouter()

			req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status: got %d want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestGetOrderStatus(t *testing.T) {
	svc := &stubService{
		statusView: &service.StatusView{
			Status:    model.OrderStatusCompleted,
			ReportURL: "http://localhost/api/reports/7",
			Message:   "Your report is ready",
		},
	}
	router := newTestHandler(t, svc).SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/orders/7/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d want %d", w.Code, http.StatusOK)
	}

	var view service.StatusView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Status != model.OrderStatusCompleted || view.ReportURL == "" {
		t.Errorf("unexpected view: %+v", view)
	}
}

func TestGetOrderStatusNotFound(t *testing.T) {
	svc := &stubService{statusErr: repository.ErrOrderNotFound}
	router := newTestHandler(t, svc).SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/orders/404/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetOrderStatusBadID(t *testing.T) {
	router := newTestHandler(t, &stubService{}).SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/orders/abc/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want %d", w.Code, http.StatusBadRequest)
	}
}

func TestProcessOrder(t *testing.T) {
	tests := []struct {
		name       string
		order      *model.Order
		err        error
		wantStatus int
	}{
		{
			name:       "completed",
			order:      &model.Order{ID: 1, Status: model.OrderStatusCompleted, ReportURL: "http://localhost/api/reports/1"},
			wantStatus: http.StatusOK,
		},
		{name: "not found", err: repository.ErrOrderNotFound, wantStatus: http.StatusNotFound},
		{name: "not paid", err: service.ErrOrderNotPaid, wantStatus: http.StatusConflict},
		{name: "provider down", err: payment.ErrUnavailable, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{processOrder: tt.order, processErr: tt.err}
			router := newTestHandler(t, svc).SetupRouter()

			req := httptest.NewRequest(http.MethodPost, "/api/orders/1/process", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status: got %d want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestWebhook(t *testing.T) {
	svc := &stubService{webhookOrder: &model.Order{ID: 1, Status: model.OrderStatusSuccess}}
	router := newTestHandler(t, svc).SetupRouter()

	payload := []byte(`{"session_id":"sim_abc","event":"paid"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/simulated", bytes.NewReader(payload))
	req.Header.Set("X-Simulated-Signature", signPayload(payload))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if svc.webhookSessionID != "sim_abc" {
		t.Errorf("service got session %q, want sim_abc", svc.webhookSessionID)
	}
}

func TestWebhookRejections(t *testing.T) {
	tests := []struct {
		name       string
		provider   string
		payload    string
		sign       bool
		wantStatus int
	}{
		{name: "bad signature", provider: "simulated", payload: `{"session_id":"s","event":"paid"}`, wantStatus: http.StatusUnauthorized},
		{name: "unknown provider", provider: "stripe", payload: `{}`, sign: true, wantStatus: http.StatusNotFound},
		{name: "malformed payload", provider: "simulated", payload: `not json`, sign: true, wantStatus: http.StatusBadRequest},
		{name: "ignored event", provider: "simulated", payload: `{"session_id":"s","event":"viewed"}`, sign: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{}
			router := newTestHandler(t, svc).SetupRouter()

			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/"+tt.provider, strings.NewReader(tt.payload))
			if tt.sign {
				req.Header.Set("X-Simulated-Signature", signPayload([]byte(tt.payload)))
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status: got %d want %d", w.Code, tt.wantStatus)
			}
			if svc.webhookSessionID != "" {
				t.Error("rejected webhook reached the service")
			}
		})
	}
}

func TestWebhookAcksProcessingFailure(t *testing.T) {
	svc := &stubService{webhookErr: repository.ErrOrderNotFound}
	router := newTestHandler(t, svc).SetupRouter()

	payload := []byte(`{"session_id":"sim_gone","event":"paid"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/simulated", bytes.NewReader(payload))
	req.Header.Set("X-Simulated-Signature", signPayload(payload))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Провайдер не должен ретраить событие, которое мы не можем обработать.
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d want %d", w.Code, http.StatusOK)
	}
}

func TestDownloadReport(t *testing.T) {
	svc := &stubService{
		openReport: &model.Report{
			ID: "rep-1", OrderID: 5, VIN: "1HGCM82633A123456",
			CreatedAt: time.Now(),
		},
		openBody: "%PDF-1.4 content",
	}
	router := newTestHandler(t, svc).SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/reports/5", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content-type: got %q want application/pdf", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "%PDF") {
		t.Error("response body is not a PDF document")
	}
}

func TestDownloadReportErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "not found", err: repository.ErrReportNotFound, wantStatus: http.StatusNotFound},
		{name: "expired", err: service.ErrReportExpired, wantStatus: http.StatusGone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{openErr: tt.err}
			router := newTestHandler(t, svc).SetupRouter()

			req := httptest.NewRequest(http.MethodGet, "/api/reports/5", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status: got %d want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAdminListOrders(t *testing.T) {
	svc := &stubService{
		listResp: []model.Order{
			{ID: 1, TransactionCode: "VHR-1", Tier: model.TierBasic, Status: model.OrderStatusCompleted, CreatedAt: time.Now()},
			{ID: 2, TransactionCode: "VHR-2", Tier: model.TierPremium, Status: model.OrderStatusPending, CreatedAt: time.Now()},
		},
	}
	router := newTestHandler(t, svc).SetupRouter()

	t.Run("without token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status: got %d want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("with token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
		req.Header.Set("Authorization", "Bearer admin-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d want %d", w.Code, http.StatusOK)
		}

		var resp []adminOrderResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if len(resp) != 2 {
			t.Fatalf("got %d orders, want 2", len(resp))
		}
	})
}

func TestPing(t *testing.T) {
	router := newTestHandler(t, &stubService{}).SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d want %d", w.Code, http.StatusOK)
	}
}
