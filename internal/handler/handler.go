// Package handler содержит HTTP-обработчики API сервиса отчётов об истории автомобилей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/vinreport-system/internal/middleware"
	"github.com/mmeshcher/vinreport-system/internal/model"
	"github.com/mmeshcher/vinreport-system/internal/payment"
	"github.com/mmeshcher/vinreport-system/internal/repository"
	"github.com/mmeshcher/vinreport-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, tier model.Tier, vin string, customer model.Customer) (*model.Order, string, error)
	GetStatus(ctx context.Context, orderID int64) (*service.StatusView, error)
	ProcessOrder(ctx context.Context, orderID int64) (*model.Order, error)
	ProcessWebhookEvent(ctx context.Context, event *payment.WebhookEvent) (*model.Order, error)
	OpenReport(ctx context.Context, orderID int64) (*model.Report, io.ReadSeekCloser, error)
	ListOrders(ctx context.Context, limit int) ([]model.Order, error)
}

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler реализует HTTP-обработчики API сервиса.
type Handler struct {
	service   Service
	provider  payment.Provider
	pinger    Pinger
	logger    *zap.Logger
	adminAuth *middleware.AdminAuth
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, provider payment.Provider, pinger Pinger, logger *zap.Logger, adminAuth *middleware.AdminAuth) *Handler {
	return &Handler{
		service:   s,
		provider:  provider,
		pinger:    pinger,
		logger:    logger,
		adminAuth: adminAuth,
	}
}

type createOrderRequest struct {
	Tier     string         `json:"tier"`
	VIN      string         `json:"vin"`
	Customer model.Customer `json:"customer"`
}

type createOrderResponse struct {
	OrderID         int64  `json:"order_id"`
	TransactionCode string `json:"transaction_code"`
	Status          string `json:"status"`
	CheckoutURL     string `json:"checkout_url"`
}

// CreateOrder принимает новый заказ на отчёт и возвращает ссылку на оплату.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Customer.Email == "" {
		http.Error(w, "customer email is required", http.StatusBadRequest)
		return
	}

	order, checkoutURL, err := h.service.CreateOrder(r.Context(), model.Tier(req.Tier), req.VIN, req.Customer)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidVIN), errors.Is(err, service.ErrUnknownTier):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, payment.ErrUnavailable):
			http.Error(w, "payment provider is unavailable", http.StatusServiceUnavailable)
		default:
			h.logger.Error("create order error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(createOrderResponse{
		OrderID:         order.ID,
		TransactionCode: order.TransactionCode,
		Status:          string(order.Status),
		CheckoutURL:     checkoutURL,
	}); err != nil {
		h.logger.Error("encode create order response", zap.Error(err))
	}
}

// GetOrderStatus возвращает текущий статус заказа. Никогда не изменяет состояние.
func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetStatus(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order status error", zap.Error(err), zap.Int64("orderID", orderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		h.logger.Error("encode status response", zap.Error(err))
	}
}

// ProcessOrder выполняет сверку заказа с платёжным провайдером по запросу
// клиента: наблюдает подтверждение оплаты и запускает генерацию отчёта.
func (h *Handler) ProcessOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	order, err := h.service.ProcessOrder(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrOrderNotPaid):
			http.Error(w, "order is not paid yet", http.StatusConflict)
		case errors.Is(err, payment.ErrUnavailable):
			http.Error(w, "payment provider is unavailable", http.StatusServiceUnavailable)
		default:
			h.logger.Error("process order error", zap.Error(err), zap.Int64("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	view := service.StatusView{Status: order.Status, ReportURL: order.ReportURL}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		h.logger.Error("encode process response", zap.Error(err))
	}
}

// Webhook принимает уведомление платёжного провайдера. Подпись проверяется
// до обработки; невалидная подпись отклоняется с 401. Обработанное или
// проигнорированное событие подтверждается 200, чтобы провайдер не повторял
// доставку бесконечно.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	if providerName != h.provider.Name() {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	defer r.Body.Close()
	payloadBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.provider.VerifyWebhook(r.Context(), payloadBytes, r.Header); err != nil {
		h.logger.Warn("webhook signature rejected", zap.String("provider", providerName), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	event, err := h.provider.ParseWebhook(payloadBytes)
	if err != nil {
		if errors.Is(err, payment.ErrEventIgnored) {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Warn("webhook payload rejected", zap.String("provider", providerName), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if _, err := h.service.ProcessWebhookEvent(r.Context(), event); err != nil {
		// Неизвестная сессия или временный сбой: подтверждаем приём,
		// доведение состояния возьмёт на себя фоновая сверка.
		h.logger.Warn("webhook processing deferred",
			zap.String("provider", providerName),
			zap.String("sessionID", event.SessionID),
			zap.Error(err))
	}

	w.WriteHeader(http.StatusOK)
}

// DownloadReport отдаёт PDF-документ готового отчёта.
func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	rep, doc, err := h.service.OpenReport(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrReportNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrReportExpired):
			http.Error(w, "report access window has expired", http.StatusGone)
		default:
			h.logger.Error("open report error", zap.Error(err), zap.Int64("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}
	defer doc.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "vehicle-history-"+rep.VIN+".pdf"))
	http.ServeContent(w, r, "", rep.CreatedAt, doc)
}

type adminOrderResponse struct {
	ID              int64  `json:"id"`
	TransactionCode string `json:"transaction_code"`
	Tier            string `json:"tier"`
	VIN             string `json:"vin"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	Provider        string `json:"provider"`
	Status          string `json:"status"`
	ReportURL       string `json:"report_url,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// AdminListOrders возвращает последние заказы для административного просмотра.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	orders, err := h.service.ListOrders(r.Context(), limit)
	if err != nil {
		h.logger.Error("list orders error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]adminOrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, adminOrderResponse{
			ID:              o.ID,
			TransactionCode: o.TransactionCode,
			Tier:            string(o.Tier),
			VIN:             o.VIN,
			AmountCents:     o.AmountCents,
			Currency:        o.Currency,
			Provider:        o.Provider,
			Status:          string(o.Status),
			ReportURL:       o.ReportURL,
			CreatedAt:       o.CreatedAt.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// Ping проверяет доступность сервиса и его хранилища.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Error("database ping failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
