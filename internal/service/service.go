// Package service реализует жизненный цикл заказа на отчёт об истории автомобиля.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/vinreport-system/internal/model"
	"github.com/mmeshcher/vinreport-system/internal/notify"
	"github.com/mmeshcher/vinreport-system/internal/payment"
	"github.com/mmeshcher/vinreport-system/internal/report"
	"github.com/mmeshcher/vinreport-system/internal/repository"
	"github.com/mmeshcher/vinreport-system/internal/storage"
	"github.com/mmeshcher/vinreport-system/internal/validation"
)

// Платёжная сессия действительна 30 минут; старше — заказ переводится в expired.
const sessionTTL = 30 * time.Minute

// ErrInvalidVIN возвращается на некорректный VIN.
var (
	ErrInvalidVIN = errors.New("invalid vin")
	// ErrUnknownTier возвращается на неизвестный тариф.
	ErrUnknownTier = errors.New("unknown tier")
	// ErrOrderNotPaid возвращается при попытке сгенерировать отчёт до подтверждения оплаты.
	ErrOrderNotPaid = errors.New("order is not paid")
	// ErrReportExpired возвращается при обращении к отчёту после истечения срока доступа.
	ErrReportExpired = errors.New("report access expired")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateOrder(ctx context.Context, order *model.Order) (int64, error)
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	GetOrderBySessionID(ctx context.Context, sessionID string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus) (bool, error)
	MarkOrderPaid(ctx context.Context, id int64, paymentID string) (bool, error)
	AttachReport(ctx context.Context, report *model.Report) (*model.Report, bool, error)
	GetReportByOrderID(ctx context.Context, orderID int64) (*model.Report, error)
	RegisterReportAccess(ctx context.Context, orderID int64) error
	AppendTransactionLog(ctx context.Context, orderID int64, status model.OrderStatus, action string, payload any) error
	GetStalePendingOrders(ctx context.Context, olderThan time.Duration, limit int) ([]model.Order, error)
	ListOrders(ctx context.Context, limit int) ([]model.Order, error)
}

// Generator описывает контракт генератора отчётов.
type Generator interface {
	Generate(ctx context.Context, vin string, tier model.Tier, meta report.OrderMeta) (*model.Report, error)
}

// Notifier описывает контракт отправки писем покупателю.
type Notifier interface {
	Configured() bool
	OrderCreated(ctx context.Context, to string, info notify.OrderInfo) error
	PaymentConfirmed(ctx context.Context, to string, info notify.OrderInfo) error
	ReportReady(ctx context.Context, to string, info notify.OrderInfo) error
}

// Service координирует жизненный цикл заказа: создание, подтверждение оплаты,
// однократную генерацию отчёта и доступ к готовому документу.
type Service struct {
	repo      Repository
	provider  payment.Provider
	generator Generator
	notifier  Notifier
	store     storage.DocumentStore
	baseURL   string
	logger    *zap.Logger

	// Пер-заказная блокировка сериализует конкурентные наблюдения одного
	// подтверждения в пределах процесса; между процессами сериализацию
	// обеспечивают условные обновления статуса в БД.
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewService создаёт сервис жизненного цикла заказов.
func NewService(repo Repository, provider payment.Provider, generator Generator, notifier Notifier, store storage.DocumentStore, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		provider:  provider,
		generator: generator,
		notifier:  notifier,
		store:     store,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
		locks:     make(map[int64]*sync.Mutex),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) orderLock(orderID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[orderID] = lock
	}
	return lock
}

// CreateOrder валидирует вход, открывает платёжную сессию у провайдера и
// сохраняет новый заказ в статусе pending. Если сессию открыть не удалось,
// заказ не сохраняется.
func (s *Service) CreateOrder(ctx context.Context, tier model.Tier, vin string, customer model.Customer) (*model.Order, string, error) {
	vin = validation.NormalizeVIN(vin)
	if !validation.IsValidVIN(vin) {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidVIN, vin)
	}

	info, ok := model.Tiers[tier]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}

	code, err := newTransactionCode()
	if err != nil {
		return nil, "", fmt.Errorf("generate transaction code: %w", err)
	}

	session, err := s.provider.CreateSession(ctx, payment.SessionRequest{
		AmountCents:   info.AmountCents,
		Currency:      info.Currency,
		Description:   fmt.Sprintf("Vehicle history report (%s), VIN %s", info.Name, vin),
		VIN:           vin,
		OrderRef:      code,
		CustomerEmail: customer.Email,
		SuccessURL:    s.baseURL + "/payment/success?order=" + code,
		CancelURL:     s.baseURL + "/payment/cancel?order=" + code,
	})
	if err != nil {
		return nil, "", fmt.Errorf("open payment session: %w", err)
	}

	order := &model.Order{
		TransactionCode:   code,
		Tier:              tier,
		VIN:               vin,
		AmountCents:       info.AmountCents,
		Currency:          info.Currency,
		Customer:          customer,
		Provider:          s.provider.Name(),
		ProviderSessionID: session.ID,
		Status:            model.OrderStatusPending,
	}

	id, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return nil, "", fmt.Errorf("persist order: %w", err)
	}
	order.ID = id

	s.logTransaction(ctx, id, model.OrderStatusPending, "order_created", map[string]any{
		"tier": tier, "vin": vin, "session_id": session.ID, "provider": s.provider.Name(),
	})

	s.notifyAsync(order.ID, "order_created", func(ctx context.Context, n Notifier) error {
		return n.OrderCreated(ctx, customer.Email, s.orderInfo(order, session.HostedURL, ""))
	})

	return order, session.HostedURL, nil
}

// ObserveConfirmation сверяет статус заказа с провайдером и выполняет переход
// из pending. Повторные и конкурентные вызовы для уже подтверждённого заказа
// безопасны: переход выполняет только вызов, заставший заказ в pending.
func (s *Service) ObserveConfirmation(ctx context.Context, orderID int64) (*model.Order, error) {
	lock := s.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	return s.observeConfirmationLocked(ctx, orderID)
}

func (s *Service) observeConfirmationLocked(ctx context.Context, orderID int64) (*model.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status != model.OrderStatusPending {
		return order, nil
	}

	status, err := s.provider.QueryStatus(ctx, order.ProviderSessionID)
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotFound) {
			// Сессия неизвестна провайдеру: оплата невозможна.
			return s.transition(ctx, order, model.OrderStatusFailed, "session_not_found", nil)
		}
		return nil, fmt.Errorf("query provider status: %w", err)
	}

	switch {
	case status.Paid:
		transitioned, err := s.repo.MarkOrderPaid(ctx, order.ID, status.PaymentID)
		if err != nil {
			return nil, err
		}
		if transitioned {
			order.Status = model.OrderStatusSuccess
			order.ProviderPaymentID = status.PaymentID

			s.logTransaction(ctx, order.ID, model.OrderStatusSuccess, "payment_confirmed", map[string]any{
				"payment_id": status.PaymentID, "raw_status": status.Raw,
			})

			s.notifyAsync(order.ID, "payment_confirmed", func(ctx context.Context, n Notifier) error {
				return n.PaymentConfirmed(ctx, order.Customer.Email, s.orderInfo(order, "", ""))
			})
		} else {
			return s.repo.GetOrderByID(ctx, order.ID)
		}
		return order, nil

	case status.Expired:
		return s.transition(ctx, order, model.OrderStatusExpired, "session_expired", map[string]any{"raw_status": status.Raw})

	case status.Failed:
		return s.transition(ctx, order, model.OrderStatusFailed, "payment_failed", map[string]any{"raw_status": status.Raw})
	}

	// Провайдер ещё не видит оплату. Сессия ограничена по времени:
	// просроченный pending не должен висеть вечно.
	if time.Since(order.CreatedAt) > sessionTTL {
		return s.transition(ctx, order, model.OrderStatusExpired, "session_ttl_elapsed", map[string]any{"raw_status": status.Raw})
	}

	return order, nil
}

func (s *Service) transition(ctx context.Context, order *model.Order, to model.OrderStatus, action string, payload map[string]any) (*model.Order, error) {
	transitioned, err := s.repo.UpdateOrderStatus(ctx, order.ID, model.OrderStatusPending, to)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		return s.repo.GetOrderByID(ctx, order.ID)
	}

	order.Status = to
	s.logTransaction(ctx, order.ID, to, action, payload)
	return order, nil
}

// EnsureReportGenerated гарантирует, что для оплаченного заказа существует
// ровно один отчёт. Безопасен для повторных и конкурентных вызовов: если
// отчёт уже есть, возвращается существующий без повторной генерации.
func (s *Service) EnsureReportGenerated(ctx context.Context, orderID int64) (*model.Order, error) {
	lock := s.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	return s.ensureReportGeneratedLocked(ctx, orderID)
}

func (s *Service) ensureReportGeneratedLocked(ctx context.Context, orderID int64) (*model.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == model.OrderStatusCompleted && order.ReportURL != "" {
		return order, nil
	}

	// Защита от повторной генерации: отчёт мог быть создан другим
	// триггером (вебхук, опрос, ручной запуск) до этого вызова.
	existing, err := s.repo.GetReportByOrderID(ctx, orderID)
	if err == nil {
		if _, _, err := s.repo.AttachReport(ctx, existing); err != nil {
			return nil, err
		}
		return s.repo.GetOrderByID(ctx, orderID)
	}
	if !errors.Is(err, repository.ErrReportNotFound) {
		return nil, err
	}

	if order.Status != model.OrderStatusSuccess {
		return nil, fmt.Errorf("%w: order %d is %s", ErrOrderNotPaid, orderID, order.Status)
	}

	generated, err := s.generator.Generate(ctx, order.VIN, order.Tier, report.OrderMeta{
		OrderID:         order.ID,
		TransactionCode: order.TransactionCode,
		CustomerName:    order.Customer.Name,
	})
	if err != nil {
		// Заказ остаётся в success: следующий вызов повторит генерацию.
		s.logTransaction(ctx, order.ID, order.Status, "generation_failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("generate report: %w", err)
	}

	winner, inserted, err := s.repo.AttachReport(ctx, generated)
	if err != nil {
		return nil, err
	}

	if inserted {
		s.logTransaction(ctx, order.ID, model.OrderStatusCompleted, "report_generated", map[string]any{
			"report_id": winner.ID, "url": winner.URL,
		})

		s.notifyAsync(order.ID, "report_ready", func(ctx context.Context, n Notifier) error {
			return n.ReportReady(ctx, order.Customer.Email, s.orderInfo(order, "", winner.URL))
		})
	}

	return s.repo.GetOrderByID(ctx, orderID)
}

// ProcessOrder выполняет полную сходимость заказа: наблюдение подтверждения
// и, для оплаченного заказа, генерацию отчёта. Общая точка входа для
// вебхука, клиентского опроса и ручного запуска.
func (s *Service) ProcessOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	lock := s.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, err := s.observeConfirmationLocked(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == model.OrderStatusSuccess || order.Status == model.OrderStatusCompleted {
		return s.ensureReportGeneratedLocked(ctx, orderID)
	}

	return order, nil
}

// ProcessWebhookEvent обрабатывает нормализованное событие вебхука: находит
// заказ по идентификатору сессии и выполняет сходимость его состояния.
func (s *Service) ProcessWebhookEvent(ctx context.Context, event *payment.WebhookEvent) (*model.Order, error) {
	order, err := s.repo.GetOrderBySessionID(ctx, event.SessionID)
	if err != nil {
		return nil, err
	}
	return s.ProcessOrder(ctx, order.ID)
}

// StatusView содержит статус заказа в терминах клиента.
type StatusView struct {
	Status    model.OrderStatus `json:"status"`
	ReportURL string            `json:"report_url,omitempty"`
	Message   string            `json:"message"`
}

// GetStatus возвращает текущий статус заказа. Никогда не изменяет состояние.
func (s *Service) GetStatus(ctx context.Context, orderID int64) (*StatusView, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{Status: order.Status}

	switch order.Status {
	case model.OrderStatusPending:
		view.Message = "Payment is being processed"
	case model.OrderStatusSuccess:
		view.Message = "Payment received, your report is being prepared"
	case model.OrderStatusCompleted:
		view.ReportURL = order.ReportURL
		view.Message = "Your report is ready"
	case model.OrderStatusFailed:
		view.Message = "Payment failed, please try again"
	case model.OrderStatusExpired:
		view.Message = "Checkout session expired, please create a new order"
	case model.OrderStatusCancelled:
		view.Message = "Order cancelled"
	}

	return view, nil
}

// OpenReport открывает документ отчёта для чтения и регистрирует факт доступа.
func (s *Service) OpenReport(ctx context.Context, orderID int64) (*model.Report, io.ReadSeekCloser, error) {
	rep, err := s.repo.GetReportByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	if rep.Expired(time.Now()) {
		return nil, nil, fmt.Errorf("%w: order %d", ErrReportExpired, orderID)
	}

	f, err := s.store.Open(rep.DocumentPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open report document: %w", err)
	}

	if err := s.repo.RegisterReportAccess(ctx, orderID); err != nil {
		s.logger.Warn("register report access failed", zap.Int64("orderID", orderID), zap.Error(err))
	}

	return rep, f, nil
}

// ListOrders возвращает последние заказы для административного просмотра.
func (s *Service) ListOrders(ctx context.Context, limit int) ([]model.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListOrders(ctx, limit)
}

func (s *Service) logTransaction(ctx context.Context, orderID int64, status model.OrderStatus, action string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	if err := s.repo.AppendTransactionLog(ctx, orderID, status, action, payload); err != nil {
		s.logger.Warn("append transaction log failed",
			zap.Int64("orderID", orderID), zap.String("action", action), zap.Error(err))
	}
}

// notifyAsync отправляет письмо в фоне. Сбой отправки логируется
// и никогда не влияет на состояние заказа.
func (s *Service) notifyAsync(orderID int64, kind string, send func(ctx context.Context, n Notifier) error) {
	if s.notifier == nil || !s.notifier.Configured() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := send(ctx, s.notifier); err != nil {
			s.logger.Warn("notification failed",
				zap.Int64("orderID", orderID), zap.String("kind", kind), zap.Error(err))
		}
	}()
}

func (s *Service) orderInfo(order *model.Order, checkoutURL, reportURL string) notify.OrderInfo {
	tierName := string(order.Tier)
	if info, ok := model.Tiers[order.Tier]; ok {
		tierName = info.Name
	}
	return notify.OrderInfo{
		TransactionCode: order.TransactionCode,
		CustomerName:    order.Customer.Name,
		VIN:             order.VIN,
		TierName:        tierName,
		Amount:          fmt.Sprintf("$%d.%02d", order.AmountCents/100, order.AmountCents%100),
		CheckoutURL:     checkoutURL,
		ReportURL:       reportURL,
	}
}

func newTransactionCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "VHR-" + strings.ToUpper(hex.EncodeToString(buf)), nil
}
