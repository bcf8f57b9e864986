package service

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/vinreport-system/internal/payment"
)

const (
	sweepInterval  = 30 * time.Second
	sweepMinAge    = 30 * time.Second
	sweepBatchSize = 50
)

// StartReconciliation запускает фоновую сверку зависших pending-заказов:
// вебхук мог потеряться, а клиент перестать опрашивать статус. Сверка
// периодически проверяет такие заказы у провайдера и доводит их до
// терминального состояния. Блокируется до отмены контекста.
func (s *Service) StartReconciliation(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileOnce(ctx)
		}
	}
}

func (s *Service) reconcileOnce(ctx context.Context) {
	orders, err := s.repo.GetStalePendingOrders(ctx, sweepMinAge, sweepBatchSize)
	if err != nil {
		s.logger.Error("load stale pending orders", zap.Error(err))
		return
	}

	for _, order := range orders {
		if err := s.reconcileOrder(ctx, order.ID); err != nil {
			s.logger.Warn("reconcile order failed",
				zap.Int64("orderID", order.ID), zap.Error(err))
		}
	}
}

// reconcileOrder выполняет сходимость одного заказа с повторами на
// временную недоступность провайдера.
func (s *Service) reconcileOrder(ctx context.Context, orderID int64) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.ProcessOrder(ctx, orderID)
		if errors.Is(err, payment.ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}
