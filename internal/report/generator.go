package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/vinreport-system/internal/model"
	"github.com/mmeshcher/vinreport-system/internal/storage"
)

const accessWindow = 30 * 24 * time.Hour

// Decoder описывает контракт VIN-декодера.
type Decoder interface {
	Decode(ctx context.Context, vin string) (*model.VehicleSpecs, error)
}

// HistorySource описывает контракт внешнего реестра истории эксплуатации.
type HistorySource interface {
	Fetch(ctx context.Context, vin string) (*model.History, error)
}

// OrderMeta содержит данные заказа, необходимые генератору.
type OrderMeta struct {
	OrderID         int64
	TransactionCode string
	CustomerName    string
}

// Generator собирает данные отчёта, рендерит документ и сохраняет его в хранилище.
// Не имеет разделяемого изменяемого состояния: безопасен для параллельной
// генерации по разным заказам. Дедупликацию по одному заказу обеспечивает вызывающий.
type Generator struct {
	decoder Decoder
	history HistorySource
	store   storage.DocumentStore
	baseURL string
	logger  *zap.Logger
}

// NewGenerator создаёт генератор отчётов.
func NewGenerator(decoder Decoder, history HistorySource, store storage.DocumentStore, baseURL string, logger *zap.Logger) *Generator {
	return &Generator{
		decoder: decoder,
		history: history,
		store:   store,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Generate строит отчёт по VIN и тарифу. Сбои внешних источников данных
// не прерывают генерацию: соответствующие секции остаются пустыми.
// Сбой рендеринга или сохранения документа прерывает операцию целиком,
// частичный отчёт не сохраняется.
func (g *Generator) Generate(ctx context.Context, vin string, tier model.Tier, meta OrderMeta) (*model.Report, error) {
	info, ok := model.Tiers[tier]
	if !ok {
		return nil, fmt.Errorf("unknown tier: %s", tier)
	}

	now := time.Now()
	payload := model.ReportPayload{TitleStatus: "unknown"}

	if g.decoder != nil {
		specs, err := g.decoder.Decode(ctx, vin)
		if err != nil {
			g.logger.Warn("vin decode failed, proceeding with blank specs",
				zap.String("vin", vin), zap.Error(err))
		} else {
			payload.Specs = *specs
		}
	}

	history := &model.History{}
	if g.history != nil {
		h, err := g.history.Fetch(ctx, vin)
		if err != nil {
			g.logger.Warn("history fetch failed, proceeding with empty history",
				zap.String("vin", vin), zap.Error(err))
		} else {
			history = h
		}
	}

	if history.TitleStatus != "" {
		payload.TitleStatus = history.TitleStatus
	}
	payload.Odometer = history.Odometer
	payload.Accidents = history.Accidents
	payload.Recalls = history.Recalls
	payload.ServiceRecords = history.ServiceRecords

	if info.WithMarketData {
		payload.MarketValue = EstimateMarketValue(payload.Specs, history, now)
	}
	if info.WithVerdict {
		verdict := ScoreVerdict(history)
		payload.Verdict = &verdict
	}

	document, err := renderPDF(vin, tier, payload, meta)
	if err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}

	name := fmt.Sprintf("report-%d-%s.pdf", meta.OrderID, vin)
	path, err := g.store.Save(name, document)
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	return &model.Report{
		ID:           uuid.NewString(),
		OrderID:      meta.OrderID,
		VIN:          vin,
		Tier:         tier,
		Payload:      payload,
		DocumentPath: path,
		URL:          fmt.Sprintf("%s/api/reports/%d", g.baseURL, meta.OrderID),
		ExpiresAt:    now.Add(accessWindow),
		CreatedAt:    now,
	}, nil
}
