// Package model содержит доменные сущности сервиса отчётов об истории автомобилей.
package model

import (
	"encoding/json"
	"time"
)

// OrderStatus описывает статус обработки заказа на отчёт.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSuccess   OrderStatus = "success"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal сообщает, является ли статус конечным: из него нет переходов.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusExpired, OrderStatusCancelled:
		return true
	}
	return false
}

// Tier описывает тариф отчёта.
type Tier string

const (
	TierBasic    Tier = "tier1"
	TierStandard Tier = "tier2"
	TierPremium  Tier = "tier3"
)

// TierInfo содержит фиксированную цену тарифа в минорных единицах и состав отчёта.
type TierInfo struct {
	Name           string
	AmountCents    int64
	Currency       string
	WithMarketData bool
	WithVerdict    bool
}

// Tiers задаёт фиксированное соответствие тарифа цене и набору секций отчёта.
var Tiers = map[Tier]TierInfo{
	TierBasic:    {Name: "Basic", AmountCents: 1499, Currency: "USD"},
	TierStandard: {Name: "Standard", AmountCents: 2499, Currency: "USD", WithMarketData: true, WithVerdict: true},
	TierPremium:  {Name: "Premium", AmountCents: 3999, Currency: "USD", WithMarketData: true, WithVerdict: true},
}

// Customer содержит контактные данные покупателя.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Order описывает покупку отчёта и её платёжный статус.
// Сумма и тариф неизменяемы после создания; мутируют только статус,
// идентификаторы провайдера и ссылка на отчёт.
type Order struct {
	ID                int64
	TransactionCode   string
	Tier              Tier
	VIN               string
	AmountCents       int64
	Currency          string
	Customer          Customer
	Provider          string
	ProviderSessionID string
	ProviderPaymentID string
	Status            OrderStatus
	ReportURL         string
	ReportExpiresAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Report описывает сгенерированный отчёт. Создаётся ровно один раз на заказ.
type Report struct {
	ID             string
	OrderID        int64
	VIN            string
	Tier           Tier
	Payload        ReportPayload
	DocumentPath   string
	URL            string
	Downloads      int64
	LastAccessedAt *time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// Expired сообщает, истёк ли срок доступа к отчёту на момент now.
func (r *Report) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ReportPayload содержит структурированные данные отчёта.
type ReportPayload struct {
	Specs          VehicleSpecs    `json:"specs"`
	TitleStatus    string          `json:"title_status"`
	Odometer       []OdometerEntry `json:"odometer,omitempty"`
	Accidents      []Accident      `json:"accidents,omitempty"`
	Recalls        []Recall        `json:"recalls,omitempty"`
	ServiceRecords []ServiceRecord `json:"service_records,omitempty"`
	MarketValue    *MarketValue    `json:"market_value,omitempty"`
	Verdict        *Verdict        `json:"verdict,omitempty"`
}

// VehicleSpecs содержит описательные характеристики автомобиля из VIN-декодера.
type VehicleSpecs struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         string `json:"year"`
	BodyClass    string `json:"body_class"`
	EngineCyl    string `json:"engine_cylinders"`
	FuelType     string `json:"fuel_type"`
	DriveType    string `json:"drive_type"`
	PlantCountry string `json:"plant_country"`
}

// OdometerEntry описывает одно показание одометра.
type OdometerEntry struct {
	Date    string `json:"date"`
	Mileage int64  `json:"mileage"`
	Source  string `json:"source"`
}

// Accident описывает зафиксированное ДТП.
type Accident struct {
	Date     string `json:"date"`
	Severity string `json:"severity"`
	Details  string `json:"details"`
}

// Recall описывает отзывную кампанию производителя.
type Recall struct {
	Campaign string `json:"campaign"`
	Summary  string `json:"summary"`
	Open     bool   `json:"open"`
}

// ServiceRecord описывает запись о техническом обслуживании.
type ServiceRecord struct {
	Date     string `json:"date"`
	Odometer int64  `json:"odometer"`
	Work     string `json:"work"`
}

// MarketValue содержит оценочный диапазон рыночной стоимости.
type MarketValue struct {
	Low      int64  `json:"low"`
	Average  int64  `json:"average"`
	High     int64  `json:"high"`
	Currency string `json:"currency"`
}

// Verdict содержит детерминированную оценку и рекомендацию.
type Verdict struct {
	Score          int    `json:"score"`
	Recommendation string `json:"recommendation"`
}

// History содержит историю эксплуатации автомобиля из внешнего реестра.
type History struct {
	TitleStatus    string          `json:"title_status"`
	Odometer       []OdometerEntry `json:"odometer"`
	Accidents      []Accident      `json:"accidents"`
	Recalls        []Recall        `json:"recalls"`
	ServiceRecords []ServiceRecord `json:"service_records"`
}

// TransactionLogEntry описывает одну запись журнала операций по заказу.
// Журнал только пополняется и никогда не изменяется.
type TransactionLogEntry struct {
	ID        int64
	OrderID   int64
	Status    OrderStatus
	Action    string
	Payload   json.RawMessage
	CreatedAt time.Time
}
