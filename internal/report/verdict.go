// Package report отвечает за сборку данных отчёта и его рендеринг в документ.
package report

import (
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/vinreport-system/internal/model"
)

// Веса и пороги детерминированной оценки. Фиксированы: один и тот же
// набор входных данных всегда даёт одинаковый результат.
const (
	verdictBaseScore      = 100
	accidentPenalty       = 15
	openRecallPenalty     = 10
	badTitlePenalty       = 25
	serviceRecordBonus    = 2
	serviceRecordBonusCap = 10

	buyThreshold     = 80
	cautionThreshold = 50
)

// Рекомендации, соответствующие диапазонам оценки.
const (
	RecommendationBuy     = "buy"
	RecommendationCaution = "caution"
	RecommendationAvoid   = "avoid"
)

// ScoreVerdict вычисляет оценку состояния автомобиля по истории эксплуатации
// и сопоставляет её с одной из трёх рекомендаций.
func ScoreVerdict(history *model.History) model.Verdict {
	score := verdictBaseScore

	score -= accidentPenalty * len(history.Accidents)

	for _, recall := range history.Recalls {
		if recall.Open {
			score -= openRecallPenalty
		}
	}

	switch strings.ToLower(history.TitleStatus) {
	case "salvage", "rebuilt", "flood", "lemon":
		score -= badTitlePenalty
	}

	bonus := serviceRecordBonus * len(history.ServiceRecords)
	if bonus > serviceRecordBonusCap {
		bonus = serviceRecordBonusCap
	}
	score += bonus

	if score < 0 {
		score = 0
	}
	if score > verdictBaseScore {
		score = verdictBaseScore
	}

	recommendation := RecommendationAvoid
	switch {
	case score >= buyThreshold:
		recommendation = RecommendationBuy
	case score >= cautionThreshold:
		recommendation = RecommendationCaution
	}

	return model.Verdict{Score: score, Recommendation: recommendation}
}

// EstimateMarketValue детерминированно строит оценочный диапазон стоимости
// по году выпуска и истории. Грубая эвристика до подключения внешнего
// источника рыночных данных.
func EstimateMarketValue(specs model.VehicleSpecs, history *model.History, now time.Time) *model.MarketValue {
	year, err := strconv.Atoi(specs.Year)
	if err != nil || year < 1980 || year > now.Year()+1 {
		return nil
	}

	age := now.Year() - year
	if age < 0 {
		age = 0
	}

	base := int64(35000)
	depreciated := base - int64(age)*1800
	if depreciated < 1500 {
		depreciated = 1500
	}

	for range history.Accidents {
		depreciated = depreciated * 85 / 100
	}
	if v := ScoreVerdict(history); v.Score < cautionThreshold {
		depreciated = depreciated * 90 / 100
	}

	return &model.MarketValue{
		Low:      depreciated * 85 / 100,
		Average:  depreciated,
		High:     depreciated * 115 / 100,
		Currency: "USD",
	}
}
