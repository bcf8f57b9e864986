package report

import (
	"testing"
	"time"

	"github.com/mmeshcher/vinreport-system/internal/model"
)

func TestScoreVerdict(t *testing.T) {
	tests := []struct {
		name    string
		history model.History
		score   int
		label   string
	}{
		{
			name:    "clean history",
			history: model.History{TitleStatus: "clean"},
			score:   100,
			label:   RecommendationBuy,
		},
		{
			name: "one accident clean title three service records",
			history: model.History{
				TitleStatus:    "clean",
				Accidents:      []model.Accident{{Date: "2021-04-10", Severity: "minor"}},
				ServiceRecords: []model.ServiceRecord{{}, {}, {}},
			},
			score: 91,
			label: RecommendationBuy,
		},
		{
			name: "salvage title with open recall",
			history: model.History{
				TitleStatus: "salvage",
				Recalls:     []model.Recall{{Campaign: "21V-123", Open: true}},
			},
			score: 65,
			label: RecommendationCaution,
		},
		{
			name: "heavily damaged",
			history: model.History{
				TitleStatus: "rebuilt",
				Accidents:   []model.Accident{{}, {}, {}},
				Recalls:     []model.Recall{{Open: true}, {Open: true}},
			},
			score: 10,
			label: RecommendationAvoid,
		},
		{
			name: "service bonus is capped",
			history: model.History{
				TitleStatus:    "clean",
				Accidents:      []model.Accident{{}, {}},
				ServiceRecords: make([]model.ServiceRecord, 20),
			},
			score: 80,
			label: RecommendationBuy,
		},
		{
			name: "closed recalls do not subtract",
			history: model.History{
				TitleStatus: "clean",
				Recalls:     []model.Recall{{Open: false}, {Open: false}},
			},
			score: 100,
			label: RecommendationBuy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreVerdict(&tt.history)
			if got.Score != tt.score {
				t.Fatalf("score = %d, want %d", got.Score, tt.score)
			}
			if got.Recommendation != tt.label {
				t.Fatalf("recommendation = %q, want %q", got.Recommendation, tt.label)
			}
		})
	}
}

func TestScoreVerdictDeterministic(t *testing.T) {
	history := model.History{
		TitleStatus:    "clean",
		Accidents:      []model.Accident{{Date: "2020-01-01"}},
		ServiceRecords: []model.ServiceRecord{{}, {}, {}},
	}

	first := ScoreVerdict(&history)
	for i := 0; i < 100; i++ {
		got := ScoreVerdict(&history)
		if got != first {
			t.Fatalf("run %d: verdict %+v differs from %+v", i, got, first)
		}
	}
}

func TestEstimateMarketValue(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	mv := EstimateMarketValue(model.VehicleSpecs{Year: "2020"}, &model.History{TitleStatus: "clean"}, now)
	if mv == nil {
		t.Fatalf("expected market value for a valid year")
	}
	if mv.Low >= mv.Average || mv.Average >= mv.High {
		t.Fatalf("range must be ordered: %+v", mv)
	}

	damaged := EstimateMarketValue(model.VehicleSpecs{Year: "2020"}, &model.History{
		TitleStatus: "clean",
		Accidents:   []model.Accident{{}},
	}, now)
	if damaged.Average >= mv.Average {
		t.Fatalf("accident must reduce the estimate: %d >= %d", damaged.Average, mv.Average)
	}

	if got := EstimateMarketValue(model.VehicleSpecs{Year: "unknown"}, &model.History{}, now); got != nil {
		t.Fatalf("expected nil for unparseable year, got %+v", got)
	}
}
