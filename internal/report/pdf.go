package report

import (
	"fmt"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/mmeshcher/vinreport-system/internal/model"
)

// renderPDF рендерит собранные данные отчёта в PDF-документ.
func renderPDF(vin string, tier model.Tier, payload model.ReportPayload, meta OrderMeta) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	tierName := string(tier)
	if info, ok := model.Tiers[tier]; ok {
		tierName = info.Name
	}

	m.AddRow(20,
		text.NewCol(8, "Vehicle History Report", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, tierName, props.Text{
			Size:  12,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(18,
		col.New(6).Add(
			text.New("VIN: "+vin, props.Text{Top: 0, Style: fontstyle.Bold}),
			text.New("Order: "+meta.TransactionCode, props.Text{Top: 5}),
			text.New("Prepared for: "+meta.CustomerName, props.Text{Top: 10}),
		),
		col.New(6),
	)

	m.AddRow(10, sectionTitle("Vehicle"))
	specs := payload.Specs
	m.AddRow(24,
		col.New(6).Add(
			text.New("Make: "+orDash(specs.Make), props.Text{Size: 9}),
			text.New("Model: "+orDash(specs.Model), props.Text{Size: 9, Top: 4}),
			text.New("Year: "+orDash(specs.Year), props.Text{Size: 9, Top: 8}),
			text.New("Body: "+orDash(specs.BodyClass), props.Text{Size: 9, Top: 12}),
		),
		col.New(6).Add(
			text.New("Engine cylinders: "+orDash(specs.EngineCyl), props.Text{Size: 9}),
			text.New("Fuel: "+orDash(specs.FuelType), props.Text{Size: 9, Top: 4}),
			text.New("Drive: "+orDash(specs.DriveType), props.Text{Size: 9, Top: 8}),
			text.New("Assembled in: "+orDash(specs.PlantCountry), props.Text{Size: 9, Top: 12}),
		),
	)

	m.AddRow(10, sectionTitle("Title status"))
	m.AddRow(8, text.NewCol(12, strings.ToUpper(orDash(payload.TitleStatus)), props.Text{Size: 10, Style: fontstyle.Bold}))

	m.AddRow(10, sectionTitle("Odometer readings"))
	if len(payload.Odometer) == 0 {
		m.AddRow(8, noRecords())
	} else {
		m.AddRow(7,
			text.NewCol(4, "Date", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(4, "Mileage", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
			text.NewCol(4, "Source", props.Text{Style: fontstyle.Bold, Size: 9}),
		)
		for _, entry := range payload.Odometer {
			m.AddRow(7,
				text.NewCol(4, entry.Date, props.Text{Size: 9}),
				text.NewCol(4, fmt.Sprintf("%d mi", entry.Mileage), props.Text{Size: 9, Align: align.Right}),
				text.NewCol(4, entry.Source, props.Text{Size: 9}),
			)
		}
	}

	m.AddRow(10, sectionTitle("Accidents"))
	if len(payload.Accidents) == 0 {
		m.AddRow(8, noRecords())
	} else {
		for _, accident := range payload.Accidents {
			m.AddRow(8,
				text.NewCol(3, accident.Date, props.Text{Size: 9}),
				text.NewCol(3, accident.Severity, props.Text{Size: 9}),
				text.NewCol(6, accident.Details, props.Text{Size: 9}),
			)
		}
	}

	m.AddRow(10, sectionTitle("Recalls"))
	if len(payload.Recalls) == 0 {
		m.AddRow(8, noRecords())
	} else {
		for _, recall := range payload.Recalls {
			state := "closed"
			if recall.Open {
				state = "OPEN"
			}
			m.AddRow(8,
				text.NewCol(3, recall.Campaign, props.Text{Size: 9}),
				text.NewCol(7, recall.Summary, props.Text{Size: 9}),
				text.NewCol(2, state, props.Text{Size: 9, Align: align.Right}),
			)
		}
	}

	m.AddRow(10, sectionTitle("Service history"))
	if len(payload.ServiceRecords) == 0 {
		m.AddRow(8, noRecords())
	} else {
		for _, record := range payload.ServiceRecords {
			m.AddRow(8,
				text.NewCol(3, record.Date, props.Text{Size: 9}),
				text.NewCol(3, fmt.Sprintf("%d mi", record.Odometer), props.Text{Size: 9}),
				text.NewCol(6, record.Work, props.Text{Size: 9}),
			)
		}
	}

	if payload.MarketValue != nil {
		mv := payload.MarketValue
		m.AddRow(10, sectionTitle("Market value"))
		m.AddRow(8,
			text.NewCol(4, fmt.Sprintf("Low: $%d", mv.Low), props.Text{Size: 9}),
			text.NewCol(4, fmt.Sprintf("Average: $%d", mv.Average), props.Text{Size: 9, Align: align.Center}),
			text.NewCol(4, fmt.Sprintf("High: $%d", mv.High), props.Text{Size: 9, Align: align.Right}),
		)
	}

	if payload.Verdict != nil {
		m.AddRow(10, sectionTitle("Verdict"))
		m.AddRow(12,
			text.NewCol(6, fmt.Sprintf("Score: %d / 100", payload.Verdict.Score), props.Text{
				Size:  12,
				Style: fontstyle.Bold,
			}),
			text.NewCol(6, strings.ToUpper(payload.Verdict.Recommendation), props.Text{
				Size:  12,
				Style: fontstyle.Bold,
				Align: align.Right,
			}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate pdf: %w", err)
	}

	return doc.GetBytes(), nil
}

func sectionTitle(title string) core.Col {
	return text.NewCol(12, title, props.Text{Size: 11, Style: fontstyle.Bold})
}

func noRecords() core.Col {
	return text.NewCol(12, "No records found", props.Text{Size: 9})
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
