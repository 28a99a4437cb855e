// Package bazi derives the four pillars of a birth moment.
package bazi

import (
	"context"
	"fmt"

	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/engine"
)

const version = "bazi/1.2.0"

type Options struct {
	IncludeHiddenStems  bool `option:"include_hidden_stems"`
	IncludeTenGods      bool `option:"include_ten_gods"`
	BoundaryWarningDays int  `option:"boundary_warning_days"`
}

type Pillars struct {
	Year  calendar.Pillar `json:"year"`
	Month calendar.Pillar `json:"month"`
	Day   calendar.Pillar `json:"day"`
	Hour  calendar.Pillar `json:"hour"`
}

type DayMaster struct {
	Stem    string           `json:"stem"`
	Element calendar.Element `json:"element"`
	Yang    bool             `json:"yang"`
}

type Chart struct {
	Pillars     Pillars                  `json:"pillars"`
	DayMaster   DayMaster                `json:"day_master"`
	Elements    map[calendar.Element]int `json:"elements"`
	YearNayin   calendar.Element         `json:"year_nayin"`
	SolarMonth  calendar.SolarMonth      `json:"solar_month"`
	HiddenStems map[string][]string      `json:"hidden_stems,omitempty"`
	TenGods     map[string]string        `json:"ten_gods,omitempty"`
}

type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) System() engine.SystemType { return engine.SystemBazi }
func (e *Engine) Version() string           { return version }

func (e *Engine) Description() string {
	return "Four pillars with solar-term months, five-rat hour stems and element balance"
}

func (e *Engine) Generate(ctx context.Context, moment calendar.CanonicalBirthMoment, opts engine.Options) (engine.Result, error) {
	o := Options{BoundaryWarningDays: 1}
	if err := engine.DecodeOptions(opts, &o); err != nil {
		return engine.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}

	chart, diags := Compute(moment, o)
	payload, err := engine.EncodePayload(chart)
	if err != nil {
		return engine.Result{}, engine.ComputationFailed(engine.SystemBazi, "encode chart: %v", err)
	}
	return engine.Result{Payload: payload, Diagnostics: diags}, nil
}

// Compute builds the chart. A late Zi hour kept on its stated day takes its stem from
// the following day.
func Compute(moment calendar.CanonicalBirthMoment, o Options) (Chart, []engine.Diagnostic) {
	var diags []engine.Diagnostic

	month := calendar.SolarMonthOf(moment.Solar)
	year := calendar.YearPillarOf(month.PillarYear)
	monthPillar := calendar.Pillar{
		Stem:   calendar.MonthStem(year.Stem, month.Index),
		Branch: month.Branch,
	}
	day := calendar.DayPillar(moment.Solar)

	hourDayStem := day.Stem
	if moment.ZiPhase == calendar.ZiPhaseLate {
		hourDayStem = calendar.DayPillar(moment.Solar.AddDays(1)).Stem
		diags = append(diags, engine.Diagnostic{
			Code:     "late_zi_same_day",
			Severity: engine.SeverityInfo,
			Message:  "late Zi hour kept on the stated day; hour stem follows the next day",
		})
	}
	hour := calendar.Pillar{
		Stem:   calendar.HourStem(hourDayStem, moment.HourBranch),
		Branch: moment.HourBranch,
	}

	if since := month.DaysSinceOpening(moment.Solar); since == 0 {
		diags = append(diags, engine.Diagnostic{
			Code:     "on_term_boundary",
			Severity: engine.SeverityWarning,
			Message:  fmt.Sprintf("birth date is the day of %s; month pillar depends on the exact term time", month.Opening.Name),
		})
	} else if o.BoundaryWarningDays > 0 && month.DaysToNext <= o.BoundaryWarningDays {
		diags = append(diags, engine.Diagnostic{
			Code:     "near_term_boundary",
			Severity: engine.SeverityWarning,
			Message:  fmt.Sprintf("next solar term is %d day(s) away", month.DaysToNext),
		})
	}

	pillars := Pillars{Year: year, Month: monthPillar, Day: day, Hour: hour}
	chart := Chart{
		Pillars: pillars,
		DayMaster: DayMaster{
			Stem:    day.Stem.Name(),
			Element: day.Stem.Element(),
			Yang:    day.Stem.Yang(),
		},
		Elements:   tally(pillars),
		YearNayin:  year.Nayin(),
		SolarMonth: month,
	}

	if o.IncludeHiddenStems {
		chart.HiddenStems = map[string][]string{}
		for label, p := range pillars.byLabel() {
			for _, s := range hiddenStems[p.Branch] {
				chart.HiddenStems[label] = append(chart.HiddenStems[label], s.Name())
			}
		}
	}
	if o.IncludeTenGods {
		chart.TenGods = map[string]string{
			"year":  TenGod(day.Stem, year.Stem),
			"month": TenGod(day.Stem, monthPillar.Stem),
			"hour":  TenGod(day.Stem, hour.Stem),
		}
	}
	return chart, diags
}

func (p Pillars) byLabel() map[string]calendar.Pillar {
	return map[string]calendar.Pillar{"year": p.Year, "month": p.Month, "day": p.Day, "hour": p.Hour}
}

func tally(p Pillars) map[calendar.Element]int {
	counts := map[calendar.Element]int{
		calendar.ElementWood:  0,
		calendar.ElementFire:  0,
		calendar.ElementEarth: 0,
		calendar.ElementMetal: 0,
		calendar.ElementWater: 0,
	}
	for _, pillar := range []calendar.Pillar{p.Year, p.Month, p.Day, p.Hour} {
		counts[pillar.Stem.Element()]++
		counts[pillar.Branch.Element()]++
	}
	return counts
}
