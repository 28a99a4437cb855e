// Package astrology computes the tropical sun sign of a birth date.
package astrology

import (
	"context"
	"fmt"

	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/engine"
)

const version = "astrology/1.0.1"

type Options struct {
	CuspDays          int  `option:"cusp_days"`
	TraditionalRulers bool `option:"traditional_rulers"`
}

type sign struct {
	name             string
	startMonth       int
	startDay         int
	ruler            string
	traditionalRuler string
}

// signs are in zodiac order from Aries; element and modality follow from the index.
var signs = [12]sign{
	{"aries", 3, 21, "mars", "mars"},
	{"taurus", 4, 20, "venus", "venus"},
	{"gemini", 5, 21, "mercury", "mercury"},
	{"cancer", 6, 21, "moon", "moon"},
	{"leo", 7, 23, "sun", "sun"},
	{"virgo", 8, 23, "mercury", "mercury"},
	{"libra", 9, 23, "venus", "venus"},
	{"scorpio", 10, 23, "pluto", "mars"},
	{"sagittarius", 11, 22, "jupiter", "jupiter"},
	{"capricorn", 12, 22, "saturn", "saturn"},
	{"aquarius", 1, 20, "uranus", "saturn"},
	{"pisces", 2, 19, "neptune", "jupiter"},
}

var (
	elements   = [4]string{"fire", "earth", "air", "water"}
	modalities = [3]string{"cardinal", "fixed", "mutable"}
)

type SunSign struct {
	Sign     string `json:"sign"`
	Element  string `json:"element"`
	Modality string `json:"modality"`
	Ruler    string `json:"ruler"`
	Decan    int    `json:"decan"`
	// Degree is the approximate position within the sign, 0-29.
	Degree int `json:"degree"`
}

type Chart struct {
	Date     calendar.SolarDate `json:"date"`
	Sun      SunSign            `json:"sun"`
	Opposite string             `json:"opposite"`
}

type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) System() engine.SystemType { return engine.SystemAstrology }
func (e *Engine) Version() string           { return version }

func (e *Engine) Description() string {
	return "Western tropical sun sign with element, modality, ruler and decan"
}

func (e *Engine) Generate(ctx context.Context, moment calendar.CanonicalBirthMoment, opts engine.Options) (engine.Result, error) {
	o := Options{CuspDays: 2}
	if err := engine.DecodeOptions(opts, &o); err != nil {
		return engine.Result{}, err
	}
	if o.CuspDays < 0 || o.CuspDays > 7 {
		return engine.Result{}, fmt.Errorf("%w: cusp_days must be within 0-7", engine.ErrInvalidOptions)
	}
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}

	chart, diags := Compute(engine.CivilDate(moment), o)
	payload, err := engine.EncodePayload(chart)
	if err != nil {
		return engine.Result{}, engine.ComputationFailed(engine.SystemAstrology, "encode chart: %v", err)
	}
	return engine.Result{Payload: payload, Diagnostics: diags}, nil
}

func Compute(date calendar.SolarDate, o Options) (Chart, []engine.Diagnostic) {
	idx := signIndex(date.Month, date.Day)
	s := signs[idx]

	start := startOf(idx, date.Year, date.Month)
	n := signs[(idx+1)%12]
	next := calendar.SolarDate{Year: start.Year, Month: n.startMonth, Day: n.startDay}
	if calendar.DaysBetween(start, next) <= 0 {
		next.Year++
	}
	elapsed := calendar.DaysBetween(start, date)
	length := calendar.DaysBetween(start, next)

	degree := elapsed * 30 / length
	ruler := s.ruler
	if o.TraditionalRulers {
		ruler = s.traditionalRuler
	}

	chart := Chart{
		Date: date,
		Sun: SunSign{
			Sign:     s.name,
			Element:  elements[idx%4],
			Modality: modalities[idx%3],
			Ruler:    ruler,
			Decan:    degree/10 + 1,
			Degree:   degree,
		},
		Opposite: signs[(idx+6)%12].name,
	}

	var diags []engine.Diagnostic
	if o.CuspDays > 0 {
		switch {
		case elapsed < o.CuspDays:
			diags = append(diags, cusp(signs[(idx+11)%12].name, s.name))
		case length-elapsed <= o.CuspDays:
			diags = append(diags, cusp(s.name, signs[(idx+1)%12].name))
		}
	}
	return chart, diags
}

func cusp(from, to string) engine.Diagnostic {
	return engine.Diagnostic{
		Code:     "cusp",
		Severity: engine.SeverityWarning,
		Message:  fmt.Sprintf("born on the %s-%s cusp; birth time decides the sign", from, to),
	}
}

func signIndex(month, day int) int {
	for i := range signs {
		s := signs[i]
		n := signs[(i+1)%12]
		if (month == s.startMonth && day >= s.startDay) || (month == n.startMonth && day < n.startDay) {
			return i
		}
	}
	return 0
}

// startOf returns the start of sign idx on or before the given month.
func startOf(idx, year, month int) calendar.SolarDate {
	s := signs[idx]
	if s.startMonth > month {
		year--
	}
	return calendar.SolarDate{Year: year, Month: s.startMonth, Day: s.startDay}
}
