// Package ziwei places the fourteen major stars of a Zi Wei Dou Shu chart.
package ziwei

import (
	"context"
	"fmt"

	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/engine"
)

const version = "ziwei/1.1.0"

// Leap month handling.
const (
	LeapSplit   = "split"
	LeapCurrent = "current"
	LeapNext    = "next"
)

type Options struct {
	LeapMonth       string `option:"leap_month"`
	Transformations bool   `option:"transformations"`
	MajorPeriods    bool   `option:"major_periods"`
}

type Star struct {
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	Transformation string `json:"transformation,omitempty"`
}

type AgeRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type Palace struct {
	Name        string    `json:"name"`
	Branch      string    `json:"branch"`
	Stem        string    `json:"stem"`
	Body        bool      `json:"body,omitempty"`
	Stars       []Star    `json:"stars"`
	MajorPeriod *AgeRange `json:"major_period,omitempty"`
}

type Bureau struct {
	Element calendar.Element `json:"element"`
	Number  int              `json:"number"`
}

type Chart struct {
	LunarMonth int      `json:"lunar_month"`
	LunarDay   int      `json:"lunar_day"`
	YearStem   string   `json:"year_stem"`
	Bureau     Bureau   `json:"bureau"`
	Ming       string   `json:"ming"`
	Body       string   `json:"body"`
	Direction  string   `json:"direction,omitempty"`
	Palaces    []Palace `json:"palaces"`
}

type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) System() engine.SystemType { return engine.SystemZiwei }
func (e *Engine) Version() string           { return version }

func (e *Engine) Description() string {
	return "Zi Wei Dou Shu chart: twelve palaces, bureau, major and auxiliary stars"
}

func (e *Engine) Generate(ctx context.Context, moment calendar.CanonicalBirthMoment, opts engine.Options) (engine.Result, error) {
	o := Options{LeapMonth: LeapSplit, Transformations: true, MajorPeriods: true}
	if err := engine.DecodeOptions(opts, &o); err != nil {
		return engine.Result{}, err
	}
	switch o.LeapMonth {
	case LeapSplit, LeapCurrent, LeapNext:
	default:
		return engine.Result{}, fmt.Errorf("%w: leap_month %q", engine.ErrInvalidOptions, o.LeapMonth)
	}
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}

	chart, diags := Compute(moment, o)
	payload, err := engine.EncodePayload(chart)
	if err != nil {
		return engine.Result{}, engine.ComputationFailed(engine.SystemZiwei, "encode chart: %v", err)
	}
	return engine.Result{Payload: payload, Diagnostics: diags}, nil
}

func Compute(moment calendar.CanonicalBirthMoment, o Options) (Chart, []engine.Diagnostic) {
	var diags []engine.Diagnostic

	month := effectiveMonth(moment.Lunar, o.LeapMonth)
	if moment.Lunar.Leap {
		diags = append(diags, engine.Diagnostic{
			Code:     "leap_month",
			Severity: engine.SeverityInfo,
			Message:  fmt.Sprintf("born in leap month %d; charted as month %d", moment.Lunar.Month, month),
		})
	}

	hour := int(moment.HourBranch)
	ming := mod(2+(month-1)-hour, 12)
	body := mod(2+(month-1)+hour, 12)

	yearStem := calendar.YearPillarOf(moment.Lunar.Year).Stem
	firstStem := calendar.MonthStem(yearStem, 0)
	stemOf := func(branch int) calendar.Stem {
		return calendar.Stem(mod(int(firstStem)+mod(branch-2, 12), 10))
	}

	bureau := bureauOf(calendar.Pillar{Stem: stemOf(ming), Branch: calendar.Branch(ming)})
	stars := placeStars(ziweiPosition(moment.Lunar.Day, bureau.Number), month, hour)

	if o.Transformations {
		for name, transformation := range transformations[mod(int(yearStem), 10)] {
			if s, ok := stars[name]; ok {
				s.Transformation = transformation
				stars[name] = s
			}
		}
	}

	palaces := make([]Palace, 12)
	for i := range palaces {
		branch := mod(ming-i, 12)
		palaces[i] = Palace{
			Name:   palaceNames[i],
			Branch: calendar.Branch(branch).Name(),
			Stem:   stemOf(branch).Name(),
			Body:   branch == body,
			Stars:  []Star{},
		}
	}
	for _, name := range starOrder {
		s := stars[name]
		i := mod(ming-s.position, 12)
		palaces[i].Stars = append(palaces[i].Stars, s.Star)
	}

	chart := Chart{
		LunarMonth: month,
		LunarDay:   moment.Lunar.Day,
		YearStem:   yearStem.Name(),
		Bureau:     bureau,
		Ming:       calendar.Branch(ming).Name(),
		Body:       calendar.Branch(body).Name(),
		Palaces:    palaces,
	}

	if o.MajorPeriods {
		forward, ok := periodDirection(yearStem, moment.Gender)
		if !ok {
			diags = append(diags, engine.Diagnostic{
				Code:     "major_periods_skipped",
				Severity: engine.SeverityInfo,
				Message:  "gender is unspecified; major period direction is undefined",
			})
		} else {
			chart.Direction = "backward"
			if forward {
				chart.Direction = "forward"
			}
			for step := 0; step < 12; step++ {
				branch := ming - step
				if forward {
					branch = ming + step
				}
				i := mod(ming-mod(branch, 12), 12)
				from := bureau.Number + step*10
				chart.Palaces[i].MajorPeriod = &AgeRange{From: from, To: from + 9}
			}
		}
	}
	return chart, diags
}

func effectiveMonth(lunar calendar.LunarDate, policy string) int {
	if !lunar.Leap {
		return lunar.Month
	}
	next := lunar.Month%12 + 1
	switch policy {
	case LeapCurrent:
		return lunar.Month
	case LeapNext:
		return next
	default:
		if lunar.Day <= 15 {
			return lunar.Month
		}
		return next
	}
}

func bureauOf(p calendar.Pillar) Bureau {
	element := p.Nayin()
	return Bureau{Element: element, Number: bureauNumbers[element]}
}

// ziweiPosition finds the branch of the Zi Wei star from the lunar day and bureau.
func ziweiPosition(day, bureau int) int {
	x := 0
	for (day+x)%bureau != 0 {
		x++
	}
	pos := 2 + (day+x)/bureau - 1
	if x%2 == 1 {
		pos -= x
	} else {
		pos += x
	}
	return mod(pos, 12)
}

type placedStar struct {
	Star
	position int
}

func placeStars(ziwei, month, hour int) map[string]placedStar {
	tianfu := mod(16-ziwei, 12)
	placed := map[string]placedStar{}
	put := func(name, kind string, pos int) {
		placed[name] = placedStar{Star: Star{Name: name, Kind: kind}, position: mod(pos, 12)}
	}

	put("ziwei", "major", ziwei)
	put("tianji", "major", ziwei-1)
	put("taiyang", "major", ziwei-3)
	put("wuqu", "major", ziwei-4)
	put("tiantong", "major", ziwei-5)
	put("lianzhen", "major", ziwei-8)

	put("tianfu", "major", tianfu)
	put("taiyin", "major", tianfu+1)
	put("tanlang", "major", tianfu+2)
	put("jumen", "major", tianfu+3)
	put("tianxiang", "major", tianfu+4)
	put("tianliang", "major", tianfu+5)
	put("qisha", "major", tianfu+6)
	put("pojun", "major", tianfu+10)

	put("wenchang", "auxiliary", 10-hour)
	put("wenqu", "auxiliary", 4+hour)
	put("zuofu", "auxiliary", 4+(month-1))
	put("youbi", "auxiliary", 10-(month-1))
	return placed
}

// periodDirection reports whether major periods run forward through the branches.
// Yang-year men and yin-year women go forward.
func periodDirection(yearStem calendar.Stem, gender calendar.Gender) (bool, bool) {
	switch gender {
	case calendar.GenderMale:
		return yearStem.Yang(), true
	case calendar.GenderFemale:
		return !yearStem.Yang(), true
	default:
		return false, false
	}
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
