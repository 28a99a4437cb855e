// Package numerology derives core numbers from the birth date.
package numerology

import (
	"context"
	"fmt"

	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/engine"
)

const version = "numerology/1.0.0"

type Options struct {
	// ReferenceYear enables the personal year number.
	ReferenceYear int  `option:"reference_year"`
	KeepMasters   bool `option:"keep_masters"`
}

type Numbers struct {
	LifePath     int  `json:"life_path"`
	Birthday     int  `json:"birthday"`
	Attitude     int  `json:"attitude"`
	PersonalYear *int `json:"personal_year,omitempty"`
}

type Chart struct {
	Date    calendar.SolarDate `json:"date"`
	Numbers Numbers            `json:"numbers"`
	Masters []int              `json:"masters,omitempty"`
}

type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) System() engine.SystemType { return engine.SystemNumerology }
func (e *Engine) Version() string           { return version }

func (e *Engine) Description() string {
	return "Life path, birthday, attitude and personal year numbers"
}

func (e *Engine) Generate(ctx context.Context, moment calendar.CanonicalBirthMoment, opts engine.Options) (engine.Result, error) {
	o := Options{KeepMasters: true}
	if err := engine.DecodeOptions(opts, &o); err != nil {
		return engine.Result{}, err
	}
	if o.ReferenceYear != 0 && (o.ReferenceYear < 1900 || o.ReferenceYear > 2200) {
		return engine.Result{}, fmt.Errorf("%w: reference_year %d", engine.ErrInvalidOptions, o.ReferenceYear)
	}
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}

	chart := Compute(engine.CivilDate(moment), o)
	payload, err := engine.EncodePayload(chart)
	if err != nil {
		return engine.Result{}, engine.ComputationFailed(engine.SystemNumerology, "encode chart: %v", err)
	}

	var diags []engine.Diagnostic
	if len(chart.Masters) > 0 {
		diags = append(diags, engine.Diagnostic{
			Code:     "master_number",
			Severity: engine.SeverityInfo,
			Message:  fmt.Sprintf("master numbers present: %v", chart.Masters),
		})
	}
	return engine.Result{Payload: payload, Diagnostics: diags}, nil
}

func Compute(date calendar.SolarDate, o Options) Chart {
	reduce := func(n int) int { return Reduce(n, o.KeepMasters) }

	month := reduce(date.Month)
	day := reduce(date.Day)
	year := reduce(date.Year)

	numbers := Numbers{
		LifePath: reduce(month + day + year),
		Birthday: reduce(date.Day),
		Attitude: reduce(date.Month + date.Day),
	}
	if o.ReferenceYear != 0 {
		personal := Reduce(month+day+Reduce(o.ReferenceYear, false), false)
		numbers.PersonalYear = &personal
	}

	chart := Chart{Date: date, Numbers: numbers}
	for _, n := range []int{numbers.LifePath, numbers.Birthday, numbers.Attitude} {
		if isMaster(n) {
			chart.Masters = append(chart.Masters, n)
		}
	}
	return chart
}

// Reduce sums digits until one digit remains, stopping at 11, 22 or 33 when keepMasters is set.
func Reduce(n int, keepMasters bool) int {
	if n < 0 {
		n = -n
	}
	for n > 9 {
		if keepMasters && isMaster(n) {
			return n
		}
		sum := 0
		for ; n > 0; n /= 10 {
			sum += n % 10
		}
		n = sum
	}
	return n
}

func isMaster(n int) bool {
	return n == 11 || n == 22 || n == 33
}
