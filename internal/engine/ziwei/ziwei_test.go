package ziwei

import (
	"context"
	"testing"

	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func moment(t *testing.T, gender calendar.Gender) calendar.CanonicalBirthMoment {
	t.Helper()
	m, err := calendar.Resolve(calendar.BirthInput{
		Calendar: calendar.CalendarSolar, Year: 1990, Month: 6, Day: 15, Hour: 10, Minute: 30, Gender: gender,
	}, calendar.PolicyStrictSameDay)
	require.NoError(t, err)
	return m
}

func palaceWith(chart Chart, star string) (Palace, Star) {
	for _, p := range chart.Palaces {
		for _, s := range p.Stars {
			if s.Name == star {
				return p, s
			}
		}
	}
	return Palace{}, Star{}
}

func TestCompute_Chart(t *testing.T) {
	chart, diags := Compute(moment(t, calendar.GenderFemale), Options{LeapMonth: LeapSplit, Transformations: true, MajorPeriods: true})
	assert.Empty(t, diags)

	assert.Equal(t, 5, chart.LunarMonth)
	assert.Equal(t, 23, chart.LunarDay)
	assert.Equal(t, "geng", chart.YearStem)
	assert.Equal(t, "chou", chart.Ming)
	assert.Equal(t, "hai", chart.Body)
	assert.Equal(t, Bureau{Element: calendar.ElementFire, Number: 6}, chart.Bureau)

	require.Len(t, chart.Palaces, 12)
	assert.Equal(t, "life", chart.Palaces[0].Name)
	assert.Equal(t, "chou", chart.Palaces[0].Branch)
	assert.Equal(t, "ji", chart.Palaces[0].Stem)

	p, _ := palaceWith(chart, "ziwei")
	assert.Equal(t, "chen", p.Branch)
	assert.Equal(t, "property", p.Name)

	p, _ = palaceWith(chart, "tianfu")
	assert.Equal(t, "zi", p.Branch)

	_, s := palaceWith(chart, "taiyang")
	assert.Equal(t, "lu", s.Transformation)
	_, s = palaceWith(chart, "tiantong")
	assert.Equal(t, "ji", s.Transformation)

	total := 0
	bodies := 0
	for _, p := range chart.Palaces {
		total += len(p.Stars)
		if p.Body {
			bodies++
			assert.Equal(t, "hai", p.Branch)
		}
	}
	assert.Equal(t, len(starOrder), total)
	assert.Equal(t, 1, bodies)

	assert.Equal(t, "backward", chart.Direction)
	assert.Equal(t, &AgeRange{From: 6, To: 15}, chart.Palaces[0].MajorPeriod)
	assert.Equal(t, &AgeRange{From: 16, To: 25}, chart.Palaces[1].MajorPeriod)
}

func TestCompute_MaleGoesForward(t *testing.T) {
	chart, _ := Compute(moment(t, calendar.GenderMale), Options{LeapMonth: LeapSplit, MajorPeriods: true})
	assert.Equal(t, "forward", chart.Direction)
	assert.Equal(t, &AgeRange{From: 16, To: 25}, chart.Palaces[11].MajorPeriod)
}

func TestCompute_UnspecifiedGenderSkipsPeriods(t *testing.T) {
	chart, diags := Compute(moment(t, calendar.GenderUnspecified), Options{LeapMonth: LeapSplit, MajorPeriods: true})
	assert.Empty(t, chart.Direction)
	for _, p := range chart.Palaces {
		assert.Nil(t, p.MajorPeriod)
	}
	require.Len(t, diags, 1)
	assert.Equal(t, "major_periods_skipped", diags[0].Code)
}

func TestZiweiPosition(t *testing.T) {
	assert.Equal(t, int(calendar.BranchChou), ziweiPosition(1, 2))
	assert.Equal(t, int(calendar.BranchYin), ziweiPosition(2, 2))
	assert.Equal(t, int(calendar.BranchYou), ziweiPosition(1, 6))
	assert.Equal(t, int(calendar.BranchChen), ziweiPosition(23, 6))
}

func TestEffectiveMonth(t *testing.T) {
	leap := calendar.LunarDate{Year: 2017, Month: 6, Day: 16, Leap: true}
	assert.Equal(t, 7, effectiveMonth(leap, LeapSplit))
	assert.Equal(t, 6, effectiveMonth(leap, LeapCurrent))
	assert.Equal(t, 7, effectiveMonth(leap, LeapNext))

	leap.Day = 15
	assert.Equal(t, 6, effectiveMonth(leap, LeapSplit))

	assert.Equal(t, 1, effectiveMonth(calendar.LunarDate{Month: 12, Day: 20, Leap: true}, LeapNext))
	assert.Equal(t, 3, effectiveMonth(calendar.LunarDate{Month: 3, Day: 20}, LeapNext))
}

func TestGenerate_RejectsUnknownLeapHandling(t *testing.T) {
	_, err := New().Generate(context.Background(), moment(t, calendar.GenderFemale), engine.Options{"leap_month": "ignore"})
	assert.ErrorIs(t, err, engine.ErrInvalidOptions)

	res, err := New().Generate(context.Background(), moment(t, calendar.GenderFemale), engine.Options{"leap_month": "next"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Payload)
}
