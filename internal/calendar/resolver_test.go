package calendar

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solarInput(y, m, d, hour, minute int) BirthInput {
	return BirthInput{Calendar: CalendarSolar, Year: y, Month: m, Day: d, Hour: hour, Minute: minute}
}

func TestResolve_ZiBoundary(t *testing.T) {
	cases := []struct {
		name     string
		hour     int
		minute   int
		policy   RectificationPolicy
		wantDate SolarDate
		branch   Branch
		phase    ZiPhase
		advanced bool
	}{
		{"22:59 strict", 22, 59, PolicyStrictSameDay, SolarDate{2024, 3, 15}, BranchHai, ZiPhaseNone, false},
		{"22:59 late zi", 22, 59, PolicyLateZiAdvancesDay, SolarDate{2024, 3, 15}, BranchHai, ZiPhaseNone, false},
		{"23:00 strict", 23, 0, PolicyStrictSameDay, SolarDate{2024, 3, 15}, BranchZi, ZiPhaseLate, false},
		{"23:00 late zi", 23, 0, PolicyLateZiAdvancesDay, SolarDate{2024, 3, 16}, BranchZi, ZiPhaseEarly, true},
		{"23:58 late zi", 23, 58, PolicyLateZiAdvancesDay, SolarDate{2024, 3, 16}, BranchZi, ZiPhaseEarly, true},
		{"23:59 strict", 23, 59, PolicyStrictSameDay, SolarDate{2024, 3, 15}, BranchZi, ZiPhaseLate, false},
		{"23:59 late zi", 23, 59, PolicyLateZiAdvancesDay, SolarDate{2024, 3, 16}, BranchZi, ZiPhaseEarly, true},
		{"00:00 strict", 0, 0, PolicyStrictSameDay, SolarDate{2024, 3, 15}, BranchZi, ZiPhaseEarly, false},
		{"00:00 late zi", 0, 0, PolicyLateZiAdvancesDay, SolarDate{2024, 3, 15}, BranchZi, ZiPhaseEarly, false},
		{"00:59 late zi", 0, 59, PolicyLateZiAdvancesDay, SolarDate{2024, 3, 15}, BranchZi, ZiPhaseEarly, false},
		{"01:00 strict", 1, 0, PolicyStrictSameDay, SolarDate{2024, 3, 15}, BranchChou, ZiPhaseNone, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			moment, err := Resolve(solarInput(2024, 3, 15, tc.hour, tc.minute), tc.policy)
			require.NoError(t, err)
			assert.Equal(t, tc.wantDate, moment.Solar)
			assert.Equal(t, tc.branch, moment.HourBranch)
			assert.Equal(t, tc.phase, moment.ZiPhase)
			assert.Equal(t, tc.advanced, moment.DayAdvanced)
			assert.Equal(t, tc.policy, moment.Policy)
			assert.Equal(t, tc.hour, moment.Hour)
			assert.Equal(t, tc.minute, moment.Minute)
		})
	}
}

func TestResolve_LateZiCarriesLunarDate(t *testing.T) {
	strict, err := Resolve(solarInput(2024, 3, 15, 23, 30), PolicyStrictSameDay)
	require.NoError(t, err)
	assert.Equal(t, LunarDate{Year: 2024, Month: 2, Day: 6}, strict.Lunar)

	late, err := Resolve(solarInput(2024, 3, 15, 23, 30), PolicyLateZiAdvancesDay)
	require.NoError(t, err)
	assert.Equal(t, LunarDate{Year: 2024, Month: 2, Day: 7}, late.Lunar)
}

func TestResolve_LateZiCrossesMonthAndYear(t *testing.T) {
	moment, err := Resolve(solarInput(2024, 2, 29, 23, 30), PolicyLateZiAdvancesDay)
	require.NoError(t, err)
	assert.Equal(t, SolarDate{2024, 3, 1}, moment.Solar)
	assert.Equal(t, LunarDate{Year: 2024, Month: 1, Day: 21}, moment.Lunar)

	moment, err = Resolve(solarInput(2023, 12, 31, 23, 10), PolicyLateZiAdvancesDay)
	require.NoError(t, err)
	assert.Equal(t, SolarDate{2024, 1, 1}, moment.Solar)
	assert.Equal(t, LunarDate{Year: 2023, Month: 11, Day: 20}, moment.Lunar)
}

func TestResolve_Deterministic(t *testing.T) {
	lon := 121.47
	offset := 480
	input := BirthInput{
		Calendar:         CalendarLunar,
		Year:             2023,
		Month:            2,
		Day:              14,
		LeapMonth:        true,
		Hour:             23,
		Minute:           45,
		Location:         Location{Name: "Shanghai", Longitude: &lon},
		UTCOffsetMinutes: &offset,
		TrueSolarTime:    true,
		Gender:           GenderFemale,
		DisplayName:      "Lin",
	}

	first, err := Resolve(input, PolicyLateZiAdvancesDay)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Resolve(input, PolicyLateZiAdvancesDay)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolve_LunarInput(t *testing.T) {
	moment, err := Resolve(BirthInput{
		Calendar: CalendarLunar, Year: 2023, Month: 2, Day: 1, LeapMonth: true, Hour: 10,
	}, PolicyStrictSameDay)
	require.NoError(t, err)
	assert.Equal(t, SolarDate{2023, 3, 22}, moment.Solar)
	assert.Equal(t, LunarDate{Year: 2023, Month: 2, Day: 1, Leap: true}, moment.Lunar)
	assert.Equal(t, BranchSi, moment.HourBranch)
	assert.Equal(t, GenderUnspecified, moment.Gender)
}

func TestResolve_InvalidInput(t *testing.T) {
	cases := []struct {
		name  string
		input BirthInput
		err   error
	}{
		{"hour 24", solarInput(2024, 3, 15, 24, 0), ErrInvalidTime},
		{"negative hour", solarInput(2024, 3, 15, -1, 0), ErrInvalidTime},
		{"minute 60", solarInput(2024, 3, 15, 10, 60), ErrInvalidTime},
		{"february 30", solarInput(2024, 2, 30, 10, 0), ErrInvalidCalendarDate},
		{"before table", solarInput(1900, 1, 30, 10, 0), ErrInvalidCalendarDate},
		{"lunar month 12 day 30 in 2024", BirthInput{Calendar: CalendarLunar, Year: 2024, Month: 12, Day: 30}, ErrInvalidCalendarDate},
		{"wrong leap month", BirthInput{Calendar: CalendarLunar, Year: 2023, Month: 3, Day: 1, LeapMonth: true}, ErrInvalidCalendarDate},
		{"leap in year without leap", BirthInput{Calendar: CalendarLunar, Year: 2024, Month: 6, Day: 1, LeapMonth: true}, ErrInvalidCalendarDate},
		{"lunar month 13", BirthInput{Calendar: CalendarLunar, Year: 2024, Month: 13, Day: 1}, ErrInvalidCalendarDate},
		{"leap flag on solar", BirthInput{Calendar: CalendarSolar, Year: 2024, Month: 3, Day: 1, LeapMonth: true}, ErrInvalidCalendarDate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(tc.input, PolicyStrictSameDay)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	_, err := Resolve(solarInput(2024, 3, 15, 10, 0), RectificationPolicy("nearest"))
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestResolve_TrueSolarTime(t *testing.T) {
	lon := 116.4
	offset := 480

	input := solarInput(2024, 3, 15, 0, 10)
	input.Location.Longitude = &lon
	input.UTCOffsetMinutes = &offset
	input.TrueSolarTime = true

	strict, err := Resolve(input, PolicyStrictSameDay)
	require.NoError(t, err)
	assert.Equal(t, -14, strict.SolarCorrectionMinutes)
	assert.Equal(t, 23*60+56, strict.SolarMinutes)
	assert.Equal(t, SolarDate{2024, 3, 14}, strict.Solar)
	assert.Equal(t, ZiPhaseLate, strict.ZiPhase)

	late, err := Resolve(input, PolicyLateZiAdvancesDay)
	require.NoError(t, err)
	assert.Equal(t, SolarDate{2024, 3, 15}, late.Solar)
	assert.Equal(t, ZiPhaseEarly, late.ZiPhase)
	assert.True(t, late.DayAdvanced)

	input.Hour, input.Minute = 13, 0
	noon, err := Resolve(input, PolicyStrictSameDay)
	require.NoError(t, err)
	assert.Equal(t, BranchWu, noon.HourBranch)

	input.TrueSolarTime = false
	plain, err := Resolve(input, PolicyStrictSameDay)
	require.NoError(t, err)
	assert.Zero(t, plain.SolarCorrectionMinutes)
	assert.Equal(t, 13*60, plain.SolarMinutes)
}

func TestResolve_TrueSolarTimeBeyondOneDay(t *testing.T) {
	lon := -180.0
	offset := 14 * 60

	input := solarInput(2024, 3, 15, 0, 10)
	input.Location.Longitude = &lon
	input.UTCOffsetMinutes = &offset
	input.TrueSolarTime = true

	moment, err := Resolve(input, PolicyStrictSameDay)
	require.NoError(t, err)
	assert.Equal(t, -1560, moment.SolarCorrectionMinutes)
	assert.Equal(t, 22*60+10, moment.SolarMinutes)
	assert.Equal(t, SolarDate{2024, 3, 13}, moment.Solar)
	assert.Equal(t, BranchHai, moment.HourBranch)

	lon = 180.0
	offset = -12 * 60
	input.Hour, input.Minute = 12, 0
	moment, err = Resolve(input, PolicyStrictSameDay)
	require.NoError(t, err)
	assert.Equal(t, 1440, moment.SolarCorrectionMinutes)
	assert.Equal(t, 12*60, moment.SolarMinutes)
	assert.Equal(t, SolarDate{2024, 3, 16}, moment.Solar)
	assert.Equal(t, BranchWu, moment.HourBranch)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, 0, floorDiv(10, minutesPerDay))
	assert.Equal(t, -1, floorDiv(-1, minutesPerDay))
	assert.Equal(t, -2, floorDiv(-1550, minutesPerDay))
	assert.Equal(t, 1, floorDiv(minutesPerDay, minutesPerDay))
	assert.Equal(t, -1, floorDiv(-minutesPerDay, minutesPerDay))
}

func TestResolve_LunarAndSolarInputsAgree(t *testing.T) {
	fromSolar, err := Resolve(solarInput(2024, 3, 15, 12, 0), PolicyLateZiAdvancesDay)
	require.NoError(t, err)

	lunar := BirthInput{Calendar: CalendarLunar, Year: 2024, Month: 2, Day: 6, Hour: 12}
	fromLunar, err := Resolve(lunar, PolicyLateZiAdvancesDay)
	require.NoError(t, err)

	if diff := cmp.Diff(fromSolar, fromLunar); diff != "" {
		t.Fatalf("lunar and solar resolution differ (-solar +lunar):\n%s", diff)
	}
}

func TestResolve_DeterministicWithSolarCorrection(t *testing.T) {
	longitude := 121.47
	offset := 480
	input := solarInput(1990, 6, 15, 23, 40)
	input.TrueSolarTime = true
	input.Location.Longitude = &longitude
	input.UTCOffsetMinutes = &offset

	first, err := Resolve(input, PolicyLateZiAdvancesDay)
	require.NoError(t, err)
	second, err := Resolve(input, PolicyLateZiAdvancesDay)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("resolution is not deterministic:\n%s", diff)
	}
}
