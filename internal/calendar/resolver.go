package calendar

import (
	"fmt"
	"math"
)

const minutesPerDay = 24 * 60

// Resolve turns raw birth data into a canonical birth moment under the given policy.
//
// The Zi double-hour spans [23:00, 01:00). Under PolicyLateZiAdvancesDay a birth in
// [23:00, 24:00) belongs to the following day's early Zi; under PolicyStrictSameDay the
// stated day is kept and the hour is marked late Zi.
func Resolve(input BirthInput, policy RectificationPolicy) (CanonicalBirthMoment, error) {
	if !policy.Valid() {
		return CanonicalBirthMoment{}, fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}
	if input.Hour < 0 || input.Hour > 23 || input.Minute < 0 || input.Minute > 59 {
		return CanonicalBirthMoment{}, fmt.Errorf("%w: %02d:%02d", ErrInvalidTime, input.Hour, input.Minute)
	}

	solar, err := statedSolarDate(input)
	if err != nil {
		return CanonicalBirthMoment{}, err
	}

	minutes := input.Hour*60 + input.Minute
	correction := solarCorrection(input)
	if correction != 0 {
		minutes += correction
		// extreme offsets can move the clock by more than a day
		if days := floorDiv(minutes, minutesPerDay); days != 0 {
			minutes -= days * minutesPerDay
			solar = solar.AddDays(days)
		}
	}

	hour := minutes / 60
	phase := ZiPhaseNone
	switch hour {
	case 23:
		phase = ZiPhaseLate
	case 0:
		phase = ZiPhaseEarly
	}

	advanced := false
	if policy == PolicyLateZiAdvancesDay && phase == ZiPhaseLate {
		solar = solar.AddDays(1)
		phase = ZiPhaseEarly
		advanced = true
	}

	lunar, err := SolarToLunar(solar)
	if err != nil {
		return CanonicalBirthMoment{}, err
	}

	gender := input.Gender
	if gender == "" {
		gender = GenderUnspecified
	}

	return CanonicalBirthMoment{
		Solar:                  solar,
		Lunar:                  lunar,
		Hour:                   input.Hour,
		Minute:                 input.Minute,
		SolarMinutes:           minutes,
		SolarCorrectionMinutes: correction,
		HourBranch:             HourBranchOf(hour),
		ZiPhase:                phase,
		DayAdvanced:            advanced,
		Policy:                 policy,
		Gender:                 gender,
		DisplayName:            input.DisplayName,
	}, nil
}

func statedSolarDate(input BirthInput) (SolarDate, error) {
	switch input.Calendar {
	case CalendarLunar:
		return LunarToSolar(LunarDate{Year: input.Year, Month: input.Month, Day: input.Day, Leap: input.LeapMonth})
	case CalendarSolar, "":
		if input.LeapMonth {
			return SolarDate{}, fmt.Errorf("%w: leap month flag on a solar date", ErrInvalidCalendarDate)
		}
		date := SolarDate{Year: input.Year, Month: input.Month, Day: input.Day}
		if err := validateSolar(date); err != nil {
			return SolarDate{}, err
		}
		return date, nil
	default:
		return SolarDate{}, fmt.Errorf("%w: unknown calendar %q", ErrInvalidCalendarDate, input.Calendar)
	}
}

// solarCorrection is the mean local solar time offset in minutes: four minutes per
// degree of longitude away from the time zone's central meridian.
func solarCorrection(input BirthInput) int {
	if !input.TrueSolarTime || input.Location.Longitude == nil || input.UTCOffsetMinutes == nil {
		return 0
	}
	meridian := float64(*input.UTCOffsetMinutes) / 60 * 15
	return int(math.Round((*input.Location.Longitude - meridian) * 4))
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
