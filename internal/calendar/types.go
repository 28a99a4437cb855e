// Package calendar resolves raw birth data into a canonical, deterministic birth moment.
//
// Resolution never reads the wall clock or the process locale. All date arithmetic is
// done on civil dates in UTC so the same input always yields the same moment.
package calendar

import "errors"

type CalendarSystem string

const (
	CalendarSolar CalendarSystem = "solar"
	CalendarLunar CalendarSystem = "lunar"
)

// RectificationPolicy governs which calendar day a birth in [23:00, 24:00) belongs to.
type RectificationPolicy string

const (
	PolicyStrictSameDay     RectificationPolicy = "strict_same_day"
	PolicyLateZiAdvancesDay RectificationPolicy = "late_zi_advances_day"
)

func (p RectificationPolicy) Valid() bool {
	return p == PolicyStrictSameDay || p == PolicyLateZiAdvancesDay
}

type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderUnspecified Gender = "unspecified"
)

type ZiPhase string

const (
	ZiPhaseNone  ZiPhase = "none"
	ZiPhaseEarly ZiPhase = "early"
	ZiPhaseLate  ZiPhase = "late"
)

type Location struct {
	Name      string   `json:"name"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
}

// BirthInput is raw user-supplied birth data.
type BirthInput struct {
	Calendar  CalendarSystem `json:"calendar" validate:"required,oneof=solar lunar"`
	Year      int            `json:"year" validate:"required"`
	Month     int            `json:"month" validate:"required"`
	Day       int            `json:"day" validate:"required"`
	LeapMonth bool           `json:"leap_month,omitempty"`
	Hour      int            `json:"hour"`
	Minute    int            `json:"minute"`
	Location  Location       `json:"location"`

	// UTCOffsetMinutes is the civil time zone offset in effect at birth.
	UTCOffsetMinutes *int `json:"utc_offset_minutes,omitempty" validate:"omitempty,gte=-840,lte=840"`
	// TrueSolarTime applies a mean local solar time correction when longitude and offset are known.
	TrueSolarTime bool `json:"true_solar_time,omitempty"`

	Gender      Gender `json:"gender,omitempty" validate:"omitempty,oneof=male female unspecified"`
	DisplayName string `json:"display_name,omitempty" validate:"max=128"`
}

type SolarDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

type LunarDate struct {
	Year  int  `json:"year"`
	Month int  `json:"month"`
	Day   int  `json:"day"`
	Leap  bool `json:"leap"`
}

// CanonicalBirthMoment is the resolved, immutable birth fact consumed by every engine.
type CanonicalBirthMoment struct {
	Solar SolarDate `json:"solar"`
	Lunar LunarDate `json:"lunar"`

	// Hour and Minute are the clock time as entered.
	Hour   int `json:"hour"`
	Minute int `json:"minute"`

	// SolarMinutes is minutes after midnight used for hour determination, after any
	// solar time correction.
	SolarMinutes           int `json:"solar_minutes"`
	SolarCorrectionMinutes int `json:"solar_correction_minutes"`

	HourBranch  Branch              `json:"hour_branch"`
	ZiPhase     ZiPhase             `json:"zi_phase"`
	DayAdvanced bool                `json:"day_advanced"`
	Policy      RectificationPolicy `json:"policy"`

	Gender      Gender `json:"gender"`
	DisplayName string `json:"display_name,omitempty"`
}

var (
	ErrInvalidCalendarDate = errors.New("invalid_calendar_date")
	ErrInvalidTime         = errors.New("invalid_time")
	ErrInvalidPolicy       = errors.New("invalid_rectification_policy")
)
