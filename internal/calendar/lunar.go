package calendar

import (
	"fmt"
	"time"
)

const (
	lunarMinYear = 1900
	lunarMaxYear = 2100
)

// lunarInfo encodes one lunar year per entry, 1900 through 2100.
// bits 0-3: leap month (0 when none); bits 4-15: month 12..1 length, set = 30 days;
// bit 16: leap month length, set = 30 days.
var lunarInfo = [...]uint32{
	0x04bd8, 0x04ae0, 0x0a570, 0x054d5, 0x0d260, 0x0d950, 0x16554, 0x056a0, 0x09ad0, 0x055d2, // 1900
	0x04ae0, 0x0a5b6, 0x0a4d0, 0x0d250, 0x1d255, 0x0b540, 0x0d6a0, 0x0ada2, 0x095b0, 0x14977, // 1910
	0x04970, 0x0a4b0, 0x0b4b5, 0x06a50, 0x06d40, 0x1ab54, 0x02b60, 0x09570, 0x052f2, 0x04970, // 1920
	0x06566, 0x0d4a0, 0x0ea50, 0x16a95, 0x05ad0, 0x02b60, 0x186e3, 0x092e0, 0x1c8d7, 0x0c950, // 1930
	0x0d4a0, 0x1d8a6, 0x0b550, 0x056a0, 0x1a5b4, 0x025d0, 0x092d0, 0x0d2b2, 0x0a950, 0x0b557, // 1940
	0x06ca0, 0x0b550, 0x15355, 0x04da0, 0x0a5b0, 0x14573, 0x052b0, 0x0a9a8, 0x0e950, 0x06aa0, // 1950
	0x0aea6, 0x0ab50, 0x04b60, 0x0aae4, 0x0a570, 0x05260, 0x0f263, 0x0d950, 0x05b57, 0x056a0, // 1960
	0x096d0, 0x04dd5, 0x04ad0, 0x0a4d0, 0x0d4d4, 0x0d250, 0x0d558, 0x0b540, 0x0b6a0, 0x195a6, // 1970
	0x095b0, 0x049b0, 0x0a974, 0x0a4b0, 0x0b27a, 0x06a50, 0x06d40, 0x0af46, 0x0ab60, 0x09570, // 1980
	0x04af5, 0x04970, 0x064b0, 0x074a3, 0x0ea50, 0x06b58, 0x05ac0, 0x0ab60, 0x096d5, 0x092e0, // 1990
	0x0c960, 0x0d954, 0x0d4a0, 0x0da50, 0x07552, 0x056a0, 0x0abb7, 0x025d0, 0x092d0, 0x0cab5, // 2000
	0x0a950, 0x0b4a0, 0x0baa4, 0x0ad50, 0x055d9, 0x04ba0, 0x0a5b0, 0x15176, 0x052b0, 0x0a930, // 2010
	0x07954, 0x06aa0, 0x0ad50, 0x05b52, 0x04b60, 0x0a6e6, 0x0a4e0, 0x0d260, 0x0ea65, 0x0d530, // 2020
	0x05aa0, 0x076a3, 0x096d0, 0x04afb, 0x04ad0, 0x0a4d0, 0x1d0b6, 0x0d250, 0x0d520, 0x0dd45, // 2030
	0x0b5a0, 0x056d0, 0x055b2, 0x049b0, 0x0a577, 0x0a4b0, 0x0aa50, 0x1b255, 0x06d20, 0x0ada0, // 2040
	0x14b63, 0x09370, 0x049f8, 0x04970, 0x064b0, 0x168a6, 0x0ea50, 0x06b20, 0x1a6c4, 0x0aae0, // 2050
	0x092e0, 0x0d2e3, 0x0c960, 0x0d557, 0x0d4a0, 0x0da50, 0x05d55, 0x056a0, 0x0a6d0, 0x055d4, // 2060
	0x052d0, 0x0a9b8, 0x0a950, 0x0b4a0, 0x0b6a6, 0x0ad50, 0x055a0, 0x0aba4, 0x0a5b0, 0x052b0, // 2070
	0x0b273, 0x06930, 0x07337, 0x06aa0, 0x0ad50, 0x14b55, 0x04b60, 0x0a570, 0x054e4, 0x0d160, // 2080
	0x0e968, 0x0d520, 0x0daa0, 0x16aa6, 0x056d0, 0x04ae0, 0x0a9d4, 0x0a2d0, 0x0d150, 0x0f252, // 2090
	0x0d520, // 2100
}

// lunarEpoch is the solar date of lunar 1900-01-01.
var lunarEpoch = time.Date(1900, time.January, 31, 0, 0, 0, 0, time.UTC)

// yearOffset[i] is the day offset from lunarEpoch of the first day of lunar year 1900+i.
// The final entry is the exclusive end of the table.
var yearOffset [lunarMaxYear - lunarMinYear + 2]int

func init() {
	offset := 0
	for y := lunarMinYear; y <= lunarMaxYear; y++ {
		yearOffset[y-lunarMinYear] = offset
		offset += lunarYearDays(y)
	}
	yearOffset[len(yearOffset)-1] = offset
}

// LeapMonth returns the leap month of a lunar year, or 0 when the year has none.
func LeapMonth(year int) int {
	if year < lunarMinYear || year > lunarMaxYear {
		return 0
	}
	return int(lunarInfo[year-lunarMinYear] & 0xf)
}

func leapMonthDays(year int) int {
	if LeapMonth(year) == 0 {
		return 0
	}
	if lunarInfo[year-lunarMinYear]&0x10000 != 0 {
		return 30
	}
	return 29
}

// LunarMonthDays returns the length of a regular (non-leap) lunar month.
func LunarMonthDays(year, month int) int {
	if lunarInfo[year-lunarMinYear]&(0x10000>>uint(month)) != 0 {
		return 30
	}
	return 29
}

func lunarYearDays(year int) int {
	total := leapMonthDays(year)
	for m := 1; m <= 12; m++ {
		total += LunarMonthDays(year, m)
	}
	return total
}

// LunarToSolar converts a lunar date to its solar date. Leap months are explicit:
// leap must be true only for the year's actual leap month.
func LunarToSolar(date LunarDate) (SolarDate, error) {
	y, m, d := date.Year, date.Month, date.Day
	if y < lunarMinYear || y > lunarMaxYear {
		return SolarDate{}, fmt.Errorf("%w: lunar year %d outside %d-%d", ErrInvalidCalendarDate, y, lunarMinYear, lunarMaxYear)
	}
	if m < 1 || m > 12 {
		return SolarDate{}, fmt.Errorf("%w: lunar month %d", ErrInvalidCalendarDate, m)
	}
	leap := LeapMonth(y)
	if date.Leap && leap != m {
		return SolarDate{}, fmt.Errorf("%w: lunar year %d has no leap month %d", ErrInvalidCalendarDate, y, m)
	}
	monthLen := LunarMonthDays(y, m)
	if date.Leap {
		monthLen = leapMonthDays(y)
	}
	if d < 1 || d > monthLen {
		return SolarDate{}, fmt.Errorf("%w: lunar %d-%d has %d days", ErrInvalidCalendarDate, y, m, monthLen)
	}

	offset := yearOffset[y-lunarMinYear]
	for i := 1; i < m; i++ {
		offset += LunarMonthDays(y, i)
		if i == leap {
			offset += leapMonthDays(y)
		}
	}
	if date.Leap {
		offset += LunarMonthDays(y, m)
	}
	offset += d - 1

	return solarFromTime(lunarEpoch.AddDate(0, 0, offset)), nil
}

// SolarToLunar converts a supported solar date to the lunar calendar.
func SolarToLunar(date SolarDate) (LunarDate, error) {
	if err := validateSolar(date); err != nil {
		return LunarDate{}, err
	}
	offset := daysBetween(lunarEpoch, date.time())

	year := lunarMinYear
	for year < lunarMaxYear && yearOffset[year-lunarMinYear+1] <= offset {
		year++
	}
	offset -= yearOffset[year-lunarMinYear]

	leap := LeapMonth(year)
	for month := 1; month <= 12; month++ {
		days := LunarMonthDays(year, month)
		if offset < days {
			return LunarDate{Year: year, Month: month, Day: offset + 1}, nil
		}
		offset -= days
		if month == leap {
			days = leapMonthDays(year)
			if offset < days {
				return LunarDate{Year: year, Month: month, Day: offset + 1, Leap: true}, nil
			}
			offset -= days
		}
	}
	return LunarDate{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidCalendarDate, date.Year, date.Month, date.Day)
}

// validateSolar checks that a solar date exists and lies within the conversion table.
func validateSolar(date SolarDate) error {
	if date.Month < 1 || date.Month > 12 || date.Day < 1 || date.Day > 31 {
		return fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidCalendarDate, date.Year, date.Month, date.Day)
	}
	t := date.time()
	if t.Year() != date.Year || int(t.Month()) != date.Month || t.Day() != date.Day {
		return fmt.Errorf("%w: %04d-%02d-%02d does not exist", ErrInvalidCalendarDate, date.Year, date.Month, date.Day)
	}
	offset := daysBetween(lunarEpoch, t)
	if offset < 0 || offset >= yearOffset[len(yearOffset)-1] {
		return fmt.Errorf("%w: %04d-%02d-%02d outside supported range", ErrInvalidCalendarDate, date.Year, date.Month, date.Day)
	}
	return nil
}

func (d SolarDate) time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the civil date n days later.
func (d SolarDate) AddDays(n int) SolarDate {
	return solarFromTime(d.time().AddDate(0, 0, n))
}

func (d SolarDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func solarFromTime(t time.Time) SolarDate {
	return SolarDate{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// DaysBetween counts days from one civil date to another; negative when to is earlier.
func DaysBetween(from, to SolarDate) int {
	return daysBetween(from.time(), to.time())
}
