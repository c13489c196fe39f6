// Package lunar converts Gregorian dates to the traditional Chinese lunisolar
// calendar using a per-year table for 1900-2100, and labels the 24 solar
// terms.
package lunar

import (
	"errors"
	"fmt"
	"time"
)

// ErrOutOfRange is returned for dates the converter does not cover.
var ErrOutOfRange = errors.New("lunar: date out of supported range")

// epoch is Gregorian 1900-01-31, lunar new year of 1900.
var epoch = time.Date(1900, time.January, 31, 0, 0, 0, 0, time.UTC)

// Date is a lunar calendar date. SolarTerm is set when the Gregorian day it
// was converted from is a solar term day.
type Date struct {
	Year        int
	Month       int
	Day         int
	IsLeapMonth bool
	SolarTerm   string
}

// Converter converts within a configurable Gregorian year range, clamped
// to what the table covers.
type Converter struct {
	minYear int
	maxYear int
}

// NewConverter returns a converter for Gregorian years [minYear, maxYear].
// Bounds outside 1900-2100 are clamped; zero values mean "table bound".
func NewConverter(minYear, maxYear int) *Converter {
	if minYear < TableMinYear || minYear > TableMaxYear {
		minYear = TableMinYear
	}
	if maxYear > TableMaxYear || maxYear < TableMinYear {
		maxYear = TableMaxYear
	}
	if maxYear < minYear {
		minYear, maxYear = TableMinYear, TableMaxYear
	}
	return &Converter{minYear: minYear, maxYear: maxYear}
}

var defaultConverter = NewConverter(TableMinYear, TableMaxYear)

// Range returns the supported Gregorian year range.
func (c *Converter) Range() (minYear, maxYear int) {
	return c.minYear, c.maxYear
}

// ToLunar converts the calendar date of t (in t's own location) using the
// full table range.
func ToLunar(t time.Time) (Date, error) {
	return defaultConverter.ToLunar(t)
}

// Format is the package-level shorthand of Converter.Format.
func Format(t time.Time) string {
	return defaultConverter.Format(t)
}

// ToLunar converts the calendar date of t, read in t's own location.
func (c *Converter) ToLunar(t time.Time) (Date, error) {
	y, m, d := t.Date()
	if y < c.minYear || y > c.maxYear {
		return Date{}, fmt.Errorf("%w: %04d-%02d-%02d (supported %d-%d)", ErrOutOfRange, y, m, d, c.minYear, c.maxYear)
	}

	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if day.Before(epoch) {
		return Date{}, fmt.Errorf("%w: %04d-%02d-%02d precedes %s", ErrOutOfRange, y, m, d, epoch.Format(time.DateOnly))
	}
	offset := int(day.Sub(epoch) / (24 * time.Hour))

	year := TableMinYear
	for ; year <= TableMaxYear; year++ {
		yd := yearDays(year)
		if offset < yd {
			break
		}
		offset -= yd
	}
	if year > TableMaxYear {
		return Date{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrOutOfRange, y, m, d)
	}

	leap := leapMonth(year)
	month := 1
	isLeap := false
	for ; month <= 12; month++ {
		md := monthDays(year, month)
		if offset < md {
			break
		}
		offset -= md

		if month == leap {
			ld := leapDays(year)
			if offset < ld {
				isLeap = true
				break
			}
			offset -= ld
		}
	}

	return Date{
		Year:        year,
		Month:       month,
		Day:         offset + 1,
		IsLeapMonth: isLeap,
		SolarTerm:   SolarTerm(y, m, d),
	}, nil
}

// Format renders the display string for t: the solar term name on term
// days, otherwise "{闰}{month}{day}". Unsupported dates render as "".
func (c *Converter) Format(t time.Time) string {
	ld, err := c.ToLunar(t)
	if err != nil {
		return ""
	}
	return ld.String()
}

// FormatWithYear prefixes Format's month/day text with the sexagenary year,
// e.g. "甲辰年正月初一". Solar terms still take priority.
func (c *Converter) FormatWithYear(t time.Time) string {
	ld, err := c.ToLunar(t)
	if err != nil {
		return ""
	}
	if ld.SolarTerm != "" {
		return ld.SolarTerm
	}
	return GanZhiYear(ld.Year) + "年" + ld.MonthDay()
}

// String returns the solar term if present, otherwise MonthDay.
func (d Date) String() string {
	if d.SolarTerm != "" {
		return d.SolarTerm
	}
	return d.MonthDay()
}

// MonthDay returns "{闰}{month}{day}" regardless of solar terms.
func (d Date) MonthDay() string {
	prefix := ""
	if d.IsLeapMonth {
		prefix = leapPrefix
	}
	return prefix + MonthName(d.Month) + DayName(d.Day)
}
