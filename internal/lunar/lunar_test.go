package lunar

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestToLunar(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want Date
	}{
		{"epoch", date(1900, time.January, 31), Date{Year: 1900, Month: 1, Day: 1}},
		{"new year 1901", date(1901, time.February, 19), Date{Year: 1901, Month: 1, Day: 1, SolarTerm: "雨水"}},
		{"founding day 1949", date(1949, time.October, 1), Date{Year: 1949, Month: 8, Day: 10}},
		{"new year 2000", date(2000, time.February, 5), Date{Year: 2000, Month: 1, Day: 1}},
		{"new year eve 2024", date(2024, time.February, 9), Date{Year: 2023, Month: 12, Day: 30}},
		{"new year 2024", date(2024, time.February, 10), Date{Year: 2024, Month: 1, Day: 1}},
		{"mid autumn 2024", date(2024, time.October, 17), Date{Year: 2024, Month: 9, Day: 15}},
		{"leap 2nd month 2023", date(2023, time.March, 22), Date{Year: 2023, Month: 2, Day: 1, IsLeapMonth: true}},
		{"leap 4th month 2020", date(2020, time.May, 23), Date{Year: 2020, Month: 4, Day: 1, IsLeapMonth: true}},
		{"leap 6th month 2025", date(2025, time.July, 25), Date{Year: 2025, Month: 6, Day: 1, IsLeapMonth: true}},
		{"last supported year", date(2100, time.December, 31), Date{Year: 2100, Month: 12, Day: 1}},
		{"solar term day", date(2024, time.February, 4), Date{Year: 2023, Month: 12, Day: 25, SolarTerm: "立春"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToLunar(tt.in)
			if err != nil {
				t.Fatalf("ToLunar(%s): %v", tt.in.Format(time.DateOnly), err)
			}
			if got != tt.want {
				t.Errorf("ToLunar(%s) = %+v, want %+v", tt.in.Format(time.DateOnly), got, tt.want)
			}
		})
	}
}

func TestToLunarUsesLocalCalendarDate(t *testing.T) {
	// 2024-02-09 23:30 in UTC is already 2024-02-10 in UTC+8.
	east := time.FixedZone("UTC+8", 8*3600)
	instant := time.Date(2024, time.February, 9, 23, 30, 0, 0, time.UTC)

	inUTC, err := ToLunar(instant)
	if err != nil {
		t.Fatal(err)
	}
	inEast, err := ToLunar(instant.In(east))
	if err != nil {
		t.Fatal(err)
	}
	if inUTC.Day != 30 || inEast.Day != 1 {
		t.Errorf("expected the location's calendar date to be used, got UTC %+v and UTC+8 %+v", inUTC, inEast)
	}
}

func TestOutOfRange(t *testing.T) {
	for _, in := range []time.Time{
		date(1899, time.December, 31),
		date(1900, time.January, 30),
		date(2101, time.January, 1),
	} {
		if _, err := ToLunar(in); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ToLunar(%s) err = %v, want ErrOutOfRange", in.Format(time.DateOnly), err)
		}
		if s := Format(in); s != "" {
			t.Errorf("Format(%s) = %q, want empty", in.Format(time.DateOnly), s)
		}
	}
}

func TestConverterRange(t *testing.T) {
	c := NewConverter(2000, 2050)
	if _, err := c.ToLunar(date(1999, time.June, 1)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("1999 should be outside a 2000-2050 converter, err = %v", err)
	}
	if _, err := c.ToLunar(date(2024, time.June, 1)); err != nil {
		t.Errorf("2024 should convert: %v", err)
	}

	clamped := NewConverter(1800, 2300)
	if lo, hi := clamped.Range(); lo != TableMinYear || hi != TableMaxYear {
		t.Errorf("Range() = %d-%d, want clamped to %d-%d", lo, hi, TableMinYear, TableMaxYear)
	}

	inverted := NewConverter(2050, 2000)
	if lo, hi := inverted.Range(); lo != TableMinYear || hi != TableMaxYear {
		t.Errorf("inverted bounds should fall back to the table, got %d-%d", lo, hi)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   time.Time
		want string
	}{
		{date(2024, time.February, 10), "正月初一"},
		{date(2024, time.June, 1), "四月廿五"},
		{date(2024, time.October, 17), "九月十五"},
		{date(2024, time.February, 9), "腊月三十"},
		{date(2023, time.March, 22), "闰二月初一"},
		{date(2024, time.June, 5), "芒种"},
		{date(2024, time.December, 21), "冬至"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%s) = %q, want %q", tt.in.Format(time.DateOnly), got, tt.want)
		}
	}
}

func TestFormatWithYear(t *testing.T) {
	c := NewConverter(0, 0)
	if got := c.FormatWithYear(date(2024, time.February, 10)); got != "甲辰年正月初一" {
		t.Errorf("FormatWithYear = %q", got)
	}
	if got := c.FormatWithYear(date(2024, time.February, 4)); got != "立春" {
		t.Errorf("solar term should take priority, got %q", got)
	}
}

func TestSolarTerms2024(t *testing.T) {
	want := map[time.Month][2]int{
		time.January: {6, 20}, time.February: {4, 19}, time.March: {5, 20},
		time.April: {4, 19}, time.May: {5, 20}, time.June: {5, 21},
		time.July: {6, 22}, time.August: {7, 22}, time.September: {7, 22},
		time.October: {8, 23}, time.November: {7, 22}, time.December: {6, 21},
	}
	for m, days := range want {
		for half, d := range days {
			if got := SolarTerm(2024, m, d); got != termNames[(int(m)-1)*2+half] {
				t.Errorf("SolarTerm(2024, %s, %d) = %q, want %q", m, d, got, termNames[(int(m)-1)*2+half])
			}
		}
	}
	if got := SolarTerm(2024, time.March, 1); got != "" {
		t.Errorf("non-term day returned %q", got)
	}
}

func TestYearTable(t *testing.T) {
	for y := TableMinYear; y <= TableMaxYear; y++ {
		n := yearDays(y)
		if n < 353 || n > 385 {
			t.Fatalf("year %d has %d days", y, n)
		}
		if lm := leapMonth(y); lm > 12 {
			t.Fatalf("year %d has leap month %d", y, lm)
		}
		if (leapMonth(y) == 0) != (n < 360) {
			t.Fatalf("year %d: leap month %d inconsistent with %d days", y, leapMonth(y), n)
		}
	}
}

func TestNamesAndCycles(t *testing.T) {
	if MonthName(0) != "" || MonthName(13) != "" || MonthName(11) != "冬月" {
		t.Error("MonthName bounds")
	}
	if DayName(0) != "" || DayName(31) != "" || DayName(21) != "廿一" {
		t.Error("DayName bounds")
	}
	if GanZhiYear(1984) != "甲子" || GanZhiYear(2024) != "甲辰" || GanZhiYear(1900) != "庚子" {
		t.Errorf("GanZhiYear: 1984=%s 2024=%s 1900=%s", GanZhiYear(1984), GanZhiYear(2024), GanZhiYear(1900))
	}
	if Animal(2024) != "龙" {
		t.Errorf("Animal(2024) = %s", Animal(2024))
	}
}
