package lunar

import (
	"math"
	"time"
)

const leapPrefix = "闰"

var monthNames = [...]string{
	"正月", "二月", "三月", "四月", "五月", "六月",
	"七月", "八月", "九月", "十月", "冬月", "腊月",
}

var dayNames = [...]string{
	"初一", "初二", "初三", "初四", "初五", "初六", "初七", "初八", "初九", "初十",
	"十一", "十二", "十三", "十四", "十五", "十六", "十七", "十八", "十九", "二十",
	"廿一", "廿二", "廿三", "廿四", "廿五", "廿六", "廿七", "廿八", "廿九", "三十",
}

var (
	heavenlyStems   = [...]string{"甲", "乙", "丙", "丁", "戊", "己", "庚", "辛", "壬", "癸"}
	earthlyBranches = [...]string{"子", "丑", "寅", "卯", "辰", "巳", "午", "未", "申", "酉", "戌", "亥"}
	zodiacAnimals   = [...]string{"鼠", "牛", "虎", "兔", "龙", "蛇", "马", "羊", "猴", "鸡", "狗", "猪"}
)

// MonthName returns the name of lunar month m (1..12), "" otherwise.
func MonthName(m int) string {
	if m < 1 || m > len(monthNames) {
		return ""
	}
	return monthNames[m-1]
}

// DayName returns the name of lunar day d (1..30), "" otherwise.
func DayName(d int) string {
	if d < 1 || d > len(dayNames) {
		return ""
	}
	return dayNames[d-1]
}

// GanZhiYear returns the sexagenary name of a lunar year (1984 = 甲子).
func GanZhiYear(year int) string {
	i := mod(year-4, 60)
	return heavenlyStems[i%10] + earthlyBranches[i%12]
}

// Animal returns the zodiac animal of a lunar year.
func Animal(year int) string {
	return zodiacAnimals[mod(year-4, 12)]
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}

// termNames is indexed by (month-1)*2 + half.
var termNames = [24]string{
	"小寒", "大寒", "立春", "雨水", "惊蛰", "春分",
	"清明", "谷雨", "立夏", "小满", "芒种", "夏至",
	"小暑", "大暑", "立秋", "处暑", "白露", "秋分",
	"寒露", "霜降", "立冬", "小雪", "大雪", "冬至",
}

// Century constants for the approximate term day: day = floor(Y*D + C) - L,
// with Y the year within its century and L the leap years elapsed.
const termD = 0.2422

var termC20 = [24]float64{
	6.11, 20.84, 4.6295, 19.4599, 6.3826, 21.4155,
	5.59, 20.888, 6.318, 21.86, 6.5, 22.2,
	7.928, 23.65, 8.35, 23.95, 8.44, 23.822,
	9.098, 24.218, 8.218, 23.08, 7.9, 22.6,
}

var termC21 = [24]float64{
	5.4055, 20.12, 3.87, 18.73, 5.63, 20.646,
	4.81, 20.1, 5.52, 21.04, 5.678, 21.37,
	7.108, 22.83, 7.5, 23.13, 7.646, 23.042,
	8.318, 23.438, 7.438, 22.36, 7.18, 21.94,
}

// termDay returns the approximate Gregorian day of month on which the
// given half (0 or 1) of month's solar terms falls in year.
func termDay(year int, month time.Month, half int) int {
	idx := (int(month)-1)*2 + half

	c, y := termC20[idx], year-1900
	if year > 2000 {
		c, y = termC21[idx], year-2000
	}

	// Terms in January and February belong to the previous year's leap
	// cycle.
	leaps := floorDiv(y, 4)
	if month <= time.February {
		leaps = floorDiv(y-1, 4)
	}
	return int(math.Floor(float64(y)*termD+c)) - leaps
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// SolarTerm returns the term name falling on the given Gregorian date, or "".
func SolarTerm(year int, month time.Month, day int) string {
	if month < time.January || month > time.December {
		return ""
	}
	for half := 0; half < 2; half++ {
		if termDay(year, month, half) == day {
			return termNames[(int(month)-1)*2+half]
		}
	}
	return ""
}
