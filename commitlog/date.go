package commitlog

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/vx-labs/eventlog/clock"
)

var (
	ErrInvalidYear    = errors.New("year is invalid")
	ErrInvalidMonth   = errors.New("month is invalid")
	ErrInvalidDay     = errors.New("day is invalid")
	ErrTimeIsInFuture = errors.New("time is in future")
)

const (
	// PositionsPerDay bounds the in-day sequence part of a position.
	PositionsPerDay uint64 = 100000000
	minPosition            = 19700101 * PositionsPerDay
)

var epoch = clock.Date{Year: 1970, Month: 1, Day: 1}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ValidateDate checks that the given day exists and is not after today.
func ValidateDate(year, month, day int, today clock.Date) (clock.Date, error) {
	if year < 1970 || year > 9999 {
		return clock.Date{}, ErrInvalidYear
	}
	if month < 1 || month > 12 {
		return clock.Date{}, ErrInvalidMonth
	}
	if day < 1 || day > daysIn(year, month) {
		return clock.Date{}, ErrInvalidDay
	}
	d := clock.Date{Year: year, Month: month, Day: day}
	if d.After(today) {
		return clock.Date{}, ErrTimeIsInFuture
	}
	return d, nil
}

func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}

// ParseDate validates a date given as decimal strings.
func ParseDate(year, month, day string, today clock.Date) (clock.Date, error) {
	y, ok := parseDigits(year)
	if !ok {
		return clock.Date{}, ErrInvalidYear
	}
	m, ok := parseDigits(month)
	if !ok {
		return clock.Date{}, ErrInvalidMonth
	}
	d, ok := parseDigits(day)
	if !ok {
		return clock.Date{}, ErrInvalidDay
	}
	return ValidateDate(y, m, d, today)
}

// FirstPosition returns the position of the first record written on d.
func FirstPosition(d clock.Date) uint64 {
	return d.Int() * PositionsPerDay
}

// DateOfPosition extracts the date part of a position. Positions before
// 1970-01-01 map to 1970-01-01.
func DateOfPosition(pos uint64) clock.Date {
	if pos < minPosition {
		return epoch
	}
	v := pos / PositionsPerDay
	return clock.Date{
		Year:  int(v / 10000),
		Month: int(v / 100 % 100),
		Day:   int(v % 100),
	}
}
