package clock

import (
	"fmt"
	"time"
)

// Date is a calendar day, always interpreted in UTC.
type Date struct {
	Year  int
	Month int
	Day   int
}

func DateOf(t time.Time) Date {
	t = t.UTC()
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// Int returns the date as yyyymmdd.
func (d Date) Int() uint64 {
	return uint64(d.Year)*10000 + uint64(d.Month)*100 + uint64(d.Day)
}

func (d Date) Before(o Date) bool { return d.Int() < o.Int() }
func (d Date) After(o Date) bool  { return d.Int() > o.Int() }

func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}
