// Package calendar maps dates to academic years and calendar months.
//
// An academic year runs from July of its start year through June of the
// following year and is labelled "<startYear>-<endYear>".
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"attendpay/internal/apperr"
)

// AcademicYearStart is the first month of an academic year.
const AcademicYearStart = time.July

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns T.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }

// MonthKey identifies one calendar month, e.g. "July 2024".
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month key containing t.
func MonthOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

func (k MonthKey) String() string {
	return fmt.Sprintf("%s %d", k.Month, k.Year)
}

// Valid reports whether the month number is 1-12.
func (k MonthKey) Valid() bool {
	return k.Month >= time.January && k.Month <= time.December
}

// DaysInMonth returns the number of days in the month.
func (k MonthKey) DaysInMonth() int {
	return time.Date(k.Year, k.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (k MonthKey) Next() MonthKey {
	if k.Month == time.December {
		return MonthKey{Year: k.Year + 1, Month: time.January}
	}
	return MonthKey{Year: k.Year, Month: k.Month + 1}
}

func (k MonthKey) Prev() MonthKey {
	if k.Month == time.January {
		return MonthKey{Year: k.Year - 1, Month: time.December}
	}
	return MonthKey{Year: k.Year, Month: k.Month - 1}
}

// Contains reports whether d falls in the month.
func (k MonthKey) Contains(d Date) bool {
	return d.Year == k.Year && d.Month == k.Month
}

// ParseMonthKey parses "<MonthName> <Year>" using the full English month name.
func ParseMonthKey(s string) (MonthKey, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return MonthKey{}, apperr.InvalidFormat("calendar.ParseMonthKey", "month key %q", s)
	}
	month, err := ParseMonthName(fields[0])
	if err != nil {
		return MonthKey{}, apperr.InvalidFormat("calendar.ParseMonthKey", "month key %q", s)
	}
	year, err := strconv.Atoi(fields[1])
	if err != nil || year <= 0 {
		return MonthKey{}, apperr.InvalidFormat("calendar.ParseMonthKey", "month key %q", s)
	}
	return MonthKey{Year: year, Month: month}, nil
}

// ParseMonthName maps a full English month name to its number, ignoring case.
func ParseMonthName(name string) (time.Month, error) {
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), strings.TrimSpace(name)) {
			return m, nil
		}
	}
	return 0, apperr.InvalidFormat("calendar.ParseMonthName", "unknown month %q", name)
}

// Date is a calendar day without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses an ISO "YYYY-MM-DD" date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, apperr.InvalidFormat("calendar.ParseDate", "date %q", s)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MonthKey() MonthKey { return MonthKey{Year: d.Year, Month: d.Month} }

// Valid reports whether the date names a real calendar day.
func (d Date) Valid() bool {
	k := d.MonthKey()
	return k.Valid() && d.Day >= 1 && d.Day <= k.DaysInMonth()
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Before orders dates chronologically.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// AcademicYearLabel formats the label of the academic year starting in startYear.
func AcademicYearLabel(startYear int) string {
	return fmt.Sprintf("%d-%d", startYear, startYear+1)
}

// CurrentAcademicYearLabel returns the label of the academic year containing today.
// Months before July belong to the year that started the previous July.
func CurrentAcademicYearLabel(today time.Time) string {
	if today.Month() < AcademicYearStart {
		return AcademicYearLabel(today.Year() - 1)
	}
	return AcademicYearLabel(today.Year())
}

// ParseAcademicYear splits "<start>-<end>" into its years.
func ParseAcademicYear(label string) (start, end int, err error) {
	parts := strings.Split(strings.TrimSpace(label), "-")
	if len(parts) != 2 {
		return 0, 0, apperr.InvalidFormat("calendar.ParseAcademicYear", "academic year %q", label)
	}
	start, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, apperr.InvalidFormat("calendar.ParseAcademicYear", "academic year %q", label)
	}
	end, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, apperr.InvalidFormat("calendar.ParseAcademicYear", "academic year %q", label)
	}
	if end != start+1 {
		return 0, 0, apperr.InvalidFormat("calendar.ParseAcademicYear", "academic year %q must span one year", label)
	}
	return start, end, nil
}

// MonthsOfAcademicYear lists July..December of the start year followed by
// January..June of the end year.
func MonthsOfAcademicYear(label string) ([]MonthKey, error) {
	start, _, err := ParseAcademicYear(label)
	if err != nil {
		return nil, err
	}
	months := make([]MonthKey, 0, 12)
	k := MonthKey{Year: start, Month: AcademicYearStart}
	for i := 0; i < 12; i++ {
		months = append(months, k)
		k = k.Next()
	}
	return months, nil
}

// IsDateInAcademicYear reports whether (year, month) belongs to the labelled academic year.
func IsDateInAcademicYear(year int, month time.Month, label string) (bool, error) {
	start, end, err := ParseAcademicYear(label)
	if err != nil {
		return false, err
	}
	return (year == start && month >= AcademicYearStart) || (year == end && month < AcademicYearStart), nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
