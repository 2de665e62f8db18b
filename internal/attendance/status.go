package attendance

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"attendpay/internal/calendar"
	"attendpay/internal/settings"
)

// Status is the classification of one attendance day.
type Status int

const (
	Absent Status = iota
	HalfDay
	Present
	ExcusedDay
)

var statusNames = map[Status]string{
	Absent:     "ABSENT",
	HalfDay:    "HALF_DAY",
	Present:    "PRESENT",
	ExcusedDay: "EXCUSED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

var (
	weightFull = decimal.NewFromInt(1)
	weightHalf = decimal.NewFromFloat(0.5)
)

// Weight is the payable fraction of a day. Excused days are paid in full.
func (s Status) Weight() decimal.Decimal {
	switch s {
	case Present, ExcusedDay:
		return weightFull
	case HalfDay:
		return weightHalf
	default:
		return decimal.Zero
	}
}

// HalfAttended reports whether one half of the day has a complete in/out pair.
func HalfAttended(in, out TimeCode) bool {
	return in.IsRecorded() && out.IsRecorded() && out.Minutes() > in.Minutes()
}

// Evaluate classifies the punches of log on date against the month's window.
// Days outside the window are absent whatever was punched.
func Evaluate(log Log, w settings.Window, date calendar.Date) Status {
	if !w.ContainsDate(date) {
		return Absent
	}
	if log.AllExcused() {
		return ExcusedDay
	}
	am := HalfAttended(log.TimeInAM, log.TimeOutAM)
	pm := HalfAttended(log.TimeInPM, log.TimeOutPM)
	switch {
	case am && pm:
		return Present
	case am || pm:
		return HalfDay
	default:
		return Absent
	}
}
