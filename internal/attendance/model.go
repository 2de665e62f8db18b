// Package attendance holds the daily attendance log: raw punches per student and day,
// their classification into a day status, and the in-memory store that indexes them.
package attendance

import (
	"strconv"

	"attendpay/internal/calendar"
)

// Record is one calendar date that has attendance activity.
type Record struct {
	ID   string        `json:"id"`
	Date calendar.Date `json:"date"`
}

// Punches are the four time slots of one day.
type Punches struct {
	TimeInAM  TimeCode `json:"time_in_am"`
	TimeOutAM TimeCode `json:"time_out_am"`
	TimeInPM  TimeCode `json:"time_in_pm"`
	TimeOutPM TimeCode `json:"time_out_pm"`
}

// ExcusedPunches fills every slot with the excused marker.
func ExcusedPunches() Punches {
	return Punches{TimeInAM: Excused, TimeOutAM: Excused, TimeInPM: Excused, TimeOutPM: Excused}
}

// AllExcused reports whether the day is administratively excused.
func (p Punches) AllExcused() bool {
	return p.TimeInAM.IsExcused() && p.TimeOutAM.IsExcused() && p.TimeInPM.IsExcused() && p.TimeOutPM.IsExcused()
}

// Slots returns pointers in punch order: in AM, out AM, in PM, out PM.
func (p *Punches) Slots() [4]*TimeCode {
	return [4]*TimeCode{&p.TimeInAM, &p.TimeOutAM, &p.TimeInPM, &p.TimeOutPM}
}

// Log is one student's punches for the date of its Record.
type Log struct {
	ID        string `json:"id"`
	Record    Record `json:"record"`
	StudentID string `json:"student_id"`
	Punches
}

// Date returns the date of the owning record.
func (l Log) Date() calendar.Date { return l.Record.Date }

// Key is the natural key of a log.
type Key struct {
	StudentID string
	Year      int
	Month     int
	Day       int
}

func KeyOf(studentID string, d calendar.Date) Key {
	return Key{StudentID: studentID, Year: d.Year, Month: int(d.Month), Day: d.Day}
}

func (k Key) String() string {
	return k.StudentID + "@" + strconv.Itoa(k.Year) + "-" + strconv.Itoa(k.Month) + "-" + strconv.Itoa(k.Day)
}
