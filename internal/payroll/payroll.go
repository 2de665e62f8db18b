// Package payroll turns a month of attendance into money: each day's status weight summed
// per student and multiplied by the student's fare.
package payroll

import (
	"github.com/shopspring/decimal"

	"attendpay/internal/attendance"
	"attendpay/internal/calendar"
	"attendpay/internal/roster"
	"attendpay/internal/settings"
)

// LogSource returns the logs of one student in one month.
type LogSource interface {
	StudentMonth(studentID string, month calendar.MonthKey) []attendance.Log
}

// TotalDaysForStudent sums the status weights of the student's existing logs in month.
// Days without a log contribute nothing.
func TotalDaysForStudent(studentID string, month calendar.MonthKey, src LogSource, w settings.Window) decimal.Decimal {
	total := decimal.Zero
	for _, l := range src.StudentMonth(studentID, month) {
		total = total.Add(attendance.Evaluate(l, w, l.Date()).Weight())
	}
	return total
}

// TotalAmountForStudent is the student's days multiplied by their fare.
func TotalAmountForStudent(s roster.Student, month calendar.MonthKey, src LogSource, w settings.Window) decimal.Decimal {
	return TotalDaysForStudent(s.ID, month, src, w).Mul(s.Fare)
}

// TotalAmountForRoster sums every student's amount at full precision.
func TotalAmountForRoster(students []roster.Student, month calendar.MonthKey, src LogSource, w settings.Window) decimal.Decimal {
	total := decimal.Zero
	for _, s := range students {
		total = total.Add(TotalAmountForStudent(s, month, src, w))
	}
	return total
}

// Present rounds an amount for display: two places, half away from zero.
func Present(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Line is one student's row in a monthly summary.
type Line struct {
	StudentID string          `json:"student_id"`
	Name      string          `json:"name"`
	Fare      decimal.Decimal `json:"fare"`
	Present   int             `json:"present"`
	HalfDay   int             `json:"half_day"`
	Excused   int             `json:"excused"`
	Absent    int             `json:"absent"`
	Days      decimal.Decimal `json:"days"`
	Amount    decimal.Decimal `json:"amount"`
}

// Summary is the payroll of a month.
type Summary struct {
	Month    string          `json:"month"`
	StartDay int             `json:"start_day"`
	EndDay   int             `json:"end_day"`
	Lines    []Line          `json:"lines"`
	Total    decimal.Decimal `json:"total"`
}

// Summarize builds the per-student lines of month. Amounts in lines and the total are
// rounded for presentation; the total is rounded once, from the unrounded sum.
func Summarize(students []roster.Student, month calendar.MonthKey, src LogSource, w settings.Window) Summary {
	sum := Summary{
		Month:    month.String(),
		StartDay: w.StartDay,
		EndDay:   w.EndDay,
		Lines:    make([]Line, 0, len(students)),
	}
	total := decimal.Zero
	for _, s := range students {
		line := Line{StudentID: s.ID, Name: s.FullName(), Fare: s.Fare, Days: decimal.Zero}
		for _, l := range src.StudentMonth(s.ID, month) {
			status := attendance.Evaluate(l, w, l.Date())
			switch status {
			case attendance.Present:
				line.Present++
			case attendance.HalfDay:
				line.HalfDay++
			case attendance.ExcusedDay:
				line.Excused++
			default:
				line.Absent++
			}
			line.Days = line.Days.Add(status.Weight())
		}
		amount := line.Days.Mul(s.Fare)
		total = total.Add(amount)
		line.Amount = Present(amount)
		sum.Lines = append(sum.Lines, line)
	}
	sum.Total = Present(total)
	return sum
}
