// Package settings resolves the per-month attendance window: the range of days whose
// punches count toward payroll. Windows are created lazily the first time a month is
// viewed and persisted on every edit.
package settings

import (
	"attendpay/internal/apperr"
	"attendpay/internal/calendar"
)

// Window is the [StartDay, EndDay] range of one month.
type Window struct {
	Month    calendar.MonthKey `json:"-"`
	StartDay int               `json:"start_day"`
	EndDay   int               `json:"end_day"`
}

// DefaultWindow covers the whole month.
func DefaultWindow(month calendar.MonthKey) Window {
	return Window{Month: month, StartDay: 1, EndDay: month.DaysInMonth()}
}

// Validate enforces 1 <= StartDay <= EndDay <= days in the month.
func (w Window) Validate() error {
	if !w.Month.Valid() {
		return apperr.InvalidFormat("settings.Validate", "month %d", int(w.Month.Month))
	}
	days := w.Month.DaysInMonth()
	switch {
	case w.StartDay < 1:
		return apperr.InvalidRange("settings.Validate", "start day %d below 1", w.StartDay)
	case w.EndDay > days:
		return apperr.InvalidRange("settings.Validate", "end day %d beyond %s (%d days)", w.EndDay, w.Month, days)
	case w.StartDay > w.EndDay:
		return apperr.InvalidRange("settings.Validate", "start day %d after end day %d", w.StartDay, w.EndDay)
	}
	return nil
}

// Contains reports whether day lies inside the window.
func (w Window) Contains(day int) bool {
	return day >= w.StartDay && day <= w.EndDay
}

// ContainsDate reports whether d is in the window's month and inside its day range.
func (w Window) ContainsDate(d calendar.Date) bool {
	return w.Month.Contains(d) && w.Contains(d.Day)
}

// Copy returns a snapshot that later edits to the live window do not affect.
func (w Window) Copy() Window {
	return Window{Month: w.Month, StartDay: w.StartDay, EndDay: w.EndDay}
}
