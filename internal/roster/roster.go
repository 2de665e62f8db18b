// Package roster holds the students payroll is computed for and the academic years they
// are enrolled in. The engine only reads them.
package roster

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"attendpay/internal/apperr"
	"attendpay/internal/calendar"
)

// Student is one payable student.
type Student struct {
	ID             string          `json:"id" validate:"required"`
	FirstName      string          `json:"first_name"`
	MiddleName     string          `json:"middle_name,omitempty"`
	LastName       string          `json:"last_name" validate:"required"`
	Fare           decimal.Decimal `json:"fare" validate:"nonnegative"`
	AcademicYearID string          `json:"academic_year_id,omitempty"`
}

// FullName joins the non-empty name parts.
func (s Student) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.FirstName, s.MiddleName, s.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// AcademicYear spans StartMonthName of StartYear to EndMonthName of EndYear.
type AcademicYear struct {
	ID             string `json:"id" validate:"required"`
	StartYear      int    `json:"start_year" validate:"gt=0"`
	EndYear        int    `json:"end_year" validate:"gtfield=StartYear"`
	StartMonthName string `json:"start_month_name"`
	EndMonthName   string `json:"end_month_name"`
	StartDay       int    `json:"start_day" validate:"min=1,max=31"`
	EndDay         int    `json:"end_day" validate:"min=1,max=31"`
}

// Label returns the "<start>-<end>" form used by the calendar.
func (y AcademicYear) Label() string {
	return calendar.AcademicYearLabel(y.StartYear)
}

// Contains reports whether month falls inside the academic year.
func (y AcademicYear) Contains(month calendar.MonthKey) bool {
	ok, err := calendar.IsDateInAcademicYear(month.Year, month.Month, y.Label())
	return err == nil && ok
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("nonnegative", func(fl validator.FieldLevel) bool {
		return fl.Field().Float() >= 0
	})
	return v
}

// Validate checks the row invariants of a student.
func (s Student) Validate() error {
	if err := validate.Struct(s); err != nil {
		return apperr.InvalidFormat("roster.Student", "student %q: %s", s.ID, describe(err))
	}
	return nil
}

// Validate checks the row invariants of an academic year. Years must be exactly one apart
// and the month names must be real months.
func (y AcademicYear) Validate() error {
	if err := validate.Struct(y); err != nil {
		return apperr.InvalidFormat("roster.AcademicYear", "academic year %q: %s", y.ID, describe(err))
	}
	if y.EndYear != y.StartYear+1 {
		return apperr.InvalidFormat("roster.AcademicYear", "academic year %q spans %d-%d", y.ID, y.StartYear, y.EndYear)
	}
	for _, name := range []string{y.StartMonthName, y.EndMonthName} {
		if _, err := calendar.ParseMonthName(name); err != nil {
			return err
		}
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, ", ")
}
