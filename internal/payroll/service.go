package payroll

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendpay/internal/apperr"
	"attendpay/internal/calendar"
	"attendpay/internal/metrics"
	"attendpay/internal/retry"
	"attendpay/internal/roster"
	"attendpay/internal/settings"
)

// WindowResolver returns the attendance window of a month.
type WindowResolver interface {
	Resolve(ctx context.Context, month calendar.MonthKey) (settings.Window, error)
}

// StudentTotal is the payroll of one student for one month.
type StudentTotal struct {
	StudentID string          `json:"student_id"`
	Month     string          `json:"month"`
	Days      decimal.Decimal `json:"days"`
	Fare      decimal.Decimal `json:"fare"`
	Amount    decimal.Decimal `json:"amount"`
}

// Service computes payroll against the live attendance store and the roster.
type Service struct {
	logs    LogSource
	windows WindowResolver
	roster  roster.Source
	cache   Cache
	retry   *retry.Policy
	logger  *zap.Logger
}

func NewService(logs LogSource, windows WindowResolver, src roster.Source, cache Cache, policy *retry.Policy, logger *zap.Logger) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	if policy == nil {
		policy = retry.Once()
	}
	return &Service{logs: logs, windows: windows, roster: src, cache: cache, retry: policy, logger: logger}
}

// StudentTotal computes the month's payroll of one student. A student whose academic
// year does not contain the month is owed nothing for it, as in RosterSummary.
func (s *Service) StudentTotal(ctx context.Context, studentID string, month calendar.MonthKey) (StudentTotal, error) {
	w, students, years, err := s.load(ctx, month)
	if err != nil {
		return StudentTotal{}, err
	}

	for _, st := range students {
		if st.ID != studentID {
			continue
		}
		total := StudentTotal{
			StudentID: st.ID,
			Month:     month.String(),
			Days:      decimal.Zero,
			Fare:      st.Fare,
			Amount:    Present(decimal.Zero),
		}
		if len(enrolled([]roster.Student{st}, years, month)) == 0 {
			return total, nil
		}
		total.Days = TotalDaysForStudent(st.ID, month, s.logs, w)
		total.Amount = Present(total.Days.Mul(st.Fare))
		return total, nil
	}
	return StudentTotal{}, apperr.NotFound("payroll.StudentTotal", "student %q", studentID)
}

// RosterSummary computes the month's payroll of every student whose academic year
// contains the month. Results are cached until Invalidate.
func (s *Service) RosterSummary(ctx context.Context, month calendar.MonthKey) (Summary, error) {
	if !month.Valid() {
		return Summary{}, apperr.InvalidFormat("payroll.RosterSummary", "month %v", month)
	}
	if cached, ok, err := s.cache.Get(ctx, month); err != nil {
		metrics.PayrollCache.WithLabelValues("error").Inc()
		s.logger.Warn("payroll cache read failed", zap.Stringer("month", month), zap.Error(err))
	} else if ok {
		metrics.PayrollCache.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.PayrollCache.WithLabelValues("miss").Inc()

	w, students, years, err := s.load(ctx, month)
	if err != nil {
		return Summary{}, err
	}

	sum := Summarize(enrolled(students, years, month), month, s.logs, w)
	if err := s.cache.Set(ctx, month, sum); err != nil {
		s.logger.Warn("payroll cache write failed", zap.Stringer("month", month), zap.Error(err))
	}
	return sum, nil
}

// load fetches the month's window and the roster concurrently.
func (s *Service) load(ctx context.Context, month calendar.MonthKey) (settings.Window, []roster.Student, []roster.AcademicYear, error) {
	var (
		w        settings.Window
		students []roster.Student
		years    []roster.AcademicYear
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		w, err = s.windows.Resolve(gctx, month)
		return err
	})
	g.Go(func() error {
		var err error
		students, err = s.loadStudents(gctx)
		return err
	})
	g.Go(func() error {
		return s.retry.Do(gctx, "roster.LoadAcademicYears", func(ctx context.Context) error {
			var err error
			years, err = s.roster.LoadAcademicYears(ctx)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return settings.Window{}, nil, nil, err
	}
	return w, students, years, nil
}

// Invalidate drops the cached summary of month.
func (s *Service) Invalidate(ctx context.Context, month calendar.MonthKey) error {
	if err := s.cache.Delete(ctx, month); err != nil {
		s.logger.Warn("payroll cache invalidate failed", zap.Stringer("month", month), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) loadStudents(ctx context.Context) ([]roster.Student, error) {
	var students []roster.Student
	err := s.retry.Do(ctx, "roster.LoadStudents", func(ctx context.Context) error {
		var err error
		students, err = s.roster.LoadStudents(ctx)
		return err
	})
	return students, err
}

// enrolled keeps students whose academic year contains month. Students without an
// academic year are kept.
func enrolled(students []roster.Student, years []roster.AcademicYear, month calendar.MonthKey) []roster.Student {
	byID := make(map[string]roster.AcademicYear, len(years))
	for _, y := range years {
		byID[y.ID] = y
	}
	out := make([]roster.Student, 0, len(students))
	for _, st := range students {
		if st.AcademicYearID == "" {
			out = append(out, st)
			continue
		}
		if y, ok := byID[st.AcademicYearID]; ok && y.Contains(month) {
			out = append(out, st)
		}
	}
	return out
}
