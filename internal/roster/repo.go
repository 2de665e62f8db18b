package roster

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"attendpay/internal/store"
)

// Source reads the roster.
type Source interface {
	LoadStudents(ctx context.Context) ([]Student, error)
	LoadAcademicYears(ctx context.Context) ([]AcademicYear, error)
}

// PostgresRepository reads students and academic years. Rows that fail validation are
// logged and skipped.
type PostgresRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresRepository(db *sql.DB, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger}
}

var _ Source = (*PostgresRepository)(nil)

func (r *PostgresRepository) LoadStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, first_name, middle_name, last_name, fare, COALESCE(academic_year_id, '')
		FROM students
		ORDER BY last_name, first_name, id
	`)
	if err != nil {
		return nil, store.Classify("roster.LoadStudents", err)
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.FirstName, &s.MiddleName, &s.LastName, &s.Fare, &s.AcademicYearID); err != nil {
			return nil, store.Classify("roster.LoadStudents", err)
		}
		if err := s.Validate(); err != nil {
			r.logger.Warn("skipping invalid student row", zap.String("id", s.ID), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify("roster.LoadStudents", err)
	}
	return out, nil
}

func (r *PostgresRepository) LoadAcademicYears(ctx context.Context) ([]AcademicYear, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, start_year, end_year, start_month_name, end_month_name, start_day, end_day
		FROM academic_years
		ORDER BY start_year
	`)
	if err != nil {
		return nil, store.Classify("roster.LoadAcademicYears", err)
	}
	defer rows.Close()

	var out []AcademicYear
	for rows.Next() {
		var y AcademicYear
		if err := rows.Scan(&y.ID, &y.StartYear, &y.EndYear, &y.StartMonthName, &y.EndMonthName, &y.StartDay, &y.EndDay); err != nil {
			return nil, store.Classify("roster.LoadAcademicYears", err)
		}
		if err := y.Validate(); err != nil {
			r.logger.Warn("skipping invalid academic year row", zap.String("id", y.ID), zap.Error(err))
			continue
		}
		out = append(out, y)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify("roster.LoadAcademicYears", err)
	}
	return out, nil
}
