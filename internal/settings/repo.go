package settings

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"attendpay/internal/store"
)

// PostgresRepository persists windows in the attendance_settings table.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// LoadAll returns every stored window.
func (r *PostgresRepository) LoadAll(ctx context.Context) ([]Window, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT year, month, start_day, end_day
		FROM attendance_settings
		ORDER BY year, month
	`)
	if err != nil {
		return nil, store.Classify("settings.LoadAll", err)
	}
	defer rows.Close()

	var out []Window
	for rows.Next() {
		var (
			w     Window
			month int
		)
		if err := rows.Scan(&w.Month.Year, &month, &w.StartDay, &w.EndDay); err != nil {
			return nil, store.Classify("settings.LoadAll", err)
		}
		w.Month.Month = time.Month(month)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify("settings.LoadAll", err)
	}
	return out, nil
}

// Insert stores w, or returns the existing row when another writer created the month first.
func (r *PostgresRepository) Insert(ctx context.Context, w Window) (Window, error) {
	stored := Window{Month: w.Month}
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var inserted bool
		row := tx.QueryRowContext(ctx, `
			INSERT INTO attendance_settings (month_key, year, month, start_day, end_day)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (month_key) DO UPDATE SET month_key = EXCLUDED.month_key
			RETURNING start_day, end_day, (xmax = 0)
		`, w.Month.String(), w.Month.Year, int(w.Month.Month), w.StartDay, w.EndDay)
		if err := row.Scan(&stored.StartDay, &stored.EndDay, &inserted); err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		return store.AppendChange(ctx, tx, store.EntitySettings, w.Month.String())
	})
	if err != nil {
		return Window{}, store.Classify("settings.Insert", err)
	}
	return stored, nil
}

// Update overwrites the bounds of an existing window.
func (r *PostgresRepository) Update(ctx context.Context, w Window) error {
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE attendance_settings
			SET start_day = $2, end_day = $3
			WHERE month_key = $1
		`, w.Month.String(), w.StartDay, w.EndDay)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errMissingRow
		}
		return store.AppendChange(ctx, tx, store.EntitySettings, w.Month.String())
	})
	return store.Classify("settings.Update", err)
}

var errMissingRow = errors.New("attendance window row missing")
