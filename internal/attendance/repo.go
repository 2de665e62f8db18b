package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"attendpay/internal/calendar"
	"attendpay/internal/store"
)

// PostgresRepository persists attendance data in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// LoadRecords returns every attendance record.
func (r *PostgresRepository) LoadRecords(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, year, month, day
		FROM attendance_records
		ORDER BY year, month, day
	`)
	if err != nil {
		return nil, store.Classify("attendance.LoadRecords", err)
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var (
			rec   Record
			month int
		)
		if err := rows.Scan(&rec.ID, &rec.Date.Year, &month, &rec.Date.Day); err != nil {
			return nil, store.Classify("attendance.LoadRecords", err)
		}
		rec.Date.Month = time.Month(month)
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify("attendance.LoadRecords", err)
	}
	return res, nil
}

// LoadLogs returns every log joined with its record.
func (r *PostgresRepository) LoadLogs(ctx context.Context) ([]Log, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.id, l.student_id, r.id, r.year, r.month, r.day,
		       l.time_in_am, l.time_out_am, l.time_in_pm, l.time_out_pm
		FROM attendance_logs l
		JOIN attendance_records r ON r.id = l.record_id
		ORDER BY r.year, r.month, r.day, l.student_id
	`)
	if err != nil {
		return nil, store.Classify("attendance.LoadLogs", err)
	}
	defer rows.Close()

	var res []Log
	for rows.Next() {
		l, err := scanLog(rows, "attendance.LoadLogs")
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify("attendance.LoadLogs", err)
	}
	return res, nil
}

// LogByKey reads the log of studentID on d.
func (r *PostgresRepository) LogByKey(ctx context.Context, studentID string, d calendar.Date) (Log, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT l.id, l.student_id, r.id, r.year, r.month, r.day,
		       l.time_in_am, l.time_out_am, l.time_in_pm, l.time_out_pm
		FROM attendance_logs l
		JOIN attendance_records r ON r.id = l.record_id
		WHERE l.student_id = $1 AND r.year = $2 AND r.month = $3 AND r.day = $4
	`, studentID, d.Year, int(d.Month), d.Day)
	l, err := scanLog(row, "attendance.LogByKey")
	if errors.Is(err, sql.ErrNoRows) {
		return Log{}, false, nil
	}
	if err != nil {
		return Log{}, false, err
	}
	return l, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(row scanner, op string) (Log, error) {
	var (
		l     Log
		month int
		codes [4]int
	)
	if err := row.Scan(&l.ID, &l.StudentID, &l.Record.ID, &l.Record.Date.Year, &month, &l.Record.Date.Day,
		&codes[0], &codes[1], &codes[2], &codes[3]); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Log{}, err
		}
		return Log{}, store.Classify(op, err)
	}
	l.Record.Date.Month = time.Month(month)
	p, err := decodePunches(codes)
	if err != nil {
		return Log{}, fmt.Errorf("log %s: %w", l.ID, err)
	}
	l.Punches = p
	return l, nil
}

// InsertEntry writes a new log, creating its record first when rec is non-nil.
func (r *PostgresRepository) InsertEntry(ctx context.Context, rec *Record, l Log) (Log, error) {
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if rec != nil {
			// Another writer may have created the date first; keep its id.
			row := tx.QueryRowContext(ctx, `
				INSERT INTO attendance_records (id, year, month, day)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (year, month, day) DO UPDATE SET year = EXCLUDED.year
				RETURNING id
			`, rec.ID, rec.Date.Year, int(rec.Date.Month), rec.Date.Day)
			if err := row.Scan(&l.Record.ID); err != nil {
				return err
			}
			if err := store.AppendChange(ctx, tx, store.EntityRecord, rec.Date.String()); err != nil {
				return err
			}
		}
		codes := encodePunches(l.Punches)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_logs (id, record_id, student_id, time_in_am, time_out_am, time_in_pm, time_out_pm)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, l.ID, l.Record.ID, l.StudentID, codes[0], codes[1], codes[2], codes[3]); err != nil {
			return err
		}
		return store.AppendChange(ctx, tx, store.EntityLog, KeyOf(l.StudentID, l.Date()).String())
	})
	if err != nil {
		return Log{}, store.Classify("attendance.InsertEntry", err)
	}
	return l, nil
}

// UpdateLog overwrites the four punches of an existing log.
func (r *PostgresRepository) UpdateLog(ctx context.Context, l Log) error {
	codes := encodePunches(l.Punches)
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE attendance_logs
			SET time_in_am = $2, time_out_am = $3, time_in_pm = $4, time_out_pm = $5
			WHERE id = $1
		`, l.ID, codes[0], codes[1], codes[2], codes[3]); err != nil {
			return err
		}
		return store.AppendChange(ctx, tx, store.EntityLog, KeyOf(l.StudentID, l.Date()).String())
	})
	return store.Classify("attendance.UpdateLog", err)
}

func encodePunches(p Punches) [4]int {
	return [4]int{p.TimeInAM.Encode(), p.TimeOutAM.Encode(), p.TimeInPM.Encode(), p.TimeOutPM.Encode()}
}

func decodePunches(codes [4]int) (Punches, error) {
	var p Punches
	for i, slot := range p.Slots() {
		c, err := DecodeTimeCode(codes[i])
		if err != nil {
			return Punches{}, err
		}
		*slot = c
	}
	return p, nil
}

var _ Repository = (*PostgresRepository)(nil)
