package store

import (
	"context"
	"database/sql"
)

// Change log entities.
const (
	EntityRecord   = "attendance_record"
	EntityLog      = "attendance_log"
	EntitySettings = "attendance_settings"
)

// AppendChange records a write in the change log; call it inside the writing transaction.
func AppendChange(ctx context.Context, tx *sql.Tx, entity, key string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO change_log (entity, entity_key)
		VALUES ($1, $2)
	`, entity, key)
	return err
}

// ChangeLog reads the high-water mark of the change log.
type ChangeLog struct {
	db *sql.DB
}

func NewChangeLog(db *sql.DB) *ChangeLog {
	return &ChangeLog{db: db}
}

// LatestChange returns the newest change id, or 0 when the log is empty.
func (c *ChangeLog) LatestChange(ctx context.Context) (int64, error) {
	var id int64
	err := c.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM change_log`).Scan(&id)
	if err != nil {
		return 0, Classify("store.LatestChange", err)
	}
	return id, nil
}
