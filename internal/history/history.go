// Package history is the durable, append-only store of finished jobs,
// backed by SQLite. Records are immutable once appended; they leave the
// store only through Clear or the retention cap.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"playbookd/internal/model"
)

// Store wraps the SQLite database holding history records.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	q := `
	CREATE TABLE IF NOT EXISTS history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT UNIQUE NOT NULL,
		folder TEXT NOT NULL,
		playbook TEXT NOT NULL,
		status TEXT NOT NULL,
		return_code INTEGER,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		duration REAL NOT NULL,
		output TEXT NOT NULL,
		output_preview TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_completed_at ON history(completed_at);
	`
	_, err := s.db.Exec(q)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores the record. Timestamps are normalized to UTC so that SQL
// comparisons and ordering stay consistent.
func (s *Store) Append(ctx context.Context, rec model.HistoryRecord) error {
	var rc sql.NullInt64
	if rec.ReturnCode != nil {
		rc = sql.NullInt64{Int64: int64(*rec.ReturnCode), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(job_id,folder,playbook,status,return_code,started_at,completed_at,duration,output,output_preview)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.JobID, rec.Folder, rec.Playbook, string(rec.Status), rc,
		rec.StartedAt.UTC(), rec.CompletedAt.UTC(), rec.Duration,
		rec.Output, rec.OutputPreview)
	if err != nil {
		return fmt.Errorf("appending history record %s: %w", rec.JobID, err)
	}
	return nil
}

const previewColumns = `job_id,folder,playbook,status,return_code,started_at,completed_at,duration,output_preview`

// Get returns the full record, output included.
func (s *Store) Get(ctx context.Context, jobID string) (model.HistoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+previewColumns+`,output FROM history WHERE job_id = ?`, jobID)
	var rec model.HistoryRecord
	if err := scanRecord(row.Scan, &rec, true); err != nil {
		if err == sql.ErrNoRows {
			return model.HistoryRecord{}, model.ErrNotFound
		}
		return model.HistoryRecord{}, err
	}
	return rec, nil
}

// List returns preview projections, most recent first. Ordering is by
// completion time with the insertion sequence breaking ties, so two jobs
// finishing in the same instant list in reverse submission order.
func (s *Store) List(ctx context.Context, limit, offset int) ([]model.HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+previewColumns+` FROM history
		 ORDER BY completed_at DESC, seq DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// Clear removes every record and reports how many were removed. A single
// DELETE keeps partial clears invisible to readers.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Prune drops everything but the most recent keep records.
func (s *Store) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE seq NOT IN
		 (SELECT seq FROM history ORDER BY completed_at DESC, seq DESC LIMIT ?)`, keep)
	return err
}

// Counts returns the total number of records plus the completed and failed
// tallies. Errored and cancelled jobs count toward the total only.
func (s *Store) Counts(ctx context.Context) (total, successful, failed int, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM history GROUP BY status`)
	if err != nil {
		return 0, 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, 0, err
		}
		total += n
		switch model.Status(status) {
		case model.StatusCompleted:
			successful = n
		case model.StatusFailed:
			failed = n
		}
	}
	return total, successful, failed, rows.Err()
}

// AverageDuration returns the mean duration in seconds, 0 for an empty store.
func (s *Store) AverageDuration(ctx context.Context) (float64, error) {
	var avg float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(duration), 0) FROM history`).Scan(&avg)
	return avg, err
}

// TopFolders returns folder usage counts, descending, ties broken
// lexicographically by folder name.
func (s *Store) TopFolders(ctx context.Context, limit int) ([]model.FolderCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT folder, COUNT(*) AS n FROM history
		 GROUP BY folder ORDER BY n DESC, folder ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.FolderCount, 0, limit)
	for rows.Next() {
		var fc model.FolderCount
		if err := rows.Scan(&fc.Name, &fc.Count); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

// Recent returns preview projections of records started at or after since,
// most recent first.
func (s *Store) Recent(ctx context.Context, since time.Time, limit int) ([]model.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+previewColumns+` FROM history WHERE started_at >= ?
		 ORDER BY completed_at DESC, seq DESC LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]model.HistoryRecord, error) {
	defer rows.Close()
	out := make([]model.HistoryRecord, 0)
	for rows.Next() {
		var rec model.HistoryRecord
		if err := scanRecord(rows.Scan, &rec, false); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(scan func(...any) error, rec *model.HistoryRecord, withOutput bool) error {
	var rc sql.NullInt64
	var status string
	dest := []any{
		&rec.JobID, &rec.Folder, &rec.Playbook, &status, &rc,
		&rec.StartedAt, &rec.CompletedAt, &rec.Duration, &rec.OutputPreview,
	}
	if withOutput {
		dest = append(dest, &rec.Output)
	}
	if err := scan(dest...); err != nil {
		return err
	}
	rec.Status = model.Status(status)
	if rc.Valid {
		n := int(rc.Int64)
		rec.ReturnCode = &n
	}
	return nil
}
