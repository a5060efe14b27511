package repo

import (
	"context"
	"database/sql"
	"strings"

	"chantier/internal/domain"
)

func scanReport(row rowScanner) (domain.DailyReport, error) {
	var d domain.DailyReport
	var status string
	var comment, delayReason sql.NullString
	err := row.Scan(&d.TaskID, &d.Day, &status, &d.Progress, &d.Personnel, &d.Hours, &comment, &delayReason, &d.SubmittedBy, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	d.Status = domain.Status(status)
	if comment.Valid {
		d.Comment = comment.String
	}
	if delayReason.Valid {
		d.DelayReason = &delayReason.String
	}
	return d, err
}

// UpsertDailyReport writes the single mutable row for (task, day). The unique
// key makes resubmission an atomic overwrite rather than a check-then-insert.
func (r Repo) UpsertDailyReport(ctx context.Context, tx *sql.Tx, d domain.DailyReport) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO daily_reports(task_id,day,status,progress,personnel,hours,comment,delay_reason,submitted_by,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(task_id,day) DO UPDATE SET status=excluded.status, progress=excluded.progress, personnel=excluded.personnel,
hours=excluded.hours, comment=excluded.comment, delay_reason=excluded.delay_reason, submitted_by=excluded.submitted_by, updated_at=excluded.updated_at`,
		d.TaskID, d.Day, string(d.Status), d.Progress, d.Personnel, d.Hours, nullable(d.Comment), nullableStringPtr(d.DelayReason), d.SubmittedBy, d.UpdatedAt)
	return err
}

func (r Repo) GetDailyReport(ctx context.Context, taskID, day string) (domain.DailyReport, error) {
	return scanReport(r.DB.QueryRowContext(ctx, `SELECT task_id,day,status,progress,personnel,hours,comment,delay_reason,submitted_by,updated_at
FROM daily_reports WHERE task_id=? AND day=?`, taskID, day))
}

// GetDailyReportTx reads the row on the caller's transaction, so an archive
// copy sees exactly the content the following delete removes.
func (r Repo) GetDailyReportTx(ctx context.Context, tx *sql.Tx, taskID, day string) (domain.DailyReport, error) {
	return scanReport(tx.QueryRowContext(ctx, `SELECT task_id,day,status,progress,personnel,hours,comment,delay_reason,submitted_by,updated_at
FROM daily_reports WHERE task_id=? AND day=?`, taskID, day))
}

// ListDailyReportsForDay returns the day's unconfirmed entries; confirmed
// entries no longer exist here, only in the archive.
func (r Repo) ListDailyReportsForDay(ctx context.Context, day string) ([]domain.DailyReport, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id,day,status,progress,personnel,hours,comment,delay_reason,submitted_by,updated_at
FROM daily_reports WHERE day=? ORDER BY task_id`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DailyReport
	for rows.Next() {
		d, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// DeleteDailyReport removes the mutable row after its content moved to the
// archive. Zero rows affected means a concurrent confirmation got it first.
func (r Repo) DeleteDailyReport(ctx context.Context, tx *sql.Tx, taskID, day string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM daily_reports WHERE task_id=? AND day=?`, taskID, day)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveExists reports whether (task, day) was already confirmed; once it
// is, no further submission for that pair is accepted. Runs on the caller's
// transaction so the check and the write it guards see the same state.
func (r Repo) ArchiveExists(ctx context.Context, tx *sql.Tx, taskID, day string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM report_archive WHERE task_id=? AND day=?`, taskID, day).Scan(&n)
	return n > 0, err
}

func (r Repo) InsertArchiveEntry(ctx context.Context, tx *sql.Tx, a domain.ArchiveEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO report_archive(id,task_id,day,status,progress,personnel,hours,comment,delay_reason,submitted_by,confirmed_by,confirmed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.Day, string(a.Status), a.Progress, a.Personnel, a.Hours, nullable(a.Comment), nullableStringPtr(a.DelayReason),
		a.SubmittedBy, a.ConfirmedBy, a.ConfirmedAt)
	return err
}

type ArchiveFilters struct {
	TaskID string
	Day    string
	Limit  int
}

func (r Repo) ListArchive(ctx context.Context, f ArchiveFilters) ([]domain.ArchiveEntry, error) {
	var clauses []string
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.Day != "" {
		clauses = append(clauses, "day=?")
		args = append(args, f.Day)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,task_id,day,status,progress,personnel,hours,comment,delay_reason,submitted_by,confirmed_by,confirmed_at
FROM report_archive ` + where + ` ORDER BY day DESC, task_id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ArchiveEntry
	for rows.Next() {
		var a domain.ArchiveEntry
		var status string
		var comment, delayReason sql.NullString
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Day, &status, &a.Progress, &a.Personnel, &a.Hours, &comment, &delayReason,
			&a.SubmittedBy, &a.ConfirmedBy, &a.ConfirmedAt); err != nil {
			return nil, err
		}
		a.Status = domain.Status(status)
		if comment.Valid {
			a.Comment = comment.String
		}
		if delayReason.Valid {
			a.DelayReason = &delayReason.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
