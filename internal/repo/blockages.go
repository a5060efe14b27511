package repo

import (
	"context"
	"database/sql"
	"strings"

	"chantier/internal/domain"
)

func scanBlockage(row rowScanner) (domain.Blockage, error) {
	var b domain.Blockage
	var level string
	err := row.Scan(&b.ID, &level, &b.ScopeID, &b.Cause, &b.StartDay, &b.EndDay, &b.CreatedBy, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	b.Level = domain.ScopeLevel(level)
	return b, err
}

func (r Repo) InsertBlockage(ctx context.Context, tx *sql.Tx, b domain.Blockage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO blockages(id,level,scope_id,cause,start_day,end_day,created_by,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		b.ID, string(b.Level), b.ScopeID, b.Cause, b.StartDay, b.EndDay, b.CreatedBy, b.CreatedAt)
	return err
}

type BlockageFilters struct {
	Level   string
	ScopeID string
	Cause   string
	Limit   int
}

func (r Repo) ListBlockages(ctx context.Context, f BlockageFilters) ([]domain.Blockage, error) {
	var clauses []string
	var args []any
	if f.Level != "" {
		clauses = append(clauses, "level=?")
		args = append(args, f.Level)
	}
	if f.ScopeID != "" {
		clauses = append(clauses, "scope_id=?")
		args = append(args, f.ScopeID)
	}
	if f.Cause != "" {
		clauses = append(clauses, "cause=?")
		args = append(args, f.Cause)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,level,scope_id,cause,start_day,end_day,created_by,created_at FROM blockages ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Blockage
	for rows.Next() {
		b, err := scanBlockage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// ListBlockagesForTask returns every blockage whose scope covers the task,
// whether declared at site or affaire level.
func (r Repo) ListBlockagesForTask(ctx context.Context, siteID, affaireID string) ([]domain.Blockage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,level,scope_id,cause,start_day,end_day,created_by,created_at FROM blockages
WHERE (level='site' AND scope_id=?) OR (level='affaire' AND scope_id=?) ORDER BY start_day`, siteID, affaireID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Blockage
	for rows.Next() {
		b, err := scanBlockage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
