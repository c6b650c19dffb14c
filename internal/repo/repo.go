package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sprintreport/internal/domain"
)

// Repo stores exported reports. The report pipeline never reads from it.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// SaveReport writes a report with its groups and records in one transaction.
func (r Repo) SaveReport(ctx context.Context, rep domain.Report) error {
	if rep.ID == "" {
		return errors.New("report id is required")
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var warnings any
	if len(rep.Warnings) > 0 {
		b, err := json.Marshal(rep.Warnings)
		if err != nil {
			return fmt.Errorf("encode warnings: %w", err)
		}
		warnings = string(b)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO reports(id,search,title,generated_at,issue_count,group_count,warnings_json) VALUES (?,?,?,?,?,?,?)`,
		rep.ID, rep.Search, rep.Title, rep.GeneratedAt, len(rep.Records), len(rep.Groups), warnings); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	byKey := make(map[domain.GroupKey]int, len(rep.Groups))
	for gi, g := range rep.Groups {
		byKey[g.Key()] = gi
		stats, err := json.Marshal(g.Stats)
		if err != nil {
			return fmt.Errorf("encode stats of %s: %w", g.Label, err)
		}
		var sprint any
		if g.Sprint != nil {
			b, err := json.Marshal(g.Sprint)
			if err != nil {
				return fmt.Errorf("encode sprint of %s: %w", g.Label, err)
			}
			sprint = string(b)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO report_groups(report_id,position,label,sprint_json,stats_json) VALUES (?,?,?,?,?)`,
			rep.ID, gi, g.Label, sprint, string(stats)); err != nil {
			return fmt.Errorf("insert group %s: %w", g.Label, err)
		}
	}
	for pos, rec := range rep.Records {
		gi, ok := byKey[rec.GroupKey()]
		if !ok {
			return fmt.Errorf("record %s has no group %q", rec.Key, rec.SprintLabel())
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.Key, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO report_records(report_id,position,group_position,issue_key,status,record_json) VALUES (?,?,?,?,?,?)`,
			rep.ID, pos, gi, rec.Key, rec.Status, string(b)); err != nil {
			return fmt.Errorf("insert record %s: %w", rec.Key, err)
		}
	}
	return tx.Commit()
}

// ListFilter narrows ListReports. Cursor fields page backwards through
// generated_at, id.
type ListFilter struct {
	Search            string
	Limit             int
	CursorGeneratedAt string
	CursorID          string
}

// ListReports returns report summaries, newest first.
func (r Repo) ListReports(ctx context.Context, f ListFilter) ([]domain.ReportSummary, error) {
	var clauses []string
	var args []any
	if f.Search != "" {
		clauses = append(clauses, "search=?")
		args = append(args, f.Search)
	}
	if f.CursorGeneratedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(generated_at < ? OR (generated_at = ? AND id < ?))")
		args = append(args, f.CursorGeneratedAt, f.CursorGeneratedAt, f.CursorID)
	}
	query := `SELECT id,search,title,generated_at,issue_count,group_count FROM reports`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY generated_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReportSummary
	for rows.Next() {
		var s domain.ReportSummary
		if err := rows.Scan(&s.ID, &s.Search, &s.Title, &s.GeneratedAt, &s.IssueCount, &s.GroupCount); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetReport loads a stored report. Records come back in report order and are
// redistributed to their groups.
func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	var rep domain.Report
	var warnings sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,search,title,generated_at,warnings_json FROM reports WHERE id=?`, id).
		Scan(&rep.ID, &rep.Search, &rep.Title, &rep.GeneratedAt, &warnings)
	if errors.Is(err, sql.ErrNoRows) {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	if warnings.Valid {
		if err := json.Unmarshal([]byte(warnings.String), &rep.Warnings); err != nil {
			return rep, fmt.Errorf("decode warnings: %w", err)
		}
	}

	if rep.Groups, err = r.loadGroups(ctx, id); err != nil {
		return rep, err
	}

	rows, err := r.DB.QueryContext(ctx, `SELECT group_position,record_json FROM report_records WHERE report_id=? ORDER BY position`, id)
	if err != nil {
		return rep, err
	}
	defer rows.Close()
	rep.Records = []domain.ReportRecord{}
	for rows.Next() {
		var gi int
		var raw string
		if err := rows.Scan(&gi, &raw); err != nil {
			return rep, err
		}
		var rec domain.ReportRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return rep, fmt.Errorf("decode record: %w", err)
		}
		if gi < 0 || gi >= len(rep.Groups) {
			return rep, fmt.Errorf("record %s references missing group %d", rec.Key, gi)
		}
		rep.Groups[gi].Records = append(rep.Groups[gi].Records, rec)
		rep.Records = append(rep.Records, rec)
	}
	return rep, rows.Err()
}

func (r Repo) loadGroups(ctx context.Context, id string) ([]domain.SprintGroup, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT label,sprint_json,stats_json FROM report_groups WHERE report_id=? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	groups := []domain.SprintGroup{}
	for rows.Next() {
		var g domain.SprintGroup
		var sprint sql.NullString
		var stats string
		if err := rows.Scan(&g.Label, &sprint, &stats); err != nil {
			return nil, err
		}
		if sprint.Valid {
			g.Sprint = &domain.Sprint{}
			if err := json.Unmarshal([]byte(sprint.String), g.Sprint); err != nil {
				return nil, fmt.Errorf("decode sprint of %s: %w", g.Label, err)
			}
		}
		if err := json.Unmarshal([]byte(stats), &g.Stats); err != nil {
			return nil, fmt.Errorf("decode stats of %s: %w", g.Label, err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteReport removes a report and everything stored under it.
func (r Repo) DeleteReport(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM reports WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
