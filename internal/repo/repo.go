package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"acctsweep/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,admin_id,admin_email,dry_run,status,summary_json,COALESCE(error,'') AS error,started_at,finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run      domain.Run
		dryRun   int
		summary  sql.NullString
		finished sql.NullString
	)
	if err := row.Scan(&run.ID, &run.AdminID, &run.AdminEmail, &dryRun, &run.Status, &summary, &run.Error, &run.StartedAt, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, ErrNotFound
		}
		return run, err
	}
	run.DryRun = dryRun != 0
	if summary.Valid {
		run.Summary = &summary.String
	}
	if finished.Valid {
		run.FinishedAt = &finished.String
	}
	return run, nil
}

func (r Repo) InsertRun(ctx context.Context, run domain.Run) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO runs(id,admin_id,admin_email,dry_run,status,started_at) VALUES (?,?,?,?,?,?)`,
		run.ID, run.AdminID, run.AdminEmail, boolInt(run.DryRun), run.Status, run.StartedAt)
	return err
}

// FinishRun stores the terminal status of a run.
func (r Repo) FinishRun(ctx context.Context, id, status, summaryJSON, errMsg, finishedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET status=?, summary_json=?, error=?, finished_at=? WHERE id=?`,
		status, nullable(summaryJSON), nullable(errMsg), finishedAt, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

// ListRuns returns runs newest first, optionally filtered by status.
func (r Repo) ListRuns(ctx context.Context, limit int, status string) ([]domain.Run, error) {
	clauses := []string{"1=1"}
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := fmt.Sprintf(`SELECT %s FROM runs WHERE %s ORDER BY started_at DESC, id DESC LIMIT ?`, runColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func (r Repo) InsertOutcome(ctx context.Context, o domain.RunOutcome) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO run_outcomes(run_id,partition_name,user_id,status,class,reason,ts) VALUES (?,?,?,?,?,?,?)`,
		o.RunID, o.Partition, o.UserID, o.Status, nullable(o.Class), nullable(o.Reason), o.TS)
	return err
}

func (r Repo) ListOutcomes(ctx context.Context, runID, status string) ([]domain.RunOutcome, error) {
	query := `SELECT run_id,partition_name,user_id,status,COALESCE(class,''),COALESCE(reason,''),ts FROM run_outcomes WHERE run_id=?`
	args := []any{runID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.RunOutcome{}
	for rows.Next() {
		var o domain.RunOutcome
		if err := rows.Scan(&o.RunID, &o.Partition, &o.UserID, &o.Status, &o.Class, &o.Reason, &o.TS); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// CountOutcomes groups a run's outcomes by status.
func (r Repo) CountOutcomes(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM run_outcomes WHERE run_id=? GROUP BY status`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RunEvents returns a run's events in ascending order after the cursor id.
func (r Repo) RunEvents(ctx context.Context, runID string, limit int, cursor int64, evtType string) ([]domain.Event, error) {
	clauses := []string{"run_id=?"}
	args := []any{runID}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,run_id,COALESCE(partition_name,''),COALESCE(user_id,''),payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &e.Partition, &e.UserID, &e.PayloadJSON); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SetRunAdmin records the resolved administrator of a run.
func (r Repo) SetRunAdmin(ctx context.Context, id, adminID, adminEmail string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET admin_id=?, admin_email=? WHERE id=?`, adminID, adminEmail, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
