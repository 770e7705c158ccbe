package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Probeus/internal/domain/history"
)

var _ history.Store = (*HistoryStoreImpl)(nil)

type HistoryStoreImpl struct {
	db *DB
}

func NewHistoryStore(db *DB) *HistoryStoreImpl { return &HistoryStoreImpl{db: db} }

const histFrom = `
FROM history h
JOIN synthetic_tests t ON t.id = h.test_id
LEFT JOIN nodes n ON n.id = h.node_id`

func (s *HistoryStoreImpl) Append(ctx context.Context, r *history.Record) error {
	res, err := s.db.sql.ExecContext(ctx, `
INSERT INTO history (test_id, node_id, status_code, success, response_time_ms, executed_at, input, output)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TestID, r.NodeID, r.StatusCode, r.Success, r.ResponseTimeMs, fmtTime(r.ExecutedAt), r.Input, r.Output)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("history id: %w", err)
	}
	r.ID = id
	return nil
}

func (s *HistoryStoreImpl) Query(ctx context.Context, f history.Filter) ([]history.Record, int64, error) {
	where, args := buildWhere(f)

	var total int64
	if err := s.db.sql.QueryRowContext(ctx, "SELECT COUNT(*) "+histFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT h.id, h.test_id, h.node_id, h.status_code, h.success, h.response_time_ms, h.executed_at, h.input, h.output` +
		histFrom + where + `
ORDER BY h.executed_at DESC, h.id DESC
LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		var (
			r  history.Record
			ts string
		)
		if err := rows.Scan(&r.ID, &r.TestID, &r.NodeID, &r.StatusCode, &r.Success,
			&r.ResponseTimeMs, &ts, &r.Input, &r.Output); err != nil {
			return nil, 0, fmt.Errorf("scan history: %w", err)
		}
		r.ExecutedAt = parseTime(ts)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows: %w", err)
	}
	return out, total, nil
}

func buildWhere(f history.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, vs ...any) {
		conds = append(conds, cond)
		args = append(args, vs...)
	}

	if f.TestID != nil {
		add("h.test_id = ?", *f.TestID)
	}
	if f.TestName != "" {
		add("LOWER(t.name) LIKE ?", "%"+strings.ToLower(f.TestName)+"%")
	}
	if f.NodeID != nil {
		add("h.node_id = ?", *f.NodeID)
	}
	if f.NodeName != "" {
		add("LOWER(n.name) LIKE ?", "%"+strings.ToLower(f.NodeName)+"%")
	}
	if f.GroupName != "" {
		add(`EXISTS (
SELECT 1 FROM node_group_members m
JOIN node_groups g ON g.id = m.group_id
WHERE m.node_id = h.node_id AND LOWER(g.name) LIKE ?)`, "%"+strings.ToLower(f.GroupName)+"%")
	}
	if f.TagName != "" {
		add("LOWER(t.tags) LIKE ?", "%"+strings.ToLower(f.TagName)+"%")
	}
	if f.NotificationEnabled != nil {
		alertPred := "(h.success = 0 OR h.response_time_ms > t.threshold_ms)"
		if *f.NotificationEnabled {
			conds = append(conds, "NOT "+alertPred)
		} else {
			conds = append(conds, alertPred)
		}
	}
	if f.Start != nil {
		add("h.executed_at >= ?", fmtTime(*f.Start))
	}
	if f.End != nil {
		add("h.executed_at <= ?", fmtTime(*f.End))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *HistoryStoreImpl) ListByTest(ctx context.Context, testID int64, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.sql.QueryContext(ctx, `
SELECT id, test_id, node_id, status_code, success, response_time_ms, executed_at, input, output
FROM history
WHERE test_id = ?
ORDER BY executed_at DESC, id DESC
LIMIT ?`, testID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		var (
			r  history.Record
			ts string
		)
		if err := rows.Scan(&r.ID, &r.TestID, &r.NodeID, &r.StatusCode, &r.Success,
			&r.ResponseTimeMs, &ts, &r.Input, &r.Output); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.ExecutedAt = parseTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *HistoryStoreImpl) DeleteByTest(ctx context.Context, testID int64) (int64, error) {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM history WHERE test_id = ?`, testID)
	if err != nil {
		return 0, fmt.Errorf("delete history: %w", err)
	}
	return res.RowsAffected()
}

func (s *HistoryStoreImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM history WHERE executed_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}
