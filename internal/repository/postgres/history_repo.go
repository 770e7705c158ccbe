package postgres

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

const (
	qHistInsert = `
INSERT INTO history (test_id, node_id, status_code, success, response_time_ms, executed_at, input, output)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id;
`

	qHistByTest = `
SELECT id, test_id, node_id, status_code, success, response_time_ms, executed_at, input, output
FROM history
WHERE test_id = $1
ORDER BY executed_at DESC, id DESC
LIMIT $2;
`

	qHistDeleteByTest = `DELETE FROM history WHERE test_id = $1;`

	qHistDeleteOlder = `DELETE FROM history WHERE executed_at < $1;`

	histSelectCols = `
h.id, h.test_id, h.node_id, h.status_code, h.success, h.response_time_ms, h.executed_at, h.input, h.output`

	// Name filters resolve through the current registry, not through
	// anything denormalized onto the record. history.test_id cascades
	// with the test, so the tests join is inner; nodes may be gone.
	histFrom = `
FROM history h
JOIN synthetic_tests t ON t.id = h.test_id
LEFT JOIN nodes n ON n.id = h.node_id`
)

// Append inserts exactly one row; the store never updates records.
// Concurrent appends from parallel probes of one run are safe because
// each outcome is an independent row.
func (s *HistoryStoreImpl) Append(ctx context.Context, r *history.Record) error {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	err := s.db.execQueryer(ctx).QueryRow(ctx, qHistInsert,
		r.TestID, r.NodeID, r.StatusCode, r.Success, r.ResponseTimeMs, r.ExecutedAt, r.Input, r.Output,
	).Scan(&r.ID)
	if err != nil {
		// test deleted while its run was in flight
		return fmt.Errorf("append history: %w", mapConstraintErr(err))
	}
	return nil
}

func (s *HistoryStoreImpl) Query(ctx context.Context, f history.Filter) ([]history.Record, int64, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	where, args := buildHistoryWhere(f)

	var total int64
	countQ := "SELECT COUNT(*) " + histFrom + where
	if err := s.db.Pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	pageQ := fmt.Sprintf("SELECT %s %s%s ORDER BY h.executed_at DESC, h.id DESC LIMIT $%d OFFSET $%d",
		histSelectCols, histFrom, where, len(args)-1, len(args))

	rows, err := s.db.Pool.Query(ctx, pageQ, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		var r history.Record
		if err := rows.Scan(&r.ID, &r.TestID, &r.NodeID, &r.StatusCode, &r.Success,
			&r.ResponseTimeMs, &r.ExecutedAt, &r.Input, &r.Output); err != nil {
			return nil, 0, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows: %w", err)
	}
	return out, total, nil
}

func buildHistoryWhere(f history.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.TestID != nil {
		conds = append(conds, "h.test_id = "+arg(*f.TestID))
	}
	if f.TestName != "" {
		conds = append(conds, "t.name ILIKE "+arg("%"+f.TestName+"%"))
	}
	if f.NodeID != nil {
		conds = append(conds, "h.node_id = "+arg(*f.NodeID))
	}
	if f.NodeName != "" {
		conds = append(conds, "n.name ILIKE "+arg("%"+f.NodeName+"%"))
	}
	if f.GroupName != "" {
		// matched via current group membership of the record's node
		conds = append(conds, `EXISTS (
SELECT 1 FROM node_group_members m
JOIN node_groups g ON g.id = m.group_id
WHERE m.node_id = h.node_id AND g.name ILIKE `+arg("%"+f.GroupName+"%")+")")
	}
	if f.TagName != "" {
		conds = append(conds, "t.tags ILIKE "+arg("%"+f.TagName+"%"))
	}
	if f.NotificationEnabled != nil {
		alertPred := "(NOT h.success OR h.response_time_ms > t.threshold_ms)"
		if *f.NotificationEnabled {
			conds = append(conds, "NOT "+alertPred)
		} else {
			conds = append(conds, alertPred)
		}
	}
	if f.Start != nil {
		conds = append(conds, "h.executed_at >= "+arg(*f.Start))
	}
	if f.End != nil {
		conds = append(conds, "h.executed_at <= "+arg(*f.End))
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
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Pool.Query(ctx, qHistByTest, testID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		var r history.Record
		if err := rows.Scan(&r.ID, &r.TestID, &r.NodeID, &r.StatusCode, &r.Success,
			&r.ResponseTimeMs, &r.ExecutedAt, &r.Input, &r.Output); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *HistoryStoreImpl) DeleteByTest(ctx context.Context, testID int64) (int64, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	cmd, err := s.db.execQueryer(ctx).Exec(ctx, qHistDeleteByTest, testID)
	if err != nil {
		return 0, fmt.Errorf("delete history: %w", err)
	}
	return cmd.RowsAffected(), nil
}

func (s *HistoryStoreImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	cmd, err := s.db.Pool.Exec(ctx, qHistDeleteOlder, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return cmd.RowsAffected(), nil
}
