package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Probeus/internal/domain/synthtest"
	"github.com/NordCoder/Probeus/internal/tags"
)

var _ synthtest.Repo = (*TestRepoImpl)(nil)

type TestRepoImpl struct {
	db *DB
}

func NewTestRepo(db *DB) *TestRepoImpl { return &TestRepoImpl{db: db} }

const (
	qTestInsert = `
INSERT INTO synthetic_tests
	(name, target_type, target_id, api_id, param_values, interval_sec, threshold_ms, tags, enabled, next_run)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
RETURNING id, name, target_type, target_id, api_id, param_values, interval_sec, threshold_ms, tags, enabled, next_run, created_at, updated_at;
`

	qTestGet = `
SELECT id, name, target_type, target_id, api_id, param_values, interval_sec, threshold_ms, tags, enabled, next_run, created_at, updated_at
FROM synthetic_tests
WHERE id = $1;
`

	qTestList = `
SELECT id, name, target_type, target_id, api_id, param_values, interval_sec, threshold_ms, tags, enabled, next_run, created_at, updated_at
FROM synthetic_tests
ORDER BY id;
`

	qTestUpdate = `
UPDATE synthetic_tests
SET name = $2, target_type = $3, target_id = $4, api_id = $5, param_values = $6,
    interval_sec = $7, threshold_ms = $8, tags = $9, enabled = $10, updated_at = NOW()
WHERE id = $1;
`

	qTestDelete = `DELETE FROM synthetic_tests WHERE id = $1;`

	qTestFetchDue = `
SELECT id, name, target_type, target_id, api_id, param_values, interval_sec, threshold_ms, tags, enabled, next_run, created_at, updated_at
FROM synthetic_tests
WHERE enabled = TRUE AND next_run <= NOW()
ORDER BY next_run
FOR UPDATE SKIP LOCKED
LIMIT $1;
`

	qTestBumpNextRun = `
UPDATE synthetic_tests
SET next_run = NOW() + (interval_sec * INTERVAL '1 second'),
    updated_at = NOW()
WHERE id = ANY($1);
`
)

// param_values is stored as a JSON object keyed by the stringified
// parameter ID; Go maps with int64 keys do not round-trip through JSON
// directly.
func encodeParamValues(m map[int64]string) string {
	if len(m) == 0 {
		return "{}"
	}
	tmp := make(map[string]string, len(m))
	for k, v := range m {
		tmp[strconv.FormatInt(k, 10)] = v
	}
	b, _ := json.Marshal(tmp)
	return string(b)
}

func decodeParamValues(raw string) (map[int64]string, error) {
	if raw == "" {
		return nil, nil
	}
	var tmp map[string]string
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil, fmt.Errorf("decode param values: %w", err)
	}
	if len(tmp) == 0 {
		return nil, nil
	}
	out := make(map[int64]string, len(tmp))
	for k, v := range tmp {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode param key %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}

func scanTest(row pgx.Row, t *synthtest.Test) error {
	var (
		rawParams string
		rawTags   string
	)
	if err := row.Scan(
		&t.ID,
		&t.Name,
		&t.TargetType,
		&t.TargetID,
		&t.ApiID,
		&rawParams,
		&t.IntervalSec,
		&t.ThresholdMs,
		&rawTags,
		&t.Enabled,
		&t.NextRun,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan test: %w", err)
	}
	pv, err := decodeParamValues(rawParams)
	if err != nil {
		return err
	}
	t.ParamValues = pv
	t.Tags = tags.Parse(rawTags)
	return nil
}

func (r *TestRepoImpl) Create(ctx context.Context, t *synthtest.Test) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	row := r.db.Pool.QueryRow(ctx, qTestInsert,
		t.Name, t.TargetType, t.TargetID, t.ApiID, encodeParamValues(t.ParamValues),
		t.IntervalSec, t.ThresholdMs, tags.Encode(t.Tags), t.Enabled)
	return scanTest(row, t)
}

func (r *TestRepoImpl) GetByID(ctx context.Context, id int64) (*synthtest.Test, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var t synthtest.Test
	if err := scanTest(r.db.Pool.QueryRow(ctx, qTestGet, id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TestRepoImpl) List(ctx context.Context) ([]*synthtest.Test, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qTestList)
	if err != nil {
		return nil, fmt.Errorf("query tests: %w", err)
	}
	defer rows.Close()

	var out []*synthtest.Test
	for rows.Next() {
		var t synthtest.Test
		if err := scanTest(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *TestRepoImpl) Update(ctx context.Context, t *synthtest.Test) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qTestUpdate,
		t.ID, t.Name, t.TargetType, t.TargetID, t.ApiID, encodeParamValues(t.ParamValues),
		t.IntervalSec, t.ThresholdMs, tags.Encode(t.Tags), t.Enabled)
	if err != nil {
		return fmt.Errorf("update test: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TestRepoImpl) Delete(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qTestDelete, id)
	if err != nil {
		return fmt.Errorf("delete test: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FetchDue claims due tests and bumps their next_run in one transaction
// so concurrent schedulers never double-fire a test.
func (r *TestRepoImpl) FetchDue(ctx context.Context, limit int) ([]*synthtest.Test, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, qTestFetchDue, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due: %w", err)
	}
	defer rows.Close()

	var (
		out []*synthtest.Test
		ids []int64
	)
	for rows.Next() {
		var t synthtest.Test
		if err := scanTest(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.Exec(ctx, qTestBumpNextRun, ids); err != nil {
		return nil, fmt.Errorf("bump next_run: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}
