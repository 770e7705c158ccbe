package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/NordCoder/Probeus/internal/domain/apidef"
	"github.com/NordCoder/Probeus/internal/domain/node"
	"github.com/NordCoder/Probeus/internal/domain/synthtest"
	"github.com/NordCoder/Probeus/internal/domain/tag"
	"github.com/NordCoder/Probeus/internal/tags"
)

var ErrNotFound = errors.New("not found")

// --- nodes ---

var _ node.Repo = (*NodeRepoImpl)(nil)

type NodeRepoImpl struct{ db *DB }

func NewNodeRepo(db *DB) *NodeRepoImpl { return &NodeRepoImpl{db: db} }

func (r *NodeRepoImpl) Create(ctx context.Context, n *node.Node) error {
	now := time.Now().UTC()
	res, err := r.db.sql.ExecContext(ctx, `
INSERT INTO nodes (name, host, port, status, tags, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.Name, n.Host, n.Port, n.Status, tags.Encode(n.Tags), fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	n.ID, err = res.LastInsertId()
	n.CreatedAt, n.UpdatedAt = now, now
	return err
}

func (r *NodeRepoImpl) GetByID(ctx context.Context, id int64) (*node.Node, error) {
	row := r.db.sql.QueryRowContext(ctx, `
SELECT id, name, host, port, status, tags, created_at, updated_at FROM nodes WHERE id = ?`, id)
	return scanNodeRow(row)
}

func (r *NodeRepoImpl) List(ctx context.Context) ([]*node.Node, error) {
	rows, err := r.db.sql.QueryContext(ctx, `
SELECT id, name, host, port, status, tags, created_at, updated_at FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []*node.Node
	for rows.Next() {
		n, err := scanNodeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NodeRepoImpl) Update(ctx context.Context, n *node.Node) error {
	res, err := r.db.sql.ExecContext(ctx, `
UPDATE nodes SET name = ?, host = ?, port = ?, status = ?, tags = ?, updated_at = ? WHERE id = ?`,
		n.Name, n.Host, n.Port, n.Status, tags.Encode(n.Tags), fmtTime(time.Now().UTC()), n.ID)
	return affected(res, err, "update node")
}

func (r *NodeRepoImpl) Delete(ctx context.Context, id int64) error {
	res, err := r.db.sql.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	return affected(res, err, "delete node")
}

type rowScanner interface{ Scan(dest ...any) error }

func scanNodeRow(row rowScanner) (*node.Node, error) {
	var (
		n                 node.Node
		rawTags, cAt, uAt string
	)
	if err := row.Scan(&n.ID, &n.Name, &n.Host, &n.Port, &n.Status, &rawTags, &cAt, &uAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan node: %w", err)
	}
	n.Tags = tags.Parse(rawTags)
	n.CreatedAt, n.UpdatedAt = parseTime(cAt), parseTime(uAt)
	return &n, nil
}

// --- node groups ---

var _ node.GroupRepo = (*GroupRepoImpl)(nil)

type GroupRepoImpl struct{ db *DB }

func NewGroupRepo(db *DB) *GroupRepoImpl { return &GroupRepoImpl{db: db} }

func (r *GroupRepoImpl) Create(ctx context.Context, g *node.Group) error {
	now := time.Now().UTC()
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO node_groups (name, created_at, updated_at) VALUES (?, ?, ?)`,
		g.Name, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	if g.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	if err := insertMembers(ctx, tx, g.ID, g.MemberIDs); err != nil {
		return err
	}
	g.CreatedAt, g.UpdatedAt = now, now
	return tx.Commit()
}

func (r *GroupRepoImpl) GetByID(ctx context.Context, id int64) (*node.Group, error) {
	var (
		g        node.Group
		cAt, uAt string
	)
	err := r.db.sql.QueryRowContext(ctx, `
SELECT id, name, created_at, updated_at FROM node_groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &cAt, &uAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan group: %w", err)
	}
	g.CreatedAt, g.UpdatedAt = parseTime(cAt), parseTime(uAt)
	if g.MemberIDs, err = r.members(ctx, id); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GroupRepoImpl) List(ctx context.Context) ([]*node.Group, error) {
	rows, err := r.db.sql.QueryContext(ctx, `
SELECT id, name, created_at, updated_at FROM node_groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var out []*node.Group
	for rows.Next() {
		var (
			g        node.Group
			cAt, uAt string
		)
		if err := rows.Scan(&g.ID, &g.Name, &cAt, &uAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.CreatedAt, g.UpdatedAt = parseTime(cAt), parseTime(uAt)
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, g := range out {
		if g.MemberIDs, err = r.members(ctx, g.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *GroupRepoImpl) Update(ctx context.Context, g *node.Group) error {
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE node_groups SET name = ?, updated_at = ? WHERE id = ?`,
		g.Name, fmtTime(time.Now().UTC()), g.ID)
	if err := affected(res, err, "update group"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM node_group_members WHERE group_id = ?`, g.ID); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	if err := insertMembers(ctx, tx, g.ID, g.MemberIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *GroupRepoImpl) Delete(ctx context.Context, id int64) error {
	res, err := r.db.sql.ExecContext(ctx, `DELETE FROM node_groups WHERE id = ?`, id)
	return affected(res, err, "delete group")
}

func (r *GroupRepoImpl) members(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.db.sql.QueryContext(ctx, `
SELECT node_id FROM node_group_members WHERE group_id = ? ORDER BY position`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func insertMembers(ctx context.Context, tx *sql.Tx, groupID int64, memberIDs []int64) error {
	for i, nodeID := range memberIDs {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO node_group_members (group_id, node_id, position) VALUES (?, ?, ?)`,
			groupID, nodeID, i); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	return nil
}

// --- apis ---

var _ apidef.Repo = (*ApiRepoImpl)(nil)

type ApiRepoImpl struct{ db *DB }

func NewApiRepo(db *DB) *ApiRepoImpl { return &ApiRepoImpl{db: db} }

func (r *ApiRepoImpl) Create(ctx context.Context, d *apidef.Definition) error {
	now := time.Now().UTC()
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO apis (name, uri, method, tags, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		d.Name, d.URI, d.Method, tags.Encode(d.Tags), fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert api: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	if err := insertParams(ctx, tx, d); err != nil {
		return err
	}
	d.CreatedAt, d.UpdatedAt = now, now
	return tx.Commit()
}

func (r *ApiRepoImpl) GetByID(ctx context.Context, id int64) (*apidef.Definition, error) {
	var (
		d                 apidef.Definition
		rawTags, cAt, uAt string
	)
	err := r.db.sql.QueryRowContext(ctx, `
SELECT id, name, uri, method, tags, created_at, updated_at FROM apis WHERE id = ?`, id).
		Scan(&d.ID, &d.Name, &d.URI, &d.Method, &rawTags, &cAt, &uAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan api: %w", err)
	}
	d.Tags = tags.Parse(rawTags)
	d.CreatedAt, d.UpdatedAt = parseTime(cAt), parseTime(uAt)
	if d.Params, err = r.params(ctx, id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *ApiRepoImpl) List(ctx context.Context) ([]*apidef.Definition, error) {
	rows, err := r.db.sql.QueryContext(ctx, `SELECT id FROM apis ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query apis: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*apidef.Definition, 0, len(ids))
	for _, id := range ids {
		d, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *ApiRepoImpl) Update(ctx context.Context, d *apidef.Definition) error {
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE apis SET name = ?, uri = ?, method = ?, tags = ?, updated_at = ? WHERE id = ?`,
		d.Name, d.URI, d.Method, tags.Encode(d.Tags), fmtTime(time.Now().UTC()), d.ID)
	if err := affected(res, err, "update api"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM api_parameters WHERE api_id = ?`, d.ID); err != nil {
		return fmt.Errorf("clear params: %w", err)
	}
	if err := insertParams(ctx, tx, d); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *ApiRepoImpl) Delete(ctx context.Context, id int64) error {
	res, err := r.db.sql.ExecContext(ctx, `DELETE FROM apis WHERE id = ?`, id)
	return affected(res, err, "delete api")
}

func (r *ApiRepoImpl) params(ctx context.Context, apiID int64) ([]apidef.Parameter, error) {
	rows, err := r.db.sql.QueryContext(ctx, `
SELECT id, api_id, name, placement, required, description FROM api_parameters WHERE api_id = ? ORDER BY id`, apiID)
	if err != nil {
		return nil, fmt.Errorf("query params: %w", err)
	}
	defer rows.Close()

	var out []apidef.Parameter
	for rows.Next() {
		var p apidef.Parameter
		if err := rows.Scan(&p.ID, &p.ApiID, &p.Name, &p.Placement, &p.Required, &p.Description); err != nil {
			return nil, fmt.Errorf("scan param: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func insertParams(ctx context.Context, tx *sql.Tx, d *apidef.Definition) error {
	for i := range d.Params {
		p := &d.Params[i]
		p.ApiID = d.ID
		res, err := tx.ExecContext(ctx, `
INSERT INTO api_parameters (api_id, name, placement, required, description)
VALUES (?, ?, ?, ?, ?)`,
			d.ID, p.Name, p.Placement, p.Required, p.Description)
		if err != nil {
			return fmt.Errorf("insert param: %w", err)
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

// --- synthetic tests ---

var _ synthtest.Repo = (*TestRepoImpl)(nil)

type TestRepoImpl struct{ db *DB }

func NewTestRepo(db *DB) *TestRepoImpl { return &TestRepoImpl{db: db} }

const testCols = `id, name, target_type, target_id, api_id, param_values, interval_sec, threshold_ms, tags, enabled, next_run, created_at, updated_at`

func (r *TestRepoImpl) Create(ctx context.Context, t *synthtest.Test) error {
	now := time.Now().UTC()
	res, err := r.db.sql.ExecContext(ctx, `
INSERT INTO synthetic_tests
	(name, target_type, target_id, api_id, param_values, interval_sec, threshold_ms, tags, enabled, next_run, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, string(t.TargetType), t.TargetID, t.ApiID, encodeParamValues(t.ParamValues),
		t.IntervalSec, t.ThresholdMs, tags.Encode(t.Tags), t.Enabled, fmtTime(now), fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	t.NextRun, t.CreatedAt, t.UpdatedAt = now, now, now
	return nil
}

func (r *TestRepoImpl) GetByID(ctx context.Context, id int64) (*synthtest.Test, error) {
	row := r.db.sql.QueryRowContext(ctx, `SELECT `+testCols+` FROM synthetic_tests WHERE id = ?`, id)
	return scanTestRow(row)
}

func (r *TestRepoImpl) List(ctx context.Context) ([]*synthtest.Test, error) {
	rows, err := r.db.sql.QueryContext(ctx, `SELECT `+testCols+` FROM synthetic_tests ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query tests: %w", err)
	}
	defer rows.Close()

	var out []*synthtest.Test
	for rows.Next() {
		t, err := scanTestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TestRepoImpl) Update(ctx context.Context, t *synthtest.Test) error {
	res, err := r.db.sql.ExecContext(ctx, `
UPDATE synthetic_tests
SET name = ?, target_type = ?, target_id = ?, api_id = ?, param_values = ?,
    interval_sec = ?, threshold_ms = ?, tags = ?, enabled = ?, updated_at = ?
WHERE id = ?`,
		t.Name, string(t.TargetType), t.TargetID, t.ApiID, encodeParamValues(t.ParamValues),
		t.IntervalSec, t.ThresholdMs, tags.Encode(t.Tags), t.Enabled, fmtTime(time.Now().UTC()), t.ID)
	return affected(res, err, "update test")
}

func (r *TestRepoImpl) Delete(ctx context.Context, id int64) error {
	res, err := r.db.sql.ExecContext(ctx, `DELETE FROM synthetic_tests WHERE id = ?`, id)
	return affected(res, err, "delete test")
}

func (r *TestRepoImpl) FetchDue(ctx context.Context, limit int) ([]*synthtest.Test, error) {
	if limit <= 0 {
		limit = 100
	}
	now := time.Now().UTC()

	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
SELECT `+testCols+` FROM synthetic_tests
WHERE enabled = 1 AND next_run <= ?
ORDER BY next_run
LIMIT ?`, fmtTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due: %w", err)
	}

	var out []*synthtest.Test
	for rows.Next() {
		t, err := scanTestRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(out) == 0 {
		return nil, nil
	}

	for _, t := range out {
		next := now.Add(time.Duration(t.IntervalSec) * time.Second)
		if _, err := tx.ExecContext(ctx, `
UPDATE synthetic_tests SET next_run = ?, updated_at = ? WHERE id = ?`,
			fmtTime(next), fmtTime(now), t.ID); err != nil {
			return nil, fmt.Errorf("bump next_run: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func scanTestRow(row rowScanner) (*synthtest.Test, error) {
	var (
		t                      synthtest.Test
		tt, rawParams, rawTags string
		nextRun, cAt, uAt      string
	)
	if err := row.Scan(&t.ID, &t.Name, &tt, &t.TargetID, &t.ApiID, &rawParams,
		&t.IntervalSec, &t.ThresholdMs, &rawTags, &t.Enabled, &nextRun, &cAt, &uAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan test: %w", err)
	}
	t.TargetType = synthtest.TargetType(tt)
	pv, err := decodeParamValues(rawParams)
	if err != nil {
		return nil, err
	}
	t.ParamValues = pv
	t.Tags = tags.Parse(rawTags)
	t.NextRun, t.CreatedAt, t.UpdatedAt = parseTime(nextRun), parseTime(cAt), parseTime(uAt)
	return &t, nil
}

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

// --- tags registry ---

var _ tag.Repo = (*TagRepoImpl)(nil)

type TagRepoImpl struct{ db *DB }

func NewTagRepo(db *DB) *TagRepoImpl { return &TagRepoImpl{db: db} }

func (r *TagRepoImpl) Ensure(ctx context.Context, name string) (*tag.Tag, error) {
	if _, err := r.db.sql.ExecContext(ctx, `
INSERT INTO tags (name) VALUES (?) ON CONFLICT (name) DO NOTHING`, name); err != nil {
		return nil, fmt.Errorf("ensure tag: %w", err)
	}
	var t tag.Tag
	if err := r.db.sql.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE name = ?`, name).
		Scan(&t.ID, &t.Name); err != nil {
		return nil, fmt.Errorf("select tag: %w", err)
	}
	return &t, nil
}

func (r *TagRepoImpl) List(ctx context.Context) ([]*tag.Tag, error) {
	rows, err := r.db.sql.QueryContext(ctx, `SELECT id, name FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var out []*tag.Tag
	for rows.Next() {
		var t tag.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *TagRepoImpl) Delete(ctx context.Context, id int64) error {
	res, err := r.db.sql.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	return affected(res, err, "delete tag")
}

// DeleteOrphans decides membership on parsed tag elements, not on
// substrings of the encoded field, so "prod" does not survive because
// something is tagged "production".
func (r *TagRepoImpl) DeleteOrphans(ctx context.Context) (int64, error) {
	rows, err := r.db.sql.QueryContext(ctx, `
SELECT tags FROM nodes WHERE tags <> ''
UNION ALL SELECT tags FROM apis WHERE tags <> ''
UNION ALL SELECT tags FROM synthetic_tests WHERE tags <> ''`)
	if err != nil {
		return 0, fmt.Errorf("query tag fields: %w", err)
	}
	defer rows.Close()

	var raws []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return 0, fmt.Errorf("scan tag field: %w", err)
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("rows: %w", err)
	}
	referenced := tags.Referenced(raws)

	registry, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	var deleted int64
	for _, t := range registry {
		if referenced[t.Name] {
			continue
		}
		res, err := r.db.sql.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, t.ID)
		if err != nil {
			return deleted, fmt.Errorf("delete orphan tag: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}

func affected(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
