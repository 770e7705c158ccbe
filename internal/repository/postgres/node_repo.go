package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Probeus/internal/domain/node"
	"github.com/NordCoder/Probeus/internal/tags"
)

var _ node.Repo = (*NodeRepoImpl)(nil)

type NodeRepoImpl struct {
	db *DB
}

func NewNodeRepo(db *DB) *NodeRepoImpl { return &NodeRepoImpl{db: db} }

const (
	qNodeInsert = `
INSERT INTO nodes (name, host, port, status, tags)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, name, host, port, status, tags, created_at, updated_at;
`

	qNodeGet = `
SELECT id, name, host, port, status, tags, created_at, updated_at
FROM nodes
WHERE id = $1;
`

	qNodeList = `
SELECT id, name, host, port, status, tags, created_at, updated_at
FROM nodes
ORDER BY id;
`

	qNodeUpdate = `
UPDATE nodes
SET name = $2, host = $3, port = $4, status = $5, tags = $6, updated_at = NOW()
WHERE id = $1;
`

	qNodeDelete = `DELETE FROM nodes WHERE id = $1;`
)

func scanNode(row pgx.Row, n *node.Node) error {
	var rawTags string
	if err := row.Scan(
		&n.ID,
		&n.Name,
		&n.Host,
		&n.Port,
		&n.Status,
		&rawTags,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan node: %w", err)
	}
	n.Tags = tags.Parse(rawTags)
	return nil
}

func (r *NodeRepoImpl) Create(ctx context.Context, n *node.Node) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	row := r.db.Pool.QueryRow(ctx, qNodeInsert, n.Name, n.Host, n.Port, n.Status, tags.Encode(n.Tags))
	return scanNode(row, n)
}

func (r *NodeRepoImpl) GetByID(ctx context.Context, id int64) (*node.Node, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n node.Node
	if err := scanNode(r.db.Pool.QueryRow(ctx, qNodeGet, id), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NodeRepoImpl) List(ctx context.Context) ([]*node.Node, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qNodeList)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []*node.Node
	for rows.Next() {
		var n node.Node
		if err := scanNode(rows, &n); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *NodeRepoImpl) Update(ctx context.Context, n *node.Node) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qNodeUpdate,
		n.ID, n.Name, n.Host, n.Port, n.Status, tags.Encode(n.Tags))
	if err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *NodeRepoImpl) Delete(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qNodeDelete, id)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
