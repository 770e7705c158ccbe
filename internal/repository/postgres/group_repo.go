package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/NordCoder/Probeus/internal/domain/node"
)

var _ node.GroupRepo = (*GroupRepoImpl)(nil)

type GroupRepoImpl struct {
	db *DB
	tx Transactor
}

func NewGroupRepo(db *DB) *GroupRepoImpl {
	return &GroupRepoImpl{db: db, tx: NewTransactor(db, zap.L())}
}

const (
	qGroupInsert = `
INSERT INTO node_groups (name)
VALUES ($1)
RETURNING id, name, created_at, updated_at;
`

	qGroupGet = `
SELECT id, name, created_at, updated_at
FROM node_groups
WHERE id = $1;
`

	qGroupList = `
SELECT id, name, created_at, updated_at
FROM node_groups
ORDER BY id;
`

	qGroupUpdate = `
UPDATE node_groups SET name = $2, updated_at = NOW() WHERE id = $1;
`

	qGroupDelete = `DELETE FROM node_groups WHERE id = $1;`

	// member rows keep their stored order via position
	qMembersGet = `
SELECT node_id FROM node_group_members WHERE group_id = $1 ORDER BY position;
`

	qMembersClear  = `DELETE FROM node_group_members WHERE group_id = $1;`
	qMembersInsert = `
INSERT INTO node_group_members (group_id, node_id, position) VALUES ($1, $2, $3);
`
)

func (r *GroupRepoImpl) Create(ctx context.Context, g *node.Group) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return r.tx.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.execQueryer(ctx)
		if err := q.QueryRow(ctx, qGroupInsert, g.Name).
			Scan(&g.ID, &g.Name, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		return insertMembers(ctx, q, g.ID, g.MemberIDs)
	})
}

func (r *GroupRepoImpl) GetByID(ctx context.Context, id int64) (*node.Group, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var g node.Group
	if err := r.db.Pool.QueryRow(ctx, qGroupGet, id).
		Scan(&g.ID, &g.Name, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan group: %w", err)
	}
	members, err := r.members(ctx, id)
	if err != nil {
		return nil, err
	}
	g.MemberIDs = members
	return &g, nil
}

func (r *GroupRepoImpl) List(ctx context.Context) ([]*node.Group, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qGroupList)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var out []*node.Group
	for rows.Next() {
		var g node.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	for _, g := range out {
		members, err := r.members(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		g.MemberIDs = members
	}
	return out, nil
}

// Update replaces the member list wholesale, keeping the caller's order.
func (r *GroupRepoImpl) Update(ctx context.Context, g *node.Group) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return r.tx.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.execQueryer(ctx)
		cmd, err := q.Exec(ctx, qGroupUpdate, g.ID, g.Name)
		if err != nil {
			return fmt.Errorf("update group: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := q.Exec(ctx, qMembersClear, g.ID); err != nil {
			return fmt.Errorf("clear members: %w", err)
		}
		return insertMembers(ctx, q, g.ID, g.MemberIDs)
	})
}

func (r *GroupRepoImpl) Delete(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qGroupDelete, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GroupRepoImpl) members(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, qMembersGet, groupID)
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

func insertMembers(ctx context.Context, q execQueryer, groupID int64, memberIDs []int64) error {
	for i, nodeID := range memberIDs {
		if _, err := q.Exec(ctx, qMembersInsert, groupID, nodeID, i); err != nil {
			// duplicate member IDs trip the (group_id, node_id) primary key
			return fmt.Errorf("insert member: %w", mapConstraintErr(err))
		}
	}
	return nil
}
