package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Probeus/internal/domain/tag"
	"github.com/NordCoder/Probeus/internal/tags"
)

var _ tag.Repo = (*TagRepoImpl)(nil)

type TagRepoImpl struct {
	db *DB
}

func NewTagRepo(db *DB) *TagRepoImpl { return &TagRepoImpl{db: db} }

const (
	qTagEnsure = `
INSERT INTO tags (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name;
`

	qTagList = `SELECT id, name FROM tags ORDER BY name;`

	qTagDelete = `DELETE FROM tags WHERE id = $1;`

	qTagEntityFields = `
SELECT tags FROM nodes WHERE tags <> ''
UNION ALL
SELECT tags FROM apis WHERE tags <> ''
UNION ALL
SELECT tags FROM synthetic_tests WHERE tags <> '';
`

	qTagDeleteByIDs = `DELETE FROM tags WHERE id = ANY($1);`
)

func (r *TagRepoImpl) Ensure(ctx context.Context, name string) (*tag.Tag, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var t tag.Tag
	if err := r.db.Pool.QueryRow(ctx, qTagEnsure, name).Scan(&t.ID, &t.Name); err != nil {
		return nil, fmt.Errorf("ensure tag: %w", err)
	}
	return &t, nil
}

func (r *TagRepoImpl) List(ctx context.Context) ([]*tag.Tag, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qTagList)
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
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qTagDelete, id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOrphans removes registry tags no entity carries anymore. Stored
// tag fields are encoded (JSON array or CSV), so membership is decided
// on parsed elements rather than by substring matching in SQL.
func (r *TagRepoImpl) DeleteOrphans(ctx context.Context) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qTagEntityFields)
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
	var orphans []int64
	for _, t := range registry {
		if !referenced[t.Name] {
			orphans = append(orphans, t.ID)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	cmd, err := r.db.Pool.Exec(ctx, qTagDeleteByIDs, orphans)
	if err != nil {
		return 0, fmt.Errorf("delete orphan tags: %w", err)
	}
	return cmd.RowsAffected(), nil
}
