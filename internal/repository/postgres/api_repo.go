package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/NordCoder/Probeus/internal/domain/apidef"
	"github.com/NordCoder/Probeus/internal/tags"
)

var _ apidef.Repo = (*ApiRepoImpl)(nil)

type ApiRepoImpl struct {
	db *DB
	tx Transactor
}

func NewApiRepo(db *DB) *ApiRepoImpl {
	return &ApiRepoImpl{db: db, tx: NewTransactor(db, zap.L())}
}

const (
	qApiInsert = `
INSERT INTO apis (name, uri, method, tags)
VALUES ($1, $2, $3, $4)
RETURNING id, name, uri, method, tags, created_at, updated_at;
`

	qApiGet = `
SELECT id, name, uri, method, tags, created_at, updated_at
FROM apis
WHERE id = $1;
`

	qApiList = `
SELECT id, name, uri, method, tags, created_at, updated_at
FROM apis
ORDER BY id;
`

	qApiUpdate = `
UPDATE apis SET name = $2, uri = $3, method = $4, tags = $5, updated_at = NOW()
WHERE id = $1;
`

	qApiDelete = `DELETE FROM apis WHERE id = $1;`

	qParamsGet = `
SELECT id, api_id, name, placement, required, description
FROM api_parameters
WHERE api_id = $1
ORDER BY id;
`

	qParamsClear  = `DELETE FROM api_parameters WHERE api_id = $1;`
	qParamsInsert = `
INSERT INTO api_parameters (api_id, name, placement, required, description)
VALUES ($1, $2, $3, $4, $5)
RETURNING id;
`
)

func scanApi(row pgx.Row, d *apidef.Definition) error {
	var rawTags string
	if err := row.Scan(
		&d.ID,
		&d.Name,
		&d.URI,
		&d.Method,
		&rawTags,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan api: %w", err)
	}
	d.Tags = tags.Parse(rawTags)
	return nil
}

func (r *ApiRepoImpl) Create(ctx context.Context, d *apidef.Definition) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return r.tx.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.execQueryer(ctx)
		if err := scanApi(q.QueryRow(ctx, qApiInsert, d.Name, d.URI, d.Method, tags.Encode(d.Tags)), d); err != nil {
			return err
		}
		return insertParams(ctx, q, d)
	})
}

func (r *ApiRepoImpl) GetByID(ctx context.Context, id int64) (*apidef.Definition, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var d apidef.Definition
	if err := scanApi(r.db.Pool.QueryRow(ctx, qApiGet, id), &d); err != nil {
		return nil, err
	}
	params, err := r.params(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Params = params
	return &d, nil
}

func (r *ApiRepoImpl) List(ctx context.Context) ([]*apidef.Definition, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qApiList)
	if err != nil {
		return nil, fmt.Errorf("query apis: %w", err)
	}
	defer rows.Close()

	var out []*apidef.Definition
	for rows.Next() {
		var d apidef.Definition
		if err := scanApi(rows, &d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	for _, d := range out {
		params, err := r.params(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		d.Params = params
	}
	return out, nil
}

// Update replaces the parameter schema wholesale. Parameter IDs change
// on update; tests keyed to removed parameters simply stop binding them.
func (r *ApiRepoImpl) Update(ctx context.Context, d *apidef.Definition) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return r.tx.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.execQueryer(ctx)
		cmd, err := q.Exec(ctx, qApiUpdate, d.ID, d.Name, d.URI, d.Method, tags.Encode(d.Tags))
		if err != nil {
			return fmt.Errorf("update api: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := q.Exec(ctx, qParamsClear, d.ID); err != nil {
			return fmt.Errorf("clear params: %w", err)
		}
		return insertParams(ctx, q, d)
	})
}

func (r *ApiRepoImpl) Delete(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qApiDelete, id)
	if err != nil {
		return fmt.Errorf("delete api: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ApiRepoImpl) params(ctx context.Context, apiID int64) ([]apidef.Parameter, error) {
	rows, err := r.db.Pool.Query(ctx, qParamsGet, apiID)
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

func insertParams(ctx context.Context, q execQueryer, d *apidef.Definition) error {
	for i := range d.Params {
		p := &d.Params[i]
		p.ApiID = d.ID
		if err := q.QueryRow(ctx, qParamsInsert, d.ID, p.Name, p.Placement, p.Required, p.Description).
			Scan(&p.ID); err != nil {
			return fmt.Errorf("insert param: %w", err)
		}
	}
	return nil
}
