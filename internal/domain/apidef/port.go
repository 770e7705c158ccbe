package apidef

import "context"

// Repo loads definitions with their parameter schema attached; the
// binder cannot work from a bare definition row.
type Repo interface {
	Create(ctx context.Context, d *Definition) error
	GetByID(ctx context.Context, id int64) (*Definition, error)
	List(ctx context.Context) ([]*Definition, error)
	Update(ctx context.Context, d *Definition) error
	Delete(ctx context.Context, id int64) error
}
