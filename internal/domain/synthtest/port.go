package synthtest

import "context"

type Repo interface {
	Create(ctx context.Context, t *Test) error
	GetByID(ctx context.Context, id int64) (*Test, error)
	List(ctx context.Context) ([]*Test, error)
	Update(ctx context.Context, t *Test) error
	Delete(ctx context.Context, id int64) error
	FetchDue(ctx context.Context, limit int) ([]*Test, error)
}
