package tag

import "context"

type Repo interface {
	Ensure(ctx context.Context, name string) (*Tag, error)
	List(ctx context.Context) ([]*Tag, error)
	Delete(ctx context.Context, id int64) error
	// DeleteOrphans removes tags no node, api, or test references.
	DeleteOrphans(ctx context.Context) (int64, error)
}
