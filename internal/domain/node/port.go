package node

import "context"

type Repo interface {
	Create(ctx context.Context, n *Node) error
	GetByID(ctx context.Context, id int64) (*Node, error)
	List(ctx context.Context) ([]*Node, error)
	Update(ctx context.Context, n *Node) error
	Delete(ctx context.Context, id int64) error
}

type GroupRepo interface {
	Create(ctx context.Context, g *Group) error
	GetByID(ctx context.Context, id int64) (*Group, error)
	List(ctx context.Context) ([]*Group, error)
	Update(ctx context.Context, g *Group) error
	Delete(ctx context.Context, id int64) error
}
