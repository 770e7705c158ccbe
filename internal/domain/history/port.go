package history

import (
	"context"
	"time"
)

// Filter composes with logical AND; zero values mean "no constraint".
// NotificationEnabled is tri-state: nil = all records, true = only
// records that are not alerts, false = only alerts.
type Filter struct {
	TestID              *int64
	TestName            string
	NodeID              *int64
	NodeName            string
	GroupName           string
	TagName             string
	NotificationEnabled *bool
	Start               *time.Time
	End                 *time.Time
	Limit               int
	Offset              int
}

// Store is append-only: records are inserted once and never updated.
// Deletes exist only for test-cascade and retention pruning.
type Store interface {
	Append(ctx context.Context, r *Record) error
	Query(ctx context.Context, f Filter) ([]Record, int64, error)
	ListByTest(ctx context.Context, testID int64, limit int) ([]Record, error)
	DeleteByTest(ctx context.Context, testID int64) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
