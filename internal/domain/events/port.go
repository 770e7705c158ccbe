package events

import "context"

// RunEvents decouples the scheduler from the worker; one published
// request produces one execution run.
type RunEvents interface {
	PublishRunRequested(ctx context.Context, testID int64) error
}
