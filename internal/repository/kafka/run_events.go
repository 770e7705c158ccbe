package kafka

import (
	"context"
	"time"

	"github.com/NordCoder/Probeus/internal/domain/events"
)

// RunRequest is the wire payload on the run-request topic.
type RunRequest struct {
	TestID      int64     `json:"test_id"`
	RequestedAt time.Time `json:"requested_at"`
}

type RunEventsKafka struct {
	p *Producer
}

func NewRunEventsKafka(p *Producer) *RunEventsKafka { return &RunEventsKafka{p: p} }

var _ events.RunEvents = (*RunEventsKafka)(nil)

func (e *RunEventsKafka) PublishRunRequested(ctx context.Context, testID int64) error {
	return e.p.PublishJSON(ctx, KeyFromInt64(testID), RunRequest{
		TestID:      testID,
		RequestedAt: time.Now().UTC(),
	})
}
