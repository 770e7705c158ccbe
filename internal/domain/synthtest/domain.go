package synthtest

import "time"

type TargetType string

const (
	TargetNode  TargetType = "node"
	TargetGroup TargetType = "group"
)

// Test is an operator-defined synthetic check: one API executed against a
// node or node group, with a response-time alert threshold in ms.
// ParamValues is keyed by parameter ID; the binder translates IDs to
// transport names at execution time.
type Test struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	TargetType  TargetType       `json:"target_type"`
	TargetID    int64            `json:"target_id"`
	ApiID       int64            `json:"api_id"`
	ParamValues map[int64]string `json:"param_values"`
	IntervalSec int              `json:"interval_sec"`
	ThresholdMs int64            `json:"threshold_ms"`
	Tags        []string         `json:"tags"`
	Enabled     bool             `json:"enabled"`
	NextRun     time.Time        `json:"next_run"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
