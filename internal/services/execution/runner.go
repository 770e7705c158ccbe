// Package execution wires target resolution, parameter binding, probing
// and history persistence into one run. Both the API server (manual
// trigger) and the probe worker (scheduled trigger) call into it.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Probeus/internal/bind"
	"github.com/NordCoder/Probeus/internal/domain/apidef"
	"github.com/NordCoder/Probeus/internal/domain/history"
	"github.com/NordCoder/Probeus/internal/domain/node"
	"github.com/NordCoder/Probeus/internal/domain/synthtest"
	"github.com/NordCoder/Probeus/internal/obs"
	"github.com/NordCoder/Probeus/internal/obs/retry"
	"github.com/NordCoder/Probeus/internal/probe"
	"github.com/NordCoder/Probeus/internal/resolve"
)

// BrokenRefError marks a test whose API definition no longer exists.
// The run cannot proceed; the reference has to be repaired first.
type BrokenRefError struct {
	TestID int64
	ApiID  int64
	Err    error
}

func (e *BrokenRefError) Error() string {
	return fmt.Sprintf("test %d references missing api %d: %v", e.TestID, e.ApiID, e.Err)
}

func (e *BrokenRefError) Unwrap() error { return e.Err }

// RunResult is the run-level view handed back to the caller: an overall
// verdict plus the per-node breakdown it was derived from.
type RunResult struct {
	TestID     *int64          `json:"test_id,omitempty"`
	ApiID      int64           `json:"api_id"`
	Success    bool            `json:"success"`
	ExecutedAt time.Time       `json:"executed_at"`
	Outcomes   []probe.Outcome `json:"outcomes"`
}

type Runner struct {
	Tests   synthtest.Repo
	Apis    apidef.Repo
	Nodes   node.Repo
	Groups  node.GroupRepo
	History history.Store
	Exec    *probe.Executor
	Log     *zap.Logger
}

// ExecuteTest runs a stored test once and appends one history record per
// probed node. A missing API definition is a referential inconsistency
// and fails the run; a missing or empty target degrades to the
// executor's synthetic outcome, which is recorded like any other. When
// history cannot be written the run errors too, with the finished
// outcomes still attached to the returned result.
func (r *Runner) ExecuteTest(ctx context.Context, testID int64) (*RunResult, error) {
	tr := otel.Tracer("execution.runner")
	ctx, span := tr.Start(ctx, "execution.test",
		oteltrace.WithAttributes(attribute.Int64("test.id", testID)))
	defer span.End()

	t, err := r.Tests.GetByID(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	def, err := r.Apis.GetByID(ctx, t.ApiID)
	if err != nil {
		return nil, &BrokenRefError{TestID: t.ID, ApiID: t.ApiID, Err: err}
	}

	params, err := bind.Bind(def.Params, t.ParamValues)
	if err != nil {
		return nil, err
	}

	targets, err := r.resolveTargets(ctx, t.TargetType, t.TargetID)
	if err != nil {
		return nil, err
	}

	outcomes, err := r.Exec.ExecuteAll(ctx, def, params, targets)
	if err != nil {
		return nil, err
	}
	probe.SortByNodeID(outcomes)

	res := &RunResult{
		TestID:     &t.ID,
		ApiID:      def.ID,
		Success:    probe.AllSucceeded(outcomes),
		ExecutedAt: time.Now().UTC(),
		Outcomes:   outcomes,
	}
	if err := r.persist(ctx, t.ID, params, res); err != nil {
		return res, fmt.Errorf("record run: %w", err)
	}
	return res, nil
}

// ExecuteAdHoc probes an API directly with caller-supplied values keyed
// by parameter name. Pure preview: nothing is written to history.
func (r *Runner) ExecuteAdHoc(ctx context.Context, apiID int64, values map[string]string, tt synthtest.TargetType, targetID int64) (*RunResult, error) {
	tr := otel.Tracer("execution.runner")
	ctx, span := tr.Start(ctx, "execution.adhoc",
		oteltrace.WithAttributes(attribute.Int64("api.id", apiID)))
	defer span.End()

	def, err := r.Apis.GetByID(ctx, apiID)
	if err != nil {
		return nil, fmt.Errorf("get api: %w", err)
	}
	params, err := bind.BindByName(def.Params, values)
	if err != nil {
		return nil, err
	}
	targets, err := r.resolveTargets(ctx, tt, targetID)
	if err != nil {
		return nil, err
	}
	outcomes, err := r.Exec.ExecuteAll(ctx, def, params, targets)
	if err != nil {
		return nil, err
	}
	probe.SortByNodeID(outcomes)

	return &RunResult{
		ApiID:      def.ID,
		Success:    probe.AllSucceeded(outcomes),
		ExecutedAt: time.Now().UTC(),
		Outcomes:   outcomes,
	}, nil
}

func (r *Runner) resolveTargets(ctx context.Context, tt synthtest.TargetType, targetID int64) ([]*node.Node, error) {
	nodes, err := r.Nodes.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	var groups []*node.Group
	if tt == synthtest.TargetGroup {
		groups, err = r.Groups.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list groups: %w", err)
		}
	}
	return resolve.Targets(tt, targetID, nodes, groups), nil
}

// persist appends one record per outcome. Appends are retried; the
// remaining outcomes are still written after a failure, and the first
// error comes back so the caller sees the run as failed at run level.
// The outcomes themselves stay in the RunResult regardless.
func (r *Runner) persist(ctx context.Context, testID int64, params map[string]string, res *RunResult) error {
	input, _ := json.Marshal(params)
	log := obs.WithTrace(ctx, r.Log)

	var firstErr error
	for _, o := range res.Outcomes {
		rec := &history.Record{
			TestID:         &testID,
			NodeID:         o.NodeID,
			StatusCode:     o.StatusCode,
			Success:        o.Success,
			ResponseTimeMs: o.ResponseTimeMs,
			ExecutedAt:     res.ExecutedAt,
			Input:          string(input),
			Output:         string(o.Body),
		}
		err := retry.Do(ctx, func() error {
			return r.History.Append(ctx, rec)
		}, retry.HistoryAppendPolicy(log))
		if err != nil {
			log.Error("history append failed",
				zap.Int64("test_id", testID),
				zap.Int64("node_id", o.NodeID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
