// Package probe_worker consumes run requests from Kafka and executes
// them through the execution runner.
package probe_worker

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	kafkax "github.com/NordCoder/Probeus/internal/repository/kafka"
	"github.com/NordCoder/Probeus/internal/services/execution"
)

type Controller struct {
	Log    *zap.Logger
	Sub    *kafkax.Consumer
	Runner *execution.Runner

	mMsgs prometheus.Counter
	mRuns prometheus.Counter
	mErrs prometheus.Counter
}

func NewController(log *zap.Logger, sub *kafkax.Consumer, runner *execution.Runner) *Controller {
	return &Controller{
		Log:    log,
		Sub:    sub,
		Runner: runner,
		mMsgs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "probeus_worker_messages_consumed_total", Help: "Run-request messages consumed",
		}),
		mRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "probeus_worker_runs_total", Help: "Test executions completed",
		}),
		mErrs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "probeus_worker_errors_total", Help: "Run-request handling errors",
		}),
	}
}

func (c *Controller) Run(ctx context.Context) error {
	handler := func(ctx context.Context, req *kafkax.RunRequest) error {
		c.mMsgs.Inc()
		return c.handle(ctx, req)
	}

	if err := c.Sub.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		c.mErrs.Inc()
		c.Log.Warn("kafka consume", zap.Error(err))
		return err
	}
	return ctx.Err()
}

// handle returns nil on execution failures so the offset commits; a
// broken test stays broken on redelivery and the failure is already
// visible in logs and metrics.
func (c *Controller) handle(ctx context.Context, req *kafkax.RunRequest) error {
	if req.TestID <= 0 {
		c.mErrs.Inc()
		c.Log.Warn("invalid run request", zap.Int64("test_id", req.TestID))
		return nil
	}

	res, err := c.Runner.ExecuteTest(ctx, req.TestID)
	if err != nil {
		c.mErrs.Inc()
		c.Log.Warn("execute test", zap.Int64("test_id", req.TestID), zap.Error(err))
		return nil
	}
	c.mRuns.Inc()
	c.Log.Debug("test executed",
		zap.Int64("test_id", req.TestID),
		zap.Bool("success", res.Success),
		zap.Int("outcomes", len(res.Outcomes)),
	)
	return nil
}
