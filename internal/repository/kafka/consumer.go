package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var (
	mFetchErrs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probeus_run_consumer_fetch_errors_total", Help: "Run-request fetch failures",
	})
	mDecodeDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probeus_run_consumer_decode_drops_total", Help: "Run-request payloads dropped as undecodable",
	})
	mCommitErrs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probeus_run_consumer_commit_errors_total", Help: "Offset commit failures",
	})
)

// RunHandler processes one decoded run request. A non-nil error leaves
// the offset uncommitted so the request is seen again after a restart.
type RunHandler func(ctx context.Context, req *RunRequest) error

type ConsumerConfig struct {
	Brokers      []string
	GroupID      string
	Topic        string
	FromEarliest bool
	Logger       *zap.Logger
}

// Consumer reads run requests off the request topic and hands decoded
// requests to a RunHandler. Decoding lives here so workers only ever
// see typed requests; an undecodable payload is counted, dropped and
// committed, because a poison message must not wedge its partition.
type Consumer struct {
	reader *kafka.Reader
	log    *zap.Logger
}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}

	start := kafka.LastOffset
	if cfg.FromEarliest {
		start = kafka.FirstOffset
	}

	// run requests are tiny and latency matters more than batching
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               cfg.Brokers,
		GroupID:               cfg.GroupID,
		Topic:                 cfg.Topic,
		StartOffset:           start,
		MinBytes:              1,
		MaxBytes:              1 << 20,
		MaxWait:               500 * time.Millisecond,
		WatchPartitionChanges: true,
	})

	return &Consumer{
		reader: r,
		log: logger.With(
			zap.String("component", "kafka.run_consumer"),
			zap.String("topic", cfg.Topic),
			zap.String("group", cfg.GroupID),
		),
	}
}

const (
	fetchPauseMin = 200 * time.Millisecond
	fetchPauseMax = 5 * time.Second
)

func (c *Consumer) Consume(ctx context.Context, h RunHandler) error {
	c.log.Info("run-request consumer started")
	pause := fetchPauseMin

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("run-request consumer stopped")
				return ctx.Err()
			}
			mFetchErrs.Inc()
			if errors.Is(err, io.EOF) {
				c.log.Debug("fetch EOF", zap.Duration("pause", pause))
			} else {
				c.log.Warn("fetch failed", zap.Error(err), zap.Duration("pause", pause))
			}
			if err := sleepCtx(ctx, pause); err != nil {
				c.log.Info("run-request consumer stopped")
				return err
			}
			if pause *= 2; pause > fetchPauseMax {
				pause = fetchPauseMax
			}
			continue
		}
		pause = fetchPauseMin

		var req RunRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			mDecodeDrops.Inc()
			c.log.Warn("drop undecodable run request",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		} else if err := h(ctx, &req); err != nil {
			c.log.Error("run request handling failed; offset held",
				zap.Int64("test_id", req.TestID),
				zap.Error(err))
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mCommitErrs.Inc()
			c.log.Warn("offset commit failed", zap.Error(err))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
