package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BootstrapConsumer provisions the run-request topic and returns a
// consumer on it. Topic creation is best effort here; the reader keeps
// retrying fetches until the topic exists anyway.
func BootstrapConsumer(ctx context.Context, cfg *ConsumerConfig, logger *zap.Logger) *Consumer {
	_ = EnsureTopic(ctx, cfg.Brokers, TopicSpec{
		Name:              cfg.Topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
		MaxWait:           5 * time.Second,
	}, logger)

	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	return NewConsumer(cfg)
}
