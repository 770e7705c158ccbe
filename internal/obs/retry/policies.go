package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

func DefaultKafkaPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "kafka-publish",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("publish retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("publish retries exhausted", zap.Error(err))
			}
		},
	}
}

// HistoryAppendPolicy covers the only hot-path mutation. Kept short: a
// probe outcome that cannot be stored after two attempts is logged and
// surfaced as a run-level error rather than held indefinitely.
func HistoryAppendPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "history-append",
		Attempts: 2,
		Backoff:  ExpoJitter{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.2},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("history append retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
	}
}
