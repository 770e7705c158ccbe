// kafka-init provisions the run-request topics so the scheduler and the
// probe workers can assume they exist on startup.
package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	kafkax "github.com/NordCoder/Probeus/internal/repository/kafka"
)

func main() {
	log, _ := zap.NewProduction()
	defer func() { _ = log.Sync() }()

	brokers := strings.Split(envStr("KAFKA_BROKERS", "kafka:9092"), ",")
	names := strings.Split(envStr("KAFKA_TOPICS", "probeus.runs.request"), ",")
	spec := kafkax.TopicSpec{
		NumPartitions:     envInt("KAFKA_PARTITIONS", 1),
		ReplicationFactor: envInt("KAFKA_RF", 1),
		MaxWait:           time.Duration(envInt("KAFKA_READY_WAIT_SEC", 30)) * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		spec.Name = name
		if err := kafkax.EnsureTopic(ctx, brokers, spec, log); err != nil {
			log.Fatal("provision topic", zap.String("topic", name), zap.Error(err))
		}
	}
	log.Info("run topics provisioned", zap.Strings("topics", names))
}

func envStr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v, err := strconv.Atoi(os.Getenv(k))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
