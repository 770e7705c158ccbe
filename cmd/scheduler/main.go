package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Probeus/internal/config/scheduler"
	"github.com/NordCoder/Probeus/internal/obs"
	kafkaRepo "github.com/NordCoder/Probeus/internal/repository/kafka"
	pg "github.com/NordCoder/Probeus/internal/repository/postgres"
	"github.com/NordCoder/Probeus/internal/services/scheduler"
)

func main() {
	cfgPath := flag.String("config", "config/scheduler.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(&obs.LogConfig{Level: cfg.LogLevel, App: "probeus/scheduler"})
	if err != nil {
		log.Fatal(err)
	}
	zap.ReplaceGlobals(l)
	l.Info("starting scheduler",
		zap.Any("kafka_out", cfg.Kafka),
		zap.String("metrics_addr", cfg.Sched.MetricsAddr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.NewDB(ctx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// kafka
	prod := kafkaRepo.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(l)
	defer func() { _ = prod.Close() }()
	publisher := kafkaRepo.NewRunEventsKafka(prod)

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Sched.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	// wiring
	uc := scheduler.NewUC(pg.NewTestRepo(db), publisher)
	runner := scheduler.New(l, uc, &cfg.Sched)

	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	l.Info("scheduler started")

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("runner error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
