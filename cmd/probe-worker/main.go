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

	config "github.com/NordCoder/Probeus/internal/config/probe-worker"
	"github.com/NordCoder/Probeus/internal/obs"
	"github.com/NordCoder/Probeus/internal/probe"
	"github.com/NordCoder/Probeus/internal/repository/kafka"
	pg "github.com/NordCoder/Probeus/internal/repository/postgres"
	"github.com/NordCoder/Probeus/internal/services/execution"
	probeworker "github.com/NordCoder/Probeus/internal/services/probe-worker"
)

func main() {
	cfgPath := flag.String("config", "config/probe-worker.yaml", "path to config file")
	flag.Parse()

	root, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(&obs.LogConfig{Level: cfg.LogLevel, App: "probeus/probe-worker"})
	if err != nil {
		log.Fatal(err)
	}
	zap.ReplaceGlobals(l)

	// otel
	otelCloser, err := obs.SetupOTel(root, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.NewDB(root, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	// kafka
	cons := kafka.BootstrapConsumer(root, cfg.In.AsConsumerConfig(), l)
	defer func() { _ = cons.Close() }()

	// wiring
	runner := &execution.Runner{
		Tests:   pg.NewTestRepo(db),
		Apis:    pg.NewApiRepo(db),
		Nodes:   pg.NewNodeRepo(db),
		Groups:  pg.NewGroupRepo(db),
		History: pg.NewHistoryStore(db),
		Exec: probe.New(probe.Config{
			Timeout:     cfg.Probe.Timeout,
			MaxParallel: cfg.Probe.MaxParallel,
			UserAgent:   cfg.Probe.UserAgent,
		}, l),
		Log: l,
	}
	ctrl := probeworker.NewController(l, cons, runner)

	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Run(root) }()

	l.Info("probe-worker started")

	select {
	case <-root.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("controller error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
