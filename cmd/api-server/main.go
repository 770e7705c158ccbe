package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Probeus/internal/config/api-server"
	"github.com/NordCoder/Probeus/internal/obs"
	"github.com/NordCoder/Probeus/internal/probe"
	pg "github.com/NordCoder/Probeus/internal/repository/postgres"
	"github.com/NordCoder/Probeus/internal/repository/sqlite"
	apiserver "github.com/NordCoder/Probeus/internal/services/api-server"
	"github.com/NordCoder/Probeus/internal/services/execution"
)

func main() {
	cfgPath := flag.String("config", "config/api-server.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	zap.ReplaceGlobals(l)

	// otel
	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// storage
	srv, closeDB, err := wire(ctx, cfg, l)
	if err != nil {
		l.Fatal("storage init", zap.Error(err))
	}
	defer closeDB()

	mux := srv.Routes()
	hs := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      obs.WrapHTTP(mux, "api-server"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http server error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = hs.Shutdown(shCtx)
	l.Info("bye")
}

// wire picks the storage backend from the DSN: a postgres URL gets the
// pooled pgx stack, anything else is treated as an embedded sqlite file.
func wire(ctx context.Context, cfg *config.Config, l *zap.Logger) (*apiserver.Server, func(), error) {
	exec := probe.New(probe.Config{
		Timeout:     cfg.Probe.Timeout,
		MaxParallel: cfg.Probe.MaxParallel,
		UserAgent:   cfg.Probe.UserAgent,
	}, l)

	if strings.HasPrefix(cfg.DB.DSN, "postgres://") || strings.HasPrefix(cfg.DB.DSN, "postgresql://") {
		db, err := pg.NewDB(ctx, cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		srv := &apiserver.Server{
			Log:     l,
			Nodes:   pg.NewNodeRepo(db),
			Groups:  pg.NewGroupRepo(db),
			Apis:    pg.NewApiRepo(db),
			Tests:   pg.NewTestRepo(db),
			Tags:    pg.NewTagRepo(db),
			History: pg.NewHistoryStore(db),
		}
		srv.Runner = &execution.Runner{
			Tests:   srv.Tests,
			Apis:    srv.Apis,
			Nodes:   srv.Nodes,
			Groups:  srv.Groups,
			History: srv.History,
			Exec:    exec,
			Log:     l,
		}
		srv.Health = func(hctx context.Context) error {
			hctx, cancel := context.WithTimeout(hctx, 500*time.Millisecond)
			defer cancel()
			return db.Pool.Ping(hctx)
		}
		return srv, db.Close, nil
	}

	db, err := sqlite.New(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, err
	}
	srv := &apiserver.Server{
		Log:     l,
		Nodes:   sqlite.NewNodeRepo(db),
		Groups:  sqlite.NewGroupRepo(db),
		Apis:    sqlite.NewApiRepo(db),
		Tests:   sqlite.NewTestRepo(db),
		Tags:    sqlite.NewTagRepo(db),
		History: sqlite.NewHistoryStore(db),
	}
	srv.Runner = &execution.Runner{
		Tests:   srv.Tests,
		Apis:    srv.Apis,
		Nodes:   srv.Nodes,
		Groups:  srv.Groups,
		History: srv.History,
		Exec:    exec,
		Log:     l,
	}
	srv.Health = db.Ping
	return srv, func() { _ = db.Close() }, nil
}
