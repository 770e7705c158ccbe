// Package scheduler fetches due synthetic tests and publishes one run
// request per test. Execution itself happens in the probe worker.
package scheduler

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NordCoder/Probeus/internal/domain/events"
	"github.com/NordCoder/Probeus/internal/domain/synthtest"
)

type Usecase struct {
	Tests  synthtest.Repo
	Events events.RunEvents
}

func NewUC(tests synthtest.Repo, events events.RunEvents) *Usecase {
	return &Usecase{Tests: tests, Events: events}
}

// Tick claims one batch of due tests and publishes a run request for
// each. FetchDue already bumped next_run, so a publish failure skips
// that interval rather than producing a hot retry loop.
func (u *Usecase) Tick(ctx context.Context, limit int) (fetched, sent, errs int, err error) {
	if limit <= 0 {
		limit = 100
	}

	tr := otel.Tracer("scheduler.uc")
	ctxTick, span := tr.Start(ctx, "scheduler.tick",
		trace.WithAttributes(attribute.Int("batch.limit", limit)),
	)
	defer span.End()

	due, err := u.Tests.FetchDue(ctxTick, limit)
	if err != nil {
		span.RecordError(err)
		return 0, 0, 1, fmt.Errorf("fetch due: %w", err)
	}
	if len(due) == 0 {
		span.SetAttributes(attribute.Int("batch.fetched", 0))
		return 0, 0, 0, nil
	}

	span.SetAttributes(attribute.Int("batch.fetched", len(due)))

	for _, t := range due {
		_, sp := tr.Start(ctxTick, "scheduler.publish",
			trace.WithAttributes(
				attribute.Int64("test.id", t.ID),
				attribute.String("test.name", t.Name),
			),
		)
		pubErr := u.Events.PublishRunRequested(ctxTick, t.ID)
		if pubErr != nil {
			errs++
			sp.RecordError(pubErr)
			sp.SetAttributes(attribute.String("publish.status", "error"))
			sp.End()
			continue
		}
		sent++
		sp.SetAttributes(attribute.String("publish.status", "ok"))
		sp.End()
	}

	span.SetAttributes(
		attribute.Int("batch.sent", sent),
		attribute.Int("batch.errors", errs),
	)
	return len(due), sent, errs, nil
}
