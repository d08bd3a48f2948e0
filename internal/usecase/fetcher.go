package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mediastream/internal/domain"
	"mediastream/internal/domain/ports"
	"mediastream/internal/metrics"
	"mediastream/internal/telemetry"
)

// PartSource identifies the backend file parts are read from.
type PartSource struct {
	DocID   string
	DCID    int
	Account domain.AccountNumber
}

// PartFunc fetches a single unit.
type PartFunc func(ctx context.Context, unit domain.FetchUnit) ([]byte, error)

// ChunkFetcher reads fetch units from the backend and joins them in unit
// order. With Concurrency <= 1 units are requested one after another.
type ChunkFetcher struct {
	Backend     ports.Backend
	Concurrency int
	Limiter     *rate.Limiter
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

func NewChunkFetcher(backend ports.Backend, concurrency int, limiter *rate.Limiter, logger *slog.Logger) *ChunkFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkFetcher{
		Backend:     backend,
		Concurrency: concurrency,
		Limiter:     limiter,
		Logger:      logger,
		Tracer:      telemetry.Tracer(),
	}
}

func (f *ChunkFetcher) FetchAndConcat(ctx context.Context, src PartSource, units []domain.FetchUnit) ([]byte, error) {
	return f.Concat(ctx, func(ctx context.Context, unit domain.FetchUnit) ([]byte, error) {
		return f.FetchPart(ctx, src, unit)
	}, units)
}

// Concat runs fetch for every unit and returns the parts joined in the
// order given. The result is sized by what the backend returned, which may
// be less than the requested limits near the end of a file.
func (f *ChunkFetcher) Concat(ctx context.Context, fetch PartFunc, units []domain.FetchUnit) ([]byte, error) {
	switch len(units) {
	case 0:
		return nil, nil
	case 1:
		return fetch(ctx, units[0])
	}

	parts := make([][]byte, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(f.Concurrency, 1))
	for i, unit := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := fetch(gctx, unit)
			if err != nil {
				return err
			}
			parts[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, part := range parts {
		total += len(part)
	}
	out := make([]byte, 0, total)
	for _, part := range parts {
		out = append(out, part...)
	}
	return out, nil
}

// FetchPart performs one instrumented backend part request.
func (f *ChunkFetcher) FetchPart(ctx context.Context, src PartSource, unit domain.FetchUnit) ([]byte, error) {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	tracer := f.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	ctx, span := tracer.Start(ctx, "backend.requestFilePart", trace.WithAttributes(
		attribute.String("doc.id", src.DocID),
		attribute.Int("doc.dc", src.DCID),
		attribute.Int64("part.offset", unit.Offset),
		attribute.Int64("part.limit", unit.Limit),
	))
	defer span.End()

	start := time.Now()
	data, err := f.Backend.RequestFilePart(ctx, domain.PartRequest{
		DocID:   src.DocID,
		DCID:    src.DCID,
		Account: src.Account,
		Offset:  unit.Offset,
		Limit:   unit.Limit,
	})
	metrics.BackendPartDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendPartRequestsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.Logger.Debug("file part request failed",
			slog.String("docId", src.DocID),
			slog.Int64("offset", unit.Offset),
			slog.Int64("limit", unit.Limit),
			slog.String("error", err.Error()),
		)
		return nil, wrapBackend(err)
	}
	metrics.BackendPartRequestsTotal.WithLabelValues("ok").Inc()
	metrics.BackendPartBytesTotal.Add(float64(len(data)))
	span.SetAttributes(attribute.Int("part.bytes", len(data)))
	return data, nil
}
