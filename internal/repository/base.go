// Package repository persists rollup results with gorm.
package repository

import (
	"context"

	"livecount/internal/observability"

	"go.opentelemetry.io/otel/codes"
)

// track starts a repository span and latency timer. Call the returned func with the
// operation's error when it finishes.
func track(ctx context.Context, method, table string) (context.Context, func(error)) {
	ctx, span := observability.GetTraceLayer().TraceRepositoryMethod(ctx, method, table)
	done := observability.TrackQuery(method, table)
	return ctx, func(err error) {
		done()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
