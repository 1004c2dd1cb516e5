// Package traces provides utilities for working with OpenTelemetry traces.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecordError logs err and records it on the span carried by ctx, marking the span as failed.
// It returns err unchanged so it can wrap a return statement. A nil err is a no-op.
func RecordError(ctx context.Context, err error, options ...trace.EventOption) error {
	if err == nil {
		return nil
	}
	slog.ErrorContext(ctx, "Error occurred", "error", err)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// RecordWarning records err on the span without marking the span as failed and logs it at warn
// level. It is meant for expected failures on background paths.
func RecordWarning(ctx context.Context, msg string, err error) {
	if err == nil {
		return
	}
	slog.WarnContext(ctx, msg, "error", err)
	trace.SpanFromContext(ctx).RecordError(err)
}
