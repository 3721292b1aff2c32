package matrix

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startSpan opens a span named "Matrix.<op>" and returns the derived context
// alongside the span. Callers defer finishSpan(span, &err), which records err
// onto the span (if non-nil) before ending it, so a named return gets picked
// up.
func (m *Matrix) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, "Matrix."+op)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func finishSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
