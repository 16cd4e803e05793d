package backend

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
)

const tracerName = "github.com/brahmalabs/baman-engine/pkg/backend"

// callSpan wraps the span of one backend call.
type callSpan struct {
	span trace.Span
}

func startSpan(ctx context.Context, op, method string) (context.Context, *callSpan) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "backend."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("baman.backend.operation", op),
			attribute.String("http.request.method", method),
		))
	return ctx, &callSpan{span: span}
}

func (s *callSpan) status(code int) {
	s.span.SetAttributes(attribute.Int("http.response.status_code", code))
}

func (s *callSpan) end(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		var be *apperrors.BackendError
		if errors.As(err, &be) {
			s.span.SetAttributes(attribute.String("baman.backend.error", be.Message))
		}
	}
	s.span.End()
}
