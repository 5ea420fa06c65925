package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	willmetrics "willvault/internal/will/metrics"
	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
)

// observe opens a span for operation and returns a finisher that records
// the outcome on the span and in metrics. Use with a named error result:
//
//	ctx, finish := s.observe(ctx, "revoke_will", willID)
//	defer func() { finish(err) }()
func (s *Service) observe(ctx context.Context, operation string, willID id.WillID) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "will."+operation)
	if !willID.IsNil() {
		span.SetAttributes(attribute.String("will.id", willID.String()))
	}
	return ctx, func(err error) {
		outcome := willmetrics.OutcomeSuccess
		if err != nil {
			code, _ := dErrors.CodeOf(err)
			span.SetAttributes(attribute.String("error.code", string(code)))
			if code == dErrors.CodeInternal || code == dErrors.CodeTimeout || code == "" {
				outcome = willmetrics.OutcomeError
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				outcome = willmetrics.OutcomeRefused
			}
		}
		span.End()
		if s.metrics != nil {
			s.metrics.ObserveOperation(operation, outcome, start)
		}
	}
}
