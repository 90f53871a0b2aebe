package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/entrhq/browsepilot/pkg/orchestrator"

var (
	attrTaskID    = attribute.Key("browsepilot.task.id")
	attrSessionID = attribute.Key("browsepilot.session.id")
	attrStepIndex = attribute.Key("browsepilot.step.index")
	attrStepTool  = attribute.Key("browsepilot.step.tool")
	attrDone      = attribute.Key("browsepilot.task.done")
)

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err, if any, and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
