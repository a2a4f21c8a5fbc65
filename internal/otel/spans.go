package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for fishroom spans.
var (
	AttrChannel = attribute.Key("fishroom.channel")
	AttrRoom    = attribute.Key("fishroom.room")
	AttrMsgType = attribute.Key("fishroom.msg_type")
	AttrCommand = attribute.Key("fishroom.command")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
