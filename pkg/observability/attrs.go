package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Validator-specific semantic convention attributes, grounded on the
// teacher's pkg/observability helm.go attribute keys (namespace swapped
// from helm.* to validator.*).
var (
	AttrSessionID   = attribute.Key("validator.session.id")
	AttrCandidateUID = attribute.Key("validator.candidate.uid")
	AttrToolName    = attribute.Key("validator.tool.name")
	AttrToolKind    = attribute.Key("validator.tool.kind")

	AttrRunID   = attribute.Key("validator.run.id")
	AttrClaimID = attribute.Key("validator.claim.id")
	AttrScore   = attribute.Key("validator.claim.score")

	AttrCostUSD = attribute.Key("validator.cost_usd")
)

// ToolInvocationAttrs builds the attribute set for one tool invocation
// span/metric (spec §4.9).
func ToolInvocationAttrs(sessionID, toolName, toolKind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSessionID.String(sessionID),
		AttrToolName.String(toolName),
		AttrToolKind.String(toolKind),
	}
}

// ClaimEvaluationAttrs builds the attribute set for one claim evaluation
// span/metric (spec §4.10).
func ClaimEvaluationAttrs(runID string, uid int, claimID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrCandidateUID.Int(uid),
		AttrClaimID.String(claimID),
	}
}

// SpanFromContext extracts the active span, for callers that want to add
// an event or attribute mid-operation.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds a named event with attributes to the active span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err, if any, on the active span.
func SetSpanStatus(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
