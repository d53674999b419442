package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/authchain/pkg/domain"
)

const tracerName = "github.com/polisai/authchain"

// StartChainSpan opens the span of one chain operation.
func StartChainSpan(ctx context.Context, side, operation, authContextID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "authchain."+side+"."+operation,
		trace.WithAttributes(
			attribute.String("authchain.side", side),
			attribute.String("authchain.operation", operation),
			attribute.String("authchain.auth_context_id", authContextID),
		),
	)
}

// EndChainSpan records the chain outcome on span and ends it.
func EndChainSpan(span trace.Span, status domain.AuthStatus, failed bool, err error) {
	if span.IsRecording() {
		span.SetAttributes(attribute.String("authchain.status", status.String()))
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case failed:
			span.SetStatus(codes.Error, "chain reduced to "+status.String())
		}
	}
	span.End()
}

// RecordModuleOutcome adds an event for a single module invocation.
func RecordModuleOutcome(span trace.Span, index int, moduleID string, status domain.AuthStatus) {
	if !span.IsRecording() {
		return
	}
	span.AddEvent("authchain.module", trace.WithAttributes(
		attribute.Int("module.index", index),
		attribute.String("module.id", moduleID),
		attribute.String("module.status", status.String()),
	))
}

// RecordPolicies annotates span with the protections of the request and
// response policies of a context.
func RecordPolicies(span trace.Span, request, response *domain.MessagePolicy) {
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.Bool("policy.request.mandatory", request.IsMandatory()),
		attribute.Bool("policy.response.mandatory", response.IsMandatory()),
	)
	if request != nil {
		span.SetAttributes(attribute.StringSlice("policy.request.protections", protectionNames(request)))
	}
	if response != nil {
		span.SetAttributes(attribute.StringSlice("policy.response.protections", protectionNames(response)))
	}
}

func protectionNames(p *domain.MessagePolicy) []string {
	protections := p.Protections()
	names := make([]string, len(protections))
	for i, pr := range protections {
		names[i] = string(pr)
	}
	return names
}
