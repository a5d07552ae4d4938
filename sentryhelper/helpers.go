// Package sentryhelper provides utilities for Sentry transaction and scope management.
// It keeps breadcrumbs and context isolated per recognition pipeline.
package sentryhelper

import (
	"context"
	"fmt"

	sentry "github.com/getsentry/sentry-go"
)

type contextKey string

const hubContextKey contextKey = "sentry_hub"

// StartPipelineTransaction starts the span covering one recognition pipeline
// run, on a hub cloned from the one in ctx so breadcrumbs and tags stay
// scoped to this run. When ctx already carries a span (a request transaction)
// the run becomes its child; otherwise it gets its own transaction. Either
// way the caller finishes the returned span.
func StartPipelineTransaction(ctx context.Context, inputMode string, sessionID string) (context.Context, *sentry.Span) {
	hub := HubFromContext(ctx).Clone()
	ctx = context.WithValue(ctx, hubContextKey, hub)
	ctx = sentry.SetHubOnContext(ctx, hub)

	name := fmt.Sprintf("pipeline.%s", inputMode)
	var span *sentry.Span
	if sentry.SpanFromContext(ctx) != nil {
		span = sentry.StartSpan(ctx, "pipeline")
		span.Description = name
	} else {
		span = sentry.StartTransaction(ctx, name,
			sentry.WithOpName("pipeline"),
			sentry.WithTransactionSource(sentry.SourceTask),
		)
	}
	span.SetTag("input_mode", inputMode)
	span.SetTag("session_id", sessionID)

	hub.Scope().SetSpan(span)

	return span.Context(), span
}

// HubFromContext retrieves the hub from context: the pipeline hub first, then
// one set by sentry-go middleware, then CurrentHub.
func HubFromContext(ctx context.Context) *sentry.Hub {
	if ctx == nil {
		return sentry.CurrentHub()
	}
	if hub, ok := ctx.Value(hubContextKey).(*sentry.Hub); ok && hub != nil {
		return hub
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

// AddBreadcrumb adds a breadcrumb to the hub in context.
func AddBreadcrumb(ctx context.Context, category string, message string) {
	HubFromContext(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  message,
		Level:    sentry.LevelInfo,
	}, nil)
}

// CaptureException captures an exception on the hub in context.
func CaptureException(ctx context.Context, err error) *sentry.EventID {
	return HubFromContext(ctx).CaptureException(err)
}

// CaptureMessage captures a message on the hub in context.
func CaptureMessage(ctx context.Context, message string) *sentry.EventID {
	return HubFromContext(ctx).CaptureMessage(message)
}

// StartSpan starts a child span attached to the transaction in context.
func StartSpan(ctx context.Context, operation string, description string) *sentry.Span {
	span := sentry.StartSpan(ctx, operation)
	span.Description = description
	return span
}

// Detach returns a fresh context carrying only the hub from ctx. Pipelines
// started from an HTTP request outlive it, so they must not inherit its
// cancellation.
func Detach(ctx context.Context) context.Context {
	hub := HubFromContext(ctx)
	detached := context.WithValue(context.Background(), hubContextKey, hub)
	return sentry.SetHubOnContext(detached, hub)
}
