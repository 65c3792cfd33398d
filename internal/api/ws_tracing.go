package api

import (
	"context"
	"net/http"
	"strings"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const wsConnectSpanName = "websocket.connect"

// startWebSocketSpan opens a server span for a stream, continuing any trace
// propagated in the request headers.
func startWebSocketSpan(r *http.Request, route string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx := context.Background()
	if r != nil {
		ctx = otelapi.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	}

	baseAttrs := wsSpanAttributes(r, route)
	baseAttrs = append(baseAttrs, attrs...)
	return otelapi.Tracer("scriptor/ws").Start(ctx, wsConnectSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(baseAttrs...),
	)
}

func wsSpanAttributes(r *http.Request, route string) []attribute.KeyValue {
	attributes := make([]attribute.KeyValue, 0, 4)
	if r != nil {
		attributes = append(attributes,
			attribute.String("http.method", r.Method),
			attribute.String("http.target", sanitizeWSTarget(r)),
			attribute.String("user_agent", r.UserAgent()),
		)
	}
	if strings.TrimSpace(route) != "" {
		attributes = append(attributes, attribute.String("http.route", route))
	}
	return attributes
}

// sanitizeWSTarget drops the auth token from the recorded target.
func sanitizeWSTarget(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	copyURL := *r.URL
	query := copyURL.Query()
	query.Del("token")
	copyURL.RawQuery = query.Encode()
	return copyURL.RequestURI()
}
