package traces

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httptrace"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NewRoundTripper wraps the provided http.RoundTripper with OpenTelemetry instrumentation. Spans
// are named after the method and path, e.g. "POST /auth/v1/token".
func NewRoundTripper(original http.RoundTripper) http.RoundTripper {
	if original == nil {
		original = http.DefaultTransport
	}
	return otelhttp.NewTransport(original,
		otelhttp.WithClientTrace(httpTrace),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
	)
}

func httpTrace(ctx context.Context) *httptrace.ClientTrace {
	span := trace.SpanFromContext(ctx)
	return &httptrace.ClientTrace{
		GetConn: func(hostPort string) {
			span.SetAttributes(attribute.String("host_port", hostPort))
		},
		GotConn: func(info httptrace.GotConnInfo) {
			span.SetAttributes(attribute.Bool("conn_reused", info.Reused))
		},
		TLSHandshakeDone: func(cs tls.ConnectionState, err error) {
			if err != nil {
				span.RecordError(err)
				return
			}
			span.SetAttributes(attribute.Bool("handshake_complete", cs.HandshakeComplete))
		},
		DNSDone: func(di httptrace.DNSDoneInfo) {
			if di.Err != nil {
				span.RecordError(di.Err)
			}
		},
		ConnectDone: func(network, addr string, err error) {
			if err != nil {
				span.RecordError(err)
			}
		},
	}
}
