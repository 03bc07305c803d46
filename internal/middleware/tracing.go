package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

const defaultSpanName = "http.request"

// Tracing starts a server span per request, named "METHOD /route/{pattern}"
// once chi has matched the route.
//
// otelhttp renames the span itself only when its own request carries
// r.Pattern; middleware that clones the request (WithContext) hides the
// pattern from it, so the route is also applied from inside the handler.
func Tracing() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		named := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if name := spanName(defaultSpanName, r); name != defaultSpanName {
				trace.SpanFromContext(r.Context()).SetName(name)
			}
		})
		return otelhttp.NewHandler(named, defaultSpanName, otelhttp.WithSpanNameFormatter(spanName))
	}
}

func spanName(operation string, r *http.Request) string {
	if route := routePattern(r); route != "unmatched" {
		return r.Method + " " + route
	}
	return operation
}
