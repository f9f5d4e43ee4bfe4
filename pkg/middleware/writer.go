package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Request headers the storefront reads and echoes.
const (
	SessionHeader       = "X-Session-ID"
	CorrelationIDHeader = "X-Correlation-ID"
)

// statusRecorder captures what a handler wrote. It forwards Flush and
// exposes Unwrap so server-sent event streams work through every wrapper.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func record(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w}
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func (rw *statusRecorder) Flush() {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Status returns the written status, 200 if the handler wrote nothing.
func (rw *statusRecorder) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// streaming reports whether the handler answered with an SSE stream.
func (rw *statusRecorder) streaming() bool {
	return rw.Header().Get("Content-Type") == "text/event-stream"
}

// routePattern returns the matched chi pattern, which keeps item names and
// session ids out of metric labels and span names.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
