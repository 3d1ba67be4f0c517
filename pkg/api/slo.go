package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/openadex/salesagent/pkg/observability"
)

// SLORecorder receives one observation per request on the operations
// with a service level objective.
type SLORecorder interface {
	Observe(operation string, latency time.Duration, success bool)
}

// SLOReporter surfaces current objective compliance for the admin
// surface.
type SLOReporter interface {
	Snapshot() []*observability.SLOStatus
}

// operationFor maps a request to its objective's operation name, or
// "" when the route carries no objective.
func operationFor(r *http.Request) string {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/orders":
		return "submit"
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v1/tasks/") && strings.HasSuffix(r.URL.Path, "/confirm"):
		return "confirm"
	case r.Method == http.MethodPost && r.URL.Path == "/v1/creatives":
		return "review"
	}
	return ""
}

// SLOMiddleware feeds request latency and outcome into the objective
// tracker. Client errors are the caller's fault and do not burn the
// error budget.
func SLOMiddleware(recorder SLORecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operation := operationFor(r)
			if operation == "" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			recorder.Observe(operation, time.Since(start), rec.status < http.StatusInternalServerError)
		})
	}
}

// WithSLOReporter enables the GET /v1/slo admin endpoint.
func (s *Server) WithSLOReporter(reporter SLOReporter) *Server {
	s.slo = reporter
	return s
}

func (s *Server) handleSLO(w http.ResponseWriter, r *http.Request) {
	if s.slo == nil {
		WriteNotFound(w, "no service level objectives configured")
		return
	}
	writeJSON(w, http.StatusOK, s.slo.Snapshot())
}
