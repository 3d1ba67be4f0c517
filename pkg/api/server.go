package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/openadex/salesagent/pkg/creative"
	"github.com/openadex/salesagent/pkg/notify"
	"github.com/openadex/salesagent/pkg/orchestrator"
	"github.com/openadex/salesagent/pkg/review"
)

// Caller identifies the authenticated request principal. The auth
// middleware populates it; tests stub the resolver.
type Caller struct {
	TenantID string
	Actor    string
}

// CallerResolver extracts the Caller from a request. Wired to the auth
// layer by the server binary so this package stays transport-auth
// agnostic.
type CallerResolver func(r *http.Request) (Caller, error)

// headerCaller is the development fallback: tenant from X-Tenant-ID,
// actor from X-Actor.
func headerCaller(r *http.Request) (Caller, error) {
	return Caller{
		TenantID: r.Header.Get("X-Tenant-ID"),
		Actor:    r.Header.Get("X-Actor"),
	}, nil
}

// Server is the HTTP surface over the orchestrator.
type Server struct {
	orch      *orchestrator.Orchestrator
	subs      notify.SubscriptionStore
	creatives creative.Store
	reviews   *review.Pool

	submitSchema *jsonschema.Schema
	caller       CallerResolver
	onSubmit     func(ctx context.Context, backend, action string)
	slo          SLOReporter
	logger       *slog.Logger
}

// NewServer builds the server; the submit schema is compiled here so a
// broken schema fails startup, not requests.
func NewServer(orch *orchestrator.Orchestrator, subs notify.SubscriptionStore, creatives creative.Store, reviews *review.Pool) (*Server, error) {
	schema, err := compileSubmitSchema()
	if err != nil {
		return nil, err
	}
	return &Server{
		orch:         orch,
		subs:         subs,
		creatives:    creatives,
		reviews:      reviews,
		submitSchema: schema,
		caller:       headerCaller,
		logger:       slog.Default().With("component", "api"),
	}, nil
}

// WithCallerResolver wires the auth layer's principal extraction.
func (s *Server) WithCallerResolver(fn CallerResolver) *Server {
	s.caller = fn
	return s
}

// WithSubmitHook registers a callback invoked for every accepted
// submission, used for metrics.
func (s *Server) WithSubmitHook(fn func(ctx context.Context, backend, action string)) *Server {
	s.onSubmit = fn
	return s
}

// Routes returns the route table. Middleware (auth, rate limiting,
// idempotent replay, logging) is layered on by the server binary.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/orders", s.handleSubmit)
	mux.HandleFunc("GET /v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handlePoll)
	mux.HandleFunc("POST /v1/tasks/{id}/confirm", s.handleConfirm)
	mux.HandleFunc("POST /v1/creatives", s.handleCreativeReview)
	mux.HandleFunc("POST /v1/subscriptions", s.handleCreateSubscription)
	mux.HandleFunc("DELETE /v1/subscriptions/{id}", s.handleDeleteSubscription)
	mux.HandleFunc("GET /v1/slo", s.handleSLO)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return mux
}

// resolveCaller applies the resolver and scopes the request to the
// caller's tenant. requestTenant is what the body or resource claims;
// a mismatch with the authenticated tenant is a 403.
func (s *Server) resolveCaller(r *http.Request, requestTenant string) (Caller, error) {
	caller, err := s.caller(r)
	if err != nil {
		return Caller{}, err
	}
	if caller.TenantID != "" && requestTenant != "" && caller.TenantID != requestTenant {
		return Caller{}, fmt.Errorf("api: caller tenant %s does not own %s", caller.TenantID, requestTenant)
	}
	return caller, nil
}
