package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openadex/salesagent/pkg/adapters"
	"github.com/openadex/salesagent/pkg/api"
	"github.com/openadex/salesagent/pkg/approval"
	"github.com/openadex/salesagent/pkg/auth"
	"github.com/openadex/salesagent/pkg/config"
	"github.com/openadex/salesagent/pkg/contracts"
	"github.com/openadex/salesagent/pkg/creative"
	"github.com/openadex/salesagent/pkg/notify"
	"github.com/openadex/salesagent/pkg/observability"
	"github.com/openadex/salesagent/pkg/orchestrator"
	"github.com/openadex/salesagent/pkg/review"
	"github.com/openadex/salesagent/pkg/tenants"
	"github.com/openadex/salesagent/pkg/workflow"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

// stores groups the persistence layer behind one selection point:
// Postgres, SQLite, or in-memory.
type stores struct {
	workflow workflow.Store
	tenants  tenants.Store
	subs     notify.SubscriptionStore
	db       *sql.DB
}

// openStores selects the persistence backend from DATABASE_URL: a
// postgres:// URL, a SQLite file path, or empty for in-memory.
func openStores(ctx context.Context, databaseURL string) (*stores, error) {
	if databaseURL == "" {
		return &stores{
			workflow: workflow.NewMemoryStore(),
			tenants:  tenants.NewMemoryStore(),
			subs:     notify.NewMemorySubscriptionStore(),
		}, nil
	}

	driver := "sqlite"
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		driver = "postgres"
	}
	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	ws := workflow.NewSQLStore(db)
	if err := ws.Init(ctx); err != nil {
		return nil, fmt.Errorf("init workflow store: %w", err)
	}
	ts := tenants.NewSQLStore(db)
	if err := ts.Init(ctx); err != nil {
		return nil, fmt.Errorf("init tenant store: %w", err)
	}
	ss := notify.NewSQLSubscriptionStore(db)
	if err := ss.Init(ctx); err != nil {
		return nil, fmt.Errorf("init subscription store: %w", err)
	}
	return &stores{workflow: ws, tenants: ts, subs: ss, db: db}, nil
}

func runServer(stdout, stderr io.Writer) int {
	cfg := config.Load()
	initLogging(cfg.LogLevel)
	logger := slog.Default().With("component", "server")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "storage setup failed: %v\n", err)
		return 1
	}
	if st.db != nil {
		defer st.db.Close()
		logger.Info("database connected", "url", cfg.DatabaseURL)
	} else {
		logger.Warn("no DATABASE_URL set, state is in-memory and lost on restart")
	}

	if n, err := config.SeedPolicies(ctx, cfg.ProfilesDir, st.tenants); err != nil {
		fmt.Fprintf(stderr, "policy seeding failed: %v\n", err)
		return 1
	} else if n > 0 {
		logger.Info("tenant policies loaded", "count", n, "dir", cfg.ProfilesDir)
	}

	registry := adapters.NewRegistry()
	for _, a := range []adapters.Adapter{adapters.NewInHouseAdapter(), adapters.NewReservationAdapter()} {
		if err := registry.Register(a, ""); err != nil {
			fmt.Fprintf(stderr, "adapter registration failed: %v\n", err)
			return 1
		}
	}

	gate, err := approval.NewGate()
	if err != nil {
		fmt.Fprintf(stderr, "approval gate setup failed: %v\n", err)
		return 1
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "salesagent",
		ServiceVersion: version,
		Environment:    getenvDefault("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "observability setup failed: %v\n", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	orch := orchestrator.New(st.workflow, registry, gate, st.tenants)

	slo := observability.NewSLOTracker()
	for _, target := range observability.DefaultSLOTargets() {
		slo.SetTarget(target)
	}

	recorder := notify.Recorder(telemetryRecorder{next: notify.NewMemoryRecorder(0), obs: obs, slo: slo})
	notifier := orchestrator.Notifier(orchestrator.NopNotifier{})
	if cfg.WebhookSigningKey == "" {
		logger.Warn("WEBHOOK_SIGNING_KEY not set, webhook delivery disabled")
	} else {
		signer, err := notify.NewSigner([]byte(cfg.WebhookSigningKey))
		if err != nil {
			fmt.Fprintf(stderr, "webhook signer setup failed: %v\n", err)
			return 1
		}
		var queue notify.Queue
		if cfg.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			if err := client.Ping(ctx).Err(); err != nil {
				fmt.Fprintf(stderr, "redis connection failed: %v\n", err)
				return 1
			}
			queue = notify.NewRedisQueue(client)
			logger.Info("delivery queue on redis", "addr", cfg.RedisAddr)
		} else {
			queue = notify.NewMemoryQueue()
		}
		deliverer := notify.NewDeliverer(signer, recorder)
		dispatcher := notify.NewDispatcher(st.subs, queue, deliverer, recorder).
			WithPollInterval(cfg.DeliveryPollInterval)
		notifier = dispatcher
		go dispatcher.Run(ctx)
	}
	orch.WithNotifier(telemetryNotifier{next: notifier, obs: obs})

	scorer, closeScorer, err := buildScorer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "review scorer setup failed: %v\n", err)
		return 1
	}
	defer closeScorer()

	pool := review.NewPool(scorer, orch, cfg.ReviewWorkers, 64).WithPolicies(st.tenants)
	pool.Start(ctx)
	defer pool.Stop()
	if err := obs.ObserveReviewQueueDepth(pool.QueueDepth); err != nil {
		logger.Warn("review queue gauge registration failed", "error", err)
	}

	creatives, err := creative.NewStoreFromEnv(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "creative store setup failed: %v\n", err)
		return 1
	}

	scanner := approval.NewStaleScanner(st.workflow, 24*time.Hour)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := scanner.Scan(ctx); err != nil {
					logger.Warn("stale approval scan failed", "error", err)
				}
			}
		}
	}()

	srv, err := api.NewServer(orch, st.subs, creatives, pool)
	if err != nil {
		fmt.Fprintf(stderr, "api setup failed: %v\n", err)
		return 1
	}
	srv.WithSubmitHook(obs.RecordSubmission)
	srv.WithSLOReporter(slo)

	handler, err := buildHandler(srv, cfg, slo)
	if err != nil {
		fmt.Fprintf(stderr, "handler setup failed: %v\n", err)
		return 1
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return 1
	}
	return 0
}

// telemetryNotifier counts terminal transitions before handing the
// event to the delivery dispatcher.
type telemetryNotifier struct {
	next orchestrator.Notifier
	obs  *observability.Provider
}

func (n telemetryNotifier) EnqueueStepEvent(ctx context.Context, event contracts.StepEvent) {
	n.obs.RecordTerminal(ctx, string(event.Status))
	n.next.EnqueueStepEvent(ctx, event)
}

// telemetryRecorder counts webhook delivery attempts by outcome and
// feeds them into the delivery objective.
type telemetryRecorder struct {
	next notify.Recorder
	obs  *observability.Provider
	slo  *observability.SLOTracker
}

func (r telemetryRecorder) Record(a notify.DeliveryAttempt) {
	r.next.Record(a)
	r.obs.RecordDelivery(context.Background(), string(a.Outcome))
	r.slo.Observe("delivery", a.Latency, a.Outcome == notify.OutcomeSuccess)
}

// buildScorer selects the content review implementation. The returned
// close func releases the WASM runtime when one was built.
func buildScorer(ctx context.Context, cfg *config.Config) (review.Scorer, func(), error) {
	switch cfg.ReviewScorer {
	case "", "heuristic":
		return review.NewHeuristicScorer(), func() {}, nil
	case "wasm":
		if cfg.ReviewWASMPath == "" {
			return nil, nil, fmt.Errorf("REVIEW_SCORER=wasm requires REVIEW_WASM_PATH")
		}
		wasmBytes, err := os.ReadFile(cfg.ReviewWASMPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read review module: %w", err)
		}
		scorer, err := review.NewWASMScorer(ctx, wasmBytes, 64<<20)
		if err != nil {
			return nil, nil, err
		}
		return scorer, func() { _ = scorer.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown review scorer %q", cfg.ReviewScorer)
	}
}

// buildHandler layers middleware over the route table. The confirm
// route additionally requires the approver role when token auth is on.
func buildHandler(srv *api.Server, cfg *config.Config, slo *observability.SLOTracker) (http.Handler, error) {
	var authMW func(http.Handler) http.Handler
	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET not set, falling back to header identification")
	} else {
		validator, err := auth.NewValidator([]byte(cfg.JWTSecret))
		if err != nil {
			return nil, err
		}
		srv.WithCallerResolver(auth.CallerFromRequest)
		authMW = auth.NewMiddleware(validator, "/v1/health")
	}

	routes := srv.Routes()
	var inner http.Handler = routes
	if authMW != nil {
		// Only approvers may decide parked steps. The outer mux routes
		// the confirm pattern through the role check; everything else
		// falls through.
		outer := http.NewServeMux()
		outer.Handle("POST /v1/tasks/{id}/confirm", auth.RequireRole(auth.RoleApprover)(routes))
		outer.Handle("/", routes)
		inner = authMW(outer)
	}

	handler := api.SLOMiddleware(slo)(inner)
	handler = api.IdempotencyMiddleware(api.NewMemoryIdempotencyStore(10 * time.Minute))(handler)
	handler = api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2).Middleware(handler)
	handler = api.LoggingMiddleware(slog.Default())(handler)
	handler = api.RequestIDMiddleware(handler)
	return handler, nil
}

func initLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
