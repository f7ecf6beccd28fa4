package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"waste-container-tracking-system/api/internal/dashboard"
	"waste-container-tracking-system/api/internal/handlers"
	"waste-container-tracking-system/api/internal/middleware"
	"waste-container-tracking-system/api/internal/realtime"
	"waste-container-tracking-system/api/internal/repos"
	"waste-container-tracking-system/api/internal/status"
	"waste-container-tracking-system/api/internal/throttle"
	"waste-container-tracking-system/shared/authx"
	"waste-container-tracking-system/shared/cachex"
	"waste-container-tracking-system/shared/config"
	"waste-container-tracking-system/shared/dbx"
	"waste-container-tracking-system/shared/httpx"
	"waste-container-tracking-system/shared/influxx"
	"waste-container-tracking-system/shared/logx"
	"waste-container-tracking-system/shared/metricsx"
	"waste-container-tracking-system/shared/mqx"
	"waste-container-tracking-system/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, readyProblems := config.Load("api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.JWTSecret == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "JWT_SECRET", Message: "JWT_SECRET is required"})
	}

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		dbPool, err = dbx.NewPool(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to connect to database"})
			logger.Error(context.Background(), "db_init_failed", "database init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
	}

	// Declaration throttling fails open, so a broken redis only costs the
	// duplicate-suppression window, not availability.
	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		var err error
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "redis init failed, throttle degraded",
				slog.String("error", err.Error()),
			)
		}
	}
	var limiter *throttle.Limiter
	if cache != nil {
		limiter = throttle.New(cache.Client(), time.Duration(cfg.ThrottleTTLSeconds)*time.Second)
	}

	var producer *mqx.Producer
	if len(cfg.KafkaBrokers) > 0 {
		var err error
		producer, err = mqx.NewProducer(cfg)
		if err != nil {
			logger.Warn(context.Background(), "kafka_init_failed", "kafka init failed, status mirroring disabled",
				slog.String("error", err.Error()),
			)
		}
	}

	var influx *influxx.Client
	if cfg.InfluxURL != "" && cfg.InfluxToken != "" {
		var err error
		influx, err = influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "influx init failed, measurements disabled",
				slog.String("error", err.Error()),
			)
		}
	}

	shutdownTracer := func(context.Context) error { return nil }
	if cfg.OtelEnabled {
		var err error
		shutdownTracer, err = observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		})
		if err != nil {
			logger.Warn(context.Background(), "otel_init_failed", "tracer init failed",
				slog.String("error", err.Error()),
			)
			shutdownTracer = func(context.Context) error { return nil }
		}
	}

	containersRepo := repos.NewContainersRepo(dbPool)
	eventsRepo := repos.NewStatusEventsRepo(dbPool)
	centersRepo := repos.NewCentersRepo(dbPool)
	catalogRepo := repos.NewCatalogRepo(dbPool)
	usersRepo := repos.NewUsersRepo(dbPool)
	auditRepo := repos.NewAuditRepo(dbPool)

	var issuer *authx.TokenIssuer
	var verifier *authx.TokenVerifier
	if cfg.JWTSecret != "" {
		var err error
		issuer, err = authx.NewTokenIssuer(cfg.JWTSecret,
			time.Duration(cfg.JWTAccessTTLMin)*time.Minute,
			time.Duration(cfg.JWTRefreshTTLHours)*time.Hour,
		)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "JWT_SECRET", Message: "failed to initialize token issuer"})
		}
		verifier, err = authx.NewTokenVerifier(cfg.JWTSecret, time.Duration(cfg.JWTClockSkewSec)*time.Second)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "JWT_SECRET", Message: "failed to initialize token verifier"})
		}
	}
	var oidc *authx.OIDCVerifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		var err error
		oidc, err = authx.NewOIDCVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "OIDC_ISSUER", Message: "failed to initialize OIDC verifier"})
		}
	}

	hub := realtime.NewHub(logger, cfg.CORSAllowedOrigins)
	statusOpts := status.Options{
		Store:       status.NewPGStore(dbPool, containersRepo, eventsRepo),
		Broadcaster: hub,
		Audit:       auditRepo,
		Logger:      logger,
		StatusTopic: cfg.KafkaStatusTopic,
	}
	// Conditional assignment keeps the optional fields truly nil instead of
	// interfaces wrapping nil pointers.
	if limiter != nil {
		statusOpts.Limiter = limiter
	}
	if producer != nil {
		statusOpts.Producer = producer
	}
	if influx != nil {
		statusOpts.Influx = influx
	}
	statusService := status.NewService(statusOpts)
	dashboardService := dashboard.NewService(centersRepo, containersRepo, eventsRepo)

	metricsx.Register()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: invalid configuration",
				map[string]any{"problems": readyProblems},
			)
			return
		}
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: database unavailable",
				map[string]any{"problem": "db_ping_failed"},
			)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	authHandler := &handlers.AuthHandler{
		Users:    usersRepo,
		Issuer:   issuer,
		Verifier: verifier,
		Audit:    auditRepo,
		Logger:   logger,
	}
	authHandler.Register(mux)
	(&handlers.ContainersHandler{
		Containers: containersRepo,
		Events:     eventsRepo,
		Status:     statusService,
		Audit:      auditRepo,
		Logger:     logger,
	}).Register(mux)
	(&handlers.CentersHandler{
		Centers: centersRepo,
		Audit:   auditRepo,
		Logger:  logger,
	}).Register(mux)
	(&handlers.CatalogHandler{Catalog: catalogRepo}).Register(mux)
	(&handlers.DashboardHandler{
		Dashboard:      dashboardService,
		Users:          usersRepo,
		ThresholdHours: cfg.AlertThresholdHours,
	}).Register(mux)
	(&handlers.WSHandler{Hub: hub, Centers: centersRepo, Logger: logger}).Register(mux)
	(&handlers.AuditHandler{Audit: auditRepo}).Register(mux)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	publicPath := func(r *http.Request) bool {
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics",
			"/api/v1/auth/register", "/api/v1/auth/login", "/api/v1/auth/refresh":
			return true
		}
		return false
	}

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.DBRequiredMiddleware{
		Pool: dbPool,
		Skip: func(r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
		},
	}.Wrap(handler)
	handler = middleware.AuditMiddleware{
		Repo:   auditRepo,
		Logger: logger,
		Skip: func(r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
		},
	}.Wrap(handler)
	handler = middleware.AuthMiddleware{
		Verifier: verifier,
		OIDC:     oidc,
		Skip:     publicPath,
	}.Wrap(handler)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute),
		Skip: func(r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
		},
	}.Wrap(handler)
	handler = middleware.CORSMiddleware{
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}.Wrap(handler)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	if cfg.OtelEnabled {
		handler = otelhttp.NewHandler(handler, "http")
	}
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)

	// No read or write timeouts: websocket connections outlive any sane value.
	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
			slog.Int("throttle_ttl_seconds", cfg.ThrottleTTLSeconds),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warn(context.Background(), "kafka_close_failed", "kafka close failed", slog.String("error", err.Error()))
		}
	}
	if influx != nil {
		influx.Close()
	}
	if cache != nil {
		if err := cache.Close(); err != nil {
			logger.Warn(context.Background(), "redis_close_failed", "redis close failed", slog.String("error", err.Error()))
		}
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn(context.Background(), "tracer_shutdown_failed", "tracer shutdown failed", slog.String("error", err.Error()))
	}
	if dbPool != nil {
		dbPool.Close()
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}
