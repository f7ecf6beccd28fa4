package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/api/internal/repos"
	"waste-container-tracking-system/shared/cachex"
	"waste-container-tracking-system/shared/config"
	"waste-container-tracking-system/shared/dbx"
	"waste-container-tracking-system/shared/events"
	"waste-container-tracking-system/shared/lockx"
	"waste-container-tracking-system/shared/logx"
	"waste-container-tracking-system/shared/metricsx"
	"waste-container-tracking-system/shared/mqx"
	"waste-container-tracking-system/shared/observability"
)

const (
	taskTypeAlertScan = "alerts:scan"
	scanLockKey       = "alerts:scan:lock"
	alertEventType    = "container_stale_full"
	staleListLimit    = 200
)

func main() {
	cfg, problems := config.Load("alerts-worker", 8085)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "redis init failed, scan lock disabled",
				slog.String("error", err.Error()),
			)
		}
	}
	if cache != nil {
		defer cache.Close()
	}

	containersRepo := repos.NewContainersRepo(dbPool)
	metricsx.Register()

	scanner := &alertScanner{
		containers:     containersRepo,
		producer:       producer,
		cache:          cache,
		logger:         logger,
		alertTopic:     cfg.KafkaAlertTopic,
		thresholdHours: cfg.AlertThresholdHours,
		scanInterval:   time.Duration(cfg.AlertScanIntervalSec) * time.Second,
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues:      map[string]int{cfg.AsynqQueue: 1},
	})
	taskMux := asynq.NewServeMux()
	taskMux.HandleFunc(taskTypeAlertScan, scanner.handleScan)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	spec := fmt.Sprintf("@every %ds", cfg.AlertScanIntervalSec)
	if _, err := scheduler.Register(spec, asynq.NewTask(taskTypeAlertScan, nil), asynq.Queue(cfg.AsynqQueue)); err != nil {
		logger.Error(context.Background(), "scheduler_register_failed", "failed to register scan task",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	depthCtx, stopDepth := context.WithCancel(context.Background())
	go reportQueueDepth(depthCtx, inspector, cfg.AsynqQueue)

	httpSrv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           workerMux(cfg, version),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "metrics_server_failed", "metrics server failed",
				slog.String("error", err.Error()),
			)
		}
	}()

	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if err := srv.Start(taskMux); err != nil {
		logger.Error(context.Background(), "worker_start_failed", "worker start failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info(context.Background(), "worker_start", "alerts worker started",
		slog.String("queue", cfg.AsynqQueue),
		slog.Int("scan_interval_seconds", cfg.AlertScanIntervalSec),
		slog.Int("threshold_hours", cfg.AlertThresholdHours),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))

	stopDepth()
	scheduler.Shutdown()
	srv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Info(context.Background(), "worker_stop", "alerts worker stopped")
}

func workerMux(cfg config.Config, version string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"service": cfg.ServiceName,
			"env":     cfg.Env,
			"version": version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())
	return mux
}

func reportQueueDepth(ctx context.Context, inspector *asynq.Inspector, queue string) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := inspector.GetQueueInfo(queue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(queue, info.Size)
		}
	}
}

type containerScanRepo interface {
	ListStaleFull(ctx context.Context, cutoff time.Time, limit int) ([]models.Container, error)
}

type alertPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// alertScanner finds containers stuck full past the threshold and mirrors
// an alert event per container onto kafka.
type alertScanner struct {
	containers     containerScanRepo
	producer       alertPublisher
	cache          *cachex.Client
	logger         logx.Logger
	alertTopic     string
	thresholdHours int
	scanInterval   time.Duration
	now            func() time.Time
}

func (s *alertScanner) handleScan(ctx context.Context, _ *asynq.Task) error {
	// The scan lock keeps concurrent workers from double-publishing.
	if s.cache != nil {
		lock, acquired, err := lockx.Acquire(ctx, s.cache.Client(), scanLockKey, s.scanInterval)
		if err != nil {
			s.logger.Warn(ctx, "scan_lock_failed", "scan lock unavailable, proceeding unlocked",
				slog.String("error", err.Error()),
			)
		} else if !acquired {
			s.logger.Debug(ctx, "scan_skipped", "another worker holds the scan lock")
			return nil
		} else {
			defer func() { _ = lockx.Release(ctx, s.cache.Client(), lock) }()
		}
	}
	return s.scan(ctx)
}

func (s *alertScanner) scan(ctx context.Context) error {
	nowFn := s.now
	if nowFn == nil {
		nowFn = time.Now
	}
	now := nowFn().UTC()
	cutoff := now.Add(-time.Duration(s.thresholdHours) * time.Hour)

	stale, err := s.containers.ListStaleFull(ctx, cutoff, staleListLimit)
	if err != nil {
		return err
	}

	published := 0
	for _, c := range stale {
		hoursFull := int(now.Sub(c.StateChangedAt).Hours())
		severity := "warning"
		if hoursFull > 2*s.thresholdHours {
			severity = "critical"
		}
		payload, _ := json.Marshal(map[string]any{
			"container_id":    c.ContainerID,
			"container_label": c.Label,
			"center_id":       c.CenterID,
			"full_since":      c.StateChangedAt.UTC(),
			"hours_full":      hoursFull,
			"threshold_hours": s.thresholdHours,
			"severity":        severity,
		})
		envelope, err := json.Marshal(events.Envelope{
			EventID:       uuid.New(),
			CenterID:      c.CenterID,
			OccurredAt:    now,
			AggregateType: "container",
			AggregateID:   c.ContainerID,
			EventType:     alertEventType,
			Payload:       payload,
		})
		if err != nil {
			continue
		}
		if err := s.producer.Publish(ctx, s.alertTopic, []byte(c.ContainerID.String()), envelope, map[string]string{
			"center_id": c.CenterID.String(),
		}); err != nil {
			s.logger.Error(ctx, "alert_publish_failed", "failed to publish stale container alert",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("container_id", c.ContainerID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		metricsx.IncAlertPublished()
		published++
	}

	s.logger.Info(ctx, "alert_scan_done", "stale container scan finished",
		slog.Int("stale", len(stale)),
		slog.Int("published", published),
	)
	return nil
}
