//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// TestDependencies verifies the backing services a deployment needs.
// Each leg is skipped when its environment variable is unset.
func TestDependencies(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("db ping failed: %v", err)
	}

	brokers := strings.Split(os.Getenv("KAFKA_BROKERS"), ",")
	if len(brokers) == 0 || strings.TrimSpace(brokers[0]) == "" {
		t.Skip("KAFKA_BROKERS not set")
	}
	conn, err := kafka.Dial("tcp", strings.TrimSpace(brokers[0]))
	if err != nil {
		t.Fatalf("kafka dial failed: %v", err)
	}
	_ = conn.Close()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}
	_ = redisClient.Close()

	influxURL := os.Getenv("INFLUX_URL")
	if influxURL == "" {
		t.Skip("INFLUX_URL not set")
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, influxURL+"/health", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("influx health failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.Fatalf("influx health status: %d", resp.StatusCode)
	}

	asynqRedis := os.Getenv("ASYNQ_REDIS_ADDR")
	if asynqRedis == "" {
		t.Skip("ASYNQ_REDIS_ADDR not set")
	}
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: asynqRedis})
	defer inspector.Close()
	if _, err := inspector.GetQueueInfo("default"); err != nil {
		t.Fatalf("asynq inspector failed: %v", err)
	}
}

// TestStatusDeclarationRoundTrip drives a container through a full/empty
// cycle directly against the schema.
func TestStatusDeclarationRoundTrip(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	var centerID string
	if err := pool.QueryRow(ctx, `
		INSERT INTO centers (name, city) VALUES ('it-center', 'Testville')
		RETURNING center_id
	`).Scan(&centerID); err != nil {
		t.Fatalf("insert center: %v", err)
	}
	defer pool.Exec(ctx, `DELETE FROM centers WHERE center_id = $1`, centerID)

	var typeID string
	if err := pool.QueryRow(ctx, `
		INSERT INTO container_types (name) VALUES ('it-type-' || gen_random_uuid())
		RETURNING type_id
	`).Scan(&typeID); err != nil {
		t.Fatalf("insert type: %v", err)
	}
	defer pool.Exec(ctx, `DELETE FROM container_types WHERE type_id = $1`, typeID)

	var containerID string
	if err := pool.QueryRow(ctx, `
		INSERT INTO containers (center_id, type_id, label) VALUES ($1, $2, 'IT-1')
		RETURNING container_id
	`, centerID, typeID).Scan(&containerID); err != nil {
		t.Fatalf("insert container: %v", err)
	}
	defer func() {
		pool.Exec(ctx, `DELETE FROM status_events WHERE container_id = $1`, containerID)
		pool.Exec(ctx, `DELETE FROM containers WHERE container_id = $1`, containerID)
	}()

	if _, err := pool.Exec(ctx, `
		UPDATE containers SET state = 'full', state_changed_at = now() WHERE container_id = $1
	`, containerID); err != nil {
		t.Fatalf("set full: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO status_events (container_id, center_id, state, prev_state, source, confidence)
		VALUES ($1, $2, 'full', 'empty', 'user', 1.0)
	`, containerID, centerID); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	var state string
	var count int
	if err := pool.QueryRow(ctx, `
		SELECT c.state, (SELECT count(*) FROM status_events e WHERE e.container_id = c.container_id)
		FROM containers c WHERE c.container_id = $1
	`, containerID).Scan(&state, &count); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if state != "full" || count != 1 {
		t.Fatalf("state = %q events = %d, want full/1", state, count)
	}
}
