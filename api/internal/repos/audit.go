package repos

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"waste-container-tracking-system/api/internal/models"
)

const (
	AuditContainerCreated     = "CONTAINER_CREATED"
	AuditContainerUpdated     = "CONTAINER_UPDATED"
	AuditContainerDeactivated = "CONTAINER_DEACTIVATED"
	AuditContainerSetFull     = "CONTAINER_SET_FULL"
	AuditContainerSetEmpty    = "CONTAINER_SET_EMPTY"
	AuditContainerMaintOn     = "CONTAINER_MAINTENANCE_ON"
	AuditContainerMaintOff    = "CONTAINER_MAINTENANCE_OFF"
	AuditCenterCreated        = "CENTER_CREATED"
	AuditCenterUpdated        = "CENTER_UPDATED"
	AuditUserRegistered       = "USER_REGISTERED"
	AuditUserLoggedIn         = "USER_LOGGED_IN"
	AuditUserLoggedOut        = "USER_LOGGED_OUT"
	AuditUserRoleChanged      = "USER_ROLE_CHANGED"
	AuditAuthFailed           = "AUTH_FAILED"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) WriteAuditLog(ctx context.Context, entries []models.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range entries {
		entry := entries[i]
		if entry.OccurredAt.IsZero() {
			entry.OccurredAt = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO audit_logs (
				occurred_at, actor_user_id, actor_email, action,
				resource_type, resource_id, request_id, method, path,
				status_code, duration_ms, client_ip, user_agent, details
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7, $8, $9,
				$10, $11, $12, $13, $14
			)
		`,
			entry.OccurredAt,
			entry.ActorUserID,
			nullIfEmpty(entry.ActorEmail),
			entry.Action,
			entry.ResourceType,
			entry.ResourceID,
			nullIfEmpty(entry.RequestID),
			nullIfEmpty(entry.Method),
			nullIfEmpty(entry.Path),
			entry.StatusCode,
			entry.DurationMS,
			nullIfEmpty(entry.ClientIP),
			nullIfEmpty(entry.UserAgent),
			entry.Details,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *AuditRepo) ListRecent(ctx context.Context, limit int, offset int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT audit_id, occurred_at, actor_user_id, actor_email, action,
		       resource_type, resource_id, request_id, method, path,
		       status_code, duration_ms, client_ip, user_agent, details
		FROM audit_logs
		ORDER BY occurred_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditLog
	for rows.Next() {
		var e models.AuditLog
		if err := rows.Scan(
			&e.AuditID,
			&e.OccurredAt,
			&e.ActorUserID,
			&scanNullString{&e.ActorEmail},
			&e.Action,
			&e.ResourceType,
			&e.ResourceID,
			&scanNullString{&e.RequestID},
			&scanNullString{&e.Method},
			&scanNullString{&e.Path},
			&e.StatusCode,
			&e.DurationMS,
			&scanNullString{&e.ClientIP},
			&scanNullString{&e.UserAgent},
			&e.Details,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
