package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/api/internal/status"
	"waste-container-tracking-system/shared/authx"
	"waste-container-tracking-system/shared/httpx"
	"waste-container-tracking-system/shared/logx"
	"waste-container-tracking-system/shared/metricsx"
)

// requireRole extracts the auth context and rejects callers below min.
func requireRole(w http.ResponseWriter, r *http.Request, min authx.Role) (authx.AuthContext, bool) {
	auth, ok := authx.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return authx.AuthContext{}, false
	}
	if !auth.Role.AtLeast(min) {
		httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
		return authx.AuthContext{}, false
	}
	return auth, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

// writeStatusError maps status service errors onto the error envelope.
func writeStatusError(w http.ResponseWriter, r *http.Request, err error) {
	var throttled *status.ThrottledError
	switch {
	case errors.Is(err, status.ErrInvalidState):
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "state must be empty or full and confidence must be 0-1", nil)
	case errors.Is(err, status.ErrCommentTooLong):
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "comment must be at most 500 characters", nil)
	case errors.Is(err, status.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "container not found", nil)
	case errors.Is(err, status.ErrInactive):
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, "UNPROCESSABLE", "container is deactivated", nil)
	case errors.Is(err, status.ErrMaintenanceLocked):
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, "UNPROCESSABLE", "container is under maintenance", nil)
	case errors.Is(err, status.ErrForbidden):
		httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
	case errors.As(err, &throttled):
		httpx.WriteError(w, r, http.StatusConflict, "CONFLICT", "status already declared recently",
			map[string]any{"retry_after_seconds": int(throttled.RetryAfter.Seconds())})
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
	}
}

// writeRepoError maps storage errors for plain CRUD routes.
func writeRepoError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) {
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", notFoundMsg, nil)
		return
	}
	httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
}

// asyncAudit records a domain audit entry off the request path.
func asyncAudit(l logx.Logger, audit auditWriter, r *http.Request, actor authx.AuthContext, action string, resourceType string, resourceID string) {
	if audit == nil {
		return
	}
	var actorID *uuid.UUID
	if id, err := uuid.Parse(actor.UserID); err == nil {
		actorID = &id
	}
	entry := models.AuditLog{
		OccurredAt:   time.Now().UTC(),
		ActorUserID:  actorID,
		ActorEmail:   actor.Email,
		Action:       action,
		ResourceType: &resourceType,
		ResourceID:   &resourceID,
		RequestID:    httpx.RequestIDFromContext(r.Context()),
		Method:       r.Method,
		Path:         r.URL.Path,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := audit.WriteAuditLog(ctx, []models.AuditLog{entry}); err != nil {
			metricsx.IncAuditWriteFailure()
			l.Warn(ctx, "audit_write_failed", "failed to write audit log",
				slog.String("action", action),
				slog.String("error", err.Error()),
			)
		}
	}()
}
