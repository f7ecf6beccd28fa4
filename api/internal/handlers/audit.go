package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/shared/authx"
	"waste-container-tracking-system/shared/httpx"
)

type auditLister interface {
	ListRecent(ctx context.Context, limit int, offset int) ([]models.AuditLog, error)
}

// AuditHandler exposes the audit trail to superadmins.
type AuditHandler struct {
	Audit auditLister
}

type auditLogResponse struct {
	AuditID      string          `json:"audit_id"`
	OccurredAt   string          `json:"occurred_at"`
	ActorUserID  *string         `json:"actor_user_id,omitempty"`
	ActorEmail   string          `json:"actor_email,omitempty"`
	Action       string          `json:"action"`
	ResourceType *string         `json:"resource_type,omitempty"`
	ResourceID   *string         `json:"resource_id,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	Method       string          `json:"method,omitempty"`
	Path         string          `json:"path,omitempty"`
	StatusCode   int             `json:"status_code,omitempty"`
	DurationMS   int64           `json:"duration_ms,omitempty"`
	ClientIP     string          `json:"client_ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
}

func (h *AuditHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/audit", h.handleList)
}

func (h *AuditHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, authx.RoleSuperadmin); !ok {
		return
	}
	entries, err := h.Audit.ListRecent(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}
	items := make([]auditLogResponse, 0, len(entries))
	for _, e := range entries {
		item := auditLogResponse{
			AuditID:      e.AuditID.String(),
			OccurredAt:   e.OccurredAt.UTC().Format(time.RFC3339),
			ActorEmail:   e.ActorEmail,
			Action:       e.Action,
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			RequestID:    e.RequestID,
			Method:       e.Method,
			Path:         e.Path,
			StatusCode:   e.StatusCode,
			DurationMS:   e.DurationMS,
			ClientIP:     e.ClientIP,
			UserAgent:    e.UserAgent,
		}
		if e.ActorUserID != nil {
			id := e.ActorUserID.String()
			item.ActorUserID = &id
		}
		if len(e.Details) > 0 {
			item.Details = json.RawMessage(e.Details)
		}
		items = append(items, item)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"audit_logs": items})
}
