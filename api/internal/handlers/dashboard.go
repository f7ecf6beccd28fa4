package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"waste-container-tracking-system/api/internal/dashboard"
	"waste-container-tracking-system/shared/authx"
	"waste-container-tracking-system/shared/httpx"
)

type dashboardService interface {
	CenterStats(ctx context.Context, centerID uuid.UUID) (dashboard.Stats, error)
	CenterAlerts(ctx context.Context, centerID uuid.UUID, thresholdHours int) (dashboard.Alerts, error)
	CenterRotation(ctx context.Context, centerID uuid.UUID, days int) (dashboard.Rotation, error)
}

// DashboardHandler serves the per-center read models. Managers only see
// the center they are assigned to; superadmins see any center.
type DashboardHandler struct {
	Dashboard      dashboardService
	Users          userStore
	ThresholdHours int
}

func (h *DashboardHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/dashboard/centers/{id}/stats", h.handleStats)
	mux.HandleFunc("GET /api/v1/dashboard/centers/{id}/alerts", h.handleAlerts)
	mux.HandleFunc("GET /api/v1/dashboard/centers/{id}/rotation", h.handleRotation)
}

// authorizeCenter resolves the request into a center the caller may read.
func (h *DashboardHandler) authorizeCenter(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actor, ok := requireRole(w, r, authx.RoleManager)
	if !ok {
		return uuid.Nil, false
	}
	centerID, ok := pathUUID(w, r, "id")
	if !ok {
		return uuid.Nil, false
	}
	if actor.Role.AtLeast(authx.RoleSuperadmin) {
		return centerID, true
	}
	userID, err := uuid.Parse(actor.UserID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid subject", nil)
		return uuid.Nil, false
	}
	user, err := h.Users.GetUserByID(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "no center assignment", nil)
		return uuid.Nil, false
	}
	if user.CenterID == nil || *user.CenterID != centerID {
		httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "center not assigned to caller", nil)
		return uuid.Nil, false
	}
	return centerID, true
}

func (h *DashboardHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	centerID, ok := h.authorizeCenter(w, r)
	if !ok {
		return
	}
	stats, err := h.Dashboard.CenterStats(r.Context(), centerID)
	if err != nil {
		writeDashboardError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (h *DashboardHandler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	centerID, ok := h.authorizeCenter(w, r)
	if !ok {
		return
	}
	threshold := queryInt(r, "threshold_hours", h.ThresholdHours)
	alerts, err := h.Dashboard.CenterAlerts(r.Context(), centerID, threshold)
	if err != nil {
		writeDashboardError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, alerts)
}

func (h *DashboardHandler) handleRotation(w http.ResponseWriter, r *http.Request) {
	centerID, ok := h.authorizeCenter(w, r)
	if !ok {
		return
	}
	rotation, err := h.Dashboard.CenterRotation(r.Context(), centerID, queryInt(r, "days", 30))
	if err != nil {
		writeDashboardError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rotation)
}

func writeDashboardError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, dashboard.ErrCenterNotFound) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "center not found", nil)
		return
	}
	httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
}
