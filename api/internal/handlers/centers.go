package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/api/internal/repos"
	"waste-container-tracking-system/shared/authx"
	"waste-container-tracking-system/shared/httpx"
	"waste-container-tracking-system/shared/logx"
)

type centerStore interface {
	CreateCenter(ctx context.Context, name string, address string, city string, lat *float64, lng *float64, public bool) (models.Center, error)
	UpdateCenter(ctx context.Context, centerID uuid.UUID, name string, address string, city string, lat *float64, lng *float64, public bool) (models.Center, error)
	GetCenterByID(ctx context.Context, centerID uuid.UUID) (models.Center, error)
	ListCenters(ctx context.Context, publicOnly bool, limit int, offset int) ([]models.Center, error)
}

// CentersHandler serves sorting-center CRUD routes.
type CentersHandler struct {
	Centers centerStore
	Audit   auditWriter
	Logger  logx.Logger
}

type centerResponse struct {
	CenterID  string   `json:"center_id"`
	Name      string   `json:"name"`
	Address   string   `json:"address,omitempty"`
	City      string   `json:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Public    bool     `json:"public"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

func toCenterResponse(c models.Center) centerResponse {
	return centerResponse{
		CenterID:  c.CenterID.String(),
		Name:      c.Name,
		Address:   c.Address,
		City:      c.City,
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
		Public:    c.Public,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *CentersHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/centers", h.handleCreate)
	mux.HandleFunc("GET /api/v1/centers", h.handleList)
	mux.HandleFunc("GET /api/v1/centers/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/v1/centers/{id}", h.handleUpdate)
}

type centerRequest struct {
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	City      string   `json:"city"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Public    *bool    `json:"public"`
}

// isPublic defaults new centers to publicly visible.
func (r *centerRequest) isPublic() bool {
	return r.Public == nil || *r.Public
}

func (r *centerRequest) validate() string {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return "name is required"
	}
	if r.Latitude != nil && (*r.Latitude < -90 || *r.Latitude > 90) {
		return "latitude must be between -90 and 90"
	}
	if r.Longitude != nil && (*r.Longitude < -180 || *r.Longitude > 180) {
		return "longitude must be between -180 and 180"
	}
	return ""
}

func (h *CentersHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleSuperadmin)
	if !ok {
		return
	}
	var req centerRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	if msg := req.validate(); msg != "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", msg, nil)
		return
	}
	center, err := h.Centers.CreateCenter(r.Context(), req.Name, req.Address, req.City, req.Latitude, req.Longitude, req.isPublic())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}
	asyncAudit(h.Logger, h.Audit, r, actor, repos.AuditCenterCreated, "center", center.CenterID.String())
	httpx.WriteJSON(w, http.StatusCreated, toCenterResponse(center))
}

func (h *CentersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleVisitor)
	if !ok {
		return
	}
	// Visitors and plain users only see publicly listed centers.
	publicOnly := !actor.Role.AtLeast(authx.RoleAgent)
	centers, err := h.Centers.ListCenters(r.Context(), publicOnly, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}
	items := make([]centerResponse, 0, len(centers))
	for _, c := range centers {
		items = append(items, toCenterResponse(c))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"centers": items})
}

func (h *CentersHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleVisitor)
	if !ok {
		return
	}
	centerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	center, err := h.Centers.GetCenterByID(r.Context(), centerID)
	if err != nil {
		writeRepoError(w, r, err, "center not found")
		return
	}
	if !center.Public && !actor.Role.AtLeast(authx.RoleManager) {
		httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "access to this center is restricted", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toCenterResponse(center))
}

func (h *CentersHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleSuperadmin)
	if !ok {
		return
	}
	centerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req centerRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	if msg := req.validate(); msg != "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", msg, nil)
		return
	}
	center, err := h.Centers.UpdateCenter(r.Context(), centerID, req.Name, req.Address, req.City, req.Latitude, req.Longitude, req.isPublic())
	if err != nil {
		writeRepoError(w, r, err, "center not found")
		return
	}
	asyncAudit(h.Logger, h.Audit, r, actor, repos.AuditCenterUpdated, "center", center.CenterID.String())
	httpx.WriteJSON(w, http.StatusOK, toCenterResponse(center))
}
