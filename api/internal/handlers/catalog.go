package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/shared/authx"
	"waste-container-tracking-system/shared/httpx"
)

type catalogStore interface {
	CreateContainerType(ctx context.Context, name string, description string, color string) (models.ContainerType, error)
	GetContainerTypeByID(ctx context.Context, typeID uuid.UUID) (models.ContainerType, error)
	ListContainerTypes(ctx context.Context) ([]models.ContainerType, error)
	CreateWaste(ctx context.Context, name string, category string) (models.Waste, error)
	GetWasteByID(ctx context.Context, wasteID uuid.UUID) (models.Waste, error)
	ListWastes(ctx context.Context) ([]models.Waste, error)
}

// CatalogHandler serves the container-type and waste reference data routes.
type CatalogHandler struct {
	Catalog catalogStore
}

type containerTypeResponse struct {
	TypeID      string `json:"type_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type wasteResponse struct {
	WasteID   string `json:"waste_id"`
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (h *CatalogHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/container-types", h.handleCreateType)
	mux.HandleFunc("GET /api/v1/container-types", h.handleListTypes)
	mux.HandleFunc("GET /api/v1/container-types/{id}", h.handleGetType)
	mux.HandleFunc("POST /api/v1/wastes", h.handleCreateWaste)
	mux.HandleFunc("GET /api/v1/wastes", h.handleListWastes)
	mux.HandleFunc("GET /api/v1/wastes/{id}", h.handleGetWaste)
}

func toTypeResponse(t models.ContainerType) containerTypeResponse {
	return containerTypeResponse{
		TypeID:      t.TypeID.String(),
		Name:        t.Name,
		Description: t.Description,
		Color:       t.Color,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// isHexColor accepts #RGB and #RRGGBB.
func isHexColor(s string) bool {
	if len(s) != 4 && len(s) != 7 {
		return false
	}
	if s[0] != '#' {
		return false
	}
	for _, c := range s[1:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func toWasteResponse(wst models.Waste) wasteResponse {
	return wasteResponse{
		WasteID:   wst.WasteID.String(),
		Name:      wst.Name,
		Category:  wst.Category,
		CreatedAt: wst.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *CatalogHandler) handleCreateType(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, authx.RoleSuperadmin); !ok {
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Color       string `json:"color"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "name is required", nil)
		return
	}
	req.Color = strings.TrimSpace(req.Color)
	if req.Color != "" && !isHexColor(req.Color) {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "color must be a hex value like #2e7d32", nil)
		return
	}
	t, err := h.Catalog.CreateContainerType(r.Context(), req.Name, req.Description, req.Color)
	if err != nil {
		httpx.WriteError(w, r, http.StatusConflict, "CONFLICT", "could not create container type", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toTypeResponse(t))
}

func (h *CatalogHandler) handleListTypes(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, authx.RoleVisitor); !ok {
		return
	}
	types, err := h.Catalog.ListContainerTypes(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}
	items := make([]containerTypeResponse, 0, len(types))
	for _, t := range types {
		items = append(items, toTypeResponse(t))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"container_types": items})
}

func (h *CatalogHandler) handleGetType(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, authx.RoleVisitor); !ok {
		return
	}
	typeID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	t, err := h.Catalog.GetContainerTypeByID(r.Context(), typeID)
	if err != nil {
		writeRepoError(w, r, err, "container type not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTypeResponse(t))
}

func (h *CatalogHandler) handleCreateWaste(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, authx.RoleSuperadmin); !ok {
		return
	}
	var req struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "name is required", nil)
		return
	}
	wst, err := h.Catalog.CreateWaste(r.Context(), req.Name, req.Category)
	if err != nil {
		httpx.WriteError(w, r, http.StatusConflict, "CONFLICT", "could not create waste", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toWasteResponse(wst))
}

func (h *CatalogHandler) handleListWastes(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, authx.RoleVisitor); !ok {
		return
	}
	wastes, err := h.Catalog.ListWastes(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}
	items := make([]wasteResponse, 0, len(wastes))
	for _, wst := range wastes {
		items = append(items, toWasteResponse(wst))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"wastes": items})
}

func (h *CatalogHandler) handleGetWaste(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, authx.RoleVisitor); !ok {
		return
	}
	wasteID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	wst, err := h.Catalog.GetWasteByID(r.Context(), wasteID)
	if err != nil {
		writeRepoError(w, r, err, "waste not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toWasteResponse(wst))
}
