package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/api/internal/repos"
	"waste-container-tracking-system/api/internal/status"
	"waste-container-tracking-system/shared/authx"
	"waste-container-tracking-system/shared/httpx"
	"waste-container-tracking-system/shared/logx"
)

type containerStore interface {
	CreateContainer(ctx context.Context, centerID uuid.UUID, typeID uuid.UUID, wasteID *uuid.UUID, label string) (models.Container, error)
	UpdateContainer(ctx context.Context, containerID uuid.UUID, typeID uuid.UUID, wasteID *uuid.UUID, label string) (models.Container, error)
	GetContainerByID(ctx context.Context, containerID uuid.UUID) (models.Container, error)
	ListContainers(ctx context.Context, filter repos.ContainerFilter) ([]models.Container, error)
}

type eventLister interface {
	ListByContainer(ctx context.Context, containerID uuid.UUID, q repos.EventQuery) ([]models.StatusEvent, error)
}

type statusService interface {
	DeclareStatus(ctx context.Context, actor authx.AuthContext, containerID uuid.UUID, req status.DeclareRequest) (status.Result, error)
	SetMaintenance(ctx context.Context, actor authx.AuthContext, containerID uuid.UUID, on bool) (status.Result, error)
	Deactivate(ctx context.Context, actor authx.AuthContext, containerID uuid.UUID) (models.Container, error)
	BulkDeclare(ctx context.Context, actor authx.AuthContext, containerIDs []uuid.UUID, req status.DeclareRequest) status.BulkResult
	BulkMaintenance(ctx context.Context, actor authx.AuthContext, containerIDs []uuid.UUID, on bool) status.BulkResult
	BulkDeactivate(ctx context.Context, actor authx.AuthContext, containerIDs []uuid.UUID) status.BulkResult
}

// ContainersHandler serves container CRUD plus the status declaration routes.
type ContainersHandler struct {
	Containers containerStore
	Events     eventLister
	Status     statusService
	Audit      auditWriter
	Logger     logx.Logger
}

type containerResponse struct {
	ContainerID    string  `json:"container_id"`
	CenterID       string  `json:"center_id"`
	TypeID         string  `json:"type_id"`
	WasteID        *string `json:"waste_id,omitempty"`
	Label          string  `json:"label"`
	State          string  `json:"state"`
	Active         bool    `json:"active"`
	StateChangedAt string  `json:"state_changed_at"`
	LastEmptiedAt  *string `json:"last_emptied_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type statusEventResponse struct {
	EventID     string  `json:"event_id"`
	ContainerID string  `json:"container_id"`
	CenterID    string  `json:"center_id"`
	State       string  `json:"state"`
	PrevState   string  `json:"prev_state,omitempty"`
	Source      string  `json:"source"`
	Confidence  float64 `json:"confidence"`
	Comment     string  `json:"comment,omitempty"`
	ActorUserID *string `json:"actor_user_id,omitempty"`
	OccurredAt  string  `json:"occurred_at"`
}

func toContainerResponse(c models.Container) containerResponse {
	resp := containerResponse{
		ContainerID:    c.ContainerID.String(),
		CenterID:       c.CenterID.String(),
		TypeID:         c.TypeID.String(),
		Label:          c.Label,
		State:          c.State,
		Active:         c.Active,
		StateChangedAt: c.StateChangedAt.UTC().Format(time.RFC3339),
		CreatedAt:      c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if c.WasteID != nil {
		id := c.WasteID.String()
		resp.WasteID = &id
	}
	if c.LastEmptiedAt != nil {
		t := c.LastEmptiedAt.UTC().Format(time.RFC3339)
		resp.LastEmptiedAt = &t
	}
	return resp
}

func toStatusEventResponse(e models.StatusEvent) statusEventResponse {
	resp := statusEventResponse{
		EventID:     e.EventID.String(),
		ContainerID: e.ContainerID.String(),
		CenterID:    e.CenterID.String(),
		State:       e.State,
		PrevState:   e.PrevState,
		Source:      e.Source,
		Confidence:  e.Confidence,
		Comment:     e.Comment,
		OccurredAt:  e.OccurredAt.UTC().Format(time.RFC3339),
	}
	if e.ActorUserID != nil {
		id := e.ActorUserID.String()
		resp.ActorUserID = &id
	}
	return resp
}

func (h *ContainersHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/containers", h.handleCreate)
	mux.HandleFunc("GET /api/v1/containers", h.handleList)
	mux.HandleFunc("GET /api/v1/containers/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/v1/containers/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/v1/containers/{id}", h.handleDeactivate)
	mux.HandleFunc("POST /api/v1/containers/{id}/status", h.handleDeclareStatus)
	mux.HandleFunc("POST /api/v1/containers/{id}/maintenance", h.handleMaintenance)
	mux.HandleFunc("POST /api/v1/containers/status/bulk", h.handleBulkDeclare)
	mux.HandleFunc("POST /api/v1/containers/maintenance/bulk", h.handleBulkMaintenance)
	mux.HandleFunc("POST /api/v1/containers/delete/bulk", h.handleBulkDeactivate)
	mux.HandleFunc("GET /api/v1/containers/{id}/events", h.handleListEvents)
}

type containerRequest struct {
	CenterID string  `json:"center_id"`
	TypeID   string  `json:"type_id"`
	WasteID  *string `json:"waste_id"`
	Label    string  `json:"label"`
}

func (h *ContainersHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleManager)
	if !ok {
		return
	}
	var req containerRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	centerID, err := uuid.Parse(req.CenterID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid center_id", nil)
		return
	}
	typeID, err := uuid.Parse(req.TypeID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid type_id", nil)
		return
	}
	var wasteID *uuid.UUID
	if req.WasteID != nil {
		id, err := uuid.Parse(*req.WasteID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid waste_id", nil)
			return
		}
		wasteID = &id
	}
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "label is required", nil)
		return
	}
	container, err := h.Containers.CreateContainer(r.Context(), centerID, typeID, wasteID, req.Label)
	if err != nil {
		// FK violations on center/type/waste surface as a generic conflict.
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, "UNPROCESSABLE", "could not create container", nil)
		return
	}
	asyncAudit(h.Logger, h.Audit, r, actor, repos.AuditContainerCreated, "container", container.ContainerID.String())
	httpx.WriteJSON(w, http.StatusCreated, toContainerResponse(container))
}

func (h *ContainersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, authx.RoleVisitor); !ok {
		return
	}
	filter := repos.ContainerFilter{
		State:      r.URL.Query().Get("state"),
		Search:     strings.TrimSpace(r.URL.Query().Get("search")),
		OnlyActive: r.URL.Query().Get("include_inactive") != "true",
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("center_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid center_id", nil)
			return
		}
		filter.CenterID = &id
	}
	if raw := r.URL.Query().Get("type_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid type_id", nil)
			return
		}
		filter.TypeID = &id
	}
	containers, err := h.Containers.ListContainers(r.Context(), filter)
	if err != nil {
		writeRepoError(w, r, err, "container not found")
		return
	}
	items := make([]containerResponse, 0, len(containers))
	for _, c := range containers {
		items = append(items, toContainerResponse(c))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"containers": items})
}

func (h *ContainersHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, authx.RoleVisitor); !ok {
		return
	}
	containerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	container, err := h.Containers.GetContainerByID(r.Context(), containerID)
	if err != nil {
		writeRepoError(w, r, err, "container not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toContainerResponse(container))
}

func (h *ContainersHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleManager)
	if !ok {
		return
	}
	containerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req containerRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	typeID, err := uuid.Parse(req.TypeID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid type_id", nil)
		return
	}
	var wasteID *uuid.UUID
	if req.WasteID != nil {
		id, err := uuid.Parse(*req.WasteID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid waste_id", nil)
			return
		}
		wasteID = &id
	}
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "label is required", nil)
		return
	}
	container, err := h.Containers.UpdateContainer(r.Context(), containerID, typeID, wasteID, req.Label)
	if err != nil {
		writeRepoError(w, r, err, "container not found")
		return
	}
	asyncAudit(h.Logger, h.Audit, r, actor, repos.AuditContainerUpdated, "container", container.ContainerID.String())
	httpx.WriteJSON(w, http.StatusOK, toContainerResponse(container))
}

func (h *ContainersHandler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleManager)
	if !ok {
		return
	}
	containerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	container, err := h.Status.Deactivate(r.Context(), actor, containerID)
	if err != nil {
		writeStatusError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toContainerResponse(container))
}

type declareRequest struct {
	State      string   `json:"state"`
	Comment    string   `json:"comment"`
	Confidence *float64 `json:"confidence"`
}

func (h *ContainersHandler) handleDeclareStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleUser)
	if !ok {
		return
	}
	containerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req declareRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	result, err := h.Status.DeclareStatus(r.Context(), actor, containerID, status.DeclareRequest{
		State:      req.State,
		Comment:    strings.TrimSpace(req.Comment),
		Confidence: req.Confidence,
	})
	if err != nil {
		writeStatusError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"container": toContainerResponse(result.Container),
		"event":     toStatusEventResponse(result.Event),
		"degraded":  result.Degraded,
	})
}

func (h *ContainersHandler) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleManager)
	if !ok {
		return
	}
	containerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	result, err := h.Status.SetMaintenance(r.Context(), actor, containerID, req.Enabled)
	if err != nil {
		writeStatusError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toContainerResponse(result.Container))
}

type bulkDeclareRequest struct {
	ContainerIDs []string `json:"container_ids"`
	State        string   `json:"state"`
	Confidence   *float64 `json:"confidence"`
}

func parseBulkIDs(w http.ResponseWriter, r *http.Request, raw []string) ([]uuid.UUID, bool) {
	if len(raw) == 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "container_ids is required", nil)
		return nil, false
	}
	if len(raw) > 100 {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "at most 100 containers per request", nil)
		return nil, false
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid container id "+s, nil)
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

func (h *ContainersHandler) handleBulkDeclare(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleManager)
	if !ok {
		return
	}
	var req bulkDeclareRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	ids, ok := parseBulkIDs(w, r, req.ContainerIDs)
	if !ok {
		return
	}
	result := h.Status.BulkDeclare(r.Context(), actor, ids, status.DeclareRequest{
		State:      req.State,
		Confidence: req.Confidence,
	})
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *ContainersHandler) handleBulkMaintenance(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleManager)
	if !ok {
		return
	}
	var req struct {
		ContainerIDs []string `json:"container_ids"`
		Enabled      bool     `json:"enabled"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	ids, ok := parseBulkIDs(w, r, req.ContainerIDs)
	if !ok {
		return
	}
	result := h.Status.BulkMaintenance(r.Context(), actor, ids, req.Enabled)
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *ContainersHandler) handleBulkDeactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleManager)
	if !ok {
		return
	}
	var req struct {
		ContainerIDs []string `json:"container_ids"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	ids, ok := parseBulkIDs(w, r, req.ContainerIDs)
	if !ok {
		return
	}
	result := h.Status.BulkDeactivate(r.Context(), actor, ids)
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *ContainersHandler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, authx.RoleVisitor); !ok {
		return
	}
	containerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	q := repos.EventQuery{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	var ok2 bool
	if q.From, ok2 = queryTime(w, r, "from"); !ok2 {
		return
	}
	if q.To, ok2 = queryTime(w, r, "to"); !ok2 {
		return
	}
	events, err := h.Events.ListByContainer(r.Context(), containerID, q)
	if err != nil {
		writeRepoError(w, r, err, "container not found")
		return
	}
	items := make([]statusEventResponse, 0, len(events))
	for _, e := range events {
		items = append(items, toStatusEventResponse(e))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": items, "count": len(items)})
}

func queryTime(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", name+" must be RFC 3339", nil)
		return nil, false
	}
	return &t, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
