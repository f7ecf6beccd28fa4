package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/api/internal/realtime"
	"waste-container-tracking-system/api/internal/repos"
	"waste-container-tracking-system/api/internal/throttle"
	"waste-container-tracking-system/shared/authx"
	"waste-container-tracking-system/shared/events"
	"waste-container-tracking-system/shared/logx"
	"waste-container-tracking-system/shared/metricsx"
	"waste-container-tracking-system/shared/workflow"
)

var (
	ErrInvalidState      = errors.New("invalid container state")
	ErrCommentTooLong    = errors.New("comment too long")
	ErrNotFound          = errors.New("container not found")
	ErrInactive          = errors.New("container is deactivated")
	ErrMaintenanceLocked = errors.New("container is under maintenance")
	ErrForbidden         = errors.New("insufficient role")
)

// MaxCommentLen bounds free-text comments on a declaration.
const MaxCommentLen = 500

// notFoundOr maps a missing row to ErrNotFound. Store failures pass through
// untouched so they surface as internal errors, not 404s.
func notFoundOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ThrottledError reports a declaration rejected by the per-actor window.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("status declaration throttled, retry after %s", e.RetryAfter)
}

const (
	SourceAgent   = "agent"
	SourceManager = "manager"
	SourceUser    = "user"
)

// Store persists a state change and its status event atomically.
type Store interface {
	GetContainer(ctx context.Context, containerID uuid.UUID) (models.Container, error)
	ApplyStatus(ctx context.Context, containerID uuid.UUID, state string, lastEmptied bool, event models.StatusEvent) (models.Container, models.StatusEvent, error)
	// SetState updates the cached container state without recording a
	// status event. Maintenance toggles are not readings.
	SetState(ctx context.Context, containerID uuid.UUID, state string, lastEmptied bool) (models.Container, error)
	Deactivate(ctx context.Context, containerID uuid.UUID) (models.Container, error)
}

type limiter interface {
	Reserve(ctx context.Context, actorID string, containerID string) throttle.Decision
}

type broadcaster interface {
	Broadcast(ctx context.Context, centerID string, event string, data any) error
}

type publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

type pointWriter interface {
	WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error
}

type auditWriter interface {
	WriteAuditLog(ctx context.Context, entries []models.AuditLog) error
}

// Service drives container status declarations: it checks preconditions,
// throttles repeat declarations, persists state plus event, then fans out
// to websocket, kafka and influx on a best effort basis.
type Service struct {
	store       Store
	limiter     limiter
	broadcaster broadcaster
	producer    publisher
	influx      pointWriter
	audit       auditWriter
	logger      logx.Logger
	statusTopic string
	now         func() time.Time
}

type Options struct {
	Store       Store
	Limiter     limiter
	Broadcaster broadcaster
	Producer    publisher
	Influx      pointWriter
	Audit       auditWriter
	Logger      logx.Logger
	StatusTopic string
}

func NewService(opts Options) *Service {
	topic := opts.StatusTopic
	if topic == "" {
		topic = events.TopicContainerStatus
	}
	return &Service{
		store:       opts.Store,
		limiter:     opts.Limiter,
		broadcaster: opts.Broadcaster,
		producer:    opts.Producer,
		influx:      opts.Influx,
		audit:       opts.Audit,
		logger:      opts.Logger,
		statusTopic: topic,
		now:         time.Now,
	}
}

type DeclareRequest struct {
	State      string
	Comment    string
	Confidence *float64
}

type Result struct {
	Container models.Container
	Event     models.StatusEvent
	// Degraded reports that the throttle was skipped because redis was
	// unavailable.
	Degraded bool
}

// DeclareStatus records a full or empty declaration for the container.
// Precondition order is fixed: validation, existence, active, maintenance
// lock, throttle.
func (s *Service) DeclareStatus(ctx context.Context, actor authx.AuthContext, containerID uuid.UUID, req DeclareRequest) (Result, error) {
	state := workflow.NormalizeState(req.State)
	if state != workflow.ContainerStateEmpty && state != workflow.ContainerStateFull {
		return Result{}, ErrInvalidState
	}
	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
		if confidence < 0 || confidence > 1 {
			return Result{}, ErrInvalidState
		}
	}
	if len(req.Comment) > MaxCommentLen {
		return Result{}, ErrCommentTooLong
	}

	container, err := s.store.GetContainer(ctx, containerID)
	if err != nil {
		return Result{}, notFoundOr(err)
	}
	if !container.Active {
		return Result{}, ErrInactive
	}
	if container.State == workflow.ContainerStateMaintenance && !actor.Role.AtLeast(authx.RoleManager) {
		return Result{}, ErrMaintenanceLocked
	}

	decision := throttle.Decision{Allowed: true}
	if s.limiter != nil {
		decision = s.limiter.Reserve(ctx, actor.UserID, containerID.String())
	}
	if !decision.Allowed {
		metricsx.IncStatusThrottled()
		return Result{}, &ThrottledError{RetryAfter: decision.RetryAfter}
	}
	if decision.Degraded {
		metricsx.IncThrottleDegraded()
		s.logger.Warn(ctx, "throttle_degraded", "throttle unavailable, admitting declaration",
			slog.String("container_id", containerID.String()),
		)
	}

	event := models.StatusEvent{
		ContainerID: containerID,
		CenterID:    container.CenterID,
		State:       state,
		PrevState:   container.State,
		Source:      sourceForRole(actor.Role),
		Confidence:  confidence,
		Comment:     req.Comment,
		ActorUserID: actorUserID(actor),
		OccurredAt:  s.now().UTC(),
	}

	updated, stored, err := s.store.ApplyStatus(ctx, containerID, state, state == workflow.ContainerStateEmpty, event)
	if err != nil {
		return Result{}, err
	}

	metricsx.IncStatusDeclaration(state, event.Source)
	s.fanOut(ctx, updated, stored)
	s.writeAudit(actor, auditActionForState(state), updated.ContainerID, nil)

	return Result{Container: updated, Event: stored, Degraded: decision.Degraded}, nil
}

// SetMaintenance toggles the maintenance lock. Clearing it resets the
// container to empty.
func (s *Service) SetMaintenance(ctx context.Context, actor authx.AuthContext, containerID uuid.UUID, on bool) (Result, error) {
	if !actor.Role.AtLeast(authx.RoleManager) {
		return Result{}, ErrForbidden
	}

	container, err := s.store.GetContainer(ctx, containerID)
	if err != nil {
		return Result{}, notFoundOr(err)
	}
	if !container.Active {
		return Result{}, ErrInactive
	}

	state := workflow.ContainerStateMaintenance
	action := repos.AuditContainerMaintOn
	if !on {
		state = workflow.ContainerStateEmpty
		action = repos.AuditContainerMaintOff
	}
	if container.State == state {
		return Result{Container: container}, nil
	}

	updated, err := s.store.SetState(ctx, containerID, state, false)
	if err != nil {
		return Result{}, err
	}

	s.writeAudit(actor, action, updated.ContainerID, mustJSON(map[string]any{
		"label":          updated.Label,
		"previous_state": container.State,
	}))
	return Result{Container: updated}, nil
}

// Deactivate soft deletes the container. Repeated calls succeed; the state
// field is left as is.
func (s *Service) Deactivate(ctx context.Context, actor authx.AuthContext, containerID uuid.UUID) (models.Container, error) {
	if !actor.Role.AtLeast(authx.RoleManager) {
		return models.Container{}, ErrForbidden
	}
	container, err := s.store.Deactivate(ctx, containerID)
	if err != nil {
		return models.Container{}, notFoundOr(err)
	}
	s.writeAudit(actor, repos.AuditContainerDeactivated, container.ContainerID, mustJSON(map[string]any{
		"label": container.Label,
	}))
	return container, nil
}

type BulkResult struct {
	Success int               `json:"success"`
	Failed  int               `json:"failed"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// BulkDeclare applies the declaration to each container independently and
// reports per-container failures without aborting the batch.
func (s *Service) BulkDeclare(ctx context.Context, actor authx.AuthContext, containerIDs []uuid.UUID, req DeclareRequest) BulkResult {
	out := BulkResult{}
	for _, id := range containerIDs {
		if _, err := s.DeclareStatus(ctx, actor, id, req); err != nil {
			out.Failed++
			if out.Errors == nil {
				out.Errors = make(map[string]string)
			}
			out.Errors[id.String()] = err.Error()
			continue
		}
		out.Success++
	}
	return out
}

func (s *Service) BulkMaintenance(ctx context.Context, actor authx.AuthContext, containerIDs []uuid.UUID, on bool) BulkResult {
	out := BulkResult{}
	for _, id := range containerIDs {
		if _, err := s.SetMaintenance(ctx, actor, id, on); err != nil {
			out.Failed++
			if out.Errors == nil {
				out.Errors = make(map[string]string)
			}
			out.Errors[id.String()] = err.Error()
			continue
		}
		out.Success++
	}
	return out
}

func (s *Service) BulkDeactivate(ctx context.Context, actor authx.AuthContext, containerIDs []uuid.UUID) BulkResult {
	out := BulkResult{}
	for _, id := range containerIDs {
		if _, err := s.Deactivate(ctx, actor, id); err != nil {
			out.Failed++
			if out.Errors == nil {
				out.Errors = make(map[string]string)
			}
			out.Errors[id.String()] = err.Error()
			continue
		}
		out.Success++
	}
	return out
}

// fanOut pushes the accepted event to subscribers and the mirror topic.
// Failures are logged, never surfaced: the declaration is already durable.
func (s *Service) fanOut(ctx context.Context, container models.Container, event models.StatusEvent) {
	payload := map[string]any{
		"containerId":    container.ContainerID.String(),
		"containerLabel": container.Label,
		"state":          container.State,
		"updatedAt":      container.UpdatedAt.Format(time.RFC3339),
	}

	if s.broadcaster != nil {
		if err := s.broadcaster.Broadcast(ctx, container.CenterID.String(), realtime.EventContainerStatusUpdated, payload); err != nil {
			s.logger.Warn(ctx, "broadcast_failed", "status broadcast failed",
				slog.String("container_id", container.ContainerID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.producer != nil {
		envelope := events.Envelope{
			EventID:       event.EventID,
			CenterID:      event.CenterID,
			OccurredAt:    event.OccurredAt,
			AggregateType: "container",
			AggregateID:   event.ContainerID,
			EventType:     workflow.EventTypeForTransition(event.PrevState, event.State),
			Payload:       mustJSON(payload),
		}
		raw, err := json.Marshal(envelope)
		if err == nil {
			err = s.producer.Publish(ctx, s.statusTopic, []byte(event.ContainerID.String()), raw, nil)
		}
		if err != nil {
			s.logger.Warn(ctx, "status_publish_failed", "kafka publish failed",
				slog.String("container_id", container.ContainerID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.influx != nil {
		err := s.influx.WritePoint(ctx, "container_status",
			map[string]string{
				"center_id": event.CenterID.String(),
				"state":     event.State,
				"source":    event.Source,
			},
			map[string]any{
				"container_id": event.ContainerID.String(),
				"confidence":   event.Confidence,
			},
			event.OccurredAt,
		)
		if err != nil {
			metricsx.IncInfluxWriteFailure()
			s.logger.Warn(ctx, "influx_write_failed", "status point write failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Service) writeAudit(actor authx.AuthContext, action string, containerID uuid.UUID, details json.RawMessage) {
	if s.audit == nil {
		return
	}
	resourceType := "container"
	resourceID := containerID.String()
	entry := models.AuditLog{
		OccurredAt:   s.now().UTC(),
		ActorUserID:  actorUserID(actor),
		ActorEmail:   actor.Email,
		Action:       action,
		ResourceType: &resourceType,
		ResourceID:   &resourceID,
		Details:      details,
	}

	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.audit.WriteAuditLog(writeCtx, []models.AuditLog{entry}); err != nil {
			metricsx.IncAuditWriteFailure()
			s.logger.Warn(context.Background(), "audit_write_failed", "audit write failed",
				slog.String("action", action),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func sourceForRole(role authx.Role) string {
	switch {
	case role == authx.RoleAgent:
		return SourceAgent
	case role.AtLeast(authx.RoleManager):
		return SourceManager
	default:
		return SourceUser
	}
}

func auditActionForState(state string) string {
	if state == workflow.ContainerStateFull {
		return repos.AuditContainerSetFull
	}
	return repos.AuditContainerSetEmpty
}

func actorUserID(actor authx.AuthContext) *uuid.UUID {
	id, err := uuid.Parse(actor.UserID)
	if err != nil {
		return nil
	}
	return &id
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
