package status

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/api/internal/repos"
	"waste-container-tracking-system/api/internal/throttle"
	"waste-container-tracking-system/shared/authx"
	"waste-container-tracking-system/shared/logx"
	"waste-container-tracking-system/shared/workflow"
)

type fakeStore struct {
	containers map[uuid.UUID]models.Container
	getErr     error
	applyErr   error
	applied    []models.StatusEvent
}

func (f *fakeStore) GetContainer(ctx context.Context, id uuid.UUID) (models.Container, error) {
	if f.getErr != nil {
		return models.Container{}, f.getErr
	}
	c, ok := f.containers[id]
	if !ok {
		return models.Container{}, pgx.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) ApplyStatus(ctx context.Context, id uuid.UUID, state string, lastEmptied bool, event models.StatusEvent) (models.Container, models.StatusEvent, error) {
	if f.applyErr != nil {
		return models.Container{}, models.StatusEvent{}, f.applyErr
	}
	c, err := f.setState(id, state, lastEmptied)
	if err != nil {
		return models.Container{}, models.StatusEvent{}, err
	}
	event.EventID = uuid.New()
	f.applied = append(f.applied, event)
	return c, event, nil
}

func (f *fakeStore) SetState(ctx context.Context, id uuid.UUID, state string, lastEmptied bool) (models.Container, error) {
	if f.applyErr != nil {
		return models.Container{}, f.applyErr
	}
	return f.setState(id, state, lastEmptied)
}

func (f *fakeStore) setState(id uuid.UUID, state string, lastEmptied bool) (models.Container, error) {
	c, ok := f.containers[id]
	if !ok {
		return models.Container{}, pgx.ErrNoRows
	}
	c.State = state
	c.UpdatedAt = time.Now().UTC()
	if lastEmptied {
		now := c.UpdatedAt
		c.LastEmptiedAt = &now
	}
	f.containers[id] = c
	return c, nil
}

func (f *fakeStore) Deactivate(ctx context.Context, id uuid.UUID) (models.Container, error) {
	c, ok := f.containers[id]
	if !ok {
		return models.Container{}, pgx.ErrNoRows
	}
	c.Active = false
	f.containers[id] = c
	return c, nil
}

type fakeLimiter struct {
	decision throttle.Decision
	calls    int
}

func (f *fakeLimiter) Reserve(ctx context.Context, actorID string, containerID string) throttle.Decision {
	f.calls++
	return f.decision
}

type fakeBroadcaster struct {
	err    error
	events []string
	rooms  []string
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, centerID string, event string, data any) error {
	f.events = append(f.events, event)
	f.rooms = append(f.rooms, centerID)
	return f.err
}

type fakePublisher struct {
	err    error
	topics []string
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	f.topics = append(f.topics, topic)
	return f.err
}

type fakeAudit struct {
	entries chan models.AuditLog
	err     error
}

func (f *fakeAudit) WriteAuditLog(ctx context.Context, entries []models.AuditLog) error {
	if f.err != nil {
		return f.err
	}
	for _, e := range entries {
		select {
		case f.entries <- e:
		default:
		}
	}
	return nil
}

func testActor(role authx.Role) authx.AuthContext {
	return authx.AuthContext{
		UserID: uuid.NewString(),
		Email:  "actor@example.com",
		Role:   role,
	}
}

func newFixture(state string, active bool) (*Service, *fakeStore, *fakeLimiter, *fakeBroadcaster, *fakePublisher, *fakeAudit, uuid.UUID) {
	containerID := uuid.New()
	store := &fakeStore{
		containers: map[uuid.UUID]models.Container{
			containerID: {
				ContainerID: containerID,
				CenterID:    uuid.New(),
				Label:       "Glass A",
				State:       state,
				Active:      active,
			},
		},
	}
	lim := &fakeLimiter{decision: throttle.Decision{Allowed: true}}
	bc := &fakeBroadcaster{}
	pub := &fakePublisher{}
	audit := &fakeAudit{entries: make(chan models.AuditLog, 8)}

	svc := NewService(Options{
		Store:       store,
		Limiter:     lim,
		Broadcaster: bc,
		Producer:    pub,
		Audit:       audit,
		Logger:      logx.New("api", "test", "test", "error"),
	})
	return svc, store, lim, bc, pub, audit, containerID
}

func TestDeclareStatusHappyPath(t *testing.T) {
	svc, store, _, bc, pub, audit, id := newFixture(workflow.ContainerStateEmpty, true)

	res, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleUser), id, DeclareRequest{State: "full", Comment: "almost full"})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if res.Container.State != workflow.ContainerStateFull {
		t.Fatalf("expected full, got %q", res.Container.State)
	}
	if res.Event.PrevState != workflow.ContainerStateEmpty {
		t.Fatalf("expected prev state empty, got %q", res.Event.PrevState)
	}
	if res.Event.Comment != "almost full" {
		t.Fatalf("expected comment carried on the event, got %q", res.Event.Comment)
	}
	if res.Event.Source != SourceUser {
		t.Fatalf("expected source user, got %q", res.Event.Source)
	}
	if res.Event.Confidence != 1.0 {
		t.Fatalf("expected default confidence 1.0, got %v", res.Event.Confidence)
	}
	if len(store.applied) != 1 {
		t.Fatalf("expected one stored event, got %d", len(store.applied))
	}
	if len(bc.events) != 1 || bc.events[0] != "container.status.updated" {
		t.Fatalf("unexpected broadcasts %+v", bc.events)
	}
	if bc.rooms[0] != res.Container.CenterID.String() {
		t.Fatalf("broadcast went to room %q, want center %q", bc.rooms[0], res.Container.CenterID)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "container.status" {
		t.Fatalf("unexpected publishes %+v", pub.topics)
	}

	select {
	case entry := <-audit.entries:
		if entry.Action != repos.AuditContainerSetFull {
			t.Fatalf("unexpected audit action %q", entry.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an audit entry")
	}
}

func TestDeclareEmptyTracksCollection(t *testing.T) {
	svc, store, _, _, _, _, id := newFixture(workflow.ContainerStateFull, true)

	res, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleAgent), id, DeclareRequest{State: "empty"})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if res.Container.LastEmptiedAt == nil {
		t.Fatal("expected last emptied timestamp on empty declaration")
	}
	if res.Event.Source != SourceAgent {
		t.Fatalf("expected source agent, got %q", res.Event.Source)
	}
	if store.containers[id].State != workflow.ContainerStateEmpty {
		t.Fatalf("container state not persisted: %q", store.containers[id].State)
	}
}

func TestDeclareStatusInvalidState(t *testing.T) {
	svc, _, lim, _, _, _, id := newFixture(workflow.ContainerStateEmpty, true)

	for _, state := range []string{"", "maintenance", "overflowing"} {
		if _, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleUser), id, DeclareRequest{State: state}); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("state %q: expected ErrInvalidState, got %v", state, err)
		}
	}
	badConfidence := 1.5
	if _, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleUser), id, DeclareRequest{State: "full", Confidence: &badConfidence}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for confidence 1.5, got %v", err)
	}
	if lim.calls != 0 {
		t.Fatalf("validation failures must not consume the throttle, got %d calls", lim.calls)
	}
}

func TestDeclareStatusNotFound(t *testing.T) {
	svc, _, lim, _, _, _, _ := newFixture(workflow.ContainerStateEmpty, true)

	if _, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleUser), uuid.New(), DeclareRequest{State: "full"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if lim.calls != 0 {
		t.Fatal("missing container must not consume the throttle")
	}
}

func TestDeclareStatusStoreOutageIsNotNotFound(t *testing.T) {
	svc, store, _, _, _, _, id := newFixture(workflow.ContainerStateEmpty, true)
	store.getErr = errors.New("connection refused")

	_, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleUser), id, DeclareRequest{State: "full"})
	if err == nil {
		t.Fatal("expected store outage to surface")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("store outage must not read as a missing container: %v", err)
	}
}

func TestDeclareStatusRejectsLongComment(t *testing.T) {
	svc, store, lim, _, _, _, id := newFixture(workflow.ContainerStateEmpty, true)

	long := strings.Repeat("x", MaxCommentLen+1)
	if _, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleUser), id, DeclareRequest{State: "full", Comment: long}); !errors.Is(err, ErrCommentTooLong) {
		t.Fatalf("expected ErrCommentTooLong, got %v", err)
	}
	if lim.calls != 0 {
		t.Fatal("rejected comment must not consume the throttle")
	}

	res, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleUser), id, DeclareRequest{State: "full", Comment: strings.Repeat("x", MaxCommentLen)})
	if err != nil {
		t.Fatalf("declare with max-length comment: %v", err)
	}
	if len(res.Event.Comment) != MaxCommentLen {
		t.Fatalf("comment length = %d, want %d", len(res.Event.Comment), MaxCommentLen)
	}
	if len(store.applied) != 1 {
		t.Fatal("max-length comment must persist")
	}
}

func TestDeclareStatusInactive(t *testing.T) {
	svc, _, _, _, _, _, id := newFixture(workflow.ContainerStateEmpty, false)

	if _, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleUser), id, DeclareRequest{State: "full"}); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
}

func TestDeclareStatusMaintenanceLock(t *testing.T) {
	svc, _, _, _, _, _, id := newFixture(workflow.ContainerStateMaintenance, true)

	if _, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleAgent), id, DeclareRequest{State: "full"}); !errors.Is(err, ErrMaintenanceLocked) {
		t.Fatalf("expected ErrMaintenanceLocked for agent, got %v", err)
	}

	res, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleManager), id, DeclareRequest{State: "full"})
	if err != nil {
		t.Fatalf("manager declare during maintenance: %v", err)
	}
	if res.Container.State != workflow.ContainerStateFull {
		t.Fatalf("expected full, got %q", res.Container.State)
	}
	if res.Event.Source != SourceManager {
		t.Fatalf("expected source manager, got %q", res.Event.Source)
	}
}

func TestDeclareStatusThrottled(t *testing.T) {
	svc, store, lim, _, _, _, id := newFixture(workflow.ContainerStateEmpty, true)
	lim.decision = throttle.Decision{Allowed: false, RetryAfter: 42 * time.Second}

	_, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleUser), id, DeclareRequest{State: "full"})
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
	if throttled.RetryAfter != 42*time.Second {
		t.Fatalf("expected retry after 42s, got %s", throttled.RetryAfter)
	}
	if len(store.applied) != 0 {
		t.Fatal("throttled declaration must not persist anything")
	}
}

func TestDeclareStatusFailOpen(t *testing.T) {
	svc, store, lim, _, _, _, id := newFixture(workflow.ContainerStateEmpty, true)
	lim.decision = throttle.Decision{Allowed: true, Degraded: true}

	res, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleUser), id, DeclareRequest{State: "full"})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if !res.Degraded {
		t.Fatal("expected degraded result when throttle is down")
	}
	if len(store.applied) != 1 {
		t.Fatal("degraded declaration must still persist")
	}
}

func TestDeclareStatusFanOutFailuresAreSwallowed(t *testing.T) {
	svc, _, _, bc, pub, _, id := newFixture(workflow.ContainerStateEmpty, true)
	bc.err = errors.New("room gone")
	pub.err = errors.New("broker down")

	if _, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleUser), id, DeclareRequest{State: "full"}); err != nil {
		t.Fatalf("fan-out failures must not fail the declaration: %v", err)
	}
}

func TestDeclareStatusStoreFailure(t *testing.T) {
	svc, store, _, bc, _, _, id := newFixture(workflow.ContainerStateEmpty, true)
	store.applyErr = errors.New("deadlock detected")

	if _, err := svc.DeclareStatus(context.Background(), testActor(authx.RoleUser), id, DeclareRequest{State: "full"}); err == nil {
		t.Fatal("expected store failure to surface")
	}
	if len(bc.events) != 0 {
		t.Fatal("failed declaration must not broadcast")
	}
}

func TestSetMaintenance(t *testing.T) {
	svc, store, _, _, _, audit, id := newFixture(workflow.ContainerStateFull, true)

	if _, err := svc.SetMaintenance(context.Background(), testActor(authx.RoleAgent), id, true); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for agent, got %v", err)
	}

	res, err := svc.SetMaintenance(context.Background(), testActor(authx.RoleManager), id, true)
	if err != nil {
		t.Fatalf("maintenance on: %v", err)
	}
	if res.Container.State != workflow.ContainerStateMaintenance {
		t.Fatalf("expected maintenance, got %q", res.Container.State)
	}
	select {
	case entry := <-audit.entries:
		if entry.Action != repos.AuditContainerMaintOn {
			t.Fatalf("unexpected audit action %q", entry.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an audit entry")
	}

	res, err = svc.SetMaintenance(context.Background(), testActor(authx.RoleSuperadmin), id, false)
	if err != nil {
		t.Fatalf("maintenance off: %v", err)
	}
	if res.Container.State != workflow.ContainerStateEmpty {
		t.Fatalf("clearing maintenance must reset to empty, got %q", res.Container.State)
	}
	if len(store.applied) != 0 {
		t.Fatal("maintenance toggles are not readings and must not write status events")
	}
}

func TestSetMaintenanceIdempotent(t *testing.T) {
	svc, store, _, _, _, _, id := newFixture(workflow.ContainerStateMaintenance, true)

	res, err := svc.SetMaintenance(context.Background(), testActor(authx.RoleManager), id, true)
	if err != nil {
		t.Fatalf("maintenance on twice: %v", err)
	}
	if res.Container.State != workflow.ContainerStateMaintenance {
		t.Fatalf("unexpected state %q", res.Container.State)
	}
	if len(store.applied) != 0 {
		t.Fatal("repeated maintenance toggle must not write an event")
	}
}

func TestBulkDeclare(t *testing.T) {
	svc, store, _, _, _, _, id := newFixture(workflow.ContainerStateEmpty, true)
	missing := uuid.New()

	res := svc.BulkDeclare(context.Background(), testActor(authx.RoleManager), []uuid.UUID{id, missing}, DeclareRequest{State: "full"})
	if res.Success != 1 || res.Failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %+v", res)
	}
	if _, ok := res.Errors[missing.String()]; !ok {
		t.Fatalf("expected error recorded for %s, got %+v", missing, res.Errors)
	}
	if store.containers[id].State != workflow.ContainerStateFull {
		t.Fatalf("bulk declare did not persist, state %q", store.containers[id].State)
	}
}

func TestBulkMaintenance(t *testing.T) {
	svc, _, _, _, _, _, id := newFixture(workflow.ContainerStateEmpty, true)

	res := svc.BulkMaintenance(context.Background(), testActor(authx.RoleManager), []uuid.UUID{id, uuid.New()}, true)
	if res.Success != 1 || res.Failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %+v", res)
	}
}

func TestDeactivate(t *testing.T) {
	svc, store, _, _, _, _, id := newFixture(workflow.ContainerStateFull, true)

	if _, err := svc.Deactivate(context.Background(), testActor(authx.RoleUser), id); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for user, got %v", err)
	}

	c, err := svc.Deactivate(context.Background(), testActor(authx.RoleManager), id)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if c.Active {
		t.Fatal("container still active after deactivation")
	}
	if c.State != workflow.ContainerStateFull {
		t.Fatalf("deactivation must not alter state, got %q", c.State)
	}

	// Deactivating twice is a no-op, not an error.
	if _, err := svc.Deactivate(context.Background(), testActor(authx.RoleManager), id); err != nil {
		t.Fatalf("repeat deactivate: %v", err)
	}
	if store.containers[id].Active {
		t.Fatal("container reactivated by repeat call")
	}
}

func TestBulkDeactivate(t *testing.T) {
	svc, store, _, _, _, _, id := newFixture(workflow.ContainerStateEmpty, true)

	res := svc.BulkDeactivate(context.Background(), testActor(authx.RoleManager), []uuid.UUID{id, uuid.New()})
	if res.Success != 1 || res.Failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %+v", res)
	}
	if store.containers[id].Active {
		t.Fatal("bulk deactivate did not persist")
	}
}
