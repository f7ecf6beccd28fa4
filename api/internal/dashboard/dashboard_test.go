package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/api/internal/repos"
	"waste-container-tracking-system/shared/workflow"
)

type fakeCenters struct {
	centers map[uuid.UUID]models.Center
}

func (f *fakeCenters) GetCenterByID(ctx context.Context, id uuid.UUID) (models.Center, error) {
	c, ok := f.centers[id]
	if !ok {
		return models.Center{}, ErrCenterNotFound
	}
	return c, nil
}

type fakeContainers struct {
	counts []repos.StateCount
	listed []models.Container
}

func (f *fakeContainers) CountByState(ctx context.Context, centerID *uuid.UUID) ([]repos.StateCount, error) {
	return f.counts, nil
}

func (f *fakeContainers) ListContainers(ctx context.Context, filter repos.ContainerFilter) ([]models.Container, error) {
	return f.listed, nil
}

type fakeEvents struct {
	events []models.StatusEvent
	counts map[string]int
}

func (f *fakeEvents) ListByCenterSince(ctx context.Context, centerID uuid.UUID, since time.Time, limit int) ([]models.StatusEvent, error) {
	return f.events, nil
}

func (f *fakeEvents) CountByCenterSince(ctx context.Context, centerID uuid.UUID, since time.Time) (int, error) {
	// Distinguish the today window from the 7 day window by span.
	if time.Since(since) < 25*time.Hour {
		return f.counts["today"], nil
	}
	return f.counts["week"], nil
}

func TestCenterStats(t *testing.T) {
	centerID := uuid.New()
	svc := NewService(
		&fakeCenters{centers: map[uuid.UUID]models.Center{centerID: {CenterID: centerID, Name: "North"}}},
		&fakeContainers{counts: []repos.StateCount{
			{CenterID: centerID, State: workflow.ContainerStateEmpty, Count: 6},
			{CenterID: centerID, State: workflow.ContainerStateFull, Count: 3},
			{CenterID: centerID, State: workflow.ContainerStateMaintenance, Count: 1},
		}},
		&fakeEvents{counts: map[string]int{"today": 4, "week": 31}},
	)

	stats, err := svc.CenterStats(context.Background(), centerID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CenterName != "North" {
		t.Fatalf("unexpected center name %q", stats.CenterName)
	}
	if stats.Summary.TotalContainers != 10 {
		t.Fatalf("expected 10 containers, got %d", stats.Summary.TotalContainers)
	}
	if stats.Summary.FillRate != 30.0 {
		t.Fatalf("expected fill rate 30.0, got %v", stats.Summary.FillRate)
	}
	if stats.Activity.Today != 4 || stats.Activity.Last7Days != 31 {
		t.Fatalf("unexpected activity %+v", stats.Activity)
	}
}

func TestCenterStatsUnknownCenter(t *testing.T) {
	svc := NewService(&fakeCenters{centers: map[uuid.UUID]models.Center{}}, &fakeContainers{}, &fakeEvents{})
	if _, err := svc.CenterStats(context.Background(), uuid.New()); err != ErrCenterNotFound {
		t.Fatalf("expected ErrCenterNotFound, got %v", err)
	}
}

func TestCenterAlerts(t *testing.T) {
	centerID := uuid.New()
	now := time.Now().UTC()
	containers := []models.Container{
		{ContainerID: uuid.New(), Label: "fresh", State: "full", StateChangedAt: now.Add(-2 * time.Hour)},
		{ContainerID: uuid.New(), Label: "overdue", State: "full", StateChangedAt: now.Add(-30 * time.Hour)},
		{ContainerID: uuid.New(), Label: "ancient", State: "full", StateChangedAt: now.Add(-80 * time.Hour)},
	}
	svc := NewService(
		&fakeCenters{centers: map[uuid.UUID]models.Center{centerID: {CenterID: centerID, Name: "North"}}},
		&fakeContainers{listed: containers},
		&fakeEvents{},
	)

	alerts, err := svc.CenterAlerts(context.Background(), centerID, 24)
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if alerts.TotalAlerts != 2 {
		t.Fatalf("expected 2 alerts, got %d", alerts.TotalAlerts)
	}
	if alerts.Alerts[0].ContainerLabel != "ancient" {
		t.Fatalf("expected most overdue first, got %q", alerts.Alerts[0].ContainerLabel)
	}
	if alerts.Alerts[0].Severity != "critical" {
		t.Fatalf("expected critical severity, got %q", alerts.Alerts[0].Severity)
	}
	if alerts.Alerts[1].Severity != "warning" {
		t.Fatalf("expected warning severity, got %q", alerts.Alerts[1].Severity)
	}
	if alerts.Critical != 1 || alerts.Warning != 1 {
		t.Fatalf("unexpected severity counts %+v", alerts)
	}
}

func TestRotationFromEvents(t *testing.T) {
	containerA := uuid.New()
	containerB := uuid.New()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	mk := func(id uuid.UUID, state string, hoursAfter int) models.StatusEvent {
		return models.StatusEvent{
			ContainerID: id,
			State:       state,
			OccurredAt:  base.Add(time.Duration(hoursAfter) * time.Hour),
		}
	}

	events := []models.StatusEvent{
		mk(containerA, "empty", 0),
		mk(containerA, "full", 10),
		mk(containerA, "empty", 14),
		mk(containerA, "full", 34),
		mk(containerB, "empty", 0),
		mk(containerB, "full", 30),
	}

	overall, byContainer := RotationFromEvents(events)
	if overall.FillTransitions != 3 {
		t.Fatalf("expected 3 fill transitions, got %d", overall.FillTransitions)
	}
	if overall.EmptyTransitions != 1 {
		t.Fatalf("expected 1 empty transition, got %d", overall.EmptyTransitions)
	}
	// Fill times are 10h, 20h and 30h.
	if overall.AvgFillTimeHours != 20.0 {
		t.Fatalf("expected avg fill 20.0, got %v", overall.AvgFillTimeHours)
	}
	if overall.AvgEmptyTimeHours != 4.0 {
		t.Fatalf("expected avg empty 4.0, got %v", overall.AvgEmptyTimeHours)
	}
	if len(byContainer) != 2 {
		t.Fatalf("expected 2 container rows, got %d", len(byContainer))
	}
	if byContainer[0].FillCount != 2 || byContainer[0].AvgFillTimeHours != 15.0 {
		t.Fatalf("unexpected container A metrics %+v", byContainer[0])
	}
}

func TestRotationMaintenanceInterruptsCycle(t *testing.T) {
	id := uuid.New()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	events := []models.StatusEvent{
		{ContainerID: id, State: "empty", OccurredAt: base},
		{ContainerID: id, State: "maintenance", OccurredAt: base.Add(5 * time.Hour)},
		{ContainerID: id, State: "full", OccurredAt: base.Add(20 * time.Hour)},
	}

	overall, _ := RotationFromEvents(events)
	if overall.TotalTransitions != 0 {
		t.Fatalf("maintenance must reset cycle tracking, got %+v", overall)
	}
}

func TestRotationEmptyInput(t *testing.T) {
	overall, byContainer := RotationFromEvents(nil)
	if overall.TotalTransitions != 0 || len(byContainer) != 0 {
		t.Fatalf("expected zero metrics, got %+v %+v", overall, byContainer)
	}
}
