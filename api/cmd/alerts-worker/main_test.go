package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/shared/events"
	"waste-container-tracking-system/shared/logx"
)

type fakeScanRepo struct {
	stale  []models.Container
	err    error
	cutoff time.Time
}

func (f *fakeScanRepo) ListStaleFull(_ context.Context, cutoff time.Time, _ int) ([]models.Container, error) {
	f.cutoff = cutoff
	return f.stale, f.err
}

type fakePublisher struct {
	published []events.Envelope
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, _ []byte, value []byte, _ map[string]string) error {
	if f.err != nil {
		return f.err
	}
	var envelope events.Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return err
	}
	f.published = append(f.published, envelope)
	return nil
}

func TestScanPublishesStaleContainers(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	centerID := uuid.New()
	overdue := models.Container{
		ContainerID:    uuid.New(),
		CenterID:       centerID,
		Label:          "B-7",
		State:          "full",
		StateChangedAt: now.Add(-30 * time.Hour),
	}
	ancient := models.Container{
		ContainerID:    uuid.New(),
		CenterID:       centerID,
		Label:          "B-9",
		State:          "full",
		StateChangedAt: now.Add(-72 * time.Hour),
	}
	repo := &fakeScanRepo{stale: []models.Container{overdue, ancient}}
	pub := &fakePublisher{}
	scanner := &alertScanner{
		containers:     repo,
		producer:       pub,
		logger:         logx.New("test", "test", "", "error"),
		alertTopic:     "container.alerts",
		thresholdHours: 24,
		now:            func() time.Time { return now },
	}

	if err := scanner.scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	wantCutoff := now.Add(-24 * time.Hour)
	if !repo.cutoff.Equal(wantCutoff) {
		t.Fatalf("cutoff = %v, want %v", repo.cutoff, wantCutoff)
	}
	if len(pub.published) != 2 {
		t.Fatalf("published %d envelopes, want 2", len(pub.published))
	}
	for _, envelope := range pub.published {
		if envelope.EventType != alertEventType {
			t.Fatalf("event type = %q, want %q", envelope.EventType, alertEventType)
		}
		if envelope.CenterID != centerID {
			t.Fatalf("center = %s, want %s", envelope.CenterID, centerID)
		}
	}

	var payload struct {
		HoursFull int    `json:"hours_full"`
		Severity  string `json:"severity"`
	}
	if err := json.Unmarshal(pub.published[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.HoursFull != 30 || payload.Severity != "warning" {
		t.Fatalf("overdue payload = %+v, want 30h warning", payload)
	}
	if err := json.Unmarshal(pub.published[1].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.HoursFull != 72 || payload.Severity != "critical" {
		t.Fatalf("ancient payload = %+v, want 72h critical", payload)
	}
}

func TestScanSurfacesRepoError(t *testing.T) {
	repo := &fakeScanRepo{err: errors.New("db down")}
	scanner := &alertScanner{
		containers:     repo,
		producer:       &fakePublisher{},
		logger:         logx.New("test", "test", "", "error"),
		alertTopic:     "container.alerts",
		thresholdHours: 24,
	}
	if err := scanner.scan(context.Background()); err == nil {
		t.Fatal("expected error when repo fails")
	}
}

func TestScanKeepsGoingOnPublishFailure(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeScanRepo{stale: []models.Container{
		{ContainerID: uuid.New(), CenterID: uuid.New(), State: "full", StateChangedAt: now.Add(-30 * time.Hour)},
	}}
	pub := &fakePublisher{err: errors.New("broker down")}
	scanner := &alertScanner{
		containers:     repo,
		producer:       pub,
		logger:         logx.New("test", "test", "", "error"),
		alertTopic:     "container.alerts",
		thresholdHours: 24,
	}
	if err := scanner.scan(context.Background()); err != nil {
		t.Fatalf("scan should not fail on publish errors: %v", err)
	}
}
