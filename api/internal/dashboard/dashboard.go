package dashboard

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/api/internal/repos"
	"waste-container-tracking-system/shared/workflow"
)

var ErrCenterNotFound = errors.New("center not found")

type centerGetter interface {
	GetCenterByID(ctx context.Context, centerID uuid.UUID) (models.Center, error)
}

type containerReader interface {
	CountByState(ctx context.Context, centerID *uuid.UUID) ([]repos.StateCount, error)
	ListContainers(ctx context.Context, filter repos.ContainerFilter) ([]models.Container, error)
}

type eventReader interface {
	ListByCenterSince(ctx context.Context, centerID uuid.UUID, since time.Time, limit int) ([]models.StatusEvent, error)
	CountByCenterSince(ctx context.Context, centerID uuid.UUID, since time.Time) (int, error)
}

// Service assembles the read models behind the manager dashboard.
type Service struct {
	centers    centerGetter
	containers containerReader
	events     eventReader
	now        func() time.Time
}

func NewService(centers centerGetter, containers containerReader, events eventReader) *Service {
	return &Service{
		centers:    centers,
		containers: containers,
		events:     events,
		now:        time.Now,
	}
}

type Summary struct {
	TotalContainers       int     `json:"totalContainers"`
	EmptyContainers       int     `json:"emptyContainers"`
	FullContainers        int     `json:"fullContainers"`
	MaintenanceContainers int     `json:"maintenanceContainers"`
	FillRate              float64 `json:"fillRate"`
}

type Activity struct {
	Today     int `json:"today"`
	Last7Days int `json:"last7Days"`
}

type Stats struct {
	CenterID   string   `json:"centerId"`
	CenterName string   `json:"centerName"`
	Summary    Summary  `json:"summary"`
	Activity   Activity `json:"activity"`
}

func (s *Service) CenterStats(ctx context.Context, centerID uuid.UUID) (Stats, error) {
	center, err := s.centers.GetCenterByID(ctx, centerID)
	if err != nil {
		return Stats{}, ErrCenterNotFound
	}

	counts, err := s.containers.CountByState(ctx, &centerID)
	if err != nil {
		return Stats{}, err
	}

	summary := Summary{}
	for _, c := range counts {
		switch c.State {
		case workflow.ContainerStateEmpty:
			summary.EmptyContainers += c.Count
		case workflow.ContainerStateFull:
			summary.FullContainers += c.Count
		case workflow.ContainerStateMaintenance:
			summary.MaintenanceContainers += c.Count
		}
		summary.TotalContainers += c.Count
	}
	if summary.TotalContainers > 0 {
		summary.FillRate = round1(float64(summary.FullContainers) / float64(summary.TotalContainers) * 100)
	}

	now := s.now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := s.events.CountByCenterSince(ctx, centerID, todayStart)
	if err != nil {
		return Stats{}, err
	}
	week, err := s.events.CountByCenterSince(ctx, centerID, now.AddDate(0, 0, -7))
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		CenterID:   centerID.String(),
		CenterName: center.Name,
		Summary:    summary,
		Activity:   Activity{Today: today, Last7Days: week},
	}, nil
}

type Alert struct {
	ContainerID    string    `json:"containerId"`
	ContainerLabel string    `json:"containerLabel"`
	FullSince      time.Time `json:"fullSince"`
	HoursFull      int       `json:"hoursFull"`
	Severity       string    `json:"severity"`
}

type Alerts struct {
	CenterID            string  `json:"centerId"`
	CenterName          string  `json:"centerName"`
	AlertThresholdHours int     `json:"alertThresholdHours"`
	TotalAlerts         int     `json:"totalAlerts"`
	Critical            int     `json:"critical"`
	Warning             int     `json:"warning"`
	Alerts              []Alert `json:"alerts"`
}

// CenterAlerts lists full containers that crossed the staleness threshold,
// most overdue first.
func (s *Service) CenterAlerts(ctx context.Context, centerID uuid.UUID, thresholdHours int) (Alerts, error) {
	if thresholdHours <= 0 {
		thresholdHours = 24
	}

	center, err := s.centers.GetCenterByID(ctx, centerID)
	if err != nil {
		return Alerts{}, ErrCenterNotFound
	}

	full, err := s.containers.ListContainers(ctx, repos.ContainerFilter{
		CenterID:   &centerID,
		State:      workflow.ContainerStateFull,
		OnlyActive: true,
		Limit:      1000,
	})
	if err != nil {
		return Alerts{}, err
	}

	now := s.now().UTC()
	out := Alerts{
		CenterID:            centerID.String(),
		CenterName:          center.Name,
		AlertThresholdHours: thresholdHours,
		Alerts:              []Alert{},
	}
	for _, c := range full {
		hoursFull := int(now.Sub(c.StateChangedAt).Hours())
		if hoursFull < thresholdHours {
			continue
		}
		alert := Alert{
			ContainerID:    c.ContainerID.String(),
			ContainerLabel: c.Label,
			FullSince:      c.StateChangedAt,
			HoursFull:      hoursFull,
			Severity:       severityFor(hoursFull, thresholdHours),
		}
		out.Alerts = append(out.Alerts, alert)
		switch alert.Severity {
		case "critical":
			out.Critical++
		case "warning":
			out.Warning++
		}
	}

	sort.Slice(out.Alerts, func(i, j int) bool {
		return out.Alerts[i].HoursFull > out.Alerts[j].HoursFull
	})
	out.TotalAlerts = len(out.Alerts)
	return out, nil
}

func severityFor(hoursFull int, thresholdHours int) string {
	if hoursFull > thresholdHours*2 {
		return "critical"
	}
	return "warning"
}

type ContainerRotation struct {
	ContainerID       string  `json:"containerId"`
	FillCount         int     `json:"fillCount"`
	EmptyCount        int     `json:"emptyCount"`
	AvgFillTimeHours  float64 `json:"avgFillTimeHours"`
	AvgEmptyTimeHours float64 `json:"avgEmptyTimeHours"`
}

type RotationOverall struct {
	TotalTransitions  int     `json:"totalTransitions"`
	FillTransitions   int     `json:"fillTransitions"`
	EmptyTransitions  int     `json:"emptyTransitions"`
	AvgFillTimeHours  float64 `json:"avgFillTimeHours"`
	AvgEmptyTimeHours float64 `json:"avgEmptyTimeHours"`
}

type Rotation struct {
	CenterID    string              `json:"centerId"`
	CenterName  string              `json:"centerName"`
	PeriodDays  int                 `json:"periodDays"`
	Overall     RotationOverall     `json:"overall"`
	ByContainer []ContainerRotation `json:"byContainer"`
}

func (s *Service) CenterRotation(ctx context.Context, centerID uuid.UUID, days int) (Rotation, error) {
	if days <= 0 {
		days = 30
	}

	center, err := s.centers.GetCenterByID(ctx, centerID)
	if err != nil {
		return Rotation{}, ErrCenterNotFound
	}

	since := s.now().UTC().AddDate(0, 0, -days)
	events, err := s.events.ListByCenterSince(ctx, centerID, since, 10000)
	if err != nil {
		return Rotation{}, err
	}

	overall, byContainer := RotationFromEvents(events)
	return Rotation{
		CenterID:    centerID.String(),
		CenterName:  center.Name,
		PeriodDays:  days,
		Overall:     overall,
		ByContainer: byContainer,
	}, nil
}

// RotationFromEvents measures the time containers spend filling up
// (empty to full) and waiting for collection (full to empty), given the
// center's status events in chronological order.
func RotationFromEvents(events []models.StatusEvent) (RotationOverall, []ContainerRotation) {
	type tracker struct {
		lastEmpty *time.Time
		lastFull  *time.Time
		fillSum   float64
		emptySum  float64
		fillN     int
		emptyN    int
	}

	trackers := make(map[uuid.UUID]*tracker)
	order := []uuid.UUID{}

	for _, e := range events {
		t := trackers[e.ContainerID]
		if t == nil {
			t = &tracker{}
			trackers[e.ContainerID] = t
			order = append(order, e.ContainerID)
		}

		at := e.OccurredAt
		switch e.State {
		case workflow.ContainerStateFull:
			if t.lastEmpty != nil {
				t.fillSum += at.Sub(*t.lastEmpty).Hours()
				t.fillN++
			}
			t.lastFull = &at
			t.lastEmpty = nil
		case workflow.ContainerStateEmpty:
			if t.lastFull != nil {
				t.emptySum += at.Sub(*t.lastFull).Hours()
				t.emptyN++
			}
			t.lastEmpty = &at
			t.lastFull = nil
		default:
			// Maintenance interrupts both cycles.
			t.lastEmpty = nil
			t.lastFull = nil
		}
	}

	overall := RotationOverall{}
	var fillSum, emptySum float64
	byContainer := make([]ContainerRotation, 0, len(trackers))
	for _, id := range order {
		t := trackers[id]
		if t.fillN == 0 && t.emptyN == 0 {
			continue
		}
		cr := ContainerRotation{
			ContainerID: id.String(),
			FillCount:   t.fillN,
			EmptyCount:  t.emptyN,
		}
		if t.fillN > 0 {
			cr.AvgFillTimeHours = round1(t.fillSum / float64(t.fillN))
		}
		if t.emptyN > 0 {
			cr.AvgEmptyTimeHours = round1(t.emptySum / float64(t.emptyN))
		}
		byContainer = append(byContainer, cr)

		overall.FillTransitions += t.fillN
		overall.EmptyTransitions += t.emptyN
		fillSum += t.fillSum
		emptySum += t.emptySum
	}
	overall.TotalTransitions = overall.FillTransitions + overall.EmptyTransitions
	if overall.FillTransitions > 0 {
		overall.AvgFillTimeHours = round1(fillSum / float64(overall.FillTransitions))
	}
	if overall.EmptyTransitions > 0 {
		overall.AvgEmptyTimeHours = round1(emptySum / float64(overall.EmptyTransitions))
	}
	return overall, byContainer
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
