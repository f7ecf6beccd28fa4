package status

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/api/internal/repos"
)

// PGStore persists declarations via postgres. The state change and its
// status event commit in one transaction.
type PGStore struct {
	pool       *pgxpool.Pool
	containers *repos.ContainersRepo
	events     *repos.StatusEventsRepo
}

func NewPGStore(pool *pgxpool.Pool, containers *repos.ContainersRepo, events *repos.StatusEventsRepo) *PGStore {
	return &PGStore{pool: pool, containers: containers, events: events}
}

func (s *PGStore) GetContainer(ctx context.Context, containerID uuid.UUID) (models.Container, error) {
	return s.containers.GetContainerByID(ctx, containerID)
}

func (s *PGStore) SetState(ctx context.Context, containerID uuid.UUID, state string, lastEmptied bool) (models.Container, error) {
	return s.containers.SetContainerState(ctx, containerID, state, lastEmptied)
}

func (s *PGStore) Deactivate(ctx context.Context, containerID uuid.UUID) (models.Container, error) {
	return s.containers.DeactivateContainer(ctx, containerID)
}

func (s *PGStore) ApplyStatus(ctx context.Context, containerID uuid.UUID, state string, lastEmptied bool, event models.StatusEvent) (models.Container, models.StatusEvent, error) {
	if s.pool == nil {
		return models.Container{}, models.StatusEvent{}, errors.New("db pool not configured")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Container{}, models.StatusEvent{}, err
	}
	defer tx.Rollback(ctx)

	container, err := s.containers.WithTx(tx).SetContainerState(ctx, containerID, state, lastEmptied)
	if err != nil {
		return models.Container{}, models.StatusEvent{}, err
	}

	stored, err := s.events.WithTx(tx).InsertStatusEvent(ctx, event)
	if err != nil {
		return models.Container{}, models.StatusEvent{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Container{}, models.StatusEvent{}, err
	}
	return container, stored, nil
}
