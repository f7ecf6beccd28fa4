package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"waste-container-tracking-system/api/internal/models"
)

const containerColumns = `container_id, center_id, type_id, waste_id, label, state, active, state_changed_at, last_emptied_at, created_at, updated_at`

type ContainersRepo struct {
	db DBTX
}

func NewContainersRepo(pool *pgxpool.Pool) *ContainersRepo {
	return &ContainersRepo{db: pool}
}

// WithTx returns a repo bound to tx instead of the pool.
func (r *ContainersRepo) WithTx(tx pgx.Tx) *ContainersRepo {
	return &ContainersRepo{db: tx}
}

func (r *ContainersRepo) CreateContainer(ctx context.Context, centerID uuid.UUID, typeID uuid.UUID, wasteID *uuid.UUID, label string) (models.Container, error) {
	var c models.Container
	now := time.Now().UTC()
	err := r.db.QueryRow(ctx, `
		INSERT INTO containers (center_id, type_id, waste_id, label, state, active, state_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'empty', TRUE, $5, $5, $5)
		RETURNING `+containerColumns+`
	`, centerID, typeID, wasteID, label, now).
		Scan(containerFields(&c)...)
	return c, err
}

func (r *ContainersRepo) UpdateContainer(ctx context.Context, containerID uuid.UUID, typeID uuid.UUID, wasteID *uuid.UUID, label string) (models.Container, error) {
	var c models.Container
	err := r.db.QueryRow(ctx, `
		UPDATE containers SET
			type_id = $2,
			waste_id = $3,
			label = $4,
			updated_at = $5
		WHERE container_id = $1
		RETURNING `+containerColumns+`
	`, containerID, typeID, wasteID, label, time.Now().UTC()).
		Scan(containerFields(&c)...)
	return c, err
}

func (r *ContainersRepo) DeactivateContainer(ctx context.Context, containerID uuid.UUID) (models.Container, error) {
	var c models.Container
	err := r.db.QueryRow(ctx, `
		UPDATE containers SET
			active = FALSE,
			updated_at = $2
		WHERE container_id = $1
		RETURNING `+containerColumns+`
	`, containerID, time.Now().UTC()).
		Scan(containerFields(&c)...)
	return c, err
}

func (r *ContainersRepo) GetContainerByID(ctx context.Context, containerID uuid.UUID) (models.Container, error) {
	var c models.Container
	err := r.db.QueryRow(ctx, `
		SELECT `+containerColumns+`
		FROM containers
		WHERE container_id = $1
	`, containerID).
		Scan(containerFields(&c)...)
	return c, err
}

type ContainerFilter struct {
	CenterID   *uuid.UUID
	TypeID     *uuid.UUID
	State      string
	Search     string
	OnlyActive bool
	Limit      int
	Offset     int
}

func (r *ContainersRepo) ListContainers(ctx context.Context, filter ContainerFilter) ([]models.Container, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `SELECT ` + containerColumns + ` FROM containers WHERE 1=1`
	args := []any{}
	if filter.CenterID != nil {
		args = append(args, *filter.CenterID)
		query += fmt.Sprintf(" AND center_id = $%d", len(args))
	}
	if filter.TypeID != nil {
		args = append(args, *filter.TypeID)
		query += fmt.Sprintf(" AND type_id = $%d", len(args))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(" AND label ILIKE $%d", len(args))
	}
	if filter.OnlyActive {
		query += " AND active"
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY label LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var containers []models.Container
	for rows.Next() {
		var c models.Container
		if err := rows.Scan(containerFields(&c)...); err != nil {
			return nil, err
		}
		containers = append(containers, c)
	}
	return containers, rows.Err()
}

// SetContainerState records a state change. lastEmptied marks the container
// as freshly collected, which feeds the rotation and alert queries.
func (r *ContainersRepo) SetContainerState(ctx context.Context, containerID uuid.UUID, state string, lastEmptied bool) (models.Container, error) {
	var c models.Container
	now := time.Now().UTC()
	var lastEmptiedAt any
	if lastEmptied {
		lastEmptiedAt = now
	}
	err := r.db.QueryRow(ctx, `
		UPDATE containers SET
			state = $2,
			state_changed_at = $3,
			last_emptied_at = COALESCE($4, last_emptied_at),
			updated_at = $3
		WHERE container_id = $1
		RETURNING `+containerColumns+`
	`, containerID, state, now, lastEmptiedAt).
		Scan(containerFields(&c)...)
	return c, err
}

// ListStaleFull returns active containers that have been full since before
// the cutoff.
func (r *ContainersRepo) ListStaleFull(ctx context.Context, cutoff time.Time, limit int) ([]models.Container, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+containerColumns+`
		FROM containers
		WHERE active AND state = 'full' AND state_changed_at < $1
		ORDER BY state_changed_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var containers []models.Container
	for rows.Next() {
		var c models.Container
		if err := rows.Scan(containerFields(&c)...); err != nil {
			return nil, err
		}
		containers = append(containers, c)
	}
	return containers, rows.Err()
}

type StateCount struct {
	CenterID uuid.UUID
	State    string
	Count    int
}

func (r *ContainersRepo) CountByState(ctx context.Context, centerID *uuid.UUID) ([]StateCount, error) {
	query := `
		SELECT center_id, state, COUNT(*)
		FROM containers
		WHERE active
	`
	args := []any{}
	if centerID != nil {
		args = append(args, *centerID)
		query += " AND center_id = $1"
	}
	query += " GROUP BY center_id, state"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []StateCount
	for rows.Next() {
		var c StateCount
		if err := rows.Scan(&c.CenterID, &c.State, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func containerFields(c *models.Container) []any {
	return []any{
		&c.ContainerID,
		&c.CenterID,
		&c.TypeID,
		&c.WasteID,
		&c.Label,
		&c.State,
		&c.Active,
		&c.StateChangedAt,
		&c.LastEmptiedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
}
