package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"waste-container-tracking-system/api/internal/models"
)

// CatalogRepo covers the small lookup tables: container types and waste
// categories.
type CatalogRepo struct {
	db DBTX
}

func NewCatalogRepo(pool *pgxpool.Pool) *CatalogRepo {
	return &CatalogRepo{db: pool}
}

func (r *CatalogRepo) CreateContainerType(ctx context.Context, name string, description string, color string) (models.ContainerType, error) {
	var t models.ContainerType
	err := r.db.QueryRow(ctx, `
		INSERT INTO container_types (name, description, color, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING type_id, name, description, color, created_at
	`, name, nullIfEmpty(description), nullIfEmpty(color), time.Now().UTC()).
		Scan(&t.TypeID, &t.Name, &scanNullString{&t.Description}, &scanNullString{&t.Color}, &t.CreatedAt)
	return t, err
}

func (r *CatalogRepo) GetContainerTypeByID(ctx context.Context, typeID uuid.UUID) (models.ContainerType, error) {
	var t models.ContainerType
	err := r.db.QueryRow(ctx, `
		SELECT type_id, name, description, color, created_at
		FROM container_types
		WHERE type_id = $1
	`, typeID).
		Scan(&t.TypeID, &t.Name, &scanNullString{&t.Description}, &scanNullString{&t.Color}, &t.CreatedAt)
	return t, err
}

func (r *CatalogRepo) ListContainerTypes(ctx context.Context) ([]models.ContainerType, error) {
	rows, err := r.db.Query(ctx, `
		SELECT type_id, name, description, color, created_at
		FROM container_types
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []models.ContainerType
	for rows.Next() {
		var t models.ContainerType
		if err := rows.Scan(&t.TypeID, &t.Name, &scanNullString{&t.Description}, &scanNullString{&t.Color}, &t.CreatedAt); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (r *CatalogRepo) CreateWaste(ctx context.Context, name string, category string) (models.Waste, error) {
	var w models.Waste
	err := r.db.QueryRow(ctx, `
		INSERT INTO wastes (name, category, created_at)
		VALUES ($1, $2, $3)
		RETURNING waste_id, name, category, created_at
	`, name, nullIfEmpty(category), time.Now().UTC()).
		Scan(&w.WasteID, &w.Name, &scanNullString{&w.Category}, &w.CreatedAt)
	return w, err
}

func (r *CatalogRepo) GetWasteByID(ctx context.Context, wasteID uuid.UUID) (models.Waste, error) {
	var w models.Waste
	err := r.db.QueryRow(ctx, `
		SELECT waste_id, name, category, created_at
		FROM wastes
		WHERE waste_id = $1
	`, wasteID).
		Scan(&w.WasteID, &w.Name, &scanNullString{&w.Category}, &w.CreatedAt)
	return w, err
}

func (r *CatalogRepo) ListWastes(ctx context.Context) ([]models.Waste, error) {
	rows, err := r.db.Query(ctx, `
		SELECT waste_id, name, category, created_at
		FROM wastes
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wastes []models.Waste
	for rows.Next() {
		var w models.Waste
		if err := rows.Scan(&w.WasteID, &w.Name, &scanNullString{&w.Category}, &w.CreatedAt); err != nil {
			return nil, err
		}
		wastes = append(wastes, w)
	}
	return wastes, rows.Err()
}
