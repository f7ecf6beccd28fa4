package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"waste-container-tracking-system/api/internal/models"
)

const centerColumns = `center_id, name, address, city, latitude, longitude, public, created_at, updated_at`

type CentersRepo struct {
	db DBTX
}

func NewCentersRepo(pool *pgxpool.Pool) *CentersRepo {
	return &CentersRepo{db: pool}
}

func (r *CentersRepo) CreateCenter(ctx context.Context, name string, address string, city string, lat *float64, lng *float64, public bool) (models.Center, error) {
	var c models.Center
	now := time.Now().UTC()
	err := r.db.QueryRow(ctx, `
		INSERT INTO centers (name, address, city, latitude, longitude, public, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+centerColumns+`
	`, name, nullIfEmpty(address), nullIfEmpty(city), lat, lng, public, now).
		Scan(centerFields(&c)...)
	return c, err
}

func (r *CentersRepo) UpdateCenter(ctx context.Context, centerID uuid.UUID, name string, address string, city string, lat *float64, lng *float64, public bool) (models.Center, error) {
	var c models.Center
	err := r.db.QueryRow(ctx, `
		UPDATE centers SET
			name = $2,
			address = $3,
			city = $4,
			latitude = $5,
			longitude = $6,
			public = $7,
			updated_at = $8
		WHERE center_id = $1
		RETURNING `+centerColumns+`
	`, centerID, name, nullIfEmpty(address), nullIfEmpty(city), lat, lng, public, time.Now().UTC()).
		Scan(centerFields(&c)...)
	return c, err
}

func (r *CentersRepo) GetCenterByID(ctx context.Context, centerID uuid.UUID) (models.Center, error) {
	var c models.Center
	err := r.db.QueryRow(ctx, `
		SELECT `+centerColumns+`
		FROM centers
		WHERE center_id = $1
	`, centerID).
		Scan(centerFields(&c)...)
	return c, err
}

func (r *CentersRepo) ListCenters(ctx context.Context, publicOnly bool, limit int, offset int) ([]models.Center, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+centerColumns+`
		FROM centers
		WHERE NOT $1::boolean OR public
		ORDER BY name
		LIMIT $2 OFFSET $3
	`, publicOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var centers []models.Center
	for rows.Next() {
		var c models.Center
		if err := rows.Scan(centerFields(&c)...); err != nil {
			return nil, err
		}
		centers = append(centers, c)
	}
	return centers, rows.Err()
}

func centerFields(c *models.Center) []any {
	return []any{
		&c.CenterID,
		&c.Name,
		&scanNullString{&c.Address},
		&scanNullString{&c.City},
		&c.Latitude,
		&c.Longitude,
		&c.Public,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
}
