package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"waste-container-tracking-system/api/internal/models"
)

const statusEventColumns = `event_id, container_id, center_id, state, prev_state, source, confidence, comment, actor_user_id, occurred_at`

type StatusEventsRepo struct {
	db DBTX
}

func NewStatusEventsRepo(pool *pgxpool.Pool) *StatusEventsRepo {
	return &StatusEventsRepo{db: pool}
}

func (r *StatusEventsRepo) WithTx(tx pgx.Tx) *StatusEventsRepo {
	return &StatusEventsRepo{db: tx}
}

func (r *StatusEventsRepo) InsertStatusEvent(ctx context.Context, event models.StatusEvent) (models.StatusEvent, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	var out models.StatusEvent
	err := r.db.QueryRow(ctx, `
		INSERT INTO status_events (container_id, center_id, state, prev_state, source, confidence, comment, actor_user_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+statusEventColumns+`
	`,
		event.ContainerID,
		event.CenterID,
		event.State,
		nullIfEmpty(event.PrevState),
		event.Source,
		event.Confidence,
		nullIfEmpty(event.Comment),
		event.ActorUserID,
		event.OccurredAt,
	).Scan(statusEventFields(&out)...)
	return out, err
}

// EventQuery narrows a container history read. From and To bound
// occurred_at inclusively when set.
type EventQuery struct {
	Limit  int
	Offset int
	From   *time.Time
	To     *time.Time
}

func (r *StatusEventsRepo) ListByContainer(ctx context.Context, containerID uuid.UUID, q EventQuery) ([]models.StatusEvent, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+statusEventColumns+`
		FROM status_events
		WHERE container_id = $1
		  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		  AND ($3::timestamptz IS NULL OR occurred_at <= $3)
		ORDER BY occurred_at DESC
		LIMIT $4 OFFSET $5
	`, containerID, q.From, q.To, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectStatusEvents(rows)
}

func (r *StatusEventsRepo) ListByCenterSince(ctx context.Context, centerID uuid.UUID, since time.Time, limit int) ([]models.StatusEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+statusEventColumns+`
		FROM status_events
		WHERE center_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at
		LIMIT $3
	`, centerID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectStatusEvents(rows)
}

func (r *StatusEventsRepo) CountByCenterSince(ctx context.Context, centerID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM status_events
		WHERE center_id = $1 AND occurred_at >= $2
	`, centerID, since).Scan(&n)
	return n, err
}

func collectStatusEvents(rows pgx.Rows) ([]models.StatusEvent, error) {
	var events []models.StatusEvent
	for rows.Next() {
		var e models.StatusEvent
		if err := rows.Scan(statusEventFields(&e)...); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func statusEventFields(e *models.StatusEvent) []any {
	return []any{
		&e.EventID,
		&e.ContainerID,
		&e.CenterID,
		&e.State,
		&scanNullString{&e.PrevState},
		&e.Source,
		&e.Confidence,
		&scanNullString{&e.Comment},
		&e.ActorUserID,
		&e.OccurredAt,
	}
}

// scanNullString maps SQL NULL to the empty string.
type scanNullString struct {
	dest *string
}

func (s *scanNullString) Scan(src any) error {
	if src == nil {
		*s.dest = ""
		return nil
	}
	switch v := src.(type) {
	case string:
		*s.dest = v
	case []byte:
		*s.dest = string(v)
	}
	return nil
}
