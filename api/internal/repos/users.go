package repos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"waste-container-tracking-system/api/internal/models"
)

const userColumns = `user_id, email, password_hash, display_name, role, active, center_id, created_at, last_login_at`

type UsersRepo struct {
	db DBTX
}

func NewUsersRepo(pool *pgxpool.Pool) *UsersRepo {
	return &UsersRepo{db: pool}
}

func (r *UsersRepo) CreateUser(ctx context.Context, email string, passwordHash string, displayName string, role string, centerID *uuid.UUID) (models.User, error) {
	var u models.User
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, display_name, role, active, center_id, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6)
		RETURNING `+userColumns+`
	`, strings.ToLower(strings.TrimSpace(email)), passwordHash, nullIfEmpty(displayName), role, centerID, time.Now().UTC()).
		Scan(userFields(&u)...)
	return u, err
}

func (r *UsersRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).
		Scan(userFields(&u)...)
	return u, err
}

func (r *UsersRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	var u models.User
	err := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE user_id = $1
	`, userID).
		Scan(userFields(&u)...)
	return u, err
}

func (r *UsersRepo) TouchLastLogin(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET last_login_at = $2 WHERE user_id = $1
	`, userID, time.Now().UTC())
	return err
}

func (r *UsersRepo) UpdateProfile(ctx context.Context, userID uuid.UUID, displayName string) (models.User, error) {
	var u models.User
	err := r.db.QueryRow(ctx, `
		UPDATE users SET display_name = $2 WHERE user_id = $1
		RETURNING `+userColumns+`
	`, userID, nullIfEmpty(displayName)).
		Scan(userFields(&u)...)
	return u, err
}

func (r *UsersRepo) UpdateRole(ctx context.Context, userID uuid.UUID, role string, centerID *uuid.UUID) (models.User, error) {
	var u models.User
	err := r.db.QueryRow(ctx, `
		UPDATE users SET role = $2, center_id = $3 WHERE user_id = $1
		RETURNING `+userColumns+`
	`, userID, role, centerID).
		Scan(userFields(&u)...)
	return u, err
}

func userFields(u *models.User) []any {
	return []any{
		&u.UserID,
		&u.Email,
		&u.PasswordHash,
		&scanNullString{&u.DisplayName},
		&u.Role,
		&u.Active,
		&u.CenterID,
		&u.CreatedAt,
		&u.LastLoginAt,
	}
}
