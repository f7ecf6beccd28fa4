package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"waste-container-tracking-system/api/internal/models"
	"waste-container-tracking-system/api/internal/repos"
	"waste-container-tracking-system/shared/authx"
	"waste-container-tracking-system/shared/httpx"
	"waste-container-tracking-system/shared/logx"
	"waste-container-tracking-system/shared/metricsx"
)

type userStore interface {
	CreateUser(ctx context.Context, email string, passwordHash string, displayName string, role string, centerID *uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	TouchLastLogin(ctx context.Context, userID uuid.UUID) error
	UpdateProfile(ctx context.Context, userID uuid.UUID, displayName string) (models.User, error)
	UpdateRole(ctx context.Context, userID uuid.UUID, role string, centerID *uuid.UUID) (models.User, error)
}

type auditWriter interface {
	WriteAuditLog(ctx context.Context, entries []models.AuditLog) error
}

// AuthHandler serves registration, login, token refresh and profile routes.
type AuthHandler struct {
	Users    userStore
	Issuer   *authx.TokenIssuer
	Verifier *authx.TokenVerifier
	Audit    auditWriter
	Logger   logx.Logger
}

type userResponse struct {
	UserID      string  `json:"user_id"`
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	Role        string  `json:"role"`
	CenterID    *string `json:"center_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
	LastLoginAt *string `json:"last_login_at,omitempty"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  string `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt string `json:"refresh_expires_at"`
}

func toUserResponse(u models.User) userResponse {
	resp := userResponse{
		UserID:      u.UserID.String(),
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
	}
	if u.CenterID != nil {
		id := u.CenterID.String()
		resp.CenterID = &id
	}
	if u.LastLoginAt != nil {
		t := u.LastLoginAt.UTC().Format(time.RFC3339)
		resp.LastLoginAt = &t
	}
	return resp
}

func toTokenResponse(pair authx.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt.UTC().Format(time.RFC3339),
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt.UTC().Format(time.RFC3339),
	}
}

func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/v1/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /api/v1/auth/logout", h.handleLogout)
	mux.HandleFunc("GET /api/v1/me", h.handleGetProfile)
	mux.HandleFunc("PUT /api/v1/me", h.handleUpdateProfile)
	mux.HandleFunc("PUT /api/v1/users/{id}/role", h.handleUpdateRole)
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !strings.Contains(req.Email, "@") {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "a valid email is required", nil)
		return
	}
	if len(req.Password) < 8 {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "password must be at least 8 characters", nil)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}
	user, err := h.Users.CreateUser(r.Context(), req.Email, string(hash), strings.TrimSpace(req.DisplayName), string(authx.RoleUser), nil)
	if err != nil {
		// Unique violation on email lands here as well; do not leak which.
		httpx.WriteError(w, r, http.StatusConflict, "CONFLICT", "could not create account", nil)
		return
	}
	pair, err := h.Issuer.Issue(user.UserID.String(), authx.Role(user.Role), user.Email)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}
	h.writeAudit(r, user, repos.AuditUserRegistered)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"user":   toUserResponse(user),
		"tokens": toTokenResponse(pair),
	})
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := h.Users.GetUserByEmail(r.Context(), email)
	if err != nil {
		metricsx.IncAuthFailure("unknown_user")
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid credentials", nil)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		metricsx.IncAuthFailure("bad_password")
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid credentials", nil)
		return
	}
	if !user.Active {
		httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "account is disabled", nil)
		return
	}
	pair, err := h.Issuer.Issue(user.UserID.String(), authx.Role(user.Role), user.Email)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}
	if err := h.Users.TouchLastLogin(r.Context(), user.UserID); err != nil {
		h.Logger.Warn(r.Context(), "last_login_update_failed", "failed to record last login",
			slog.String("user_id", user.UserID.String()),
			slog.String("error", err.Error()),
		)
	}
	h.writeAudit(r, user, repos.AuditUserLoggedIn)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"user":   toUserResponse(user),
		"tokens": toTokenResponse(pair),
	})
}

func (h *AuthHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	userID, _, err := h.Verifier.VerifyRefresh(req.RefreshToken)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid refresh token", nil)
		return
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid refresh token", nil)
		return
	}
	user, err := h.Users.GetUserByID(r.Context(), id)
	if err != nil || !user.Active {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid refresh token", nil)
		return
	}
	pair, err := h.Issuer.Issue(user.UserID.String(), authx.Role(user.Role), user.Email)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tokens": toTokenResponse(pair)})
}

// Tokens are stateless, so logout only records the event. Clients discard
// their token pair; a revocation list is deliberately not kept.
func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireRole(w, r, authx.RoleUser)
	if !ok {
		return
	}
	asyncAudit(h.Logger, h.Audit, r, auth, repos.AuditUserLoggedOut, "user", auth.UserID)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (h *AuthHandler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireRole(w, r, authx.RoleUser)
	if !ok {
		return
	}
	id, err := uuid.Parse(auth.UserID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid subject", nil)
		return
	}
	user, err := h.Users.GetUserByID(r.Context(), id)
	if err != nil {
		writeRepoError(w, r, err, "user not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *AuthHandler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireRole(w, r, authx.RoleUser)
	if !ok {
		return
	}
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "display_name is required", nil)
		return
	}
	id, err := uuid.Parse(auth.UserID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid subject", nil)
		return
	}
	user, err := h.Users.UpdateProfile(r.Context(), id, req.DisplayName)
	if err != nil {
		writeRepoError(w, r, err, "user not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *AuthHandler) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, authx.RoleSuperadmin)
	if !ok {
		return
	}
	userID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Role     string  `json:"role"`
		CenterID *string `json:"center_id"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	role, valid := authx.ParseRole(req.Role)
	if !valid {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown role", nil)
		return
	}
	var centerID *uuid.UUID
	if req.CenterID != nil {
		id, err := uuid.Parse(*req.CenterID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid center_id", nil)
			return
		}
		centerID = &id
	}
	if role == authx.RoleManager && centerID == nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "managers must be assigned a center", nil)
		return
	}
	user, err := h.Users.UpdateRole(r.Context(), userID, string(role), centerID)
	if err != nil {
		writeRepoError(w, r, err, "user not found")
		return
	}
	h.writeAuditAs(r, actor, user.UserID, repos.AuditUserRoleChanged)
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

// writeAudit records an account action attributed to the account itself.
func (h *AuthHandler) writeAudit(r *http.Request, user models.User, action string) {
	actor := authx.AuthContext{UserID: user.UserID.String(), Email: user.Email}
	asyncAudit(h.Logger, h.Audit, r, actor, action, "user", user.UserID.String())
}

func (h *AuthHandler) writeAuditAs(r *http.Request, actor authx.AuthContext, subject uuid.UUID, action string) {
	asyncAudit(h.Logger, h.Audit, r, actor, action, "user", subject.String())
}
