package authx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKID   = errors.New("unknown kid")
)

// Role is ordered: each role includes the permissions of the ones below it.
type Role string

const (
	RoleVisitor    Role = "visitor"
	RoleUser       Role = "user"
	RoleAgent      Role = "agent"
	RoleManager    Role = "manager"
	RoleSuperadmin Role = "superadmin"
)

var roleRank = map[Role]int{
	RoleVisitor:    0,
	RoleUser:       1,
	RoleAgent:      2,
	RoleManager:    3,
	RoleSuperadmin: 4,
}

func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := roleRank[role]
	return role, ok
}

func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

type AuthContext struct {
	UserID string
	Email  string
	Role   Role
}

type contextKey struct{}

func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, auth)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	if v := ctx.Value(contextKey{}); v != nil {
		if a, ok := v.(AuthContext); ok {
			return a, true
		}
	}
	return AuthContext{}, false
}

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenIssuer signs HS256 access and refresh tokens for local accounts.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(secret string, accessTTL time.Duration, refreshTTL time.Duration) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

func (i *TokenIssuer) Issue(userID string, role Role, email string) (TokenPair, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TokenPair{}, errors.New("user id is required")
	}
	if !role.Valid() {
		return TokenPair{}, fmt.Errorf("unknown role %q", role)
	}

	now := i.now()
	accessExp := now.Add(i.accessTTL)
	refreshExp := now.Add(i.refreshTTL)

	access, err := i.sign(jwt.MapClaims{
		"userId": userID,
		"role":   string(role),
		"email":  email,
		"typ":    tokenTypeAccess,
		"jti":    uuid.NewString(),
		"iat":    now.Unix(),
		"nbf":    now.Unix(),
		"exp":    accessExp.Unix(),
	})
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := i.sign(jwt.MapClaims{
		"userId": userID,
		"role":   string(role),
		"typ":    tokenTypeRefresh,
		"jti":    uuid.NewString(),
		"iat":    now.Unix(),
		"nbf":    now.Unix(),
		"exp":    refreshExp.Unix(),
	})
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *TokenIssuer) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// TokenVerifier validates HS256 tokens issued by TokenIssuer.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewTokenVerifier(secret string, clockSkew time.Duration) (*TokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if clockSkew < 0 {
		clockSkew = 0
	}
	return &TokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithLeeway(clockSkew),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

func (v *TokenVerifier) Verify(rawToken string) (AuthContext, error) {
	claims, err := v.parse(rawToken, tokenTypeAccess)
	if err != nil {
		return AuthContext{}, err
	}

	userID := strings.TrimSpace(fmt.Sprint(claims["userId"]))
	if userID == "" {
		return AuthContext{}, ErrInvalidToken
	}
	role, ok := ParseRole(fmt.Sprint(claims["role"]))
	if !ok {
		return AuthContext{}, ErrInvalidToken
	}

	email := ""
	if v, ok := claims["email"].(string); ok {
		email = strings.TrimSpace(v)
	}

	return AuthContext{
		UserID: userID,
		Email:  email,
		Role:   role,
	}, nil
}

// VerifyRefresh validates a refresh token and returns the subject user id
// and the token id, used to detect revoked sessions.
func (v *TokenVerifier) VerifyRefresh(rawToken string) (userID string, tokenID string, err error) {
	claims, err := v.parse(rawToken, tokenTypeRefresh)
	if err != nil {
		return "", "", err
	}

	userID = strings.TrimSpace(fmt.Sprint(claims["userId"]))
	if userID == "" {
		return "", "", ErrInvalidToken
	}
	tokenID, _ = claims["jti"].(string)
	return userID, strings.TrimSpace(tokenID), nil
}

func (v *TokenVerifier) parse(rawToken string, wantType string) (jwt.MapClaims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	if typ, _ := claims["typ"].(string); typ != wantType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
