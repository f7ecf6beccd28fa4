package middleware

import (
	"net/http"
	"strings"

	"waste-container-tracking-system/shared/authx"
	"waste-container-tracking-system/shared/httpx"
)

type AuthMiddleware struct {
	Verifier *authx.TokenVerifier
	// OIDC optionally accepts provider-issued tokens when the local
	// verifier rejects them.
	OIDC *authx.OIDCVerifier
	Skip func(*http.Request) bool
}

func (m AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		if m.Verifier == nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "auth verifier not configured", nil)
			return
		}

		token := bearerToken(r)
		if token == "" {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token", nil)
			return
		}

		auth, err := m.Verifier.Verify(token)
		if err != nil && m.OIDC != nil {
			auth, err = m.OIDC.Verify(r.Context(), token)
		}
		if err != nil {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token", nil)
			return
		}

		ctx := authx.WithAuth(r.Context(), auth)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter because browser websocket clients cannot set headers.
func bearerToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[len("bearer "):])
	}
	if r.URL.Path == "/ws" || strings.HasPrefix(r.URL.Path, "/ws/") {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}
