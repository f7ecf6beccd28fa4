package authx

import (
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	verifier, err := NewTokenVerifier("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	pair, err := issuer.Issue("u-1", RoleAgent, "agent@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", pair)
	}

	auth, err := verifier.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if auth.UserID != "u-1" || auth.Role != RoleAgent || auth.Email != "agent@example.com" {
		t.Fatalf("unexpected auth context %+v", auth)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	issuer, _ := NewTokenIssuer("secret-a", time.Hour, 24*time.Hour)
	verifier, _ := NewTokenVerifier("secret-b", 0)

	pair, err := issuer.Issue("u-1", RoleUser, "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(pair.AccessToken); err == nil {
		t.Fatal("expected verification to fail with wrong secret")
	}
}

func TestVerifyExpired(t *testing.T) {
	issuer, _ := NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	verifier, _ := NewTokenVerifier("test-secret", 0)

	pair, err := issuer.Issue("u-1", RoleUser, "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(pair.AccessToken); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestRefreshTokenNotUsableAsAccess(t *testing.T) {
	issuer, _ := NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	verifier, _ := NewTokenVerifier("test-secret", 0)

	pair, err := issuer.Issue("u-1", RoleManager, "m@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(pair.RefreshToken); err == nil {
		t.Fatal("expected refresh token to be rejected on access verify")
	}

	userID, tokenID, err := verifier.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if userID != "u-1" {
		t.Fatalf("expected user u-1, got %q", userID)
	}
	if tokenID == "" {
		t.Fatal("expected a token id on refresh tokens")
	}

	if _, _, err := verifier.VerifyRefresh(pair.AccessToken); err == nil {
		t.Fatal("expected access token to be rejected on refresh verify")
	}
}

func TestRoleOrdering(t *testing.T) {
	cases := []struct {
		role Role
		min  Role
		want bool
	}{
		{RoleVisitor, RoleUser, false},
		{RoleUser, RoleUser, true},
		{RoleAgent, RoleUser, true},
		{RoleAgent, RoleManager, false},
		{RoleManager, RoleAgent, true},
		{RoleSuperadmin, RoleManager, true},
	}
	for _, tc := range cases {
		if got := tc.role.AtLeast(tc.min); got != tc.want {
			t.Fatalf("%s.AtLeast(%s) = %v, want %v", tc.role, tc.min, got, tc.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	if role, ok := ParseRole(" Manager "); !ok || role != RoleManager {
		t.Fatalf("expected manager, got %q ok=%v", role, ok)
	}
	if _, ok := ParseRole("root"); ok {
		t.Fatal("expected unknown role to be rejected")
	}
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	issuer, _ := NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	if _, err := issuer.Issue("u-1", Role("root"), ""); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}
