package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tag-server/internal/store"
)

func newTestAuth(t *testing.T, st store.Store) *Auth {
	t.Helper()
	a, err := New(context.Background(), st, Options{TokenTTL: time.Hour, HashCost: bcrypt.MinCost}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, store.NewMemory())

	token, err := a.Register(ctx, "alice", "secret")
	if err != nil {
		t.Fatal(err)
	}
	user, err := a.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if user != "alice" {
		t.Errorf("expected alice, got %s", user)
	}

	if _, err := a.Login(ctx, "alice", "secret", "1.1.1.1"); err != nil {
		t.Errorf("expected login to succeed, got %v", err)
	}
	if _, err := a.Login(ctx, "alice", "wrong", "1.1.1.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := a.Login(ctx, "nobody", "secret", "1.1.1.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, store.NewMemory())

	cases := []struct {
		name, user, pass string
	}{
		{"short username", "a", "secret"},
		{"long username", "abcdefghijklmnopq", "secret"},
		{"path in username", "../etc", "secret"},
		{"short password", "bob", "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.Register(ctx, tc.user, tc.pass); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if _, err := a.Register(ctx, "bob", "secret"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Register(ctx, "bob", "secret"); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestLoginRateLimit(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, store.NewMemory())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	for i := 0; i < maxLoginAttempts; i++ {
		if _, err := a.Login(ctx, "x", "y", "9.9.9.9"); errors.Is(err, ErrRateLimited) {
			t.Fatalf("attempt %d rate limited too early", i+1)
		}
	}
	if _, err := a.Login(ctx, "x", "y", "9.9.9.9"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	// other addresses are unaffected
	if _, err := a.Login(ctx, "x", "y", "8.8.8.8"); errors.Is(err, ErrRateLimited) {
		t.Error("unrelated IP was rate limited")
	}

	now = now.Add(loginRateWindow + time.Second)
	if _, err := a.Login(ctx, "x", "y", "9.9.9.9"); errors.Is(err, ErrRateLimited) {
		t.Error("expected window to reset")
	}
}

func TestTokenExpiry(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, store.NewMemory())
	now := time.Now()
	a.now = func() time.Time { return now }

	token, err := a.Register(ctx, "carol", "secret")
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := a.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}
}

func TestTokenFromOtherSecretRejected(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, store.NewMemory())
	b := newTestAuth(t, store.NewMemory())

	token, err := b.Register(ctx, "dave", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.ValidateToken(token); err == nil {
		t.Error("token signed with another secret was accepted")
	}
	if _, err := a.ValidateToken("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSecretPersisted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	a := newTestAuth(t, st)
	token, err := a.Register(ctx, "erin", "secret")
	if err != nil {
		t.Fatal(err)
	}

	// a restarted server reads the same secret back
	b := newTestAuth(t, st)
	if user, err := b.ValidateToken(token); err != nil || user != "erin" {
		t.Errorf("expected erin, got %q (%v)", user, err)
	}
}

func TestAuthenticateRequest(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, store.NewMemory())
	token, _ := a.Register(ctx, "frank", "secret")

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if _, err := a.Authenticate(r); !errors.Is(err, ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}

	r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	if user, err := a.Authenticate(r); err != nil || user != "frank" {
		t.Errorf("cookie auth: expected frank, got %q (%v)", user, err)
	}

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	if user, err := a.Authenticate(r); err != nil || user != "frank" {
		t.Errorf("bearer auth: expected frank, got %q (%v)", user, err)
	}
}

func TestSetCookie(t *testing.T) {
	a := newTestAuth(t, store.NewMemory())
	rec := httptest.NewRecorder()
	a.SetCookie(rec, "tok")
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != CookieName || c.Value != "tok" || !c.HttpOnly {
		t.Errorf("unexpected cookie %+v", c)
	}
}
