// Package auth is the authentication collaborator: bcrypt accounts and
// HS256 session tokens carried in the auth_token cookie.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tag-server/internal/store"
)

const (
	// CookieName carries the session token on the websocket handshake
	CookieName = "auth_token"

	bcryptCost       = 12
	minPasswordLen   = 4
	minUsernameLen   = 2
	maxUsernameLen   = 16
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
	secretSettingKey = "jwt_secret"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrRateLimited        = errors.New("too many login attempts, try again later")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNoCredential       = errors.New("no credential")
	ErrInvalidInput       = errors.New("invalid input")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Options tune token lifetime and hashing
type Options struct {
	// Secret signs tokens. Empty means load or create one in the settings table.
	Secret   string
	TokenTTL time.Duration
	// HashCost defaults to 12
	HashCost int
}

// Claims is the token payload
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Auth handles authentication
type Auth struct {
	store     store.Store
	jwtSecret []byte
	ttl       time.Duration
	cost      int
	log       *zap.SugaredLogger
	now       func() time.Time

	// Rate limiting for login attempts (IP -> attempts)
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// New creates a new Auth handler
func New(ctx context.Context, st store.Store, opts Options, log *zap.SugaredLogger) (*Auth, error) {
	secret := []byte(opts.Secret)
	if len(secret) == 0 {
		var err error
		secret, err = loadOrCreateSecret(ctx, st, log)
		if err != nil {
			return nil, err
		}
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcryptCost
	}
	return &Auth{
		store:     st,
		jwtSecret: secret,
		ttl:       opts.TokenTTL,
		cost:      opts.HashCost,
		log:       log,
		now:       time.Now,
		rateMap:   make(map[string]*rateEntry),
	}, nil
}

// loadOrCreateSecret loads the JWT secret from the settings table, or
// generates and persists a new one if none exists.
func loadOrCreateSecret(ctx context.Context, st store.Store, log *zap.SugaredLogger) ([]byte, error) {
	h, err := st.GetSetting(ctx, secretSettingKey)
	if err == nil {
		if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
			return b, nil
		}
		log.Warn("stored JWT secret is malformed, generating a new one")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load JWT secret: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate JWT secret: %w", err)
	}
	if err := st.SetSetting(ctx, secretSettingKey, hex.EncodeToString(secret)); err != nil {
		log.Warnw("could not persist JWT secret", "error", err)
	}
	return secret, nil
}

// ValidateUsername applies the account naming rules
func ValidateUsername(username string) error {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidInput, minUsernameLen, maxUsernameLen)
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username may only contain letters, digits, '_' and '-'", ErrInvalidInput)
	}
	return nil
}

// Register creates a new account and returns a session token
func (a *Auth) Register(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if err := ValidateUsername(username); err != nil {
		return "", err
	}
	if len(password) < minPasswordLen {
		return "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	if err := a.store.CreateUser(ctx, username, string(hash)); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return "", ErrUsernameTaken
		}
		return "", fmt.Errorf("create account: %w", err)
	}
	a.log.Infow("account registered", "username", username)

	return a.generateToken(username)
}

// Login authenticates a user and returns a session token
func (a *Auth) Login(ctx context.Context, username, password, ip string) (string, error) {
	if !a.checkRate(ip) {
		return "", ErrRateLimited
	}

	user, err := a.store.GetUser(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("load account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PassHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return a.generateToken(user.Username)
}

// ValidateToken validates a token and returns the account it names
func (a *Auth) ValidateToken(tokenStr string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.jwtSecret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Username == "" {
		return "", ErrInvalidToken
	}
	return claims.Username, nil
}

// Authenticate resolves the account behind a request: the auth_token cookie,
// or an Authorization: Bearer header for non-browser clients.
func (a *Auth) Authenticate(r *http.Request) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return a.ValidateToken(c.Value)
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return a.ValidateToken(strings.TrimPrefix(h, "Bearer "))
	}
	return "", ErrNoCredential
}

// SetCookie stores token in the browser session cookie
func (a *Auth) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.ttl / time.Second),
	})
}

// ClearCookie expires the session cookie
func (a *Auth) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (a *Auth) generateToken(username string) (string, error) {
	now := a.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func (a *Auth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := a.now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxLoginAttempts
}
