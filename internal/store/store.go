// Package store is the persistence collaborator: accounts, session bindings,
// per-account progress counters and achievement unlocks.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a user, setting or session binding is absent.
	ErrNotFound = errors.New("not found")
	// ErrUserExists is returned by CreateUser for a taken username.
	ErrUserExists = errors.New("username already taken")
)

// User is an account row
type User struct {
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// Stats is the persisted progress of one account
type Stats struct {
	Username   string  `json:"username"`
	TagCount   int     `json:"tag_count"`
	ItSeconds  float64 `json:"it_seconds"`
	BestStreak float64 `json:"best_streak"`
}

// LeaderboardEntry represents one row in the leaderboard
type LeaderboardEntry struct {
	Rank int `json:"rank"`
	Stats
}

// Leaderboard orderings accepted by GetLeaderboard
const (
	OrderTime   = "time"
	OrderTags   = "tags"
	OrderStreak = "streak"
)

// Store is implemented by the SQLite, Postgres and in-memory backends.
//
// Increments carry an event id; a repeated id is applied once, so callers can
// retry a write whose outcome is unknown.
type Store interface {
	CreateUser(ctx context.Context, username, passHash string) error
	GetUser(ctx context.Context, username string) (*User, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	BindSocket(ctx context.Context, account, connID string) error
	// LookupSocket returns ErrNotFound when the account has no binding.
	LookupSocket(ctx context.Context, account string) (string, error)
	// ClearSocket removes the binding only if it still points at connID.
	ClearSocket(ctx context.Context, account, connID string) error

	IncrementTagCount(ctx context.Context, eventID, account string, n int) error
	// IncrementItTime returns the cumulative it-seconds after the increment.
	IncrementItTime(ctx context.Context, eventID, account string, seconds float64) (float64, error)
	// UnlockAchievement reports whether this call performed the unlock. An
	// existing unlock keeps its original timestamp.
	UnlockAchievement(ctx context.Context, account, key string, at time.Time) (bool, error)
	// UpdateBestStreak replaces the stored best only with a strictly larger value.
	UpdateBestStreak(ctx context.Context, account string, seconds float64) error
	GetAchievements(ctx context.Context, account string) (map[string]time.Time, error)

	GetStats(ctx context.Context, account string) (*Stats, error)
	GetLeaderboard(ctx context.Context, orderBy string, limit int) ([]LeaderboardEntry, error)

	Close() error
}

// Leaderboard limits
const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// ClampLimit keeps a requested leaderboard size within bounds
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		return MaxLeaderboardLimit
	}
	return limit
}

// Open returns the backend named by driver: "sqlite", "postgres" or "memory"
func Open(ctx context.Context, driver, path, dsn string, log *zap.SugaredLogger) (Store, error) {
	switch driver {
	case "sqlite":
		db, err := OpenSQLite(path, log)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		db, err := OpenPostgres(ctx, dsn, log)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}
}
