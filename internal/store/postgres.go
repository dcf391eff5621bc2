package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres is the Store used when several servers share one database
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// OpenPostgres connects to dsn and creates the schema
func OpenPostgres(ctx context.Context, dsn string, log *zap.SugaredLogger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db := &Postgres{pool: pool, log: log}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

func (db *Postgres) Close() error {
	db.pool.Close()
	return nil
}

func (db *Postgres) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		pass_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		username TEXT PRIMARY KEY,
		conn_id TEXT NOT NULL,
		bound_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS stats (
		username TEXT PRIMARY KEY,
		tag_count INTEGER NOT NULL DEFAULT 0,
		it_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		best_streak DOUBLE PRECISION NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS achievements (
		username TEXT NOT NULL,
		key TEXT NOT NULL,
		unlocked_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (username, key)
	);

	CREATE TABLE IF NOT EXISTS applied_events (
		event_id TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_stats_it_seconds ON stats(it_seconds);
	`
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		db.log.Errorw("DB migration error", "error", err)
		return err
	}
	return nil
}

func (db *Postgres) CreateUser(ctx context.Context, username, passHash string) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"INSERT INTO users (username, pass_hash) VALUES ($1, $2) ON CONFLICT (username) DO NOTHING",
			username, passHash,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUserExists
		}
		_, err = tx.Exec(ctx,
			"INSERT INTO stats (username) VALUES ($1) ON CONFLICT (username) DO NOTHING", username,
		)
		return err
	})
}

func (db *Postgres) GetUser(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := db.pool.QueryRow(ctx,
		"SELECT username, pass_hash, created_at FROM users WHERE username = $1", username,
	).Scan(&u.Username, &u.PassHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (db *Postgres) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := db.pool.QueryRow(ctx, "SELECT value FROM settings WHERE key = $1", key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (db *Postgres) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.pool.Exec(ctx,
		"INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

func (db *Postgres) BindSocket(ctx context.Context, account, connID string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO sessions (username, conn_id, bound_at) VALUES ($1, $2, now())
		 ON CONFLICT (username) DO UPDATE SET conn_id = excluded.conn_id, bound_at = excluded.bound_at`,
		account, connID,
	)
	return err
}

func (db *Postgres) LookupSocket(ctx context.Context, account string) (string, error) {
	var connID string
	err := db.pool.QueryRow(ctx, "SELECT conn_id FROM sessions WHERE username = $1", account).Scan(&connID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return connID, err
}

func (db *Postgres) ClearSocket(ctx context.Context, account, connID string) error {
	_, err := db.pool.Exec(ctx, "DELETE FROM sessions WHERE username = $1 AND conn_id = $2", account, connID)
	return err
}

func claimEventPG(ctx context.Context, tx pgx.Tx, eventID string) (bool, error) {
	tag, err := tx.Exec(ctx,
		"INSERT INTO applied_events (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING", eventID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (db *Postgres) IncrementTagCount(ctx context.Context, eventID, account string, n int) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		fresh, err := claimEventPG(ctx, tx, eventID)
		if err != nil || !fresh {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO stats (username, tag_count) VALUES ($1, $2)
			 ON CONFLICT (username) DO UPDATE SET tag_count = stats.tag_count + excluded.tag_count`,
			account, n,
		)
		return err
	})
}

func (db *Postgres) IncrementItTime(ctx context.Context, eventID, account string, seconds float64) (float64, error) {
	var total float64
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		fresh, err := claimEventPG(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if fresh {
			if _, err := tx.Exec(ctx,
				`INSERT INTO stats (username, it_seconds) VALUES ($1, $2)
				 ON CONFLICT (username) DO UPDATE SET it_seconds = stats.it_seconds + excluded.it_seconds`,
				account, seconds,
			); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx, "SELECT it_seconds FROM stats WHERE username = $1", account).Scan(&total)
	})
	return total, err
}

func (db *Postgres) UnlockAchievement(ctx context.Context, account, key string, at time.Time) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		"INSERT INTO achievements (username, key, unlocked_at) VALUES ($1, $2, $3) ON CONFLICT (username, key) DO NOTHING",
		account, key, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (db *Postgres) UpdateBestStreak(ctx context.Context, account string, seconds float64) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO stats (username, best_streak) VALUES ($1, $2)
		 ON CONFLICT (username) DO UPDATE SET best_streak = excluded.best_streak
		 WHERE excluded.best_streak > stats.best_streak`,
		account, seconds,
	)
	return err
}

func (db *Postgres) GetAchievements(ctx context.Context, account string) (map[string]time.Time, error) {
	rows, err := db.pool.Query(ctx, "SELECT key, unlocked_at FROM achievements WHERE username = $1", account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]time.Time)
	for rows.Next() {
		var key string
		var at time.Time
		if err := rows.Scan(&key, &at); err != nil {
			return nil, err
		}
		result[key] = at
	}
	return result, rows.Err()
}

func (db *Postgres) GetStats(ctx context.Context, account string) (*Stats, error) {
	s := &Stats{}
	err := db.pool.QueryRow(ctx,
		"SELECT username, tag_count, it_seconds, best_streak FROM stats WHERE username = $1", account,
	).Scan(&s.Username, &s.TagCount, &s.ItSeconds, &s.BestStreak)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (db *Postgres) GetLeaderboard(ctx context.Context, orderBy string, limit int) ([]LeaderboardEntry, error) {
	query := `SELECT username, tag_count, it_seconds, best_streak FROM stats
		ORDER BY ` + orderColumn(orderBy) + ` DESC, username ASC LIMIT $1`

	rows, err := db.pool.Query(ctx, query, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.TagCount, &e.ItSeconds, &e.BestStreak); err != nil {
			return nil, err
		}
		e.Rank = rank
		rank++
		result = append(result, e)
	}
	return result, rows.Err()
}
