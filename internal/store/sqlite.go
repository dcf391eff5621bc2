package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite is the default Store, backed by a single database file
type SQLite struct {
	conn *sql.DB
	log  *zap.SugaredLogger
}

// OpenSQLite opens (or creates) the SQLite database
func OpenSQLite(path string, log *zap.SugaredLogger) (*SQLite, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps pragmas and :memory: databases consistent
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &SQLite{conn: conn, log: log}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *SQLite) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		pass_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		username TEXT PRIMARY KEY,
		conn_id TEXT NOT NULL,
		bound_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stats (
		username TEXT PRIMARY KEY,
		tag_count INTEGER NOT NULL DEFAULT 0,
		it_seconds REAL NOT NULL DEFAULT 0,
		best_streak REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS achievements (
		username TEXT NOT NULL,
		key TEXT NOT NULL,
		unlocked_at INTEGER NOT NULL,
		PRIMARY KEY (username, key)
	);

	CREATE TABLE IF NOT EXISTS applied_events (
		event_id TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stats_it_seconds ON stats(it_seconds);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		db.log.Errorw("DB migration error", "error", err)
	}
	return err
}

func (db *SQLite) CreateUser(ctx context.Context, username, passHash string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO users (username, pass_hash) VALUES (?, ?) ON CONFLICT(username) DO NOTHING",
		username, passHash,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserExists
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO stats (username) VALUES (?) ON CONFLICT(username) DO NOTHING", username,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *SQLite) GetUser(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := db.conn.QueryRowContext(ctx,
		"SELECT username, pass_hash, created_at FROM users WHERE username = ?", username,
	).Scan(&u.Username, &u.PassHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (db *SQLite) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (db *SQLite) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

func (db *SQLite) BindSocket(ctx context.Context, account, connID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (username, conn_id, bound_at) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET conn_id = excluded.conn_id, bound_at = excluded.bound_at`,
		account, connID, time.Now().UnixNano(),
	)
	return err
}

func (db *SQLite) LookupSocket(ctx context.Context, account string) (string, error) {
	var connID string
	err := db.conn.QueryRowContext(ctx, "SELECT conn_id FROM sessions WHERE username = ?", account).Scan(&connID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return connID, err
}

func (db *SQLite) ClearSocket(ctx context.Context, account, connID string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE username = ? AND conn_id = ?", account, connID)
	return err
}

// claimEvent records eventID inside tx and reports whether it was new
func claimEvent(ctx context.Context, tx *sql.Tx, eventID string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO applied_events (event_id, applied_at) VALUES (?, ?) ON CONFLICT(event_id) DO NOTHING",
		eventID, time.Now().UnixNano(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (db *SQLite) IncrementTagCount(ctx context.Context, eventID, account string, n int) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	fresh, err := claimEvent(ctx, tx, eventID)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stats (username, tag_count) VALUES (?, ?)
		 ON CONFLICT(username) DO UPDATE SET tag_count = tag_count + excluded.tag_count`,
		account, n,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *SQLite) IncrementItTime(ctx context.Context, eventID, account string, seconds float64) (float64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	fresh, err := claimEvent(ctx, tx, eventID)
	if err != nil {
		return 0, err
	}
	if fresh {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stats (username, it_seconds) VALUES (?, ?)
			 ON CONFLICT(username) DO UPDATE SET it_seconds = it_seconds + excluded.it_seconds`,
			account, seconds,
		); err != nil {
			return 0, err
		}
	}

	var total float64
	if err := tx.QueryRowContext(ctx,
		"SELECT it_seconds FROM stats WHERE username = ?", account,
	).Scan(&total); err != nil {
		return 0, err
	}
	return total, tx.Commit()
}

func (db *SQLite) UnlockAchievement(ctx context.Context, account, key string, at time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO achievements (username, key, unlocked_at) VALUES (?, ?, ?) ON CONFLICT(username, key) DO NOTHING",
		account, key, at.UnixNano(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (db *SQLite) UpdateBestStreak(ctx context.Context, account string, seconds float64) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO stats (username, best_streak) VALUES (?, ?)
		 ON CONFLICT(username) DO UPDATE SET best_streak = excluded.best_streak
		 WHERE excluded.best_streak > stats.best_streak`,
		account, seconds,
	)
	return err
}

func (db *SQLite) GetAchievements(ctx context.Context, account string) (map[string]time.Time, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT key, unlocked_at FROM achievements WHERE username = ?", account,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]time.Time)
	for rows.Next() {
		var key string
		var at int64
		if err := rows.Scan(&key, &at); err != nil {
			return nil, err
		}
		result[key] = time.Unix(0, at)
	}
	return result, rows.Err()
}

func (db *SQLite) GetStats(ctx context.Context, account string) (*Stats, error) {
	s := &Stats{}
	err := db.conn.QueryRowContext(ctx,
		"SELECT username, tag_count, it_seconds, best_streak FROM stats WHERE username = ?", account,
	).Scan(&s.Username, &s.TagCount, &s.ItSeconds, &s.BestStreak)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// orderColumn whitelists leaderboard orderings
func orderColumn(orderBy string) string {
	switch orderBy {
	case OrderTags:
		return "tag_count"
	case OrderStreak:
		return "best_streak"
	default:
		return "it_seconds"
	}
}

// GetLeaderboard returns top accounts sorted by the given field
func (db *SQLite) GetLeaderboard(ctx context.Context, orderBy string, limit int) ([]LeaderboardEntry, error) {
	query := `SELECT username, tag_count, it_seconds, best_streak FROM stats
		ORDER BY ` + orderColumn(orderBy) + ` DESC, username ASC LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, ClampLimit(limit))
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
