package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Database drivers accepted by DB_DRIVER
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all runtime settings
type Config struct {
	Addr      string
	StaticDir string
	AvatarDir string
	PublicURL string

	DBDriver    string
	DBPath      string
	DatabaseURL string

	JWTSecret string
	TokenTTL  time.Duration

	MapSeed   uint64
	MapWidth  int
	MapHeight int

	TagCooldown     time.Duration
	LeaderboardTick time.Duration

	LogFile  string
	LogLevel string

	MaxConnsPerIP int
	MaxTotalConns int
}

// Default returns the built-in defaults
func Default() Config {
	return Config{
		Addr:            ":8080",
		StaticDir:       "public",
		AvatarDir:       "static/avatars",
		DBDriver:        DriverSQLite,
		DBPath:          "tag.db",
		TokenTTL:        24 * time.Hour,
		MapWidth:        60,
		MapHeight:       40,
		TagCooldown:     200 * time.Millisecond,
		LeaderboardTick: time.Second,
		LogFile:         "tag-server.log",
		LogLevel:        "info",
		MaxConnsPerIP:   5,
		MaxTotalConns:   1000,
	}
}

// Load reads .env (if present), then the environment, then command-line
// flags from args. Later sources override earlier ones.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("tag-server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fs.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "Path to client directory")
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "sqlite, postgres or memory")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.Uint64Var(&cfg.MapSeed, "seed", cfg.MapSeed, "Map seed (0 = random)")
	fs.StringVar(&cfg.LogFile, "log", cfg.LogFile, "Log file path (empty = stderr only)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("ADDR", &c.Addr)
	str("STATIC_DIR", &c.StaticDir)
	str("AVATAR_DIR", &c.AvatarDir)
	str("PUBLIC_URL", &c.PublicURL)
	str("DB_DRIVER", &c.DBDriver)
	str("DB_PATH", &c.DBPath)
	str("DATABASE_URL", &c.DatabaseURL)
	str("JWT_SECRET", &c.JWTSecret)
	str("LOG_FILE", &c.LogFile)
	str("LOG_LEVEL", &c.LogLevel)

	var err error
	if c.TokenTTL, err = envDuration("TOKEN_TTL", c.TokenTTL); err != nil {
		return err
	}
	if c.TagCooldown, err = envDuration("TAG_COOLDOWN", c.TagCooldown); err != nil {
		return err
	}
	if c.LeaderboardTick, err = envDuration("LEADERBOARD_TICK", c.LeaderboardTick); err != nil {
		return err
	}
	if c.MapWidth, err = envInt("MAP_WIDTH", c.MapWidth); err != nil {
		return err
	}
	if c.MapHeight, err = envInt("MAP_HEIGHT", c.MapHeight); err != nil {
		return err
	}
	if c.MaxConnsPerIP, err = envInt("MAX_CONNS_PER_IP", c.MaxConnsPerIP); err != nil {
		return err
	}
	if c.MaxTotalConns, err = envInt("MAX_TOTAL_CONNS", c.MaxTotalConns); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("MAP_SEED"); ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAP_SEED: %w", err)
		}
		c.MapSeed = seed
	}
	return nil
}

// Validate checks that the settings are usable
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	// the grid needs room for the 2-tile spawn inset
	if c.MapWidth < 5 || c.MapHeight < 5 {
		return fmt.Errorf("map must be at least 5x5, got %dx%d", c.MapWidth, c.MapHeight)
	}
	if c.TagCooldown < 0 {
		return fmt.Errorf("TAG_COOLDOWN must not be negative")
	}
	if c.LeaderboardTick <= 0 {
		return fmt.Errorf("LEADERBOARD_TICK must be positive")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.MaxConnsPerIP <= 0 || c.MaxTotalConns <= 0 {
		return fmt.Errorf("connection limits must be positive")
	}
	return nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
