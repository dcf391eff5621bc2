package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local Store for tests and DB_DRIVER=memory
type Memory struct {
	mu           sync.Mutex
	users        map[string]User
	settings     map[string]string
	sessions     map[string]string
	stats        map[string]*Stats
	achievements map[string]map[string]time.Time
	applied      map[string]bool
}

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]User),
		settings:     make(map[string]string),
		sessions:     make(map[string]string),
		stats:        make(map[string]*Stats),
		achievements: make(map[string]map[string]time.Time),
		applied:      make(map[string]bool),
	}
}

func (m *Memory) Close() error { return nil }

// statsFor returns the stats row for account, creating it. Caller holds mu.
func (m *Memory) statsFor(account string) *Stats {
	s, ok := m.stats[account]
	if !ok {
		s = &Stats{Username: account}
		m.stats[account] = s
	}
	return s
}

func (m *Memory) CreateUser(_ context.Context, username, passHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return ErrUserExists
	}
	m.users[username] = User{Username: username, PassHash: passHash, CreatedAt: time.Now()}
	m.statsFor(username)
	return nil
}

func (m *Memory) GetUser(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.settings[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) BindSocket(_ context.Context, account, connID string) error {
	m.mu.Lock()
	m.sessions[account] = connID
	m.mu.Unlock()
	return nil
}

func (m *Memory) LookupSocket(_ context.Context, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	connID, ok := m.sessions[account]
	if !ok {
		return "", ErrNotFound
	}
	return connID, nil
}

func (m *Memory) ClearSocket(_ context.Context, account, connID string) error {
	m.mu.Lock()
	if m.sessions[account] == connID {
		delete(m.sessions, account)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) IncrementTagCount(_ context.Context, eventID, account string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applied[eventID] {
		return nil
	}
	m.applied[eventID] = true
	m.statsFor(account).TagCount += n
	return nil
}

func (m *Memory) IncrementItTime(_ context.Context, eventID, account string, seconds float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statsFor(account)
	if !m.applied[eventID] {
		m.applied[eventID] = true
		s.ItSeconds += seconds
	}
	return s.ItSeconds, nil
}

func (m *Memory) UnlockAchievement(_ context.Context, account, key string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unlocked, ok := m.achievements[account]
	if !ok {
		unlocked = make(map[string]time.Time)
		m.achievements[account] = unlocked
	}
	if _, done := unlocked[key]; done {
		return false, nil
	}
	unlocked[key] = at
	return true, nil
}

func (m *Memory) UpdateBestStreak(_ context.Context, account string, seconds float64) error {
	m.mu.Lock()
	s := m.statsFor(account)
	if seconds > s.BestStreak {
		s.BestStreak = seconds
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetAchievements(_ context.Context, account string) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.achievements[account]))
	for k, v := range m.achievements[account] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) GetStats(_ context.Context, account string) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[account]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) GetLeaderboard(_ context.Context, orderBy string, limit int) ([]LeaderboardEntry, error) {
	m.mu.Lock()
	rows := make([]Stats, 0, len(m.stats))
	for _, s := range m.stats {
		rows = append(rows, *s)
	}
	m.mu.Unlock()

	key := func(s Stats) float64 {
		switch orderBy {
		case OrderTags:
			return float64(s.TagCount)
		case OrderStreak:
			return s.BestStreak
		default:
			return s.ItSeconds
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		ki, kj := key(rows[i]), key(rows[j])
		if ki != kj {
			return ki > kj
		}
		return rows[i].Username < rows[j].Username
	})

	limit = ClampLimit(limit)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	result := make([]LeaderboardEntry, len(rows))
	for i, s := range rows {
		result[i] = LeaderboardEntry{Rank: i + 1, Stats: s}
	}
	return result, nil
}
