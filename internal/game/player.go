package game

import (
	"time"

	"tag-server/internal/protocol"
	"tag-server/internal/tilemap"
)

// TimerRecord accumulates time spent as "it". StartedAt is set iff the
// player currently holds the role.
type TimerRecord struct {
	Total     time.Duration
	StartedAt time.Time
}

// Running reports whether a streak is in progress
func (t *TimerRecord) Running() bool {
	return !t.StartedAt.IsZero()
}

func (t *TimerRecord) start(now time.Time) {
	t.StartedAt = now
}

// stop closes the running streak, adds it to Total and returns its length
func (t *TimerRecord) stop(now time.Time) time.Duration {
	if !t.Running() {
		return 0
	}
	elapsed := now.Sub(t.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	t.Total += elapsed
	t.StartedAt = time.Time{}
	return elapsed
}

// Current projects Total plus the running streak without mutating anything
func (t *TimerRecord) Current(now time.Time) time.Duration {
	if !t.Running() {
		return t.Total
	}
	if d := now.Sub(t.StartedAt); d > 0 {
		return t.Total + d
	}
	return t.Total
}

// Player is one live connection's avatar
type Player struct {
	ConnID  string
	Account string
	X, Y    float64
	Tile    tilemap.Tile
	// Spawn is the tile checked out from the spawn pool on join
	Spawn  tilemap.Tile
	IsIt   bool
	Avatar string

	Timer    TimerRecord
	BecameIt time.Time
}

func (p *Player) becomeIt(now time.Time) {
	p.IsIt = true
	p.BecameIt = now
	p.Timer.start(now)
}

// loseIt clears the role and returns the finished streak
func (p *Player) loseIt(now time.Time) time.Duration {
	p.IsIt = false
	return p.Timer.stop(now)
}

func (p *Player) info() protocol.PlayerInfo {
	return protocol.PlayerInfo{X: p.X, Y: p.Y, It: p.IsIt, Name: p.Account, Avatar: p.Avatar}
}

func (p *Player) itTime(now time.Time) protocol.ItTime {
	row := protocol.ItTime{
		Total:   p.Timer.Total.Seconds(),
		It:      p.IsIt,
		Name:    p.Account,
		Current: p.Timer.Current(now).Seconds(),
	}
	if p.Timer.Running() {
		started := float64(p.Timer.StartedAt.UnixNano()) / 1e9
		row.StartedAt = &started
	}
	return row
}
