// Package game owns the live tag round: players, the single "it" role, its
// timers and the spawn pool. All state is mutated on the Run goroutine.
package game

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tag-server/internal/progress"
	"tag-server/internal/protocol"
	"tag-server/internal/tilemap"
)

const (
	DefaultCooldown        = 200 * time.Millisecond
	DefaultLeaderboardTick = time.Second
	inboxSize              = 256
)

// Broadcaster delivers messages to connected clients
type Broadcaster interface {
	// Broadcast sends to every connection except the one named by except
	Broadcast(env protocol.Envelope, except string)
	SendTo(connID string, env protocol.Envelope)
}

// Recorder receives finished streaks for persistence
type Recorder interface {
	StreakEnded(ev progress.StreakEnd)
}

// Avatars resolves an account's avatar URL
type Avatars interface {
	URL(account string) (string, bool)
}

// Options configure a Game
type Options struct {
	Map             *tilemap.Map
	SpawnSeed       uint64
	Cooldown        time.Duration
	LeaderboardTick time.Duration
	Avatars         Avatars
	// Now and Rand are injectable for tests
	Now  func() time.Time
	Rand *rand.Rand
}

// Game is the single owner of the round's state
type Game struct {
	Inbox chan any

	m       *tilemap.Map
	spawns  *tilemap.SpawnPool
	players map[string]*Player

	out      Broadcaster
	rec      Recorder
	avatars  Avatars
	log      *zap.SugaredLogger
	cooldown time.Duration
	tick     time.Duration
	now      func() time.Time
	rng      *rand.Rand

	done chan struct{}
}

// New creates a Game; call Run to start processing commands
func New(opts Options, out Broadcaster, rec Recorder, log *zap.SugaredLogger) *Game {
	if opts.Map == nil {
		opts.Map = tilemap.Generate(rand.Uint64()&math.MaxUint32, tilemap.DefaultWidth, tilemap.DefaultHeight)
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.LeaderboardTick <= 0 {
		opts.LeaderboardTick = DefaultLeaderboardTick
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.SpawnSeed == 0 {
		opts.SpawnSeed = opts.Rand.Uint64()
	}
	return &Game{
		Inbox:    make(chan any, inboxSize),
		m:        opts.Map,
		spawns:   tilemap.NewSpawnPool(opts.Map, opts.SpawnSeed),
		players:  make(map[string]*Player),
		out:      out,
		rec:      rec,
		avatars:  opts.Avatars,
		log:      log,
		cooldown: opts.Cooldown,
		tick:     opts.LeaderboardTick,
		now:      opts.Now,
		rng:      opts.Rand,
		done:     make(chan struct{}),
	}
}

// Map returns the round's tile map
func (g *Game) Map() *tilemap.Map {
	return g.m
}

// Run processes commands and the leaderboard tick until ctx is cancelled
func (g *Game) Run(ctx context.Context) {
	defer close(g.done)

	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-g.Inbox:
			g.handleCommand(cmd)
		case <-ticker.C:
			g.broadcastLeaderboard()
		}
	}
}

// Done is closed once Run has returned
func (g *Game) Done() <-chan struct{} {
	return g.done
}

func (g *Game) send(cmd any) {
	select {
	case g.Inbox <- cmd:
	case <-g.done:
	}
}

// Join adds a bound connection to the round
func (g *Game) Join(connID, account string) {
	g.send(Join{ConnID: connID, Account: account})
}

func (g *Game) Move(connID string, x, y float64) {
	g.send(Move{ConnID: connID, X: x, Y: y})
}

func (g *Game) Tag(connID, target string) {
	g.send(Tag{ConnID: connID, Target: target})
}

// Leave removes a connection; unknown ids are ignored
func (g *Game) Leave(connID string) {
	g.send(Leave{ConnID: connID})
}

func (g *Game) RequestLeaderboard(connID string) {
	g.send(LeaderboardRequest{ConnID: connID})
}

func (g *Game) handleCommand(cmd any) {
	switch c := cmd.(type) {
	case Join:
		g.handleJoin(c)
	case Move:
		g.handleMove(c)
	case Tag:
		g.handleTag(c)
	case Leave:
		g.handleLeave(c)
	case LeaderboardRequest:
		g.broadcastLeaderboard()
	default:
		g.log.Warnw("unknown game command", "type", cmd)
	}
}

func (g *Game) handleJoin(c Join) {
	if _, exists := g.players[c.ConnID]; exists {
		return
	}
	now := g.now()

	tile := g.spawns.Checkout()
	x, y := tile.ToPixels()
	p := &Player{
		ConnID:  c.ConnID,
		Account: c.Account,
		X:       x,
		Y:       y,
		Tile:    tile,
		Spawn:   tile,
	}
	if g.avatars != nil {
		p.Avatar, _ = g.avatars.URL(c.Account)
	}
	if g.itHolder() == nil {
		p.becomeIt(now)
	}
	g.players[c.ConnID] = p
	g.log.Infow("player joined", "conn", c.ConnID, "account", c.Account, "it", p.IsIt, "tile", tile)

	players := make(map[string]protocol.PlayerInfo, len(g.players))
	for id, other := range g.players {
		players[id] = other.info()
	}
	g.out.SendTo(c.ConnID, protocol.Envelope{T: protocol.MsgInit, Data: protocol.InitMsg{
		ID:       c.ConnID,
		Seed:     g.m.Seed,
		Width:    g.m.Width,
		Height:   g.m.Height,
		TileSize: tilemap.TileSize,
		Players:  players,
		ItTimes:  g.itTimes(now),
	}})
	g.out.Broadcast(protocol.Envelope{T: protocol.MsgPlayerJoined, Data: protocol.PlayerJoinedMsg{
		ID:     c.ConnID,
		X:      p.X,
		Y:      p.Y,
		It:     p.IsIt,
		Name:   p.Account,
		Avatar: p.Avatar,
	}}, c.ConnID)
	g.broadcastLeaderboard()
}

func (g *Game) handleMove(c Move) {
	p, ok := g.players[c.ConnID]
	if !ok {
		return
	}
	if math.IsNaN(c.X) || math.IsNaN(c.Y) || math.IsInf(c.X, 0) || math.IsInf(c.Y, 0) {
		return
	}
	tile := tilemap.TileAt(c.X, c.Y)
	if g.m.IsBlocked(tile) {
		return
	}
	p.X, p.Y, p.Tile = c.X, c.Y, tile
	g.out.Broadcast(protocol.Envelope{T: protocol.MsgPlayerMoved, Data: protocol.PlayerMovedMsg{
		ID: c.ConnID, X: c.X, Y: c.Y,
	}}, c.ConnID)
}

// handleTag transfers "it" from target to the tagger. Invalid requests,
// including a connection naming itself, are dropped without a reply.
func (g *Game) handleTag(c Tag) {
	if c.ConnID == c.Target {
		return
	}
	tagger, ok := g.players[c.ConnID]
	if !ok {
		return
	}
	target, ok := g.players[c.Target]
	if !ok {
		return
	}
	if !target.IsIt || tagger.IsIt {
		return
	}
	now := g.now()
	if now.Sub(target.BecameIt) < g.cooldown {
		return
	}

	elapsed := target.loseIt(now)
	tagger.becomeIt(now)

	g.rec.StreakEnded(progress.StreakEnd{
		EventID: uuid.NewString(),
		Holder:  progress.Participant{Account: target.Account, ConnID: target.ConnID},
		Elapsed: elapsed,
		Tagger:  &progress.Participant{Account: tagger.Account, ConnID: tagger.ConnID},
		At:      now,
	})

	g.log.Debugw("tag", "tagger", tagger.ConnID, "target", target.ConnID, "streak", elapsed)
	g.out.Broadcast(protocol.Envelope{T: protocol.MsgTagUpdate, Data: protocol.TagUpdateMsg{
		NewIt: tagger.ConnID, PrevIt: target.ConnID,
	}}, "")
	g.broadcastLeaderboard()
}

func (g *Game) handleLeave(c Leave) {
	p, ok := g.players[c.ConnID]
	if !ok {
		return
	}
	now := g.now()

	delete(g.players, c.ConnID)
	g.spawns.Release(p.Spawn)
	g.log.Infow("player left", "conn", c.ConnID, "account", p.Account, "it", p.IsIt)

	g.out.Broadcast(protocol.Envelope{T: protocol.MsgPlayerLeft, Data: protocol.PlayerLeftMsg{ID: c.ConnID}}, "")

	if p.IsIt {
		elapsed := p.loseIt(now)
		g.rec.StreakEnded(progress.StreakEnd{
			EventID: uuid.NewString(),
			Holder:  progress.Participant{Account: p.Account, ConnID: p.ConnID},
			Elapsed: elapsed,
			At:      now,
		})
		if next := g.randomPlayer(); next != nil {
			next.becomeIt(now)
			g.out.Broadcast(protocol.Envelope{T: protocol.MsgTagUpdate, Data: protocol.TagUpdateMsg{
				NewIt: next.ConnID, PrevIt: c.ConnID,
			}}, "")
		}
	}
	g.broadcastLeaderboard()
}

// itHolder returns the player holding "it", if any
func (g *Game) itHolder() *Player {
	for _, p := range g.players {
		if p.IsIt {
			return p
		}
	}
	return nil
}

func (g *Game) randomPlayer() *Player {
	if len(g.players) == 0 {
		return nil
	}
	ids := make([]string, 0, len(g.players))
	for id := range g.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return g.players[ids[g.rng.IntN(len(ids))]]
}

// itTimes projects every player's timer; it never mutates them
func (g *Game) itTimes(now time.Time) map[string]protocol.ItTime {
	out := make(map[string]protocol.ItTime, len(g.players))
	for id, p := range g.players {
		out[id] = p.itTime(now)
	}
	return out
}

func (g *Game) broadcastLeaderboard() {
	if len(g.players) == 0 {
		return
	}
	g.out.Broadcast(protocol.Envelope{T: protocol.MsgLeaderboardUpdate, Data: protocol.LeaderboardUpdateMsg{
		ItTimes: g.itTimes(g.now()),
	}}, "")
}
