package protocol

import "time"

// Client -> Server message types
const (
	MsgMove            = "move"
	MsgTag             = "tag"
	MsgGetLeaderboard  = "getLeaderboard"
	MsgGetAchievements = "getAchievements"
)

// Server -> Client message types
const (
	MsgInit                = "init"
	MsgPlayerJoined        = "playerJoined"
	MsgPlayerMoved         = "playerMoved"
	MsgPlayerLeft          = "playerLeft"
	MsgTagUpdate           = "tagUpdate"
	MsgLeaderboardUpdate   = "leaderboardUpdate"
	MsgAchievementUnlocked = "achievementUnlocked"
	MsgAchievementsUpdate  = "achievementsUpdate"
	MsgError               = "error"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string `json:"t"`
	Data any    `json:"d,omitempty"`
}

// Inbound is a decoded incoming message whose payload is still encoded
type Inbound struct {
	T string
	D []byte
}

// MoveMsg is sent whenever the client's avatar moves
type MoveMsg struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TagMsg names the connection the sender believes is "it"
type TagMsg struct {
	ID string `json:"id"`
}

// PlayerInfo describes one player in the init snapshot
type PlayerInfo struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	It     bool    `json:"it"`
	Name   string  `json:"name"`
	Avatar string  `json:"avatar,omitempty"`
}

// ItTime is one leaderboard row. StartedAt is unix seconds and only set
// while the player is "it"; Current adds the running segment to Total.
type ItTime struct {
	Total     float64  `json:"total"`
	StartedAt *float64 `json:"started_at"`
	It        bool     `json:"it"`
	Name      string   `json:"name"`
	Current   float64  `json:"current"`
}

// InitMsg is sent to a player when they connect
type InitMsg struct {
	ID       string                `json:"id"`
	Seed     uint64                `json:"seed"`
	Width    int                   `json:"width"`
	Height   int                   `json:"height"`
	TileSize int                   `json:"tile_size"`
	Players  map[string]PlayerInfo `json:"players"`
	ItTimes  map[string]ItTime     `json:"it_times"`
}

// PlayerJoinedMsg is broadcast to everyone except the newcomer
type PlayerJoinedMsg struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	It     bool    `json:"it"`
	Name   string  `json:"name"`
	Avatar string  `json:"avatar,omitempty"`
}

// PlayerMovedMsg is broadcast to everyone except the mover
type PlayerMovedMsg struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// PlayerLeftMsg is broadcast on disconnect
type PlayerLeftMsg struct {
	ID string `json:"id"`
}

// TagUpdateMsg announces a change of "it"
type TagUpdateMsg struct {
	NewIt  string `json:"newIt"`
	PrevIt string `json:"prevIt"`
}

// LeaderboardUpdateMsg carries the live it-time table keyed by connection id
type LeaderboardUpdateMsg struct {
	ItTimes map[string]ItTime `json:"it_times"`
}

// AchievementUnlockedMsg goes only to the connection that earned it
type AchievementUnlockedMsg struct {
	Achievement string `json:"achievement"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AchievementStatus is one entry in an achievementsUpdate
type AchievementStatus struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}

// AchievementsUpdateMsg answers getAchievements
type AchievementsUpdateMsg struct {
	Achievements map[string]AchievementStatus `json:"achievements"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}
