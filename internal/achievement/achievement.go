package achievement

import (
	"time"

	"tag-server/internal/protocol"
)

// Achievement keys
const (
	FirstTag = "first_tag"
	It10m    = "it_10m"
	It1h     = "it_1h"
)

// Def describes one unlockable achievement
type Def struct {
	ID          string
	Name        string
	Description string
	// Threshold is the cumulative it-time that unlocks it; zero for event-driven ones.
	Threshold time.Duration
}

var Achievements = []Def{
	{FirstTag, "First Tag", "Tag another player for the first time", 0},
	{It10m, "Hot Potato", "Spend 10 minutes as it", 10 * time.Minute},
	{It1h, "Marathon Chaser", "Spend 1 hour as it", time.Hour},
}

var byID map[string]Def

func init() {
	byID = make(map[string]Def, len(Achievements))
	for _, def := range Achievements {
		byID[def.ID] = def
	}
}

// Lookup returns the definition for id
func Lookup(id string) (Def, bool) {
	def, ok := byID[id]
	return def, ok
}

// Crossed reports whether a cumulative total moving from prev to next seconds
// passes threshold: prev < threshold <= next.
func Crossed(prev, next float64, threshold time.Duration) bool {
	t := threshold.Seconds()
	return prev < t && next >= t
}

// CrossedThresholds returns the time-based achievements unlocked by moving
// from prev to next cumulative it-seconds.
func CrossedThresholds(prev, next float64) []Def {
	var out []Def
	for _, def := range Achievements {
		if def.Threshold > 0 && Crossed(prev, next, def.Threshold) {
			out = append(out, def)
		}
	}
	return out
}

// Unlocked builds the achievementUnlocked payload
func (d Def) Unlocked() protocol.AchievementUnlockedMsg {
	return protocol.AchievementUnlockedMsg{
		Achievement: d.ID,
		Name:        d.Name,
		Description: d.Description,
	}
}

// Status merges the catalog with an account's unlock times for achievementsUpdate
func Status(unlocked map[string]time.Time) protocol.AchievementsUpdateMsg {
	out := make(map[string]protocol.AchievementStatus, len(Achievements))
	for _, def := range Achievements {
		st := protocol.AchievementStatus{Name: def.Name, Description: def.Description}
		if at, ok := unlocked[def.ID]; ok {
			at := at
			st.Unlocked = true
			st.UnlockedAt = &at
		}
		out[def.ID] = st
	}
	return protocol.AchievementsUpdateMsg{Achievements: out}
}
