// Package tilemap generates the obstacle map shared by every client and hands
// out spawn tiles on it.
package tilemap

import (
	"math"
	"math/rand/v2"
)

const (
	DefaultWidth  = 60
	DefaultHeight = 40

	// TileSize is the edge of one tile in world pixels (16px sprites drawn at 3x).
	TileSize = 48

	// spawnInset keeps spawns away from the border ring.
	spawnInset = 2
)

// Tile is a grid coordinate
type Tile struct {
	X, Y int
}

// ToPixels returns the world-pixel position of the tile's top-left corner
func (t Tile) ToPixels() (float64, float64) {
	return float64(t.X * TileSize), float64(t.Y * TileSize)
}

// TileAt converts a world-pixel position to the tile containing it
func TileAt(x, y float64) Tile {
	return Tile{X: floorDiv(x), Y: floorDiv(y)}
}

func floorDiv(v float64) int {
	return int(math.Floor(v / TileSize))
}

type weightedTile struct {
	index  int
	weight int // hundredths
}

// Open ground dominates; the rest are obstacle sprites from the client tileset.
var tileWeights = []weightedTile{
	{-1, 5000}, {13, 300}, {32, 200}, {127, 100},
	{108, 100}, {109, 200}, {110, 200},
	{166, 25}, {167, 25},
}

var blockedIDs = map[int]bool{
	13: true, 32: true, 127: true, 108: true, 109: true, 110: true, 166: true, 167: true,
}

var totalWeight = func() int {
	sum := 0
	for _, w := range tileWeights {
		sum += w.weight
	}
	return sum
}()

// Map is the immutable result of Generate
type Map struct {
	Seed    uint64
	Width   int
	Height  int
	blocked map[Tile]bool
	free    []Tile
}

// Generate builds the map for seed. The same seed and dimensions always
// produce the same blocked and free sets.
func Generate(seed uint64, width, height int) *Map {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	m := &Map{
		Seed:    seed,
		Width:   width,
		Height:  height,
		blocked: make(map[Tile]bool),
	}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			if blockedIDs[sampleTile(rng)] {
				m.blocked[Tile{x, y}] = true
			}
		}
	}

	for x := 0; x < width; x++ {
		m.blocked[Tile{x, 0}] = true
		m.blocked[Tile{x, height - 1}] = true
	}
	for y := 0; y < height; y++ {
		m.blocked[Tile{0, y}] = true
		m.blocked[Tile{width - 1, y}] = true
	}

	for x := spawnInset; x < width-spawnInset; x++ {
		for y := spawnInset; y < height-spawnInset; y++ {
			t := Tile{x, y}
			if !m.blocked[t] {
				m.free = append(m.free, t)
			}
		}
	}
	return m
}

func sampleTile(rng *rand.Rand) int {
	r := rng.IntN(totalWeight)
	for _, w := range tileWeights {
		if r < w.weight {
			return w.index
		}
		r -= w.weight
	}
	return tileWeights[0].index
}

// InBounds reports whether t lies on the grid
func (m *Map) InBounds(t Tile) bool {
	return t.X >= 0 && t.Y >= 0 && t.X < m.Width && t.Y < m.Height
}

// IsBlocked reports whether t cannot be walked on. Off-grid tiles are blocked.
func (m *Map) IsBlocked(t Tile) bool {
	return !m.InBounds(t) || m.blocked[t]
}

// BlockedCount returns the number of blocked tiles
func (m *Map) BlockedCount() int {
	return len(m.blocked)
}

// Blocked returns a copy of the blocked set
func (m *Map) Blocked() map[Tile]bool {
	out := make(map[Tile]bool, len(m.blocked))
	for t := range m.blocked {
		out[t] = true
	}
	return out
}

// Free returns a copy of the free-tile list
func (m *Map) Free() []Tile {
	return append([]Tile(nil), m.free...)
}
