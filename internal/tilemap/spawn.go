package tilemap

import "math/rand/v2"

// SpawnPool hands out free tiles to joining players. It is owned by the game
// loop goroutine, so no mutex is needed.
type SpawnPool struct {
	m          *Map
	pool       []Tile
	checkedOut map[Tile]int // holders per tile
}

// NewSpawnPool shuffles the map's free tiles into a checkout pool.
// shuffleSeed makes the order reproducible in tests.
func NewSpawnPool(m *Map, shuffleSeed uint64) *SpawnPool {
	pool := m.Free()
	rng := rand.New(rand.NewPCG(shuffleSeed, m.Seed))
	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	return &SpawnPool{
		m:          m,
		pool:       pool,
		checkedOut: make(map[Tile]int),
	}
}

// Checkout pops a tile from the pool. When the pool is exhausted it scans the
// grid for any walkable tile, preferring ones nobody holds, rather than failing.
func (sp *SpawnPool) Checkout() Tile {
	for len(sp.pool) > 0 {
		t := sp.pool[len(sp.pool)-1]
		sp.pool = sp.pool[:len(sp.pool)-1]
		if sp.checkedOut[t] > 0 {
			continue
		}
		sp.checkedOut[t] = 1
		return t
	}

	var shared Tile
	found := false
	for y := 0; y < sp.m.Height; y++ {
		for x := 0; x < sp.m.Width; x++ {
			t := Tile{x, y}
			if sp.m.IsBlocked(t) {
				continue
			}
			if sp.checkedOut[t] == 0 {
				sp.checkedOut[t] = 1
				return t
			}
			if !found {
				shared, found = t, true
			}
		}
	}
	// every walkable tile is taken, players share the first one
	sp.checkedOut[shared]++
	return shared
}

// Release returns a tile to the pool once its last holder lets go. Tiles that
// are not checked out are ignored.
func (sp *SpawnPool) Release(t Tile) {
	n := sp.checkedOut[t]
	if n == 0 {
		return
	}
	if n > 1 {
		sp.checkedOut[t] = n - 1
		return
	}
	delete(sp.checkedOut, t)
	sp.pool = append(sp.pool, t)
}

// Available returns the number of tiles left in the pool
func (sp *SpawnPool) Available() int {
	return len(sp.pool)
}

// IsCheckedOut reports whether t is currently held by a player
func (sp *SpawnPool) IsCheckedOut(t Tile) bool {
	return sp.checkedOut[t] > 0
}
