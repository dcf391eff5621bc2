package tilemap

import "testing"

func TestNoSpawnOnBlockedTile(t *testing.T) {
	for _, seed := range []uint64{0, 1, 12345, 987654321, 1<<32 - 1} {
		m := Generate(seed, DefaultWidth, DefaultHeight)
		blocked := m.Blocked()
		for _, tile := range m.Free() {
			if blocked[tile] {
				t.Fatalf("seed %d: tile %v is both free and blocked", seed, tile)
			}
		}
	}
}

func TestBorderAlwaysBlocked(t *testing.T) {
	m := Generate(12345, 60, 40)
	for x := 0; x < 60; x++ {
		for y := 0; y < 40; y++ {
			if x == 0 || x == 59 || y == 0 || y == 39 {
				if !m.IsBlocked(Tile{x, y}) {
					t.Errorf("border tile (%d,%d) should be blocked", x, y)
				}
			}
		}
	}
}

func TestFreeTilesRespectInset(t *testing.T) {
	m := Generate(12345, 60, 40)
	if len(m.Free()) == 0 {
		t.Fatal("expected some free tiles")
	}
	for _, tile := range m.Free() {
		if tile.X < 2 || tile.X > 57 || tile.Y < 2 || tile.Y > 37 {
			t.Errorf("free tile %v lies inside the 2-tile inset", tile)
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(42, 60, 40)
	b := Generate(42, 60, 40)
	if a.BlockedCount() != b.BlockedCount() {
		t.Fatalf("blocked counts differ: %d vs %d", a.BlockedCount(), b.BlockedCount())
	}
	for tile := range a.Blocked() {
		if !b.IsBlocked(tile) {
			t.Fatalf("tile %v blocked in first map only", tile)
		}
	}
	fa, fb := a.Free(), b.Free()
	if len(fa) != len(fb) {
		t.Fatalf("free lists differ in length: %d vs %d", len(fa), len(fb))
	}
	for i := range fa {
		if fa[i] != fb[i] {
			t.Fatalf("free lists differ at %d: %v vs %v", i, fa[i], fb[i])
		}
	}
}

func TestGenerateSeedsDiffer(t *testing.T) {
	a := Generate(1, 60, 40)
	b := Generate(2, 60, 40)
	same := true
	for tile := range a.Blocked() {
		if !b.IsBlocked(tile) {
			same = false
			break
		}
	}
	if same && a.BlockedCount() == b.BlockedCount() {
		t.Error("different seeds produced identical maps")
	}
}

func TestObstacleDensity(t *testing.T) {
	m := Generate(7, 60, 40)
	interior := 58 * 38
	border := 2*60 + 2*38
	obstacles := m.BlockedCount() - border
	// obstacles carry ~19% of the weight table
	ratio := float64(obstacles) / float64(interior)
	if ratio < 0.10 || ratio > 0.26 {
		t.Errorf("obstacle ratio %.3f outside expected band", ratio)
	}
}

func TestTileAt(t *testing.T) {
	cases := []struct {
		x, y float64
		want Tile
	}{
		{0, 0, Tile{0, 0}},
		{47.9, 47.9, Tile{0, 0}},
		{48, 96, Tile{1, 2}},
		{-1, 10, Tile{-1, 0}},
	}
	for _, tc := range cases {
		if got := TileAt(tc.x, tc.y); got != tc.want {
			t.Errorf("TileAt(%v,%v) = %v, want %v", tc.x, tc.y, got, tc.want)
		}
	}

	x, y := Tile{3, 4}.ToPixels()
	if TileAt(x, y) != (Tile{3, 4}) {
		t.Errorf("ToPixels/TileAt round trip failed for (3,4)")
	}
}

func TestIsBlockedOffGrid(t *testing.T) {
	m := Generate(1, 10, 10)
	for _, tile := range []Tile{{-1, 5}, {5, -1}, {10, 5}, {5, 10}} {
		if !m.IsBlocked(tile) {
			t.Errorf("off-grid tile %v should be blocked", tile)
		}
	}
}
