package tilemap

import "testing"

func TestSpawnCheckoutUnique(t *testing.T) {
	m := Generate(12345, 60, 40)
	sp := NewSpawnPool(m, 1)
	total := sp.Available()

	seen := make(map[Tile]bool)
	for i := 0; i < total; i++ {
		tile := sp.Checkout()
		if seen[tile] {
			t.Fatalf("tile %v checked out twice", tile)
		}
		if m.IsBlocked(tile) {
			t.Fatalf("checked out blocked tile %v", tile)
		}
		seen[tile] = true
	}
	if sp.Available() != 0 {
		t.Errorf("expected empty pool, %d left", sp.Available())
	}
}

func TestSpawnRelease(t *testing.T) {
	m := Generate(12345, 60, 40)
	sp := NewSpawnPool(m, 1)
	before := sp.Available()

	tile := sp.Checkout()
	if !sp.IsCheckedOut(tile) {
		t.Fatal("tile should be checked out")
	}
	if sp.Available() != before-1 {
		t.Errorf("expected %d available, got %d", before-1, sp.Available())
	}

	sp.Release(tile)
	if sp.IsCheckedOut(tile) {
		t.Error("tile should be released")
	}
	if sp.Available() != before {
		t.Errorf("expected %d available after release, got %d", before, sp.Available())
	}

	// double release is ignored
	sp.Release(tile)
	if sp.Available() != before {
		t.Errorf("double release changed pool size to %d", sp.Available())
	}
}

func TestSpawnFallbackScan(t *testing.T) {
	m := Generate(3, 8, 8)
	sp := NewSpawnPool(m, 1)
	for sp.Available() > 0 {
		sp.Checkout()
	}

	// the scan reaches walkable tiles outside the inset before sharing any
	tile := sp.Checkout()
	if m.IsBlocked(tile) {
		t.Fatalf("fallback returned blocked tile %v", tile)
	}
}

func TestSpawnSharedTileReleasedOnce(t *testing.T) {
	m := Generate(3, 5, 5)
	sp := NewSpawnPool(m, 1)

	var held []Tile
	for i := 0; i < 20; i++ {
		held = append(held, sp.Checkout())
	}
	for _, tile := range held {
		sp.Release(tile)
	}
	seen := make(map[Tile]bool)
	for _, tile := range held {
		if sp.IsCheckedOut(tile) {
			t.Errorf("tile %v still held after every holder released", tile)
		}
		seen[tile] = true
	}
	if sp.Available() != len(seen) {
		t.Errorf("pool should hold each distinct tile once: have %d, want %d", sp.Available(), len(seen))
	}
}

func TestSpawnShuffleReproducible(t *testing.T) {
	m := Generate(12345, 60, 40)
	a := NewSpawnPool(m, 99)
	b := NewSpawnPool(m, 99)
	for i := 0; i < 10; i++ {
		if ta, tb := a.Checkout(), b.Checkout(); ta != tb {
			t.Fatalf("checkout %d differs: %v vs %v", i, ta, tb)
		}
	}
}
