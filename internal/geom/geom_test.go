package geom

import (
	"testing"
	"time"
)

func mkTile(t *testing.T, stack string, z int, px, py, minX, minY, w, h float64, when time.Time) *Tile {
	t.Helper()
	ax := NewAxis(0, w, minX*px, px)
	ay := NewAxis(0, h, minY*py, py)
	tile := NewTile(stack, z, ax, ay, when)
	tile.AddTransform(Translation(minX, minY))
	return tile
}

func TestAxisDerived(t *testing.T) {
	a := NewAxis(0, 100, 40, 0.5) // pixel_size 0.5, position 40 -> pixel_position 80
	if got := a.PixelPosition(); got != 80 {
		t.Fatalf("PixelPosition = %v, want 80", got)
	}
	if got := a.MinPos(); got != 80 {
		t.Fatalf("MinPos = %v, want 80", got)
	}
	if got := a.MaxPos(); got != 180 {
		t.Fatalf("MaxPos = %v, want 180", got)
	}
}

func TestSectionInvariantsAndSeal(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sec := NewSection("raw stack!", 0)

	tileA := mkTile(t, "raw", 0, 0.004, 0.004, 0, 0, 6400, 6400, base)
	tileB := mkTile(t, "raw", 0, 0.004, 0.004, 6400, 0, 6400, 6400, base.Add(time.Second))

	if err := sec.Add(tileA); err != nil {
		t.Fatalf("Add tileA: %v", err)
	}
	if err := sec.Add(tileB); err != nil {
		t.Fatalf("Add tileB: %v", err)
	}

	// Duplicate acquisition_time is rejected (invariant 1).
	dup := mkTile(t, "raw", 0, 0.004, 0.004, 0, 6400, 6400, 6400, base)
	if err := sec.Add(dup); err == nil {
		t.Fatal("expected duplicate acquisition_time to be rejected")
	}

	// Mismatched pixel_size is rejected (invariant 2).
	mismatched := mkTile(t, "raw", 0, 0.008, 0.008, 0, 6400, 6400, 6400, base.Add(2*time.Second))
	if err := sec.Add(mismatched); err == nil {
		t.Fatal("expected pixel_size mismatch to be rejected")
	}

	if got, want := sec.StackName, "raw_stack_"; got != want {
		t.Fatalf("stack name = %q, want %q (sanitized)", got, want)
	}

	if err := sec.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	tiles := sec.Tiles()
	if len(tiles) != 2 {
		t.Fatalf("got %d tiles, want 2", len(tiles))
	}
	// Newest acquisition (tileB) gets ID 0 (invariant 5).
	if tiles[0].ID != "0_raw_stack_0" {
		t.Fatalf("tiles[0].ID = %q, want 0_raw_stack_0", tiles[0].ID)
	}
	if tiles[1].ID != "1_raw_stack_0" {
		t.Fatalf("tiles[1].ID = %q, want 1_raw_stack_0", tiles[1].ID)
	}

	if sec.TopLeftX != 0 || sec.TopLeftY != 0 {
		t.Fatalf("TopLeft = (%v, %v), want (0, 0)", sec.TopLeftX, sec.TopLeftY)
	}
}

func TestSealTwiceFails(t *testing.T) {
	sec := NewSection("raw", 0)
	tile := mkTile(t, "raw", 0, 1, 1, 0, 0, 10, 10, time.Now())
	if err := sec.Add(tile); err != nil {
		t.Fatal(err)
	}
	if err := sec.Seal(); err != nil {
		t.Fatal(err)
	}
	if err := sec.Seal(); err == nil {
		t.Fatal("expected second Seal to fail")
	}
}

func TestStackPixelSizeInvariant(t *testing.T) {
	base := time.Now()
	stack := NewStack("raw")

	sec0 := NewSection("raw", 0)
	tile0 := mkTile(t, "raw", 0, 0.004, 0.004, 0, 0, 100, 100, base)
	if err := sec0.Add(tile0); err != nil {
		t.Fatal(err)
	}
	if err := sec0.Seal(); err != nil {
		t.Fatal(err)
	}
	if err := stack.AddSection(sec0); err != nil {
		t.Fatalf("AddSection sec0: %v", err)
	}

	sec1 := NewSection("raw", 1)
	tile1 := mkTile(t, "raw", 1, 0.008, 0.008, 0, 0, 100, 100, base.Add(time.Second))
	if err := sec1.Add(tile1); err != nil {
		t.Fatal(err)
	}
	if err := sec1.Seal(); err != nil {
		t.Fatal(err)
	}
	if err := stack.AddSection(sec1); err == nil {
		t.Fatal("expected pixel_size mismatch across sections to be rejected")
	}
}

func TestWorldBoundsMatchesTransformInvariant(t *testing.T) {
	ax := NewAxis(0, 6400, 12800*0.004, 0.004)
	ay := NewAxis(0, 6400, 0, 0.004)
	tile := NewTile("raw", 0, ax, ay, time.Now())
	tile.AddTransform(Translation(12800, 0))

	if !tile.CheckTransformInvariant(1e-9) {
		minX, minY, maxX, maxY := tile.WorldBounds()
		t.Fatalf("transform invariant violated; WorldBounds = (%v,%v,%v,%v)", minX, minY, maxX, maxY)
	}
}
