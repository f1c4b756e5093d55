package stitch

import (
	"testing"

	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
)

func TestLargestComponentKeepsBiggestGraph(t *testing.T) {
	matches := []renderclient.PointMatch{
		{PID: "a", QID: "b"},
		{PID: "b", QID: "c"},
		{PID: "c", QID: "d"},
		// isolated pair, smaller component
		{PID: "x", QID: "y"},
	}
	tiles, kept := LargestComponent(matches)
	for _, id := range []string{"a", "b", "c", "d"} {
		if !tiles[id] {
			t.Fatalf("expected %s to be in the largest component", id)
		}
	}
	if tiles["x"] || tiles["y"] {
		t.Fatalf("smaller component should not survive")
	}
	if len(kept) != 3 {
		t.Fatalf("expected 3 surviving matches, got %d", len(kept))
	}
}

func TestLargestComponentEmptyInput(t *testing.T) {
	tiles, kept := LargestComponent(nil)
	if len(tiles) != 0 || len(kept) != 0 {
		t.Fatalf("expected empty results for no matches")
	}
}

func TestLargestComponentAllConnected(t *testing.T) {
	matches := []renderclient.PointMatch{
		{PID: "a", QID: "b"},
		{PID: "a", QID: "c"},
	}
	tiles, kept := LargestComponent(matches)
	if len(tiles) != 3 {
		t.Fatalf("expected 3 tiles, got %d", len(tiles))
	}
	if len(kept) != 2 {
		t.Fatalf("expected both matches kept, got %d", len(kept))
	}
}
