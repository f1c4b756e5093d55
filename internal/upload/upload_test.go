package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hoogenboom-lab/render-pipeline/internal/geom"
	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
)

func sealedOneTileStack(t *testing.T, name string) *geom.Stack {
	t.Helper()
	ax := geom.NewAxis(0, 100, 0, 1)
	ay := geom.NewAxis(0, 100, 0, 1)
	tile := geom.NewTile(name, 0, ax, ay, time.Now())
	tile.Pyramid[0] = "file:///tiles/0.tiff"

	sec := geom.NewSection(name, 0)
	if err := sec.Add(tile); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := sec.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	stack := geom.NewStack(name)
	if err := stack.AddSection(sec); err != nil {
		t.Fatalf("AddSection: %v", err)
	}
	return stack
}

func TestUploadCreateImportComplete(t *testing.T) {
	var sawCreate, sawImport, sawComplete bool

	mux := http.NewServeMux()
	mux.HandleFunc("/render-ws/v1/owner/o/project/p/stack/raw", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sawCreate = true
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/render-ws/v1/owner/o/project/p/stack/raw/resolvedTiles", func(w http.ResponseWriter, r *http.Request) {
		sawImport = true
		if got := r.URL.Query().Get("deriveData"); got != "false" {
			t.Fatalf("deriveData = %q, want false", got)
		}
		var specs []renderclient.TileSpec
		if err := json.NewDecoder(r.Body).Decode(&specs); err != nil {
			t.Fatalf("decoding specs: %v", err)
		}
		if len(specs) != 1 {
			t.Fatalf("got %d specs, want 1", len(specs))
		}
		if specs[0].MinX != 0 || specs[0].MaxX != 100 {
			t.Fatalf("spec bounds = %+v", specs[0])
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/render-ws/v1/owner/o/project/p/stack/raw/state/COMPLETE", func(w http.ResponseWriter, r *http.Request) {
		sawComplete = true
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := renderclient.New(srv.URL, "o", "p", nil)
	u := New(client, false)

	stack := sealedOneTileStack(t, "raw")
	if err := u.Upload(context.Background(), stack, ZResolution(1)); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if !sawCreate || !sawImport || !sawComplete {
		t.Fatalf("create=%v import=%v complete=%v, want all true", sawCreate, sawImport, sawComplete)
	}
}

func TestUploadRejectsUnsealedTile(t *testing.T) {
	stack := geom.NewStack("raw")
	// Force an ID-less tile into toTileSpecs directly to exercise the guard.
	ax := geom.NewAxis(0, 10, 0, 1)
	ay := geom.NewAxis(0, 10, 0, 1)
	tile := geom.NewTile("raw", 0, ax, ay, time.Now())
	sec := geom.NewSection("raw", 0)
	_ = sec.Add(tile)
	// Deliberately not sealed -> AddSection would reject it, so we test
	// toTileSpecs' own guard via a sealed section whose tile ID was cleared.
	_ = sec.Seal()
	_ = stack.AddSection(sec)
	tiles := stack.Tiles()
	tiles[0].ID = ""

	if _, err := toTileSpecs(stack); err == nil {
		t.Fatal("expected error for tile with empty ID")
	}
}
