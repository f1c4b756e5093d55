package mipmap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hoogenboom-lab/render-pipeline/internal/emtiff"
	"github.com/hoogenboom-lab/render-pipeline/internal/geom"
	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
	"github.com/hoogenboom-lab/render-pipeline/internal/workpool"
)

func TestBuildPyramidLevelsHalveAndOnlyLevel0HasDescription(t *testing.T) {
	dir := t.TempDir()
	w, h := 64, 64
	pixels := make([]uint16, w*h)
	for i := range pixels {
		pixels[i] = 1000
	}

	pyramid, err := BuildPyramid(Image{Width: w, Height: h, Pixels: pixels, Description: "ome-xml-here"}, filepath.Join(dir, "tile.tiff"), 8, 2)
	if err != nil {
		t.Fatalf("BuildPyramid: %v", err)
	}
	if len(pyramid) != 7 { // 64 -> 32 -> 16 -> 8 -> 4 -> 2 -> 1 (level 0..6)
		t.Fatalf("pyramid has %d levels, want 7", len(pyramid))
	}

	// Re-decode and check widths halve and description is level-0-only.
	pages := decodeAll(t, filepath.Join(dir, "tile.tiff"))
	if len(pages) != 7 {
		t.Fatalf("decoded %d pages, want 7", len(pages))
	}
	for i, p := range pages {
		wantW := w
		for j := 0; j < i; j++ {
			wantW /= 2
		}
		if p.Width != wantW {
			t.Fatalf("page %d width = %d, want %d", i, p.Width, wantW)
		}
		if i == 0 && p.Description == "" {
			t.Fatal("level 0 must carry the description")
		}
		if i > 0 && p.Description != "" {
			t.Fatalf("level %d must not carry a description, got %q", i, p.Description)
		}
	}
}

func decodeAll(t *testing.T, path string) []*emtiff.Page {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	pages, err := emtiff.Decode(f, info.Size())
	if err != nil {
		t.Fatal(err)
	}
	return pages
}

func TestRemapPathRejectsOutsideNAS(t *testing.T) {
	_, err := RemapPath("/other/tile.tiff", "/nas/export", "https://server/data")
	if !errors.Is(err, ErrRemotePathViolation) {
		t.Fatalf("err = %v, want ErrRemotePathViolation", err)
	}
}

func TestRemapPathTranslatesPrefix(t *testing.T) {
	got, err := RemapPath("/nas/export/proj/tile.tiff", "/nas/export", "https://server/data")
	if err != nil {
		t.Fatalf("RemapPath: %v", err)
	}
	if got != "https://server/data/proj/tile.tiff" {
		t.Fatalf("RemapPath = %q", got)
	}
}

// fakeAdaptor ingests a fixed set of in-memory items, one tile each.
type fakeAdaptor struct {
	dir   string
	items []fakeItem
}

type fakeItem struct {
	stack string
	z     int
	row   int
	when  time.Time
}

func (a *fakeAdaptor) FindFiles(ctx context.Context) ([]WorkItem, error) {
	out := make([]WorkItem, len(a.items))
	for i, it := range a.items {
		out[i] = it
	}
	return out, nil
}

func (a *fakeAdaptor) CreateMipmaps(ctx context.Context, item WorkItem) ([]*geom.Tile, error) {
	it := item.(fakeItem)
	ax := geom.NewAxis(0, 100, float64(it.row)*100, 1)
	ay := geom.NewAxis(0, 100, 0, 1)
	tile := geom.NewTile(it.stack, it.z, ax, ay, it.when)
	tile.AddTransform(geom.Translation(float64(it.row)*100, 0))
	tile.Pyramid[0] = "file:///fake/0.tiff"
	return []*geom.Tile{tile}, nil
}

func TestRunAssemblesStacksAndSeals(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	adaptor := &fakeAdaptor{items: []fakeItem{
		{stack: "raw", z: 0, row: 0, when: base},
		{stack: "raw", z: 0, row: 1, when: base.Add(time.Second)},
		{stack: "raw", z: 1, row: 0, when: base.Add(2 * time.Second)},
	}}

	cfg := pipelinecfg.DefaultMipmapConfig()
	cfg.Server = pipelinecfg.Server{BaseURL: "http://x", Owner: "o", Project: "p"}
	cfg.StackName = "raw"

	stacks, err := Run(context.Background(), adaptor, cfg, workpool.NullReporter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stacks) != 1 {
		t.Fatalf("got %d stacks, want 1", len(stacks))
	}
	stack := stacks[0]
	if stack.Name != "raw" {
		t.Fatalf("stack name = %q", stack.Name)
	}
	if got := stack.ZValues(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("ZValues = %v, want [0 1]", got)
	}
	if len(stack.Tiles()) != 3 {
		t.Fatalf("got %d tiles, want 3", len(stack.Tiles()))
	}
}

func TestRunPropagatesAdaptorError(t *testing.T) {
	adaptor := &erroringAdaptor{}
	cfg := pipelinecfg.DefaultMipmapConfig()
	cfg.Server = pipelinecfg.Server{BaseURL: "http://x", Owner: "o", Project: "p"}
	cfg.StackName = "raw"

	_, err := Run(context.Background(), adaptor, cfg, workpool.NullReporter{})
	if err == nil {
		t.Fatal("expected error from adaptor to propagate")
	}
}

func TestRunRemapsPyramidPathsWhenConfigured(t *testing.T) {
	adaptor := &fakeAdaptor{items: []fakeItem{{stack: "raw", z: 0, row: 0, when: time.Now()}}}

	cfg := pipelinecfg.DefaultMipmapConfig()
	cfg.Server = pipelinecfg.Server{BaseURL: "http://x", Owner: "o", Project: "p"}
	cfg.StackName = "raw"
	cfg.NASPrefix = "/fake"
	cfg.RemotePrefix = "https://server/data"

	stacks, err := Run(context.Background(), adaptor, cfg, workpool.NullReporter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	url := stacks[0].Tiles()[0].Pyramid[0]
	if url != "https://server/data/0.tiff" {
		t.Fatalf("Pyramid[0] = %q, want remapped URL", url)
	}
}

type erroringAdaptor struct{}

func (erroringAdaptor) FindFiles(ctx context.Context) ([]WorkItem, error) {
	return []WorkItem{1}, nil
}
func (erroringAdaptor) CreateMipmaps(ctx context.Context, item WorkItem) ([]*geom.Tile, error) {
	return nil, errors.New("boom")
}
