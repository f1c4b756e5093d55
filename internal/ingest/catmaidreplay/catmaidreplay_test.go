package catmaidreplay

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeTestPNG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(1000 + x + y)})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFindFilesWalksZDirectories(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "myproject")
	writeTestPNG(t, filepath.Join(project, "0", "000_000_0.png"), 4, 4)
	writeTestPNG(t, filepath.Join(project, "0", "000_001_0.png"), 4, 4)
	writeTestPNG(t, filepath.Join(project, "1", "000_000_0.png"), 4, 4)

	a := New(Config{ProjectPath: project})
	items, err := a.FindFiles(context.Background())
	if err != nil {
		t.Fatalf("FindFiles: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
}

func TestFindFilesIgnoresNonMatchingFiles(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "myproject")
	writeTestPNG(t, filepath.Join(project, "0", "000_000_0.png"), 4, 4)
	if err := os.WriteFile(filepath.Join(project, "0", "readme.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	a := New(Config{ProjectPath: project})
	items, err := a.FindFiles(context.Background())
	if err != nil {
		t.Fatalf("FindFiles: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
}

func TestCreateMipmapsGridPlacementAndStackName(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "myproject")
	writeTestPNG(t, filepath.Join(project, "3", "002_001_0.png"), 4, 4)

	a := New(Config{ProjectPath: project, OutputDir: filepath.Join(root, "out"), MaxLayer: 1, Downscale: 2})
	items, err := a.FindFiles(context.Background())
	if err != nil {
		t.Fatalf("FindFiles: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}

	tiles, err := a.CreateMipmaps(context.Background(), items[0])
	if err != nil {
		t.Fatalf("CreateMipmaps: %v", err)
	}
	if len(tiles) != 1 {
		t.Fatalf("got %d tiles, want 1", len(tiles))
	}
	tile := tiles[0]
	if tile.StackName != "myproject" {
		t.Fatalf("StackName = %q, want myproject", tile.StackName)
	}
	if tile.ZValue != 3 {
		t.Fatalf("ZValue = %d, want 3", tile.ZValue)
	}
	if tile.Layout.Row != 2 || tile.Layout.Col != 1 {
		t.Fatalf("Layout row/col = %d/%d, want 2/1", tile.Layout.Row, tile.Layout.Col)
	}
	minX, minY, _, _ := tile.WorldBounds()
	if minX != 4 || minY != 8 {
		t.Fatalf("WorldBounds min = (%v, %v), want (4, 8)", minX, minY)
	}
	if len(tile.Pyramid) == 0 {
		t.Fatal("expected a non-empty pyramid")
	}
}

func TestSyntheticTimestampDeterministicAndDistinct(t *testing.T) {
	a := syntheticTimestamp(1, 2, 3)
	b := syntheticTimestamp(1, 2, 3)
	if !a.Equal(b) {
		t.Fatal("syntheticTimestamp not deterministic")
	}
	c := syntheticTimestamp(1, 2, 4)
	if a.Equal(c) {
		t.Fatal("syntheticTimestamp did not vary with col")
	}
}
