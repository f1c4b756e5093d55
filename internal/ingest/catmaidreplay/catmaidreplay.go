// Package catmaidreplay implements the CATMAID-replay ingest adaptor (spec
// §4.F): reimports an existing CATMAID box-tile tree, one PNG per grid cell
// at path "{z}/{row}_{col}_0.png", as a grid-placed stack with synthetic
// per-tile timestamps so later pipeline stages (stitching, re-export) see
// ordinary Tile records.
package catmaidreplay

import (
	"context"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/hoogenboom-lab/render-pipeline/internal/geom"
	"github.com/hoogenboom-lab/render-pipeline/internal/mipmap"
)

var (
	zDirRx    = regexp.MustCompile(`^\d+$`)
	tileFileRx = regexp.MustCompile(`^(\d+)_(\d+)_0$`)
)

// Config configures one CATMAID-replay ingest run.
type Config struct {
	ProjectPath string // directory holding {z}/{row}_{col}_0.png
	OutputDir   string
	MaxLayer    int
	Downscale   int
}

// Adaptor implements mipmap.IngestAdaptor for re-importing a CATMAID tree.
type Adaptor struct {
	cfg        Config
	stackName  string
}

func New(cfg Config) *Adaptor {
	return &Adaptor{cfg: cfg, stackName: geom.SanitizeStackName(filepath.Base(filepath.Clean(cfg.ProjectPath)))}
}

type workItem struct {
	filePath string
	z, row, col int
}

// FindFiles walks every {z}/{row}_{col}_0.png under ProjectPath (spec §4.F).
func (a *Adaptor) FindFiles(ctx context.Context) ([]mipmap.WorkItem, error) {
	zEntries, err := os.ReadDir(a.cfg.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("catmaidreplay: reading %s: %w", a.cfg.ProjectPath, err)
	}

	var zDirs []string
	for _, e := range zEntries {
		if e.IsDir() && zDirRx.MatchString(e.Name()) {
			zDirs = append(zDirs, e.Name())
		}
	}
	sort.Strings(zDirs)
	if len(zDirs) == 0 {
		return nil, fmt.Errorf("catmaidreplay: no z directories found under %s", a.cfg.ProjectPath)
	}

	var items []mipmap.WorkItem
	for _, zDir := range zDirs {
		z, err := strconv.Atoi(zDir)
		if err != nil {
			return nil, fmt.Errorf("catmaidreplay: z directory %q is not numeric: %w", zDir, err)
		}
		dir := filepath.Join(a.cfg.ProjectPath, zDir)
		fileEntries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("catmaidreplay: reading %s: %w", dir, err)
		}
		var names []string
		for _, fe := range fileEntries {
			if !fe.IsDir() {
				names = append(names, fe.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			stem := name[:len(name)-len(filepath.Ext(name))]
			m := tileFileRx.FindStringSubmatch(stem)
			if m == nil {
				continue
			}
			row, _ := strconv.Atoi(m[1])
			col, _ := strconv.Atoi(m[2])
			items = append(items, workItem{
				filePath: filepath.Join(dir, name),
				z:        z,
				row:      row,
				col:      col,
			})
		}
	}
	return items, nil
}

// CreateMipmaps reads one PNG box tile and places it at its grid cell with
// pixel_size=1 and a synthetic "{z}_{row}_{col}" acquisition timestamp (spec
// §4.F), so tiles otherwise indistinguishable in acquisition order still
// sort deterministically.
func (a *Adaptor) CreateMipmaps(ctx context.Context, item mipmap.WorkItem) ([]*geom.Tile, error) {
	wi := item.(workItem)

	f, err := os.Open(wi.filePath)
	if err != nil {
		return nil, fmt.Errorf("catmaidreplay: opening %s: %w", wi.filePath, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("catmaidreplay: decoding %s: %w", wi.filePath, err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	pixels := make([]uint16, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gray, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			pixels[y*width+x] = uint16(gray)
		}
	}

	worldX, worldY := float64(wi.col)*float64(width), float64(wi.row)*float64(height)
	ax := geom.NewAxis(0, float64(width), worldX, 1)
	ay := geom.NewAxis(0, float64(height), worldY, 1)

	acquired := syntheticTimestamp(wi.z, wi.row, wi.col)
	tile := geom.NewTile(a.stackName, wi.z, ax, ay, acquired)
	tile.Layout = geom.Layout{
		SectionID: a.stackName,
		Row:       wi.row,
		Col:       wi.col,
		PixelSize: 1,
		StageX:    worldX,
		StageY:    worldY,
	}
	tile.MinIntensity = 0
	tile.MaxIntensity = 65535

	outPath := filepath.Join(a.cfg.OutputDir, a.stackName, fmt.Sprintf("%d", wi.z), fmt.Sprintf("%d_%d", wi.row, wi.col), "tile.tiff")
	pyramid, err := mipmap.BuildPyramid(mipmap.Image{
		Width:  width,
		Height: height,
		Pixels: pixels,
	}, outPath, a.cfg.MaxLayer, a.cfg.Downscale)
	if err != nil {
		return nil, fmt.Errorf("catmaidreplay: %s: %w", wi.filePath, err)
	}
	tile.Pyramid = pyramid

	return []*geom.Tile{tile}, nil
}

// syntheticTimestamp derives a deterministic, order-preserving timestamp
// from a tile's grid coordinates (spec §4.F "unique per-tile synthetic
// timestamp = {z}_{row}_{col}"), since a replayed CATMAID tree carries no
// acquisition time of its own. Timestamps stay unique and ordered by
// (z, row, col) while row and col are below one million.
func syntheticTimestamp(z, row, col int) time.Time {
	epoch := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	return epoch.Add(time.Duration(z)*1000*time.Second + time.Duration(row)*time.Millisecond + time.Duration(col)*time.Nanosecond)
}
