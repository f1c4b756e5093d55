// Package fastem implements the FASTEM ingest adaptor (spec §4.F):
// single-page raw tiffs named by their grid row/column, placed either on a
// no-overlap grid or at positions read from a positions.txt sidecar, plus
// an optional corrected/ sub-directory that reuses its raw sibling's
// acquisition timestamp.
package fastem

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hoogenboom-lab/render-pipeline/internal/emtiff"
	"github.com/hoogenboom-lab/render-pipeline/internal/geom"
	"github.com/hoogenboom-lab/render-pipeline/internal/mipmap"
	"github.com/hoogenboom-lab/render-pipeline/internal/postcorrect"
)

const (
	metadataFilename  = "mega_field_meta_data.yaml"
	positionsFilename = "positions.txt"
	correctionsDir    = "corrected"
	scopeID           = "FASTEM"
)

var (
	tileFileRx     = regexp.MustCompile(`^(\d{3})_(\d{3})_0$`)
	positionLineRx = regexp.MustCompile(`^(\d{3}_\d{3}_0\.tiff) at (\d+), (\d+)$`)
)

// Config configures one FASTEM ingest run. ProjectPath is a single section
// directory (or its corrected/ sub-directory); the stack name is derived
// from the directory name, following the original tool's one-directory-per-
// invocation convention.
type Config struct {
	ProjectPath  string
	OutputDir    string
	MaxLayer     int
	Downscale    int
	UsePositions bool // honour positions.txt if present (spec §4.F)
}

// megaFieldMetadata is the subset of mega_field_meta_data.yaml this adaptor
// reads.
type megaFieldMetadata struct {
	PixelSize float64 `yaml:"pixel_size"` // nanometres
}

// Adaptor implements mipmap.IngestAdaptor for FASTEM acquisitions.
type Adaptor struct {
	cfg       Config
	positions map[string][2]int // filename -> (x, y), nil if unused
}

func New(cfg Config) *Adaptor {
	return &Adaptor{cfg: cfg}
}

type workItem struct {
	filePath    string
	sectionName string
	zValue      int
	pixelSizeUm float64
	corrected   bool
}

// findPositions looks for positions.txt inside ProjectPath or inside its
// corrected/ sub-directory, parsing it into a filename->(x,y) map (spec §4.F
// "if positions.txt exists and use_positions is enabled").
func (a *Adaptor) findPositions() error {
	path := filepath.Join(a.cfg.ProjectPath, positionsFilename)
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(a.cfg.ProjectPath, correctionsDir, positionsFilename)
		if _, err := os.Stat(path); err != nil {
			a.positions = nil
			return nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fastem: opening %s: %w", path, err)
	}
	defer f.Close()

	positions := make(map[string][2]int)
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line, discarded
	for scanner.Scan() {
		line := scanner.Text()
		m := positionLineRx.FindStringSubmatch(line)
		if m == nil {
			return fmt.Errorf("fastem: positions.txt at %s could not be parsed at line %q", path, line)
		}
		x, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		positions[m[1]] = [2]int{x, y}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("fastem: reading %s: %w", path, err)
	}
	a.positions = positions
	return nil
}

// FindFiles enumerates every raw tiff under ProjectPath (spec §4.F).
func (a *Adaptor) FindFiles(ctx context.Context) ([]mipmap.WorkItem, error) {
	if a.cfg.UsePositions {
		if err := a.findPositions(); err != nil {
			return nil, err
		}
	}

	metadataPath := filepath.Join(a.cfg.ProjectPath, metadataFilename)
	metaBytes, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("fastem: reading %s: %w", metadataPath, err)
	}
	var meta megaFieldMetadata
	if err := yaml.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("fastem: parsing %s: %w", metadataPath, err)
	}
	pixelSizeUm := meta.PixelSize / 1000 // nm -> um

	corrected := filepath.Base(a.cfg.ProjectPath) == correctionsDir
	parts := strings.Split(filepath.Clean(a.cfg.ProjectPath), string(filepath.Separator))
	if len(parts) < 2 {
		return nil, fmt.Errorf("fastem: project path %s too shallow to derive project/section name", a.cfg.ProjectPath)
	}
	var sectionName string
	if corrected {
		if len(parts) < 3 {
			return nil, fmt.Errorf("fastem: corrected project path %s too shallow", a.cfg.ProjectPath)
		}
		sectionName = parts[len(parts)-2] + "_" + correctionsDir
	} else {
		sectionName = parts[len(parts)-1]
	}

	entries, err := os.ReadDir(a.cfg.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("fastem: reading %s: %w", a.cfg.ProjectPath, err)
	}

	var items []mipmap.WorkItem
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if !tileFileRx.MatchString(stem) {
			continue
		}
		items = append(items, workItem{
			filePath:    filepath.Join(a.cfg.ProjectPath, e.Name()),
			sectionName: sectionName,
			zValue:      0,
			pixelSizeUm: pixelSizeUm,
			corrected:   corrected,
		})
	}
	return items, nil
}

// CreateMipmaps reads one raw tiff and places it on the configured grid or
// at its recorded position (spec §4.F).
func (a *Adaptor) CreateMipmaps(ctx context.Context, item mipmap.WorkItem) ([]*geom.Tile, error) {
	wi := item.(workItem)

	m := tileFileRx.FindStringSubmatch(strings.TrimSuffix(filepath.Base(wi.filePath), filepath.Ext(wi.filePath)))
	col, _ := strconv.Atoi(m[1])
	row, _ := strconv.Atoi(m[2])

	page, err := readFirstPage(wi.filePath)
	if err != nil {
		return nil, err
	}

	dateTime := page.DateTime
	if wi.corrected {
		// corrected tiffs drop the DateTime tag; borrow it from the
		// corresponding raw file one directory up (spec §4.F).
		rawPath := filepath.Join(filepath.Dir(filepath.Dir(wi.filePath)), filepath.Base(wi.filePath))
		rawPage, err := readFirstPage(rawPath)
		if err != nil {
			return nil, fmt.Errorf("fastem: borrowing DateTime from %s: %w", rawPath, err)
		}
		dateTime = rawPage.DateTime
	}
	acquired, err := time.Parse("2006:01:02 15:04:05", dateTime)
	if err != nil {
		return nil, fmt.Errorf("fastem: %s: parsing DateTime: %w", wi.filePath, err)
	}

	width, height := float64(page.Width), float64(page.Height)

	var worldX, worldY float64
	if a.positions != nil {
		pos, ok := a.positions[filepath.Base(wi.filePath)]
		if !ok {
			return nil, fmt.Errorf("fastem: file %s was not found in positions.txt", wi.filePath)
		}
		worldX, worldY = float64(pos[0]), float64(pos[1])
	} else {
		// no overlap grid; x/y appear swapped in the original tool's own
		// "x and y are flipped?" comment, kept as observed.
		worldX = float64(row) * width
		worldY = float64(col) * height
	}

	// Grid and positions.txt coordinates are already in pixel space (unlike
	// CLEM's physical stage position), so the axis carries no further
	// pixel-size conversion here; Layout.PixelSize records the physical
	// metadata separately.
	ax := geom.NewAxis(0, width, worldX, 1)
	ay := geom.NewAxis(0, height, worldY, 1)

	stackName := geom.SanitizeStackName(wi.sectionName)
	tile := geom.NewTile(stackName, wi.zValue, ax, ay, acquired)
	tile.Layout = geom.Layout{
		ScopeID:   scopeID,
		SectionID: wi.sectionName,
		Row:       row,
		Col:       col,
		PixelSize: wi.pixelSizeUm,
		StageX:    worldX,
		StageY:    worldY,
	}
	tile.MinIntensity = postcorrect.Percentile(page.Pixels, 0.01)
	tile.MaxIntensity = postcorrect.Percentile(page.Pixels, 0.99)

	xByY := fmt.Sprintf("%03dx%03d", col, row)
	outPath := filepath.Join(a.cfg.OutputDir, stackName, xByY, "tile.tiff")
	pyramid, err := mipmap.BuildPyramid(mipmap.Image{
		Width:  page.Width,
		Height: page.Height,
		Pixels: page.Pixels,
	}, outPath, a.cfg.MaxLayer, a.cfg.Downscale)
	if err != nil {
		return nil, fmt.Errorf("fastem: %s: %w", wi.filePath, err)
	}
	tile.Pyramid = pyramid

	return []*geom.Tile{tile}, nil
}

func readFirstPage(path string) (*emtiff.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fastem: opening %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("fastem: stat %s: %w", path, err)
	}
	pages, err := emtiff.Decode(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("fastem: decoding %s: %w", path, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("fastem: found empty tifffile: %s", path)
	}
	return pages[0], nil
}
