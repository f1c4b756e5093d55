// Package clem implements the CLEM ingest adaptor (spec §4.F): correlative
// light-EM acquisitions stored as multi-page OME-TIFF, one page per imaging
// channel, two grid directories per section distinguishing low- and
// high-magnification EM stacks.
package clem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hoogenboom-lab/render-pipeline/internal/emtiff"
	"github.com/hoogenboom-lab/render-pipeline/internal/geom"
	"github.com/hoogenboom-lab/render-pipeline/internal/mipmap"
	"github.com/hoogenboom-lab/render-pipeline/internal/postcorrect"
)

// dirByDatatype maps a section sub-directory name to the stack name used
// for its EM channel (spec §4.F).
var dirByDatatype = map[string]string{
	"CLEM-grid": "EM_lomag",
	"EM-grid":   "EM_himag",
}

// datatypeDirs is dirByDatatype's keys in a fixed order, so discovery is
// deterministic.
var datatypeDirs = []string{"CLEM-grid", "EM-grid"}

var (
	sectionDirRx = regexp.MustCompile(`^S\d{3}$`)
	tileFileRx   = regexp.MustCompile(`^tile-(\d{5})x(\d{5})$`)
	notDigitRx   = regexp.MustCompile(`[^0-9]`)
)

// Config configures one CLEM ingest run.
type Config struct {
	ProjectPath string // root directory holding S### section directories
	OutputDir   string // root directory pyramids are written under
	MaxLayer    int
	Downscale   int
}

// Adaptor implements mipmap.IngestAdaptor for CLEM acquisitions.
type Adaptor struct {
	cfg Config
}

func New(cfg Config) *Adaptor {
	return &Adaptor{cfg: cfg}
}

// workItem is one tiff file to ingest: every page inside produces a tile.
type workItem struct {
	filePath    string
	sectionName string
	zValue      int
	datatypeDir string
	row, col    int
}

// FindFiles walks every S### section directory, assigning the first section
// z=0 and every later section its offset from the first (spec §4.F).
func (a *Adaptor) FindFiles(ctx context.Context) ([]mipmap.WorkItem, error) {
	entries, err := os.ReadDir(a.cfg.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("clem: reading project directory %s: %w", a.cfg.ProjectPath, err)
	}

	var sectionDirs []string
	for _, e := range entries {
		if e.IsDir() && sectionDirRx.MatchString(e.Name()) {
			sectionDirs = append(sectionDirs, e.Name())
		}
	}
	sort.Strings(sectionDirs)
	if len(sectionDirs) == 0 {
		return nil, fmt.Errorf("clem: no section directories found under %s", a.cfg.ProjectPath)
	}

	var items []mipmap.WorkItem
	var firstZ *int
	for _, sectionName := range sectionDirs {
		raw, err := strconv.Atoi(notDigitRx.ReplaceAllString(sectionName, ""))
		if err != nil {
			return nil, fmt.Errorf("clem: could not get z value from %s: %w", sectionName, err)
		}
		if firstZ == nil {
			firstZ = new(int)
			*firstZ = raw
		}
		z := raw - *firstZ

		for _, datatypeDir := range datatypeDirs {
			dir := filepath.Join(a.cfg.ProjectPath, sectionName, datatypeDir)
			fileEntries, err := os.ReadDir(dir)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("clem: reading %s: %w", dir, err)
			}
			var names []string
			for _, fe := range fileEntries {
				if !fe.IsDir() && strings.HasSuffix(fe.Name(), ".tif") {
					names = append(names, fe.Name())
				}
			}
			sort.Strings(names)
			for _, name := range names {
				stem := strings.TrimSuffix(name, filepath.Ext(name))
				m := tileFileRx.FindStringSubmatch(stem)
				if m == nil {
					continue
				}
				col, _ := strconv.Atoi(m[1])
				row, _ := strconv.Atoi(m[2])
				items = append(items, workItem{
					filePath:    filepath.Join(dir, name),
					sectionName: sectionName,
					zValue:      z,
					datatypeDir: datatypeDir,
					row:         row,
					col:         col,
				})
			}
		}
	}
	return items, nil
}

// CreateMipmaps decodes one OME-TIFF file and produces one Tile per page
// (spec §4.F).
func (a *Adaptor) CreateMipmaps(ctx context.Context, item mipmap.WorkItem) ([]*geom.Tile, error) {
	wi := item.(workItem)

	f, err := os.Open(wi.filePath)
	if err != nil {
		return nil, fmt.Errorf("clem: opening %s: %w", wi.filePath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("clem: stat %s: %w", wi.filePath, err)
	}
	pages, err := emtiff.Decode(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("clem: decoding %s: %w", wi.filePath, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("clem: found empty tifffile: %s", wi.filePath)
	}

	root, err := parseOMEXML(pages[0].Description)
	if err != nil {
		return nil, fmt.Errorf("clem: %s: %w", wi.filePath, err)
	}
	imgByName := imagesByName(root.Images)
	detectorByObjective := detectorsByObjectiveID(root.Instrument.Detectors)

	tiles := make([]*geom.Tile, 0, len(pages))
	for _, page := range pages {
		tile, err := a.tileFromPage(page, wi, imgByName, detectorByObjective)
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, tile)
	}
	return tiles, nil
}

func (a *Adaptor) tileFromPage(page *emtiff.Page, wi workItem, imgByName map[string]*omeImage, detectorByObjective map[string]string) (*geom.Tile, error) {
	channel := page.PageName
	img, ok := imgByName[channel]
	if !ok {
		return nil, fmt.Errorf("clem: %s: no Image element for channel %q", wi.filePath, channel)
	}

	var stackName string
	var clipLow, clipHigh float64
	pixels := page.Pixels
	switch {
	case channel == "Secondary electrons":
		stackName = dirByDatatype[wi.datatypeDir]
		pixels = invert16(page.Pixels)
		clipLow, clipHigh = 1, 99
	case strings.HasPrefix(channel, "Filtered colour ") && wi.datatypeDir == "CLEM-grid":
		stackName = fmt.Sprintf("exc_%snm", img.Pixels.Channel.ExcitationWavelength)
		clipLow, clipHigh = 30, 99
	default:
		return nil, fmt.Errorf("clem: %s: found unexpected channel %q", wi.filePath, channel)
	}

	objectiveID := idSuffix(img.ObjectiveSettings.ID)
	detectorName, ok := detectorByObjective[objectiveID]
	if !ok {
		return nil, fmt.Errorf("clem: %s: could not find detector for objective %s", wi.filePath, objectiveID)
	}

	acquired, err := parseISOTime(img.AcquisitionDate)
	if err != nil {
		return nil, fmt.Errorf("clem: %s: parsing AcquisitionDate: %w", wi.filePath, err)
	}

	xSize, ySize := img.Pixels.PhysicalSizeX, img.Pixels.PhysicalSizeY
	var transforms []geom.Affine
	if img.Transform != nil {
		transforms = append(transforms, geom.Affine{
			A: img.Transform.A00, B: img.Transform.A01, C: img.Transform.A02,
			D: img.Transform.A10, E: img.Transform.A11, F: img.Transform.A12,
		})
	}
	if yCorrected := ySize / xSize; yCorrected != 0 {
		transforms = append(transforms, geom.Scale(1, yCorrected))
	}

	width, height := float64(page.Width), float64(page.Height)
	composed := geom.Identity()
	if len(transforms) > 0 {
		composed = geom.ComposeAll(transforms)
	}
	minX, minY, maxX, maxY := composed.BoundingBox(width, height)

	// stage position: mis-labelled as metres in the OME-XML, and y must be
	// inverted (spec §9 Open Question — kept unconditional by decision).
	posX := img.Pixels.Plane.PositionX * 1e6
	posY := img.Pixels.Plane.PositionY * 1e6 * -1

	ax := geom.NewAxis(minX, maxX, posX, xSize)
	ay := geom.NewAxis(minY, maxY, posY, xSize)

	tile := geom.NewTile(stackName, wi.zValue, ax, ay, acquired)
	for _, tr := range transforms {
		tile.AddTransform(tr)
	}
	tile.Layout = geom.Layout{
		ScopeID:   "SECOM",
		CameraID:  detectorName,
		SectionID: wi.sectionName,
		Row:       wi.row,
		Col:       wi.col,
		PixelSize: xSize,
		StageX:    posX,
		StageY:    posY,
	}
	tile.MinIntensity = postcorrect.Percentile(pixels, clipLow/100)
	tile.MaxIntensity = postcorrect.Percentile(pixels, clipHigh/100)

	xByY := fmt.Sprintf("%05dx%05d", wi.col, wi.row)
	outPath := filepath.Join(a.cfg.OutputDir, stackName, wi.sectionName, xByY, "tile.tiff")
	pyramid, err := mipmap.BuildPyramid(mipmap.Image{
		Width:       page.Width,
		Height:      page.Height,
		Pixels:      pixels,
		Description: pages0DescriptionFor(img),
		DateTime:    page.DateTime,
	}, outPath, a.cfg.MaxLayer, a.cfg.Downscale)
	if err != nil {
		return nil, fmt.Errorf("clem: %s: %w", wi.filePath, err)
	}
	tile.Pyramid = pyramid
	return tile, nil
}

// pages0DescriptionFor renders a minimal per-channel description instead of
// filtering the shared OME root down to one Image element the way the
// original does with in-place XML tree surgery: Go's encoding/xml has no
// convenient mutable-tree API, and the description is provenance only, not
// consumed downstream, so a short channel/acquisition-date summary serves
// the same purpose.
func pages0DescriptionFor(img *omeImage) string {
	return fmt.Sprintf("channel=%s acquired=%s", img.Name, img.AcquisitionDate)
}

func invert16(pixels []uint16) []uint16 {
	out := make([]uint16, len(pixels))
	for i, v := range pixels {
		out[i] = 65535 - v
	}
	return out
}

func parseISOTime(s string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
