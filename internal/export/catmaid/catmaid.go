// Package catmaid exports a render stack into a CATMAID tile-source
// directory tree (spec §4.I): one PNG per {z}/{row}_{col}_{zoom}.png, a
// small.png thumbnail per section, and a project.yaml descriptor covering
// every exported stack. Grounded on
// original_source/scripted_render_pipeline/exporter/CATMAID_exporter.py,
// adapted from its render_catmaid_boxes-client/resort-tiles two-phase shape
// (needed there because the Java client script owns its own directory
// layout) into a single box-render pass that writes tiles directly in their
// final {z}/{row}_{col}_{zoom}.png location.
package catmaid

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/image/draw"

	"github.com/hoogenboom-lab/render-pipeline/internal/encode"
	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
	"github.com/hoogenboom-lab/render-pipeline/internal/workpool"
)

// Exporter renders one or more render stacks to a CATMAID tile tree.
type Exporter struct {
	client  *renderclient.Client
	cfg     pipelinecfg.ExportConfig
	encoder encode.Encoder
}

// New creates an Exporter. The tile format is always PNG, matching the
// original's self.fmt = 'png' default.
func New(client *renderclient.Client, cfg pipelinecfg.ExportConfig) (*Exporter, error) {
	enc, err := encode.NewEncoder("png", 0)
	if err != nil {
		return nil, err
	}
	return &Exporter{client: client, cfg: cfg, encoder: enc}, nil
}

// StackDescriptor is one stack's project.yaml entry (spec §4.I
// "create_project_file").
type StackDescriptor struct {
	Title      string
	Dimensions [3]int
	Resolution [3]float64
	ZoomLevels int
}

// stackLevel computes one stack's own max zoom level (spec §4.I
// "set_export_parameters": ceil(log2(stack_max_dim / tile_size))), along
// with the bounds and resolution ExportStack needs so Run can take the
// maximum across every requested stack before rendering any of them.
func (e *Exporter) stackLevel(ctx context.Context, stack string) (renderclient.StackBounds, renderclient.StackResolution, int, error) {
	bounds, err := e.client.GetStackBounds(ctx, stack)
	if err != nil {
		return renderclient.StackBounds{}, renderclient.StackResolution{}, 0, fmt.Errorf("catmaid export: getting bounds for %s: %w", stack, err)
	}
	res, err := e.client.GetStackMetadata(ctx, stack)
	if err != nil {
		return renderclient.StackBounds{}, renderclient.StackResolution{}, 0, fmt.Errorf("catmaid export: getting metadata for %s: %w", stack, err)
	}

	width := bounds.MaxX - bounds.MinX
	height := bounds.MaxY - bounds.MinY
	span := math.Max(width, height)
	level := int(math.Ceil(math.Log2(span / float64(e.cfg.TileSize))))
	if level < 0 {
		level = 0
	}
	return bounds, res, level, nil
}

// ExportStack renders every zoom level and section of one stack into
// {OutputDir}/{stack}/{z}/{row}_{col}_{zoom}.png, plus a small.png thumbnail
// per section, and returns the descriptor to fold into the project-wide
// project.yaml. maxLevel is shared across every stack in the export (spec
// §4.I: "take the maximum across requested stacks") — pass -1 to have this
// stack's own level used standalone.
func (e *Exporter) ExportStack(ctx context.Context, stack string, maxLevel int) (StackDescriptor, error) {
	zValues, err := e.client.GetZValues(ctx, stack)
	if err != nil {
		return StackDescriptor{}, fmt.Errorf("catmaid export: getting z values for %s: %w", stack, err)
	}
	if len(zValues) == 0 {
		return StackDescriptor{}, fmt.Errorf("catmaid export: stack %s has no z values", stack)
	}
	sort.Ints(zValues)
	zMin := zValues[0]

	bounds, res, ownLevel, err := e.stackLevel(ctx, stack)
	if err != nil {
		return StackDescriptor{}, err
	}
	if maxLevel < 0 {
		maxLevel = ownLevel
	}

	width := bounds.MaxX - bounds.MinX
	height := bounds.MaxY - bounds.MinY

	var tasks []workpool.Task
	for _, z := range zValues {
		z := z
		for level := 0; level <= maxLevel; level++ {
			level := level
			tasks = append(tasks, e.renderLevelTasks(stack, z, z-zMin, level, bounds)...)
		}
	}

	pool := workpool.New(e.cfg.MaxWorkers, nil)
	if err := pool.Run(ctx, tasks); err != nil {
		return StackDescriptor{}, fmt.Errorf("catmaid export: rendering boxes for %s: %w", stack, err)
	}

	for _, z := range zValues {
		if err := e.makeThumbnail(stack, z-zMin, maxLevel); err != nil {
			return StackDescriptor{}, fmt.Errorf("catmaid export: thumbnail for %s z=%d: %w", stack, z, err)
		}
	}

	return StackDescriptor{
		Title:      stack,
		Dimensions: [3]int{int(width * 1.1), int(height * 1.1), len(zValues)},
		Resolution: [3]float64{round5(res.X), round5(res.Y), round5(res.Z)},
		ZoomLevels: maxLevel + 1,
	}, nil
}

// renderLevelTasks returns one task per tile at one zoom level of one
// section (spec §4.I step 1, "render_catmaid_boxes_across_N_cores").
func (e *Exporter) renderLevelTasks(stack string, z, relZ, level int, bounds renderclient.StackBounds) []workpool.Task {
	scale := 1.0 / math.Pow(2, float64(level))
	worldTile := float64(e.cfg.TileSize) / scale

	cols := int(math.Ceil((bounds.MaxX - bounds.MinX) / worldTile))
	rows := int(math.Ceil((bounds.MaxY - bounds.MinY) / worldTile))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	tasks := make([]workpool.Task, 0, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			row, col := row, col
			tasks = append(tasks, func(ctx context.Context) error {
				x := bounds.MinX + float64(col)*worldTile
				y := bounds.MinY + float64(row)*worldTile
				img, err := e.client.BBImage(ctx, stack, z, x, y, worldTile, worldTile, scale)
				if err != nil {
					return fmt.Errorf("fetching tile z=%d level=%d row=%d col=%d: %w", z, level, row, col, err)
				}
				data, err := e.encoder.Encode(img)
				if err != nil {
					return err
				}
				dir := filepath.Join(e.cfg.OutputDir, stack, fmt.Sprint(relZ))
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
				name := fmt.Sprintf("%d_%d_%d%s", row, col, level, e.encoder.FileExtension())
				return os.WriteFile(filepath.Join(dir, name), data, 0o644)
			})
		}
	}
	return tasks
}

// makeThumbnail resizes the most-zoomed-out tile (0_0_{maxLevel}) down to
// ThumbnailSize x ThumbnailSize and saves it as small.png (spec §4.I step 3,
// "make_thumbnails").
func (e *Exporter) makeThumbnail(stack string, relZ, maxLevel int) error {
	dir := filepath.Join(e.cfg.OutputDir, stack, fmt.Sprint(relZ))
	src, err := decodePNG(filepath.Join(dir, fmt.Sprintf("0_0_%d%s", maxLevel, e.encoder.FileExtension())))
	if err != nil {
		return err
	}

	size := e.cfg.ThumbnailSize
	dst := newRGBA(size, size)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	data, err := e.encoder.Encode(dst)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "small"+e.encoder.FileExtension()), data, 0o644)
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}

// Run exports every stack in cfg and writes the combined project.yaml
// (spec §4.I "export_stacks"), returning each stack's descriptor so a
// caller chaining into WebKnossos cubing has its resolution/zoom-level
// metadata without re-reading project.yaml.
func Run(ctx context.Context, client *renderclient.Client, cfg pipelinecfg.ExportConfig) ([]StackDescriptor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	exporter, err := New(client, cfg)
	if err != nil {
		return nil, err
	}

	maxLevel := 0
	for _, stack := range cfg.Stacks {
		_, _, level, err := exporter.stackLevel(ctx, stack)
		if err != nil {
			return nil, err
		}
		if level > maxLevel {
			maxLevel = level
		}
	}

	descriptors := make([]StackDescriptor, 0, len(cfg.Stacks))
	for _, stack := range cfg.Stacks {
		d, err := exporter.ExportStack(ctx, stack, maxLevel)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	if err := WriteProjectFile(cfg, descriptors); err != nil {
		return nil, err
	}
	return descriptors, nil
}
