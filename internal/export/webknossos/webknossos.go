// Package webknossos drives the WebKnossos export sink (spec §4.I
// "WebKnossos export"): it starts from an existing CATMAID tile tree (or
// produces one first via internal/export/catmaid) and invokes an external
// cubing script per stack to build the chunked voxel dataset. Grounded on
// original_source/scripted_render_pipeline/exporter/webknossos_exporter.py,
// whose Webknossos_Exporter wraps the Python `webknossos` package's own
// dataset/mag/view machinery — a dependency this pack has no Go equivalent
// for, so (like internal/stitch's montage solver) it is modeled as an
// external-tool invocation rather than re-implemented.
package webknossos

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hoogenboom-lab/render-pipeline/internal/export/catmaid"
	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
)

// Cuber invokes the external WebKnossos cubing script that turns a CATMAID
// tile tree into a chunked, multi-mag voxel dataset layer.
type Cuber struct {
	// BinaryPath is the cubing script executable, e.g. "wkcuber".
	BinaryPath string
}

// CubeStack invokes the cubing script for one stack's already-exported
// CATMAID tree, producing one layer in the WebKnossos dataset named
// cfg.DatasetName; where the dataset is written is left to the script
// (spec §4.I: "invoke an external
// cubing script per stack with (input_directory, dataset_name, layer_name,
// voxel_size)"). Voxel size is read off the stack's descriptor, which
// carries the same resolution written into project.yaml.
func (c Cuber) CubeStack(ctx context.Context, cfg pipelinecfg.ExportConfig, desc catmaid.StackDescriptor) error {
	inputDir := filepath.Join(cfg.OutputDir, desc.Title)
	layerName := cfg.LayerName
	if layerName == "" {
		layerName = desc.Title
	}
	voxelSize := fmt.Sprintf("%g,%g,%g", desc.Resolution[0], desc.Resolution[1], desc.Resolution[2])

	cmd := exec.CommandContext(ctx, c.BinaryPath,
		"--input", inputDir,
		"--dataset-name", cfg.DatasetName,
		"--layer-name", layerName,
		"--voxel-size", voxelSize,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("webknossos export: cubing stack %s failed: %w: %s", desc.Title, err, stderr.String())
	}
	return nil
}

// Run cubes every exported stack and, if cfg.DeleteIntermediate is set,
// removes the CATMAID tree afterward (spec §4.I "Optionally delete the
// intermediate CATMAID directory").
func Run(ctx context.Context, cfg pipelinecfg.ExportConfig, cuber Cuber, descriptors []catmaid.StackDescriptor) error {
	for _, desc := range descriptors {
		if err := cuber.CubeStack(ctx, cfg, desc); err != nil {
			return err
		}
	}
	if cfg.DeleteIntermediate {
		for _, desc := range descriptors {
			if err := os.RemoveAll(filepath.Join(cfg.OutputDir, desc.Title)); err != nil {
				return fmt.Errorf("webknossos export: removing intermediate tree for %s: %w", desc.Title, err)
			}
		}
	}
	return nil
}
