package postcorrect

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hoogenboom-lab/render-pipeline/internal/emtiff"
	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
	"github.com/hoogenboom-lab/render-pipeline/internal/workpool"
)

// Project describes one post-correction run: the ordered list of section
// directories (index = section ordinal, used for neighbour fallback) and
// where corrected output goes.
type Project struct {
	// Sections[i] is every raw tiff file belonging to section i, in
	// ascending z order.
	Sections [][]RawFile
	// SectionDirs[i] is section i's base directory; its corrected output
	// goes into a "postcorrection/" subdirectory of it.
	SectionDirs []string // len == len(Sections); per-section base directory
}

// Result reports, per section, whether correction succeeded and how many
// output files were written.
type Result struct {
	Corrected map[int]int  // sectionID -> file count written
	Failed    map[int]bool // sectionID -> true if never corrected
}

// Run executes the full post-correction stage: global sampling, background
// estimation, per-section correction, and neighbour fallback for sections
// that failed on the first pass (spec §4.D).
func Run(ctx context.Context, proj Project, cfg pipelinecfg.PostCorrectConfig, reporter workpool.Reporter) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sectionFiles := make(map[int][]RawFile, len(proj.Sections))
	for i, files := range proj.Sections {
		sectionFiles[i] = files
	}

	rng := rand.New(rand.NewSource(1))
	samples, stats, err := ComputeGlobalStats(sectionFiles, cfg, rng)
	if err != nil {
		return nil, err
	}
	verdicts := ClassifySections(samples, stats, cfg)

	result := &Result{Corrected: map[int]int{}, Failed: map[int]bool{}}
	var mu sync.Mutex

	pool := workpool.New(cfg.Parallel, reporter)

	// Pass 1: sections with enough clean images get their own background.
	backgrounds := make(map[int]*Background)
	var tasks []workpool.Task
	for sectionID, v := range verdicts {
		sectionID, v := sectionID, v
		if v.Failed {
			mu.Lock()
			result.Failed[sectionID] = true
			mu.Unlock()
			continue
		}
		tasks = append(tasks, func(ctx context.Context) error {
			bg, err := EstimateBackground(v.Clean)
			if err != nil {
				return err
			}
			if err := SaveBackground(postcorrectionDir(proj.SectionDirs[sectionID]), bg); err != nil {
				return err
			}
			mu.Lock()
			backgrounds[sectionID] = bg
			mu.Unlock()
			return nil
		})
	}
	if err := pool.Run(ctx, tasks); err != nil {
		return nil, err
	}

	// Apply correction for every section with a background from pass 1.
	var correctTasks []workpool.Task
	for sectionID := range sectionFiles {
		sectionID := sectionID
		bg, ok := backgrounds[sectionID]
		if !ok {
			continue
		}
		correctTasks = append(correctTasks, func(ctx context.Context) error {
			n, err := correctSection(proj.Sections[sectionID], proj.SectionDirs[sectionID], bg, cfg)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Corrected[sectionID] = n
			mu.Unlock()
			return nil
		})
	}
	if err := pool.Run(ctx, correctTasks); err != nil {
		return nil, err
	}

	// Pass 2: neighbour fallback for sections that failed.
	var failedIDs []int
	for id := range result.Failed {
		failedIDs = append(failedIDs, id)
	}
	sort.Ints(failedIDs)

	for _, sectionID := range failedIDs {
		order := NeighbourSearchOrder(sectionID, len(proj.Sections))
		var borrowed *Background
		for _, neighbour := range order {
			bg, ok, err := LoadBackground(postcorrectionDir(proj.SectionDirs[neighbour]))
			if err != nil {
				return nil, err
			}
			if ok {
				borrowed = bg
				break
			}
		}
		if borrowed == nil {
			continue // no neighbour available; section stays failed (spec §4.D "Failure semantics")
		}
		n, err := correctSection(proj.Sections[sectionID], proj.SectionDirs[sectionID], borrowed, cfg)
		if err != nil {
			return nil, err
		}
		result.Corrected[sectionID] = n
		delete(result.Failed, sectionID)
	}

	return result, nil
}

func postcorrectionDir(sectionDir string) string {
	return filepath.Join(sectionDir, "postcorrection")
}

// correctSection rewrites every raw file in a section against background,
// writing each as a pyramidal 16-bit tiff in the section's postcorrection/
// directory, and copies the metadata YAML sidecar alongside (spec §4.D
// step 5).
func correctSection(files []RawFile, sectionDir string, bg *Background, cfg pipelinecfg.PostCorrectConfig) (int, error) {
	outDir := postcorrectionDir(sectionDir)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return 0, fmt.Errorf("postcorrect: creating %s: %w", outDir, err)
	}

	n := 0
	for _, f := range files {
		page, err := decodeFullRes(f.Path)
		if err != nil {
			return n, err
		}
		if page.Width != bg.Width || page.Height != bg.Height {
			return n, fmt.Errorf("postcorrect: %s is %dx%d, background is %dx%d", f.Path, page.Width, page.Height, bg.Width, bg.Height)
		}

		corrected := CorrectImage(page.Pixels, bg.Pixels, cfg.RestoreMeanLevel)

		data, err := emtiff.EncodePyramid([]emtiff.WritePage{{
			Width:       page.Width,
			Height:      page.Height,
			Pixels:      corrected,
			Description: page.Description,
			DateTime:    page.DateTime,
		}})
		if err != nil {
			return n, fmt.Errorf("postcorrect: encoding %s: %w", f.Path, err)
		}

		outPath := filepath.Join(outDir, filepath.Base(f.Path))
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			return n, fmt.Errorf("postcorrect: writing %s: %w", outPath, err)
		}

		if err := copyYAMLSidecar(f.Path, outDir); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// copyYAMLSidecar copies a raw file's metadata YAML (same basename, .yaml
// extension) alongside the corrected output, if it exists.
func copyYAMLSidecar(rawPath, outDir string) error {
	base := strings.TrimSuffix(rawPath, filepath.Ext(rawPath))
	yamlPath := base + ".yaml"

	src, err := os.Open(yamlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("postcorrect: opening %s: %w", yamlPath, err)
	}
	defer src.Close()

	dstPath := filepath.Join(outDir, filepath.Base(yamlPath))
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("postcorrect: creating %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("postcorrect: copying %s: %w", yamlPath, err)
	}
	return nil
}
