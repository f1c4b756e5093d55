package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
	"github.com/hoogenboom-lab/render-pipeline/internal/postcorrect"
	"github.com/hoogenboom-lab/render-pipeline/internal/workpool"
)

func main() {
	var (
		sampleSize       int
		percentile       float64
		madMultiplier    float64
		minClean         int
		restoreMeanLevel float64
		parallel         int
		verbose          bool
	)

	flag.IntVar(&sampleSize, "sample-size", 10, "Images sampled per section")
	flag.Float64Var(&percentile, "percentile", 0.001, "Lowest-resolution percentile sampled per image")
	flag.Float64Var(&madMultiplier, "mad-multiplier", 3, "MED +/- a*MAD outlier threshold")
	flag.IntVar(&minClean, "min-clean", 20, "Minimum clean images required to estimate a section background")
	flag.Float64Var(&restoreMeanLevel, "restore-mean", 32768, "Level corrected images are restored to after background subtraction")
	flag.IntVar(&parallel, "parallel", runtime.NumCPU(), "I/O worker pool size")
	flag.BoolVar(&verbose, "verbose", false, "Verbose progress output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: postcorrect [flags] <sections-root>\n\n")
		fmt.Fprintf(os.Stderr, "Flat-field correct raw EM sections found under <sections-root>,\n")
		fmt.Fprintf(os.Stderr, "one subdirectory per section, writing corrected TIFFs alongside.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		os.Exit(1)
	}
	root := args[0]

	proj, err := discoverProject(root)
	if err != nil {
		log.Fatalf("Discovering sections: %v", err)
	}
	if len(proj.Sections) == 0 {
		log.Fatalf("No section directories with .tif files found under %s", root)
	}

	cfg := pipelinecfg.PostCorrectConfig{
		SampleSize:       sampleSize,
		Percentile:       percentile,
		MADMultiplier:    madMultiplier,
		MinClean:         minClean,
		RestoreMeanLevel: restoreMeanLevel,
		Parallel:         parallel,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Printf("postcorrect\n")
	fmt.Printf("  %-16s %s\n", "Sections root:", root)
	fmt.Printf("  %-16s %d\n", "Sections found:", len(proj.Sections))
	fmt.Printf("  %-16s %d\n", "Sample size:", sampleSize)
	fmt.Printf("  %-16s %g\n", "MAD multiplier:", madMultiplier)
	fmt.Printf("  %-16s %d\n", "Parallel:", parallel)

	var reporter workpool.Reporter
	if verbose {
		total := 0
		for _, files := range proj.Sections {
			total += len(files)
		}
		reporter = workpool.NewBarReporter("Correcting", int64(total))
	}

	start := time.Now()
	result, err := postcorrect.Run(context.Background(), proj, cfg, reporter)
	if err != nil {
		log.Fatalf("Post-correction: %v", err)
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	fmt.Printf("Done: %d/%d sections corrected, %d failed, %v\n",
		len(result.Corrected), len(proj.Sections), len(result.Failed), elapsed)
	if len(result.Failed) > 0 {
		var ids []int
		for id := range result.Failed {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		fmt.Printf("Failed sections: %v\n", ids)
		os.Exit(1)
	}
}

// discoverProject scans root for section subdirectories in lexical order,
// each contributing every *.tif/*.tiff file it directly contains.
func discoverProject(root string) (postcorrect.Project, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return postcorrect.Project{}, err
	}

	var dirNames []string
	for _, e := range entries {
		if e.IsDir() {
			dirNames = append(dirNames, e.Name())
		}
	}
	sort.Strings(dirNames)

	proj := postcorrect.Project{}
	for i, name := range dirNames {
		sectionDir := filepath.Join(root, name)
		files, err := os.ReadDir(sectionDir)
		if err != nil {
			return postcorrect.Project{}, fmt.Errorf("reading %s: %w", sectionDir, err)
		}
		var raws []postcorrect.RawFile
		for _, f := range files {
			if f.IsDir() || !isTIFF(f.Name()) {
				continue
			}
			raws = append(raws, postcorrect.RawFile{
				Path:      filepath.Join(sectionDir, f.Name()),
				SectionID: i,
			})
		}
		if len(raws) == 0 {
			continue
		}
		sort.Slice(raws, func(a, b int) bool { return raws[a].Path < raws[b].Path })
		proj.Sections = append(proj.Sections, raws)
		proj.SectionDirs = append(proj.SectionDirs, sectionDir)
	}
	return proj, nil
}

func isTIFF(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff")
}
