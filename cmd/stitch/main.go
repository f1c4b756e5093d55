package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/hoogenboom-lab/render-pipeline/internal/auth"
	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
	"github.com/hoogenboom-lab/render-pipeline/internal/stitch"
	"github.com/hoogenboom-lab/render-pipeline/internal/workpool"
)

func main() {
	var (
		baseURL        string
		owner          string
		project        string
		credentials    string
		sourceStack    string
		montageBinary  string
		overlap        int
		cpuParallel    int
		clobber        bool
		verbose        bool
	)

	flag.StringVar(&baseURL, "server", "", "Render server base URL")
	flag.StringVar(&owner, "owner", "", "Render server owner")
	flag.StringVar(&project, "project", "", "Render server project")
	flag.StringVar(&credentials, "credentials", "", "Path to a basic-auth credentials file (see cmd/authstore)")
	flag.StringVar(&sourceStack, "stack", "", "Source stack to stitch")
	flag.StringVar(&montageBinary, "montage-solver", "run_bigfeta", "External montage solver executable")
	flag.IntVar(&overlap, "overlap", 400, "Seam half-width in pixels")
	flag.IntVar(&cpuParallel, "cpu-parallel", runtime.NumCPU(), "CPU pool size for feature matching")
	flag.BoolVar(&clobber, "clobber", false, "Overwrite an existing matching stack")
	flag.BoolVar(&verbose, "verbose", false, "Verbose progress output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stitch [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Discover tilepairs for -stack, match them via SIFT+RANSAC,\n")
		fmt.Fprintf(os.Stderr, "upload surviving tile-specs and pointmatches, then invoke the\n")
		fmt.Fprintf(os.Stderr, "external montage solver.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if sourceStack == "" {
		flag.Usage()
		os.Exit(1)
	}

	var creds *renderclient.Credentials
	if credentials != "" {
		c, err := auth.Load(credentials)
		if err != nil {
			log.Fatalf("Loading credentials: %v", err)
		}
		creds = c
	}

	server := pipelinecfg.Server{BaseURL: baseURL, Owner: owner, Project: project}
	cfg := pipelinecfg.DefaultStitchConfig()
	cfg.Server = server
	cfg.SourceStack = sourceStack
	cfg.Overlap = overlap
	cfg.CPUParallel = cpuParallel
	cfg.Clobber = clobber
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Printf("stitch\n")
	fmt.Printf("  %-14s %s\n", "Server:", baseURL)
	fmt.Printf("  %-14s %s\n", "Stack:", sourceStack)
	fmt.Printf("  %-14s %d\n", "Overlap:", overlap)
	fmt.Printf("  %-14s %d\n", "CPU parallel:", cpuParallel)

	client := renderclient.New(baseURL, owner, project, creds)

	var reporter workpool.Reporter
	if verbose {
		reporter = workpool.NewBarReporter("Matching", 0)
	}

	ctx := context.Background()
	start := time.Now()
	result, err := stitch.Run(ctx, client, cfg, reporter)
	if err != nil {
		log.Fatalf("Stitching: %v", err)
	}

	fmt.Printf("Matched %d tile(s), %d pointmatch(es) -> %s / %s\n",
		result.TileCount, result.MatchCount, result.MatchingStack, result.MatchCollection)

	zValues, err := client.GetZValues(ctx, sourceStack)
	if err != nil {
		log.Fatalf("Getting z values: %v", err)
	}
	if len(zValues) == 0 {
		log.Fatalf("Stack %s has no z values", sourceStack)
	}
	sort.Ints(zValues)

	solver := stitch.Solver{BinaryPath: montageBinary}
	stitchedStack, err := solver.Run(ctx, server, result.MatchingStack, result.MatchCollection, zValues[0], zValues[len(zValues)-1], cfg)
	if err != nil {
		log.Fatalf("Running montage solver: %v", err)
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	fmt.Printf("Done: %s, %v\n", stitchedStack, elapsed)
}
