package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hoogenboom-lab/render-pipeline/internal/auth"
	"github.com/hoogenboom-lab/render-pipeline/internal/ingest/catmaidreplay"
	"github.com/hoogenboom-lab/render-pipeline/internal/mipmap"
	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
	"github.com/hoogenboom-lab/render-pipeline/internal/upload"
	"github.com/hoogenboom-lab/render-pipeline/internal/workpool"
)

func main() {
	var (
		baseURL      string
		owner        string
		project      string
		credentials  string
		outputDir    string
		zResolution  float64
		maxLayer     int
		downscale    int
		parallel     int
		clobber      bool
		verbose      bool
	)

	flag.StringVar(&baseURL, "server", "", "Render server base URL")
	flag.StringVar(&owner, "owner", "", "Render server owner")
	flag.StringVar(&project, "project", "", "Render server project")
	flag.StringVar(&credentials, "credentials", "", "Path to a basic-auth credentials file (see cmd/authstore)")
	flag.StringVar(&outputDir, "output", "", "Directory mipmap pyramids are written under")
	flag.Float64Var(&zResolution, "z-resolution", 40, "Section thickness in nanometres")
	flag.IntVar(&maxLayer, "max-layer", 8, "Pyramid levels beyond level 0")
	flag.IntVar(&downscale, "downscale", 2, "Pyramid downscale factor")
	flag.IntVar(&parallel, "parallel", 40, "I/O worker pool size")
	flag.BoolVar(&clobber, "clobber", false, "Overwrite an existing stack")
	flag.BoolVar(&verbose, "verbose", false, "Verbose progress output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mipmap-catmaid [flags] <catmaid-tree-dir>\n\n")
		fmt.Fprintf(os.Stderr, "Reimport an existing CATMAID box-tile tree ({z}/{row}_{col}_0.png)\n")
		fmt.Fprintf(os.Stderr, "as a grid-placed stack, build its mipmap pyramid, and upload it to\n")
		fmt.Fprintf(os.Stderr, "a render server.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		os.Exit(1)
	}
	projectPath := args[0]

	if outputDir == "" {
		outputDir = filepath.Join(projectPath, "mipmaps")
	}

	var creds *renderclient.Credentials
	if credentials != "" {
		c, err := auth.Load(credentials)
		if err != nil {
			log.Fatalf("Loading credentials: %v", err)
		}
		creds = c
	}

	adaptor := catmaidreplay.New(catmaidreplay.Config{
		ProjectPath: projectPath,
		OutputDir:   outputDir,
		MaxLayer:    maxLayer,
		Downscale:   downscale,
	})

	cfg := pipelinecfg.MipmapConfig{
		Server:      pipelinecfg.Server{BaseURL: baseURL, Owner: owner, Project: project},
		StackName:   filepath.Base(filepath.Clean(projectPath)),
		ZResolution: zResolution,
		Parallel:    parallel,
		Clobber:     clobber,
		MaxLayer:    maxLayer,
		Downscale:   downscale,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Printf("mipmap-catmaid\n")
	fmt.Printf("  %-14s %s\n", "Tree:", projectPath)
	fmt.Printf("  %-14s %s\n", "Output:", outputDir)
	fmt.Printf("  %-14s %s\n", "Server:", baseURL)
	fmt.Printf("  %-14s %d\n", "Parallel:", parallel)

	var reporter workpool.Reporter
	if verbose {
		reporter = workpool.NewBarReporter("Mipmapping", 0)
	}

	start := time.Now()
	stacks, err := mipmap.Run(context.Background(), adaptor, cfg, reporter)
	if err != nil {
		log.Fatalf("Mipmapping: %v", err)
	}

	client := renderclient.New(baseURL, owner, project, creds)
	uploader := upload.New(client, clobber)
	for _, stack := range stacks {
		if err := uploader.Upload(context.Background(), stack, upload.ZResolution(zResolution)); err != nil {
			log.Fatalf("Uploading stack %q: %v", stack.Name, err)
		}
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	fmt.Printf("Done: %d stack(s) uploaded, %v\n", len(stacks), elapsed)
}
