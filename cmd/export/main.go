package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/hoogenboom-lab/render-pipeline/internal/auth"
	"github.com/hoogenboom-lab/render-pipeline/internal/export/catmaid"
	"github.com/hoogenboom-lab/render-pipeline/internal/export/webknossos"
	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
)

func main() {
	var (
		baseURL       string
		owner         string
		project       string
		credentials   string
		stacksFlag    string
		outputDir     string
		format        string
		tileSize      int
		maxWorkers    int
		thumbnailSize int
		datasetName   string
		layerName     string
		cubingBinary  string
		deleteIntermediate bool
	)

	flag.StringVar(&baseURL, "server", "", "Render server base URL")
	flag.StringVar(&owner, "owner", "", "Render server owner")
	flag.StringVar(&project, "project", "", "Render server project")
	flag.StringVar(&credentials, "credentials", "", "Path to a basic-auth credentials file (see cmd/authstore)")
	flag.StringVar(&stacksFlag, "stacks", "", "Comma-separated list of stacks to export")
	flag.StringVar(&outputDir, "output", "", "Directory the CATMAID tree and project.yaml are written under")
	flag.StringVar(&format, "format", "catmaid", "Export sink: catmaid, webknossos")
	flag.IntVar(&tileSize, "tile-size", 1024, "CATMAID tile size in pixels")
	flag.IntVar(&maxWorkers, "max-workers", 15, "Box-render fan-out worker count")
	flag.IntVar(&thumbnailSize, "thumbnail-size", 192, "Thumbnail size in pixels")
	flag.StringVar(&datasetName, "dataset-name", "", "WebKnossos dataset name (webknossos format only)")
	flag.StringVar(&layerName, "layer-name", "", "WebKnossos layer name override; defaults to the stack name")
	flag.StringVar(&cubingBinary, "cubing-script", "wkcuber", "External WebKnossos cubing script executable")
	flag.BoolVar(&deleteIntermediate, "delete-intermediate", false, "Delete the CATMAID tree once cubing succeeds (webknossos format only)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: export [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Export one or more render stacks to a CATMAID tile tree, optionally\n")
		fmt.Fprintf(os.Stderr, "cubing the result into a WebKnossos dataset.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var stacks []string
	for _, s := range strings.Split(stacksFlag, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			stacks = append(stacks, s)
		}
	}
	if len(stacks) == 0 || outputDir == "" {
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

	cfg := pipelinecfg.DefaultExportConfig()
	cfg.Server = pipelinecfg.Server{BaseURL: baseURL, Owner: owner, Project: project}
	cfg.Stacks = stacks
	cfg.OutputDir = outputDir
	cfg.TileSize = tileSize
	cfg.MaxWorkers = maxWorkers
	cfg.ThumbnailSize = thumbnailSize
	cfg.DatasetName = datasetName
	cfg.LayerName = layerName
	cfg.DeleteIntermediate = deleteIntermediate
	switch format {
	case "catmaid":
		cfg.Format = pipelinecfg.ExportCATMAID
	case "webknossos":
		cfg.Format = pipelinecfg.ExportWebKnossos
	default:
		log.Fatalf("Unknown format %q (supported: catmaid, webknossos)", format)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Printf("export\n")
	fmt.Printf("  %-16s %s\n", "Server:", baseURL)
	fmt.Printf("  %-16s %s\n", "Stacks:", strings.Join(stacks, ", "))
	fmt.Printf("  %-16s %s\n", "Output:", outputDir)
	fmt.Printf("  %-16s %s\n", "Format:", cfg.Format)

	client := renderclient.New(baseURL, owner, project, creds)

	ctx := context.Background()
	start := time.Now()
	descriptors, err := catmaid.Run(ctx, client, cfg)
	if err != nil {
		log.Fatalf("CATMAID export: %v", err)
	}
	fmt.Printf("Exported %d stack(s) to %s\n", len(descriptors), outputDir)

	if cfg.Format == pipelinecfg.ExportWebKnossos {
		cuber := webknossos.Cuber{BinaryPath: cubingBinary}
		if err := webknossos.Run(ctx, cfg, cuber, descriptors); err != nil {
			log.Fatalf("WebKnossos cubing: %v", err)
		}
		fmt.Printf("Cubed %d stack(s) into dataset %q\n", len(descriptors), datasetName)
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	fmt.Printf("Done: %v\n", elapsed)
}
