package catmaid

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
)

type projectFile struct {
	Project projectBlock `yaml:"project"`
}

type projectBlock struct {
	Title  string       `yaml:"title"`
	Stacks []stackBlock `yaml:"stacks"`
}

type stackBlock struct {
	Title      string        `yaml:"title"`
	Dimension  [3]int        `yaml:"dimension"`
	Resolution [3]float64    `yaml:"resolution"`
	ZoomLevels int           `yaml:"zoomlevels"`
	Mirrors    []mirrorBlock `yaml:"mirrors"`
}

type mirrorBlock struct {
	Title         string `yaml:"title"`
	TileWidth     int    `yaml:"tile_width"`
	TileHeight    int    `yaml:"tile_height"`
	TileSourceType int   `yaml:"tile_source_type"`
	FileExtension string `yaml:"fileextension"`
	URL           string `yaml:"url"`
}

// WriteProjectFile writes project.yaml describing every exported stack
// (spec §4.I "create_project_file"). The original fetches a base URL from
// a fixed institutional host; here it is taken from cfg.Server.BaseURL.
func WriteProjectFile(cfg pipelinecfg.ExportConfig, descriptors []StackDescriptor) error {
	doc := projectFile{Project: projectBlock{Title: cfg.Server.Project}}
	for _, d := range descriptors {
		doc.Project.Stacks = append(doc.Project.Stacks, stackBlock{
			Title:      d.Title,
			Dimension:  d.Dimensions,
			Resolution: d.Resolution,
			ZoomLevels: d.ZoomLevels,
			Mirrors: []mirrorBlock{{
				Title:          fmt.Sprintf("%s_%s", cfg.Server.Project, d.Title),
				TileWidth:      cfg.TileSize,
				TileHeight:     cfg.TileSize,
				TileSourceType: 1,
				FileExtension:  "png",
				URL:            cfg.Server.BaseURL + "/" + d.Title,
			}},
		})
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("catmaid export: marshaling project.yaml: %w", err)
	}
	return os.WriteFile(filepath.Join(cfg.OutputDir, "project.yaml"), data, 0o644)
}
