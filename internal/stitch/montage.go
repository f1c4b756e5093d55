package stitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
)

// Solver invokes the external montage solver against an uploaded matching
// stack and pointmatch collection, producing "{stack}_stitched" (spec §4.H
// "Upload & solve"). The reference solver (bigfeta) is a Python package with
// no Go equivalent anywhere in the example corpus, so it is modeled the way
// the corpus invokes other external, non-Go tools: a JSON config written to
// a temp file and handed to a subprocess (grounded on
// cmd/hwygen/c_generator.go's shell-out-and-check-exit-code pattern).
type Solver struct {
	// BinaryPath is the montage solver executable, e.g. "run_bigfeta".
	BinaryPath string
}

// solverSchema mirrors the Python original's fetaschema dict (montage.py),
// field for field, so the JSON config handed to the external solver is
// byte-compatible with the reference tool's expectations.
type solverSchema struct {
	CloseStack     string `json:"close_stack"`
	FirstSection   int    `json:"first_section"`
	LastSection    int    `json:"last_section"`
	LogLevel       string `json:"log_level"`
	OutputMode     string `json:"output_mode"`
	SolveType      string `json:"solve_type"`
	Transformation string `json:"transformation"`
	NParallelJobs  int    `json:"n_parallel_jobs"`
	InputStack     stackRef `json:"input_stack"`
	Pointmatch     matchRef `json:"pointmatch"`
	OutputStack    stackRef `json:"output_stack"`
	MatrixAssembly matrixAssembly `json:"matrix_assembly"`
	Regularization regularization `json:"regularization"`
}

type stackRef struct {
	Owner          string `json:"owner"`
	Project        string `json:"project"`
	Name           string `json:"name"`
	Host           string `json:"host"`
	CollectionType string `json:"collection_type"`
	DBInterface    string `json:"db_interface"`
	UseRest        string `json:"use_rest"`
}

type matchRef struct {
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	Host           string `json:"host"`
	CollectionType string `json:"collection_type"`
	DBInterface    string `json:"db_interface"`
}

type matrixAssembly struct {
	CrossPtWeight   float64 `json:"cross_pt_weight"`
	Depth           int     `json:"depth"`
	InverseDZ       string  `json:"inverse_dz"`
	MontagePtWeight float64 `json:"montage_pt_weight"`
	NptsMax         int     `json:"npts_max"`
	NptsMin         int     `json:"npts_min"`
}

type regularization struct {
	DefaultLambda     float64 `json:"default_lambda"`
	ThinplateFactor   float64 `json:"thinplate_factor"`
	TranslationFactor float64 `json:"translation_factor"`
}

// Run invokes the solver against the uploaded matching stack and returns
// the stitched stack's name ("{stack}_matching_stitched").
func (s Solver) Run(ctx context.Context, server pipelinecfg.Server, matchingStack, matchCollection string, firstZ, lastZ int, cfg pipelinecfg.StitchConfig) (string, error) {
	schema := solverSchema{
		CloseStack:     "True",
		FirstSection:   firstZ,
		LastSection:    lastZ,
		LogLevel:       "INFO",
		OutputMode:     "stack",
		SolveType:      "montage",
		Transformation: "rigid",
		NParallelJobs:  32,
		InputStack: stackRef{
			Owner: server.Owner, Project: server.Project, Name: matchingStack,
			Host: server.BaseURL, CollectionType: "stack", DBInterface: "render", UseRest: "True",
		},
		Pointmatch: matchRef{
			Owner: server.Owner, Name: matchCollection,
			Host: server.BaseURL, CollectionType: "pointmatch", DBInterface: "render",
		},
		OutputStack: stackRef{
			Owner: server.Owner, Project: server.Project, Name: matchingStack + "_stitched",
			Host: server.BaseURL, CollectionType: "stack", DBInterface: "render", UseRest: "True",
		},
		MatrixAssembly: matrixAssembly{
			CrossPtWeight: cfg.PtWeight, Depth: cfg.Depth, InverseDZ: "True",
			MontagePtWeight: cfg.PtWeight, NptsMax: cfg.NptsMax, NptsMin: cfg.NptsMin,
		},
		Regularization: regularization{
			DefaultLambda:     cfg.SolverLambda,
			ThinplateFactor:   cfg.ThinplateFactor,
			TranslationFactor: cfg.TranslationFactor,
		},
	}

	configFile, err := os.CreateTemp("", "montage-*.json")
	if err != nil {
		return "", fmt.Errorf("stitch: creating solver config file: %w", err)
	}
	defer os.Remove(configFile.Name())
	if err := json.NewEncoder(configFile).Encode(schema); err != nil {
		configFile.Close()
		return "", fmt.Errorf("stitch: writing solver config: %w", err)
	}
	if err := configFile.Close(); err != nil {
		return "", fmt.Errorf("stitch: closing solver config file: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.BinaryPath, "--config", configFile.Name())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("stitch: montage solver failed: %w: %s", err, stderr.String())
	}

	return schema.OutputStack.Name, nil
}
