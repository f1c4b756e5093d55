package webknossos

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hoogenboom-lab/render-pipeline/internal/export/catmaid"
	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
)

func testCfg(t *testing.T, outputDir string) pipelinecfg.ExportConfig {
	t.Helper()
	cfg := pipelinecfg.DefaultExportConfig()
	cfg.Server = pipelinecfg.Server{BaseURL: "http://render.example", Owner: "acme", Project: "proj1"}
	cfg.Stacks = []string{"stack01"}
	cfg.OutputDir = outputDir
	cfg.DatasetName = "dataset01"
	return cfg
}

// argRecorder writes a shell script that records its arguments, one per
// line, and returns the script path and the path of the recorded arguments.
func argRecorder(t *testing.T) (binPath, argsPath string) {
	t.Helper()
	dir := t.TempDir()
	argsPath = filepath.Join(dir, "args.txt")
	binPath = filepath.Join(dir, "record-args.sh")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > '" + argsPath + "'\n"
	if err := os.WriteFile(binPath, []byte(script), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return binPath, argsPath
}

func recordedArgs(t *testing.T, argsPath string) []string {
	t.Helper()
	data, err := os.ReadFile(argsPath)
	if err != nil {
		t.Fatalf("reading recorded args: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestCubeStackInvokesScriptWithExpectedArgs(t *testing.T) {
	dir := t.TempDir()
	cfg := testCfg(t, dir)
	if err := os.MkdirAll(filepath.Join(dir, "stack01"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	bin, argsPath := argRecorder(t)
	cuber := Cuber{BinaryPath: bin}
	desc := catmaid.StackDescriptor{Title: "stack01", Resolution: [3]float64{4, 4, 40}}
	if err := cuber.CubeStack(context.Background(), cfg, desc); err != nil {
		t.Fatalf("CubeStack: %v", err)
	}
	want := []string{"--input", filepath.Join(dir, "stack01"), "--dataset-name", "dataset01", "--layer-name", "stack01", "--voxel-size", "4,4,40"}
	if got := recordedArgs(t, argsPath); strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("args = %q, want %q", got, want)
	}
}

func TestCubeStackPropagatesFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := testCfg(t, dir)

	cuber := Cuber{BinaryPath: "false"}
	desc := catmaid.StackDescriptor{Title: "stack01", Resolution: [3]float64{4, 4, 40}}
	if err := cuber.CubeStack(context.Background(), cfg, desc); err == nil {
		t.Fatalf("expected error from failing cubing script")
	}
}

func TestCubeStackUsesStackTitleAsDefaultLayerName(t *testing.T) {
	dir := t.TempDir()
	cfg := testCfg(t, dir)
	cfg.LayerName = ""

	bin, argsPath := argRecorder(t)
	cuber := Cuber{BinaryPath: bin}
	desc := catmaid.StackDescriptor{Title: "my-stack", Resolution: [3]float64{4, 4, 40}}
	if err := cuber.CubeStack(context.Background(), cfg, desc); err != nil {
		t.Fatalf("CubeStack: %v", err)
	}
	got := recordedArgs(t, argsPath)
	if len(got) < 6 || got[4] != "--layer-name" || got[5] != "my-stack" {
		t.Fatalf("args = %q, want --layer-name my-stack", got)
	}
}

func TestRunDeletesIntermediateWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	cfg := testCfg(t, dir)
	cfg.DeleteIntermediate = true

	stackDir := filepath.Join(dir, "stack01")
	if err := os.MkdirAll(stackDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	descriptors := []catmaid.StackDescriptor{{Title: "stack01", Resolution: [3]float64{4, 4, 40}}}
	if err := Run(context.Background(), cfg, Cuber{BinaryPath: "true"}, descriptors); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(stackDir); !os.IsNotExist(err) {
		t.Fatalf("expected intermediate directory to be removed, stat err = %v", err)
	}
}

func TestRunKeepsIntermediateByDefault(t *testing.T) {
	dir := t.TempDir()
	cfg := testCfg(t, dir)

	stackDir := filepath.Join(dir, "stack01")
	if err := os.MkdirAll(stackDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	descriptors := []catmaid.StackDescriptor{{Title: "stack01", Resolution: [3]float64{4, 4, 40}}}
	if err := Run(context.Background(), cfg, Cuber{BinaryPath: "true"}, descriptors); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(stackDir); err != nil {
		t.Fatalf("expected intermediate directory to survive: %v", err)
	}
}

func TestRunStopsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := testCfg(t, dir)

	descriptors := []catmaid.StackDescriptor{
		{Title: "stack01", Resolution: [3]float64{4, 4, 40}},
		{Title: "stack02", Resolution: [3]float64{4, 4, 40}},
	}
	if err := Run(context.Background(), cfg, Cuber{BinaryPath: "false"}, descriptors); err == nil {
		t.Fatalf("expected error to propagate from failing cubing script")
	}
}
