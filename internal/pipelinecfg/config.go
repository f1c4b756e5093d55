// Package pipelinecfg holds the explicit, validated run configuration for
// each pipeline stage. The original tooling configured a run through
// module-level mutable constants; per the redesign this is replaced with one
// struct per stage, constructed by the stage's cmd/ driver and validated
// before use (spec §9 "Module-level mutable constants configuring a run").
package pipelinecfg

import "fmt"

// Server identifies the render server and project a stage talks to.
type Server struct {
	BaseURL string
	Owner   string
	Project string
}

func (s Server) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("pipelinecfg: server base URL is required")
	}
	if s.Owner == "" {
		return fmt.Errorf("pipelinecfg: server owner is required")
	}
	if s.Project == "" {
		return fmt.Errorf("pipelinecfg: server project is required")
	}
	return nil
}

// PostCorrectConfig configures component D.
type PostCorrectConfig struct {
	SampleSize        int     // images sampled per section, default 10
	Percentile        float64 // 0.001 = 0.1%
	MADMultiplier     float64 // "a" in MED ± a*MAD, default 3
	MinClean          int     // minimum clean images per section, default 20
	RestoreMeanLevel  float64 // default 32768
	Parallel          int     // I/O pool size, default 40
}

func DefaultPostCorrectConfig() PostCorrectConfig {
	return PostCorrectConfig{
		SampleSize:       10,
		Percentile:       0.001,
		MADMultiplier:    3,
		MinClean:         20,
		RestoreMeanLevel: 32768,
		Parallel:         40,
	}
}

func (c PostCorrectConfig) Validate() error {
	if c.SampleSize <= 0 {
		return fmt.Errorf("pipelinecfg: SampleSize must be positive")
	}
	if c.Percentile <= 0 || c.Percentile >= 1 {
		return fmt.Errorf("pipelinecfg: Percentile must be in (0,1)")
	}
	if c.MADMultiplier <= 0 {
		return fmt.Errorf("pipelinecfg: MADMultiplier must be positive")
	}
	if c.MinClean <= 0 {
		return fmt.Errorf("pipelinecfg: MinClean must be positive")
	}
	if c.Parallel <= 0 {
		return fmt.Errorf("pipelinecfg: Parallel must be positive")
	}
	return nil
}

// MipmapConfig configures component E.
type MipmapConfig struct {
	Server      Server
	StackName   string
	ZResolution float64
	Parallel    int // I/O pool size, default 40
	Clobber     bool
	MaxLayer    int // pyramid levels beyond level 0, default 8
	Downscale   int // pyramid downscale factor, default 2
	NASPrefix   string // local mount prefix to strip before remote remap; "" disables remapping
	RemotePrefix string
}

func DefaultMipmapConfig() MipmapConfig {
	return MipmapConfig{
		Parallel:  40,
		MaxLayer:  8,
		Downscale: 2,
	}
}

func (c MipmapConfig) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if c.StackName == "" {
		return fmt.Errorf("pipelinecfg: StackName is required")
	}
	if c.Parallel <= 0 {
		return fmt.Errorf("pipelinecfg: Parallel must be positive")
	}
	if c.MaxLayer <= 0 {
		return fmt.Errorf("pipelinecfg: MaxLayer must be positive")
	}
	if c.Downscale <= 1 {
		return fmt.Errorf("pipelinecfg: Downscale must be > 1")
	}
	return nil
}

// StitchConfig configures component H.
type StitchConfig struct {
	Server           Server
	SourceStack      string
	Overlap          int     // seam half-width in pixels, default 400
	ClaheSigma       float64 // Gaussian blur sigma before CLAHE, default 2
	ClaheClip        float64 // CLAHE clip limit, default 0.02
	SIFTOctaves      int
	SIFTScales       int
	SIFTSigmaMin     float64
	SIFTSigmaIn      float64
	SIFTCDoG         float64
	SIFTCEdge        float64
	MaxKeypoints     int
	MaxMatchRatio    float64
	RANSACThreshold  float64
	RANSACMaxTrials  int
	MinSamplesFrac   float64 // min_samples = max(round(frac*matches), MinSamplesFloor)
	MinSamplesFloor  int
	CPUParallel      int // CPU pool size, default runtime.NumCPU()
	Clobber          bool
	SolverLambda     float64
	TranslationFactor float64
	ThinplateFactor   float64
	PtWeight          float64
	NptsMin, NptsMax  int
	Depth             int
}

func DefaultStitchConfig() StitchConfig {
	return StitchConfig{
		Overlap:           400,
		ClaheSigma:        2,
		ClaheClip:         0.02,
		SIFTOctaves:       4,
		SIFTScales:        3,
		SIFTSigmaMin:      2.6,
		SIFTSigmaIn:       0.5,
		SIFTCDoG:          0.025,
		SIFTCEdge:         4.5,
		MaxKeypoints:      400,
		MaxMatchRatio:     0.8,
		RANSACThreshold:   6.2,
		RANSACMaxTrials:   2134,
		MinSamplesFrac:    0.05,
		MinSamplesFloor:   7,
		SolverLambda:      0.005,
		TranslationFactor: 0.005,
		ThinplateFactor:   1e-5,
		PtWeight:          1.0,
		NptsMin:           5,
		NptsMax:           500,
		Depth:             2,
	}
}

func (c StitchConfig) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if c.SourceStack == "" {
		return fmt.Errorf("pipelinecfg: SourceStack is required")
	}
	if c.Overlap <= 0 {
		return fmt.Errorf("pipelinecfg: Overlap must be positive")
	}
	if c.MinSamplesFloor <= 0 {
		return fmt.Errorf("pipelinecfg: MinSamplesFloor must be positive")
	}
	return nil
}

// ExportFormat selects an export sink.
type ExportFormat string

const (
	ExportCATMAID    ExportFormat = "catmaid"
	ExportWebKnossos ExportFormat = "webknossos"
)

// ExportConfig configures component I.
type ExportConfig struct {
	Server            Server
	Stacks            []string
	Format            ExportFormat
	OutputDir         string
	TileSize          int // default 1024
	MaxWorkers        int // box-render fan-out, default 15
	ThumbnailSize     int // default 192
	DatasetName       string // WebKnossos
	LayerName         string // WebKnossos
	DeleteIntermediate bool  // delete CATMAID tree after WebKnossos cubing
}

func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		TileSize:      1024,
		MaxWorkers:    15,
		ThumbnailSize: 192,
		Format:        ExportCATMAID,
	}
}

func (c ExportConfig) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if len(c.Stacks) == 0 {
		return fmt.Errorf("pipelinecfg: at least one stack is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("pipelinecfg: OutputDir is required")
	}
	if c.TileSize <= 0 {
		return fmt.Errorf("pipelinecfg: TileSize must be positive")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("pipelinecfg: MaxWorkers must be positive")
	}
	if c.Format == ExportWebKnossos && (c.DatasetName == "" || c.LayerName == "") {
		return fmt.Errorf("pipelinecfg: WebKnossos export requires DatasetName and LayerName")
	}
	return nil
}
