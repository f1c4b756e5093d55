package postcorrect

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/hoogenboom-lab/render-pipeline/internal/emtiff"
	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
)

// RawFile is one raw tiff on disk belonging to one section.
type RawFile struct {
	Path      string
	SectionID int // ordinal used for neighbour fallback
}

// Sample is one sampled image's lowest-resolution percentile value, tagged
// with the section and file it came from.
type Sample struct {
	File       RawFile
	Percentile float64
}

// sampleLowestResPercentile reads the lowest-resolution pyramid page of path
// and returns its pct-percentile intensity.
func sampleLowestResPercentile(path string, pct float64) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("postcorrect: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("postcorrect: stat %s: %w", path, err)
	}

	pages, err := emtiff.Decode(f, info.Size())
	if err != nil {
		return 0, fmt.Errorf("postcorrect: decoding %s: %w", path, err)
	}
	if len(pages) == 0 {
		return 0, fmt.Errorf("postcorrect: %s has no pyramid pages", path)
	}

	lowest := pages[len(pages)-1]
	return Percentile(lowest.Pixels, pct), nil
}

// SampleSection draws up to n random raw files from files (a section's full
// file list) for global background sampling (spec §4.D step 1).
func SampleSection(files []RawFile, n int, rng *rand.Rand) []RawFile {
	if len(files) <= n {
		out := make([]RawFile, len(files))
		copy(out, files)
		return out
	}
	idx := rng.Perm(len(files))[:n]
	out := make([]RawFile, n)
	for i, j := range idx {
		out[i] = files[j]
	}
	return out
}

// GlobalStats is the median and unsigned MAD computed over every sampled
// image's percentile value (spec §4.D steps 2-3).
type GlobalStats struct {
	Median float64
	MAD    float64
}

// ComputeGlobalStats samples every section and computes the global median
// and MAD of the pct-percentile values. sectionFiles maps a section ordinal
// to its full raw file list.
func ComputeGlobalStats(sectionFiles map[int][]RawFile, cfg pipelinecfg.PostCorrectConfig, rng *rand.Rand) ([]Sample, GlobalStats, error) {
	var samples []Sample
	for sectionID, files := range sectionFiles {
		for _, f := range SampleSection(files, cfg.SampleSize, rng) {
			p, err := sampleLowestResPercentile(f.Path, cfg.Percentile)
			if err != nil {
				return nil, GlobalStats{}, err
			}
			samples = append(samples, Sample{File: RawFile{Path: f.Path, SectionID: sectionID}, Percentile: p})
		}
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Percentile
	}
	med := Median(values)
	mad := MAD(values, med)
	return samples, GlobalStats{Median: med, MAD: mad}, nil
}

// SectionVerdict is the outcome of classifying one section's sampled images
// against the global stats (spec §4.D step 4).
type SectionVerdict struct {
	SectionID int
	Clean     []RawFile
	Failed    bool
}

// ClassifySections groups samples by section and marks a section failed if
// it has fewer than cfg.MinClean clean images.
func ClassifySections(samples []Sample, stats GlobalStats, cfg pipelinecfg.PostCorrectConfig) map[int]*SectionVerdict {
	verdicts := make(map[int]*SectionVerdict)
	for _, s := range samples {
		v, ok := verdicts[s.File.SectionID]
		if !ok {
			v = &SectionVerdict{SectionID: s.File.SectionID}
			verdicts[s.File.SectionID] = v
		}
		if IsClean(s.Percentile, stats.Median, stats.MAD, cfg.MADMultiplier) {
			v.Clean = append(v.Clean, s.File)
		}
	}
	for _, v := range verdicts {
		v.Failed = len(v.Clean) < cfg.MinClean
	}
	return verdicts
}

// Background holds a section's estimated background page (full resolution)
// and the source it came from: either its own clean images or a borrowed
// neighbour.
type Background struct {
	Width, Height int
	Pixels        []float64 // mean-of-clean-images intensity per pixel
}

// EstimateBackground averages the full-resolution pages of a section's
// clean images (spec §4.D step 5, first half).
func EstimateBackground(clean []RawFile) (*Background, error) {
	if len(clean) == 0 {
		return nil, fmt.Errorf("postcorrect: cannot estimate background from zero clean images")
	}

	var acc *Background
	for _, f := range clean {
		page, err := decodeFullRes(f.Path)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = &Background{Width: page.Width, Height: page.Height, Pixels: make([]float64, page.Width*page.Height)}
		} else if acc.Width != page.Width || acc.Height != page.Height {
			return nil, fmt.Errorf("postcorrect: dimension mismatch in clean set: %s is %dx%d, expected %dx%d",
				f.Path, page.Width, page.Height, acc.Width, acc.Height)
		}
		for i, v := range page.Pixels {
			acc.Pixels[i] += float64(v)
		}
	}

	n := float64(len(clean))
	for i := range acc.Pixels {
		acc.Pixels[i] /= n
	}
	return acc, nil
}

func decodeFullRes(path string) (*emtiff.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("postcorrect: opening %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("postcorrect: stat %s: %w", path, err)
	}
	pages, err := emtiff.Decode(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("postcorrect: decoding %s: %w", path, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("postcorrect: %s has no pyramid pages", path)
	}
	return pages[0], nil
}

// CorrectImage rewrites raw against background with the mean level
// restored, clamped into the 16-bit range (spec §4.D step 5, invariant 6).
func CorrectImage(raw []uint16, background []float64, restoreMeanLevel float64) []uint16 {
	out := make([]uint16, len(raw))
	for i, r := range raw {
		v := float64(r) - background[i] + restoreMeanLevel
		if v < 0 {
			v = 0
		}
		if v > 65535 {
			v = 65535
		}
		out[i] = uint16(v + 0.5)
	}
	return out
}

// NeighbourSearchOrder returns the section-index search order for borrowing
// a background from a neighbouring section, starting outward from failed:
// i-1, i+1, i-2, i+2, ... (spec §4.D "Neighbour fallback").
func NeighbourSearchOrder(failed, total int) []int {
	var order []int
	for d := 1; d < total; d++ {
		lo := failed - d
		hi := failed + d
		if lo >= 0 {
			order = append(order, lo)
		}
		if hi < total {
			order = append(order, hi)
		}
		if lo < 0 && hi >= total {
			break
		}
	}
	return order
}

// sumOfFilesPath is the persisted per-section background path, relative to
// a section's postcorrection output directory (spec §4.D step 6).
func sumOfFilesPath(sectionDir string) string {
	return filepath.Join(sectionDir, "sum_of_files.tiff")
}
