// Package mipmap is the common mipmapper driver (spec §4.E, component E):
// it drives concurrent ingest of source-specific work items through the I/O
// pool, builds per-tile Gaussian pyramids, and assembles the resulting
// Tiles into sealed Sections and Stacks. Source-specific file discovery and
// per-item tile construction are supplied by an IngestAdaptor, generalizing
// the original deep Mipmapper subclass hierarchy into composition (spec §9
// Design Notes).
package mipmap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hoogenboom-lab/render-pipeline/internal/emtiff"
	"github.com/hoogenboom-lab/render-pipeline/internal/geom"
)

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("mipmap: creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("mipmap: writing %s: %w", path, err)
	}
	return nil
}

// Image is one raw, full-resolution tile image prior to pyramid
// construction.
type Image struct {
	Width, Height int
	Pixels        []uint16
	Description   string // OME-XML or similar; only level 0 keeps this
	DateTime      string
}

// BuildPyramid writes a multi-level Gaussian pyramid for one tile to
// outPath (a single classic-TIFF multi-IFD file, one IFD per level; spec
// §3 ImagePyramid "Levels share the same output directory"), downscaling by
// downscale (default 2) each level up to maxLayer additional levels beyond
// level 0 (default 8), and returns the level->URL map the Tile stores.
//
// Levels are addressed within the file by IFD index; Pyramid URLs carry the
// level as a "#N" fragment following the render server's directory-index
// convention for multi-page pyramidal tiffs. Only level 0 carries the
// description (spec §3, §4.E).
func BuildPyramid(img Image, outPath string, maxLayer, downscale int) (geom.Pyramid, error) {
	if downscale <= 1 {
		return nil, fmt.Errorf("mipmap: downscale must be > 1, got %d", downscale)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("mipmap: empty image (%dx%d)", img.Width, img.Height)
	}

	pages := []emtiff.WritePage{{
		Width:       img.Width,
		Height:      img.Height,
		Pixels:      img.Pixels,
		Description: img.Description,
		DateTime:    img.DateTime,
	}}

	level := pages[0]
	for l := 1; l <= maxLayer; l++ {
		w, h := level.Width/downscale, level.Height/downscale
		if w < 1 || h < 1 {
			break
		}
		pixels := gaussianDownsample(level.Pixels, level.Width, level.Height, w, h)
		level = emtiff.WritePage{Width: w, Height: h, Pixels: pixels}
		pages = append(pages, level)
	}

	data, err := emtiff.EncodePyramid(pages)
	if err != nil {
		return nil, fmt.Errorf("mipmap: encoding pyramid for %s: %w", outPath, err)
	}
	if err := writeFile(outPath, data); err != nil {
		return nil, err
	}

	pyramid := geom.Pyramid{}
	url := "file://" + filepath.ToSlash(outPath)
	pyramid[0] = url
	for l := 1; l < len(pages); l++ {
		pyramid[l] = fmt.Sprintf("%s#%d", url, l)
	}
	return pyramid, nil
}

// gaussianDownsample resamples a 16-bit image from srcW x srcH down to
// dstW x dstH with a separable 5-tap Gaussian
// kernel (preserve_range, spec §4.E "preserve_range=true"). Border pixels
// are handled by clamping.
func gaussianDownsample(src []uint16, srcW, srcH, dstW, dstH int) []uint16 {
	kernel := [5]float64{1, 4, 6, 4, 1} // sums to 16

	// Horizontal pass into a float buffer at full height, half width.
	tmp := make([]float64, srcH*dstW)
	for y := 0; y < srcH; y++ {
		rowOff := y * srcW
		dstRowOff := y * dstW
		for dx := 0; dx < dstW; dx++ {
			cx := dx * srcW / dstW
			var sum, wsum float64
			for k := -2; k <= 2; k++ {
				sx := clampInt(cx+k, 0, srcW-1)
				w := kernel[k+2]
				sum += w * float64(src[rowOff+sx])
				wsum += w
			}
			tmp[dstRowOff+dx] = sum / wsum
		}
	}

	// Vertical pass into the final downsampled buffer.
	out := make([]uint16, dstW*dstH)
	for dy := 0; dy < dstH; dy++ {
		cy := dy * srcH / dstH
		dstRowOff := dy * dstW
		for x := 0; x < dstW; x++ {
			var sum, wsum float64
			for k := -2; k <= 2; k++ {
				sy := clampInt(cy+k, 0, srcH-1)
				w := kernel[k+2]
				sum += w * tmp[sy*dstW+x]
				wsum += w
			}
			v := sum / wsum
			if v < 0 {
				v = 0
			}
			if v > 65535 {
				v = 65535
			}
			out[dstRowOff+x] = uint16(v + 0.5)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
