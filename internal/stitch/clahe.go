package stitch

import (
	"image"
	"image/color"
	"math"

	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
)

// claheEnhance reproduces the pre-SIFT CLAHE step (spec §4.H step 3): blur
// with the configured sigma, then apply tile-local adaptive histogram
// equalisation with the configured clip limit. tileSize follows the
// original's overlap/16 choice.
func claheEnhance(src *grayFloat, cfg pipelinecfg.StitchConfig) *grayFloat {
	blurred := gaussianBlur(src, cfg.ClaheSigma)
	tileSize := int(math.Max(1, float64(cfg.Overlap)/16))
	return adaptiveHistogramEqualize(blurred, tileSize, cfg.ClaheClip)
}

// adaptiveHistogramEqualize partitions the image into tileSize x tileSize
// blocks, computes a clipped histogram per block, and bilinearly
// interpolates the per-block equalization mapping across pixels — the
// standard CLAHE construction. No CLAHE implementation exists anywhere in
// the example corpus (the closest analogue, skimage.exposure, is Python),
// so this is a direct translation of the algorithm's definition rather than
// a ported implementation.
func adaptiveHistogramEqualize(src *grayFloat, tileSize int, clipLimit float64) *grayFloat {
	const bins = 256
	nx := (src.w + tileSize - 1) / tileSize
	ny := (src.h + tileSize - 1) / tileSize
	if nx < 1 {
		nx = 1
	}
	if ny < 1 {
		ny = 1
	}

	mappings := make([][][bins]float64, ny)
	for by := 0; by < ny; by++ {
		mappings[by] = make([][bins]float64, nx)
		for bx := 0; bx < nx; bx++ {
			x0, y0 := bx*tileSize, by*tileSize
			x1, y1 := min(x0+tileSize, src.w), min(y0+tileSize, src.h)

			var hist [bins]int
			count := 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					v := int(src.at(x, y))
					if v < 0 {
						v = 0
					}
					if v > 255 {
						v = 255
					}
					hist[v]++
					count++
				}
			}
			if count == 0 {
				continue
			}

			clip := int(clipLimit * float64(count) / float64(bins))
			if clip < 1 {
				clip = 1
			}
			excess := 0
			for i := range hist {
				if hist[i] > clip {
					excess += hist[i] - clip
					hist[i] = clip
				}
			}
			redistribute := excess / bins
			for i := range hist {
				hist[i] += redistribute
			}

			total := 0
			for i := range hist {
				total += hist[i]
			}
			var cdf [bins]float64
			running := 0
			for i := range hist {
				running += hist[i]
				cdf[i] = float64(running) / float64(total)
			}
			mappings[by][bx] = cdf
		}
	}

	out := newGrayFloat(src.w, src.h)
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			v := int(src.at(x, y))
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			bx := float64(x)/float64(tileSize) - 0.5
			by := float64(y)/float64(tileSize) - 0.5
			bx0 := int(math.Floor(bx))
			by0 := int(math.Floor(by))
			fx := bx - float64(bx0)
			fy := by - float64(by0)

			c00 := clampedMapping(mappings, by0, bx0, nx, ny, v)
			c10 := clampedMapping(mappings, by0, bx0+1, nx, ny, v)
			c01 := clampedMapping(mappings, by0+1, bx0, nx, ny, v)
			c11 := clampedMapping(mappings, by0+1, bx0+1, nx, ny, v)

			top := c00*(1-fx) + c10*fx
			bottom := c01*(1-fx) + c11*fx
			out.set(x, y, (top*(1-fy)+bottom*fy)*255)
		}
	}
	return out
}

func clampedMapping(mappings [][][256]float64, by, bx, nx, ny, v int) float64 {
	if bx < 0 {
		bx = 0
	}
	if bx >= nx {
		bx = nx - 1
	}
	if by < 0 {
		by = 0
	}
	if by >= ny {
		by = ny - 1
	}
	return mappings[by][bx][v]
}

// grayFloatToImage clamps a grayFloat back into a stdlib *image.Gray for
// callers outside this package (tests only; SIFT operates on grayFloat
// directly).
func grayFloatToImage(g *grayFloat) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, g.w, g.h))
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			v := g.at(x, y)
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return out
}
