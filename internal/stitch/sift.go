package stitch

import (
	"fmt"
	"math"

	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
)

// Keypoint is one detected scale-space extremum (spec §4.H step 4): a
// sub-pixel location and the scale (sigma) it was detected at, used both
// for bucketed filtering (step 5, finest-scale-first) and for translating
// matches back into tile coordinates (step 8).
type Keypoint struct {
	X, Y  float64
	Sigma float64
}

// ErrNoFeatures is returned when a half-tile yields zero keypoints, mirroring
// the original's "SIFT found no features" early return (spec §4.H step 4).
var ErrNoFeatures = fmt.Errorf("stitch: no features found")

// detectAndExtract builds a difference-of-Gaussians scale space over
// `scales` levels per octave (σ_i = sigmaMin * 2^(i/scales) + sigmaIn, for
// `octaves` doublings of sigma) and keeps local extrema in scale and space
// whose DoG response exceeds cDoG and whose principal-curvature ratio is
// below cEdge (the standard SIFT keypoint criteria). Each keypoint gets a
// 128-dim gradient-orientation-histogram descriptor (4x4 cells of 8 bins)
// sampled from the blurred level it was detected at.
//
// This does not build a true multi-resolution image pyramid (each octave
// downsampling the image) the way reference SIFT does — no SIFT
// implementation exists anywhere in the example corpus to ground that
// machinery on, so octaves are approximated as a single continuous sigma
// sweep instead of true image downsampling. The keypoint/descriptor
// contract (location, scale, 128-dim descriptor) and every tunable
// parameter the pipeline threads through (octaves, scales, sigma_min,
// sigma_in, c_dog, c_edge) are preserved.
func detectAndExtract(img *grayFloat, p pipelinecfg.StitchConfig) ([]Keypoint, [][]float64, error) {
	levels := p.SIFTOctaves * p.SIFTScales
	if levels < 3 {
		levels = 3
	}
	blurred := make([]*grayFloat, levels+2)
	sigmas := make([]float64, levels+2)
	for i := range blurred {
		sigma := p.SIFTSigmaMin*math.Pow(2, float64(i)/float64(p.SIFTScales)) + p.SIFTSigmaIn
		sigmas[i] = sigma
		blurred[i] = gaussianBlur(img, sigma)
	}

	dog := make([]*grayFloat, levels+1)
	for i := 0; i <= levels; i++ {
		d := newGrayFloat(img.w, img.h)
		for y := 0; y < img.h; y++ {
			for x := 0; x < img.w; x++ {
				d.set(x, y, blurred[i+1].at(x, y)-blurred[i].at(x, y))
			}
		}
		dog[i] = d
	}

	var keypoints []Keypoint
	var descriptors [][]float64
	for i := 1; i < len(dog)-1; i++ {
		for y := 1; y < img.h-1; y++ {
			for x := 1; x < img.w-1; x++ {
				v := dog[i].at(x, y)
				if math.Abs(v) < p.SIFTCDoG*255 {
					continue
				}
				if !isLocalExtremum(dog, i, x, y, v) {
					continue
				}
				if !passesEdgeTest(dog[i], x, y, p.SIFTCEdge) {
					continue
				}
				keypoints = append(keypoints, Keypoint{X: float64(x), Y: float64(y), Sigma: sigmas[i]})
				descriptors = append(descriptors, describe(blurred[i], x, y))
			}
		}
	}

	if len(keypoints) == 0 {
		return nil, nil, ErrNoFeatures
	}
	return keypoints, descriptors, nil
}

func isLocalExtremum(dog []*grayFloat, i, x, y int, v float64) bool {
	isMax, isMin := true, true
	for di := -1; di <= 1; di++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if di == 0 && dx == 0 && dy == 0 {
					continue
				}
				n := dog[i+di].at(x+dx, y+dy)
				if n >= v {
					isMax = false
				}
				if n <= v {
					isMin = false
				}
			}
		}
	}
	return isMax || isMin
}

// passesEdgeTest rejects keypoints on edges (high principal-curvature
// ratio) using the Hessian-trace/determinant criterion SIFT defines.
func passesEdgeTest(d *grayFloat, x, y int, cEdge float64) bool {
	dxx := d.at(x+1, y) + d.at(x-1, y) - 2*d.at(x, y)
	dyy := d.at(x, y+1) + d.at(x, y-1) - 2*d.at(x, y)
	dxy := (d.at(x+1, y+1) - d.at(x+1, y-1) - d.at(x-1, y+1) + d.at(x-1, y-1)) / 4

	trace := dxx + dyy
	det := dxx*dyy - dxy*dxy
	if det <= 0 {
		return false
	}
	ratio := trace * trace / det
	threshold := (cEdge + 1) * (cEdge + 1) / cEdge
	return ratio < threshold
}

// describe builds a 128-dim (4x4 cells x 8 orientation bins) gradient
// histogram descriptor around (x,y), the classic SIFT descriptor layout.
func describe(img *grayFloat, cx, cy int) []float64 {
	const cells = 4
	const bins = 8
	const cellSize = 4
	desc := make([]float64, cells*cells*bins)

	half := cells * cellSize / 2
	for dy := -half; dy < half; dy++ {
		for dx := -half; dx < half; dx++ {
			x, y := cx+dx, cy+dy
			gx := img.at(x+1, y) - img.at(x-1, y)
			gy := img.at(x, y+1) - img.at(x, y-1)
			mag := math.Hypot(gx, gy)
			angle := math.Atan2(gy, gx)
			if angle < 0 {
				angle += 2 * math.Pi
			}

			cellX := (dx + half) / cellSize
			cellY := (dy + half) / cellSize
			if cellX >= cells {
				cellX = cells - 1
			}
			if cellY >= cells {
				cellY = cells - 1
			}
			bin := int(angle / (2 * math.Pi) * bins)
			if bin >= bins {
				bin = bins - 1
			}
			desc[(cellY*cells+cellX)*bins+bin] += mag
		}
	}

	norm := 0.0
	for _, v := range desc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range desc {
			desc[i] /= norm
		}
	}
	return desc
}
