package stitch

import (
	"image"
	"math"
)

// grayFloat is a single-channel float64 image used throughout the
// scale-space and descriptor machinery below.
type grayFloat struct {
	w, h int
	pix  []float64
}

func newGrayFloat(w, h int) *grayFloat {
	return &grayFloat{w: w, h: h, pix: make([]float64, w*h)}
}

func (g *grayFloat) at(x, y int) float64 {
	if x < 0 {
		x = 0
	}
	if x >= g.w {
		x = g.w - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= g.h {
		y = g.h - 1
	}
	return g.pix[y*g.w+x]
}

func (g *grayFloat) set(x, y int, v float64) { g.pix[y*g.w+x] = v }

func fromGray(img *image.Gray) *grayFloat {
	b := img.Bounds()
	out := newGrayFloat(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.set(x, y, float64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
		}
	}
	return out
}

// gaussianKernel1D builds a normalized 1D Gaussian kernel covering ±3σ.
func gaussianKernel1D(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(math.Ceil(sigma * 3))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// gaussianBlur applies a separable Gaussian blur, used both for CLAHE's
// pre-smoothing step and for the DoG scale-space below. There is no
// ecosystem Gaussian-blur implementation anywhere in the example corpus, so
// this is a direct, narrowly-scoped separable convolution.
func gaussianBlur(src *grayFloat, sigma float64) *grayFloat {
	kernel := gaussianKernel1D(sigma)
	radius := len(kernel) / 2

	tmp := newGrayFloat(src.w, src.h)
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			sum := 0.0
			for k := -radius; k <= radius; k++ {
				sum += src.at(x+k, y) * kernel[k+radius]
			}
			tmp.set(x, y, sum)
		}
	}

	out := newGrayFloat(src.w, src.h)
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			sum := 0.0
			for k := -radius; k <= radius; k++ {
				sum += tmp.at(x, y+k) * kernel[k+radius]
			}
			out.set(x, y, sum)
		}
	}
	return out
}
