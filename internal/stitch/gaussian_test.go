package stitch

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func TestGaussianKernel1DNormalized(t *testing.T) {
	kernel := gaussianKernel1D(2.0)
	sum := 0.0
	for _, v := range kernel {
		sum += v
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Fatalf("kernel does not sum to 1: got %v", sum)
	}
	if len(kernel)%2 != 1 {
		t.Fatalf("kernel length should be odd, got %d", len(kernel))
	}
}

func TestGaussianKernel1DDegenerate(t *testing.T) {
	kernel := gaussianKernel1D(0)
	if len(kernel) != 1 || kernel[0] != 1 {
		t.Fatalf("expected [1] for sigma<=0, got %v", kernel)
	}
}

func TestGaussianBlurFlatImageUnchanged(t *testing.T) {
	src := newGrayFloat(10, 10)
	for i := range src.pix {
		src.pix[i] = 100
	}
	out := gaussianBlur(src, 1.5)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			if math.Abs(out.at(x, y)-100) > 1e-6 {
				t.Fatalf("flat image should stay flat, got %v at (%d,%d)", out.at(x, y), x, y)
			}
		}
	}
}

func TestGaussianBlurSmoothsImpulse(t *testing.T) {
	src := newGrayFloat(21, 21)
	src.set(10, 10, 1000)
	out := gaussianBlur(src, 2.0)
	if out.at(10, 10) >= 1000 {
		t.Fatalf("center should be attenuated by blur, got %v", out.at(10, 10))
	}
	if out.at(10, 10) <= 0 {
		t.Fatalf("center should remain the brightest point, got %v", out.at(10, 10))
	}
	if out.at(0, 0) <= 0 {
		t.Fatalf("blur should spread energy outward, corner still zero")
	}
}

func TestFromGrayConvertsPixels(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.SetGray(0, 0, color.Gray{Y: 5})
	img.SetGray(2, 1, color.Gray{Y: 250})
	g := fromGray(img)
	if g.w != 3 || g.h != 2 {
		t.Fatalf("unexpected dims %d x %d", g.w, g.h)
	}
	if g.at(0, 0) != 5 {
		t.Fatalf("expected 5, got %v", g.at(0, 0))
	}
	if g.at(2, 1) != 250 {
		t.Fatalf("expected 250, got %v", g.at(2, 1))
	}
}

func TestGrayFloatAtClampsEdges(t *testing.T) {
	g := newGrayFloat(4, 4)
	g.set(0, 0, 42)
	g.set(3, 3, 7)
	if g.at(-5, -5) != 42 {
		t.Fatalf("expected clamp to (0,0)=42, got %v", g.at(-5, -5))
	}
	if g.at(100, 100) != 7 {
		t.Fatalf("expected clamp to (3,3)=7, got %v", g.at(100, 100))
	}
}
