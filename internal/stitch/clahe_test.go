package stitch

import (
	"testing"

	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
)

func TestClaheEnhancePreservesDimensions(t *testing.T) {
	src := newGrayFloat(64, 48)
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			src.set(x, y, float64((x+y)%256))
		}
	}
	cfg := pipelinecfg.DefaultStitchConfig()
	out := claheEnhance(src, cfg)
	if out.w != 64 || out.h != 48 {
		t.Fatalf("unexpected output dims %dx%d", out.w, out.h)
	}
}

func TestAdaptiveHistogramEqualizeFlatBlockStaysInRange(t *testing.T) {
	src := newGrayFloat(32, 32)
	for i := range src.pix {
		src.pix[i] = 128
	}
	out := adaptiveHistogramEqualize(src, 8, 0.02)
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if out.at(x, y) < 0 || out.at(x, y) > 255 {
				t.Fatalf("output out of range at (%d,%d): %v", x, y, out.at(x, y))
			}
		}
	}
}

func TestAdaptiveHistogramEqualizeIncreasesContrast(t *testing.T) {
	src := newGrayFloat(16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if x < 8 {
				src.set(x, y, 100)
			} else {
				src.set(x, y, 105)
			}
		}
	}
	out := adaptiveHistogramEqualize(src, 16, 0.02)
	left := out.at(2, 8)
	right := out.at(14, 8)
	if left == right {
		t.Fatalf("expected contrast stretch to separate values, both were %v", left)
	}
	if right-left <= 5 {
		t.Fatalf("expected output gap wider than the input gap of 5, got left=%v right=%v", left, right)
	}
}

func TestGrayFloatToImageClampsRange(t *testing.T) {
	g := newGrayFloat(2, 2)
	g.set(0, 0, -50)
	g.set(1, 1, 500)
	img := grayFloatToImage(g)
	if img.GrayAt(0, 0).Y != 0 {
		t.Fatalf("expected clamp to 0, got %v", img.GrayAt(0, 0).Y)
	}
	if img.GrayAt(1, 1).Y != 255 {
		t.Fatalf("expected clamp to 255, got %v", img.GrayAt(1, 1).Y)
	}
}
