package stitch

import (
	"math"
	"testing"

	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
)

func checkerboard(w, h, period int) *grayFloat {
	g := newGrayFloat(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x/period)+(y/period))%2 == 0 {
				g.set(x, y, 255)
			} else {
				g.set(x, y, 0)
			}
		}
	}
	return g
}

func TestDetectAndExtractFindsFeaturesOnCheckerboard(t *testing.T) {
	img := checkerboard(64, 64, 8)
	cfg := pipelinecfg.DefaultStitchConfig()
	keypoints, descriptors, err := detectAndExtract(img, cfg)
	if err != nil {
		t.Fatalf("expected features on a high-contrast checkerboard, got error: %v", err)
	}
	if len(keypoints) == 0 {
		t.Fatalf("expected at least one keypoint")
	}
	if len(keypoints) != len(descriptors) {
		t.Fatalf("keypoint/descriptor count mismatch: %d vs %d", len(keypoints), len(descriptors))
	}
	for _, d := range descriptors {
		if len(d) != 128 {
			t.Fatalf("expected 128-dim descriptor, got %d", len(d))
		}
	}
}

func TestDetectAndExtractFlatImageYieldsNoFeatures(t *testing.T) {
	img := newGrayFloat(32, 32)
	for i := range img.pix {
		img.pix[i] = 128
	}
	cfg := pipelinecfg.DefaultStitchConfig()
	_, _, err := detectAndExtract(img, cfg)
	if err != ErrNoFeatures {
		t.Fatalf("expected ErrNoFeatures on a flat image, got %v", err)
	}
}

func TestDescribeProducesUnitNormVector(t *testing.T) {
	img := checkerboard(32, 32, 6)
	desc := describe(img, 16, 16)
	norm := 0.0
	for _, v := range desc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 && math.Abs(norm-1) > 1e-6 {
		t.Fatalf("expected unit-norm descriptor, got norm %v", norm)
	}
}

func TestPassesEdgeTestRejectsPureEdge(t *testing.T) {
	d := newGrayFloat(5, 5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			if x < 2 {
				d.set(x, y, 0)
			} else {
				d.set(x, y, 100)
			}
		}
	}
	if passesEdgeTest(d, 2, 2, 4.5) {
		t.Fatalf("expected a straight edge to fail the edge test")
	}
}

func TestPassesEdgeTestAcceptsCorner(t *testing.T) {
	d := newGrayFloat(5, 5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			if x < 2 || y < 2 {
				d.set(x, y, 0)
			} else {
				d.set(x, y, 100)
			}
		}
	}
	if !passesEdgeTest(d, 2, 2, 10) {
		t.Fatalf("expected a corner-like feature to pass a lenient edge test")
	}
}
