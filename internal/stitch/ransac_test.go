package stitch

import (
	"math"
	"math/rand"
	"testing"
)

func TestFitEuclideanRecoversPureTranslation(t *testing.T) {
	src := [][2]float64{{0, 0}, {10, 0}, {0, 10}, {10, 10}}
	dst := [][2]float64{{5, 3}, {15, 3}, {5, 13}, {15, 13}}
	model := fitEuclidean(src, dst)
	for i := range src {
		x, y := model.apply(src[i][0], src[i][1])
		if math.Abs(x-dst[i][0]) > 1e-6 || math.Abs(y-dst[i][1]) > 1e-6 {
			t.Fatalf("point %d: expected %v, got (%v,%v)", i, dst[i], x, y)
		}
	}
}

func TestFitEuclideanRecoversRotation(t *testing.T) {
	theta := math.Pi / 6
	cos, sin := math.Cos(theta), math.Sin(theta)
	src := [][2]float64{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}
	dst := make([][2]float64, len(src))
	for i, p := range src {
		dst[i] = [2]float64{cos*p[0] - sin*p[1], sin*p[0] + cos*p[1]}
	}
	model := fitEuclidean(src, dst)
	for i := range src {
		x, y := model.apply(src[i][0], src[i][1])
		if math.Abs(x-dst[i][0]) > 1e-6 || math.Abs(y-dst[i][1]) > 1e-6 {
			t.Fatalf("point %d: expected %v, got (%v,%v)", i, dst[i], x, y)
		}
	}
}

func TestRansacEuclideanRejectsOutliers(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var src, dst [][2]float64
	for i := 0; i < 20; i++ {
		x, y := float64(i), float64(2*i)
		src = append(src, [2]float64{x, y})
		dst = append(dst, [2]float64{x + 5, y + 3})
	}
	// add outliers that don't fit the translation model
	src = append(src, [2]float64{1000, -1000}, [2]float64{-500, 500})
	dst = append(dst, [2]float64{-1, -1}, [2]float64{999, 999})

	model, inliers := ransacEuclidean(src, dst, 3, 200, 1.0, rng)
	if inliers == nil {
		t.Fatalf("expected a model to be found")
	}
	inlierCount := 0
	for i, ok := range inliers {
		if ok {
			inlierCount++
			if i >= 20 {
				t.Fatalf("outlier at index %d incorrectly marked inlier", i)
			}
		}
	}
	if inlierCount < 18 {
		t.Fatalf("expected most of the 20 consistent points to be inliers, got %d", inlierCount)
	}
	x, y := model.apply(0, 0)
	if math.Abs(x-5) > 1.0 || math.Abs(y-3) > 1.0 {
		t.Fatalf("expected model translation near (5,3), got (%v,%v)", x, y)
	}
}

func TestRansacEuclideanTooFewPoints(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	src := [][2]float64{{0, 0}, {1, 1}}
	dst := [][2]float64{{0, 0}, {1, 1}}
	_, inliers := ransacEuclidean(src, dst, 5, 10, 1.0, rng)
	if inliers != nil {
		t.Fatalf("expected nil inliers when n < minSamples")
	}
}

func TestSampleIndicesReturnsDistinctIndices(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	idx := sampleIndices(rng, 10, 4)
	if len(idx) != 4 {
		t.Fatalf("expected 4 indices, got %d", len(idx))
	}
	seen := map[int]bool{}
	for _, i := range idx {
		if seen[i] {
			t.Fatalf("duplicate index %d", i)
		}
		seen[i] = true
	}
}
