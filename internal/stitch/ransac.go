package stitch

import (
	"math"
	"math/rand"
)

// euclideanTransform is a 2D rotation + translation (no scale), matching
// skimage.transform.EuclideanTransform — the model class the original fits
// with RANSAC (spec §4.H step 7).
type euclideanTransform struct {
	cos, sin float64
	tx, ty   float64
}

func (t euclideanTransform) apply(x, y float64) (float64, float64) {
	return t.cos*x-t.sin*y + t.tx, t.sin*x+t.cos*y + t.ty
}

// fitEuclidean solves the rotation+translation that best maps src onto dst
// (both length >= 2), via the closed-form Umeyama/Kabsch alignment.
func fitEuclidean(src, dst [][2]float64) euclideanTransform {
	n := float64(len(src))
	var srcMeanX, srcMeanY, dstMeanX, dstMeanY float64
	for i := range src {
		srcMeanX += src[i][0]
		srcMeanY += src[i][1]
		dstMeanX += dst[i][0]
		dstMeanY += dst[i][1]
	}
	srcMeanX, srcMeanY = srcMeanX/n, srcMeanY/n
	dstMeanX, dstMeanY = dstMeanX/n, dstMeanY/n

	var sxx, sxy, syx, syy float64
	for i := range src {
		sx, sy := src[i][0]-srcMeanX, src[i][1]-srcMeanY
		dx, dy := dst[i][0]-dstMeanX, dst[i][1]-dstMeanY
		sxx += sx * dx
		sxy += sx * dy
		syx += sy * dx
		syy += sy * dy
	}

	// optimal rotation angle for a pure rotation+translation least-squares
	// fit (no reflection/scale), derived from the cross-covariance matrix.
	theta := math.Atan2(sxy-syx, sxx+syy)
	cos, sin := math.Cos(theta), math.Sin(theta)

	tx := dstMeanX - (cos*srcMeanX - sin*srcMeanY)
	ty := dstMeanY - (sin*srcMeanX + cos*srcMeanY)
	return euclideanTransform{cos: cos, sin: sin, tx: tx, ty: ty}
}

// ransacEuclidean fits a euclideanTransform robustly: repeatedly sample
// minSamples correspondences, fit, count inliers within residualThreshold,
// and keep the best-supported model (spec §4.H step 7). Returns nil inliers
// if no sample produced a model meeting minSamples inliers.
func ransacEuclidean(src, dst [][2]float64, minSamples, maxTrials int, residualThreshold float64, rng *rand.Rand) (euclideanTransform, []bool) {
	n := len(src)
	var bestInliers []bool
	bestCount := -1
	var bestModel euclideanTransform

	if n < minSamples {
		return euclideanTransform{}, nil
	}

	for trial := 0; trial < maxTrials; trial++ {
		sampleIdx := sampleIndices(rng, n, minSamples)
		sampleSrc := make([][2]float64, minSamples)
		sampleDst := make([][2]float64, minSamples)
		for i, idx := range sampleIdx {
			sampleSrc[i] = src[idx]
			sampleDst[i] = dst[idx]
		}
		model := fitEuclidean(sampleSrc, sampleDst)

		inliers := make([]bool, n)
		count := 0
		for i := range src {
			px, py := model.apply(src[i][0], src[i][1])
			d := math.Hypot(px-dst[i][0], py-dst[i][1])
			if d <= residualThreshold {
				inliers[i] = true
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			bestInliers = inliers
			bestModel = model
		}
	}

	if bestCount < minSamples {
		return euclideanTransform{}, nil
	}

	// refit on every inlier for a tighter final model, as skimage.ransac does.
	var inSrc, inDst [][2]float64
	for i, ok := range bestInliers {
		if ok {
			inSrc = append(inSrc, src[i])
			inDst = append(inDst, dst[i])
		}
	}
	bestModel = fitEuclidean(inSrc, inDst)
	return bestModel, bestInliers
}

func sampleIndices(rng *rand.Rand, n, k int) []int {
	perm := rng.Perm(n)
	return perm[:k]
}
