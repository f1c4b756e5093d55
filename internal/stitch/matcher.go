package stitch

import (
	"context"
	"fmt"
	"image"
	"math"
	"math/rand"

	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
)

// SeamImageFetcher fetches the bounding-box image of a stitch seam. Backed
// by renderclient.Client.BBImage in production; an interface here keeps the
// matching logic testable without an HTTP server.
type SeamImageFetcher interface {
	BBImage(ctx context.Context, stack string, z int, x, y, width, height, scale float64) (*image.Gray, error)
}

// MatchPair computes the pointmatch for one tilepair (spec §4.H steps 1-9),
// or returns (nil, nil) if the pair does not yield enough matches — the
// original's "return {}" early-exits, none of which are fatal to the run.
func MatchPair(ctx context.Context, fetcher SeamImageFetcher, stack string, z int, pair Tilepair, cfg pipelinecfg.StitchConfig, clahe bool, rng *rand.Rand) (*renderclient.PointMatch, error) {
	img, err := fetchSeam(ctx, fetcher, stack, z, pair, cfg)
	if err != nil {
		return nil, fmt.Errorf("stitch: fetching seam image for %s-%s: %w", pair.PID, pair.QID, err)
	}

	pHalf, qHalf := splitSeam(img, pair.Direction, cfg.Overlap)
	if clahe {
		pHalf = grayFloatToImage(claheEnhance(fromGray(pHalf), cfg))
		qHalf = grayFloatToImage(claheEnhance(fromGray(qHalf), cfg))
	}

	pKP, pDesc, err := detectAndExtract(fromGray(pHalf), cfg)
	if err != nil {
		return nil, nil // spec: SIFT failure on a half-tile is a non-fatal empty match
	}
	qKP, qDesc, err := detectAndExtract(fromGray(qHalf), cfg)
	if err != nil {
		return nil, nil
	}

	pKP, pDesc = filterKeypoints(pKP, pDesc, cfg.Overlap, cfg.MaxKeypoints)
	qKP, qDesc = filterKeypoints(qKP, qDesc, cfg.Overlap, cfg.MaxKeypoints)
	if len(pKP) == 0 || len(qKP) == 0 {
		return nil, nil
	}

	matches := matchDescriptors(pDesc, qDesc, cfg.MaxMatchRatio, float64(cfg.Overlap))
	minSamples := int(math.Max(math.Round(cfg.MinSamplesFrac*float64(len(matches))), float64(cfg.MinSamplesFloor)))
	if len(matches) < minSamples {
		return nil, nil
	}

	src := make([][2]float64, len(matches))
	dst := make([][2]float64, len(matches))
	for i, m := range matches {
		src[i] = [2]float64{pKP[m.p].X, pKP[m.p].Y}
		dst[i] = [2]float64{qKP[m.q].X, qKP[m.q].Y}
	}

	_, inliers := ransacEuclidean(src, dst, minSamples, cfg.RANSACMaxTrials, cfg.RANSACThreshold, rng)
	if inliers == nil {
		return nil, nil
	}
	totalInliers := 0
	for _, ok := range inliers {
		if ok {
			totalInliers++
		}
	}
	if totalInliers < minSamples {
		return nil, nil
	}

	// translate inlier keypoints back into whole-tile coordinates: the p
	// half sits at the far edge of its tile, so add size-overlap along the
	// seam direction (spec §4.H step 8).
	adjusted := pair.Size - float64(cfg.Overlap)
	var pCoords, qCoords [][2]float64
	weights := make([]float64, 0, totalInliers)
	for i, ok := range inliers {
		if !ok {
			continue
		}
		px, py := src[i][0], src[i][1]
		qx, qy := dst[i][0], dst[i][1]
		if pair.Direction == Horizontal {
			px += adjusted
		} else {
			py += adjusted
		}
		pCoords = append(pCoords, [2]float64{px, py})
		qCoords = append(qCoords, [2]float64{qx, qy})
		weights = append(weights, 1)
	}

	return &renderclient.PointMatch{
		PGroup:  pair.SectionID,
		QGroup:  pair.SectionID,
		PID:     pair.PID,
		QID:     pair.QID,
		PCoords: pCoords,
		QCoords: qCoords,
		Weights: weights,
	}, nil
}

func fetchSeam(ctx context.Context, fetcher SeamImageFetcher, stack string, z int, pair Tilepair, cfg pipelinecfg.StitchConfig) (*image.Gray, error) {
	overlap := float64(cfg.Overlap)
	if pair.Direction == Horizontal {
		return fetcher.BBImage(ctx, stack, z, pair.MatchX-overlap, pair.MatchY, overlap*2, pair.Size, 1)
	}
	return fetcher.BBImage(ctx, stack, z, pair.MatchX, pair.MatchY-overlap, pair.Size, overlap*2, 1)
}

// splitSeam divides the fetched seam image into its p-side and q-side
// halves (spec §4.H step 2).
func splitSeam(img *image.Gray, dir Direction, overlap int) (p, q *image.Gray) {
	b := img.Bounds()
	if dir == Horizontal {
		return img.SubImage(image.Rect(b.Min.X, b.Min.Y, b.Min.X+overlap, b.Max.Y)).(*image.Gray),
			img.SubImage(image.Rect(b.Min.X+overlap, b.Min.Y, b.Max.X, b.Max.Y)).(*image.Gray)
	}
	return img.SubImage(image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+overlap)).(*image.Gray),
		img.SubImage(image.Rect(b.Min.X, b.Min.Y+overlap, b.Max.X, b.Max.Y)).(*image.Gray)
}
