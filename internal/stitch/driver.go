package stitch

import (
	"context"
	"fmt"
	"image"
	"math/bits"
	"math/rand"
	"sort"
	"sync"

	"github.com/hoogenboom-lab/render-pipeline/internal/coord"
	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
	"github.com/hoogenboom-lab/render-pipeline/internal/workpool"
)

// Result summarizes one stitch run (spec §4.H): the matching stack and
// pointmatch collection uploaded to render, ready for the external solver.
type Result struct {
	MatchingStack   string
	MatchCollection string
	TileCount       int
	MatchCount      int
}

// gatedFetcher serializes BBImage calls through a single semaphore, per
// spec §5 "all calls to get_bb_image across the CPU pool pass through a
// single mutex".
type gatedFetcher struct {
	client *renderclient.Client
	gate   *workpool.ImageDownloadGate
}

func (g gatedFetcher) BBImage(ctx context.Context, stack string, z int, x, y, width, height, scale float64) (*image.Gray, error) {
	var img *image.Gray
	err := g.gate.With(ctx, func() error {
		var innerErr error
		img, innerErr = g.client.BBImage(ctx, stack, z, x, y, width, height, scale)
		return innerErr
	})
	return img, err
}

// Run drives the stitcher end to end (spec §4.H): discover tilepairs per z,
// match them concurrently over the CPU pool, keep only the largest
// connected component per z, and upload the surviving tile-specs and
// pointmatches. It does not invoke the montage solver itself — callers run
// Solver.Run afterward with the returned Result.
func Run(ctx context.Context, client *renderclient.Client, cfg pipelinecfg.StitchConfig, reporter workpool.Reporter) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	zValues, err := client.GetZValues(ctx, cfg.SourceStack)
	if err != nil {
		return nil, fmt.Errorf("stitch: getting z values for %s: %w", cfg.SourceStack, err)
	}
	if len(zValues) == 0 {
		return nil, fmt.Errorf("stitch: stack %s has no z values", cfg.SourceStack)
	}
	sort.Ints(zValues)

	fetcher := gatedFetcher{client: client, gate: workpool.NewImageDownloadGate()}

	var mu sync.Mutex
	var allMatches []renderclient.PointMatch

	var tasks []workpool.Task
	for _, z := range zValues {
		z := z
		bounds, err := client.GetTileBoundsForZ(ctx, cfg.SourceStack, z)
		if err != nil {
			return nil, fmt.Errorf("stitch: getting tile bounds for z=%d: %w", z, err)
		}
		sectionID := fmt.Sprintf("%s.%d", cfg.SourceStack, z)
		pairs, _, err := DiscoverTilepairs(bounds, sectionID)
		if err != nil {
			return nil, err
		}
		pairs = orderByHilbert(pairs)

		for _, pair := range pairs {
			pair := pair
			// each RANSAC call gets its own rng so results don't race.
			rng := rand.New(rand.NewSource(seedFor(pair)))
			tasks = append(tasks, func(ctx context.Context) error {
				match, err := MatchPair(ctx, fetcher, cfg.SourceStack, z, pair, cfg, true, rng)
				if err != nil {
					return err
				}
				if match == nil {
					return nil
				}
				mu.Lock()
				allMatches = append(allMatches, *match)
				mu.Unlock()
				return nil
			})
		}
	}

	pool := workpool.New(cfg.CPUParallel, reporter)
	if err := pool.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("stitch: matching tilepairs: %w", err)
	}

	byGroup := make(map[string][]renderclient.PointMatch)
	for _, m := range allMatches {
		byGroup[m.PGroup] = append(byGroup[m.PGroup], m)
	}
	largest := make(map[string]bool)
	var kept []renderclient.PointMatch
	for _, group := range byGroup {
		tiles, groupKept := LargestComponent(group)
		for id := range tiles {
			largest[id] = true
		}
		kept = append(kept, groupKept...)
	}
	if len(largest) == 0 {
		return nil, fmt.Errorf("stitch: no connected tiles survived matching for stack %s", cfg.SourceStack)
	}

	allSpecs, err := client.GetTileSpecs(ctx, cfg.SourceStack)
	if err != nil {
		return nil, fmt.Errorf("stitch: getting tile-specs for %s: %w", cfg.SourceStack, err)
	}
	var goodSpecs []renderclient.TileSpec
	for _, spec := range allSpecs {
		if largest[spec.TileID] {
			goodSpecs = append(goodSpecs, spec)
		}
	}

	matchingStack := cfg.SourceStack + "_matching"
	matchCollection := cfg.Server.Project + "_" + cfg.SourceStack + "_matches"

	res, err := client.GetStackMetadata(ctx, cfg.SourceStack)
	if err != nil {
		return nil, fmt.Errorf("stitch: getting metadata for %s: %w", cfg.SourceStack, err)
	}
	if err := client.CreateStack(ctx, matchingStack, res, cfg.Clobber); err != nil {
		return nil, fmt.Errorf("stitch: creating %s: %w", matchingStack, err)
	}
	if err := client.ImportTileSpecs(ctx, matchingStack, goodSpecs); err != nil {
		return nil, fmt.Errorf("stitch: importing tile-specs into %s: %w", matchingStack, err)
	}
	if err := client.SetStackState(ctx, matchingStack, renderclient.StackComplete); err != nil {
		return nil, fmt.Errorf("stitch: completing %s: %w", matchingStack, err)
	}

	if err := client.ImportMatches(ctx, matchCollection, kept, cfg.Clobber); err != nil {
		return nil, fmt.Errorf("stitch: importing matches into %s: %w", matchCollection, err)
	}

	return &Result{
		MatchingStack:   matchingStack,
		MatchCollection: matchCollection,
		TileCount:       len(goodSpecs),
		MatchCount:      len(kept),
	}, nil
}

// orderByHilbert resubmits a section's tilepairs in Hilbert-curve order of
// their tile grid position. Every pair's image fetch is serialized through a
// single-slot gate (spec §5), so submission order is fetch order: visiting
// spatially adjacent tiles back to back keeps consecutive render-server
// requests close together instead of jumping across the section at random.
func orderByHilbert(pairs []Tilepair) []Tilepair {
	if len(pairs) <= 1 {
		return pairs
	}

	type tileKey struct{ col, row int }
	byTile := make(map[tileKey][]int)
	maxCoord := 0
	for i, pair := range pairs {
		col := int(pair.MatchX / pair.Size)
		row := int(pair.MatchY / pair.Size)
		key := tileKey{col: col, row: row}
		byTile[key] = append(byTile[key], i)
		if col > maxCoord {
			maxCoord = col
		}
		if row > maxCoord {
			maxCoord = row
		}
	}

	zoom := bits.Len(uint(maxCoord))
	if zoom == 0 {
		zoom = 1
	}
	tiles := make([][3]int, 0, len(byTile))
	for key := range byTile {
		tiles = append(tiles, [3]int{zoom, key.col, key.row})
	}
	coord.SortTilesByHilbert(tiles)

	ordered := make([]Tilepair, 0, len(pairs))
	for _, t := range tiles {
		for _, idx := range byTile[tileKey{col: t[1], row: t[2]}] {
			ordered = append(ordered, pairs[idx])
		}
	}
	return ordered
}

// seedFor derives a deterministic RANSAC seed from a tilepair's identity so
// repeated runs over the same stack sample consistently (spec §8 property 7
// "the same {stack}_matching membership").
func seedFor(pair Tilepair) int64 {
	var seed int64
	for _, r := range pair.PID + pair.QID {
		seed = seed*31 + int64(r)
	}
	return seed
}
