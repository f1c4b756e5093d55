// Package stitch implements the stitcher (spec §4.H): tilepair discovery,
// parallel SIFT+RANSAC seam matching, connectivity-graph filtering, and
// upload of the surviving tile-specs and pointmatches ahead of the external
// montage solve. Mirrors the original's separation of "find pairs"
// (get_match_tiles.py) from "match pairs" (match.py/stitch.py).
package stitch

import (
	"fmt"
	"sort"

	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
)

// Direction is the seam orientation between two adjacent tiles.
type Direction int

const (
	Horizontal Direction = iota
	Vertical
)

func (d Direction) String() string {
	if d == Horizontal {
		return "horizontal"
	}
	return "vertical"
}

// Tilepair is two adjacent tile IDs plus the world-coordinate seam origin
// and its direction (spec GLOSSARY "Tilepair").
type Tilepair struct {
	PID, QID  string
	MatchX    float64
	MatchY    float64
	SectionID string
	Direction Direction
	Size      float64 // tile edge length S, shared by every tile in the section
}

// DiscoverTilepairs indexes one z-level's tile-bounds by their top-left
// corner and emits every horizontal and vertical neighbour pair (spec §4.H
// "Tilepair discovery"). Every tile must be the same square size; sections
// need not be full rectangles, but more unmatched tiles than the opposite
// dimension's length is a fatal inconsistency.
func DiscoverTilepairs(bounds []renderclient.TileBounds, sectionID string) ([]Tilepair, float64, error) {
	if len(bounds) == 0 {
		return nil, 0, fmt.Errorf("stitch: no tile bounds given for section %s", sectionID)
	}

	size := bounds[0].MaxX - bounds[0].MinX
	for _, b := range bounds {
		if b.MaxX-b.MinX != size || b.MaxY-b.MinY != size {
			return nil, 0, fmt.Errorf("stitch: tile %s in section %s is not %gx%g", b.TileID, sectionID, size, size)
		}
	}

	// index by top-left corner: x -> y -> tileID
	byX := make(map[float64]map[float64]string)
	for _, b := range bounds {
		row, ok := byX[b.MinX]
		if !ok {
			row = make(map[float64]string)
			byX[b.MinX] = row
		}
		row[b.MinY] = b.TileID
	}

	xlen := len(byX)
	ylen := 0
	for _, row := range byX {
		if len(row) > ylen {
			ylen = len(row)
		}
	}

	var xMatches, yMatches []Tilepair
	xUnmatched, yUnmatched := 0, 0

	for _, b := range bounds {
		x, y := b.MaxX, b.MinY
		row, ok := byX[x]
		if !ok {
			xUnmatched++
			continue
		}
		matched, ok := row[y]
		if !ok {
			xUnmatched++
			continue
		}
		xMatches = append(xMatches, Tilepair{PID: b.TileID, QID: matched, MatchX: x, MatchY: y, SectionID: sectionID, Direction: Horizontal, Size: size})
	}
	if len(xMatches) == 0 {
		return nil, 0, fmt.Errorf("stitch: could not find any horizontal matches for section %s", sectionID)
	}
	if xUnmatched > ylen {
		return nil, 0, fmt.Errorf("stitch: section %s left more horizontal tiles unmatched than possible", sectionID)
	}

	for _, b := range bounds {
		x, y := b.MinX, b.MaxY
		row := byX[x] // x is guaranteed present: b.MinX indexed every tile
		matched, ok := row[y]
		if !ok {
			yUnmatched++
			continue
		}
		yMatches = append(yMatches, Tilepair{PID: b.TileID, QID: matched, MatchX: x, MatchY: y, SectionID: sectionID, Direction: Vertical, Size: size})
	}
	if len(yMatches) == 0 {
		return nil, 0, fmt.Errorf("stitch: could not find any vertical matches for section %s", sectionID)
	}
	if yUnmatched > xlen {
		return nil, 0, fmt.Errorf("stitch: section %s left more vertical tiles unmatched than possible", sectionID)
	}

	pairs := make([]Tilepair, 0, len(xMatches)+len(yMatches))
	pairs = append(pairs, xMatches...)
	pairs = append(pairs, yMatches...)
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].PID != pairs[j].PID {
			return pairs[i].PID < pairs[j].PID
		}
		return pairs[i].QID < pairs[j].QID
	})
	return pairs, size, nil
}
