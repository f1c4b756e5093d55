package geom

import (
	"fmt"
	"sort"
	"time"
)

// ErrDuplicateAcquisitionTime is returned by Section.Add when a tile's
// acquisition_time collides with one already present (invariant 1).
var ErrDuplicateAcquisitionTime = fmt.Errorf("geom: duplicate acquisition_time within section")

// ErrPixelSizeMismatch is returned by Section.Add when a tile's pixel size
// disagrees with the section's established pixel size (invariant 2), and by
// Stack.AddSection for the equivalent stack-level check (invariant 3).
var ErrPixelSizeMismatch = fmt.Errorf("geom: pixel_size mismatch")

// ErrSectionEmpty is returned by Seal on a Section with no tiles.
var ErrSectionEmpty = fmt.Errorf("geom: cannot seal an empty section")

// ErrSectionAlreadySealed guards against double-sealing.
var ErrSectionAlreadySealed = fmt.Errorf("geom: section already sealed")

// Section holds every tile at one (stack, z) coordinate (spec §3 Section).
// Tiles accumulate via Add in arrival order (which may be concurrent and
// unordered — see internal/mipmap); Seal fixes the final deterministic
// order and tile IDs.
type Section struct {
	ZValue    int
	StackName string

	tiles     []*Tile
	byTime    map[time.Time]bool
	pixelSize float64
	sealed    bool

	// TopLeft is the running element-wise minimum of every tile axis's
	// MinPos, in pixel units. Valid after Seal.
	TopLeftX, TopLeftY float64

	// IntensityRange is the running weighted mean across tiles (weighted by
	// tile pixel count), valid after Seal.
	MinIntensity, MaxIntensity float64
}

// NewSection creates an empty section for (stackName, z).
func NewSection(stackName string, z int) *Section {
	return &Section{
		StackName: SanitizeStackName(stackName),
		ZValue:    z,
		byTime:    make(map[time.Time]bool),
	}
}

// Add enforces invariants 1 and 2 and appends the tile.
func (s *Section) Add(t *Tile) error {
	if s.sealed {
		return ErrSectionAlreadySealed
	}
	if s.byTime[t.AcquisitionTime] {
		return fmt.Errorf("%w: %s", ErrDuplicateAcquisitionTime, t.AcquisitionTime)
	}
	if len(s.tiles) > 0 && t.X.PixelSize != s.pixelSize {
		return fmt.Errorf("%w: section has %v, tile has %v", ErrPixelSizeMismatch, s.pixelSize, t.X.PixelSize)
	}
	if len(s.tiles) == 0 {
		s.pixelSize = t.X.PixelSize
	}

	s.byTime[t.AcquisitionTime] = true
	s.tiles = append(s.tiles, t)
	return nil
}

// PixelSize returns the section's established pixel size (0 if empty).
func (s *Section) PixelSize() float64 { return s.pixelSize }

// Len returns the number of tiles currently in the section.
func (s *Section) Len() int { return len(s.tiles) }

// Tiles returns the section's sealed tile list. Only meaningful after Seal;
// the order is descending acquisition_time (invariant 5).
func (s *Section) Tiles() []*Tile { return s.tiles }

// Seal finalizes the section: assigns tile IDs in descending acquisition_time
// order (invariant 5), computes the running top-left and weighted intensity
// range, and shifts every tile's transform so the section's top-left becomes
// the origin (spec §4.A).
func (s *Section) Seal() error {
	if s.sealed {
		return ErrSectionAlreadySealed
	}
	if len(s.tiles) == 0 {
		return ErrSectionEmpty
	}

	sort.Slice(s.tiles, func(i, j int) bool {
		return s.tiles[i].AcquisitionTime.After(s.tiles[j].AcquisitionTime)
	})

	width := len(fmt.Sprintf("%d", len(s.tiles)))
	for i, t := range s.tiles {
		t.ID = fmt.Sprintf("%0*d_%s_%d", width, i, s.StackName, s.ZValue)
	}

	minX, minY := s.tiles[0].X.MinPos(), s.tiles[0].Y.MinPos()
	var weightedMin, weightedMax, totalWeight float64
	for _, t := range s.tiles {
		if x := t.X.MinPos(); x < minX {
			minX = x
		}
		if y := t.Y.MinPos(); y < minY {
			minY = y
		}
		weight := t.Width() * t.Height()
		weightedMin += t.MinIntensity * weight
		weightedMax += t.MaxIntensity * weight
		totalWeight += weight
	}
	s.TopLeftX, s.TopLeftY = minX, minY
	if totalWeight > 0 {
		s.MinIntensity = weightedMin / totalWeight
		s.MaxIntensity = weightedMax / totalWeight
	}

	for _, t := range s.tiles {
		t.shiftOrigin(minX, minY)
	}

	s.sealed = true
	return nil
}

// Sealed reports whether Seal has run.
func (s *Section) Sealed() bool { return s.sealed }
