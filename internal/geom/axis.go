// Package geom implements the pipeline's core data model: Axis, Tile,
// Section and Stack (spec §3–§4.A). It is pure-functional — no I/O, no
// concurrency — mirroring the teacher's internal/coord package, which keeps
// coordinate arithmetic as small structs and free functions.
package geom

// Axis is one coordinate dimension of one tile (spec §3 "Axis").
//
// All fields are set at construction and never mutated; BoxMin/BoxMax/
// Position/PixelSize are the inputs, the rest are derived.
type Axis struct {
	BoxMin    float64 // pixel extent after any local transform
	BoxMax    float64
	Position  float64 // physical offset of the top-left corner, same units as PixelSize
	PixelSize float64 // physical length of one pixel
}

// NewAxis constructs an Axis from its four physical inputs.
func NewAxis(boxMin, boxMax, position, pixelSize float64) Axis {
	return Axis{BoxMin: boxMin, BoxMax: boxMax, Position: position, PixelSize: pixelSize}
}

// PixelPosition is Position expressed in pixel units.
func (a Axis) PixelPosition() float64 {
	return a.Position / a.PixelSize
}

// MinPos is the lower world-coordinate bound of this axis.
func (a Axis) MinPos() float64 {
	return a.PixelPosition() + a.BoxMin
}

// MaxPos is the upper world-coordinate bound of this axis.
func (a Axis) MaxPos() float64 {
	return a.PixelPosition() + a.BoxMax
}

// Shifted returns a copy of the axis with Position shifted by -delta (in the
// same physical units as Position), used when a Section is sealed and every
// tile's transform is shifted so the section's top-left becomes the origin.
func (a Axis) Shifted(delta float64) Axis {
	a.Position -= delta
	return a
}
