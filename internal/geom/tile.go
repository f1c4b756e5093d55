package geom

import (
	"regexp"
	"time"
)

// Pyramid is a dense level -> URL mapping (spec §3 ImagePyramid). Level 0 is
// full resolution.
type Pyramid map[int]string

// Layout carries the acquisition layout metadata spec §3 lists alongside a
// Tile: scope/camera/section identity, grid row/column, and the physical
// stage position the adaptor derived the tile's placement from.
type Layout struct {
	ScopeID      string
	CameraID     string
	SectionID    string
	Row, Col     int
	PixelSize    float64
	StageX       float64
	StageY       float64
}

// stackNameSanitizer replaces any character outside [0-9A-Za-z_] with '_',
// per spec §3 Tile.stack_name.
var stackNameSanitizer = regexp.MustCompile(`[^0-9A-Za-z_]`)

// SanitizeStackName applies the stack-name character policy.
func SanitizeStackName(name string) string {
	return stackNameSanitizer.ReplaceAllString(name, "_")
}

// Tile is one image at one (stack, z) coordinate (spec §3 Tile). It is
// mutable only until it is sealed into a Section; AddTransform is the only
// mutator and is expected to be called solely by ingest adaptors before the
// tile is handed to a Section.
type Tile struct {
	ID              string // assigned at Section seal time; empty until then
	StackName       string
	ZValue          int
	X, Y            Axis
	AcquisitionTime time.Time
	MinIntensity    float64
	MaxIntensity    float64
	Pyramid         Pyramid
	Layout          Layout
	LocalTransforms []Affine
}

// NewTile constructs a Tile with a sanitized stack name and exactly the two
// required axes.
func NewTile(stackName string, z int, x, y Axis, acquisitionTime time.Time) *Tile {
	return &Tile{
		StackName:       SanitizeStackName(stackName),
		ZValue:          z,
		X:               x,
		Y:               y,
		AcquisitionTime: acquisitionTime,
		Pyramid:         Pyramid{},
	}
}

// AddTransform appends a local affine transform (e.g. y-aspect correction,
// rotation) to the tile. Transforms compose in the order added.
func (t *Tile) AddTransform(a Affine) {
	t.LocalTransforms = append(t.LocalTransforms, a)
}

// ComposedTransform returns the full affine composition of the tile's local
// transforms. If the tile carries none, it is the identity transform.
func (t *Tile) ComposedTransform() Affine {
	if len(t.LocalTransforms) == 0 {
		return Identity()
	}
	return ComposeAll(t.LocalTransforms)
}

// Width and Height of the tile in pixels, derived from its axes' box extent.
func (t *Tile) Width() float64  { return t.X.BoxMax - t.X.BoxMin }
func (t *Tile) Height() float64 { return t.Y.BoxMax - t.Y.BoxMin }

// WorldBounds returns the tile's minX, minY, maxX, maxY in world coordinates,
// derived directly from its axes. This is what gets sent to the render
// server as the explicit bounding box (spec §4.B: "no server-side
// boundary-box re-derivation").
func (t *Tile) WorldBounds() (minX, minY, maxX, maxY float64) {
	return t.X.MinPos(), t.Y.MinPos(), t.X.MaxPos(), t.Y.MaxPos()
}

// CheckTransformInvariant verifies invariant 4: the tile's composed affine
// transform, applied to the axis-aligned rectangle [0,width] x [0,height],
// must reproduce WorldBounds() within the given absolute tolerance.
func (t *Tile) CheckTransformInvariant(tol float64) bool {
	wantMinX, wantMinY, wantMaxX, wantMaxY := t.WorldBounds()
	gotMinX, gotMinY, gotMaxX, gotMaxY := t.ComposedTransform().BoundingBox(t.Width(), t.Height())
	return closeEnough(wantMinX, gotMinX, tol) &&
		closeEnough(wantMinY, gotMinY, tol) &&
		closeEnough(wantMaxX, gotMaxX, tol) &&
		closeEnough(wantMaxY, gotMaxY, tol)
}

func closeEnough(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

// shiftOrigin shifts the tile's axes and composed transform so that world
// coordinate (originX, originY) becomes (0, 0). Used by Section.Seal.
func (t *Tile) shiftOrigin(originX, originY float64) {
	t.X = t.X.Shifted(originX * t.X.PixelSize)
	t.Y = t.Y.Shifted(originY * t.Y.PixelSize)
	t.LocalTransforms = append(t.LocalTransforms, Translation(-originX, -originY))
}
