package geom

// Affine is a 2D affine transform in row-major form:
//
//	x' = A*x + B*y + C
//	y' = D*x + E*y + F
//
// Tiles carry a list of these (spec §3 Tile.local_transforms — y-aspect
// correction, rotation, and finally the world-placement transform appended
// by the ingest adaptor); they compose left-to-right, first transform
// applied first.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Identity is the neutral affine transform.
func Identity() Affine {
	return Affine{A: 1, E: 1}
}

// Translation builds a pure translation transform.
func Translation(dx, dy float64) Affine {
	return Affine{A: 1, E: 1, C: dx, F: dy}
}

// Scale builds a pure axis scale transform.
func Scale(sx, sy float64) Affine {
	return Affine{A: sx, E: sy}
}

// Apply maps a point through the transform.
func (t Affine) Apply(x, y float64) (float64, float64) {
	return t.A*x + t.B*y + t.C, t.D*x + t.E*y + t.F
}

// Compose returns the transform equivalent to applying t first, then next:
// Compose(t, next).Apply(p) == next.Apply(t.Apply(p)).
func Compose(t, next Affine) Affine {
	return Affine{
		A: next.A*t.A + next.B*t.D,
		B: next.A*t.B + next.B*t.E,
		C: next.A*t.C + next.B*t.F + next.C,
		D: next.D*t.A + next.E*t.D,
		E: next.D*t.B + next.E*t.E,
		F: next.D*t.C + next.E*t.F + next.F,
	}
}

// ComposeAll composes a list of transforms in application order (ts[0]
// applied first).
func ComposeAll(ts []Affine) Affine {
	out := Identity()
	for _, t := range ts {
		out = Compose(out, t)
	}
	return out
}

// BoundingBox applies t to the axis-aligned rectangle [0,width] x [0,height]
// and returns its world-coordinate bounding box. Used to check invariant 4:
// the composed transform applied to the unit rectangle must reproduce the
// tile's minX/minY/maxX/maxY.
func (t Affine) BoundingBox(width, height float64) (minX, minY, maxX, maxY float64) {
	corners := [4][2]float64{{0, 0}, {width, 0}, {0, height}, {width, height}}
	minX, minY = t.Apply(corners[0][0], corners[0][1])
	maxX, maxY = minX, minY
	for _, c := range corners[1:] {
		x, y := t.Apply(c[0], c[1])
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	return
}
