// Package upload batch-uploads sealed Stacks to the render server (spec
// §4.G, component G): create the stack under the clobber policy, import
// every tile-spec as one resolved-tile call, then transition to COMPLETE.
// Modeled on the teacher's internal/pmtiles.Writer construct-then-finalize
// lifecycle, here driving an HTTP client rather than a local archive file.
package upload

import (
	"context"
	"fmt"

	"github.com/hoogenboom-lab/render-pipeline/internal/geom"
	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
)

// ZResolution supplies the z-axis resolution a stack is created with; x/y
// resolutions come from the stack's own pixel_size (spec §4.G step b).
type ZResolution float64

// Uploader drives the upload of one or more sealed Stacks to a render
// server.
type Uploader struct {
	client  *renderclient.Client
	clobber bool
}

// New creates an Uploader bound to client with the given clobber policy.
func New(client *renderclient.Client, clobber bool) *Uploader {
	return &Uploader{client: client, clobber: clobber}
}

// Upload pushes one sealed Stack through create -> import -> COMPLETE (spec
// §4.G). The stack must already be fully sealed (every Section sealed, tile
// IDs assigned).
func (u *Uploader) Upload(ctx context.Context, stack *geom.Stack, zRes ZResolution) error {
	res := renderclient.StackResolution{X: stack.PixelSize, Y: stack.PixelSize, Z: float64(zRes)}
	if err := u.client.CreateStack(ctx, stack.Name, res, u.clobber); err != nil {
		return fmt.Errorf("upload: creating stack %q: %w", stack.Name, err)
	}

	specs, err := toTileSpecs(stack)
	if err != nil {
		return fmt.Errorf("upload: building tile-specs for %q: %w", stack.Name, err)
	}

	if err := u.client.ImportTileSpecs(ctx, stack.Name, specs); err != nil {
		return fmt.Errorf("upload: importing %d tile-specs for %q: %w", len(specs), stack.Name, err)
	}

	if err := u.client.SetStackState(ctx, stack.Name, renderclient.StackComplete); err != nil {
		return fmt.Errorf("upload: completing stack %q: %w", stack.Name, err)
	}
	return nil
}

// toTileSpecs converts every sealed Tile in a Stack into a renderclient
// TileSpec, carrying explicit world bounds so the server never re-derives
// them (spec §4.B, §4.G step c).
func toTileSpecs(stack *geom.Stack) ([]renderclient.TileSpec, error) {
	tiles := stack.Tiles()
	specs := make([]renderclient.TileSpec, 0, len(tiles))
	for _, t := range tiles {
		if t.ID == "" {
			return nil, fmt.Errorf("upload: tile in z=%d has no ID; section must be sealed before upload", t.ZValue)
		}
		minX, minY, maxX, maxY := t.WorldBounds()

		transforms := make([]renderclient.TileSpecTransform, 0, len(t.LocalTransforms))
		for _, a := range t.LocalTransforms {
			transforms = append(transforms, renderclient.TileSpecTransform{
				Type:       "affine",
				DataString: fmt.Sprintf("%g %g %g %g %g %g", a.A, a.D, a.B, a.E, a.C, a.F),
			})
		}

		specs = append(specs, renderclient.TileSpec{
			TileID:     t.ID,
			Z:          float64(t.ZValue),
			MinX:       minX,
			MinY:       minY,
			MaxX:       maxX,
			MaxY:       maxY,
			Width:      int(t.Width()),
			Height:     int(t.Height()),
			ImageURL:   pyramidURL(t),
			Transforms: transforms,
		})
	}
	return specs, nil
}

// pyramidURL returns the full-resolution (level 0) pyramid URL for a tile.
func pyramidURL(t *geom.Tile) string {
	return t.Pyramid[0]
}
