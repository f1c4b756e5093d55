package encode

import (
	"fmt"
	"image"
)

// Encoder encodes an image into tile bytes.
type Encoder interface {
	// Encode encodes an image to bytes in the tile format.
	Encode(img image.Image) ([]byte, error)

	// Format returns the format name (e.g. "png").
	Format() string

	// FileExtension returns the appropriate file extension.
	FileExtension() string
}

// NewEncoder creates an encoder for the given format. quality is accepted
// for interface symmetry but unused: PNG is the only tile format the export
// pipeline writes (spec §4.I — box tiles and thumbnails are both PNG).
func NewEncoder(format string, quality int) (Encoder, error) {
	switch format {
	case "png":
		return &PNGEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported tile format: %q (supported: png)", format)
	}
}
