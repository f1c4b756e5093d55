package postcorrect

import (
	"fmt"
	"os"

	"github.com/hoogenboom-lab/render-pipeline/internal/emtiff"
)

// SaveBackground persists a section's estimated background as
// sum_of_files.tiff (spec §4.D step 6), rounding to the nearest 16-bit
// integer. The file is read back as a single-page pyramid.
func SaveBackground(sectionDir string, bg *Background) error {
	if err := os.MkdirAll(sectionDir, 0755); err != nil {
		return fmt.Errorf("postcorrect: creating %s: %w", sectionDir, err)
	}

	pixels := make([]uint16, len(bg.Pixels))
	for i, v := range bg.Pixels {
		if v < 0 {
			v = 0
		}
		if v > 65535 {
			v = 65535
		}
		pixels[i] = uint16(v + 0.5)
	}

	data, err := emtiff.EncodePyramid([]emtiff.WritePage{{
		Width:  bg.Width,
		Height: bg.Height,
		Pixels: pixels,
	}})
	if err != nil {
		return fmt.Errorf("postcorrect: encoding background for %s: %w", sectionDir, err)
	}

	path := sumOfFilesPath(sectionDir)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("postcorrect: writing %s: %w", path, err)
	}
	return nil
}

// LoadBackground reads a previously persisted sum_of_files.tiff, or reports
// ok=false if the section has none (spec §4.D "Neighbour fallback").
func LoadBackground(sectionDir string) (bg *Background, ok bool, err error) {
	path := sumOfFilesPath(sectionDir)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("postcorrect: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("postcorrect: stat %s: %w", path, err)
	}
	pages, err := emtiff.Decode(f, info.Size())
	if err != nil {
		return nil, false, fmt.Errorf("postcorrect: decoding %s: %w", path, err)
	}
	if len(pages) == 0 {
		return nil, false, fmt.Errorf("postcorrect: %s has no pages", path)
	}

	page := pages[0]
	pixels := make([]float64, len(page.Pixels))
	for i, v := range page.Pixels {
		pixels[i] = float64(v)
	}
	return &Background{Width: page.Width, Height: page.Height, Pixels: pixels}, true, nil
}
