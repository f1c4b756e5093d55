package main

import (
	"fmt"
	"os"

	"github.com/hoogenboom-lab/render-pipeline/internal/emtiff"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: emtiffinfo <file.tif>\n")
		os.Exit(1)
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	pages, err := emtiff.Decode(f, info.Size())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("File: %s\n", os.Args[1])
	fmt.Printf("Pages (pyramid levels): %d\n", len(pages))
	for i, p := range pages {
		fmt.Printf("\n  Level %d: %dx%d\n", i, p.Width, p.Height)
		if p.Description != "" {
			fmt.Printf("    Description: %s\n", p.Description)
		}
		if p.DateTime != "" {
			fmt.Printf("    DateTime: %s\n", p.DateTime)
		}
		if p.Width > 0 && p.Height > 0 {
			samplePixels(p, 5)
		}
	}
}

func samplePixels(p *emtiff.Page, count int) {
	step := p.Width / (count + 1)
	if step < 1 {
		step = 1
	}
	fmt.Printf("    Sample pixels (diagonal):\n")
	for i := 0; i < count; i++ {
		x := (i + 1) * step
		y := (i + 1) * step
		if x >= p.Width || y >= p.Height {
			break
		}
		fmt.Printf("      (%d,%d): %d\n", x, y, p.At(x, y))
	}
}
