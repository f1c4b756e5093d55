package clem

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// omeRoot is the subset of an OME-XML document this adaptor reads: one
// Image element per channel plus the Instrument's Detector list. Go's
// encoding/xml matches struct tags against element local names regardless
// of the default namespace the acquisition software declares, so no
// namespace registration is needed (spec §4.F, §9 OME-TIFF input notes).
type omeRoot struct {
	XMLName    xml.Name      `xml:"OME"`
	Images     []omeImage    `xml:"Image"`
	Instrument omeInstrument `xml:"Instrument"`
}

type omeInstrument struct {
	Detectors []omeDetector `xml:"Detector"`
}

type omeDetector struct {
	ID    string `xml:"ID,attr"`
	Model string `xml:"Model,attr"`
}

type omeImage struct {
	Name              string               `xml:"Name,attr"`
	AcquisitionDate   string               `xml:"AcquisitionDate"`
	ObjectiveSettings omeObjectiveSettings `xml:"ObjectiveSettings"`
	Transform         *omeTransform        `xml:"Transform"`
	Pixels            omePixels            `xml:"Pixels"`
}

type omeObjectiveSettings struct {
	ID string `xml:"ID,attr"`
}

// omeTransform is the local rotation/shear matrix some acquisitions attach
// to an Image element (spec §4.F "optional local rotation transform").
type omeTransform struct {
	A00 float64 `xml:"A00,attr"`
	A01 float64 `xml:"A01,attr"`
	A02 float64 `xml:"A02,attr"`
	A10 float64 `xml:"A10,attr"`
	A11 float64 `xml:"A11,attr"`
	A12 float64 `xml:"A12,attr"`
}

type omePixels struct {
	PhysicalSizeX float64    `xml:"PhysicalSizeX,attr"`
	PhysicalSizeY float64    `xml:"PhysicalSizeY,attr"`
	SizeX         int        `xml:"SizeX,attr"`
	SizeY         int        `xml:"SizeY,attr"`
	Channel       omeChannel `xml:"Channel"`
	Plane         omePlane   `xml:"Plane"`
}

type omeChannel struct {
	ExcitationWavelength string `xml:"ExcitationWavelength,attr"`
}

type omePlane struct {
	// NOTE: the OME spec mandates micrometres here but these acquisitions
	// erroneously record metres (spec §9 Open Question, kept unconditional
	// per the decision recorded in DESIGN.md).
	PositionX float64 `xml:"PositionX,attr"`
	PositionY float64 `xml:"PositionY,attr"`
}

// parseOMEXML parses the ImageDescription of an OME-TIFF's first page.
// Some acquisitions prepend seven lines of ImageJ preamble ahead of the XML;
// if the first parse fails, those lines are dropped and parsing is retried
// once (spec §9 "OME-TIFF input (CLEM)").
func parseOMEXML(description string) (*omeRoot, error) {
	root, err := decodeOME(description)
	if err == nil {
		return root, nil
	}

	lines := strings.SplitN(description, "\n", 8)
	if len(lines) < 8 {
		return nil, fmt.Errorf("clem: parsing OME-XML: %w", err)
	}
	root, err2 := decodeOME(lines[7])
	if err2 != nil {
		return nil, fmt.Errorf("clem: parsing OME-XML after stripping preamble: %w", err2)
	}
	return root, nil
}

func decodeOME(s string) (*omeRoot, error) {
	var root omeRoot
	if err := xml.Unmarshal([]byte(s), &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// idSuffix returns the part of an OME LSID after its final colon, e.g.
// "Detector:1" -> "1".
func idSuffix(id string) string {
	if i := strings.LastIndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}

func imagesByName(images []omeImage) map[string]*omeImage {
	out := make(map[string]*omeImage, len(images))
	for i := range images {
		out[images[i].Name] = &images[i]
	}
	return out
}

func detectorsByObjectiveID(detectors []omeDetector) map[string]string {
	out := make(map[string]string, len(detectors))
	for _, d := range detectors {
		out[idSuffix(d.ID)] = d.Model
	}
	return out
}
