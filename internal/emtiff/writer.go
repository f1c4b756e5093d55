package emtiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// WritePage is one level of a pyramid to encode.
type WritePage struct {
	Width, Height int
	Pixels        []uint16
	Description   string // only written for level 0, per spec §4.A
	DateTime      string
}

// ifdEntry is a single TIFF directory entry pending serialization. ASCII
// fields carry their string out-of-line; everything else fits inline.
type ifdEntry struct {
	tag    uint16
	dt     uint16
	count  uint32
	value  uint32
	ascii  string
}

// EncodePyramid writes a classic little-endian multi-IFD 16-bit grayscale
// TIFF: one IFD per pyramid level, one uncompressed strip per level. Only
// the first page's ImageDescription is written (spec §4.A: "only level 0
// carries the OME-XML description"). Pages are chained via the TIFF
// next-IFD offset in the order given.
func EncodePyramid(pages []WritePage) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("emtiff: no pages to encode")
	}
	for i, p := range pages {
		if p.Width <= 0 || p.Height <= 0 || len(p.Pixels) != p.Width*p.Height {
			return nil, fmt.Errorf("emtiff: page %d has inconsistent dimensions", i)
		}
	}

	bo := binary.LittleEndian
	buf := &bytes.Buffer{}

	buf.WriteString("II")
	writeU16(buf, bo, 42)
	firstIFDOffsetPos := buf.Len()
	writeU32(buf, bo, 0) // patched once the first IFD's position is known

	// Strip data for every level is written up front so each IFD can
	// reference a fixed offset.
	stripOffsets := make([]uint32, len(pages))
	stripLengths := make([]uint32, len(pages))
	for i, p := range pages {
		stripOffsets[i] = uint32(buf.Len())
		for _, v := range p.Pixels {
			writeU16(buf, bo, v)
		}
		stripLengths[i] = uint32(len(p.Pixels) * 2)
	}

	ifdOffsets := make([]uint32, len(pages))
	nextIFDPatchPos := make([]int, len(pages))

	for i, p := range pages {
		ifdOffsets[i] = uint32(buf.Len())

		entries := []ifdEntry{
			{tag: tagImageWidth, dt: dtLong, count: 1, value: uint32(p.Width)},
			{tag: tagImageLength, dt: dtLong, count: 1, value: uint32(p.Height)},
			{tag: tagBitsPerSample, dt: dtShort, count: 1, value: 16},
			{tag: tagCompression, dt: dtShort, count: 1, value: compressionNone},
			{tag: tagPhotometric, dt: dtShort, count: 1, value: photometricBlackIsZero},
			{tag: tagStripOffsets, dt: dtLong, count: 1, value: stripOffsets[i]},
			{tag: tagSamplesPerPixel, dt: dtShort, count: 1, value: 1},
			{tag: tagRowsPerStrip, dt: dtLong, count: 1, value: uint32(p.Height)},
			{tag: tagStripByteCounts, dt: dtLong, count: 1, value: stripLengths[i]},
			{tag: tagSampleFormat, dt: dtShort, count: 1, value: sampleFormatUnsignedInt},
		}
		if i == 0 && p.Description != "" {
			entries = append(entries, ifdEntry{tag: tagImageDescription, dt: dtASCII, count: uint32(len(p.Description) + 1), ascii: p.Description})
		}
		if p.DateTime != "" {
			entries = append(entries, ifdEntry{tag: tagDateTime, dt: dtASCII, count: uint32(len(p.DateTime) + 1), ascii: p.DateTime})
		}

		sort.Slice(entries, func(a, b int) bool { return entries[a].tag < entries[b].tag })

		writeU16(buf, bo, uint16(len(entries)))

		type pendingASCII struct {
			patchPos int
			value    string
		}
		var pending []pendingASCII

		for _, e := range entries {
			writeU16(buf, bo, e.tag)
			writeU16(buf, bo, e.dt)
			writeU32(buf, bo, e.count)
			if e.ascii != "" {
				pending = append(pending, pendingASCII{patchPos: buf.Len(), value: e.ascii})
				writeU32(buf, bo, 0) // patched below
			} else {
				writeU32(buf, bo, e.value)
			}
		}

		nextIFDPatchPos[i] = buf.Len()
		writeU32(buf, bo, 0) // patched in the final pass

		for _, pa := range pending {
			off := uint32(buf.Len())
			buf.WriteString(pa.value)
			buf.WriteByte(0)
			raw := buf.Bytes()
			bo.PutUint32(raw[pa.patchPos:pa.patchPos+4], off)
		}
	}

	raw := buf.Bytes()
	bo.PutUint32(raw[firstIFDOffsetPos:firstIFDOffsetPos+4], ifdOffsets[0])
	for i := 0; i < len(pages)-1; i++ {
		bo.PutUint32(raw[nextIFDPatchPos[i]:nextIFDPatchPos[i]+4], ifdOffsets[i+1])
	}
	// The last page's next-IFD offset stays 0, terminating the chain.

	return raw, nil
}

func writeU16(buf *bytes.Buffer, bo binary.ByteOrder, v uint16) {
	var b [2]byte
	bo.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, bo binary.ByteOrder, v uint32) {
	var b [4]byte
	bo.PutUint32(b[:], v)
	buf.Write(b[:])
}
