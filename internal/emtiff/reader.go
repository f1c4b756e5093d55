package emtiff

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Decode reads every IFD (page) of a classic (non-BigTIFF) TIFF file.
// OME-TIFF multi-channel acquisitions are represented as one page per channel.
func Decode(r io.ReaderAt, size int64) ([]*Page, error) {
	header := make([]byte, 8)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("emtiff: reading header: %w", err)
	}

	var bo binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("emtiff: not a TIFF file (bad byte-order marker %q)", header[0:2])
	}
	if magic := bo.Uint16(header[2:4]); magic != 42 {
		return nil, fmt.Errorf("emtiff: not a classic TIFF (magic %d)", magic)
	}

	sr := &sectionReaderAt{r: r, size: size}
	offset := uint64(bo.Uint32(header[4:8]))

	var pages []*Page
	seen := map[uint64]bool{}
	for offset != 0 {
		if seen[offset] {
			return nil, fmt.Errorf("emtiff: cyclic IFD chain at offset %d", offset)
		}
		seen[offset] = true

		raw, next, err := parseIFD(sr, bo, offset)
		if err != nil {
			return nil, err
		}
		page, err := decodePixels(sr, bo, raw)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
		offset = next
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("emtiff: no image file directories found")
	}
	return pages, nil
}

// sectionReaderAt is a minimal io.ReaderAt bounds helper so callers can pass
// an *os.File directly.
type sectionReaderAt struct {
	r    io.ReaderAt
	size int64
}

func (s *sectionReaderAt) readAt(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := s.r.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

func parseIFD(r *sectionReaderAt, bo binary.ByteOrder, offset uint64) (*rawIFD, uint64, error) {
	countBuf, err := r.readAt(int64(offset), 2)
	if err != nil {
		return nil, 0, fmt.Errorf("emtiff: reading IFD entry count at %d: %w", offset, err)
	}
	count := int(bo.Uint16(countBuf))

	entriesBuf, err := r.readAt(int64(offset)+2, count*12)
	if err != nil {
		return nil, 0, fmt.Errorf("emtiff: reading %d IFD entries at %d: %w", count, offset, err)
	}

	raw := &rawIFD{
		bitsPerSample: 16,
		sampleFormat:  sampleFormatUnsignedInt,
		compression:   compressionNone,
		photometric:   photometricBlackIsZero,
		rowsPerStrip:  1 << 20,
	}

	for i := 0; i < count; i++ {
		e := entriesBuf[i*12 : i*12+12]
		tag := bo.Uint16(e[0:2])
		dt := bo.Uint16(e[2:4])
		cnt := bo.Uint32(e[4:8])
		valBytes := e[8:12]

		switch tag {
		case tagImageWidth:
			raw.width = readUintField(bo, dt, valBytes)
		case tagImageLength:
			raw.height = readUintField(bo, dt, valBytes)
		case tagBitsPerSample:
			raw.bitsPerSample = uint16(readUintField(bo, dt, valBytes))
		case tagSampleFormat:
			raw.sampleFormat = uint16(readUintField(bo, dt, valBytes))
		case tagCompression:
			raw.compression = uint16(readUintField(bo, dt, valBytes))
		case tagPhotometric:
			raw.photometric = uint16(readUintField(bo, dt, valBytes))
		case tagRowsPerStrip:
			raw.rowsPerStrip = readUintField(bo, dt, valBytes)
		case tagStripOffsets:
			vals, err := readUintArray(r, bo, dt, cnt, valBytes)
			if err != nil {
				return nil, 0, err
			}
			raw.stripOffsets = vals
		case tagStripByteCounts:
			vals, err := readUintArray(r, bo, dt, cnt, valBytes)
			if err != nil {
				return nil, 0, err
			}
			raw.stripByteCounts = vals
		case tagImageDescription:
			s, err := readASCII(r, bo, cnt, valBytes)
			if err != nil {
				return nil, 0, err
			}
			raw.description = s
		case tagDateTime:
			s, err := readASCII(r, bo, cnt, valBytes)
			if err != nil {
				return nil, 0, err
			}
			raw.dateTime = s
		case tagPageName:
			s, err := readASCII(r, bo, cnt, valBytes)
			if err != nil {
				return nil, 0, err
			}
			raw.pageName = s
		}
	}

	nextBuf, err := r.readAt(int64(offset)+2+int64(count)*12, 4)
	if err != nil {
		return nil, 0, fmt.Errorf("emtiff: reading next-IFD offset: %w", err)
	}
	raw.nextIFDOffset = uint64(bo.Uint32(nextBuf))

	if raw.width == 0 || raw.height == 0 {
		return nil, 0, fmt.Errorf("emtiff: IFD at %d missing width/height", offset)
	}
	return raw, raw.nextIFDOffset, nil
}

func readUintField(bo binary.ByteOrder, dt uint16, v []byte) uint32 {
	switch dt {
	case dtShort:
		return uint32(bo.Uint16(v[0:2]))
	case dtLong:
		return bo.Uint32(v)
	default:
		return bo.Uint32(v)
	}
}

func readUintArray(r *sectionReaderAt, bo binary.ByteOrder, dt uint16, count uint32, inlineVal []byte) ([]uint64, error) {
	var elemSize int
	switch dt {
	case dtShort:
		elemSize = 2
	case dtLong:
		elemSize = 4
	default:
		return nil, fmt.Errorf("emtiff: unsupported array data type %d", dt)
	}

	total := int(count) * elemSize
	var data []byte
	if total <= 4 {
		data = inlineVal[:total]
	} else {
		offset := bo.Uint32(inlineVal)
		var err error
		data, err = r.readAt(int64(offset), total)
		if err != nil {
			return nil, fmt.Errorf("emtiff: reading array of %d entries: %w", count, err)
		}
	}

	out := make([]uint64, count)
	for i := 0; i < int(count); i++ {
		chunk := data[i*elemSize : i*elemSize+elemSize]
		if elemSize == 2 {
			out[i] = uint64(bo.Uint16(chunk))
		} else {
			out[i] = uint64(bo.Uint32(chunk))
		}
	}
	return out, nil
}

func readASCII(r *sectionReaderAt, bo binary.ByteOrder, count uint32, inlineVal []byte) (string, error) {
	if count <= 4 {
		return trimNUL(inlineVal[:count]), nil
	}
	offset := bo.Uint32(inlineVal)
	data, err := r.readAt(int64(offset), int(count))
	if err != nil {
		return "", fmt.Errorf("emtiff: reading ASCII field of length %d: %w", count, err)
	}
	return trimNUL(data), nil
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func decodePixels(r *sectionReaderAt, bo binary.ByteOrder, raw *rawIFD) (*Page, error) {
	if raw.bitsPerSample != 8 && raw.bitsPerSample != 16 {
		return nil, fmt.Errorf("emtiff: unsupported bits-per-sample %d", raw.bitsPerSample)
	}
	if len(raw.stripOffsets) == 0 || len(raw.stripOffsets) != len(raw.stripByteCounts) {
		return nil, fmt.Errorf("emtiff: missing or inconsistent strip layout")
	}

	bytesPerSample := int(raw.bitsPerSample) / 8
	pixels := make([]uint16, int(raw.width)*int(raw.height))

	rowsWritten := 0
	for i, off := range raw.stripOffsets {
		n := int(raw.stripByteCounts[i])
		data, err := r.readAt(int64(off), n)
		if err != nil {
			return nil, fmt.Errorf("emtiff: reading strip %d: %w", i, err)
		}
		switch raw.compression {
		case compressionNone:
			// use as-is
		case compressionLZW:
			data, err = decompressTIFFLZW(data)
			if err != nil {
				return nil, fmt.Errorf("emtiff: LZW strip %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("emtiff: unsupported compression %d", raw.compression)
		}

		rowsInStrip := len(data) / bytesPerSample / int(raw.width)
		base := rowsWritten * int(raw.width)
		for px := 0; px < rowsInStrip*int(raw.width) && base+px < len(pixels); px++ {
			if bytesPerSample == 2 {
				pixels[base+px] = bo.Uint16(data[px*2 : px*2+2])
			} else {
				pixels[base+px] = uint16(data[px]) * 257 // 8-bit -> 16-bit full range
			}
		}
		rowsWritten += rowsInStrip
	}

	return &Page{
		Width:       int(raw.width),
		Height:      int(raw.height),
		Pixels:      pixels,
		Description: raw.description,
		DateTime:    raw.dateTime,
		PageName:    raw.pageName,
	}, nil
}
