package tiff

import (
	"encoding/binary"
	"fmt"
	"os"

	"stitchvol/internal/models"
)

// PageInfo describes one page of a written file.
type PageInfo struct {
	Width, Height int
	Channels      int
	DType         models.DType

	StripOffset    int64
	StripByteCount int64
}

// ReadLayout walks the IFD chain of a file this package wrote and returns
// its pages. It understands exactly the subset the Writer emits: little
// endian, one strip per page, classic or BigTIFF.
func ReadLayout(path string) ([]PageInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 8 || raw[0] != 'I' || raw[1] != 'I' {
		return nil, fmt.Errorf("%s: not a little-endian TIFF", path)
	}

	var big bool
	var next int64
	switch binary.LittleEndian.Uint16(raw[2:]) {
	case 42:
		next = int64(binary.LittleEndian.Uint32(raw[4:]))
	case 43:
		big = true
		if binary.LittleEndian.Uint16(raw[4:]) != 8 {
			return nil, fmt.Errorf("%s: unexpected BigTIFF offset size", path)
		}
		next = int64(binary.LittleEndian.Uint64(raw[8:]))
	default:
		return nil, fmt.Errorf("%s: not a TIFF", path)
	}

	var pages []PageInfo
	for next != 0 {
		p, n, err := readIFD(raw, next, big)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		pages = append(pages, p)
		next = n
	}
	return pages, nil
}

func readIFD(raw []byte, off int64, big bool) (PageInfo, int64, error) {
	var p PageInfo
	entrySize, headSize, tailSize := 12, 2, 4
	if big {
		entrySize, headSize, tailSize = 20, 8, 8
	}
	if off < 0 || off+int64(headSize) > int64(len(raw)) {
		return p, 0, fmt.Errorf("IFD offset %d out of range", off)
	}

	var count int64
	if big {
		count = int64(binary.LittleEndian.Uint64(raw[off:]))
	} else {
		count = int64(binary.LittleEndian.Uint16(raw[off:]))
	}
	end := off + int64(headSize) + count*int64(entrySize)
	if end+int64(tailSize) > int64(len(raw)) {
		return p, 0, fmt.Errorf("IFD at %d truncated", off)
	}

	bits := int64(0)
	format := int64(sampleFormatUint)
	for i := int64(0); i < count; i++ {
		e := raw[off+int64(headSize)+i*int64(entrySize):]
		tag := binary.LittleEndian.Uint16(e)
		var n, val int64
		if big {
			n = int64(binary.LittleEndian.Uint64(e[4:]))
			val = int64(binary.LittleEndian.Uint64(e[12:]))
		} else {
			n = int64(binary.LittleEndian.Uint32(e[4:]))
			val = int64(binary.LittleEndian.Uint32(e[8:]))
		}

		switch tag {
		case tagImageWidth:
			p.Width = int(val)
		case tagImageLength:
			p.Height = int(val)
		case tagSamplesPerPixel:
			p.Channels = int(val & 0xFFFF)
		case tagBitsPerSample:
			bits = firstShort(raw, val, n, big)
		case tagSampleFormat:
			format = firstShort(raw, val, n, big)
		case tagStripOffsets:
			p.StripOffset = val
		case tagStripByteCounts:
			p.StripByteCount = val
		}
	}

	switch {
	case format == sampleFormatFloat && bits == 32:
		p.DType = models.Float32
	case bits == 8:
		p.DType = models.Uint8
	case bits == 16:
		p.DType = models.Uint16
	default:
		return p, 0, fmt.Errorf("unsupported sample layout: %d bits, format %d", bits, format)
	}

	next := int64(0)
	if big {
		next = int64(binary.LittleEndian.Uint64(raw[end:]))
	} else {
		next = int64(binary.LittleEndian.Uint32(raw[end:]))
	}
	return p, next, nil
}

// firstShort resolves the first element of a SHORT-array entry value,
// which is packed inline for small channel counts and spilled otherwise.
func firstShort(raw []byte, val, count int64, big bool) int64 {
	inline := int64(2)
	if big {
		inline = 4
	}
	if count <= inline {
		return val & 0xFFFF
	}
	if val+2 > int64(len(raw)) {
		return 0
	}
	return int64(binary.LittleEndian.Uint16(raw[val:]))
}
