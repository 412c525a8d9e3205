// Package tiff writes the fused output volume as a multi-page TIFF,
// one page per Z frame, appended incrementally as chunks are fused. When
// the projected file size exceeds what 32-bit offsets can address the
// writer emits the BigTIFF variant (version 43, 64-bit offsets) instead.
// Only what the fusion engine needs is implemented: uncompressed
// grayscale or multi-sample pages, one strip per page.
package tiff

import (
	"encoding/binary"
	"fmt"
	"os"

	"stitchvol/internal/models"
)

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339

	typeShort = 3
	typeLong  = 4
	typeLong8 = 16

	sampleFormatUint  = 1
	sampleFormatFloat = 3
)

// NeedBig reports whether a projected total byte size requires BigTIFF.
func NeedBig(totalBytes int64) bool { return totalBytes > 1<<31-1 }

// Writer appends pages to a TIFF file. The zero value is not usable; use
// Create. The file handle is owned by the writer until Close.
type Writer struct {
	f     *os.File
	big   bool
	off   int64 // current end of file
	link  int64 // offset of the pointer slot naming the next IFD
	pages int
}

// Create starts a new (Big)TIFF file, truncating any previous content.
func Create(path string, big bool) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output: %w", err)
	}
	w := &Writer{f: f, big: big}

	var hdr []byte
	if big {
		hdr = make([]byte, 16)
		copy(hdr, "II")
		binary.LittleEndian.PutUint16(hdr[2:], 43)
		binary.LittleEndian.PutUint16(hdr[4:], 8) // offset byte size
		// hdr[6:8] is the reserved zero word; the first-IFD slot at 8 is
		// patched by the first AppendPage.
		w.link = 8
	} else {
		hdr = make([]byte, 8)
		copy(hdr, "II")
		binary.LittleEndian.PutUint16(hdr[2:], 42)
		w.link = 4
	}
	if err := w.write(hdr); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Pages returns the number of pages appended so far.
func (w *Writer) Pages() int { return w.pages }

// AppendPage writes one frame as a new page. data holds the pixel samples
// in row-major order with the channel axis innermost, already in the
// output pixel type, little-endian.
func (w *Writer) AppendPage(data []byte, width, height, channels int, dt models.DType) error {
	if want := width * height * channels * dt.ItemSize(); len(data) != want {
		return fmt.Errorf("page payload is %d bytes, want %d", len(data), want)
	}

	dataOff := w.off
	if err := w.write(data); err != nil {
		return err
	}
	if w.off%2 == 1 {
		if err := w.write([]byte{0}); err != nil {
			return err
		}
	}

	bits := uint64(dt.ItemSize() * 8)
	format := uint64(sampleFormatUint)
	if dt == models.Float32 {
		format = sampleFormatFloat
	}

	// Per-channel arrays only fit inline for small channel counts; spill
	// them ahead of the IFD otherwise.
	inline := 2
	if w.big {
		inline = 4
	}
	bitsVal, formatVal := packShort(bits, channels), packShort(format, channels)
	if channels > inline {
		var err error
		if bitsVal, err = w.shortArray(bits, channels); err != nil {
			return err
		}
		if formatVal, err = w.shortArray(format, channels); err != nil {
			return err
		}
	}

	entries := []entry{
		{tagImageWidth, typeLong, 1, uint64(width)},
		{tagImageLength, typeLong, 1, uint64(height)},
		{tagBitsPerSample, typeShort, uint64(channels), bitsVal},
		{tagCompression, typeShort, 1, 1},
		{tagPhotometric, typeShort, 1, 1}, // min-is-black
		{tagStripOffsets, w.offType(), 1, uint64(dataOff)},
		{tagSamplesPerPixel, typeShort, 1, uint64(channels)},
		{tagRowsPerStrip, typeLong, 1, uint64(height)},
		{tagStripByteCounts, w.offType(), 1, uint64(len(data))},
		{tagPlanarConfig, typeShort, 1, 1},
		{tagSampleFormat, typeShort, uint64(channels), formatVal},
	}

	ifdOff := w.off
	if err := w.writeIFD(entries); err != nil {
		return err
	}
	if err := w.patchLink(ifdOff); err != nil {
		return err
	}
	// The next-IFD slot is the last offset-sized word of the IFD just
	// written.
	if w.big {
		w.link = w.off - 8
	} else {
		w.link = w.off - 4
	}
	w.pages++
	return nil
}

// Close finishes the file. The final IFD's next pointer is already zero.
func (w *Writer) Close() error {
	if w.pages == 0 {
		w.f.Close()
		return fmt.Errorf("no pages written to %s", w.f.Name())
	}
	return w.f.Close()
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint64
	val   uint64
}

func (w *Writer) offType() uint16 {
	if w.big {
		return typeLong8
	}
	return typeLong
}

func (w *Writer) writeIFD(entries []entry) error {
	var buf []byte
	if w.big {
		buf = make([]byte, 8+20*len(entries)+8)
		binary.LittleEndian.PutUint64(buf, uint64(len(entries)))
		p := 8
		for _, e := range entries {
			binary.LittleEndian.PutUint16(buf[p:], e.tag)
			binary.LittleEndian.PutUint16(buf[p+2:], e.typ)
			binary.LittleEndian.PutUint64(buf[p+4:], e.count)
			binary.LittleEndian.PutUint64(buf[p+12:], e.val)
			p += 20
		}
	} else {
		buf = make([]byte, 2+12*len(entries)+4)
		binary.LittleEndian.PutUint16(buf, uint16(len(entries)))
		p := 2
		for _, e := range entries {
			binary.LittleEndian.PutUint16(buf[p:], e.tag)
			binary.LittleEndian.PutUint16(buf[p+2:], e.typ)
			binary.LittleEndian.PutUint32(buf[p+4:], uint32(e.count))
			binary.LittleEndian.PutUint32(buf[p+8:], uint32(e.val))
			p += 12
		}
	}
	return w.write(buf)
}

// shortArray spills a repeated per-channel SHORT value and returns its
// offset for use as an entry value.
func (w *Writer) shortArray(v uint64, n int) (uint64, error) {
	if w.off%2 == 1 {
		if err := w.write([]byte{0}); err != nil {
			return 0, err
		}
	}
	off := w.off
	buf := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	return uint64(off), w.write(buf)
}

// packShort packs up to the inline number of per-channel SHORT values into
// an entry value word.
func packShort(v uint64, n int) uint64 {
	out := uint64(0)
	for i := 0; i < n && i < 4; i++ {
		out |= (v & 0xFFFF) << (16 * i)
	}
	return out
}

func (w *Writer) patchLink(ifdOff int64) error {
	var buf []byte
	if w.big {
		buf = make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(ifdOff))
	} else {
		buf = make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(ifdOff))
	}
	if _, err := w.f.WriteAt(buf, w.link); err != nil {
		return fmt.Errorf("linking page %d: %w", w.pages, err)
	}
	return nil
}

func (w *Writer) write(b []byte) error {
	n, err := w.f.Write(b)
	w.off += int64(n)
	if err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
