// Package raster reads single-band GeoTIFF population rasters and computes
// zonal statistics over polygons.
//
// The reader covers the subset of TIFF actually seen in population rasters:
// one sample per pixel, strip or tile organization, uncompressed or Deflate
// data, integer or floating-point samples, georeferencing via
// ModelPixelScale + ModelTiepoint, and the GDAL_NODATA tag. LZW-compressed
// rasters are rejected with a remediation hint (TIFF LZW uses an
// early-change variant the stdlib decoder does not implement).
package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// TIFF tag IDs used by the reader.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGDALNoData      = 42113
)

// Compression schemes.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionOldDeflate = 32946
)

// Sample formats.
const (
	formatUint  = 1
	formatInt   = 2
	formatFloat = 3
)

// Raster is an open single-band GeoTIFF.
type Raster struct {
	f         *os.File
	byteOrder binary.ByteOrder

	Width  int
	Height int

	bitsPerSample int
	sampleFormat  int
	compression   int
	predictor     int

	tiled      bool
	tileWidth  int
	tileLength int
	offsets    []uint64
	counts     []uint64
	rowsPerBlk int

	// Geotransform: geographic x/y of the raster origin (top-left corner)
	// and per-pixel scale. Y scale is positive; rows increase southward.
	originX, originY float64
	scaleX, scaleY   float64

	// NoData is the declared nodata value, if any.
	NoData *float64

	cache blockCache
}

// OpenGeoTIFF opens and validates a GeoTIFF file.
func OpenGeoTIFF(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}

	r := &Raster{f: f, predictor: 1, compression: compressionNone, sampleFormat: formatUint}
	if err := r.parse(); err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "raster: parse %s", path)
	}
	return r, nil
}

// Close releases the underlying file.
func (r *Raster) Close() error { return r.f.Close() }

func (r *Raster) parse() error {
	var hdr [8]byte
	if _, err := r.f.ReadAt(hdr[:], 0); err != nil {
		return eris.Wrap(err, "read header")
	}

	switch string(hdr[0:2]) {
	case "II":
		r.byteOrder = binary.LittleEndian
	case "MM":
		r.byteOrder = binary.BigEndian
	default:
		return eris.New("not a TIFF file")
	}
	if r.byteOrder.Uint16(hdr[2:4]) != 42 {
		return eris.New("bad TIFF magic")
	}

	ifdOffset := int64(r.byteOrder.Uint32(hdr[4:8]))
	fields, err := r.readIFD(ifdOffset)
	if err != nil {
		return err
	}

	samplesPerPixel := 1
	bitsPerSample := 8
	var pixelScale, tiepoint []float64

	for _, fld := range fields {
		switch fld.tag {
		case tagImageWidth:
			r.Width = int(fld.firstInt())
		case tagImageLength:
			r.Height = int(fld.firstInt())
		case tagBitsPerSample:
			bitsPerSample = int(fld.firstInt())
		case tagCompression:
			r.compression = int(fld.firstInt())
		case tagSamplesPerPixel:
			samplesPerPixel = int(fld.firstInt())
		case tagRowsPerStrip:
			r.rowsPerBlk = int(fld.firstInt())
		case tagStripOffsets:
			r.offsets = fld.ints()
		case tagStripByteCounts:
			r.counts = fld.ints()
		case tagPredictor:
			r.predictor = int(fld.firstInt())
		case tagTileWidth:
			r.tiled = true
			r.tileWidth = int(fld.firstInt())
		case tagTileLength:
			r.tileLength = int(fld.firstInt())
		case tagTileOffsets:
			r.tiled = true
			r.offsets = fld.ints()
		case tagTileByteCounts:
			r.counts = fld.ints()
		case tagSampleFormat:
			r.sampleFormat = int(fld.firstInt())
		case tagModelPixelScale:
			pixelScale = fld.doubles()
		case tagModelTiepoint:
			tiepoint = fld.doubles()
		case tagGDALNoData:
			s := strings.TrimRight(strings.TrimSpace(fld.ascii()), "\x00")
			if v, parseErr := strconv.ParseFloat(s, 64); parseErr == nil {
				nd := v
				r.NoData = &nd
			}
		}
	}

	r.bitsPerSample = bitsPerSample

	if r.Width <= 0 || r.Height <= 0 {
		return eris.New("missing image dimensions")
	}
	if samplesPerPixel != 1 {
		return eris.Errorf("unsupported samples per pixel %d (single-band rasters only)", samplesPerPixel)
	}
	switch r.compression {
	case compressionNone, compressionDeflate, compressionOldDeflate:
	case compressionLZW:
		return eris.New("LZW compression not supported; recompress with `gdal_translate -co COMPRESS=DEFLATE`")
	default:
		return eris.Errorf("unsupported compression %d", r.compression)
	}
	switch r.bitsPerSample {
	case 8, 16, 32, 64:
	default:
		return eris.Errorf("unsupported bit depth %d", r.bitsPerSample)
	}
	if r.predictor != 1 && r.predictor != 2 {
		return eris.Errorf("unsupported predictor %d", r.predictor)
	}
	if len(r.offsets) == 0 || len(r.counts) != len(r.offsets) {
		return eris.New("missing strip/tile layout")
	}
	if r.tiled {
		if r.tileWidth <= 0 || r.tileLength <= 0 {
			return eris.New("missing tile dimensions")
		}
	} else if r.rowsPerBlk <= 0 {
		r.rowsPerBlk = r.Height
	}

	if len(pixelScale) < 2 || len(tiepoint) < 6 {
		return eris.New("missing georeferencing (ModelPixelScale + ModelTiepoint required)")
	}
	r.scaleX = pixelScale[0]
	r.scaleY = math.Abs(pixelScale[1])
	// Tiepoint maps raster (i,j) to model (x,y); normalize to the top-left
	// corner of pixel (0,0).
	r.originX = tiepoint[3] - tiepoint[0]*r.scaleX
	r.originY = tiepoint[4] + tiepoint[1]*r.scaleY

	return nil
}

// ifdField is one parsed IFD entry.
type ifdField struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
	order binary.ByteOrder
}

var typeSizes = map[uint16]int{
	1: 1, // BYTE
	2: 1, // ASCII
	3: 2, // SHORT
	4: 4, // LONG
	11: 4, // FLOAT
	12: 8, // DOUBLE
	16: 8, // LONG8 (BigTIFF, not produced here but harmless to size)
}

func (r *Raster) readIFD(offset int64) ([]ifdField, error) {
	var cntBuf [2]byte
	if _, err := r.f.ReadAt(cntBuf[:], offset); err != nil {
		return nil, eris.Wrap(err, "read IFD count")
	}
	n := int(r.byteOrder.Uint16(cntBuf[:]))

	entries := make([]byte, n*12)
	if _, err := r.f.ReadAt(entries, offset+2); err != nil {
		return nil, eris.Wrap(err, "read IFD entries")
	}

	fields := make([]ifdField, 0, n)
	for i := 0; i < n; i++ {
		e := entries[i*12 : i*12+12]
		fld := ifdField{
			tag:   r.byteOrder.Uint16(e[0:2]),
			typ:   r.byteOrder.Uint16(e[2:4]),
			count: r.byteOrder.Uint32(e[4:8]),
			order: r.byteOrder,
		}

		size, ok := typeSizes[fld.typ]
		if !ok {
			continue // unknown field type, skip
		}
		total := size * int(fld.count)
		if total <= 4 {
			fld.data = append([]byte(nil), e[8:8+max(total, 0)]...)
		} else {
			valOffset := int64(r.byteOrder.Uint32(e[8:12]))
			fld.data = make([]byte, total)
			if _, err := r.f.ReadAt(fld.data, valOffset); err != nil {
				return nil, eris.Wrapf(err, "read value for tag %d", fld.tag)
			}
		}
		fields = append(fields, fld)
	}
	return fields, nil
}

// firstInt returns the first integer value of a SHORT/LONG field.
func (f ifdField) firstInt() uint64 {
	vals := f.ints()
	if len(vals) == 0 {
		return 0
	}
	return vals[0]
}

func (f ifdField) ints() []uint64 {
	size := typeSizes[f.typ]
	out := make([]uint64, 0, f.count)
	for i := 0; i+size <= len(f.data) && i < int(f.count)*size; i += size {
		switch f.typ {
		case 1:
			out = append(out, uint64(f.data[i]))
		case 3:
			out = append(out, uint64(f.order.Uint16(f.data[i:i+2])))
		case 4:
			out = append(out, uint64(f.order.Uint32(f.data[i:i+4])))
		case 16:
			out = append(out, f.order.Uint64(f.data[i:i+8]))
		}
	}
	return out
}

func (f ifdField) doubles() []float64 {
	if f.typ != 12 {
		return nil
	}
	out := make([]float64, 0, f.count)
	for i := 0; i+8 <= len(f.data); i += 8 {
		out = append(out, math.Float64frombits(f.order.Uint64(f.data[i:i+8])))
	}
	return out
}

func (f ifdField) ascii() string { return string(f.data) }

// PixelCenter returns the geographic coordinates of the center of pixel
// (col, row).
func (r *Raster) PixelCenter(col, row int) (x, y float64) {
	x = r.originX + (float64(col)+0.5)*r.scaleX
	y = r.originY - (float64(row)+0.5)*r.scaleY
	return x, y
}

// GeoToPixel converts geographic coordinates to fractional pixel indices.
func (r *Raster) GeoToPixel(x, y float64) (col, row float64) {
	col = (x - r.originX) / r.scaleX
	row = (r.originY - y) / r.scaleY
	return col, row
}

// Bounds returns the geographic extent of the raster.
func (r *Raster) Bounds() (minX, minY, maxX, maxY float64) {
	return r.originX,
		r.originY - float64(r.Height)*r.scaleY,
		r.originX + float64(r.Width)*r.scaleX,
		r.originY
}

// Sample reads the pixel at (col, row). Nodata pixels come back as NaN.
// Out-of-range indices are an error.
func (r *Raster) Sample(col, row int) (float64, error) {
	if col < 0 || col >= r.Width || row < 0 || row >= r.Height {
		return 0, eris.Errorf("raster: pixel (%d,%d) out of range", col, row)
	}

	var blkIdx, blkW, px, py int
	if r.tiled {
		tilesAcross := (r.Width + r.tileWidth - 1) / r.tileWidth
		tx, ty := col/r.tileWidth, row/r.tileLength
		blkIdx = ty*tilesAcross + tx
		blkW = r.tileWidth
		px, py = col%r.tileWidth, row%r.tileLength
	} else {
		blkIdx = row / r.rowsPerBlk
		blkW = r.Width
		px, py = col, row%r.rowsPerBlk
	}

	blk, err := r.block(blkIdx)
	if err != nil {
		return 0, err
	}
	i := py*blkW + px
	if i >= len(blk) {
		return math.NaN(), nil // short final strip padding
	}
	v := blk[i]
	if r.NoData != nil && v == *r.NoData {
		return math.NaN(), nil
	}
	return v, nil
}

// block returns the decoded samples of strip/tile blkIdx, consulting the
// small decode cache first.
func (r *Raster) block(blkIdx int) ([]float64, error) {
	if blk := r.cache.get(blkIdx); blk != nil {
		return blk, nil
	}
	if blkIdx < 0 || blkIdx >= len(r.offsets) {
		return nil, eris.Errorf("raster: block %d out of range", blkIdx)
	}

	raw := make([]byte, r.counts[blkIdx])
	if _, err := r.f.ReadAt(raw, int64(r.offsets[blkIdx])); err != nil {
		return nil, eris.Wrapf(err, "raster: read block %d", blkIdx)
	}

	if r.compression == compressionDeflate || r.compression == compressionOldDeflate {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, eris.Wrapf(err, "raster: open deflate block %d", blkIdx)
		}
		raw, err = io.ReadAll(zr)
		_ = zr.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "raster: inflate block %d", blkIdx)
		}
	}

	blkW := r.Width
	if r.tiled {
		blkW = r.tileWidth
	}

	if r.predictor == 2 {
		undoHorizontalPredictor(raw, blkW, r.bitsPerSample/8, r.byteOrder)
	}

	blk, err := r.decodeSamples(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: decode block %d", blkIdx)
	}
	r.cache.put(blkIdx, blk)
	return blk, nil
}

func (r *Raster) decodeSamples(raw []byte) ([]float64, error) {
	size := r.bitsPerSample / 8
	n := len(raw) / size
	out := make([]float64, n)

	for i := 0; i < n; i++ {
		b := raw[i*size : (i+1)*size]
		switch {
		case r.sampleFormat == formatFloat && size == 4:
			out[i] = float64(math.Float32frombits(r.byteOrder.Uint32(b)))
		case r.sampleFormat == formatFloat && size == 8:
			out[i] = math.Float64frombits(r.byteOrder.Uint64(b))
		case r.sampleFormat == formatInt && size == 1:
			out[i] = float64(int8(b[0]))
		case r.sampleFormat == formatInt && size == 2:
			out[i] = float64(int16(r.byteOrder.Uint16(b)))
		case r.sampleFormat == formatInt && size == 4:
			out[i] = float64(int32(r.byteOrder.Uint32(b)))
		case r.sampleFormat == formatUint && size == 1:
			out[i] = float64(b[0])
		case r.sampleFormat == formatUint && size == 2:
			out[i] = float64(r.byteOrder.Uint16(b))
		case r.sampleFormat == formatUint && size == 4:
			out[i] = float64(r.byteOrder.Uint32(b))
		default:
			return nil, eris.Errorf("unsupported sample format %d at %d bits", r.sampleFormat, r.bitsPerSample)
		}
	}
	return out, nil
}

// undoHorizontalPredictor reverses TIFF predictor 2 (horizontal
// differencing) in place, row by row.
func undoHorizontalPredictor(raw []byte, width, sampleSize int, order binary.ByteOrder) {
	rowBytes := width * sampleSize
	for rowStart := 0; rowStart+rowBytes <= len(raw); rowStart += rowBytes {
		row := raw[rowStart : rowStart+rowBytes]
		switch sampleSize {
		case 1:
			for i := 1; i < len(row); i++ {
				row[i] += row[i-1]
			}
		case 2:
			for i := 1; i < width; i++ {
				prev := order.Uint16(row[(i-1)*2:])
				cur := order.Uint16(row[i*2:])
				order.PutUint16(row[i*2:], cur+prev)
			}
		case 4:
			for i := 1; i < width; i++ {
				prev := order.Uint32(row[(i-1)*4:])
				cur := order.Uint32(row[i*4:])
				order.PutUint32(row[i*4:], cur+prev)
			}
		}
	}
}

// blockCache is a tiny LRU over decoded strips/tiles. Hex cells sharing a
// strip are processed near each other, so a handful of entries is enough.
type blockCache struct {
	keys []int
	vals map[int][]float64
}

const blockCacheSize = 8

func (c *blockCache) get(key int) []float64 {
	return c.vals[key]
}

func (c *blockCache) put(key int, blk []float64) {
	if c.vals == nil {
		c.vals = make(map[int][]float64, blockCacheSize)
	}
	if len(c.keys) >= blockCacheSize {
		oldest := c.keys[0]
		c.keys = c.keys[1:]
		delete(c.vals, oldest)
	}
	c.keys = append(c.keys, key)
	c.vals[key] = blk
}
