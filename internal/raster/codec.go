package raster

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"

	"github.com/rotisserie/eris"
)

// magic identifies the self-describing raster container written by Encode.
var magic = [4]byte{'L', 'C', 'R', '1'}

const (
	// maxHeaderBytes bounds the JSON header read by Decode.
	maxHeaderBytes = 1 << 20
	// maxDecodeValues bounds width*height*bands accepted by Decode.
	maxDecodeValues = 1 << 28
)

// Encode writes r as a 4-byte magic, a uint32 little-endian header length, a
// JSON header of the raster metadata, and then each band plane as
// little-endian IEEE-754 float64 values. NaN round-trips bit-exactly.
func Encode(w io.Writer, r *Raster) error {
	if len(r.Data) != len(r.Bands) {
		return eris.Errorf("raster: encode: %d planes for %d bands", len(r.Data), len(r.Bands))
	}
	header, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "raster: encode header")
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return eris.Wrap(err, "raster: write magic")
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(header))); err != nil {
		return eris.Wrap(err, "raster: write header length")
	}
	if _, err := bw.Write(header); err != nil {
		return eris.Wrap(err, "raster: write header")
	}

	var buf [8]byte
	for i, plane := range r.Data {
		if len(plane) != r.Len() {
			return eris.Errorf("raster: encode: band %q has %d values, grid has %d", r.Bands[i], len(plane), r.Len())
		}
		for _, v := range plane {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			if _, err := bw.Write(buf[:]); err != nil {
				return eris.Wrapf(err, "raster: write band %q", r.Bands[i])
			}
		}
	}
	return eris.Wrap(bw.Flush(), "raster: flush")
}

// Decode reads a raster written by Encode.
func Decode(rd io.Reader) (*Raster, error) {
	br := bufio.NewReader(rd)

	var m [4]byte
	if _, err := io.ReadFull(br, m[:]); err != nil {
		return nil, eris.Wrap(err, "raster: read magic")
	}
	if m != magic {
		return nil, eris.Errorf("raster: bad magic %q", m[:])
	}

	var n uint32
	if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
		return nil, eris.Wrap(err, "raster: read header length")
	}
	if n > maxHeaderBytes {
		return nil, eris.Errorf("raster: header length %d exceeds limit", n)
	}
	header := make([]byte, n)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, eris.Wrap(err, "raster: read header")
	}

	var meta Raster
	if err := json.Unmarshal(header, &meta); err != nil {
		return nil, eris.Wrap(err, "raster: decode header")
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return nil, eris.Errorf("raster: decode: invalid dimensions %dx%d", meta.Width, meta.Height)
	}
	if planes := max(len(meta.Bands), 1); meta.Width > maxDecodeValues/meta.Height/planes {
		return nil, eris.Errorf("raster: decode: %dx%d grid with %d bands exceeds %d values",
			meta.Width, meta.Height, len(meta.Bands), maxDecodeValues)
	}
	r, err := New(meta.Width, meta.Height, meta.CRS, meta.Transform, meta.Bands...)
	if err != nil {
		return nil, eris.Wrap(err, "raster: decode")
	}

	var buf [8]byte
	for i, plane := range r.Data {
		for j := range plane {
			if _, err := io.ReadFull(br, buf[:]); err != nil {
				return nil, eris.Wrapf(err, "raster: read band %q", r.Bands[i])
			}
			plane[j] = math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))
		}
	}
	return r, nil
}
