package raster

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testGT = GeoTransform{OriginX: 500000, OriginY: 4100000, PixelWidth: 30, PixelHeight: 30}

func TestNew_FillsNaN(t *testing.T) {
	r, err := New(3, 2, "EPSG:32633", testGT, Red, NIR)
	require.NoError(t, err)
	assert.Equal(t, 6, r.Len())
	for _, plane := range r.Data {
		for _, v := range plane {
			assert.True(t, math.IsNaN(v))
		}
	}
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(0, 2, "", testGT, Red)
	assert.Error(t, err)

	_, err = New(2, 2, "", GeoTransform{PixelWidth: 0, PixelHeight: 30}, Red)
	assert.Error(t, err)

	_, err = New(2, 2, "", testGT, Red, Red)
	assert.ErrorContains(t, err, "duplicate band")

	_, err = New(3037000500, 3037000500, "", testGT, Red)
	assert.ErrorContains(t, err, "exceeds")
}

func TestPixelCenterAndBounds(t *testing.T) {
	r, err := New(4, 4, "EPSG:32633", testGT, Red)
	require.NoError(t, err)

	x, y := r.PixelCenter(0, 0)
	assert.InDelta(t, 500015, x, 1e-9)
	assert.InDelta(t, 4099985, y, 1e-9)

	x, y = r.PixelCenter(3, 1)
	assert.InDelta(t, 500105, x, 1e-9)
	assert.InDelta(t, 4099955, y, 1e-9)

	b := r.Bounds()
	assert.InDelta(t, 500000, b.Min(0), 1e-9)
	assert.InDelta(t, 4099880, b.Min(1), 1e-9)
	assert.InDelta(t, 500120, b.Max(0), 1e-9)
	assert.InDelta(t, 4100000, b.Max(1), 1e-9)
}

func TestWithBand_AppendsAndReplaces(t *testing.T) {
	r, err := New(2, 1, "", testGT, Red)
	require.NoError(t, err)

	out, err := r.WithBand(NDVI, []float64{0.1, 0.2})
	require.NoError(t, err)
	assert.Equal(t, []string{Red, NDVI}, out.Bands)
	assert.Equal(t, []string{Red}, r.Bands, "source raster is unchanged")

	again, err := out.WithBand(NDVI, []float64{0.3, 0.4})
	require.NoError(t, err)
	assert.Equal(t, []string{Red, NDVI}, again.Bands)
	p, err := again.Band(NDVI)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3, 0.4}, p)

	_, err = r.WithBand(NDVI, []float64{1})
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	r, err := New(1, 1, "", testGT, Red, NIR, Blue)
	require.NoError(t, err)

	s, err := r.Select(Blue, Red)
	require.NoError(t, err)
	assert.Equal(t, []string{Blue, Red}, s.Bands)

	_, err = r.Select(SWIR1)
	assert.ErrorContains(t, err, "SWIR1")
}

func TestCheckGrid(t *testing.T) {
	a, _ := New(2, 2, "EPSG:4326", testGT, Red)
	b, _ := New(2, 2, "EPSG:4326", testGT, NIR)
	c, _ := New(3, 2, "EPSG:4326", testGT, NIR)

	assert.NoError(t, a.CheckGrid(b))
	assert.Error(t, a.CheckGrid(c))
}

func TestTiles_CoverGridExactlyOnce(t *testing.T) {
	tiles := Tiles(10, 7, 4)
	require.Len(t, tiles, 6)

	hits := make([]int, 70)
	for _, tl := range tiles {
		for y := tl.Y0; y < tl.Y1; y++ {
			for x := tl.X0; x < tl.X1; x++ {
				hits[y*10+x]++
			}
		}
	}
	for i, h := range hits {
		assert.Equal(t, 1, h, "pixel %d", i)
	}
	assert.Equal(t, Tile{X0: 8, Y0: 4, X1: 10, Y1: 7}, tiles[5])
}

func TestForEachTile_VisitsAll(t *testing.T) {
	var pixels atomic.Int64
	err := ForEachTile(context.Background(), 50, 30, TileOptions{Size: 8, Workers: 3}, func(_ context.Context, slot int, tl Tile) error {
		assert.GreaterOrEqual(t, slot, 0)
		assert.Less(t, slot, 3)
		pixels.Add(int64(tl.Pixels()))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), pixels.Load())
}

func TestForEachTile_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := ForEachTile(context.Background(), 20, 20, TileOptions{Size: 5, Workers: 2}, func(_ context.Context, _ int, tl Tile) error {
		if tl.X0 == 5 && tl.Y0 == 5 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestCodec_RoundTripPreservesNaN(t *testing.T) {
	r, err := New(2, 2, "EPSG:32633", testGT, Red, NDVI)
	require.NoError(t, err)
	copy(r.Data[0], []float64{0.1, 0.2, 0.3, 0.4})
	copy(r.Data[1], []float64{math.NaN(), -0.5, 1, 0})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, r))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.True(t, r.SameGrid(got))
	assert.Equal(t, r.Bands, got.Bands)
	assert.Equal(t, r.Data[0], got.Data[0])
	assert.True(t, math.IsNaN(got.Data[1][0]))
	assert.Equal(t, r.Data[1][1:], got.Data[1][1:])
}

func TestDecode_BadMagic(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("GTIFF...")))
	assert.ErrorContains(t, err, "bad magic")
}

func encodedHeader(t *testing.T, header string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(magic[:])
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(header))))
	buf.WriteString(header)
	return buf.Bytes()
}

func TestDecode_RejectsOversizedHeader(t *testing.T) {
	const gt = `"transform":{"origin_x":0,"origin_y":0,"pixel_width":30,"pixel_height":30}`
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"overflowing grid", `{"width":3037000500,"height":3037000500,"bands":["RED"],` + gt + `}`, "exceeds"},
		{"too many bands", `{"width":16384,"height":16384,"bands":["A","B"],` + gt + `}`, "exceeds"},
		{"negative width", `{"width":-4,"height":2,"bands":["RED"],` + gt + `}`, "invalid dimensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(encodedHeader(t, tt.header)))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestDecode_TruncatedPlane(t *testing.T) {
	data := encodedHeader(t, `{"width":2,"height":2,"bands":["RED"],"transform":{"pixel_width":30,"pixel_height":30}}`)
	data = append(data, make([]byte, 8)...)
	_, err := Decode(bytes.NewReader(data))
	assert.ErrorContains(t, err, `read band "RED"`)
}

func TestRequireValid(t *testing.T) {
	r, _ := New(2, 1, "", testGT, Slope)
	err := RequireValid(r, Slope, "trend")
	var mv *MissingValueError
	require.ErrorAs(t, err, &mv)
	assert.Equal(t, Slope, mv.Band)
	assert.Equal(t, "trend", mv.Stage)

	r.Data[0][1] = 0.2
	assert.NoError(t, RequireValid(r, Slope, "trend"))
}
