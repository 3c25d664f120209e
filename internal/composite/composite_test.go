package composite

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/raster"
)

const sensor = "LANDSAT_8_SR"

var testGrid = raster.GeoTransform{OriginX: 0, OriginY: 30, PixelWidth: 10, PixelHeight: 10}

// scene builds a 3x3 scene with every reflectance band set to v.
func scene(t *testing.T, id string, acquired time.Time, cloud, v float64) imagery.Scene {
	t.Helper()
	r, err := raster.New(3, 3, "EPSG:32633", testGrid, raster.Blue, raster.Green, raster.Red, raster.NIR, raster.SWIR1)
	require.NoError(t, err)
	for _, p := range r.Data {
		for i := range p {
			p[i] = v
		}
	}
	return imagery.Scene{ID: id, Sensor: sensor, Acquired: acquired, CloudyPixelPercentage: cloud, Raster: r}
}

func day(y int, m time.Month) time.Time { return time.Date(y, m, 15, 0, 0, 0, 0, time.UTC) }

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"odd", []float64{0.9, 0.1, 0.2}, 0.2},
		{"even", []float64{0.4, 0.1, 0.3, 0.2}, 0.25},
		{"single", []float64{0.7}, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, median(tt.in), 1e-12)
		})
	}
	assert.True(t, math.IsNaN(median(nil)))
}

func TestBuildAnnualComposite_MedianPerPixel(t *testing.T) {
	coll := imagery.NewCollection(sensor, []imagery.Scene{
		scene(t, "a", day(2020, time.March), 1, 0.1),
		scene(t, "b", day(2020, time.June), 2, 0.2),
		scene(t, "c", day(2020, time.September), 3, 0.9),
	})

	c, err := BuildAnnualComposite(context.Background(), coll, 2020, nil, DefaultCloudThreshold, raster.TileOptions{Size: 2, Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, 2020, c.Year)
	assert.Equal(t, time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC), c.Timestamp)
	assert.Equal(t, 3, c.Scenes)
	assert.True(t, c.Raster.HasBands(raster.NDVI, raster.NDMI, raster.EVI))

	red, err := c.Raster.Band(raster.Red)
	require.NoError(t, err)
	for _, v := range red {
		assert.InDelta(t, 0.2, v, 1e-12)
	}
}

func TestBuildAnnualComposite_SkipsMissing(t *testing.T) {
	a := scene(t, "a", day(2020, time.March), 1, 0.1)
	b := scene(t, "b", day(2020, time.June), 1, 0.3)
	nan := math.NaN()
	for _, p := range a.Raster.Data {
		p[0] = nan
		p[4] = nan
	}
	for _, p := range b.Raster.Data {
		p[0] = nan
	}

	c, err := BuildAnnualComposite(context.Background(), imagery.NewCollection(sensor, []imagery.Scene{a, b}), 2020, nil, 10, raster.TileOptions{})
	require.NoError(t, err)

	nir, err := c.Raster.Band(raster.NIR)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(nir[0]), "all-missing pixel stays missing")
	assert.InDelta(t, 0.3, nir[4], 1e-12, "missing values are skipped")
	assert.InDelta(t, 0.2, nir[8], 1e-12)
}

func TestBuildAnnualComposite_Filters(t *testing.T) {
	far, err := geometry.BoxRegion("far", 1000, 1000, 1100, 1100)
	require.NoError(t, err)
	near, err := geometry.BoxRegion("near", 0, 0, 30, 30)
	require.NoError(t, err)

	coll := imagery.NewCollection(sensor, []imagery.Scene{
		scene(t, "cloudy", day(2020, time.March), 10, 0.9),
		scene(t, "clear", day(2020, time.April), 9.99, 0.4),
		scene(t, "next-year", day(2021, time.April), 0, 0.9),
		scene(t, "new-years-day", time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC), 0, 0.9),
	})

	c, err := BuildAnnualComposite(context.Background(), coll, 2020, near, 10, raster.TileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Scenes)

	_, err = BuildAnnualComposite(context.Background(), coll, 2020, far, 10, raster.TileOptions{})
	var empty *EmptyCollectionError
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, 2020, empty.Year)
	assert.Equal(t, "far", empty.Region)
	assert.Equal(t, sensor, empty.Sensor)

	_, err = BuildAnnualComposite(context.Background(), coll, 2019, nil, 10, raster.TileOptions{})
	assert.True(t, IsEmptyCollection(err))
}

func TestBuildAnnualComposite_GridMismatch(t *testing.T) {
	a := scene(t, "a", day(2020, time.March), 1, 0.1)
	b := scene(t, "b", day(2020, time.June), 1, 0.3)
	shifted, err := raster.New(3, 3, "EPSG:32633", raster.GeoTransform{OriginX: 5, OriginY: 30, PixelWidth: 10, PixelHeight: 10},
		b.Raster.Bands...)
	require.NoError(t, err)
	b.Raster = shifted

	_, err = BuildAnnualComposite(context.Background(), imagery.NewCollection(sensor, []imagery.Scene{a, b}), 2020, nil, 10, raster.TileOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid mismatch")
}

func TestBuildSeries(t *testing.T) {
	src := imagery.NewMemorySource(
		scene(t, "2018", day(2018, time.May), 1, 0.1),
		scene(t, "2020", day(2020, time.May), 1, 0.3),
		scene(t, "2021-cloudy", day(2021, time.May), 80, 0.3),
		scene(t, "2019", day(2019, time.May), 1, 0.2),
	)

	s, err := BuildSeries(context.Background(), src, SeriesRequest{
		Sensor:         sensor,
		StartYear:      2018,
		EndYear:        2021,
		CloudThreshold: 10,
		Concurrency:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2018, 2019, 2020}, s.Years())
	require.Len(t, s.Skipped, 1)
	assert.Equal(t, 2021, s.Skipped[0].Year)
	assert.True(t, IsEmptyCollection(s.Skipped[0].Err))
	assert.Equal(t, 2020, s.Last().Year)
}

func TestBuildSeries_FailFast(t *testing.T) {
	src := imagery.NewMemorySource(scene(t, "2018", day(2018, time.May), 1, 0.1))

	_, err := BuildSeries(context.Background(), src, SeriesRequest{
		Sensor:         sensor,
		StartYear:      2018,
		EndYear:        2019,
		CloudThreshold: 10,
		FailFast:       true,
	})
	require.Error(t, err)
	assert.True(t, IsEmptyCollection(err))
}

func TestBuildSeries_InvalidRange(t *testing.T) {
	_, err := BuildSeries(context.Background(), imagery.NewMemorySource(), SeriesRequest{StartYear: 2022, EndYear: 2020})
	require.Error(t, err)
	assert.Nil(t, (&Series{}).Last())
}
