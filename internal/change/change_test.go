package change

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landcover-cli/internal/raster"
)

func classified(t *testing.T, year int, classes ...float64) Classified {
	t.Helper()
	r, err := raster.New(len(classes), 1, "EPSG:32633", raster.GeoTransform{OriginY: 10, PixelWidth: 10, PixelHeight: 10}, raster.Class)
	require.NoError(t, err)
	copy(r.Data[0], classes)
	return Classified{Year: year, Raster: r}
}

func TestDetectLoss(t *testing.T) {
	nan := math.NaN()
	series := []Classified{
		classified(t, 2023, 3, 1, 1, 2, nan),
		classified(t, 2021, 3, 3, 2, 2, 1), // intermediate year is ignored
		classified(t, 2020, 1, 1, 2, 1, 1),
	}

	out, err := DetectLoss(series, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{raster.Loss}, out.Bands)

	loss := out.Data[0]
	assert.InDelta(t, 1, loss[0], 0, "forest to agriculture is loss")
	assert.InDelta(t, 0, loss[1], 0, "forest to forest is not loss")
	assert.InDelta(t, 0, loss[2], 0, "non-forest start is not loss")
	assert.InDelta(t, 1, loss[3], 0)
	assert.True(t, math.IsNaN(loss[4]), "unclassified endpoint is missing")
}

func TestDetectLoss_InsufficientHistory(t *testing.T) {
	for _, series := range [][]Classified{
		nil,
		{classified(t, 2020, 1)},
		{classified(t, 2020, 1), classified(t, 2020, 1)},
	} {
		_, err := DetectLoss(series, 1)
		var ih *InsufficientHistoryError
		require.True(t, errors.As(err, &ih))
		assert.Len(t, ih.Years, len(series))
	}
}

func TestDetectLoss_AllMissing(t *testing.T) {
	nan := math.NaN()
	_, err := DetectLoss([]Classified{classified(t, 2020, nan, nan), classified(t, 2021, 1, 1)}, 1)
	var mv *raster.MissingValueError
	require.True(t, errors.As(err, &mv))
	assert.Equal(t, raster.Loss, mv.Band)
}

func TestDetectLoss_GridMismatch(t *testing.T) {
	_, err := DetectLoss([]Classified{classified(t, 2020, 1, 1), classified(t, 2021, 1, 1, 1)}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid mismatch")
}

func TestTransitions(t *testing.T) {
	got, err := Transitions([]Classified{
		classified(t, 2018, 1, 1, 1, 2, math.NaN()),
		classified(t, 2023, 3, 1, 3, 2, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, []Transition{
		{From: 1, To: 1, Count: 1},
		{From: 1, To: 3, Count: 2},
		{From: 2, To: 2, Count: 1},
	}, got)
}
