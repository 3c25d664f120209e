// Package sample extracts labeled band-value tuples from a composite and
// partitions them into training and validation sets.
package sample

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/raster"
)

// DefaultSplitThreshold sends samples whose random value is below it to
// validation and the rest to training.
const DefaultSplitThreshold = 0.3

// Sample is one labeled pixel.
type Sample struct {
	ClassID int       `json:"class_id"`
	Values  []float64 `json:"values"` // ordered as the owning Set's Bands
	X       float64   `json:"x"`      // CRS coordinate of the sample point
	Y       float64   `json:"y"`
	// Random is the uniform value in [0, 1) assigned by Split.
	Random float64 `json:"random"`
}

// Set is a collection of samples over a fixed band order.
type Set struct {
	Bands   []string `json:"bands"`
	Samples []Sample `json:"samples"`
}

// Len returns the number of samples.
func (s *Set) Len() int { return len(s.Samples) }

// ClassCounts returns the number of samples per class.
func (s *Set) ClassCounts() map[int]int {
	out := make(map[int]int)
	for _, smp := range s.Samples {
		out[smp.ClassID]++
	}
	return out
}

// Extract enumerates sample points spaced scale apart, aligned to the
// composite's origin, and emits one sample per point that falls inside a
// polygon (edges included). Each point reads the pixel that contains it.
// Points whose pixel is missing any requested band are dropped.
func Extract(composite *raster.Raster, polygons []geometry.LabeledPolygon, bands []string, scale float64) (*Set, error) {
	if scale <= 0 {
		return nil, eris.Errorf("sample: scale must be positive, got %g", scale)
	}
	if len(bands) == 0 {
		return nil, eris.New("sample: no bands requested")
	}
	planes := make([][]float64, len(bands))
	for i, b := range bands {
		p, err := composite.Band(b)
		if err != nil {
			return nil, eris.Wrap(err, "sample")
		}
		planes[i] = p
	}

	gt := composite.Transform
	set := &Set{Bands: append([]string(nil), bands...)}
	dropped := 0

	for _, poly := range polygons {
		if poly.Shape == nil {
			continue
		}
		pb := poly.Shape.Bounds()
		// Index range of sample points whose coordinate lies within the
		// polygon's bounding box.
		i0 := int(math.Ceil((pb.Min(0)-gt.OriginX)/scale - 0.5))
		i1 := int(math.Floor((pb.Max(0)-gt.OriginX)/scale - 0.5))
		j0 := int(math.Ceil((gt.OriginY-pb.Max(1))/scale - 0.5))
		j1 := int(math.Floor((gt.OriginY-pb.Min(1))/scale - 0.5))

		for j := max(j0, 0); j <= j1; j++ {
			y := gt.OriginY - (float64(j)+0.5)*scale
			row := int(math.Floor((gt.OriginY - y) / gt.PixelHeight))
			if row < 0 || row >= composite.Height {
				continue
			}
			for i := max(i0, 0); i <= i1; i++ {
				x := gt.OriginX + (float64(i)+0.5)*scale
				col := int(math.Floor((x - gt.OriginX) / gt.PixelWidth))
				if col < 0 || col >= composite.Width {
					continue
				}
				if !poly.Contains(x, y) {
					continue
				}
				idx := row*composite.Width + col
				vals := make([]float64, len(planes))
				ok := true
				for b, p := range planes {
					v := p[idx]
					if math.IsNaN(v) {
						ok = false
						break
					}
					vals[b] = v
				}
				if !ok {
					dropped++
					continue
				}
				set.Samples = append(set.Samples, Sample{ClassID: poly.ClassID, Values: vals, X: x, Y: y})
			}
		}
	}

	zap.L().Debug("extracted samples",
		zap.String("component", "sample"),
		zap.Int("polygons", len(polygons)),
		zap.Int("samples", len(set.Samples)),
		zap.Int("dropped_missing", dropped))
	return set, nil
}

// Split assigns every sample a uniform value in [0, 1) derived from seed and
// the sample's position, then partitions: value >= threshold goes to
// training, value < threshold to validation. The assignment of a sample does
// not depend on the order of the input or on the other samples.
func Split(set *Set, threshold float64, seed int64) (training, validation *Set, err error) {
	if threshold < 0 || threshold > 1 {
		return nil, nil, eris.Errorf("sample: split threshold %g outside [0, 1]", threshold)
	}
	training = &Set{Bands: set.Bands}
	validation = &Set{Bands: set.Bands}
	for _, smp := range set.Samples {
		smp.Random = uniform(seed, smp)
		if smp.Random >= threshold {
			training.Samples = append(training.Samples, smp)
		} else {
			validation.Samples = append(validation.Samples, smp)
		}
	}
	return training, validation, nil
}

func uniform(seed int64, s Sample) float64 {
	key := mix(math.Float64bits(s.X)) ^ mix(math.Float64bits(s.Y)+1) ^ mix(uint64(s.ClassID)+2) //nolint:gosec
	//nolint:gosec // reproducible split, not security
	return rand.New(rand.NewPCG(uint64(seed), key)).Float64()
}

// mix is the splitmix64 finalizer.
func mix(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
