package forest

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover-cli/internal/metrics"
	"github.com/sells-group/landcover-cli/internal/raster"
)

// Predict classifies every pixel of r into a single-band CLASS raster on the
// same grid. r must carry the forest's bands; pixels missing any of them are
// left NaN.
func Predict(ctx context.Context, f *Forest, r *raster.Raster, opts raster.TileOptions) (*raster.Raster, error) {
	planes := make([][]float64, len(f.Bands))
	for i, b := range f.Bands {
		p, err := r.Band(b)
		if err != nil {
			return nil, eris.Wrap(err, "forest: predict")
		}
		planes[i] = p
	}

	out := r.EmptyLike(raster.Class)
	classes := out.Data[0]

	workers := opts.WorkerCount()
	values := make([][]float64, workers)
	votes := make([][]int, workers)
	for i := range workers {
		values[i] = make([]float64, len(planes))
		votes[i] = make([]int, len(f.Classes))
	}

	err := raster.ForEachTile(ctx, r.Width, r.Height, opts, func(_ context.Context, slot int, t raster.Tile) error {
		vals, counts := values[slot], votes[slot]
		for y := t.Y0; y < t.Y1; y++ {
			for x := t.X0; x < t.X1; x++ {
				idx := y*r.Width + x
				missing := false
				for b, p := range planes {
					v := p[idx]
					if math.IsNaN(v) {
						missing = true
						break
					}
					vals[b] = v
				}
				if missing {
					continue
				}
				classes[idx] = float64(f.vote(vals, counts))
			}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "forest: predict")
	}
	metrics.PixelsClassified.Add(float64(r.Len()))
	return out, nil
}

// WriteJSON encodes f.
func WriteJSON(w io.Writer, f *Forest) error {
	return eris.Wrap(json.NewEncoder(w).Encode(f), "forest: encode model")
}

// ReadJSON decodes a model written by WriteJSON and checks its structure.
func ReadJSON(r io.Reader) (*Forest, error) {
	var f Forest
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, eris.Wrap(err, "forest: decode model")
	}
	if len(f.Classes) == 0 || len(f.Trees) == 0 || len(f.Bands) == 0 {
		return nil, eris.New("forest: model is incomplete")
	}
	for i := 1; i < len(f.Classes); i++ {
		if f.Classes[i] <= f.Classes[i-1] {
			return nil, eris.Errorf("forest: classes %v must be strictly ascending", f.Classes)
		}
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return nil, eris.Errorf("forest: tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.IsLeaf() {
				if _, ok := slices.BinarySearch(f.Classes, n.Class); !ok {
					return nil, eris.Errorf("forest: tree %d node %d predicts unknown class %d", ti, ni, n.Class)
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= len(f.Bands) ||
				n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return nil, eris.Errorf("forest: tree %d node %d is malformed", ti, ni)
			}
		}
	}
	return &f, nil
}
