package forest

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/landcover-cli/internal/metrics"
	"github.com/sells-group/landcover-cli/internal/sample"
)

// Config controls training.
type Config struct {
	NumTrees int   // default DefaultNumTrees
	Seed     int64 // seeds bootstrap and feature sampling

	// MaxDepth limits tree depth. Zero grows until leaves are pure.
	MaxDepth int
	// MinLeafSize is the minimum number of samples per leaf. Default 1.
	MinLeafSize int
	// FeaturesPerSplit is the number of bands evaluated at each split.
	// Default floor(sqrt(bands)).
	FeaturesPerSplit int
	// Classes lists class ids that must be present in the training set. A
	// listed class with fewer than 2 samples fails training even when absent.
	Classes []int
	// Workers bounds the number of trees trained at once. Default GOMAXPROCS.
	Workers int
}

func (c Config) withDefaults(nFeatures int) Config {
	if c.NumTrees <= 0 {
		c.NumTrees = DefaultNumTrees
	}
	if c.MinLeafSize <= 0 {
		c.MinLeafSize = 1
	}
	if c.FeaturesPerSplit <= 0 {
		c.FeaturesPerSplit = max(1, int(math.Sqrt(float64(nFeatures))))
	}
	c.FeaturesPerSplit = min(c.FeaturesPerSplit, nFeatures)
	return c
}

// Train fits a Random Forest to set. Each tree is grown from a bootstrap
// resample, evaluating cfg.FeaturesPerSplit random bands per split. Trees are
// trained concurrently; per-tree seeds are drawn in order from the seeded
// stream, so the result depends only on set and cfg.
func Train(ctx context.Context, set *sample.Set, cfg Config) (*Forest, error) {
	if set.Len() == 0 {
		return nil, eris.New("forest: empty training set")
	}
	nFeatures := len(set.Bands)
	if nFeatures == 0 {
		return nil, eris.New("forest: training set has no bands")
	}
	cfg = cfg.withDefaults(nFeatures)

	counts := set.ClassCounts()
	for _, c := range cfg.Classes {
		if _, ok := counts[c]; !ok {
			counts[c] = 0
		}
	}
	classes := make([]int, 0, len(counts))
	for c := range counts {
		classes = append(classes, c)
	}
	slices.Sort(classes)
	for _, c := range classes {
		if counts[c] < 2 {
			return nil, &InsufficientSamplesError{ClassID: c, Count: counts[c]}
		}
	}

	x := make([][]float64, set.Len())
	y := make([]int, set.Len())
	for i, s := range set.Samples {
		if len(s.Values) != nFeatures {
			return nil, eris.Errorf("forest: sample %d has %d values, want %d", i, len(s.Values), nFeatures)
		}
		x[i] = s.Values
		y[i], _ = slices.BinarySearch(classes, s.ClassID)
	}

	master := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x5851f42d4c957f2d)) //nolint:gosec // reproducible training
	seeds := make([]uint64, cfg.NumTrees)
	for i := range seeds {
		seeds[i] = master.Uint64()
	}

	f := &Forest{
		Bands:   slices.Clone(set.Bands),
		Classes: classes,
		Seed:    cfg.Seed,
		Trees:   make([]Tree, cfg.NumTrees),
	}

	g, gctx := errgroup.WithContext(ctx)
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)
	for t := range cfg.NumTrees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f.Trees[t] = growTree(x, y, classes, cfg, seeds[t])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "forest: train")
	}
	metrics.TreesTrained.Add(float64(cfg.NumTrees))

	zap.L().Info("trained random forest",
		zap.String("component", "forest"),
		zap.Int("trees", cfg.NumTrees),
		zap.Int("samples", set.Len()),
		zap.Ints("classes", classes),
		zap.Int64("seed", cfg.Seed))
	return f, nil
}

func growTree(x [][]float64, y []int, classes []int, cfg Config, seed uint64) Tree {
	rng := rand.New(rand.NewPCG(seed, seed>>1|1)) //nolint:gosec // reproducible training
	n := len(x)
	boot := make([]int, n)
	for i := range boot {
		boot[i] = rng.IntN(n)
	}

	b := &builder{
		x:        x,
		y:        y,
		nClasses: len(classes),
		classes:  classes,
		cfg:      cfg,
		rng:      rng,
		counts:   make([]int, len(classes)),
		left:     make([]int, len(classes)),
	}
	b.grow(boot, 0)
	return Tree{Nodes: b.nodes}
}
