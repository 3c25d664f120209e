// Package pipeline runs the land-cover change analysis end to end: annual
// composites, training samples, Random Forest classification, accuracy,
// forest loss, trend and area, persisting each product through a sink.
package pipeline

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/landcover-cli/internal/accuracy"
	"github.com/sells-group/landcover-cli/internal/area"
	"github.com/sells-group/landcover-cli/internal/change"
	"github.com/sells-group/landcover-cli/internal/composite"
	"github.com/sells-group/landcover-cli/internal/config"
	"github.com/sells-group/landcover-cli/internal/forest"
	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/metrics"
	"github.com/sells-group/landcover-cli/internal/raster"
	"github.com/sells-group/landcover-cli/internal/sample"
	"github.com/sells-group/landcover-cli/internal/sink"
	"github.com/sells-group/landcover-cli/internal/spectral"
	"github.com/sells-group/landcover-cli/internal/trend"
)

// Pipeline orchestrates one analysis over an imagery source.
type Pipeline struct {
	cfg    config.AnalysisConfig
	source imagery.Source
	store  sink.Store
}

// New creates a Pipeline. cfg is copied and not modified afterwards.
func New(cfg config.AnalysisConfig, src imagery.Source, st sink.Store) *Pipeline {
	cfg.Bands = slices.Clone(cfg.Bands)
	return &Pipeline{cfg: cfg, source: src, store: st}
}

// Input is the study area and ground truth of a run.
type Input struct {
	Region   *geometry.Region // nil is unbounded
	Polygons []geometry.LabeledPolygon
}

// Result holds the products of a successful run.
type Result struct {
	RunID      string
	Series     *composite.Series
	Forest     *forest.Forest
	Matrix     *accuracy.ConfusionMatrix
	Classified []change.Classified
	Loss       *raster.Raster // nil with fewer than two classified years
	Trend      *raster.Raster // nil when no pixel has two observations
	Report     *Report
}

func (p *Pipeline) tiles() raster.TileOptions {
	return raster.TileOptions{Size: p.cfg.TileSize, Workers: p.cfg.Workers}
}

// SourceBands returns the bands to fetch so that bands can be composited:
// every requested reflectance band plus the reflectance inputs of the
// spectral indices. Index bands are computed, never fetched.
func SourceBands(bands []string) []string {
	var out []string
	for _, b := range bands {
		if !slices.Contains(spectral.IndexBands, b) && !slices.Contains(out, b) {
			out = append(out, b)
		}
	}
	for _, b := range spectral.RequiredBands {
		if !slices.Contains(out, b) {
			out = append(out, b)
		}
	}
	return out
}

// ClassIDs returns the distinct class ids of polygons, ascending.
func ClassIDs(polygons []geometry.LabeledPolygon) []int {
	var ids []int
	for _, p := range polygons {
		if !slices.Contains(ids, p.ClassID) {
			ids = append(ids, p.ClassID)
		}
	}
	slices.Sort(ids)
	return ids
}

// Run executes the analysis and records it in the run registry. A failed run
// is recorded with its error before the error is returned.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	if len(in.Polygons) == 0 {
		return nil, eris.New("pipeline: no training polygons")
	}

	cfgYAML, err := yaml.Marshal(p.cfg)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: encode config")
	}
	run, err := p.store.CreateRun(ctx, string(cfgYAML))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", run.ID))
	log.Info("pipeline: starting analysis",
		zap.Int("start_year", p.cfg.StartYear),
		zap.Int("end_year", p.cfg.EndYear),
		zap.String("region", in.Region.String()),
		zap.Int("polygons", len(in.Polygons)))

	res, err := p.run(ctx, run.ID, in, log)
	if err != nil {
		metrics.Runs.WithLabelValues(string(sink.RunStatusFailed)).Inc()
		if finErr := p.store.FinishRun(context.WithoutCancel(ctx), run.ID, sink.RunStatusFailed, "", err.Error()); finErr != nil {
			log.Warn("pipeline: failed to record run failure", zap.Error(finErr))
		}
		log.Error("pipeline: analysis failed", zap.Error(err))
		return nil, err
	}

	summary, err := res.Report.YAML()
	if err != nil {
		return nil, err
	}
	if err := p.store.FinishRun(ctx, run.ID, sink.RunStatusSucceeded, string(summary), ""); err != nil {
		return nil, eris.Wrap(err, "pipeline: finish run")
	}
	metrics.Runs.WithLabelValues(string(sink.RunStatusSucceeded)).Inc()
	log.Info("pipeline: analysis complete",
		zap.Ints("years", res.Report.Years),
		zap.Float64("overall_accuracy", res.Report.Accuracy.OverallAccuracy))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, runID string, in Input, log *zap.Logger) (*Result, error) {
	res := &Result{RunID: runID}
	rep := &Report{
		RunID:  runID,
		Sensor: p.cfg.Sensor,
		Region: in.Region.String(),
	}
	res.Report = rep
	tiles := p.tiles()

	stage := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		metrics.ObserveStage(name, start)
		rep.Stages = append(rep.Stages, StageTiming{Stage: name, Seconds: time.Since(start).Seconds()})
		if err != nil {
			log.Error("pipeline: stage failed", zap.String("stage", name), zap.Error(err))
			return err
		}
		log.Debug("pipeline: stage complete", zap.String("stage", name), zap.Duration("duration", time.Since(start)))
		return nil
	}
	warn := func(msg string, err error) {
		log.Warn("pipeline: "+msg, zap.Error(err))
		rep.Warnings = append(rep.Warnings, msg+": "+err.Error())
	}
	persist := func(r *raster.Raster, kind sink.Kind, year int) error {
		return stage("persist", func() error {
			return p.store.Persist(ctx, r, sink.Destination{RunID: runID, Kind: kind, Year: year, Region: in.Region})
		})
	}

	// Composites
	err := stage("composite", func() error {
		s, err := composite.BuildSeries(ctx, p.source, composite.SeriesRequest{
			Sensor:         p.cfg.Sensor,
			StartYear:      p.cfg.StartYear,
			EndYear:        p.cfg.EndYear,
			Region:         in.Region,
			Bands:          SourceBands(p.cfg.Bands),
			CloudThreshold: p.cfg.CloudThreshold,
			FailFast:       p.cfg.FailFast,
			Concurrency:    p.cfg.Workers,
			Tiles:          tiles,
		})
		if err != nil {
			return err
		}
		if len(s.Composites) == 0 {
			return eris.Errorf("pipeline: no composite could be built for %d-%d", p.cfg.StartYear, p.cfg.EndYear)
		}
		res.Series = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	rep.Years = res.Series.Years()
	for _, sk := range res.Series.Skipped {
		rep.SkippedYears = append(rep.SkippedYears, SkippedYear{Year: sk.Year, Error: sk.Err.Error()})
	}

	// Samples from the latest composite
	var training, validation *sample.Set
	err = stage("sample", func() error {
		last := res.Series.Last()
		set, err := sample.Extract(last.Raster, in.Polygons, p.cfg.Bands, p.cfg.SampleScale)
		if err != nil {
			return eris.Wrapf(err, "pipeline: samples from %d", last.Year)
		}
		training, validation, err = sample.Split(set, p.cfg.SplitThreshold, p.cfg.Seed)
		if err != nil {
			return err
		}
		metrics.Samples.WithLabelValues("training").Add(float64(training.Len()))
		metrics.Samples.WithLabelValues("validation").Add(float64(validation.Len()))
		rep.Samples = SampleCounts{
			Year:       last.Year,
			Training:   training.Len(),
			Validation: validation.Len(),
			Classes:    set.ClassCounts(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Classifier
	err = stage("train", func() error {
		f, err := forest.Train(ctx, training, forest.Config{
			NumTrees:         p.cfg.Trees,
			Seed:             p.cfg.Seed,
			MaxDepth:         p.cfg.MaxDepth,
			MinLeafSize:      p.cfg.MinLeafSize,
			FeaturesPerSplit: p.cfg.FeaturesPerSplit,
			Classes:          ClassIDs(in.Polygons),
			Workers:          p.cfg.Workers,
		})
		if err != nil {
			return eris.Wrap(err, "pipeline: train")
		}
		res.Forest = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = stage("assess", func() error {
		m, err := accuracy.Assess(res.Forest, validation)
		if err != nil {
			return eris.Wrap(err, "pipeline: assess")
		}
		res.Matrix = m
		rep.Accuracy = accuracy.Summarize(m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Classified series
	for _, c := range res.Series.Composites {
		var classified *raster.Raster
		err := stage("classify", func() error {
			out, err := forest.Predict(ctx, res.Forest, c.Raster, tiles)
			if err != nil {
				return eris.Wrapf(err, "pipeline: classify %d", c.Year)
			}
			classified = out
			return nil
		})
		if err != nil {
			return nil, err
		}
		res.Classified = append(res.Classified, change.Classified{Year: c.Year, Raster: classified})
		if err := persist(classified, sink.KindClassified, c.Year); err != nil {
			return nil, err
		}
	}

	// Forest loss between the first and last classified years
	err = stage("change", func() error {
		loss, err := change.DetectLoss(res.Classified, p.cfg.ForestClassID)
		if err != nil {
			return err
		}
		transitions, err := change.Transitions(res.Classified)
		if err != nil {
			return err
		}
		res.Loss = loss
		rep.Transitions = transitions
		return nil
	})
	switch {
	case err == nil:
		if err := stage("area", func() error {
			s, err := area.Sum(res.Loss, raster.Loss, in.Region, area.ProviderFor(res.Loss.CRS, p.cfg.ReduceScale))
			if err != nil {
				return err
			}
			rep.LossArea = s
			return nil
		}); err != nil {
			return nil, err
		}
		if err := persist(res.Loss, sink.KindChange, 0); err != nil {
			return nil, err
		}
	case isRecoverable(err) && !p.cfg.FailFast:
		warn("change detection skipped", err)
	default:
		return nil, err
	}

	// Trend of the index band over every composite year
	err = stage("trend", func() error {
		tr, err := trend.Fit(ctx, res.Series.Composites, p.cfg.TrendBand, tiles)
		if err != nil {
			return err
		}
		res.Trend = tr
		return nil
	})
	switch {
	case err == nil:
		if err := persist(res.Trend, sink.KindTrend, 0); err != nil {
			return nil, err
		}
	case isRecoverable(err) && !p.cfg.FailFast:
		warn("trend skipped", err)
	default:
		return nil, err
	}

	return res, nil
}

// isRecoverable reports whether err only means there is too little history
// for a multi-year product.
func isRecoverable(err error) bool {
	var hist *change.InsufficientHistoryError
	var missing *raster.MissingValueError
	return errors.As(err, &hist) || errors.As(err, &missing)
}
