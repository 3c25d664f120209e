package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/landcover-cli/internal/composite"
	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/metrics"
	"github.com/sells-group/landcover-cli/internal/sink"
)

type compositeSummary struct {
	Year   int      `yaml:"year"`
	Scenes int      `yaml:"scenes"`
	Bands  []string `yaml:"bands"`
}

// CompositeResult is the output of a single-year composite run.
type CompositeResult struct {
	RunID     string
	Composite *composite.AnnualComposite
}

// Composite builds the annual composite of year over region and persists it
// as a run of its own.
func (p *Pipeline) Composite(ctx context.Context, year int, region *geometry.Region) (*CompositeResult, error) {
	cfg := p.cfg
	cfg.StartYear, cfg.EndYear = year, year
	cfgYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: encode config")
	}
	run, err := p.store.CreateRun(ctx, string(cfgYAML))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", run.ID), zap.Int("year", year))

	c, err := p.buildComposite(ctx, run.ID, year, region)
	if err != nil {
		metrics.Runs.WithLabelValues(string(sink.RunStatusFailed)).Inc()
		if finErr := p.store.FinishRun(context.WithoutCancel(ctx), run.ID, sink.RunStatusFailed, "", err.Error()); finErr != nil {
			log.Warn("pipeline: failed to record run failure", zap.Error(finErr))
		}
		return nil, err
	}

	summary, err := yaml.Marshal(compositeSummary{Year: c.Year, Scenes: c.Scenes, Bands: c.Raster.Bands})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: encode summary")
	}
	if err := p.store.FinishRun(ctx, run.ID, sink.RunStatusSucceeded, string(summary), ""); err != nil {
		return nil, eris.Wrap(err, "pipeline: finish run")
	}
	metrics.Runs.WithLabelValues(string(sink.RunStatusSucceeded)).Inc()
	log.Info("pipeline: composite complete", zap.Int("scenes", c.Scenes))
	return &CompositeResult{RunID: run.ID, Composite: c}, nil
}

func (p *Pipeline) buildComposite(ctx context.Context, runID string, year int, region *geometry.Region) (*composite.AnnualComposite, error) {
	coll, err := p.source.Fetch(ctx, p.cfg.Sensor, imagery.Year(year), region, SourceBands(p.cfg.Bands))
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: fetch year %d", year)
	}
	c, err := composite.BuildAnnualComposite(ctx, coll, year, region, p.cfg.CloudThreshold, p.tiles())
	if err != nil {
		return nil, err
	}
	dest := sink.Destination{RunID: runID, Kind: sink.KindComposite, Year: year, Region: region}
	if err := p.store.Persist(ctx, c.Raster, dest); err != nil {
		return nil, eris.Wrapf(err, "pipeline: persist composite %d", year)
	}
	return c, nil
}
