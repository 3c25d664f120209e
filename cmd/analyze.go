package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sells-group/landcover-cli/internal/accuracy"
	"github.com/sells-group/landcover-cli/internal/config"
	"github.com/sells-group/landcover-cli/internal/forest"
	"github.com/sells-group/landcover-cli/internal/pipeline"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the full land-cover change analysis",
	Long:  "Composites every year in range, trains a Random Forest on the labeled polygons, classifies each year, and persists the classified series, forest-loss and trend rasters.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyAnalysisFlags(cmd.Flags(), &cfg.Analysis)
		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		polygonsPath, _ := cmd.Flags().GetString("polygons")
		polygons, err := loadPolygons(polygonsPath)
		if err != nil {
			return err
		}
		region, err := loadRegion(cfg.Analysis.Region)
		if err != nil {
			return err
		}

		src, err := initSource(cfg)
		if err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := pipeline.New(cfg.Analysis, src, st).Run(ctx, pipeline.Input{Region: region, Polygons: polygons})
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		if path, _ := cmd.Flags().GetString("report"); path != "" {
			if err := res.Report.WriteFile(path); err != nil {
				return err
			}
		}
		if path, _ := cmd.Flags().GetString("accuracy-xlsx"); path != "" {
			if err := accuracy.WriteXLSX(path, res.Report.Accuracy); err != nil {
				return err
			}
		}
		if path, _ := cmd.Flags().GetString("model"); path != "" {
			if err := writeModel(path, res.Forest); err != nil {
				return err
			}
		}

		formatSummary(cmd.OutOrStdout(), res.Report)
		return nil
	},
}

// applyAnalysisFlags overrides configuration values with explicitly set flags.
func applyAnalysisFlags(fs *pflag.FlagSet, a *config.AnalysisConfig) {
	if fs.Changed("start-year") {
		a.StartYear, _ = fs.GetInt("start-year")
	}
	if fs.Changed("end-year") {
		a.EndYear, _ = fs.GetInt("end-year")
	}
	if fs.Changed("seed") {
		a.Seed, _ = fs.GetInt64("seed")
	}
	if fs.Changed("trees") {
		a.Trees, _ = fs.GetInt("trees")
	}
	if fs.Changed("fail-fast") {
		a.FailFast, _ = fs.GetBool("fail-fast")
	}
	if fs.Changed("region") {
		a.Region, _ = fs.GetString("region")
	}
}

func writeModel(path string, f *forest.Forest) error {
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create model %s", path)
	}
	if err := forest.WriteJSON(out, f); err != nil {
		_ = out.Close()
		return err
	}
	return eris.Wrapf(out.Close(), "close model %s", path)
}

// formatSummary writes the headline results of a run to w.
func formatSummary(out io.Writer, r *pipeline.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.RunID)
	_, _ = fmt.Fprintf(w, "Years:\t%v\n", r.Years)
	for _, s := range r.SkippedYears {
		_, _ = fmt.Fprintf(w, "  Skipped %d:\t%s\n", s.Year, s.Error)
	}
	_, _ = fmt.Fprintf(w, "Samples:\t%d training, %d validation (from %d)\n", r.Samples.Training, r.Samples.Validation, r.Samples.Year)
	if r.Accuracy != nil {
		_, _ = fmt.Fprintf(w, "Overall accuracy:\t%.4f\n", r.Accuracy.OverallAccuracy)
		_, _ = fmt.Fprintf(w, "Kappa:\t%.4f\n", r.Accuracy.Kappa)
	}
	if r.LossArea != nil {
		_, _ = fmt.Fprintf(w, "Forest loss:\t%.2f ha (%d pixels)\n", r.LossArea.Hectares, r.LossArea.Pixels)
	}
	for _, msg := range r.Warnings {
		_, _ = fmt.Fprintf(w, "Warning:\t%s\n", msg)
	}
	_ = w.Flush()
}

func init() {
	analyzeCmd.Flags().String("polygons", "", "labeled training polygons (.geojson or .shp)")
	analyzeCmd.Flags().String("region", "", "study area GeoJSON (default from config, unbounded if empty)")
	analyzeCmd.Flags().Int("start-year", 0, "first year (default from config)")
	analyzeCmd.Flags().Int("end-year", 0, "last year (default from config)")
	analyzeCmd.Flags().Int64("seed", 0, "random seed (default from config)")
	analyzeCmd.Flags().Int("trees", 0, "number of trees (default from config)")
	analyzeCmd.Flags().Bool("fail-fast", false, "abort on the first year that cannot be composited")
	analyzeCmd.Flags().String("report", "", "write the run report as YAML to this path")
	analyzeCmd.Flags().String("accuracy-xlsx", "", "write the confusion matrix workbook to this path")
	analyzeCmd.Flags().String("model", "", "write the trained forest as JSON to this path")
	_ = analyzeCmd.MarkFlagRequired("polygons")
	rootCmd.AddCommand(analyzeCmd)
}
