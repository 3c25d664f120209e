package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/landcover-cli/internal/pipeline"
)

var compositeCmd = &cobra.Command{
	Use:   "composite",
	Short: "Build and persist one annual median composite",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		year, _ := cmd.Flags().GetInt("year")
		cfg.Analysis.StartYear, cfg.Analysis.EndYear = year, year
		applyAnalysisFlags(cmd.Flags(), &cfg.Analysis)
		if err := cfg.Validate("composite"); err != nil {
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

		res, err := pipeline.New(cfg.Analysis, src, st).Composite(ctx, year, region)
		if err != nil {
			return eris.Wrap(err, "composite")
		}
		c := res.Composite
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s: composite %d from %d scenes, %dx%d, bands %v\n",
			res.RunID, c.Year, c.Scenes, c.Raster.Width, c.Raster.Height, c.Raster.Bands)
		return nil
	},
}

func init() {
	compositeCmd.Flags().Int("year", 0, "year to composite")
	compositeCmd.Flags().String("region", "", "study area GeoJSON (default from config, unbounded if empty)")
	_ = compositeCmd.MarkFlagRequired("year")
	rootCmd.AddCommand(compositeCmd)
}
