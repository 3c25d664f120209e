package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/landcover-cli/internal/fetcher"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/resilience"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Download a remote scene archive into a local directory",
	Long:  "Fetches catalog.json and every scene it lists over http, https or ftp into a directory archive readable by analyze.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("mirror"); err != nil {
			return err
		}
		catalog, _ := cmd.Flags().GetString("catalog")
		if catalog == "" {
			catalog = catalogURL(cfg.Mirror.BaseURL)
		}
		if catalog == "" {
			return eris.New("mirror: --catalog or mirror.base_url is required")
		}
		dest, _ := cmd.Flags().GetString("dest")
		if dest == "" {
			dest = cfg.Source.Dir
		}

		timeout := time.Duration(cfg.Mirror.TimeoutSecs) * time.Second
		f := fetcher.NewRouter(
			fetcher.HTTPOptions{
				UserAgent:  cfg.Mirror.UserAgent,
				Timeout:    timeout,
				Retry:      resilience.DefaultRetryConfig(),
				RatePerSec: cfg.Mirror.RatePerSec,
			},
			fetcher.FTPOptions{Timeout: timeout, Retry: resilience.DefaultRetryConfig()},
		)

		res, err := imagery.Mirror(ctx, f, catalog, dest, cfg.Mirror.Concurrency)
		if err != nil {
			return eris.Wrap(err, "mirror")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Mirrored %d scenes (%d bytes) into %s\n", res.Scenes, res.Bytes, dest)
		return nil
	},
}

// catalogURL returns the catalog location under base, or "" for an empty base.
func catalogURL(base string) string {
	if base == "" {
		return ""
	}
	if strings.HasSuffix(base, "/"+imagery.CatalogFile) {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + imagery.CatalogFile
}

func init() {
	mirrorCmd.Flags().String("catalog", "", "catalog URL (default <mirror.base_url>/catalog.json)")
	mirrorCmd.Flags().String("dest", "", "destination directory (default source.dir)")
	rootCmd.AddCommand(mirrorCmd)
}
