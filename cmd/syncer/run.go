package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/cms-sync/internal/app"
	"github.com/dgnsrekt/cms-sync/internal/config"
)

func runCmd() *cobra.Command {
	var (
		dryRun    bool
		languages []string
		channels  []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync every configured language once",
		Long: `Pull content and page changes for each configured language, refresh the
sitemaps of every channel when anything changed, and save the new sync tokens.

Examples:
  # Sync using the config file
  cms-syncer run -c configs/default.yaml

  # Override languages and channels
  cms-syncer run --languages en-us,fr-ca --channels website

  # Show what would be synced
  cms-syncer run --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			effectiveLanguages, effectiveChannels := overrideTargets(cfg, languages, channels)
			if err := config.ValidateSyncConfig(effectiveLanguages, effectiveChannels); err != nil {
				return err
			}

			if dryRun {
				for _, lang := range effectiveLanguages {
					fmt.Printf("Would sync: %s (channels: %v)\n", lang, effectiveChannels)
				}
				return nil
			}

			a, err := app.Build(ctx, cfg, nil, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			a.Runner.SetTargets(effectiveLanguages, effectiveChannels)

			result, err := a.Runner.Run(ctx)
			if err != nil {
				return err
			}

			logger.Info("sync complete",
				zap.String("run_id", result.RunID),
				zap.Int("languages", len(result.Languages)),
				zap.Int("changed", result.ChangedCount()),
				zap.Int("sitemaps", result.SitemapCount()),
				zap.Duration("duration", result.Duration),
			)
			for _, l := range result.Languages {
				fmt.Printf("%-10s items %d -> %d  pages %d -> %d  sitemaps %v\n",
					l.Language, l.Previous.ItemToken, l.Current.ItemToken,
					l.Previous.PageToken, l.Current.PageToken, l.SitemapsUpdated)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be synced")
	cmd.Flags().StringSliceVar(&languages, "languages", nil, "override languages from config")
	cmd.Flags().StringSliceVar(&channels, "channels", nil, "override channels from config")

	return cmd
}

// overrideTargets applies command line overrides to the configured lists.
func overrideTargets(cfg *config.Config, languages, channels []string) ([]string, []string) {
	effectiveLanguages := cfg.Sync.Languages
	if len(languages) > 0 {
		effectiveLanguages = languages
	}
	effectiveChannels := cfg.Sync.Channels
	if len(channels) > 0 {
		effectiveChannels = channels
	}
	return effectiveLanguages, effectiveChannels
}
