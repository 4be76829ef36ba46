package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/cms-sync/internal/storage"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved sync tokens per language",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := storage.Open(ctx, cfg.Storage, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			states, err := store.ListSyncStates(ctx)
			if err != nil {
				return err
			}
			if len(states) == 0 {
				fmt.Println("No languages synced yet")
				return nil
			}

			languages := make([]string, 0, len(states))
			for lang := range states {
				languages = append(languages, lang)
			}
			sort.Strings(languages)

			fmt.Printf("%-10s %12s %12s\n", "LANGUAGE", "ITEM TOKEN", "PAGE TOKEN")
			for _, lang := range languages {
				fmt.Printf("%-10s %12d %12d\n", lang, states[lang].ItemToken, states[lang].PageToken)
			}
			return nil
		},
	}
}

func sitemapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sitemap CHANNEL LANGUAGE",
		Short: "Print the stored flat sitemap for a channel and language",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := storage.Open(ctx, cfg.Storage, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			sitemap, err := store.GetSitemap(ctx, args[0], args[1])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no sitemap stored for %s/%s; run a sync first", args[0], args[1])
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sitemap)
		},
	}
}
