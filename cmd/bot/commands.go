package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"linksave/internal/apperr"
	"linksave/internal/config"
	"linksave/internal/logger"
	"linksave/internal/storage"
)

// resolveCmd разрешает ссылку без Telegram и печатает пост в JSON.
func resolveCmd() *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "resolve <url>",
		Short: "Resolve a post link and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(config.FromEnv(), logger.L())
			if err != nil {
				return err
			}
			defer a.close()

			rawURL := args[0]
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if p, ok := a.registry.For(rawURL); ok {
				res, err := p.Resolve(cmd.Context(), rawURL)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", p.Platform(), err)
				}
				return enc.Encode(res)
			}
			if !probe {
				return apperr.ErrUnsupported
			}
			meta, err := a.downloader.ExtractMetadata(cmd.Context(), rawURL)
			if err != nil {
				return err
			}
			return enc.Encode(meta)
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "print yt-dlp metadata for links without a provider")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain delivery caches",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print cache entry counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := build(config.FromEnv(), logger.L())
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			for _, s := range a.manager(nil).Stats() {
				fmt.Fprintf(out, "%-6s %d entries\n", s.Kind, s.Entries)
			}
			if a.mirror == nil {
				return nil
			}
			for _, kind := range []storage.Kind{storage.KindVideo, storage.KindImage} {
				n, err := a.mirror.Count(cmd.Context(), kind)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-6s %d rows in mirror\n", kind, n)
			}
			return nil
		},
	}

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Drop expired cache entries and stale temp files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := build(config.FromEnv(), logger.L())
			if err != nil {
				return err
			}
			defer a.close()
			return a.cleanup(cmd.Context())
		},
	}

	cmd.AddCommand(stats, cleanup)
	return cmd
}
