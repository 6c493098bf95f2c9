package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the content cache",
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print entry count and byte usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := rt.app.Cache().Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	var (
		sheet string
		row   int
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry, or only the entries of one row",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			var removed int
			if sheet != "" {
				removed, err = rt.app.Cache().ClearRow(cmd.Context(), sheet, row)
			} else {
				removed, err = rt.app.Cache().Clear(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"removed": removed})
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "only clear entries of this sheet")
	cmd.Flags().IntVar(&row, "row", 0, "row number, used with --sheet")
	return cmd
}
