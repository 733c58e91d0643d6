package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/vidsub/internal/transcript"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats [video-id]",
		Short: "Show storage statistics, or segmentation statistics for one video",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				svc, err := ctx.newService(store, ctx.translationCache(store))
				if err != nil {
					return err
				}
				stats, err := svc.Stats(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, stats)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Words", "Segments", "Avg words/segment", "Avg confidence", "Duration"},
					[][]string{{
						strconv.Itoa(stats.TotalWords),
						strconv.Itoa(stats.TotalSegments),
						fmt.Sprintf("%.2f", stats.AverageSegmentLength),
						fmt.Sprintf("%.2f", stats.AverageConfidence),
						fmt.Sprintf("%.1fs", stats.TotalDuration),
					}},
					[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight}))
				return nil
			}

			stats, err := transcript.NewCache(store).GetStorageStats(cmd.Context())
			if err != nil {
				return err
			}
			cached, err := store.TranslationCacheSize(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, map[string]any{
					"transcriptions":    stats,
					"translationsCache": cached,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Records", "Size", "Avg confidence", "Cached translations"},
				[][]string{{
					strconv.Itoa(stats.TotalRecords),
					humanize.Bytes(uint64(stats.TotalSize)),
					fmt.Sprintf("%.2f", stats.AverageConfidence),
					humanize.Comma(cached),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight}))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	return cmd
}
