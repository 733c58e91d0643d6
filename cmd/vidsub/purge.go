package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/metrics"
	"github.com/MimeLyc/vidsub/internal/transcript"
)

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var (
		videoID string
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop stale cached translations, or delete stored transcriptions",
		Long: "Without flags, removes persisted translations older than TRANSLATE_CACHE_TTL.\n" +
			"--video deletes one raw transcription; --all-transcripts deletes every one.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			cache := transcript.NewCache(store)

			switch {
			case videoID != "":
				deleted, err := cache.DeleteRawData(cmd.Context(), videoID)
				if err != nil {
					return err
				}
				if !deleted {
					return apperr.New(apperr.ErrNotFound, "no transcription for video").WithContext("videoId", videoID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted transcription of %s\n", videoID)
			case all:
				if err := cache.ClearAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted every transcription")
			default:
				cutoff := time.Now().Add(-ctx.config.GatewayConfig().CacheTTL)
				n, err := store.PurgeOlderThan(cmd.Context(), cutoff)
				if err != nil {
					return apperr.Wrap(err, apperr.ErrStorage, "purge translation cache")
				}
				metrics.AddTranslationCachePurged(n)
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d stale translations\n", n)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&videoID, "video", "", "Delete the transcription of this video")
	cmd.Flags().BoolVar(&all, "all-transcripts", false, "Delete every stored transcription")
	cmd.MarkFlagsMutuallyExclusive("video", "all-transcripts")
	return cmd
}
