package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/transcript"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var videoID string

	cmd := &cobra.Command{
		Use:   "import <record.json|->",
		Short: "Store a raw transcription record",
		Long:  "Store a raw transcription record. Records are write-once: importing a second record for the same video fails.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return apperr.Wrap(err, apperr.ErrValidation, "open record file")
				}
				defer f.Close()
				in = f
			}

			var record transcript.Record
			if err := json.NewDecoder(in).Decode(&record); err != nil {
				return apperr.Wrap(err, apperr.ErrValidation, "decode record")
			}
			if videoID != "" {
				record.VideoID = videoID
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			saved, err := transcript.NewCache(store).SaveRawData(cmd.Context(), record)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s for video %s (%d words, language %s)\n",
				saved.ID, saved.VideoID, len(saved.Words()), saved.Language)
			return nil
		},
	}

	cmd.Flags().StringVar(&videoID, "video", "", "Video id (overrides the record's videoId)")
	return cmd
}
