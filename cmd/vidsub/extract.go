package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/jobs"
	"github.com/MimeLyc/vidsub/internal/media"
	"github.com/MimeLyc/vidsub/internal/pipeline"
	"github.com/MimeLyc/vidsub/pkg/file"
	"github.com/MimeLyc/vidsub/pkg/log"
)

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var (
		output     string
		opts       media.Options
		quality    int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "extract <media-file|directory>",
		Short: "Extract recognizer-ready audio from a media file or every video under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("quality") {
				opts.Quality = media.QualityLevel(quality)
			}
			inputs := []string{args[0]}
			if info, err := os.Stat(args[0]); err == nil && info.IsDir() {
				if output != "" {
					return apperr.New(apperr.ErrValidation, "--output cannot be used with a directory")
				}
				if inputs, err = file.FindByExt(args[0], file.VideoExtensions); err != nil {
					return apperr.Wrap(err, apperr.ErrValidation, "scan media directory").WithContext("path", args[0])
				}
				if len(inputs) == 0 {
					return apperr.New(apperr.ErrNotFound, "no media files found").WithContext("path", args[0])
				}
			}

			engine := ctx.newEngine()
			defer engine.Cleanup()
			exec := pipeline.NewExtractionExecutor(engine, ctx.config.MediaOptions())

			var (
				results []*jobs.Result
				errs    []error
			)
			for _, input := range inputs {
				req, err := pipeline.ExtractionRequest{
					MediaFile:  input,
					OutputFile: output,
					Options:    opts,
				}.EnqueueRequest("cli")
				if err != nil {
					return err
				}
				result, err := exec(cmd.Context(), &jobs.ExtractionJob{
					ID:        "cli",
					Source:    req.Source,
					DedupeKey: req.DedupeKey,
					Payload:   req.Payload,
					Status:    jobs.StatusRunning,
				})
				if err != nil {
					if len(inputs) == 1 || apperr.IsErrorType(err, apperr.ErrInitialization) {
						return err
					}
					log.Error("Failed to extract %s: %v", input, err)
					errs = append(errs, err)
					continue
				}
				results = append(results, result)
			}

			if jsonOutput {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
				return errors.Join(errs...)
			}
			rows := make([][]string, 0, len(results))
			for _, result := range results {
				rows = append(rows, []string{
					result.OutputFile,
					result.Format,
					strconv.Itoa(result.SampleRate),
					strconv.Itoa(result.Channels),
					fmt.Sprintf("%.1fs", result.Duration),
					humanize.Bytes(uint64(result.Size)),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Output", "Format", "Sample rate", "Channels", "Duration", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			if len(errs) > 0 {
				return apperr.Wrap(errors.Join(errs...), apperr.ErrExtraction,
					fmt.Sprintf("%d of %d files failed", len(errs), len(inputs)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: next to the media file)")
	cmd.Flags().StringVar(&opts.Format, "format", "", "Audio format: wav, mp3, flac, ogg or m4a")
	cmd.Flags().IntVar(&opts.SampleRate, "sample-rate", 0, "Sample rate in Hz")
	cmd.Flags().IntVar(&opts.Channels, "channels", 0, "Channel count")
	cmd.Flags().IntVar(&quality, "quality", 0, "Encoder VBR quality for lossy formats, 0 is best (default: EXTRACT_QUALITY)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	return cmd
}
