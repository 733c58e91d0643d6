package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/pipeline"
	"github.com/MimeLyc/vidsub/internal/subtitle"
)

func newCuesCommand(ctx *commandContext) *cobra.Command {
	var (
		lang          string
		format        string
		output        string
		minConfidence float64
		punctuation   string
	)

	cmd := &cobra.Command{
		Use:   "cues <video-id>",
		Short: "Generate subtitle cues from a stored transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config.SegmentationConfig()
			if cmd.Flags().Changed("min-confidence") {
				cfg.MinConfidence = minConfidence
			}
			if cmd.Flags().Changed("punctuation") {
				cfg.SentenceEndPunctuation = splitMarks(punctuation)
			}
			if !cmd.Flags().Changed("lang") {
				lang = ctx.config.Translate.DisplayLanguage
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			svc, err := ctx.newService(store, ctx.translationCache(store))
			if err != nil {
				return err
			}
			cues, err := svc.Cues(cmd.Context(), args[0], cfg, lang)
			if err != nil {
				return err
			}

			switch strings.ToLower(format) {
			case "", "table":
				fmt.Fprintln(cmd.OutOrStdout(), renderCues(cues))
				return nil
			case "json":
				return writeJSON(cmd, cues)
			}

			subFormat, err := subtitle.ParseFormat(format)
			if err != nil {
				return apperr.Wrap(err, apperr.ErrValidation, "invalid --format")
			}
			if output == "" {
				return pipeline.Render(cmd.OutOrStdout(), subFormat, cues)
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return err
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := pipeline.Render(f, subFormat, cues); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d cues to %s\n", len(cues), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&lang, "lang", "", "Display language; cues are translated when it differs from the transcription")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json, srt or vtt")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write srt/vtt output to a file")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "Drop words below this confidence")
	cmd.Flags().StringVar(&punctuation, "punctuation", ".!?", "Sentence end marks, one per character")
	return cmd
}

func renderCues(cues []pipeline.DisplayCue) string {
	rows := make([][]string, 0, len(cues))
	for _, c := range cues {
		rows = append(rows, []string{
			c.ID,
			fmt.Sprintf("%.3f", c.StartSec),
			fmt.Sprintf("%.3f", c.EndSec),
			fmt.Sprintf("%.2f", c.Confidence),
			c.DisplayText(),
		})
	}
	return renderTable(
		[]string{"ID", "Start", "End", "Confidence", "Text"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

func splitMarks(value string) []string {
	marks := make([]string, 0, len(value))
	for _, r := range value {
		if r == ' ' || r == ',' {
			continue
		}
		marks = append(marks, string(r))
	}
	return marks
}
