package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

type srtWriter struct{}

func (srtWriter) Write(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	for i, cue := range cues {
		fmt.Fprintf(bw, "%d\n", i+1)
		fmt.Fprintf(bw, "%s --> %s\n", formatTimestamp(cue.StartSec, ','), formatTimestamp(cue.EndSec, ','))
		fmt.Fprintf(bw, "%s\n\n", cue.Text)
	}
	return bw.Flush()
}

type vttWriter struct{}

func (vttWriter) Write(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "WEBVTT\n\n")
	for _, cue := range cues {
		if cue.ID != "" {
			fmt.Fprintf(bw, "%s\n", cue.ID)
		}
		fmt.Fprintf(bw, "%s --> %s\n", formatTimestamp(cue.StartSec, '.'), formatTimestamp(cue.EndSec, '.'))
		fmt.Fprintf(bw, "%s\n\n", cue.Text)
	}
	return bw.Flush()
}

// WriteFile renders cues into path, creating parent directories.
func WriteFile(path string, format Format, cues []Cue) error {
	writer, err := NewWriter(format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := writer.Write(file, cues); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write subtitles: %w", err)
	}
	return file.Close()
}

// formatTimestamp renders seconds as HH:MM:SS<sep>mmm.
func formatTimestamp(sec float64, sep byte) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	total := int64(math.Round(sec * 1000))
	ms := total % 1000
	s := (total / 1000) % 60
	m := (total / 60000) % 60
	h := total / 3600000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}
