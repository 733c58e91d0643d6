package subtitle

import (
	"fmt"
	"io"
	"strings"
)

// Cue is one subtitle unit derived from a raw transcription. Cues are
// regenerated on demand and never stored as the system of record.
type Cue struct {
	ID         string  `json:"id"`
	VideoID    string  `json:"videoId"`
	Text       string  `json:"text"`
	StartSec   float64 `json:"startSec"`
	EndSec     float64 `json:"endSec"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// Writer renders cues in a subtitle file format.
type Writer interface {
	Write(w io.Writer, cues []Cue) error
}

type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
)

func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "srt":
		return FormatSRT, nil
	case "vtt", "webvtt":
		return FormatVTT, nil
	default:
		return "", fmt.Errorf("unsupported subtitle format %q", name)
	}
}

func (f Format) ContentType() string {
	if f == FormatVTT {
		return "text/vtt; charset=utf-8"
	}
	return "application/x-subrip; charset=utf-8"
}

// NewWriter returns the writer for format.
func NewWriter(format Format) (Writer, error) {
	switch format {
	case FormatSRT:
		return srtWriter{}, nil
	case FormatVTT:
		return vttWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported subtitle format %q", format)
	}
}
