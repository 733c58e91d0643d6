package media

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

type probeResult struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

func (p probeResult) durationSeconds() float64 {
	if d := parseSeconds(p.Format.Duration); d > 0 {
		return d
	}
	for _, s := range p.Streams {
		if s.CodecType == "audio" {
			if d := parseSeconds(s.Duration); d > 0 {
				return d
			}
		}
	}
	return 0
}

// probeDuration decodes the output's container metadata. Any failure yields 0
// so a missing duration never fails the transcode.
func (e *Engine) probeDuration(ctx context.Context, path string) float64 {
	out, err := e.run(ctx, e.ffprobeCmd, probeArgs(path)...)
	if err != nil {
		logger().Warn("Failed to probe duration of %s: %v", path, err)
		return 0
	}
	var result probeResult
	if err := json.Unmarshal(out, &result); err != nil {
		logger().Warn("Failed to parse ffprobe output for %s: %v", path, err)
		return 0
	}
	return result.durationSeconds()
}

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-hide_banner",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "a",
		path,
	}
}

func parseSeconds(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" || cleaned == "N/A" {
		return 0
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) || parsed < 0 {
		return 0
	}
	return parsed
}
