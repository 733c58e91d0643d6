// Package segment turns a raw word stream into subtitle cues.
//
// Segmentation is a pure function of the record and the config: the same
// inputs always yield the same cues, so cues can be regenerated whenever the
// config changes without running recognition again.
package segment

import (
	"fmt"
	"math"
	"strings"

	"github.com/MimeLyc/vidsub/internal/subtitle"
	"github.com/MimeLyc/vidsub/internal/transcript"
)

// Config controls segmentation. Segment boundaries come only from terminal
// punctuation and the end of the stream; MinSegmentDuration,
// MaxSegmentDuration and KeepDisfluencies are carried for callers but do not
// change the output.
type Config struct {
	SentenceEndPunctuation []string `json:"sentenceEndPunctuation"`
	MinConfidence          float64  `json:"minConfidence"`
	MinSegmentDuration     float64  `json:"minSegmentDuration"`
	MaxSegmentDuration     float64  `json:"maxSegmentDuration"`
	KeepDisfluencies       bool     `json:"keepDisfluencies"`
}

func DefaultPunctuation() []string {
	return []string{".", "!", "?"}
}

func DefaultConfig() Config {
	return Config{
		SentenceEndPunctuation: DefaultPunctuation(),
		MinConfidence:          0,
		MinSegmentDuration:     1,
		MaxSegmentDuration:     7,
		KeepDisfluencies:       false,
	}
}

// Validate rejects confidences outside [0, 1] and inverted duration bounds.
func (c Config) Validate() error {
	if math.IsNaN(c.MinConfidence) || c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("minConfidence must be within [0, 1], got %v", c.MinConfidence)
	}
	if c.MinSegmentDuration < 0 || c.MaxSegmentDuration < 0 {
		return fmt.Errorf("segment durations must not be negative")
	}
	if c.MaxSegmentDuration > 0 && c.MinSegmentDuration > c.MaxSegmentDuration {
		return fmt.Errorf("minSegmentDuration %v exceeds maxSegmentDuration %v", c.MinSegmentDuration, c.MaxSegmentDuration)
	}
	for _, p := range c.SentenceEndPunctuation {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("sentence end punctuation must not contain blank marks")
		}
	}
	return nil
}

// punctuation returns the configured marks; a nil set means the defaults.
func (c Config) punctuation() []string {
	if c.SentenceEndPunctuation == nil {
		return DefaultPunctuation()
	}
	return c.SentenceEndPunctuation
}

type openSegment struct {
	parts      []string
	startMs    int64
	endMs      int64
	confidence float64
}

func (s *openSegment) add(w transcript.Word) {
	if len(s.parts) == 0 {
		s.startMs = w.Start
		s.confidence = w.Confidence
	}
	s.parts = append(s.parts, w.Text)
	s.endMs = w.End
	s.confidence = math.Min(s.confidence, w.Confidence)
}

// GenerateFromRawData segments record into cues. Words below
// cfg.MinConfidence are dropped first; a cue closes on a word ending in
// terminal punctuation or at the last remaining word.
func GenerateFromRawData(record transcript.Record, cfg Config) []subtitle.Cue {
	words := filterWords(record.Words(), cfg.MinConfidence)
	if len(words) == 0 {
		return []subtitle.Cue{}
	}

	marks := cfg.punctuation()
	cues := make([]subtitle.Cue, 0)
	var seg openSegment
	for i, w := range words {
		seg.add(w)
		if !endsSentence(w.Text, marks) && i != len(words)-1 {
			continue
		}
		cues = append(cues, subtitle.Cue{
			ID:         fmt.Sprintf("%s_segment_%d", record.VideoID, len(cues)),
			VideoID:    record.VideoID,
			Text:       strings.TrimSpace(strings.Join(seg.parts, " ")),
			StartSec:   float64(seg.startMs) / 1000,
			EndSec:     float64(seg.endMs) / 1000,
			Confidence: seg.confidence,
			Language:   record.Language,
		})
		seg = openSegment{}
	}
	return cues
}

func filterWords(words []transcript.Word, minConfidence float64) []transcript.Word {
	kept := make([]transcript.Word, 0, len(words))
	for _, w := range words {
		if w.Confidence < minConfidence {
			continue
		}
		kept = append(kept, w)
	}
	return kept
}

func endsSentence(text string, marks []string) bool {
	text = strings.TrimSpace(text)
	for _, m := range marks {
		if m != "" && strings.HasSuffix(text, m) {
			return true
		}
	}
	return false
}

type GenerationStats struct {
	TotalWords           int     `json:"totalWords"`
	TotalSegments        int     `json:"totalSegments"`
	AverageSegmentLength float64 `json:"averageSegmentLength"`
	AverageConfidence    float64 `json:"averageConfidence"`
	TotalDuration        float64 `json:"totalDuration"`
}

// Stats regenerates the cues of record with DefaultConfig and summarizes them.
func Stats(record transcript.Record) GenerationStats {
	return StatsFor(GenerateFromRawData(record, DefaultConfig()))
}

// StatsFor summarizes already generated cues. Every field is 0 for no cues.
func StatsFor(cues []subtitle.Cue) GenerationStats {
	if len(cues) == 0 {
		return GenerationStats{}
	}
	var stats GenerationStats
	var confidenceSum float64
	for _, c := range cues {
		stats.TotalWords += len(strings.Fields(c.Text))
		confidenceSum += c.Confidence
		stats.TotalDuration = math.Max(stats.TotalDuration, c.EndSec)
	}
	stats.TotalSegments = len(cues)
	stats.AverageSegmentLength = float64(stats.TotalWords) / float64(stats.TotalSegments)
	stats.AverageConfidence = confidenceSum / float64(stats.TotalSegments)
	return stats
}
