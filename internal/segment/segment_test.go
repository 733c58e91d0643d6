package segment

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/vidsub/internal/subtitle"
	"github.com/MimeLyc/vidsub/internal/transcript"
)

func recordWith(words ...transcript.Word) transcript.Record {
	return transcript.Record{
		ID:           "rec-1",
		VideoID:      "vid",
		Language:     "en",
		AssemblyData: transcript.AssemblyData{Words: words},
	}
}

func word(text string, start, end int64, conf float64) transcript.Word {
	return transcript.Word{Text: text, Start: start, End: end, Confidence: conf}
}

func TestGenerate_SingleSentence(t *testing.T) {
	rec := recordWith(
		word("I", 0, 300, 0.9),
		word("am", 300, 600, 0.95),
		word("here.", 600, 1000, 0.99),
	)

	cues := GenerateFromRawData(rec, DefaultConfig())

	require.Len(t, cues, 1)
	assert.Equal(t, subtitle.Cue{
		ID:         "vid_segment_0",
		VideoID:    "vid",
		Text:       "I am here.",
		StartSec:   0.0,
		EndSec:     1.0,
		Confidence: 0.9,
		Language:   "en",
	}, cues[0])
}

func TestGenerate_SplitsOnTerminalPunctuation(t *testing.T) {
	rec := recordWith(
		word("Hello!", 0, 500, 0.8),
		word("How", 600, 800, 0.7),
		word("are", 800, 900, 0.95),
		word("you?", 900, 1200, 0.9),
		word("Fine", 1500, 1800, 0.6),
		word("thanks.", 1800, 2100, 0.99),
	)

	cues := GenerateFromRawData(rec, DefaultConfig())

	require.Len(t, cues, 3)
	assert.Equal(t, []string{"Hello!", "How are you?", "Fine thanks."},
		[]string{cues[0].Text, cues[1].Text, cues[2].Text})
	assert.Equal(t, "vid_segment_2", cues[2].ID)
	assert.InDelta(t, 0.6, cues[1].StartSec, 1e-9)
	assert.InDelta(t, 1.2, cues[1].EndSec, 1e-9)
	assert.InDelta(t, 0.7, cues[1].Confidence, 1e-9)
	assert.InDelta(t, 0.6, cues[2].Confidence, 1e-9)
}

func TestGenerate_ClosesAtEndOfStream(t *testing.T) {
	rec := recordWith(
		word("no", 0, 100, 0.9),
		word("punctuation", 100, 200, 0.9),
		word("here", 200, 300, 0.9),
	)

	cues := GenerateFromRawData(rec, DefaultConfig())

	require.Len(t, cues, 1)
	assert.Equal(t, "no punctuation here", cues[0].Text)
	assert.InDelta(t, 0.3, cues[0].EndSec, 1e-9)
}

func TestGenerate_ConfidenceFiltering(t *testing.T) {
	rec := recordWith(
		word("low", 0, 100, 0.3),
		word("lower.", 100, 200, 0.3),
	)
	cfg := DefaultConfig()
	cfg.MinConfidence = 0.5

	cues := GenerateFromRawData(rec, cfg)
	require.NotNil(t, cues)
	assert.Empty(t, cues)

	mixed := recordWith(
		word("keep", 0, 100, 0.9),
		word("drop.", 100, 200, 0.2),
		word("this", 200, 300, 0.8),
		word("too.", 300, 400, 0.85),
	)
	cues = GenerateFromRawData(mixed, cfg)
	require.Len(t, cues, 1, "the dropped word's punctuation no longer splits")
	assert.Equal(t, "keep this too.", cues[0].Text)
}

func TestGenerate_EmptyRecord(t *testing.T) {
	cues := GenerateFromRawData(recordWith(), DefaultConfig())
	require.NotNil(t, cues)
	assert.Empty(t, cues)
}

func TestGenerate_CustomPunctuation(t *testing.T) {
	rec := recordWith(
		word("one;", 0, 100, 0.9),
		word("two.", 100, 200, 0.9),
		word("three", 200, 300, 0.9),
	)
	cfg := DefaultConfig()
	cfg.SentenceEndPunctuation = []string{";"}

	cues := GenerateFromRawData(rec, cfg)
	require.Len(t, cues, 2)
	assert.Equal(t, "one;", cues[0].Text)
	assert.Equal(t, "two. three", cues[1].Text)

	cfg.SentenceEndPunctuation = []string{}
	assert.Len(t, GenerateFromRawData(rec, cfg), 1)

	cfg.SentenceEndPunctuation = nil
	assert.Len(t, GenerateFromRawData(rec, cfg), 2, "nil falls back to the defaults")
}

func TestGenerate_IgnoresDurationBoundsAndDisfluencies(t *testing.T) {
	rec := recordWith(
		word("um", 0, 100, 0.9),
		word("a", 100, 60_000, 0.9),
		word("long", 60_000, 120_000, 0.9),
		word("one.", 120_000, 121_000, 0.9),
	)
	base := GenerateFromRawData(rec, DefaultConfig())

	cfg := DefaultConfig()
	cfg.MinSegmentDuration = 50
	cfg.MaxSegmentDuration = 2
	cfg.KeepDisfluencies = true
	assert.Equal(t, base, GenerateFromRawData(rec, cfg))
}

func TestGenerate_Idempotent(t *testing.T) {
	rec := recordWith(
		word("First.", 0, 500, 0.8),
		word("Second", 600, 900, 0.7),
		word("sentence", 900, 1300, 0.75),
	)
	cfg := DefaultConfig()

	first := GenerateFromRawData(rec, cfg)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, first, GenerateFromRawData(rec, cfg))
		}()
	}
	wg.Wait()
}

func TestStats(t *testing.T) {
	rec := recordWith(
		word("Hello", 0, 300, 0.8),
		word("world.", 300, 700, 0.9),
		word("Bye.", 1000, 2500, 0.6),
	)

	stats := Stats(rec)
	assert.Equal(t, 3, stats.TotalWords)
	assert.Equal(t, 2, stats.TotalSegments)
	assert.InDelta(t, 1.5, stats.AverageSegmentLength, 1e-9)
	assert.InDelta(t, 0.7, stats.AverageConfidence, 1e-9)
	assert.InDelta(t, 2.5, stats.TotalDuration, 1e-9)

	assert.Equal(t, GenerationStats{}, Stats(recordWith()))
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MinConfidence = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinSegmentDuration = 10
	cfg.MaxSegmentDuration = 5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SentenceEndPunctuation = []string{" "}
	assert.Error(t, cfg.Validate())
}
