package media

import (
	"context"
	"strings"
)

// MediaAsset is caller-owned video or audio bytes. The extractor never persists it.
type MediaAsset struct {
	ID        string  `json:"id"`
	Container string  `json:"container"` // e.g. mp4, mkv, webm
	Duration  float64 `json:"duration"`  // seconds, informational
	Size      int64   `json:"size"`
	Data      []byte  `json:"-"`
}

// AudioBlob is an audio payload handed to ConvertAudioFormat.
type AudioBlob struct {
	Data   []byte
	Format string // container hint, may be empty
}

// AudioArtifact is the normalized audio ready for upload to a recognizer.
type AudioArtifact struct {
	Data       []byte  `json:"-"`
	Format     string  `json:"format"`
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
	Duration   float64 `json:"duration"` // seconds, 0 when the output could not be probed
}

type Options struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	// Quality is the encoder VBR quality; only lossy targets use it. Nil
	// takes the default so that 0, the best VBR setting, can be requested.
	Quality *int `json:"quality,omitempty"`
}

// QualityLevel returns q as an Options.Quality value.
func QualityLevel(q int) *int {
	return &q
}

const (
	FormatWAV  = "wav"
	FormatMP3  = "mp3"
	FormatFLAC = "flac"
	FormatOGG  = "ogg"
	FormatM4A  = "m4a"
)

const (
	DefaultFormat     = FormatWAV
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultQuality    = 2
)

func DefaultOptions() Options {
	return Options{
		Format:     DefaultFormat,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		Quality:    QualityLevel(DefaultQuality),
	}
}

// WithDefaults fills zero fields from base.
func (o Options) WithDefaults(base Options) Options {
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	if o.Format == "" {
		o.Format = base.Format
	}
	if o.SampleRate <= 0 {
		o.SampleRate = base.SampleRate
	}
	if o.Channels <= 0 {
		o.Channels = base.Channels
	}
	if o.Quality == nil && base.Quality != nil {
		o.Quality = QualityLevel(*base.Quality)
	}
	return o
}

// IsLossy reports whether format is a compressed target that takes a quality flag.
func IsLossy(format string) bool {
	switch strings.ToLower(format) {
	case FormatMP3, FormatOGG, FormatM4A:
		return true
	default:
		return false
	}
}

func SupportedFormat(format string) bool {
	_, ok := codecArgs[strings.ToLower(format)]
	return ok
}

// Extractor produces recognizer-ready audio from media.
type Extractor interface {
	ExtractAudio(ctx context.Context, asset MediaAsset, opts Options) (AudioArtifact, error)
	ConvertAudioFormat(ctx context.Context, blob AudioBlob, targetFormat string, opts Options) (AudioArtifact, error)
	Cleanup()
}
