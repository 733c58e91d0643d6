package jobs

import (
	"time"

	"github.com/MimeLyc/vidsub/internal/media"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

type EnqueueRequest struct {
	Source    string
	DedupeKey string
	Payload   Payload
}

// Payload names the media to extract and where the artifact is written.
type Payload struct {
	MediaFile  string        `json:"media_file"`
	OutputFile string        `json:"output_file"`
	Options    media.Options `json:"options"`
}

// Result summarizes the produced artifact.
type Result struct {
	Format     string  `json:"format"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Duration   float64 `json:"duration"`
	Size       int64   `json:"size"`
	OutputFile string  `json:"output_file"`
}

type ExtractionJob struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	DedupeKey string    `json:"dedupe_key"`
	Payload   Payload   `json:"payload"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
