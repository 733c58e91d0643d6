package transcript

import (
	"context"
	"encoding/json"
	"time"
)

// Word is one timestamped token produced by the recognizer. Times are milliseconds.
type Word struct {
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
}

// AssemblyData is the recognizer payload. Utterances are kept verbatim.
type AssemblyData struct {
	Words      []Word          `json:"words"`
	Utterances json.RawMessage `json:"utterances,omitempty"`
}

type Metadata struct {
	AverageConfidence float64 `json:"averageConfidence"`
}

// Record is the raw recognizer output for one video. It is written once and never updated.
type Record struct {
	ID           string       `json:"id"`
	VideoID      string       `json:"videoId"`
	Language     string       `json:"language"`
	AssemblyData AssemblyData `json:"assemblyData"`
	Metadata     Metadata     `json:"metadata"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Words returns the ordered token stream.
func (r Record) Words() []Word {
	return r.AssemblyData.Words
}

type StorageStats struct {
	TotalRecords      int     `json:"totalRecords"`
	TotalSize         int64   `json:"totalSize"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// Store is the durable backend of the cache. Insert must fail with an
// apperr.ErrDuplicateRecord error when either the id or the video id is taken,
// and must decide that atomically.
type Store interface {
	InsertRawTranscription(ctx context.Context, record Record) error
	GetRawTranscriptionByVideo(ctx context.Context, videoID string) (Record, bool, error)
	GetRawTranscriptionByID(ctx context.Context, id string) (Record, bool, error)
	ListRawTranscriptions(ctx context.Context) ([]Record, error)
	RawTranscriptionStats(ctx context.Context) (StorageStats, error)
	DeleteRawTranscription(ctx context.Context, videoID string) (bool, error)
	DeleteAllRawTranscriptions(ctx context.Context) error
}
