package translator

import (
	"context"
	"time"
)

// Result is a translated text. Confidence carries the endpoint's source
// language detection confidence, not a translation quality score.
type Result struct {
	TranslatedText   string   `json:"translatedText"`
	DetectedLanguage string   `json:"detectedLanguage,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
}

type CacheKey struct {
	Text   string
	Source string
	Target string
}

func (k CacheKey) String() string {
	return k.Source + "\x00" + k.Target + "\x00" + k.Text
}

type CacheEntry struct {
	Key        CacheKey
	Result     Result
	InsertedAt time.Time
}

// Cache stores translations. Implementations keep entries until PurgeOlderThan
// removes them; freshness is decided by the gateway.
type Cache interface {
	Get(ctx context.Context, key CacheKey) (CacheEntry, bool, error)
	Put(ctx context.Context, entry CacheEntry) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Translator is the contract cue consumers depend on.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (Result, error)
	IsAvailable(ctx context.Context) bool
}
