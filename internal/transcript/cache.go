package transcript

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/metrics"
	"github.com/MimeLyc/vidsub/pkg/log"
)

// Cache is the write-once store for raw recognizer output, keyed by video.
// Records are never updated in place.
type Cache struct {
	store Store
	now   func() time.Time
}

type Option func(*Cache)

// WithClock overrides the clock used for CreatedAt defaults.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func NewCache(store Store, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SaveRawData persists record. It fails with an ErrDuplicateRecord error when
// a record with the same id or the same video id already exists.
func (c *Cache) SaveRawData(ctx context.Context, record Record) (Record, error) {
	record, err := c.normalize(record)
	if err != nil {
		metrics.ObserveRawSave("error")
		return Record{}, err
	}

	if err := c.store.InsertRawTranscription(ctx, record); err != nil {
		if apperr.IsDuplicate(err) {
			metrics.ObserveRawSave("duplicate")
			log.Warn("Rejected duplicate raw transcription id=%s video=%s", record.ID, record.VideoID)
			return Record{}, err
		}
		metrics.ObserveRawSave("error")
		return Record{}, apperr.Wrap(err, apperr.ErrStorage, "save raw transcription").
			WithContext("video_id", record.VideoID)
	}

	metrics.ObserveRawSave("created")
	log.Info("Saved raw transcription id=%s video=%s words=%d", record.ID, record.VideoID, len(record.Words()))
	return record, nil
}

// GetRawData returns the record for videoID, or false when none exists.
func (c *Cache) GetRawData(ctx context.Context, videoID string) (Record, bool, error) {
	rec, ok, err := c.store.GetRawTranscriptionByVideo(ctx, strings.TrimSpace(videoID))
	if err != nil {
		return Record{}, false, apperr.Wrap(err, apperr.ErrStorage, "load raw transcription").
			WithContext("video_id", videoID)
	}
	return rec, ok, nil
}

func (c *Cache) GetRawDataByID(ctx context.Context, id string) (Record, bool, error) {
	rec, ok, err := c.store.GetRawTranscriptionByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return Record{}, false, apperr.Wrap(err, apperr.ErrStorage, "load raw transcription").
			WithContext("id", id)
	}
	return rec, ok, nil
}

func (c *Cache) HasRawData(ctx context.Context, videoID string) (bool, error) {
	_, ok, err := c.GetRawData(ctx, videoID)
	return ok, err
}

func (c *Cache) GetAllRawData(ctx context.Context) ([]Record, error) {
	all, err := c.store.ListRawTranscriptions(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrStorage, "list raw transcriptions")
	}
	return all, nil
}

func (c *Cache) GetStorageStats(ctx context.Context) (StorageStats, error) {
	stats, err := c.store.RawTranscriptionStats(ctx)
	if err != nil {
		return StorageStats{}, apperr.Wrap(err, apperr.ErrStorage, "raw transcription stats")
	}
	if math.IsNaN(stats.AverageConfidence) || stats.TotalRecords == 0 {
		stats.AverageConfidence = 0
	}
	return stats, nil
}

// DeleteRawData removes a single record. Maintenance only.
func (c *Cache) DeleteRawData(ctx context.Context, videoID string) (bool, error) {
	deleted, err := c.store.DeleteRawTranscription(ctx, strings.TrimSpace(videoID))
	if err != nil {
		return false, apperr.Wrap(err, apperr.ErrStorage, "delete raw transcription").
			WithContext("video_id", videoID)
	}
	if deleted {
		log.Warn("Deleted raw transcription for video %s", videoID)
	}
	return deleted, nil
}

// ClearAll drops every record. Maintenance and tests only.
func (c *Cache) ClearAll(ctx context.Context) error {
	if err := c.store.DeleteAllRawTranscriptions(ctx); err != nil {
		return apperr.Wrap(err, apperr.ErrStorage, "clear raw transcriptions")
	}
	log.Warn("Cleared all raw transcriptions")
	return nil
}

func (c *Cache) normalize(record Record) (Record, error) {
	record.VideoID = strings.TrimSpace(record.VideoID)
	if record.VideoID == "" {
		return Record{}, apperr.New(apperr.ErrValidation, "video id is required")
	}
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	for i, w := range record.AssemblyData.Words {
		if w.End < w.Start {
			return Record{}, apperr.Newf(apperr.ErrValidation, "word %d ends before it starts", i).
				WithContext("video_id", record.VideoID)
		}
	}

	lang, err := normalizeLanguage(record.Language)
	if err != nil {
		return Record{}, apperr.Wrap(err, apperr.ErrValidation, "invalid record language").
			WithContext("language", record.Language)
	}
	if lang == "" {
		lang = detectLanguage(record.Words())
	}
	record.Language = lang

	if record.CreatedAt.IsZero() {
		record.CreatedAt = c.now()
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

func normalizeLanguage(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nil
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", code, err)
	}
	return tag.String(), nil
}

// detectLanguage guesses the spoken language from the token text when the
// recognizer did not report one.
func detectLanguage(words []Word) string {
	if len(words) == 0 {
		return language.Und.String()
	}
	texts := make([]string, 0, len(words))
	for _, w := range words {
		texts = append(texts, w.Text)
	}
	info := whatlanggo.Detect(strings.Join(texts, " "))
	if code := info.Lang.Iso6391(); code != "" {
		return code
	}
	return language.Und.String()
}
