package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MimeLyc/vidsub/internal/translator"
)

var _ translator.Cache = (*SQLiteStore)(nil)

func (s *SQLiteStore) Get(ctx context.Context, key translator.CacheKey) (translator.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT translated_text, detected_language, confidence, inserted_at
		 FROM translation_cache
		 WHERE source_text = ? AND source_lang = ? AND target_lang = ?`,
		key.Text,
		key.Source,
		key.Target,
	)

	var (
		entry      = translator.CacheEntry{Key: key}
		confidence sql.NullFloat64
		insertedAt int64
	)
	if err := row.Scan(&entry.Result.TranslatedText, &entry.Result.DetectedLanguage, &confidence, &insertedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return translator.CacheEntry{}, false, nil
		}
		return translator.CacheEntry{}, false, err
	}
	if confidence.Valid {
		v := confidence.Float64
		entry.Result.Confidence = &v
	}
	entry.InsertedAt = time.UnixMilli(insertedAt).UTC()
	return entry, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, entry translator.CacheEntry) error {
	var confidence sql.NullFloat64
	if entry.Result.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *entry.Result.Confidence, Valid: true}
	}
	insertedAt := entry.InsertedAt
	if insertedAt.IsZero() {
		insertedAt = time.Now()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO translation_cache (
			source_text, source_lang, target_lang, translated_text, detected_language, confidence, inserted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_text, source_lang, target_lang) DO UPDATE SET
			translated_text=excluded.translated_text,
			detected_language=excluded.detected_language,
			confidence=excluded.confidence,
			inserted_at=excluded.inserted_at`,
		entry.Key.Text,
		entry.Key.Source,
		entry.Key.Target,
		entry.Result.TranslatedText,
		entry.Result.DetectedLanguage,
		confidence,
		insertedAt.UnixMilli(),
	)
	return err
}

// PurgeOlderThan removes entries inserted at or before cutoff.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_cache WHERE inserted_at <= ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TranslationCacheSize counts cached translations, stale ones included.
func (s *SQLiteStore) TranslationCacheSize(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translation_cache`).Scan(&n)
	return n, err
}
