package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/transcript"
)

var _ transcript.Store = (*SQLiteStore)(nil)

// InsertRawTranscription writes record unless its id or video id is taken.
// The primary key and the unique video_id index make the check and the write
// one statement.
func (s *SQLiteStore) InsertRawTranscription(ctx context.Context, record transcript.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal raw transcription: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO raw_transcriptions (id, video_id, language, payload_json, avg_confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		record.ID,
		record.VideoID,
		record.Language,
		string(payload),
		record.Metadata.AverageConfidence,
		record.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.New(apperr.ErrDuplicateRecord, "raw transcription already exists").
			WithContext("id", record.ID).
			WithContext("video_id", record.VideoID)
	}
	return nil
}

func (s *SQLiteStore) GetRawTranscriptionByVideo(ctx context.Context, videoID string) (transcript.Record, bool, error) {
	return s.getRawTranscription(ctx, `SELECT payload_json FROM raw_transcriptions WHERE video_id = ?`, videoID)
}

func (s *SQLiteStore) GetRawTranscriptionByID(ctx context.Context, id string) (transcript.Record, bool, error) {
	return s.getRawTranscription(ctx, `SELECT payload_json FROM raw_transcriptions WHERE id = ?`, id)
}

func (s *SQLiteStore) getRawTranscription(ctx context.Context, query string, arg string) (transcript.Record, bool, error) {
	var payloadJSON string
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&payloadJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transcript.Record{}, false, nil
		}
		return transcript.Record{}, false, err
	}
	var record transcript.Record
	if err := json.Unmarshal([]byte(payloadJSON), &record); err != nil {
		return transcript.Record{}, false, fmt.Errorf("decode raw transcription: %w", err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListRawTranscriptions(ctx context.Context) ([]transcript.Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT payload_json
		 FROM raw_transcriptions
		 ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]transcript.Record, 0)
	for rows.Next() {
		var payloadJSON string
		if err := rows.Scan(&payloadJSON); err != nil {
			return nil, err
		}
		var record transcript.Record
		if err := json.Unmarshal([]byte(payloadJSON), &record); err != nil {
			return nil, fmt.Errorf("decode raw transcription: %w", err)
		}
		ret = append(ret, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// RawTranscriptionStats measures size as the stored JSON byte length.
func (s *SQLiteStore) RawTranscriptionStats(ctx context.Context) (transcript.StorageStats, error) {
	var stats transcript.StorageStats
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(LENGTH(CAST(payload_json AS BLOB))), 0),
			COALESCE(AVG(avg_confidence), 0)
		 FROM raw_transcriptions`,
	).Scan(&stats.TotalRecords, &stats.TotalSize, &stats.AverageConfidence)
	if err != nil {
		return transcript.StorageStats{}, err
	}
	return stats, nil
}

func (s *SQLiteStore) DeleteRawTranscription(ctx context.Context, videoID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM raw_transcriptions WHERE video_id = ?`, videoID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) DeleteAllRawTranscriptions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM raw_transcriptions`)
	return err
}
