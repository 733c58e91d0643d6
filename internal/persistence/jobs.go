package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MimeLyc/vidsub/internal/jobs"
)

var _ jobs.Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.ExtractionJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source, dedupe_key, media_file, output_file, options_json, result_json, status, error, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.ExtractionJob, 0)
	for rows.Next() {
		var item jobs.ExtractionJob
		var status, optionsJSON, resultJSON string
		if err := rows.Scan(
			&item.ID,
			&item.Source,
			&item.DedupeKey,
			&item.Payload.MediaFile,
			&item.Payload.OutputFile,
			&optionsJSON,
			&resultJSON,
			&status,
			&item.Error,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if optionsJSON != "" {
			if err := json.Unmarshal([]byte(optionsJSON), &item.Payload.Options); err != nil {
				return nil, fmt.Errorf("decode options of job %s: %w", item.ID, err)
			}
		}
		if resultJSON != "" {
			item.Result = &jobs.Result{}
			if err := json.Unmarshal([]byte(resultJSON), item.Result); err != nil {
				return nil, fmt.Errorf("decode result of job %s: %w", item.ID, err)
			}
		}
		item.Status = jobs.Status(status)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.ExtractionJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	optionsJSON, err := json.Marshal(job.Payload.Options)
	if err != nil {
		return err
	}
	resultJSON := ""
	if job.Result != nil {
		raw, err := json.Marshal(job.Result)
		if err != nil {
			return err
		}
		resultJSON = string(raw)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, source, dedupe_key, media_file, output_file, options_json, result_json, status, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source,
			dedupe_key=excluded.dedupe_key,
			media_file=excluded.media_file,
			output_file=excluded.output_file,
			options_json=excluded.options_json,
			result_json=excluded.result_json,
			status=excluded.status,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		job.ID,
		job.Source,
		job.DedupeKey,
		job.Payload.MediaFile,
		job.Payload.OutputFile,
		string(optionsJSON),
		resultJSON,
		string(job.Status),
		job.Error,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	return err
}
