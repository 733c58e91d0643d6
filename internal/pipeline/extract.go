package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/jobs"
	"github.com/MimeLyc/vidsub/internal/media"
	"github.com/MimeLyc/vidsub/pkg/file"
	"github.com/MimeLyc/vidsub/pkg/log"
)

// ExtractionRequest describes one media file to extract audio from.
type ExtractionRequest struct {
	MediaFile  string        `json:"media_file"`
	OutputFile string        `json:"output_file,omitempty"`
	Options    media.Options `json:"options"`
}

// EnqueueRequest validates req and turns it into a queue request deduplicated
// on the media path and the target format.
func (r ExtractionRequest) EnqueueRequest(source string) (jobs.EnqueueRequest, error) {
	mediaFile := strings.TrimSpace(r.MediaFile)
	if mediaFile == "" {
		return jobs.EnqueueRequest{}, apperr.New(apperr.ErrValidation, "media_file is required")
	}
	abs, err := filepath.Abs(mediaFile)
	if err != nil {
		return jobs.EnqueueRequest{}, apperr.Wrap(err, apperr.ErrValidation, "invalid media_file")
	}
	if r.Options.Format != "" && !media.SupportedFormat(r.Options.Format) {
		return jobs.EnqueueRequest{}, apperr.Newf(apperr.ErrValidation, "unsupported audio format %q", r.Options.Format)
	}
	output := strings.TrimSpace(r.OutputFile)
	if output != "" {
		if output, err = filepath.Abs(output); err != nil {
			return jobs.EnqueueRequest{}, apperr.Wrap(err, apperr.ErrValidation, "invalid output_file")
		}
	}
	return jobs.EnqueueRequest{
		Source:    source,
		DedupeKey: fmt.Sprintf("extract:%s:%s", abs, strings.ToLower(r.Options.Format)),
		Payload: jobs.Payload{
			MediaFile:  abs,
			OutputFile: output,
			Options:    r.Options,
		},
	}, nil
}

// NewExtractionExecutor runs queued jobs through extractor: the media file is
// read, its audio extracted with the job options merged over defaults, and
// the artifact written next to the media unless an output path is set.
func NewExtractionExecutor(extractor media.Extractor, defaults media.Options) jobs.Executor {
	return func(ctx context.Context, job *jobs.ExtractionJob) (*jobs.Result, error) {
		payload := job.Payload
		data, err := os.ReadFile(payload.MediaFile)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, apperr.Wrap(err, apperr.ErrNotFound, "media file not found").WithContext("path", payload.MediaFile)
			}
			return nil, apperr.Wrap(err, apperr.ErrExtraction, "read media file").WithContext("path", payload.MediaFile)
		}

		opts := payload.Options.WithDefaults(defaults)
		asset := media.MediaAsset{
			ID:        job.ID,
			Container: file.Ext(payload.MediaFile),
			Size:      int64(len(data)),
			Data:      data,
		}
		log.Info("Extracting audio from %s (%s) as %s", payload.MediaFile, humanize.Bytes(uint64(asset.Size)), opts.Format)

		artifact, err := extractor.ExtractAudio(ctx, asset, opts)
		if err != nil {
			return nil, err
		}

		output := payload.OutputFile
		if output == "" {
			output = file.ReplaceExt(payload.MediaFile, artifact.Format)
			if output == payload.MediaFile {
				output = file.ReplaceExt(payload.MediaFile, "audio."+artifact.Format)
			}
		}
		if err := writeAtomic(output, artifact.Data); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrExtraction, "write audio artifact").WithContext("path", output)
		}

		log.Info("Wrote %s (%s, %.1fs)", output, humanize.Bytes(uint64(len(artifact.Data))), artifact.Duration)
		return &jobs.Result{
			Format:     artifact.Format,
			SampleRate: artifact.SampleRate,
			Channels:   artifact.Channels,
			Duration:   artifact.Duration,
			Size:       int64(len(artifact.Data)),
			OutputFile: output,
		}, nil
	}
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
