package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/metrics"
	"github.com/MimeLyc/vidsub/pkg/file"
	"github.com/MimeLyc/vidsub/pkg/log"
)

// CommandRunner executes name with args and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

type engineState int

const (
	stateUninitialized engineState = iota
	stateReady
)

// Engine is the single shared ffmpeg-backed transcoder. It initializes lazily
// on first use and runs one transcode job at a time; concurrent callers queue
// on the engine, so throughput does not scale with callers. Put a jobs.Queue in
// front of it, or build one Engine per worker, for parallel work.
type Engine struct {
	ffmpegCmd  string
	ffprobeCmd string
	tempDir    string
	defaults   Options
	run        CommandRunner

	// slot serializes initialization and jobs; acquiring it honours ctx.
	slot *semaphore.Weighted

	mu         sync.Mutex
	state      engineState
	version    string
	cancelJob  context.CancelFunc
	generation uint64
}

type EngineOption func(*Engine)

func WithBinaries(ffmpegCmd, ffprobeCmd string) EngineOption {
	return func(e *Engine) {
		if strings.TrimSpace(ffmpegCmd) != "" {
			e.ffmpegCmd = ffmpegCmd
		}
		if strings.TrimSpace(ffprobeCmd) != "" {
			e.ffprobeCmd = ffprobeCmd
		}
	}
}

// WithCommandRunner replaces process execution, for tests.
func WithCommandRunner(run CommandRunner) EngineOption {
	return func(e *Engine) {
		e.run = run
	}
}

// WithTempDir sets the parent directory of per-job workspaces.
func WithTempDir(dir string) EngineOption {
	return func(e *Engine) {
		e.tempDir = dir
	}
}

func WithDefaultOptions(opts Options) EngineOption {
	return func(e *Engine) {
		e.defaults = opts.WithDefaults(DefaultOptions())
	}
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		ffmpegCmd:  "ffmpeg",
		ffprobeCmd: "ffprobe",
		defaults:   DefaultOptions(),
		run:        execRunner,
		slot:       semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ Extractor = (*Engine)(nil)

// Loaded reports whether the engine finished initialization.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateReady
}

// Version returns the first line of `ffmpeg -version` once loaded.
func (e *Engine) Version() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// ExtractAudio pulls the audio track out of asset and re-encodes it per opts.
func (e *Engine) ExtractAudio(ctx context.Context, asset MediaAsset, opts Options) (AudioArtifact, error) {
	if len(asset.Data) == 0 {
		return AudioArtifact{}, apperr.New(apperr.ErrValidation, "media asset is empty").
			WithContext("asset_id", asset.ID)
	}
	opts = opts.WithDefaults(e.defaults)
	return e.transcode(ctx, "extract", asset.Data, asset.Container, opts, extractArgs)
}

// ConvertAudioFormat re-encodes an audio blob into targetFormat.
func (e *Engine) ConvertAudioFormat(ctx context.Context, blob AudioBlob, targetFormat string, opts Options) (AudioArtifact, error) {
	if len(blob.Data) == 0 {
		return AudioArtifact{}, apperr.New(apperr.ErrValidation, "audio blob is empty")
	}
	opts.Format = targetFormat
	opts = opts.WithDefaults(e.defaults)
	return e.transcode(ctx, "convert", blob.Data, blob.Format, opts, convertArgs)
}

// Cleanup terminates the engine: any running job is cancelled and the next
// operation initializes again.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelJob != nil {
		e.cancelJob()
		e.cancelJob = nil
	}
	e.state = stateUninitialized
	e.version = ""
	e.generation++
	logger().Info("Transcoding engine terminated")
}

type argBuilder func(input, output string, opts Options) []string

func (e *Engine) transcode(
	ctx context.Context,
	operation string,
	input []byte,
	inputFormat string,
	opts Options,
	build argBuilder,
) (artifact AudioArtifact, err error) {
	if !SupportedFormat(opts.Format) {
		return AudioArtifact{}, apperr.Newf(apperr.ErrValidation, "unsupported audio format %q", opts.Format)
	}

	started := time.Now()
	defer func() {
		metrics.ObserveTranscode(operation, err == nil, time.Since(started))
	}()

	if err := e.slot.Acquire(ctx, 1); err != nil {
		return AudioArtifact{}, apperr.Wrap(err, apperr.ErrExtraction, "wait for transcoding engine")
	}
	defer e.slot.Release(1)

	if err := e.ensureLoaded(ctx); err != nil {
		return AudioArtifact{}, err
	}

	jobCtx, done := e.beginJob(ctx)
	defer done()

	ws, err := file.NewWorkspace(e.tempDir, "vidsub-"+operation+"-*")
	if err != nil {
		return AudioArtifact{}, apperr.Wrap(err, apperr.ErrExtraction, "prepare transcode workspace")
	}
	defer func() {
		if cleanupErr := ws.Cleanup(); cleanupErr != nil {
			logger().Warn("Failed to remove transcode workspace %s: %v", ws.Dir(), cleanupErr)
		}
	}()

	inputPath, err := ws.WriteFile("input"+extFor(inputFormat), input)
	if err != nil {
		return AudioArtifact{}, apperr.Wrap(err, apperr.ErrExtraction, "stage transcode input")
	}
	outputName := "output." + opts.Format
	outputPath, err := ws.Path(outputName)
	if err != nil {
		return AudioArtifact{}, apperr.Wrap(err, apperr.ErrExtraction, "stage transcode output")
	}

	args := build(inputPath, outputPath, opts)
	if _, err := e.run(jobCtx, e.ffmpegCmd, args...); err != nil {
		cause := err
		if jobCtx.Err() != nil {
			cause = jobCtx.Err()
		}
		logger().Error("Transcode %s to %s failed: %v", operation, opts.Format, err)
		return AudioArtifact{}, apperr.Wrap(cause, apperr.ErrExtraction, "transcode job failed").
			WithContext("operation", operation).
			WithContext("format", opts.Format)
	}

	data, err := ws.ReadFile(outputName)
	if err != nil {
		logger().Error("Transcode %s produced no readable output: %v", operation, err)
		return AudioArtifact{}, apperr.Wrap(err, apperr.ErrExtraction, "read transcode output")
	}

	return AudioArtifact{
		Data:       data,
		Format:     opts.Format,
		SampleRate: opts.SampleRate,
		Channels:   opts.Channels,
		Duration:   e.probeDuration(jobCtx, outputPath),
	}, nil
}

// ensureLoaded runs initialization once. A failed attempt leaves the engine
// uninitialized so the next call retries. The caller holds slot.
func (e *Engine) ensureLoaded(ctx context.Context) error {
	if e.Loaded() {
		return nil
	}

	out, err := e.run(ctx, e.ffmpegCmd, "-hide_banner", "-version")
	if err != nil {
		logger().Error("Failed to initialize transcoding engine %s: %v", e.ffmpegCmd, err)
		return apperr.Wrap(err, apperr.ErrInitialization, "transcoding engine failed to load").
			WithContext("ffmpeg", e.ffmpegCmd)
	}

	version := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	e.mu.Lock()
	e.state = stateReady
	e.version = version
	e.mu.Unlock()
	logger().Info("Transcoding engine loaded: %s", version)
	return nil
}

// beginJob derives a context that Cleanup can cancel.
func (e *Engine) beginJob(ctx context.Context) (context.Context, func()) {
	jobCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelJob = cancel
	gen := e.generation
	e.mu.Unlock()

	return jobCtx, func() {
		e.mu.Lock()
		if e.generation == gen {
			e.cancelJob = nil
		}
		e.mu.Unlock()
		cancel()
	}
}

var codecArgs = map[string][]string{
	FormatWAV:  {"-c:a", "pcm_s16le"},
	FormatMP3:  {"-c:a", "libmp3lame"},
	FormatFLAC: {"-c:a", "flac"},
	FormatOGG:  {"-c:a", "libvorbis"},
	FormatM4A:  {"-c:a", "aac"},
}

func encodeArgs(opts Options) []string {
	args := []string{
		"-ac", strconv.Itoa(opts.Channels),
		"-ar", strconv.Itoa(opts.SampleRate),
	}
	args = append(args, codecArgs[opts.Format]...)
	if IsLossy(opts.Format) && opts.Quality != nil {
		args = append(args, "-q:a", strconv.Itoa(*opts.Quality))
	}
	return args
}

func extractArgs(input, output string, opts Options) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-map", "0:a:0",
		"-vn",
		"-sn",
		"-dn",
	}
	args = append(args, encodeArgs(opts)...)
	return append(args, output)
}

func convertArgs(input, output string, opts Options) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
	}
	args = append(args, encodeArgs(opts)...)
	return append(args, output)
}

func extFor(format string) string {
	format = strings.Trim(strings.ToLower(strings.TrimSpace(format)), ".")
	if format == "" {
		return ".bin"
	}
	return "." + format
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmdPath, err := exec.LookPath(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, cmdPath, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func logger() *log.Logger { return log.GetLogger().Named("media") }
