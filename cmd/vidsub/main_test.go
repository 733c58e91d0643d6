package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/config"
	"github.com/MimeLyc/vidsub/internal/pipeline"
	"github.com/MimeLyc/vidsub/internal/transcript"
)

type fakeScheduler struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeScheduler) Start() {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
}

func (f *fakeScheduler) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	listenErr    error
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func TestRunWithComponents_StartsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := &fakeScheduler{}
	httpSrv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, "127.0.0.1:0", sched, httpSrv)
	}()

	select {
	case <-httpSrv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server was not started")
	}

	cancel()
	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not return")
	}

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.True(t, sched.started)
	assert.True(t, sched.stopped)
}

func TestRunWithComponents_ListenFailure(t *testing.T) {
	sched := &fakeScheduler{}
	httpSrv := newFakeHTTP()
	httpSrv.listenErr = errors.New("address in use")

	err := runWithComponents(context.Background(), ":1", sched, httpSrv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.True(t, sched.stopped)
}

// runCLI executes one command line against dataDir with a clean environment.
func runCLI(t *testing.T, dataDir string, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(dataDir, "missing.env"), "--data-dir", dataDir, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"TRANSLATE_ENDPOINTS", "TRANSLATE_CACHE", "DISPLAY_LANGUAGE", "SETTINGS_FILE", "FFMPEG_PATH", "SEGMENT_MIN_CONFIDENCE"} {
		t.Setenv(key, "")
	}
}

func sampleRecordJSON(t *testing.T, videoID string) string {
	t.Helper()
	record := transcript.Record{
		VideoID:  videoID,
		Language: "en",
		AssemblyData: transcript.AssemblyData{Words: []transcript.Word{
			{Text: "Hello", Start: 0, End: 400, Confidence: 0.9},
			{Text: "there.", Start: 400, End: 1000, Confidence: 0.8},
			{Text: "Bye", Start: 1500, End: 1800, Confidence: 0.3},
			{Text: "now.", Start: 1800, End: 2000, Confidence: 0.95},
		}},
		Metadata: transcript.Metadata{AverageConfidence: 0.74},
	}
	data, err := json.Marshal(record)
	require.NoError(t, err)
	return string(data)
}

func newTranslateEndpoint(t *testing.T) string {
	t.Helper()
	return newCountingTranslateEndpoint(t, new(atomic.Int32))
}

// newCountingTranslateEndpoint answers with "[target] text" and counts translate calls.
func newCountingTranslateEndpoint(t *testing.T, calls *atomic.Int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/languages":
			_, _ = w.Write([]byte(`[]`))
		case "/translate":
			calls.Add(1)
			var req struct {
				Q      string `json:"q"`
				Target string `json:"target"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"translatedText": "[" + req.Target + "] " + req.Q})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/translate"
}

func TestCLI_ImportAndCues(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	out, err := runCLI(t, dir, sampleRecordJSON(t, "vid-1"), "import", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "for video vid-1 (4 words, language en)")

	_, err = runCLI(t, dir, sampleRecordJSON(t, "vid-1"), "import", "-")
	require.Error(t, err)
	assert.True(t, apperr.IsDuplicate(err))

	out, err = runCLI(t, dir, "", "cues", "vid-1", "--format", "srt")
	require.NoError(t, err)
	assert.Contains(t, out, "00:00:00,000 --> 00:00:01,000")
	assert.Contains(t, out, "Hello there.")
	assert.Contains(t, out, "Bye now.")

	out, err = runCLI(t, dir, "", "cues", "vid-1", "--format", "table", "--min-confidence", "0.5")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello there.")
	assert.NotContains(t, out, "Bye")

	target := filepath.Join(dir, "subs", "vid-1.vtt")
	out, err = runCLI(t, dir, "", "cues", "vid-1", "--format", "vtt", "--output", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 cues")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "WEBVTT"))

	_, err = runCLI(t, dir, "", "cues", "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestCLI_CuesTranslated(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRANSLATE_ENDPOINTS", newTranslateEndpoint(t))
	dir := t.TempDir()

	_, err := runCLI(t, dir, sampleRecordJSON(t, "vid-1"), "import", "-")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "", "cues", "vid-1", "--lang", "fr", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "[fr] Hello there.")

	out, err = runCLI(t, dir, "", "cues", "vid-1", "--lang", "en-GB", "--format", "json")
	require.NoError(t, err)
	assert.NotContains(t, out, "translatedText")
}

func TestCLI_CuesTranslationNotConfigured(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := runCLI(t, dir, sampleRecordJSON(t, "vid-1"), "import", "-")
	require.NoError(t, err)

	_, err = runCLI(t, dir, "", "cues", "vid-1", "--lang", "fr")
	require.Error(t, err)
	assert.True(t, apperr.IsErrorType(err, apperr.ErrConfig))
}

func TestCLI_Translate(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := runCLI(t, dir, "", "translate", "--to", "de", "hello")
	require.Error(t, err)
	assert.True(t, apperr.IsErrorType(err, apperr.ErrConfig))

	t.Setenv("TRANSLATE_ENDPOINTS", newTranslateEndpoint(t))
	out, err := runCLI(t, dir, "", "translate", "--to", "de", "good", "morning")
	require.NoError(t, err)
	assert.Equal(t, "[de] good morning\n", out)

	out, err = runCLI(t, dir, "", "translate", "--health")
	require.NoError(t, err)
	assert.Contains(t, out, "up")
}

func TestCLI_StatsAndPurge(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRANSLATE_CACHE", "sqlite")
	dir := t.TempDir()

	_, err := runCLI(t, dir, sampleRecordJSON(t, "vid-1"), "import", "-")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "", "stats", "--json")
	require.NoError(t, err)
	var storage struct {
		Transcriptions transcript.StorageStats `json:"transcriptions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &storage))
	assert.Equal(t, 1, storage.Transcriptions.TotalRecords)
	assert.Positive(t, storage.Transcriptions.TotalSize)

	out, err = runCLI(t, dir, "", "stats", "vid-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Segments")

	out, err = runCLI(t, dir, "", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 0 stale translations")

	out, err = runCLI(t, dir, "", "purge", "--video", "vid-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted transcription of vid-1")

	_, err = runCLI(t, dir, "", "purge", "--video", "vid-1")
	assert.True(t, apperr.IsNotFound(err))

	_, err = runCLI(t, dir, "", "stats", "vid-1")
	assert.True(t, apperr.IsNotFound(err))
}

func TestCLI_ExtractWithoutFFmpeg(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("FFMPEG_PATH", filepath.Join(dir, "no-such-ffmpeg"))

	media := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(media, []byte("not really a video"), 0o644))

	_, err := runCLI(t, dir, "", "extract", media)
	require.Error(t, err)
	assert.True(t, apperr.IsErrorType(err, apperr.ErrInitialization))

	_, err = runCLI(t, dir, "", "extract", filepath.Join(dir, "missing.mp4"))
	assert.True(t, apperr.IsNotFound(err))

	_, err = runCLI(t, dir, "", "extract", dir)
	assert.True(t, apperr.IsErrorType(err, apperr.ErrInitialization))

	_, err = runCLI(t, dir, "", "extract", dir, "--output", filepath.Join(dir, "x.wav"))
	assert.True(t, apperr.IsErrorType(err, apperr.ErrValidation))

	_, err = runCLI(t, dir, "", "extract", t.TempDir())
	assert.True(t, apperr.IsNotFound(err))
}

func TestCLI_InvalidConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRANSLATE_CACHE", "redis")

	_, err := runCLI(t, t.TempDir(), "", "stats")
	require.Error(t, err)
	assert.True(t, apperr.IsErrorType(err, apperr.ErrConfig))
}

func TestSettingsApplier_KeepsTranslationCache(t *testing.T) {
	clearEnv(t)
	var calls atomic.Int32
	t.Setenv("TRANSLATE_ENDPOINTS", newCountingTranslateEndpoint(t, &calls))

	dir := t.TempDir()
	ctx := newCommandContext(&globalFlags{envFile: filepath.Join(dir, "missing.env"), dataDir: dir, logLevel: "error"})
	_, err := ctx.ensureConfig()
	require.NoError(t, err)

	store, err := ctx.openStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tcache := ctx.translationCache(store)
	svc, err := ctx.newService(store, tcache)
	require.NoError(t, err)
	before := svc.Translator()
	require.NotNil(t, before)

	res, err := before.Translate(context.Background(), "hello", "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "[fr] hello", res.TranslatedText)
	assert.Equal(t, int32(1), calls.Load())

	maintenance, err := pipeline.NewMaintenance("0 */6 * * *")
	require.NoError(t, err)
	apply := ctx.settingsApplier(svc, tcache, maintenance)
	require.NoError(t, apply(config.RuntimeSettings{MaintenanceCron: "@daily"}))

	after := svc.Translator()
	require.NotNil(t, after)
	assert.NotSame(t, before, after)

	res, err = after.Translate(context.Background(), "hello", "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "[fr] hello", res.TranslatedText)
	assert.Equal(t, int32(1), calls.Load(), "rebuilt gateway serves the cached translation")

	err = apply(config.RuntimeSettings{MaintenanceCron: "not a cron"})
	assert.True(t, apperr.IsErrorType(err, apperr.ErrConfig))
}
