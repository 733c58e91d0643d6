package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/vidsub/internal/config"
	"github.com/MimeLyc/vidsub/internal/jobs"
	"github.com/MimeLyc/vidsub/internal/persistence"
	"github.com/MimeLyc/vidsub/internal/pipeline"
	"github.com/MimeLyc/vidsub/internal/transcript"
	"github.com/MimeLyc/vidsub/internal/translator"
)

type fakeSettingsStore struct {
	current   config.RuntimeSettings
	updateErr error
}

func (f *fakeSettingsStore) GetRuntimeSettings() (config.RuntimeSettings, error) {
	return f.current, nil
}

func (f *fakeSettingsStore) UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error) {
	if f.updateErr != nil {
		return config.RuntimeSettings{}, f.updateErr
	}
	f.current = next
	return f.current, nil
}

// newTranslateEndpoint answers every translation with "[target] text".
func newTranslateEndpoint(t *testing.T, healthy bool) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		switch r.URL.Path {
		case "/languages":
			_, _ = w.Write([]byte(`[]`))
		case "/translate":
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

func newGateway(t *testing.T, endpoint string) *translator.Gateway {
	t.Helper()
	gw, err := translator.NewGateway(translator.Config{Endpoints: []string{endpoint}},
		translator.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)
	return gw
}

type testEnv struct {
	svc   *pipeline.Service
	queue *jobs.Queue
	srv   *Server
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "vidsub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := pipeline.NewService(transcript.NewCache(store))
	queue := jobs.NewQueue(1, store)
	return &testEnv{svc: svc, queue: queue, srv: NewServer(svc, queue, opts...)}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func sampleRecord(videoID string) transcript.Record {
	return transcript.Record{
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
}

func TestServer_TranscriptLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/transcripts", sampleRecord("vid-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created transcriptSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "vid-1", created.VideoID)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 4, created.Words)

	rec = env.do(t, http.MethodPost, "/api/transcripts", sampleRecord("vid-1"))
	require.Equal(t, http.StatusConflict, rec.Code)
	var errBody map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, "DuplicateRecord", errBody["type"])

	rec = env.do(t, http.MethodGet, "/api/transcripts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []transcriptSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = env.do(t, http.MethodGet, "/api/transcripts/vid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record transcript.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, created.ID, record.ID)
	assert.Len(t, record.Words(), 4)

	rec = env.do(t, http.MethodDelete, "/api/transcripts/vid-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/transcripts/vid-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/transcripts/vid-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_TranscriptValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/transcripts", transcript.Record{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/transcripts", strings.NewReader("{"))
	out := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)

	rec = env.do(t, http.MethodPut, "/api/transcripts", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_Cues(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/transcripts", sampleRecord("vid")).Code)

	rec := env.do(t, http.MethodGet, "/api/transcripts/vid/cues", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cues []pipeline.DisplayCue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cues))
	require.Len(t, cues, 2)
	assert.Equal(t, "vid_segment_0", cues[0].ID)
	assert.Equal(t, "Bye now.", cues[1].Text)

	rec = env.do(t, http.MethodGet, "/api/transcripts/vid/cues?min_confidence=0.5&punctuation=!", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cues))
	require.Len(t, cues, 1)
	assert.Equal(t, "Hello there. now.", cues[0].Text)

	rec = env.do(t, http.MethodGet, "/api/transcripts/vid/cues?format=srt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-subrip; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "1\n00:00:00,000 --> 00:00:01,000\nHello there.\n"))

	rec = env.do(t, http.MethodGet, "/api/transcripts/vid/cues?format=vtt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "WEBVTT\n\nvid_segment_0\n"))

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/transcripts/vid/cues?format=ass", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/transcripts/vid/cues?min_confidence=high", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/transcripts/vid/cues?min_confidence=3", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/transcripts/other/cues", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, env.do(t, http.MethodGet, "/api/transcripts/vid/cues?lang=fr", nil).Code,
		"no translator configured")
}

func TestServer_CuesTranslated(t *testing.T) {
	env := newTestEnv(t)
	env.svc.SetTranslator(newGateway(t, newTranslateEndpoint(t, true)))
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/transcripts", sampleRecord("vid")).Code)

	rec := env.do(t, http.MethodGet, "/api/transcripts/vid/cues?lang=fr", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cues []pipeline.DisplayCue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cues))
	require.Len(t, cues, 2)
	assert.Equal(t, "[fr] Hello there.", cues[0].TranslatedText)
	assert.Equal(t, "fr", cues[0].DisplayLang)

	rec = env.do(t, http.MethodGet, "/api/transcripts/vid/cues?lang=fr&format=srt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "[fr] Bye now.")
}

func TestServer_CuesTranslationUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.svc.SetTranslator(newGateway(t, newTranslateEndpoint(t, false)))
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/transcripts", sampleRecord("vid")).Code)

	rec := env.do(t, http.MethodGet, "/api/transcripts/vid/cues?lang=de", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "AllEndpointsUnavailable", body["type"])
}

func TestServer_CueDefaultsFromSettings(t *testing.T) {
	settings := &fakeSettingsStore{current: config.RuntimeSettings{
		MaintenanceCron:      "0 */6 * * *",
		SegmentMinConfidence: 0.5,
		DisplayLanguage:      "es",
	}}
	env := newTestEnv(t, WithRuntimeSettingsStore(settings))
	env.svc.SetTranslator(newGateway(t, newTranslateEndpoint(t, true)))
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/transcripts", sampleRecord("vid")).Code)

	rec := env.do(t, http.MethodGet, "/api/transcripts/vid/cues", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cues []pipeline.DisplayCue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cues))
	require.Len(t, cues, 2)
	assert.Equal(t, "now.", cues[1].Text)
	assert.Equal(t, "[es] now.", cues[1].TranslatedText)

	rec = env.do(t, http.MethodGet, "/api/transcripts/vid/cues?lang=", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cues))
	assert.Empty(t, cues[0].TranslatedText, "an empty lang shows the original text")
}

func TestServer_Stats(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/transcripts", sampleRecord("vid")).Code)

	rec := env.do(t, http.MethodGet, "/api/transcripts/vid/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		TotalWords    int `json:"totalWords"`
		TotalSegments int `json:"totalSegments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 4, stats.TotalWords)
	assert.Equal(t, 2, stats.TotalSegments)

	rec = env.do(t, http.MethodGet, "/api/storage/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var storage storageStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &storage))
	assert.Equal(t, 1, storage.TotalRecords)
	assert.Positive(t, storage.TotalSize)
	assert.InDelta(t, 0.74, storage.AverageConfidence, 1e-9)
	assert.NotEmpty(t, storage.TotalSizeHuman)
}

func TestServer_Translate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/translate", translateRequest{Text: "hi", TargetLang: "fr"})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/translate/health", nil).Code)

	env.svc.SetTranslator(newGateway(t, newTranslateEndpoint(t, true)))
	rec = env.do(t, http.MethodPost, "/api/translate", translateRequest{Text: "hi", SourceLang: "en", TargetLang: "fr"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res translator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "[fr] hi", res.TranslatedText)

	rec = env.do(t, http.MethodPost, "/api/translate", translateRequest{Text: "", TargetLang: "fr"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/translate/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health translateHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.True(t, health.Available)
	require.Len(t, health.Endpoints, 1)

	env.svc.SetTranslator(newGateway(t, newTranslateEndpoint(t, false)))
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/translate/health", nil).Code)
}

func TestServer_Extractions(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{"media_file": "/media/a.mkv", "options": map[string]any{"format": "mp3"}}
	rec := env.do(t, http.MethodPost, "/api/extractions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ret struct {
		Created bool                `json:"created"`
		Job     *jobs.ExtractionJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret))
	require.True(t, ret.Created)
	assert.Equal(t, "api", ret.Job.Source)
	assert.Equal(t, "/media/a.mkv", ret.Job.Payload.MediaFile)
	assert.Equal(t, "mp3", ret.Job.Payload.Options.Format)
	jobID := ret.Job.ID

	rec = env.do(t, http.MethodPost, "/api/extractions", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret))
	assert.False(t, ret.Created)
	assert.Equal(t, jobID, ret.Job.ID)

	rec = env.do(t, http.MethodGet, "/api/extractions/"+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/extractions/"+jobID, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var cancelled jobs.ExtractionJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, jobs.StatusCancelled, cancelled.Status)

	rec = env.do(t, http.MethodDelete, "/api/extractions/"+jobID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/extractions/"+jobID, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/extractions/"+jobID, nil).Code)

	rec = env.do(t, http.MethodPost, "/api/extractions", map[string]any{"source": "manual"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/extractions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*jobs.ExtractionJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list)
}

func TestServer_ExtractionStream(t *testing.T) {
	env := newTestEnv(t, WithStreamInterval(10*time.Millisecond))
	env.queue.Enqueue(jobs.EnqueueRequest{Source: "test", DedupeKey: "k", Payload: jobs.Payload{MediaFile: "/media/a.mkv"}})

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/extractions/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	event, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: jobs\n", event)
	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(data, "data: "))

	var snapshot []*jobs.ExtractionJob
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(data), "data: ")), &snapshot))
	require.Len(t, snapshot, 1)
	assert.Equal(t, "/media/a.mkv", snapshot[0].Payload.MediaFile)
}

func TestServer_Settings(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotImplemented, env.do(t, http.MethodGet, "/api/settings", nil).Code)

	store := &fakeSettingsStore{current: config.RuntimeSettings{MaintenanceCron: "0 */6 * * *"}}
	var applied []config.RuntimeSettings
	env = newTestEnv(t,
		WithRuntimeSettingsStore(store),
		WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			applied = append(applied, next)
			return nil
		}),
	)

	rec := env.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	next := config.RuntimeSettings{
		TranslateEndpoints: []string{"https://lt.example/translate"},
		MaintenanceCron:    "*/30 * * * *",
		DisplayLanguage:    "ja",
	}
	rec = env.do(t, http.MethodPut, "/api/settings", next)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, next, store.current)
	assert.Equal(t, []config.RuntimeSettings{next}, applied)

	bad := next
	bad.MaintenanceCron = "whenever"
	rec = env.do(t, http.MethodPut, "/api/settings", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, applied, 1)

	store.updateErr = errors.New("disk full")
	rec = env.do(t, http.MethodPut, "/api/settings", next)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Maintenance(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotImplemented, env.do(t, http.MethodGet, "/api/maintenance", nil).Code)

	m, err := pipeline.NewMaintenance("0 */6 * * *", pipeline.PurgerFunc(func(context.Context) (int64, error) {
		return 7, nil
	}))
	require.NoError(t, err)
	env = newTestEnv(t, WithMaintenance(m))

	rec := env.do(t, http.MethodPost, "/api/maintenance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report pipeline.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, int64(7), report.Purged)

	rec = env.do(t, http.MethodGet, "/api/maintenance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status pipeline.MaintenanceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "0 */6 * * *", status.Trigger.Expression)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, int64(7), status.LastRun.Purged)
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t)
	env.svc.SetTranslator(newGateway(t, newTranslateEndpoint(t, true)))
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/translate", translateRequest{Text: "hi", TargetLang: "fr"}).Code)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vidsub_translation_cache_lookups_total")
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name     string
		closeDB  bool
		attachDB bool
		wantCode int
		want     string
	}{
		{name: "no store attached", wantCode: http.StatusOK, want: "ok"},
		{name: "store answers", attachDB: true, wantCode: http.StatusOK, want: "ok"},
		{name: "store closed", attachDB: true, closeDB: true, wantCode: http.StatusServiceUnavailable, want: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.attachDB {
				store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "health.db"))
				require.NoError(t, err)
				t.Cleanup(func() { _ = store.Close() })
				if tt.closeDB {
					require.NoError(t, store.Close())
				}
				opts = append(opts, WithDatabase(store))
			}
			env := newTestEnv(t, opts...)

			rec := env.do(t, http.MethodGet, "/api/health", nil)
			require.Equal(t, tt.wantCode, rec.Code)
			var got healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got.Status)

			rec = env.do(t, http.MethodPost, "/api/health", nil)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		})
	}
}
