package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MimeLyc/vidsub/internal/pipeline"
	"github.com/MimeLyc/vidsub/internal/segment"
	"github.com/MimeLyc/vidsub/internal/subtitle"
	"github.com/MimeLyc/vidsub/internal/transcript"
)

type transcriptSummary struct {
	ID                string    `json:"id"`
	VideoID           string    `json:"videoId"`
	Language          string    `json:"language"`
	Words             int       `json:"words"`
	AverageConfidence float64   `json:"averageConfidence"`
	CreatedAt         time.Time `json:"createdAt"`
}

func summarize(record transcript.Record) transcriptSummary {
	return transcriptSummary{
		ID:                record.ID,
		VideoID:           record.VideoID,
		Language:          record.Language,
		Words:             len(record.Words()),
		AverageConfidence: record.Metadata.AverageConfidence,
		CreatedAt:         record.CreatedAt,
	}
}

func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		records, err := s.svc.Cache().GetAllRawData(r.Context())
		if err != nil {
			writeAppError(w, err)
			return
		}
		ret := make([]transcriptSummary, 0, len(records))
		for _, record := range records {
			ret = append(ret, summarize(record))
		}
		writeJSON(w, http.StatusOK, ret)
	case http.MethodPost:
		var record transcript.Record
		if !decodeJSON(w, r, &record) {
			return
		}
		saved, err := s.svc.Cache().SaveRawData(r.Context(), record)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, summarize(saved))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTranscript serves /api/transcripts/{videoId}[/cues|/stats].
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/transcripts/"), "/")
	videoID, action := path, ""
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		switch path[idx+1:] {
		case "cues", "stats":
			videoID, action = path[:idx], path[idx+1:]
		}
	}
	if decoded, err := url.PathUnescape(videoID); err == nil {
		videoID = decoded
	}
	if videoID == "" {
		writeError(w, http.StatusBadRequest, "missing video id")
		return
	}

	switch action {
	case "cues":
		s.handleCues(w, r, videoID)
	case "stats":
		s.handleTranscriptStats(w, r, videoID)
	default:
		s.handleTranscriptRecord(w, r, videoID)
	}
}

func (s *Server) handleTranscriptRecord(w http.ResponseWriter, r *http.Request, videoID string) {
	switch r.Method {
	case http.MethodGet:
		record, err := s.svc.Record(r.Context(), videoID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case http.MethodDelete:
		deleted, err := s.svc.Cache().DeleteRawData(r.Context(), videoID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !deleted {
			writeError(w, http.StatusNotFound, "transcription not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCues(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cfg, displayLang := s.cueDefaults()
	query := r.URL.Query()
	if raw := query.Get("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_confidence must be a number")
			return
		}
		cfg.MinConfidence = v
	}
	if query.Has("punctuation") {
		cfg.SentenceEndPunctuation = splitMarks(query.Get("punctuation"))
	}
	if query.Has("lang") {
		displayLang = query.Get("lang")
	}

	format := strings.ToLower(query.Get("format"))
	var subFormat subtitle.Format
	if format != "" && format != "json" {
		f, err := subtitle.ParseFormat(format)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		subFormat = f
	}

	cues, err := s.svc.Cues(r.Context(), videoID, cfg, displayLang)
	if err != nil {
		writeAppError(w, err)
		return
	}

	if subFormat == "" {
		writeJSON(w, http.StatusOK, cues)
		return
	}
	w.Header().Set("Content-Type", subFormat.ContentType())
	w.WriteHeader(http.StatusOK)
	_ = pipeline.Render(w, subFormat, cues)
}

func (s *Server) handleTranscriptStats(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.svc.Stats(r.Context(), videoID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type storageStatsResponse struct {
	transcript.StorageStats
	TotalSizeHuman string `json:"totalSizeHuman"`
}

func (s *Server) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.svc.Cache().GetStorageStats(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storageStatsResponse{
		StorageStats:   stats,
		TotalSizeHuman: humanize.Bytes(uint64(stats.TotalSize)),
	})
}

// cueDefaults overlays the live runtime settings on the configured defaults.
func (s *Server) cueDefaults() (segment.Config, string) {
	cfg := s.segmentDefaults
	cfg.SentenceEndPunctuation = append([]string(nil), cfg.SentenceEndPunctuation...)
	displayLang := s.displayLang
	if s.settings == nil {
		return cfg, displayLang
	}
	settings, err := s.settings.GetRuntimeSettings()
	if err != nil {
		return cfg, displayLang
	}
	cfg.MinConfidence = settings.SegmentMinConfidence
	if len(settings.SegmentPunctuation) > 0 {
		cfg.SentenceEndPunctuation = append([]string(nil), settings.SegmentPunctuation...)
	}
	if settings.DisplayLanguage != "" {
		displayLang = settings.DisplayLanguage
	}
	return cfg, displayLang
}

func splitMarks(value string) []string {
	marks := make([]string, 0, len(value))
	for _, r := range value {
		if r == ' ' || r == ',' {
			continue
		}
		marks = append(marks, string(r))
	}
	return marks
}
