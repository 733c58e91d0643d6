// Package pipeline ties the transcription cache, segmentation and translation
// together for the API and the CLI.
package pipeline

import (
	"context"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/segment"
	"github.com/MimeLyc/vidsub/internal/subtitle"
	"github.com/MimeLyc/vidsub/internal/transcript"
	"github.com/MimeLyc/vidsub/internal/translator"
	"github.com/MimeLyc/vidsub/pkg/log"
)

const DefaultTranslateConcurrency = 4

// DisplayCue is a cue as shown to a viewer. TranslatedText is empty when the
// cue is shown in its own language.
type DisplayCue struct {
	subtitle.Cue
	TranslatedText string `json:"translatedText,omitempty"`
	DisplayLang    string `json:"displayLanguage"`
}

// DisplayText is the text a renderer should show.
func (c DisplayCue) DisplayText() string {
	if c.TranslatedText != "" {
		return c.TranslatedText
	}
	return c.Text
}

type Service struct {
	cache       *transcript.Cache
	concurrency int

	mu         sync.RWMutex
	translator translator.Translator
}

type ServiceOption func(*Service)

// WithTranslator enables display-language translation.
func WithTranslator(t translator.Translator) ServiceOption {
	return func(s *Service) {
		s.translator = t
	}
}

// WithTranslateConcurrency bounds the cue translations in flight per request.
func WithTranslateConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewService(cache *transcript.Cache, opts ...ServiceOption) *Service {
	s := &Service{
		cache:       cache,
		concurrency: DefaultTranslateConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Cache() *transcript.Cache {
	return s.cache
}

// Translator returns the active translator, nil when translation is off.
func (s *Service) Translator() translator.Translator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.translator
}

// SetTranslator swaps the translator used by later requests.
func (s *Service) SetTranslator(t translator.Translator) {
	s.mu.Lock()
	s.translator = t
	s.mu.Unlock()
}

// Record loads the raw transcription of videoID or fails with ErrNotFound.
func (s *Service) Record(ctx context.Context, videoID string) (transcript.Record, error) {
	record, ok, err := s.cache.GetRawData(ctx, videoID)
	if err != nil {
		return transcript.Record{}, err
	}
	if !ok {
		return transcript.Record{}, apperr.New(apperr.ErrNotFound, "no transcription for video").WithContext("videoId", videoID)
	}
	return record, nil
}

// Cues segments the stored transcription of videoID with cfg. When
// displayLang names a language other than the record's, every cue is
// translated; the first translation failure is returned and no partial
// result is produced. Blank cues are passed through untranslated.
func (s *Service) Cues(ctx context.Context, videoID string, cfg segment.Config, displayLang string) ([]DisplayCue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrValidation, "invalid segmentation config")
	}
	record, err := s.Record(ctx, videoID)
	if err != nil {
		return nil, err
	}

	cues := segment.GenerateFromRawData(record, cfg)
	out := make([]DisplayCue, len(cues))
	for i, c := range cues {
		out[i] = DisplayCue{Cue: c, DisplayLang: record.Language}
	}

	needed, err := needsTranslation(record.Language, displayLang)
	if err != nil {
		return nil, err
	}
	if !needed || len(out) == 0 {
		return out, nil
	}
	tr := s.Translator()
	if tr == nil {
		return nil, apperr.New(apperr.ErrConfig, "translation requested but no endpoints are configured")
	}

	source := record.Language
	if source == "" || source == "und" {
		source = "auto"
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for i := range out {
		if strings.TrimSpace(out[i].Text) == "" {
			out[i].DisplayLang = displayLang
			continue
		}
		eg.Go(func() error {
			res, err := tr.Translate(egCtx, out[i].Text, source, displayLang)
			if err != nil {
				return err
			}
			out[i].TranslatedText = res.TranslatedText
			out[i].DisplayLang = displayLang
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		log.Error("Failed to translate cues of %s to %s: %v", videoID, displayLang, err)
		return nil, err
	}
	log.Debug("Translated %d cues of %s to %s", len(out), videoID, displayLang)
	return out, nil
}

// needsTranslation compares base languages so "en" and "en-GB" are the same.
func needsTranslation(recordLang, displayLang string) (bool, error) {
	displayLang = strings.TrimSpace(displayLang)
	if displayLang == "" {
		return false, nil
	}
	want, err := language.Parse(displayLang)
	if err != nil {
		return false, apperr.Wrap(err, apperr.ErrValidation, "invalid display language").WithContext("lang", displayLang)
	}
	have, err := language.Parse(recordLang)
	if err != nil {
		return true, nil
	}
	wantBase, _ := want.Base()
	haveBase, _ := have.Base()
	return wantBase != haveBase, nil
}

// Render writes cues in format, using the translated text where present.
func Render(w io.Writer, format subtitle.Format, cues []DisplayCue) error {
	writer, err := subtitle.NewWriter(format)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrValidation, "unsupported subtitle format")
	}
	plain := make([]subtitle.Cue, len(cues))
	for i, c := range cues {
		plain[i] = c.Cue
		plain[i].Text = c.DisplayText()
		plain[i].Language = c.DisplayLang
	}
	return writer.Write(w, plain)
}

// Stats summarizes the default segmentation of videoID.
func (s *Service) Stats(ctx context.Context, videoID string) (segment.GenerationStats, error) {
	record, err := s.Record(ctx, videoID)
	if err != nil {
		return segment.GenerationStats{}, err
	}
	return segment.Stats(record), nil
}
