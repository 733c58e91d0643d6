package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/vidsub/internal/translator"
)

const DefaultRuntimeSettingsFile = "settings.json"

// RuntimeSettings is the subset of the configuration that can be edited
// while the server runs.
type RuntimeSettings struct {
	TranslateEndpoints   []string `json:"translate_endpoints"`
	MaintenanceCron      string   `json:"maintenance_cron"`
	SegmentMinConfidence float64  `json:"segment_min_confidence"`
	SegmentPunctuation   []string `json:"segment_punctuation"`
	DisplayLanguage      string   `json:"display_language"`
}

// RuntimeSettingsFilePath is SETTINGS_FILE, or settings.json inside DATA_DIR.
func (c *Config) RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", filepath.Join(c.System.DataDir, DefaultRuntimeSettingsFile))
}

func (s RuntimeSettings) Validate() error {
	for _, raw := range s.TranslateEndpoints {
		if _, err := translator.ParseEndpoint(raw); err != nil {
			return fmt.Errorf("invalid translate_endpoints entry %q: %w", raw, err)
		}
	}
	if strings.TrimSpace(s.MaintenanceCron) == "" {
		return fmt.Errorf("maintenance_cron is required")
	}
	if _, err := cron.ParseStandard(s.MaintenanceCron); err != nil {
		return fmt.Errorf("invalid maintenance_cron: %w", err)
	}
	if math.IsNaN(s.SegmentMinConfidence) || s.SegmentMinConfidence < 0 || s.SegmentMinConfidence > 1 {
		return fmt.Errorf("segment_min_confidence must be within [0, 1]")
	}
	for _, p := range s.SegmentPunctuation {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("segment_punctuation must not contain blank marks")
		}
	}
	if s.DisplayLanguage != "" {
		if _, err := language.Parse(s.DisplayLanguage); err != nil {
			return fmt.Errorf("invalid display_language: %w", err)
		}
	}
	return nil
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		TranslateEndpoints:   append([]string(nil), c.Translate.Endpoints...),
		MaintenanceCron:      c.Maintenance.CronExpr,
		SegmentMinConfidence: c.Segment.MinConfidence,
		SegmentPunctuation:   append([]string(nil), c.Segment.Punctuation...),
		DisplayLanguage:      c.Translate.DisplayLanguage,
	}
}

// WithRuntimeSettings overrides the environment with a settings file.
// Empty fields keep the environment value.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if len(settings.TranslateEndpoints) > 0 {
			c.Translate.Endpoints = append([]string(nil), settings.TranslateEndpoints...)
		}
		if strings.TrimSpace(settings.MaintenanceCron) != "" {
			c.Maintenance.CronExpr = settings.MaintenanceCron
		}
		if settings.SegmentMinConfidence > 0 {
			c.Segment.MinConfidence = settings.SegmentMinConfidence
		}
		if len(settings.SegmentPunctuation) > 0 {
			c.Segment.Punctuation = append([]string(nil), settings.SegmentPunctuation...)
		}
		if tag, err := language.Parse(settings.DisplayLanguage); err == nil {
			c.Translate.DisplayLanguage = tag.String()
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// RuntimeSettingsStore serves the current settings and persists updates.
// Subscribers are told about every accepted update.
type RuntimeSettingsStore struct {
	path string

	mu        sync.RWMutex
	current   RuntimeSettings
	listeners []func(RuntimeSettings)
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) Path() string {
	return s.path
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// OnUpdate registers fn to run after each successful update.
func (s *RuntimeSettingsStore) OnUpdate(fn func(RuntimeSettings)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	listeners := append([]func(RuntimeSettings){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}
