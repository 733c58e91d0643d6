package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/media"
	"github.com/MimeLyc/vidsub/internal/segment"
	"github.com/MimeLyc/vidsub/internal/translator"
	"github.com/MimeLyc/vidsub/pkg/log"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
// System:
// - DATA_DIR: directory holding the SQLite database (default: ./data)
// - LOG_LEVEL: debug, info, warn or error (default: info)
// - HTTP_ADDR: API listen address (default: :8080)
//
// Extraction:
// - FFMPEG_PATH / FFPROBE_PATH: binaries (default: ffmpeg / ffprobe)
// - EXTRACT_FORMAT: wav, mp3, flac, ogg or m4a (default: wav)
// - EXTRACT_SAMPLE_RATE (16000), EXTRACT_CHANNELS (1), EXTRACT_QUALITY (2)
// - EXTRACT_WORKERS: job queue workers (default: 1)
//
// Translation:
// - TRANSLATE_ENDPOINTS: comma separated translate URLs
// - TRANSLATE_API_KEY: optional key sent with every request
// - TRANSLATE_MAX_RETRIES (2), TRANSLATE_PROBE_TIMEOUT (3s), TRANSLATE_CALL_TIMEOUT (8s)
// - TRANSLATE_BACKOFF (1s), TRANSLATE_CACHE_TTL (24h)
// - TRANSLATE_CACHE: memory or sqlite (default: memory)
// - DISPLAY_LANGUAGE: default language cues are shown in (optional)
//
// Segmentation:
// - SEGMENT_MIN_CONFIDENCE (0), SEGMENT_PUNCTUATION (".!?", one mark per character)
//
// Maintenance:
// - MAINTENANCE_CRON: stale translation purge schedule (default: 0 */6 * * *)
type Config struct {
	System      SystemConfig      `json:"system"`
	HTTP        HTTPConfig        `json:"http"`
	Extract     ExtractConfig     `json:"extract"`
	Translate   TranslateConfig   `json:"translate"`
	Segment     SegmentConfig     `json:"segment"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type ExtractConfig struct {
	FFmpegPath  string `json:"ffmpeg_path"`
	FFprobePath string `json:"ffprobe_path"`
	Format      string `json:"format"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	Quality     int    `json:"quality"`
	Workers     int    `json:"workers"`
}

const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
)

type TranslateConfig struct {
	Endpoints       []string      `json:"endpoints"`
	APIKey          string        `json:"-"`
	MaxRetries      int           `json:"max_retries"`
	ProbeTimeout    time.Duration `json:"probe_timeout"`
	CallTimeout     time.Duration `json:"call_timeout"`
	Backoff         time.Duration `json:"backoff"`
	CacheTTL        time.Duration `json:"cache_ttl"`
	Cache           string        `json:"cache"`
	DisplayLanguage string        `json:"display_language"`
}

type SegmentConfig struct {
	MinConfidence float64  `json:"min_confidence"`
	Punctuation   []string `json:"punctuation"`
}

type MaintenanceConfig struct {
	CronExpr string `json:"cron_expr"`
}

const DBFileName = "vidsub.db"

// DBPath is the SQLite database inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, DBFileName)
}

// MediaOptions returns the default extraction options.
func (c *Config) MediaOptions() media.Options {
	return media.Options{
		Format:     c.Extract.Format,
		SampleRate: c.Extract.SampleRate,
		Channels:   c.Extract.Channels,
		Quality:    media.QualityLevel(c.Extract.Quality),
	}.WithDefaults(media.DefaultOptions())
}

func (c *Config) GatewayConfig() translator.Config {
	return translator.Config{
		Endpoints:    append([]string(nil), c.Translate.Endpoints...),
		APIKey:       c.Translate.APIKey,
		MaxRetries:   c.Translate.MaxRetries,
		ProbeTimeout: c.Translate.ProbeTimeout,
		CallTimeout:  c.Translate.CallTimeout,
		Backoff:      c.Translate.Backoff,
		CacheTTL:     c.Translate.CacheTTL,
	}
}

// SegmentationConfig returns the default segmentation config with the
// configured confidence floor and punctuation.
func (c *Config) SegmentationConfig() segment.Config {
	cfg := segment.DefaultConfig()
	cfg.MinConfidence = c.Segment.MinConfidence
	if len(c.Segment.Punctuation) > 0 {
		cfg.SentenceEndPunctuation = append([]string(nil), c.Segment.Punctuation...)
	}
	return cfg
}

// Option is a function type for configuring Config
type Option func(*Config)

func WithDataDir(dir string) Option {
	return func(c *Config) {
		if strings.TrimSpace(dir) != "" {
			c.System.DataDir = dir
		}
	}
}

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return apperr.Wrap(err, apperr.ErrConfig, "failed to load env file")
	}
	return nil
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		System: SystemConfig{
			DataDir:  getEnvString("DATA_DIR", "./data"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		Extract: ExtractConfig{
			FFmpegPath:  getEnvString("FFMPEG_PATH", "ffmpeg"),
			FFprobePath: getEnvString("FFPROBE_PATH", "ffprobe"),
			Format:      getEnvString("EXTRACT_FORMAT", media.DefaultFormat),
			SampleRate:  getEnvInt("EXTRACT_SAMPLE_RATE", media.DefaultSampleRate),
			Channels:    getEnvInt("EXTRACT_CHANNELS", media.DefaultChannels),
			Quality:     getEnvInt("EXTRACT_QUALITY", media.DefaultQuality),
			Workers:     getEnvInt("EXTRACT_WORKERS", 1),
		},
		Translate: TranslateConfig{
			Endpoints:       getEnvList("TRANSLATE_ENDPOINTS"),
			APIKey:          getEnvString("TRANSLATE_API_KEY", ""),
			MaxRetries:      getEnvInt("TRANSLATE_MAX_RETRIES", translator.DefaultMaxRetries),
			ProbeTimeout:    getEnvDuration("TRANSLATE_PROBE_TIMEOUT", translator.DefaultProbeTimeout),
			CallTimeout:     getEnvDuration("TRANSLATE_CALL_TIMEOUT", translator.DefaultCallTimeout),
			Backoff:         getEnvDuration("TRANSLATE_BACKOFF", translator.DefaultBackoff),
			CacheTTL:        getEnvDuration("TRANSLATE_CACHE_TTL", translator.DefaultCacheTTL),
			Cache:           strings.ToLower(getEnvString("TRANSLATE_CACHE", CacheMemory)),
			DisplayLanguage: getEnvString("DISPLAY_LANGUAGE", ""),
		},
		Segment: SegmentConfig{
			MinConfidence: getEnvFloat("SEGMENT_MIN_CONFIDENCE", 0),
			Punctuation:   splitMarks(getEnvString("SEGMENT_PUNCTUATION", strings.Join(segment.DefaultPunctuation(), ""))),
		},
		Maintenance: MaintenanceConfig{
			CronExpr: getEnvString("MAINTENANCE_CRON", "0 */6 * * *"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: data_dir=%s http=%s endpoints=%d cache=%s", config.System.DataDir, config.HTTP.Addr, len(config.Translate.Endpoints), config.Translate.Cache)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.System.DataDir) == "" {
		return apperr.New(apperr.ErrConfig, "DATA_DIR is required")
	}
	if !media.SupportedFormat(c.Extract.Format) {
		return apperr.Newf(apperr.ErrConfig, "unsupported EXTRACT_FORMAT %q", c.Extract.Format)
	}
	if c.Extract.Quality < 0 {
		return apperr.Newf(apperr.ErrConfig, "EXTRACT_QUALITY must not be negative, got %d", c.Extract.Quality)
	}
	if c.Extract.Workers < 1 {
		return apperr.Newf(apperr.ErrConfig, "EXTRACT_WORKERS must be at least 1, got %d", c.Extract.Workers)
	}
	if c.Translate.Cache != CacheMemory && c.Translate.Cache != CacheSQLite {
		return apperr.Newf(apperr.ErrConfig, "TRANSLATE_CACHE must be %q or %q, got %q", CacheMemory, CacheSQLite, c.Translate.Cache)
	}
	for _, raw := range c.Translate.Endpoints {
		if _, err := translator.ParseEndpoint(raw); err != nil {
			return apperr.Wrap(err, apperr.ErrConfig, "invalid TRANSLATE_ENDPOINTS entry").WithContext("endpoint", raw)
		}
	}
	if c.Translate.DisplayLanguage != "" {
		if _, err := language.Parse(c.Translate.DisplayLanguage); err != nil {
			return apperr.Wrap(err, apperr.ErrConfig, "invalid DISPLAY_LANGUAGE")
		}
	}
	if err := c.SegmentationConfig().Validate(); err != nil {
		return apperr.Wrap(err, apperr.ErrConfig, "invalid segmentation settings")
	}
	if _, err := cron.ParseStandard(c.Maintenance.CronExpr); err != nil {
		return apperr.Wrap(err, apperr.ErrConfig, "invalid MAINTENANCE_CRON")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("3s") or bare seconds ("3").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	log.Warn("Ignoring invalid %s=%q", key, value)
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitMarks(value string) []string {
	var marks []string
	for _, r := range value {
		if r == ' ' || r == ',' {
			continue
		}
		marks = append(marks, string(r))
	}
	return marks
}
