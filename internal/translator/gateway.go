package translator

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/metrics"
	"github.com/MimeLyc/vidsub/pkg/log"
)

const (
	DefaultMaxRetries   = 2
	DefaultProbeTimeout = 3 * time.Second
	DefaultCallTimeout  = 8 * time.Second
	DefaultBackoff      = time.Second
	DefaultCacheTTL     = 24 * time.Hour
)

type Config struct {
	Endpoints    []string
	APIKey       string
	MaxRetries   int
	ProbeTimeout time.Duration
	CallTimeout  time.Duration
	Backoff      time.Duration
	CacheTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:   DefaultMaxRetries,
		ProbeTimeout: DefaultProbeTimeout,
		CallTimeout:  DefaultCallTimeout,
		Backoff:      DefaultBackoff,
		CacheTTL:     DefaultCacheTTL,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	return c
}

// Gateway translates text across a pool of redundant endpoints. Every cache
// miss probes the whole pool afresh; no endpoint is remembered as best.
type Gateway struct {
	cfg        Config
	endpoints  []Endpoint
	httpClient *http.Client
	cache      Cache
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	flight singleflight.Group
}

type Option func(*Gateway)

func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

func WithCache(cache Cache) Option {
	return func(g *Gateway) {
		if cache != nil {
			g.cache = cache
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// WithSleep replaces the backoff wait, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) {
		g.sleep = sleep
	}
}

func NewGateway(cfg Config, opts ...Option) (*Gateway, error) {
	cfg = cfg.withDefaults()

	endpoints := make([]Endpoint, 0, len(cfg.Endpoints))
	for _, raw := range cfg.Endpoints {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		ep, err := ParseEndpoint(raw)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrConfig, "invalid translation endpoint")
		}
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		return nil, apperr.New(apperr.ErrConfig, "at least one translation endpoint is required")
	}

	g := &Gateway{
		cfg:        cfg,
		endpoints:  endpoints,
		httpClient: &http.Client{},
		cache:      NewMemoryCache(),
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

var _ Translator = (*Gateway)(nil)

func (g *Gateway) Endpoints() []Endpoint {
	return append([]Endpoint(nil), g.endpoints...)
}

// Translate returns a fresh cached translation when one exists; otherwise it
// probes the pool, tries the reachable endpoints fastest first, and caches the
// first success. Concurrent identical requests share one network round.
func (g *Gateway) Translate(ctx context.Context, text, sourceLang, targetLang string) (Result, error) {
	key, err := newCacheKey(text, sourceLang, targetLang)
	if err != nil {
		return Result{}, err
	}

	if res, ok := g.lookup(ctx, key); ok {
		return res, nil
	}

	// The shared round outlives any single caller; probe and call timeouts bound it.
	roundCtx := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(key.String(), func() (any, error) {
		return g.translateUncached(roundCtx, key)
	})
	select {
	case <-ctx.Done():
		return Result{}, apperr.Wrap(ctx.Err(), apperr.ErrNetwork, "translation cancelled")
	case r := <-ch:
		if r.Shared {
			logger().Debug("Joined in-flight translation %s->%s", key.Source, key.Target)
		}
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	}
}

// IsAvailable reports whether any endpoint currently answers the probe.
func (g *Gateway) IsAvailable(ctx context.Context) bool {
	errFound := errors.New("endpoint reachable")
	eg, egCtx := errgroup.WithContext(ctx)
	for _, ep := range g.endpoints {
		eg.Go(func() error {
			latency, err := g.probe(egCtx, ep)
			metrics.ObserveProbe(ep.URL, err == nil, latency)
			if err == nil {
				return errFound
			}
			return nil
		})
	}
	return errors.Is(eg.Wait(), errFound)
}

// EndpointStatus is the outcome of probing one endpoint.
type EndpointStatus struct {
	Endpoint  Endpoint      `json:"endpoint"`
	Available bool          `json:"available"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// ProbeAll probes every endpoint concurrently and returns the outcomes,
// reachable endpoints first in ascending latency, then the rest in pool order.
func (g *Gateway) ProbeAll(ctx context.Context) []EndpointStatus {
	statuses := make([]EndpointStatus, len(g.endpoints))
	var eg errgroup.Group
	for i, ep := range g.endpoints {
		eg.Go(func() error {
			latency, err := g.probe(ctx, ep)
			metrics.ObserveProbe(ep.URL, err == nil, latency)
			statuses[i] = EndpointStatus{Endpoint: ep, Available: err == nil, Latency: latency}
			if err != nil {
				statuses[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = eg.Wait()

	sort.SliceStable(statuses, func(i, j int) bool {
		a, b := statuses[i], statuses[j]
		if a.Available != b.Available {
			return a.Available
		}
		return a.Available && a.Latency < b.Latency
	})
	return statuses
}

// PurgeStale removes cache entries older than the TTL.
func (g *Gateway) PurgeStale(ctx context.Context) (int64, error) {
	n, err := g.cache.PurgeOlderThan(ctx, g.now().Add(-g.cfg.CacheTTL))
	if err != nil {
		return 0, apperr.Wrap(err, apperr.ErrStorage, "purge translation cache")
	}
	metrics.AddTranslationCachePurged(n)
	if n > 0 {
		logger().Info("Purged %d stale translation cache entries", n)
	}
	return n, nil
}

func (g *Gateway) lookup(ctx context.Context, key CacheKey) (Result, bool) {
	entry, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		logger().Warn("Translation cache read failed: %v", err)
		metrics.ObserveCacheLookup(false)
		return Result{}, false
	}
	fresh := ok && g.now().Sub(entry.InsertedAt) < g.cfg.CacheTTL
	metrics.ObserveCacheLookup(fresh)
	if !fresh {
		return Result{}, false
	}
	return entry.Result, true
}

func (g *Gateway) translateUncached(ctx context.Context, key CacheKey) (Result, error) {
	candidates := g.rankedEndpoints(ctx)

	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * g.cfg.Backoff
			logger().Debug("Translation attempt %d/%d after %s", attempt+1, g.cfg.MaxRetries, delay)
			if err := g.sleep(ctx, delay); err != nil {
				return Result{}, apperr.Wrap(err, apperr.ErrNetwork, "translation cancelled")
			}
		}

		for _, ep := range candidates {
			started := time.Now()
			res, err := g.call(ctx, ep, key)
			metrics.ObserveEndpointCall(ep.URL, err == nil, time.Since(started))
			if err == nil {
				g.store(ctx, key, res)
				return res, nil
			}
			lastErr = err
			logger().Warn("Translation via %s failed (attempt %d/%d): %v", ep.URL, attempt+1, g.cfg.MaxRetries, err)
			if ctx.Err() != nil {
				return Result{}, apperr.Wrap(ctx.Err(), apperr.ErrNetwork, "translation cancelled")
			}
		}
	}

	metrics.IncTranslationExhausted()
	logger().Error("All %d translation endpoints failed after %d attempts", len(candidates), g.cfg.MaxRetries)
	return Result{}, apperr.Wrap(lastErr, apperr.ErrAllEndpointsUnavailable, "all translation endpoints unavailable").
		WithContext("endpoints", len(candidates)).
		WithContext("attempts", g.cfg.MaxRetries)
}

// rankedEndpoints returns the endpoints that answered the probe in ascending
// latency, or the whole pool in configured order when none did.
func (g *Gateway) rankedEndpoints(ctx context.Context) []Endpoint {
	statuses := g.ProbeAll(ctx)
	ranked := make([]Endpoint, 0, len(statuses))
	for _, s := range statuses {
		if s.Available {
			ranked = append(ranked, s.Endpoint)
		}
	}
	if len(ranked) == 0 {
		logger().Warn("No translation endpoint answered the probe; trying the pool in order")
		return g.Endpoints()
	}
	return ranked
}

func (g *Gateway) store(ctx context.Context, key CacheKey, res Result) {
	err := g.cache.Put(ctx, CacheEntry{Key: key, Result: res, InsertedAt: g.now().UTC()})
	if err != nil {
		logger().Warn("Translation cache write failed: %v", err)
	}
}

func newCacheKey(text, sourceLang, targetLang string) (CacheKey, error) {
	if strings.TrimSpace(text) == "" {
		return CacheKey{}, apperr.New(apperr.ErrValidation, "text to translate is empty")
	}
	source, err := normalizeLanguage(sourceLang, true)
	if err != nil {
		return CacheKey{}, err
	}
	target, err := normalizeLanguage(targetLang, false)
	if err != nil {
		return CacheKey{}, err
	}
	return CacheKey{Text: text, Source: source, Target: target}, nil
}

// normalizeLanguage reduces code to its base language ("pt-BR" -> "pt"),
// the granularity translation endpoints accept.
func normalizeLanguage(code string, allowAuto bool) (string, error) {
	code = strings.TrimSpace(strings.ToLower(code))
	if code == "" || code == "auto" {
		if allowAuto {
			return "auto", nil
		}
		return "", apperr.New(apperr.ErrValidation, "target language is required")
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", apperr.Wrap(err, apperr.ErrValidation, "invalid language code").
			WithContext("language", code)
	}
	base, _ := tag.Base()
	return base.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func logger() *log.Logger { return log.GetLogger().Named("translator") }
