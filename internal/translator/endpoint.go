package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// Endpoint is one translation server of the pool. ProbeURL answers the
// lightweight availability check.
type Endpoint struct {
	URL      string `json:"url"`
	ProbeURL string `json:"probeUrl"`
}

func (e Endpoint) String() string {
	return e.URL
}

// ParseEndpoint validates raw and derives its probe URL: a trailing
// /translate path becomes /languages, anything else is probed as is.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("endpoint %q must be http or https", raw)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q has no host", raw)
	}

	probe := *u
	probe.RawQuery = ""
	if strings.HasSuffix(probe.Path, "/translate") {
		probe.Path = strings.TrimSuffix(probe.Path, "/translate") + "/languages"
	}
	return Endpoint{URL: u.String(), ProbeURL: probe.String()}, nil
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText   string `json:"translatedText"`
	DetectedLanguage *struct {
		Language   string   `json:"language"`
		Confidence *float64 `json:"confidence"`
	} `json:"detectedLanguage"`
	Error json.RawMessage `json:"error"`
}

func (r translateResponse) failed() bool {
	if len(r.Error) == 0 {
		return false
	}
	raw := strings.TrimSpace(string(r.Error))
	return raw != "null" && raw != `""`
}

// call issues one translate request bounded by timeout.
func (g *Gateway) call(ctx context.Context, ep Endpoint, key CacheKey) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	payload, err := json.Marshal(translateRequest{
		Q:      key.Text,
		Source: key.Source,
		Target: key.Target,
		Format: "text",
		APIKey: g.cfg.APIKey,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) || ctx.Err() == context.DeadlineExceeded {
			return Result{}, fmt.Errorf("request timed out after %s: %w", g.cfg.CallTimeout, err)
		}
		return Result{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var decoded translateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if decoded.failed() {
		return Result{}, fmt.Errorf("endpoint reported error: %s", truncate(string(decoded.Error), 200))
	}
	if strings.TrimSpace(decoded.TranslatedText) == "" {
		return Result{}, fmt.Errorf("endpoint returned no translatedText: %s", truncate(string(body), 200))
	}

	res := Result{TranslatedText: decoded.TranslatedText}
	if decoded.DetectedLanguage != nil {
		res.DetectedLanguage = decoded.DetectedLanguage.Language
		res.Confidence = decoded.DetectedLanguage.Confidence
	}
	return res, nil
}

// probe measures how long ep takes to answer the availability check.
func (g *Gateway) probe(ctx context.Context, ep Endpoint) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.ProbeURL, nil)
	if err != nil {
		return 0, err
	}
	started := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	elapsed := time.Since(started)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return elapsed, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return elapsed, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
