// Package gemini calls the Gemini image model with a rotating pool of
// interchangeable API keys.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/infra"
	"github.com/nguyen2715-hue/web/internal/metrics"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel      = "gemini-2.5-flash-image"
	defaultRetryDelay = 2500 * time.Millisecond
	defaultRetryAfter = 60 * time.Second
	errorExcerptLimit = 150
)

// Options controls how the Gemini client is configured.
type Options struct {
	Pool       domain.CredentialPool
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
	Sleeper    infra.Sleeper
	Progress   domain.ProgressSink
	Metrics    *metrics.Collector

	// RetryDelay is the pause after a network failure when more keys remain.
	// NoWait disables it.
	RetryDelay time.Duration
	// DefaultRetryAfter is used when a 429 carries no usable Retry-After header.
	DefaultRetryAfter time.Duration
}

// Client performs one-shot prompt to image calls. Safe for concurrent use,
// though callers in this module serialize calls.
type Client struct {
	pool              domain.CredentialPool
	baseURL           string
	model             string
	httpClient        *http.Client
	logger            *infra.Logger
	sleeper           infra.Sleeper
	progress          domain.ProgressSink
	metrics           *metrics.Collector
	retryDelay        time.Duration
	defaultRetryAfter time.Duration
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

// NewClient constructs a Gemini client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	if opts.Pool == nil {
		return nil, errors.New("gemini: credential pool is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = infra.RealSleeper{}
	}
	retryAfter := opts.DefaultRetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}

	return &Client{
		pool:              opts.Pool,
		baseURL:           baseURL,
		model:             model,
		httpClient:        client,
		logger:            infra.LoggerOrDiscard(opts.Logger),
		sleeper:           sleeper,
		progress:          opts.Progress,
		metrics:           opts.Metrics,
		retryDelay:        durationOr(opts.RetryDelay, defaultRetryDelay),
		defaultRetryAfter: retryAfter,
	}, nil
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate turns prompt into image bytes, rotating keys on 429 and network
// failures. timeout bounds each individual HTTP call.
func (c *Client) Generate(ctx context.Context, prompt string, timeout time.Duration) (domain.GenerationResult, error) {
	started := time.Now()
	result, err := c.generate(ctx, prompt, timeout)
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
		result.Elapsed = time.Since(started)
		c.progress.Success("Gemini: image generated in %.1fs", result.Elapsed.Seconds())
	case errors.Is(err, domain.ErrAllKeysExhausted):
		outcome = metrics.OutcomeRateLimited
	default:
		outcome = metrics.OutcomeFailure
	}
	c.metrics.ProviderCall(string(domain.ProviderGemini), outcome, time.Since(started))
	return result, err
}

func (c *Client) generate(ctx context.Context, prompt string, timeout time.Duration) (domain.GenerationResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.GenerationResult{}, errors.New("gemini: prompt is required")
	}

	if err := c.pool.Refresh(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("gemini: credential refresh failed, using cached keys")
	}
	keys := c.pool.ListCredentials(domain.ProviderGemini, domain.RoleDefault)
	if len(keys) == 0 {
		c.progress.Error("Gemini: no API keys configured")
		return domain.GenerationResult{}, fmt.Errorf("gemini: %w", domain.ErrNoCredentials)
	}
	c.progress.Info("Gemini: %d API key(s) available", len(keys))

	body, err := json.Marshal(generateContentRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{Temperature: 1.0, MaxOutputTokens: 8192},
	})
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("gemini: encode request: %w", err)
	}

	var lastErr error
	for i, key := range keys {
		last := i == len(keys)-1
		c.progress.Info("Gemini: key %s (attempt %d/%d)", key.Preview(), i+1, len(keys))

		resp, err := c.call(ctx, key, body, timeout)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.GenerationResult{}, fmt.Errorf("gemini: %w", ctxErr)
			}
			lastErr = fmt.Errorf("%w: %w", domain.ErrNetworkFailure, err)
			c.progress.Warn("Gemini: key %s request failed: %s", key.Preview(), domain.Truncate(err.Error(), errorExcerptLimit))
			c.logger.Warn().Err(err).Str("key", key.Preview()).Msg("gemini: request failed")
			if !last && c.retryDelay > 0 {
				if err := c.sleeper.Sleep(ctx, c.retryDelay); err != nil {
					return domain.GenerationResult{}, fmt.Errorf("gemini: %w", err)
				}
			}
			continue
		}

		c.progress.Debug("Gemini: HTTP %d", resp.status)
		c.logger.Debug().Str("key", key.Preview()).Int("status", resp.status).Msg("gemini: response")

		switch {
		case resp.status == http.StatusTooManyRequests:
			c.metrics.RateLimited(string(domain.ProviderGemini))
			lastErr = fmt.Errorf("%w: key %s", domain.ErrRateLimited, key.Preview())
			if !last {
				c.progress.Warn("Gemini: key %s rate limited, switching to next key", key.Preview())
				continue
			}
			return c.retryAfterExhaustion(ctx, keys, resp, body, timeout)
		case resp.status < 200 || resp.status >= 300:
			detail := errorDetail(resp.body)
			lastErr = fmt.Errorf("%w: status %d: %s", domain.ErrNetworkFailure, resp.status, detail)
			c.progress.Error("Gemini: HTTP %d: %s", resp.status, detail)
			c.logger.Warn().Str("key", key.Preview()).Int("status", resp.status).Str("error", detail).Msg("gemini: non-success status")
			if !last && c.retryDelay > 0 {
				if err := c.sleeper.Sleep(ctx, c.retryDelay); err != nil {
					return domain.GenerationResult{}, fmt.Errorf("gemini: %w", err)
				}
			}
			continue
		default:
			return c.decode(resp.body)
		}
	}

	c.progress.Error("Gemini: all %d key(s) failed", len(keys))
	return domain.GenerationResult{}, fmt.Errorf("gemini: %w: %w", domain.ErrGenerationFailed, lastErr)
}

// retryAfterExhaustion waits the provider's retry hint once and retries
// with the first key.
func (c *Client) retryAfterExhaustion(ctx context.Context, keys []domain.Credential, resp rawResponse, body []byte, timeout time.Duration) (domain.GenerationResult, error) {
	wait := parseRetryAfter(resp.header.Get("Retry-After"), c.defaultRetryAfter)
	c.progress.Warn("Gemini: all %d key(s) rate limited, waiting %ds before a final retry", len(keys), int(wait.Seconds()))
	c.logger.Warn().Int("keys", len(keys)).Dur("wait", wait).Msg("gemini: all keys rate limited")
	if err := c.sleeper.Sleep(ctx, wait); err != nil {
		return domain.GenerationResult{}, fmt.Errorf("gemini: %w", err)
	}

	first := keys[0]
	c.progress.Info("Gemini: final retry with key %s", first.Preview())
	final, err := c.call(ctx, first, body, timeout)
	if err != nil {
		c.progress.Error("Gemini: final retry failed: %s", domain.Truncate(err.Error(), errorExcerptLimit))
		return domain.GenerationResult{}, fmt.Errorf("gemini: %w: %w", domain.ErrAllKeysExhausted, err)
	}
	if final.status < 200 || final.status >= 300 {
		if final.status == http.StatusTooManyRequests {
			c.metrics.RateLimited(string(domain.ProviderGemini))
		}
		c.progress.Error("Gemini: final retry returned HTTP %d, all keys exhausted", final.status)
		return domain.GenerationResult{}, fmt.Errorf("gemini: %w: final retry status %d", domain.ErrAllKeysExhausted, final.status)
	}
	return c.decode(final.body)
}

func (c *Client) call(ctx context.Context, key domain.Credential, body []byte, timeout time.Duration) (rawResponse, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(c.model), url.QueryEscape(string(key)))
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return rawResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rawResponse{}, redactKey(err, key)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawResponse{}, fmt.Errorf("read response: %w", err)
	}
	return rawResponse{status: resp.StatusCode, header: resp.Header, body: raw}, nil
}

func (c *Client) decode(raw []byte) (domain.GenerationResult, error) {
	var decoded generateContentResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		c.progress.Error("Gemini: malformed response body")
		return domain.GenerationResult{}, fmt.Errorf("gemini: %w: decode response: %w", domain.ErrProtocolMismatch, err)
	}
	data, ok := firstInlineData(decoded)
	if !ok {
		c.progress.Error("Gemini: response contained no image data")
		return domain.GenerationResult{}, fmt.Errorf("gemini: %w: %w", domain.ErrNoImageData, domain.ErrProtocolMismatch)
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		c.progress.Error("Gemini: image payload is not valid base64")
		return domain.GenerationResult{}, fmt.Errorf("gemini: %w: decode image: %w", domain.ErrProtocolMismatch, err)
	}
	return domain.GenerationResult{Bytes: img, Provider: domain.ProviderGemini}, nil
}

func firstInlineData(resp generateContentResponse) (string, bool) {
	if len(resp.Candidates) == 0 {
		return "", false
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			return p.InlineData.Data, true
		}
	}
	return "", false
}

func errorDetail(raw []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return domain.Truncate(parsed.Error.Message, errorExcerptLimit)
	}
	return domain.Truncate(strings.TrimSpace(string(raw)), errorExcerptLimit)
}

// parseRetryAfter reads a delay in whole seconds.
func parseRetryAfter(value string, fallback time.Duration) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// redactKey keeps the API key out of transport error messages.
func redactKey(err error, key domain.Credential) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	endpoint := strings.ReplaceAll(urlErr.URL, url.QueryEscape(string(key)), key.Preview())
	return fmt.Errorf("%s %q: %w", urlErr.Op, endpoint, urlErr.Err)
}

var _ domain.PromptGenerator = (*Client)(nil)
