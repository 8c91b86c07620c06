package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyen2715-hue/web/internal/domain"
)

type fakePool struct {
	keys      []domain.Credential
	refreshes int
}

func (p *fakePool) Refresh(context.Context) error {
	p.refreshes++
	return nil
}

func (p *fakePool) ListCredentials(provider domain.Provider, role domain.Role) []domain.Credential {
	if provider != domain.ProviderGemini || role != domain.RoleDefault {
		return nil
	}
	return append([]domain.Credential(nil), p.keys...)
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

type stubResponse struct {
	status int
	header http.Header
	body   string
	err    error
}

// keyTransport answers each call from a per-key queue and records the key order.
type keyTransport struct {
	mu       sync.Mutex
	replies  map[string][]stubResponse
	calls    []string
	lastBody []byte
}

func (k *keyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key := req.URL.Query().Get("key")
	k.calls = append(k.calls, key)
	if req.Body != nil {
		k.lastBody, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	queue := k.replies[key]
	if len(queue) == 0 {
		return nil, errors.New("no stub for key " + key)
	}
	reply := queue[0]
	if len(queue) > 1 {
		k.replies[key] = queue[1:]
	}
	if reply.err != nil {
		return nil, reply.err
	}
	header := reply.header
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: reply.status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(reply.body)),
		Request:    req,
	}, nil
}

func imageBody(data []byte) string {
	payload := map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"parts": []any{
						map[string]any{"text": "here you go"},
						map[string]any{"inlineData": map[string]any{"mimeType": "image/png", "data": base64.StdEncoding.EncodeToString(data)}},
					},
				},
			},
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func tooMany(retryAfter string) stubResponse {
	h := http.Header{}
	if retryAfter != "" {
		h.Set("Retry-After", retryAfter)
	}
	return stubResponse{status: http.StatusTooManyRequests, header: h, body: `{"error":{"message":"quota"}}`}
}

func newTestClient(t *testing.T, keys []domain.Credential, transport *keyTransport, sink domain.ProgressSink) (*Client, *recordingSleeper, *fakePool) {
	t.Helper()
	pool := &fakePool{keys: keys}
	sleeper := &recordingSleeper{}
	client, err := NewClient(Options{
		Pool:       pool,
		BaseURL:    "https://gemini.test/v1beta",
		HTTPClient: &http.Client{Transport: transport},
		Sleeper:    sleeper,
		Progress:   sink,
	})
	require.NoError(t, err)
	return client, sleeper, pool
}

func TestGenerateRotatesPastRateLimitedKeysWithoutSleeping(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	transport := &keyTransport{replies: map[string][]stubResponse{
		"key-1": {tooMany("5")},
		"key-2": {tooMany("5")},
		"key-3": {{status: http.StatusOK, body: imageBody(png)}},
	}}
	client, sleeper, pool := newTestClient(t, []domain.Credential{"key-1", "key-2", "key-3"}, transport, nil)

	result, err := client.Generate(context.Background(), "a cat", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, png, result.Bytes)
	assert.Equal(t, domain.ProviderGemini, result.Provider)
	assert.Equal(t, []string{"key-1", "key-2", "key-3"}, transport.calls)
	assert.Empty(t, sleeper.waits)
	assert.Equal(t, 1, pool.refreshes)
}

func TestGenerateAllRateLimitedWaitsOnceAndRetriesFirstKey(t *testing.T) {
	png := []byte{1, 2, 3}
	transport := &keyTransport{replies: map[string][]stubResponse{
		"key-1": {tooMany("7"), {status: http.StatusOK, body: imageBody(png)}},
		"key-2": {tooMany("7")},
	}}
	client, sleeper, _ := newTestClient(t, []domain.Credential{"key-1", "key-2"}, transport, nil)

	result, err := client.Generate(context.Background(), "a dog", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, png, result.Bytes)
	assert.Equal(t, []string{"key-1", "key-2", "key-1"}, transport.calls)
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeper.waits)
}

func TestGenerateAllRateLimitedDefaultsRetryAfterAndExhausts(t *testing.T) {
	transport := &keyTransport{replies: map[string][]stubResponse{
		"key-1": {tooMany(""), tooMany("")},
		"key-2": {tooMany("soon")},
	}}
	client, sleeper, _ := newTestClient(t, []domain.Credential{"key-1", "key-2"}, transport, nil)

	_, err := client.Generate(context.Background(), "a dog", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllKeysExhausted)
	assert.True(t, domain.IsRateLimit(err))
	assert.Equal(t, []time.Duration{60 * time.Second}, sleeper.waits)
	assert.Equal(t, []string{"key-1", "key-2", "key-1"}, transport.calls)
}

func TestGenerateFinalRetryTransportErrorIsExhaustion(t *testing.T) {
	transport := &keyTransport{replies: map[string][]stubResponse{
		"key-1": {tooMany("1"), {err: errors.New("connection reset")}},
	}}
	client, _, _ := newTestClient(t, []domain.Credential{"key-1"}, transport, nil)

	_, err := client.Generate(context.Background(), "a dog", time.Minute)
	assert.ErrorIs(t, err, domain.ErrAllKeysExhausted)
}

func TestGenerateNoCredentialsMakesNoCall(t *testing.T) {
	transport := &keyTransport{replies: map[string][]stubResponse{}}
	var messages []string
	client, _, _ := newTestClient(t, nil, transport, func(m string) { messages = append(messages, m) })

	_, err := client.Generate(context.Background(), "a dog", time.Minute)
	assert.ErrorIs(t, err, domain.ErrNoCredentials)
	assert.Empty(t, transport.calls)
	require.NotEmpty(t, messages)
	assert.Equal(t, domain.SeverityError, domain.ParseProgress(messages[len(messages)-1]).Severity)
}

func TestGenerateNetworkFailureWaitsBetweenKeys(t *testing.T) {
	png := []byte{9}
	transport := &keyTransport{replies: map[string][]stubResponse{
		"key-1": {{err: errors.New("dial tcp: timeout")}},
		"key-2": {{status: http.StatusOK, body: imageBody(png)}},
	}}
	client, sleeper, _ := newTestClient(t, []domain.Credential{"key-1", "key-2"}, transport, nil)

	result, err := client.Generate(context.Background(), "a dog", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, png, result.Bytes)
	assert.Equal(t, []time.Duration{2500 * time.Millisecond}, sleeper.waits)
}

func TestGenerateNoWaitRetryDelaySkipsSleep(t *testing.T) {
	png := []byte{9}
	transport := &keyTransport{replies: map[string][]stubResponse{
		"key-1": {{err: errors.New("dial tcp: timeout")}},
		"key-2": {{status: http.StatusOK, body: imageBody(png)}},
	}}
	sleeper := &recordingSleeper{}
	client, err := NewClient(Options{
		Pool:       &fakePool{keys: []domain.Credential{"key-1", "key-2"}},
		BaseURL:    "https://gemini.test/v1beta",
		HTTPClient: &http.Client{Transport: transport},
		Sleeper:    sleeper,
		RetryDelay: NoWait,
	})
	require.NoError(t, err)

	result, err := client.Generate(context.Background(), "a dog", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, png, result.Bytes)
	assert.Empty(t, sleeper.waits)
}

func TestGenerateNetworkFailuresExhaustAsGenerationFailed(t *testing.T) {
	transport := &keyTransport{replies: map[string][]stubResponse{
		"key-1": {{err: errors.New("refused")}},
		"key-2": {{err: errors.New("refused")}},
		"key-3": {{status: http.StatusInternalServerError, body: `{"error":{"message":"backend exploded"}}`}},
	}}
	var messages []string
	client, sleeper, _ := newTestClient(t, []domain.Credential{"key-1", "key-2", "key-3"}, transport, func(m string) { messages = append(messages, m) })

	_, err := client.Generate(context.Background(), "a dog", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)
	assert.Len(t, sleeper.waits, 2)
	assert.Contains(t, strings.Join(messages, "\n"), "backend exploded")
}

func TestGenerateMissingImageDataIsFatal(t *testing.T) {
	transport := &keyTransport{replies: map[string][]stubResponse{
		"key-1": {{status: http.StatusOK, body: `{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`}},
		"key-2": {{status: http.StatusOK, body: imageBody([]byte{1})}},
	}}
	client, _, _ := newTestClient(t, []domain.Credential{"key-1", "key-2"}, transport, nil)

	_, err := client.Generate(context.Background(), "a dog", time.Minute)
	assert.ErrorIs(t, err, domain.ErrNoImageData)
	assert.ErrorIs(t, err, domain.ErrProtocolMismatch)
	assert.Equal(t, []string{"key-1"}, transport.calls)
}

func TestGenerateMalformedBodyIsProtocolMismatch(t *testing.T) {
	transport := &keyTransport{replies: map[string][]stubResponse{
		"key-1": {{status: http.StatusOK, body: `<html>`}},
	}}
	client, _, _ := newTestClient(t, []domain.Credential{"key-1"}, transport, nil)

	_, err := client.Generate(context.Background(), "a dog", time.Minute)
	assert.ErrorIs(t, err, domain.ErrProtocolMismatch)
	assert.NotErrorIs(t, err, domain.ErrNoImageData)
}

func TestGeneratePayloadShape(t *testing.T) {
	transport := &keyTransport{replies: map[string][]stubResponse{
		"key-1": {{status: http.StatusOK, body: imageBody([]byte{1})}},
	}}
	client, _, _ := newTestClient(t, []domain.Credential{"key-1"}, transport, nil)

	_, err := client.Generate(context.Background(), "  neon city  ", time.Minute)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(transport.lastBody, &payload))
	contents := payload["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	assert.Equal(t, "neon city", parts[0].(map[string]any)["text"])
	cfg := payload["generationConfig"].(map[string]any)
	assert.Equal(t, 1.0, cfg["temperature"])
	assert.Equal(t, 8192.0, cfg["maxOutputTokens"])
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	transport := &keyTransport{replies: map[string][]stubResponse{}}
	client, _, _ := newTestClient(t, []domain.Credential{"key-1"}, transport, nil)

	_, err := client.Generate(context.Background(), "   ", time.Minute)
	require.Error(t, err)
	assert.Empty(t, transport.calls)
}

func TestNewClientRequiresPool(t *testing.T) {
	_, err := NewClient(Options{})
	require.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 12*time.Second, parseRetryAfter("12", time.Minute))
	assert.Equal(t, time.Duration(0), parseRetryAfter("0", time.Minute))
	assert.Equal(t, time.Minute, parseRetryAfter("", time.Minute))
	assert.Equal(t, time.Minute, parseRetryAfter("-3", time.Minute))
	assert.Equal(t, time.Minute, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT", time.Minute))
}

func TestRedactKeyHidesSecret(t *testing.T) {
	transport := &keyTransport{replies: map[string][]stubResponse{
		"super-secret-key": {{err: errors.New("refused")}},
	}}
	client, _, _ := newTestClient(t, []domain.Credential{"super-secret-key"}, transport, nil)

	_, err := client.Generate(context.Background(), "a dog", time.Minute)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "super-secret-key")
}
