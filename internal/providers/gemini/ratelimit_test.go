package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyen2715-hue/web/internal/domain"
)

type scriptedGenerator struct {
	errs  []error
	calls int
}

func (s *scriptedGenerator) Generate(ctx context.Context, prompt string, timeout time.Duration) (domain.GenerationResult, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return domain.GenerationResult{}, s.errs[idx]
	}
	return domain.GenerationResult{Bytes: []byte("ok"), Provider: domain.ProviderGemini}, nil
}

func TestRateGatePaceSleepsDelay(t *testing.T) {
	sleeper := &recordingSleeper{}
	gate := NewRateGate(&scriptedGenerator{}, GateOptions{Delay: 3 * time.Second, Sleeper: sleeper})

	require.NoError(t, gate.Pace(context.Background()))
	assert.Equal(t, []time.Duration{3 * time.Second}, sleeper.waits)
	assert.Equal(t, 3*time.Second, gate.Delay())
}

func TestRateGateDefaults(t *testing.T) {
	gate := NewRateGate(&scriptedGenerator{}, GateOptions{})
	assert.Equal(t, DefaultGateDelay, gate.Delay())
	assert.Equal(t, DefaultGateCooldown, gate.cooldown)
}

func TestRateGateCooldownThenRetrySucceeds(t *testing.T) {
	next := &scriptedGenerator{errs: []error{fmt.Errorf("gemini: %w", domain.ErrAllKeysExhausted)}}
	sleeper := &recordingSleeper{}
	gate := NewRateGate(next, GateOptions{Cooldown: 45 * time.Second, Sleeper: sleeper})

	result, err := gate.Generate(context.Background(), "p", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), result.Bytes)
	assert.Equal(t, 2, next.calls)
	assert.Equal(t, []time.Duration{45 * time.Second}, sleeper.waits)
}

func TestRateGateRepeatedFailureIsGateExhausted(t *testing.T) {
	next := &scriptedGenerator{errs: []error{domain.ErrRateLimited, fmt.Errorf("gemini: %w", domain.ErrAllKeysExhausted)}}
	sleeper := &recordingSleeper{}
	gate := NewRateGate(next, GateOptions{Sleeper: sleeper})

	_, err := gate.Generate(context.Background(), "p", time.Minute)
	assert.ErrorIs(t, err, domain.ErrGateExhausted)
	assert.Equal(t, 2, next.calls)
	assert.Len(t, sleeper.waits, 1)
}

func TestRateGateNonRateLimitFailurePassesThrough(t *testing.T) {
	cause := fmt.Errorf("gemini: %w", domain.ErrNoImageData)
	next := &scriptedGenerator{errs: []error{cause}}
	sleeper := &recordingSleeper{}
	gate := NewRateGate(next, GateOptions{Sleeper: sleeper})

	_, err := gate.Generate(context.Background(), "p", time.Minute)
	assert.ErrorIs(t, err, domain.ErrNoImageData)
	assert.NotErrorIs(t, err, domain.ErrGateExhausted)
	assert.Equal(t, 1, next.calls)
	assert.Empty(t, sleeper.waits)
}

func TestRateGateGeneratePacedSleepsBeforeCall(t *testing.T) {
	next := &scriptedGenerator{}
	sleeper := &recordingSleeper{}
	gate := NewRateGate(next, GateOptions{Delay: 8 * time.Second, Sleeper: sleeper})

	_, err := gate.GeneratePaced(context.Background(), "p", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{8 * time.Second}, sleeper.waits)
	assert.Equal(t, 1, next.calls)
}

func TestRateGateCancelledContextStopsCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	next := &scriptedGenerator{errs: []error{domain.ErrRateLimited}}
	gate := NewRateGate(next, GateOptions{Sleeper: &recordingSleeper{}})

	_, err := gate.Generate(ctx, "p", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, next.calls)
}

func TestRateGateNoWaitSkipsPacing(t *testing.T) {
	sleeper := &recordingSleeper{}
	gate := NewRateGate(&scriptedGenerator{}, GateOptions{Delay: NoWait, Cooldown: NoWait, Sleeper: sleeper})

	require.NoError(t, gate.Pace(context.Background()))
	assert.Zero(t, gate.Delay())
	assert.Zero(t, gate.cooldown)
	assert.Empty(t, sleeper.waits)
}

func TestRateGateIgnoresStatusDigitsInTransportErrors(t *testing.T) {
	// The redacted request URL carries a key preview that can contain "429".
	transportErr := fmt.Errorf("%w: %w", domain.ErrNetworkFailure,
		errors.New(`Post "https://gemini.test/v1beta/models/m:generateContent?key=...b4291x": connection reset`))
	next := &scriptedGenerator{errs: []error{fmt.Errorf("gemini: %w: %w", domain.ErrGenerationFailed, transportErr)}}
	sleeper := &recordingSleeper{}
	gate := NewRateGate(next, GateOptions{Sleeper: sleeper})

	_, err := gate.Generate(context.Background(), "p", time.Minute)
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)
	assert.NotErrorIs(t, err, domain.ErrGateExhausted)
	assert.Equal(t, 1, next.calls)
	assert.Empty(t, sleeper.waits)
}
