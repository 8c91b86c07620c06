package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/infra"
)

const (
	// DefaultGateDelay keeps a single worker under a 15 requests/minute ceiling.
	DefaultGateDelay    = 8 * time.Second
	DefaultGateCooldown = 60 * time.Second

	// NoWait disables a delay in Options or GateOptions. Zero means "use the
	// default", so turning a wait off needs an explicit negative value.
	NoWait time.Duration = -1
)

// durationOr returns d when positive, fallback when zero and 0 when negative.
func durationOr(d, fallback time.Duration) time.Duration {
	switch {
	case d > 0:
		return d
	case d == 0:
		return fallback
	default:
		return 0
	}
}

// GateOptions configures a RateGate. Zero durations fall back to the
// defaults; NoWait disables them.
type GateOptions struct {
	Delay    time.Duration
	Cooldown time.Duration
	Sleeper  infra.Sleeper
	Logger   *infra.Logger
	Progress domain.ProgressSink
}

// RateGate paces calls to a prompt generator and retries once after a
// cooldown when the provider reports rate limiting.
type RateGate struct {
	next     domain.PromptGenerator
	delay    time.Duration
	cooldown time.Duration
	sleeper  infra.Sleeper
	logger   *infra.Logger
	progress domain.ProgressSink
}

func NewRateGate(next domain.PromptGenerator, opts GateOptions) *RateGate {
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = infra.RealSleeper{}
	}
	return &RateGate{
		next:     next,
		delay:    durationOr(opts.Delay, DefaultGateDelay),
		cooldown: durationOr(opts.Cooldown, DefaultGateCooldown),
		sleeper:  sleeper,
		logger:   infra.LoggerOrDiscard(opts.Logger),
		progress: opts.Progress,
	}
}

// Delay returns the pacing delay applied by Pace.
func (g *RateGate) Delay() time.Duration {
	return g.delay
}

// Pace blocks for the configured delay.
func (g *RateGate) Pace(ctx context.Context) error {
	if g.delay <= 0 {
		return ctx.Err()
	}
	g.progress.Info("Waiting %.1fs before the next request", g.delay.Seconds())
	return g.sleeper.Sleep(ctx, g.delay)
}

// Generate calls the wrapped generator without pacing. A rate limited
// failure triggers one cooldown and one retry; a second failure yields
// ErrGateExhausted.
func (g *RateGate) Generate(ctx context.Context, prompt string, timeout time.Duration) (domain.GenerationResult, error) {
	result, err := g.next.Generate(ctx, prompt, timeout)
	if err == nil || !isRateLimitFailure(err) {
		return result, err
	}

	g.progress.Warn("Rate limit reached, cooling down for %ds", int(g.cooldown.Seconds()))
	g.logger.Warn().Err(err).Dur("cooldown", g.cooldown).Msg("gemini: rate gate cooldown")
	if err := g.sleeper.Sleep(ctx, g.cooldown); err != nil {
		return domain.GenerationResult{}, fmt.Errorf("gemini: %w", err)
	}

	result, retryErr := g.next.Generate(ctx, prompt, timeout)
	if retryErr != nil {
		g.progress.Error("Retry after cooldown failed: %s", domain.Truncate(retryErr.Error(), errorExcerptLimit))
		return domain.GenerationResult{}, fmt.Errorf("gemini: %w: %w", domain.ErrGateExhausted, retryErr)
	}
	return result, nil
}

// GeneratePaced applies the pacing delay and then Generate.
func (g *RateGate) GeneratePaced(ctx context.Context, prompt string, timeout time.Duration) (domain.GenerationResult, error) {
	if err := g.Pace(ctx); err != nil {
		return domain.GenerationResult{}, fmt.Errorf("gemini: %w", err)
	}
	return g.Generate(ctx, prompt, timeout)
}

func isRateLimitFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return domain.IsRateLimit(err)
}

var _ domain.PromptGenerator = (*RateGate)(nil)
