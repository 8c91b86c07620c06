package imagegen

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/infra"
	"github.com/nguyen2715-hue/web/internal/metrics"
	"github.com/nguyen2715-hue/web/internal/providers/gemini"
	"github.com/nguyen2715-hue/web/internal/providers/whisk"
)

// Mode selects how a batch reaches the providers.
type Mode string

const (
	// ModeWhisk tries the reference workflow first and falls back to Gemini.
	ModeWhisk Mode = "whisk"
	// ModeGemini sends every item straight to the rate-gated Gemini client.
	ModeGemini Mode = "gemini"
)

// ParseMode accepts "whisk", "gemini" or empty (whisk).
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeWhisk:
		return ModeWhisk, nil
	case ModeGemini:
		return ModeGemini, nil
	default:
		return "", fmt.Errorf("unsupported provider %q (want whisk or gemini)", value)
	}
}

// StackOptions carries the shared collaborators for BuildStack.
type StackOptions struct {
	Mode       Mode
	HTTPClient *http.Client
	Logger     *infra.Logger
	Progress   domain.ProgressSink
	Metrics    *metrics.Collector
	Sleeper    infra.Sleeper
}

// Stack is the assembled provider chain. Gate doubles as the batch pacer.
type Stack struct {
	Gemini    *gemini.Client
	Gate      *gemini.RateGate
	Whisk     *whisk.Client
	Generator domain.Generator
}

// BuildStack wires the Gemini client, its rate gate and, in whisk mode, the
// reference workflow behind the orchestrator.
func BuildStack(cfg *infra.Config, pool domain.CredentialPool, opts StackOptions) (*Stack, error) {
	client, err := gemini.NewClient(gemini.Options{
		Pool:       pool,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiImageModel,
		HTTPClient: opts.HTTPClient,
		Logger:     opts.Logger,
		Sleeper:    opts.Sleeper,
		Progress:   opts.Progress,
		Metrics:    opts.Metrics,
		RetryDelay: configuredWait(cfg.GeminiRetryDelay),
	})
	if err != nil {
		return nil, err
	}
	gate := gemini.NewRateGate(client, gemini.GateOptions{
		Delay:    configuredWait(cfg.RateGateDelay),
		Cooldown: configuredWait(cfg.RateGateCooldown),
		Sleeper:  opts.Sleeper,
		Logger:   opts.Logger,
		Progress: opts.Progress,
	})
	stack := &Stack{Gemini: client, Gate: gate}

	if opts.Mode == ModeGemini {
		stack.Generator = Direct{Next: gate, DefaultTimeout: cfg.ImageGenTimeout}
		return stack, nil
	}

	wc, err := whisk.NewClient(whisk.Options{
		Pool:         pool,
		UploadURL:    cfg.WhiskUploadURL,
		RecipeURL:    cfg.WhiskRecipeURL,
		HTTPClient:   opts.HTTPClient,
		Logger:       opts.Logger,
		Progress:     opts.Progress,
		Metrics:      opts.Metrics,
		FetchTimeout: cfg.WhiskFetchTimeout,
	})
	if err != nil {
		return nil, err
	}
	orch, err := NewOrchestrator(Options{
		Workflow:        wc,
		Fallback:        gate,
		FallbackTimeout: cfg.ImageGenTimeout,
		Logger:          opts.Logger,
		Progress:        opts.Progress,
		Metrics:         opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	stack.Whisk = wc
	stack.Generator = orch
	return stack, nil
}

// configuredWait maps a configured 0 to gemini.NoWait: in the environment
// 0 switches a wait off, while in the client options 0 selects the default.
func configuredWait(d time.Duration) time.Duration {
	if d == 0 {
		return gemini.NoWait
	}
	return d
}
