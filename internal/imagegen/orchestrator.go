// Package imagegen chooses between the reference workflow and prompt-only
// generation for a single request.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/infra"
	"github.com/nguyen2715-hue/web/internal/metrics"
)

const defaultFallbackTimeout = 120 * time.Second

// WorkflowClient runs the reference-image workflow. whisk.Client implements it.
type WorkflowClient interface {
	Generate(ctx context.Context, prompt string, refs []string, aspect domain.AspectRatio, timeout time.Duration) (domain.GenerationResult, error)
}

// WorkflowOutcome is the result of the primary attempt: either Result is
// set or Err explains why not.
type WorkflowOutcome struct {
	Result    domain.GenerationResult
	Err       error
	Attempted bool
}

func (o WorkflowOutcome) Succeeded() bool {
	return o.Err == nil
}

// OrchestrationError carries both causes when no provider produced an image.
// Primary is domain.ErrWorkflowNotAttempted when the workflow never ran.
type OrchestrationError struct {
	Primary   error
	Secondary error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("%v: workflow: %v; fallback: %v", domain.ErrOrchestrationExhausted, e.Primary, e.Secondary)
}

func (e *OrchestrationError) Unwrap() []error {
	return []error{domain.ErrOrchestrationExhausted, e.Primary, e.Secondary}
}

// WorkflowAttempted reports whether the reference workflow actually ran.
func (e *OrchestrationError) WorkflowAttempted() bool {
	return !errors.Is(e.Primary, domain.ErrWorkflowNotAttempted)
}

type Options struct {
	Workflow WorkflowClient
	Fallback domain.PromptGenerator
	// FallbackTimeout bounds the prompt-only call; the request timeout is
	// only used for the workflow.
	FallbackTimeout time.Duration
	Logger          *infra.Logger
	Progress        domain.ProgressSink
	Metrics         *metrics.Collector
}

type Orchestrator struct {
	workflow        WorkflowClient
	fallback        domain.PromptGenerator
	fallbackTimeout time.Duration
	logger          *infra.Logger
	progress        domain.ProgressSink
	metrics         *metrics.Collector
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Fallback == nil {
		return nil, errors.New("imagegen: fallback generator is required")
	}
	timeout := opts.FallbackTimeout
	if timeout <= 0 {
		timeout = defaultFallbackTimeout
	}
	return &Orchestrator{
		workflow:        opts.Workflow,
		fallback:        opts.Fallback,
		fallbackTimeout: timeout,
		logger:          infra.LoggerOrDiscard(opts.Logger),
		progress:        opts.Progress,
		metrics:         opts.Metrics,
	}, nil
}

// Generate tries the workflow when the request has references, then falls
// back to prompt-only generation with the same prompt.
func (o *Orchestrator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	primary := o.runWorkflow(ctx, req)
	if primary.Succeeded() {
		return primary.Result, nil
	}

	if primary.Attempted {
		o.metrics.Fallback()
		o.progress.Warn("Workflow failed, falling back to Gemini: %s", domain.Truncate(primary.Err.Error(), 100))
		o.logger.Warn().Err(primary.Err).Msg("imagegen: workflow failed, using fallback")
	}
	if err := ctx.Err(); err != nil {
		return domain.GenerationResult{}, &OrchestrationError{Primary: primary.Err, Secondary: err}
	}

	result, err := o.fallback.Generate(ctx, req.Prompt, o.fallbackTimeout)
	if err != nil {
		o.progress.Error("No provider produced an image")
		o.logger.Warn().Err(err).Bool("workflow_attempted", primary.Attempted).Msg("imagegen: all providers failed")
		return domain.GenerationResult{}, &OrchestrationError{Primary: primary.Err, Secondary: err}
	}
	return result, nil
}

func (o *Orchestrator) runWorkflow(ctx context.Context, req domain.GenerationRequest) WorkflowOutcome {
	if !req.HasReferences() {
		return WorkflowOutcome{Err: domain.ErrWorkflowNotAttempted}
	}
	if o.workflow == nil {
		return WorkflowOutcome{Err: fmt.Errorf("%w: workflow client not configured", domain.ErrWorkflowNotAttempted)}
	}
	result, err := o.workflow.Generate(ctx, req.Prompt, req.References(), req.AspectRatio, req.Timeout)
	if err != nil {
		return WorkflowOutcome{Err: err, Attempted: true}
	}
	return WorkflowOutcome{Result: result, Attempted: true}
}

// Direct adapts a prompt generator to domain.Generator, ignoring references.
type Direct struct {
	Next           domain.PromptGenerator
	DefaultTimeout time.Duration
}

func (d Direct) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = defaultFallbackTimeout
	}
	return d.Next.Generate(ctx, req.Prompt, timeout)
}

var (
	_ domain.Generator = (*Orchestrator)(nil)
	_ domain.Generator = Direct{}
)
