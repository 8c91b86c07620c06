package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/infra"
	"github.com/nguyen2715-hue/web/internal/metrics"
)

// ErrOverlayFailed marks a thumbnail whose text overlay could not be applied.
var ErrOverlayFailed = errors.New("thumbnail overlay failed")

// Pacer delays the next provider call. gemini.RateGate implements it.
type Pacer interface {
	Pace(ctx context.Context) error
}

// Overlay draws text onto a generated image.
type Overlay interface {
	Apply(ctx context.Context, image []byte, text string) ([]byte, error)
}

// ResultStore persists a finished image and returns its storage key.
type ResultStore interface {
	SaveImage(ctx context.Context, kind string, index int, data []byte) (string, error)
}

type Options struct {
	Pacer    Pacer
	Overlay  Overlay
	Store    ResultStore
	Observer func(Event)
	Logger   *infra.Logger
	Metrics  *metrics.Collector
}

// Summary is the outcome of one run.
type Summary struct {
	JobID     string
	Results   []ItemResult
	Succeeded int
	Failed    int
	Cancelled bool
}

// Pipeline processes items strictly in order. Cancel is cooperative: it is
// honoured between items and never interrupts an in-flight call.
type Pipeline struct {
	pacer    Pacer
	overlay  Overlay
	store    ResultStore
	observer func(Event)
	logger   *infra.Logger
	metrics  *metrics.Collector

	cancelled atomic.Bool
}

func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{
		pacer:    opts.Pacer,
		overlay:  opts.Overlay,
		store:    opts.Store,
		observer: opts.Observer,
		logger:   infra.LoggerOrDiscard(opts.Logger),
		metrics:  opts.Metrics,
	}
}

// Cancel asks the run to stop before its next item.
func (p *Pipeline) Cancel() {
	p.cancelled.Store(true)
}

func (p *Pipeline) Cancelled() bool {
	return p.cancelled.Load()
}

// Run builds a job for items and processes it.
func (p *Pipeline) Run(ctx context.Context, items []Item, gen domain.Generator) Summary {
	return p.RunJob(ctx, NewJob(uuid.NewString(), items), gen)
}

// RunJob processes job and emits exactly one terminal event. Per-item
// failures are recorded and never stop the run.
func (p *Pipeline) RunJob(ctx context.Context, job *Job, gen domain.Generator) Summary {
	summary := Summary{JobID: job.ID}
	job.start(time.Now().UTC())
	p.logger.Info().Str("run_id", job.ID).Int("items", len(job.Items)).Msg("batch: run started")

	for i, item := range job.Items {
		if p.stopRequested(ctx) {
			summary.Cancelled = true
			break
		}
		if i > 0 && p.pacer != nil {
			if err := p.pacer.Pace(ctx); err != nil {
				summary.Cancelled = true
				break
			}
			if p.stopRequested(ctx) {
				summary.Cancelled = true
				break
			}
		}

		res := p.processItem(ctx, job.ID, item, gen)
		job.record(res)
		summary.Results = append(summary.Results, res)
		if res.Succeeded() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	p.finish(job, &summary)
	return summary
}

func (p *Pipeline) stopRequested(ctx context.Context) bool {
	return p.cancelled.Load() || ctx.Err() != nil
}

func (p *Pipeline) processItem(ctx context.Context, runID string, item Item, gen domain.Generator) ItemResult {
	label := item.Label()
	p.emit(Event{RunID: runID, ItemID: item.ID, Type: EventItemStarted, Severity: domain.SeverityInfo, Message: "Generating " + label})

	result, err := gen.Generate(ctx, item.Request)
	if err != nil {
		p.emit(Event{RunID: runID, ItemID: item.ID, Type: EventItemProvider, Severity: domain.SeverityError,
			Message: fmt.Sprintf("%s: generation failed: %s", label, domain.Truncate(err.Error(), 200))})
		return p.failed(runID, item, err)
	}
	p.emit(Event{RunID: runID, ItemID: item.ID, Type: EventItemProvider, Severity: domain.SeveritySuccess,
		Message: fmt.Sprintf("%s: %s succeeded in %.1fs", label, result.Provider, result.Elapsed.Seconds())})

	if item.Kind == KindThumbnail && p.overlay != nil && item.OverlayText != "" {
		overlaid, err := p.overlay.Apply(ctx, result.Bytes, item.OverlayText)
		if err != nil {
			return p.failed(runID, item, fmt.Errorf("%w: %w", ErrOverlayFailed, err))
		}
		result.Bytes = overlaid
	}

	res := ItemResult{Item: item, Result: result}
	if p.store != nil {
		key, err := p.store.SaveImage(ctx, string(item.Kind), item.Index, result.Bytes)
		if err != nil {
			return p.failed(runID, item, fmt.Errorf("save image: %w", err))
		}
		res.StorageKey = key
	}

	p.metrics.BatchItem(string(item.Kind), metrics.OutcomeSuccess)
	p.emit(Event{RunID: runID, ItemID: item.ID, Type: EventItemFinished, Severity: domain.SeveritySuccess, Message: label + " ready"})
	return res
}

func (p *Pipeline) failed(runID string, item Item, err error) ItemResult {
	p.metrics.BatchItem(string(item.Kind), metrics.OutcomeFailure)
	p.emit(Event{RunID: runID, ItemID: item.ID, Type: EventItemFinished, Severity: domain.SeverityError,
		Message: fmt.Sprintf("%s failed: %s", item.Label(), domain.Truncate(err.Error(), 200))})
	return ItemResult{Item: item, Err: err}
}

func (p *Pipeline) finish(job *Job, summary *Summary) {
	status := StatusCompleted
	severity := domain.SeveritySuccess
	message := fmt.Sprintf("Batch finished: %d succeeded, %d failed", summary.Succeeded, summary.Failed)
	switch {
	case summary.Cancelled:
		status = StatusCancelled
		severity = domain.SeverityWarning
		message = fmt.Sprintf("Batch cancelled after %d of %d item(s)", len(summary.Results), len(job.Items))
	case summary.Succeeded == 0 && summary.Failed > 0:
		status = StatusFailed
		severity = domain.SeverityError
	}
	job.finish(status, time.Now().UTC())
	p.metrics.BatchRun(string(status))
	p.emit(Event{RunID: job.ID, Type: EventTerminal, Severity: severity, Message: message, Status: status})
}

func (p *Pipeline) emit(event Event) {
	logEvent := p.logger.Info()
	if event.Severity == domain.SeverityError || event.Severity == domain.SeverityWarning {
		logEvent = p.logger.Warn()
	}
	logEvent.Str("run_id", event.RunID).Str("item_id", event.ItemID).Str("type", string(event.Type)).Msg("batch: " + event.Message)
	if p.observer != nil {
		p.observer(event)
	}
}
