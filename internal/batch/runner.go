package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/infra"
	"github.com/nguyen2715-hue/web/internal/metrics"
)

// ErrRunAlreadyActive is returned when starting a second run.
var ErrRunAlreadyActive = errors.New("batch run already active")

// ErrNoActiveRun is returned when cancel is requested while idle.
var ErrNoActiveRun = errors.New("no active batch run")

// RunnerOptions wires a Runner. Generator is required.
type RunnerOptions struct {
	Generator domain.Generator
	Pacer     Pacer
	Overlay   Overlay
	Store     ResultStore
	Bus       *EventBus
	Logger    *infra.Logger
	Metrics   *metrics.Collector
}

type activeRun struct {
	job      *Job
	pipeline *Pipeline
	done     chan struct{}
	summary  Summary
}

// Runner executes at most one batch in the background and keeps the last
// run available for inspection.
type Runner struct {
	base context.Context
	opts RunnerOptions
	bus  *EventBus
	log  *infra.Logger

	mu      sync.RWMutex
	current *activeRun
}

// NewRunner creates an idle runner. Runs inherit base, so cancelling base
// aborts a run at its next suspension point.
func NewRunner(base context.Context, opts RunnerOptions) (*Runner, error) {
	if opts.Generator == nil {
		return nil, errors.New("batch: generator is required")
	}
	bus := opts.Bus
	if bus == nil {
		bus = NewEventBus(0)
	}
	return &Runner{base: base, opts: opts, bus: bus, log: infra.LoggerOrDiscard(opts.Logger)}, nil
}

// Start launches a run over items and returns its ID.
func (r *Runner) Start(items []Item) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && !isDone(r.current.done) {
		return "", ErrRunAlreadyActive
	}

	run := &activeRun{
		job:  NewJob(uuid.NewString(), items),
		done: make(chan struct{}),
	}
	run.pipeline = NewPipeline(Options{
		Pacer:    r.opts.Pacer,
		Overlay:  r.opts.Overlay,
		Store:    r.opts.Store,
		Observer: func(e Event) { r.bus.Publish(e) },
		Logger:   r.opts.Logger,
		Metrics:  r.opts.Metrics,
	})
	r.current = run

	go func() {
		defer close(run.done)
		summary := run.pipeline.RunJob(r.base, run.job, r.opts.Generator)
		r.mu.Lock()
		run.summary = summary
		r.mu.Unlock()
	}()
	return run.job.ID, nil
}

// Cancel requests cooperative cancellation of the active run.
func (r *Runner) Cancel() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil || isDone(r.current.done) {
		return ErrNoActiveRun
	}
	r.current.pipeline.Cancel()
	r.log.Info().Str("run_id", r.current.job.ID).Msg("batch: cancel requested")
	return nil
}

// Current returns the latest run's snapshot.
func (r *Runner) Current() (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Snapshot{}, false
	}
	return r.current.job.Snapshot(), true
}

// Active reports whether a run is in progress.
func (r *Runner) Active() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current != nil && !isDone(r.current.done)
}

// Wait blocks until the latest run finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context) (Summary, error) {
	r.mu.RLock()
	run := r.current
	r.mu.RUnlock()
	if run == nil {
		return Summary{}, ErrNoActiveRun
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return run.summary, nil
}

// Results returns the latest run's recorded results in order.
func (r *Runner) Results() []ItemResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil
	}
	return r.current.job.Results()
}

// Events returns bus events after seq.
func (r *Runner) Events(since int64) []Event {
	return r.bus.Since(since)
}

// Progress returns a sink that republishes provider progress lines on the
// bus, tagged with the active run.
func (r *Runner) Progress() domain.ProgressSink {
	return func(message string) {
		parsed := domain.ParseProgress(message)
		r.mu.RLock()
		runID := ""
		if r.current != nil {
			runID = r.current.job.ID
		}
		r.mu.RUnlock()
		r.bus.Publish(Event{RunID: runID, Type: EventProgress, Severity: parsed.Severity, Message: parsed.Message})
	}
}

func isDone(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
