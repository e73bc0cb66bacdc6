// Package pipeline owns the lifecycle of plan generation requests: it builds
// the prompt, drives the model stream through the reconstructor, validates
// the result and publishes caller-visible state.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/chatplan/internal/planner"
	"github.com/mohammad-safakhou/chatplan/internal/stream"
	"github.com/mohammad-safakhou/chatplan/provider"
)

const (
	CancelledMessage = "generation cancelled"
	TimeoutMessage   = "generation timed out"
)

// Options configure one Controller.
type Options struct {
	SearchMode          bool
	Model               string
	Timeout             time.Duration
	FallbackTitle       string
	FallbackDescription string
	Subject             string
}

// RunRecord summarises a finished run for diagnostics. Plans are not kept.
type RunRecord struct {
	ID         string
	Subject    string
	Prompt     string
	Outcome    Outcome
	Error      string
	PlanCount  int
	Fragments  int
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunRecorder persists run summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithRecorder(r RunRecorder) Option {
	return func(c *Controller) { c.recorder = r }
}

func WithStateStore(s *StateStore) Option {
	return func(c *Controller) {
		if s != nil {
			c.state = s
		}
	}
}

// Controller runs at most one generation at a time. Starting a new run
// supersedes (cancels) the one in flight; a superseded run never writes
// state.
type Controller struct {
	streamer provider.Streamer
	opts     Options
	state    *StateStore
	logger   *zap.Logger
	metrics  *Metrics
	recorder RunRecorder

	mu       sync.Mutex
	active   *Run
	lastUsed time.Time
}

func NewController(streamer provider.Streamer, opts Options, options ...Option) *Controller {
	c := &Controller{
		streamer: streamer,
		opts:     opts,
		state:    NewStateStore(),
		logger:   zap.NewNop(),
		lastUsed: time.Now(),
	}
	for _, o := range options {
		o(c)
	}
	c.logger = c.logger.Named("pipeline")
	if opts.Subject != "" {
		c.logger = c.logger.With(zap.String("subject", opts.Subject))
	}
	return c
}

// Run is a handle on one generation request.
type Run struct {
	ID        string
	Prompt    string
	StartedAt time.Time

	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
	err     error
}

// Done is closed once the run has reached a terminal outcome.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends and returns its outcome and cause.
func (r *Run) Wait() (Outcome, error) {
	<-r.done
	return r.outcome, r.err
}

// Start begins a run and returns immediately. The run lives until it
// finishes, ctx is cancelled, Cancel is called or another Start supersedes it.
func (c *Controller) Start(ctx context.Context, prompt string) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	if c.opts.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, c.opts.Timeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}
	run := &Run{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	if prev := c.active; prev != nil {
		c.logger.Info("superseding run", zap.String("run_id", prev.ID), zap.String("by", run.ID))
		prev.cancel()
	}
	c.active = run
	c.lastUsed = run.StartedAt
	prevState := c.state.Load()
	// plans from the previous call stay visible while loading
	c.state.store(State{
		Plans:     prevState.Plans,
		IsLoading: true,
		RunID:     run.ID,
		UpdatedAt: run.StartedAt,
	})
	c.mu.Unlock()

	c.metrics.runStarted()
	go c.execute(runCtx, run)
	return run
}

// Generate runs to completion and returns the resulting snapshot.
func (c *Controller) Generate(ctx context.Context, prompt string) State {
	run := c.Start(ctx, prompt)
	_, _ = run.Wait()
	return c.State()
}

// Cancel stops the in-flight run, if any.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return false
	}
	c.active.cancel()
	return true
}

// State returns the current snapshot.
func (c *Controller) State() State {
	return c.state.Load()
}

// Subscribe streams snapshots; see StateStore.Subscribe.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch, stop := c.state.Subscribe()
	return ch, func() {
		stop()
		c.touch()
	}
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// idleSince returns when the controller was last used. ok is false while a
// run is in flight or a subscriber is attached.
func (c *Controller) idleSince() (since time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil || c.state.subscribers() > 0 {
		return time.Time{}, false
	}
	return c.lastUsed, true
}

func (c *Controller) execute(ctx context.Context, run *Run) {
	defer close(run.done)
	defer run.cancel()

	obs := &runObserver{m: c.metrics}
	plans, err := c.generate(ctx, run, obs)
	outcome := c.finish(ctx, run, plans, err)

	c.record(run, outcome, len(plans), obs.fragments)
}

func (c *Controller) generate(ctx context.Context, run *Run, obs *runObserver) ([]planner.PlanRecord, error) {
	req, err := planner.BuildRequest(planner.UserPrompt(run.Prompt), planner.PromptOptions{
		SearchMode: c.opts.SearchMode,
		Model:      c.opts.Model,
	})
	if err != nil {
		return nil, err
	}
	chunks, err := c.streamer.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	value, err := stream.Reconstruct(ctx, chunks, stream.New(stream.WithObserver(obs)))
	if err != nil {
		return nil, err
	}
	plans, err := planner.Validate(value)
	if err != nil {
		return nil, err
	}
	for i, p := range plans {
		if p.StepCountMismatch() {
			c.logger.Warn("step_num disagrees with steps",
				zap.String("run_id", run.ID), zap.Int("plan", i),
				zap.Int("step_num", p.StepCount), zap.Int("steps", len(p.Steps)))
		}
	}
	return plans, nil
}

// finish publishes the terminal state unless the run was superseded.
func (c *Controller) finish(ctx context.Context, run *Run, plans []planner.PlanRecord, err error) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome, msg := classify(ctx, err)
	if c.active != run {
		outcome = OutcomeSuperseded
	}
	run.outcome, run.err = outcome, err
	fields := []zap.Field{zap.String("run_id", run.ID), zap.String("outcome", string(outcome)), zap.Duration("elapsed", time.Since(run.StartedAt))}

	if outcome == OutcomeSuperseded {
		c.logger.Debug("run superseded", fields...)
		return outcome
	}
	c.active = nil
	c.lastUsed = time.Now()

	next := State{RunID: run.ID, Outcome: outcome, UpdatedAt: time.Now()}
	switch outcome {
	case OutcomeSucceeded:
		next.Plans = plans
		c.logger.Info("plans generated", append(fields, zap.Int("plans", len(plans)))...)
	case OutcomeCancelled:
		next.Plans = c.state.Load().Plans
		next.Error = msg
		c.logger.Info("run cancelled", fields...)
	default:
		next.Plans = []planner.PlanRecord{planner.FallbackPlan(c.opts.FallbackTitle, c.opts.FallbackDescription)}
		next.Error = msg
		c.logger.Warn("plan generation failed", append(fields, zap.Error(err))...)
	}
	c.state.store(next)
	return outcome
}

func classify(ctx context.Context, err error) (Outcome, string) {
	switch {
	case err == nil:
		return OutcomeSucceeded, ""
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return OutcomeFailed, TimeoutMessage
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return OutcomeCancelled, CancelledMessage
	default:
		return OutcomeFailed, err.Error()
	}
}

func (c *Controller) record(run *Run, outcome Outcome, planCount, fragments int) {
	finished := time.Now()
	c.metrics.runFinished(outcome, finished.Sub(run.StartedAt).Seconds())
	if c.recorder == nil {
		return
	}
	rec := RunRecord{
		ID:         run.ID,
		Subject:    c.opts.Subject,
		Prompt:     run.Prompt,
		Outcome:    outcome,
		PlanCount:  planCount,
		Fragments:  fragments,
		StartedAt:  run.StartedAt,
		FinishedAt: finished,
	}
	if run.err != nil {
		rec.Error = run.err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.recorder.RecordRun(ctx, rec); err != nil {
		c.logger.Warn("record run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}
