// Package runner is the controller-facing API of the crawler: it starts at
// most one background run at a time and forwards pause, resume and cancel
// requests to the control gate.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/control"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/sink"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
)

// RunStampLayout formats the run timestamp used in output file names.
const RunStampLayout = "20060102150405"

var (
	// ErrRunInProgress is returned by Start while another run is active.
	ErrRunInProgress = errors.New("a crawl run is already in progress")
	// ErrNoActiveRun is returned by control requests when nothing is running.
	ErrNoActiveRun = errors.New("no active crawl run")
	// ErrInvalidTransition is returned when the gate rejects a request.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Outcome is the terminal result of a run.
type Outcome string

// Run outcomes.
const (
	OutcomeRunning   Outcome = "running"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Settings is the immutable configuration applied to every run.
type Settings struct {
	Crawl     crawler.Config
	Fetch     fetcher.Config
	Schema    extract.Schema
	Output    sink.WriterConfig
	OutputDir string

	// RunLogFile is truncated and rewritten by every run; empty disables it.
	RunLogFile string
}

// Clock supplies wall time.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// CacheSaver persists the response cache after each run.
type CacheSaver interface {
	Save() error
}

// Deps are the long-lived collaborators shared by all runs.
type Deps struct {
	Transport fetcher.Transport
	Cache     CacheSaver
	Clock     Clock
	IDs       IDGenerator
	Logger    *zap.Logger

	// Limiter, when set, caps the request rate across runs.
	Limiter fetcher.Limiter

	// Sleeper overrides the fetcher delay and backoff wait.
	Sleeper fetcher.Sleeper
}

// Status is a read-only view of the current or last run.
type Status struct {
	RunID       string           `json:"run_id,omitempty"`
	State       string           `json:"state"`
	Outcome     Outcome          `json:"outcome,omitempty"`
	RunStamp    string           `json:"run_stamp,omitempty"`
	Counters    crawler.Snapshot `json:"counters"`
	Elapsed     string           `json:"elapsed"`
	Output      sink.Paths       `json:"output"`
	ErrorReport string           `json:"error_report,omitempty"`
	Error       string           `json:"error,omitempty"`
	Log         []string         `json:"log,omitempty"`
}

type run struct {
	id     string
	stamp  string
	state  *crawler.RunState
	cancel context.CancelFunc
	done   chan struct{}

	// Set by the run goroutine before done is closed.
	outcome Outcome
	err     error
	paths   sink.Paths
	report  string
	log     []string
}

// Controller owns the gate, the per-run buffers and the active run.
type Controller struct {
	settings Settings
	deps     Deps
	gate     *control.Gate
	report   *logging.ReportBuffer
	result   *sink.Result

	mu     sync.Mutex
	active *run
	last   *run
}

// New builds a Controller.
func New(settings Settings, deps Deps) (*Controller, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, fmt.Errorf("clock and id generator are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	metrics.Init()
	return &Controller{
		settings: settings,
		deps:     deps,
		gate:     control.NewGate(),
		report:   logging.NewReportBuffer(),
		result:   sink.NewResult(deps.Clock),
	}, nil
}

// Gate exposes the control gate, mainly for wait hooks in tests.
func (c *Controller) Gate() *control.Gate {
	return c.gate
}

// Start launches a run in the background.
func (c *Controller) Start() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return Status{}, ErrRunInProgress
	}

	store, err := local.New(local.Config{BaseDir: c.settings.OutputDir})
	if err != nil {
		return Status{}, fmt.Errorf("prepare output dir: %w", err)
	}
	id, err := c.deps.IDs.NewID()
	if err != nil {
		return Status{}, fmt.Errorf("run id: %w", err)
	}
	now := c.deps.Clock.Now()
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:      id,
		stamp:   now.Format(RunStampLayout),
		state:   crawler.NewRunState(now, metrics.NewCounters(c.settings.Crawl.StartURL)),
		cancel:  cancel,
		done:    make(chan struct{}),
		outcome: OutcomeRunning,
	}
	c.active = r
	c.gate.Begin()
	metrics.SetRunActive(true)

	go c.execute(ctx, r, store)
	return c.statusLocked(), nil
}

// Pause requests a pause at the next checkpoint.
func (c *Controller) Pause() (Status, error) {
	return c.transition(c.gate.Pause)
}

// Resume releases a paused run.
func (c *Controller) Resume() (Status, error) {
	return c.transition(c.gate.Resume)
}

// TogglePause flips between running and paused.
func (c *Controller) TogglePause() (Status, error) {
	return c.transition(func() bool {
		s := c.gate.Toggle()
		return s == control.StateRunning || s == control.StatePaused
	})
}

func (c *Controller) transition(fn func() bool) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return c.statusLocked(), ErrNoActiveRun
	}
	if !fn() {
		return c.statusLocked(), fmt.Errorf("%w from %s", ErrInvalidTransition, c.gate.State())
	}
	return c.statusLocked(), nil
}

// Cancel stops the active run and blocks until its goroutine has exited or
// ctx is done.
func (c *Controller) Cancel(ctx context.Context) (Status, error) {
	c.mu.Lock()
	r := c.active
	if r == nil {
		defer c.mu.Unlock()
		return c.statusLocked(), ErrNoActiveRun
	}
	c.gate.Cancel()
	c.mu.Unlock()

	select {
	case <-r.done:
		return c.Status(), nil
	case <-ctx.Done():
		return c.Status(), fmt.Errorf("wait for cancelled run: %w", ctx.Err())
	}
}

// Wait blocks until the active run (if any) finishes and returns its status.
func (c *Controller) Wait(ctx context.Context) (Status, error) {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return c.Status(), fmt.Errorf("wait for run: %w", ctx.Err())
		}
	}
	return c.Status(), nil
}

// Close cancels the active run without waiting for a checkpoint and waits
// for it to exit.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	c.gate.Cancel()
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close runner: %w", ctx.Err())
	}
}

// Status returns the state of the active run, or the last finished run.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	now := c.deps.Clock.Now()
	if r := c.active; r != nil {
		snap := r.state.Snapshot(now)
		return Status{
			RunID:    r.id,
			State:    c.gate.State().String(),
			Outcome:  OutcomeRunning,
			RunStamp: r.stamp,
			Counters: snap,
			Elapsed:  crawler.FormatElapsed(snap.Elapsed),
			Log:      c.report.Tail(200),
		}
	}
	r := c.last
	if r == nil {
		return Status{State: control.StateIdle.String()}
	}
	snap := r.state.Snapshot(now)
	st := Status{
		RunID:       r.id,
		State:       control.StateIdle.String(),
		Outcome:     r.outcome,
		RunStamp:    r.stamp,
		Counters:    snap,
		Output:      r.paths,
		ErrorReport: r.report,
		Log:         r.log,
	}
	st.Elapsed = crawler.FormatElapsed(snap.Elapsed)
	if r.err != nil {
		st.Error = r.err.Error()
	}
	return st
}

func (c *Controller) execute(ctx context.Context, r *run, store *local.BlobStore) {
	defer close(r.done)
	defer r.cancel()

	res := c.crawl(ctx, r, store)

	if c.deps.Cache != nil {
		if serr := c.deps.Cache.Save(); serr != nil {
			c.deps.Logger.Warn("failed to persist response cache", zap.Error(serr))
		}
	}
	written := 0
	if res.outcome == OutcomeSucceeded {
		written = c.result.Len()
	}
	metrics.ObserveRun(string(res.outcome), written)
	metrics.SetRunActive(false)

	c.mu.Lock()
	r.outcome = res.outcome
	r.err = res.err
	r.paths = res.paths
	r.report = res.report
	r.log = c.report.Tail(200)
	c.result.Reset()
	c.report.Reset()
	c.last = r
	c.active = nil
	c.gate.Finish()
	c.mu.Unlock()
}

type runResult struct {
	outcome Outcome
	err     error
	paths   sink.Paths
	report  string
}

// crawl runs the engine and routes its output: flush on success, nothing
// on cancellation, an error report on failure.
func (c *Controller) crawl(ctx context.Context, r *run, store *local.BlobStore) runResult {
	logger, closeLog, err := logging.RunLogger(c.deps.Logger, c.report, c.settings.RunLogFile)
	if err != nil {
		c.deps.Logger.Error("failed to open run log", zap.Error(err))
		return runResult{outcome: OutcomeFailed, err: err}
	}
	defer func() {
		if cerr := closeLog(); cerr != nil {
			c.deps.Logger.Warn("failed to close run log", zap.Error(cerr))
		}
	}()
	logger = logger.With(zap.String("run_id", r.id))

	fail := func(err error) runResult {
		logger.Error("crawl failed", zap.Error(err))
		path, werr := c.report.WriteErrorReport(context.Background(), store, r.stamp, err.Error())
		if werr != nil {
			c.deps.Logger.Error("failed to write error report", zap.Error(werr))
		}
		return runResult{outcome: OutcomeFailed, err: err, report: path}
	}

	var opts []fetcher.Option
	if c.deps.Sleeper != nil {
		opts = append(opts, fetcher.WithSleeper(c.deps.Sleeper))
	}
	if c.deps.Limiter != nil {
		opts = append(opts, fetcher.WithLimiter(c.deps.Limiter))
	}
	f := fetcher.New(c.settings.Fetch, c.deps.Transport, logger, opts...)
	pipeline, err := extract.New(c.settings.Schema, c.settings.Crawl.BaseURL, logger)
	if err != nil {
		return fail(fmt.Errorf("build extraction pipeline: %w", err))
	}
	engine, err := crawler.New(c.settings.Crawl, crawler.Deps{
		Fetcher:  f,
		Gate:     c.gate,
		Pipeline: pipeline,
		Result:   c.result,
		State:    r.state,
		Clock:    c.deps.Clock,
		Logger:   logger,
	})
	if err != nil {
		return fail(fmt.Errorf("build crawler: %w", err))
	}

	lo, hi := fetcher.DelayPolicy{Base: c.settings.Fetch.Delay, Randomize: c.settings.Fetch.Randomize}.Bounds()
	engine.LogBanner(c.settings.Fetch.UserAgent,
		zap.Duration("delay_min", lo),
		zap.Duration("delay_max", hi),
		zap.Int("max_attempts", c.settings.Fetch.MaxAttempts),
		zap.Strings("fields", pipeline.Fields()),
		zap.String("output_dir", store.BaseDir()),
		zap.String("run_stamp", r.stamp),
	)

	err = engine.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, control.ErrCancelled):
		logger.Warn("crawl cancelled, discarding results", zap.Int("records", c.result.Len()))
		return runResult{outcome: OutcomeCancelled, err: err}
	default:
		return fail(err)
	}

	writer := sink.NewWriter(c.settings.Output, store, logger)
	paths, err := writer.Flush(context.Background(), c.result, r.stamp, pipeline.Fields())
	if err != nil {
		return fail(fmt.Errorf("flush results: %w", err))
	}
	logger.Info("results written",
		zap.String("table", paths.Table),
		zap.Int("records", c.result.Len()),
		zap.Int("images", len(paths.ImageFiles)),
	)
	return runResult{outcome: OutcomeSucceeded, paths: paths}
}
