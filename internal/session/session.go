// Package session owns the single active run of the process. It builds the
// run's collaborators, fans classified engine messages out to them in a fixed
// order, waits for completion or timeout, and tears everything down through
// one path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/iambrandonn/planact/internal/autorespond"
	"github.com/iambrandonn/planact/internal/classifier"
	"github.com/iambrandonn/planact/internal/completion"
	"github.com/iambrandonn/planact/internal/engine"
	"github.com/iambrandonn/planact/internal/eventlog"
	"github.com/iambrandonn/planact/internal/phase"
	"github.com/iambrandonn/planact/internal/protocol"
	"github.com/iambrandonn/planact/internal/recorder"
	"github.com/iambrandonn/planact/internal/runstate"
	"github.com/iambrandonn/planact/internal/timers"
	"github.com/iambrandonn/planact/internal/transcript"
	"github.com/iambrandonn/planact/internal/workspace"
)

var (
	// ErrRunActive is returned by Start while another run is in progress.
	ErrRunActive = errors.New("a run is already active")
	// ErrNoTaskID means the engine started a task without reporting its id.
	ErrNoTaskID = errors.New("engine did not return a task id")
	// ErrShutdown is returned by Start after Shutdown.
	ErrShutdown = errors.New("session manager is shut down")
	// ErrWorkspace wraps workspace preparation failures.
	ErrWorkspace = errors.New("workspace not usable")
)

// Settings are the run parameters that do not come with a request
type Settings struct {
	Workspace            string
	ResultsDir           string
	Timeout              time.Duration
	PhaseSwitchDelay     time.Duration
	AutoRespondDelay     time.Duration
	BlindInterval        time.Duration
	DefaultProvider      string
	FilenameMaxTaskChars int
}

// DefaultSettings mirror the defaults of the configuration file
func DefaultSettings(workspacePath string) Settings {
	return Settings{
		Workspace:            workspacePath,
		ResultsDir:           "results",
		Timeout:              30 * time.Minute,
		PhaseSwitchDelay:     phase.DefaultSwitchDelay,
		AutoRespondDelay:     autorespond.DefaultDelay,
		BlindInterval:        autorespond.DefaultBlindInterval,
		DefaultProvider:      "gemini",
		FilenameMaxTaskChars: recorder.DefaultMaxTaskChars,
	}
}

// Request starts one run
type Request struct {
	Task            string
	APIKey          string
	APIProvider     string
	BlindInterval   time.Duration
	ResultsFilename string
}

// Outcome is the result of a finished run
type Outcome struct {
	RunID       string
	TaskID      string
	Completed   bool
	TimedOut    bool
	Aborted     bool
	ResultsPath string
	Snapshot    recorder.Snapshot
}

// Manager runs tasks against one shared engine, one at a time
type Manager struct {
	engine    engine.Engine
	settings  Settings
	logger    *slog.Logger
	formatter *transcript.Formatter

	mu       sync.Mutex
	active   *activeRun
	shutdown bool
}

// activeRun is the teardown handle of the current run
type activeRun struct {
	abort     chan struct{}
	abortOnce sync.Once
	done      chan struct{}
	run       *runstate.Run
}

func (a *activeRun) stop() {
	a.abortOnce.Do(func() { close(a.abort) })
}

// NewManager creates a manager driving eng
func NewManager(eng engine.Engine, settings Settings, logger *slog.Logger) *Manager {
	def := DefaultSettings(settings.Workspace)
	if settings.ResultsDir == "" {
		settings.ResultsDir = def.ResultsDir
	}
	if settings.Timeout <= 0 {
		settings.Timeout = def.Timeout
	}
	if settings.DefaultProvider == "" {
		settings.DefaultProvider = def.DefaultProvider
	}
	if settings.FilenameMaxTaskChars <= 0 {
		settings.FilenameMaxTaskChars = def.FilenameMaxTaskChars
	}
	return &Manager{
		engine:    eng,
		settings:  settings,
		logger:    logger.With("component", "session"),
		formatter: transcript.NewFormatter(),
	}
}

// Bootstrap enables every engine-side auto-approval action
func (m *Manager) Bootstrap(ctx context.Context) error {
	if err := m.engine.UpdateAutoApproval(ctx, protocol.PermissiveAutoApproval()); err != nil {
		return fmt.Errorf("failed to update auto-approval settings: %w", err)
	}
	m.logger.Info("auto-approval enabled for all actions")
	return nil
}

// Active returns the current run, or nil
func (m *Manager) Active() *runstate.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	return m.active.run
}

// IsShutdown reports whether Shutdown was called
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Shutdown refuses new runs and ends the active one, waiting for its final
// snapshot until ctx expires. It is safe to call repeatedly and with no run.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	active := m.active
	m.mu.Unlock()

	if active == nil {
		return nil
	}

	m.logger.Info("shutdown requested, ending active run")
	active.stop()

	select {
	case <-active.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to end active run: %w", ctx.Err())
	}
}

// Start runs req to completion, timeout or shutdown. A run error is returned
// only when the run never started; a timeout is a successful outcome.
func (m *Manager) Start(ctx context.Context, req Request) (Outcome, error) {
	active, err := m.reserve()
	if err != nil {
		return Outcome{}, err
	}
	defer m.release(active)

	// The run outlives a cancelled request only through Shutdown.
	runCtx := context.WithoutCancel(ctx)

	wsPath, useGit, err := m.prepareWorkspace(runCtx)
	if err != nil {
		return Outcome{}, err
	}

	resultsDir := filepath.Join(wsPath, m.settings.ResultsDir)
	outputPath, err := recorder.ResultsPath(resultsDir, req.Task, req.ResultsFilename, m.settings.FilenameMaxTaskChars, time.Now())
	if err != nil {
		return Outcome{}, err
	}

	if err := m.engine.ClearTask(runCtx); err != nil {
		return Outcome{}, fmt.Errorf("failed to clear previous task: %w", err)
	}

	if req.APIKey != "" {
		provider := req.APIProvider
		if provider == "" {
			provider = m.settings.DefaultProvider
		}
		cfg := protocol.APIConfig{
			APIProvider:         provider,
			APIKey:              req.APIKey,
			PlanModeAPIProvider: provider,
			ActModeAPIProvider:  provider,
		}
		if err := m.engine.UpdateAPIConfig(runCtx, cfg); err != nil {
			return Outcome{}, fmt.Errorf("failed to update API configuration: %w", err)
		}
		m.logger.Info("API configuration updated", "provider", provider)
	}

	if err := m.engine.SetMode(runCtx, protocol.ModePlan); err != nil {
		return Outcome{}, fmt.Errorf("failed to force plan mode: %w", err)
	}

	run := runstate.NewRun(req.Task, wsPath, outputPath)
	logger := m.logger.With("run_id", run.ID)

	m.mu.Lock()
	active.run = run
	m.mu.Unlock()

	registry := timers.NewRegistry(logger)
	defer registry.Stop()

	signal := completion.NewSignal()
	coordinator := phase.NewCoordinator(run, m.engine, registry, m.settings.PhaseSwitchDelay, logger)
	detector := completion.NewDetector(run, m.engine, signal, logger)

	interval := m.settings.BlindInterval
	if req.BlindInterval > 0 {
		interval = req.BlindInterval
	}
	responder := autorespond.New(run, m.engine, registry, m.settings.AutoRespondDelay, interval, logger)

	inspector := workspace.NewInspector(wsPath, useGit, []string{m.settings.ResultsDir}, logger)
	rec := recorder.New(run, m.engine, inspector, logger)

	ledger, err := eventlog.NewEventLog(recorder.SidecarPath(outputPath, ".events.ndjson"), logger)
	if err != nil {
		logger.Warn("event ledger unavailable", "error", err)
		ledger = nil
	}
	if ledger != nil {
		defer ledger.Close()
	}

	d := &dispatcher{
		run:         run,
		coordinator: coordinator,
		detector:    detector,
		responder:   responder,
		recorder:    rec,
		ledger:      ledger,
		formatter:   m.formatter,
		ctx:         runCtx,
		logger:      logger,
	}
	unsubscribe := m.engine.Subscribe(engine.Subscriber{
		Name:            "run/" + run.ID,
		OnMessage:       d.onMessage,
		OnModelResponse: d.onModelResponse,
	})
	defer unsubscribe()

	logger.Info("starting task", "task", req.Task, "results", outputPath, "git", useGit)

	taskID, err := m.engine.InitTask(runCtx, req.Task)
	if err != nil {
		run.MarkFailed()
		return Outcome{}, fmt.Errorf("failed to start task: %w", err)
	}
	if taskID == "" {
		run.MarkFailed()
		return Outcome{}, ErrNoTaskID
	}
	run.SetTaskID(taskID)
	logger.Info("task started", "task_id", taskID)

	responder.StartBlindApproval()

	timeout := time.NewTimer(m.settings.Timeout)
	defer timeout.Stop()

	outcome := Outcome{RunID: run.ID, TaskID: taskID, ResultsPath: outputPath}
	select {
	case <-signal.Done():
		run.MarkCompleted()
		outcome.Completed = true
	case <-timeout.C:
		run.MarkTimedOut()
		outcome.TimedOut = true
		logger.Warn("task timed out", "timeout", m.settings.Timeout)
	case <-active.abort:
		run.MarkAborted()
		outcome.Aborted = true
		logger.Warn("task aborted by shutdown")
	}

	// Periodic and pending approvals end with the run; nothing may act on it after this.
	cancelled := registry.Pending()
	registry.Stop()
	unsubscribe()

	snap, err := rec.Finalize(runCtx, outcome.Completed)
	if err != nil {
		logger.Error("failed to persist final results", "error", err)
	}
	outcome.Snapshot = snap

	logger.Info("run finished",
		"status", run.Status(),
		"elapsed", run.Elapsed(),
		"timers_cancelled", cancelled,
		"approvals", responder.Approved(),
		"approvals_discarded", responder.Discarded())
	return outcome, nil
}

func (m *Manager) reserve() (*activeRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, ErrShutdown
	}
	if m.active != nil {
		return nil, ErrRunActive
	}
	m.active = &activeRun{
		abort: make(chan struct{}),
		done:  make(chan struct{}),
	}
	return m.active, nil
}

func (m *Manager) release(active *activeRun) {
	m.mu.Lock()
	if m.active == active {
		m.active = nil
	}
	m.mu.Unlock()
	close(active.done)
}

func (m *Manager) prepareWorkspace(ctx context.Context) (string, bool, error) {
	wsPath, err := workspace.Validate(m.settings.Workspace)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w\n\nHint: Start 'planact serve' with --workspace pointing at an existing, writable directory", ErrWorkspace, err)
	}

	useGit, err := workspace.EnsureGit(ctx, wsPath, m.logger)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w\n\nHint: Install git and make sure it can initialize a repository in %s", ErrWorkspace, err, wsPath)
	}

	if n, err := workspace.CountEntries(wsPath); err != nil {
		m.logger.Warn("failed to list workspace", "workspace", wsPath, "error", err)
	} else {
		m.logger.Info("workspace ready", "workspace", wsPath, "entries", n, "git", useGit)
	}
	return wsPath, useGit, nil
}

// dispatcher hands each engine message to the run's consumers in a fixed order
type dispatcher struct {
	run         *runstate.Run
	coordinator *phase.Coordinator
	detector    *completion.Detector
	responder   *autorespond.Responder
	recorder    *recorder.Recorder
	ledger      *eventlog.EventLog
	formatter   *transcript.Formatter
	ctx         context.Context
	logger      *slog.Logger
}

func (d *dispatcher) onMessage(msg protocol.Message) {
	evt, ok := classifier.Classify(msg)
	if !ok {
		d.logger.Debug("unclassified message", "ts", msg.Ts, "type", msg.Type, "ask", msg.Ask, "say", msg.Say)
		if !msg.Partial {
			if err := d.recorder.SaveIncremental(d.ctx); err != nil && !errors.Is(err, recorder.ErrFinalized) {
				d.logger.Warn("failed to save incremental snapshot", "error", err)
			}
		}
		return
	}

	if evt.Final() {
		d.logger.Debug(d.formatter.FormatEvent(evt), "phase", d.run.Phase())
	}

	d.coordinator.Handle(evt)
	d.detector.Handle(evt)
	d.responder.Handle(evt)
	d.recorder.Observe(d.ctx, evt)

	if d.ledger != nil {
		if err := d.ledger.Write(d.run.Phase(), evt); err != nil {
			d.logger.Debug("failed to append to event ledger", "error", err)
		}
	}
}

func (d *dispatcher) onModelResponse(resp protocol.ModelResponse) {
	d.recorder.ObserveModelResponse(d.ctx, resp)
}
