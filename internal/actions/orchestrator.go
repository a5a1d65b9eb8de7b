// Package actions tracks user-triggered remediation runs per anomaly identity.
//
// An Orchestrator belongs to one viewing session. It keeps two maps keyed by
// models.AnomalyID: whether a run is in flight, and the last completed run.
// The orchestrator does not serialise runs for the same identity; callers must
// not dispatch an identity that IsRunning reports as busy. If they do, the
// later completion overwrites the earlier result.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/report-viewer/internal/metrics"
	"github.com/miradorstack/report-viewer/internal/models"
	"github.com/miradorstack/report-viewer/internal/utils"
)

// GenericFailureMessage is surfaced when the executor gives no message of its own.
const GenericFailureMessage = "Failed to run action"

// Executor performs the outbound remediation request.
type Executor interface {
	RunAction(ctx context.Context, req models.ActionRequest) (models.ActionRun, error)
}

// Orchestrator runs remediation actions and records their results by anomaly identity.
type Orchestrator struct {
	executor Executor
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	running  map[models.AnomalyID]bool
	results  map[models.AnomalyID]models.ActionRun
	outcomes map[models.AnomalyID]models.ActionState

	inflight sync.WaitGroup
}

// NewOrchestrator constructs an Orchestrator. A nil notifier discards notifications.
func NewOrchestrator(executor Executor, notifier Notifier, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = discardNotifier{}
	}
	return &Orchestrator{
		executor: executor,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		running:  make(map[models.AnomalyID]bool),
		results:  make(map[models.AnomalyID]models.ActionRun),
		outcomes: make(map[models.AnomalyID]models.ActionState),
	}
}

// Run executes one remediation request for the anomaly and blocks until it
// finishes. On success the run replaces any previous result for the identity;
// on failure no result is stored. The running flag is cleared on every path.
func (o *Orchestrator) Run(ctx context.Context, siteID string, anomaly models.Anomaly) error {
	id := models.IdentityOf(anomaly)
	o.setRunning(id, true)
	defer o.setRunning(id, false)

	logger := o.logger.With(slog.String("anomaly_id", string(id)), slog.String("site_id", siteID))
	logger.Debug("action run started")

	if o.executor == nil {
		return o.fail(id, logger, fmt.Errorf("executor not configured"))
	}

	metrics.ActionStarted()
	defer metrics.ActionFinished()
	start := time.Now()
	run, err := o.executor.RunAction(ctx, models.ActionRequest{
		SiteID:     siteID,
		Anomaly:    anomaly,
		EnrichOnly: true,
	})
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveAction(duration, metrics.OutcomeError)
		return o.fail(id, logger, err)
	}
	metrics.ObserveAction(duration, metrics.OutcomeSuccess)

	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = o.now().UTC()
	}

	o.mu.Lock()
	o.results[id] = run
	o.outcomes[id] = models.ActionCompleted
	o.mu.Unlock()

	logger.Info("action run completed", slog.String("run_id", run.RunID), slog.String("status", string(run.Status)), slog.Duration("duration", duration))
	o.notifier.Notify(Notification{
		Level:     LevelSuccess,
		AnomalyID: id,
		Message:   successMessage(anomaly),
		At:        o.now().UTC(),
	})
	return nil
}

// Dispatch starts Run on its own goroutine and returns the anomaly identity.
// The run is detached from ctx cancellation; there is no abort path once dispatched.
func (o *Orchestrator) Dispatch(ctx context.Context, siteID string, anomaly models.Anomaly) models.AnomalyID {
	id := models.IdentityOf(anomaly)
	o.setRunning(id, true)

	runCtx := context.WithoutCancel(ctx)
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		_ = o.Run(runCtx, siteID, anomaly)
	}()
	return id
}

// Wait blocks until every dispatched run has finished.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// IsRunning reports whether a run for id is in flight.
func (o *Orchestrator) IsRunning(id models.AnomalyID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running[id]
}

// StatusOf returns the lifecycle state for id. Completed and failed are the
// outcome of the last run; both allow a new run just like idle.
func (o *Orchestrator) StatusOf(id models.AnomalyID) models.ActionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[id] {
		return models.ActionRunning
	}
	if state, ok := o.outcomes[id]; ok {
		return state
	}
	return models.ActionIdle
}

// ResultOf returns the last completed run for id.
func (o *Orchestrator) ResultOf(id models.AnomalyID) (models.ActionRun, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.results[id]
	return run, ok
}

// Results returns a snapshot of every stored run.
func (o *Orchestrator) Results() map[models.AnomalyID]models.ActionRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[models.AnomalyID]models.ActionRun, len(o.results))
	for id, run := range o.results {
		out[id] = run
	}
	return out
}

// Running returns the identities currently in flight.
func (o *Orchestrator) Running() []models.AnomalyID {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.AnomalyID, 0, len(o.running))
	for id, busy := range o.running {
		if busy {
			out = append(out, id)
		}
	}
	return out
}

func (o *Orchestrator) fail(id models.AnomalyID, logger *slog.Logger, err error) error {
	o.mu.Lock()
	o.outcomes[id] = models.ActionFailed
	o.mu.Unlock()

	msg := utils.UserMessage(err, GenericFailureMessage)
	logger.Warn("action run failed", slog.String("message", msg), slog.Any("error", err))
	o.notifier.Notify(Notification{
		Level:     LevelError,
		AnomalyID: id,
		Message:   msg,
		At:        o.now().UTC(),
	})
	return fmt.Errorf("run action %s: %w", id, err)
}

func (o *Orchestrator) setRunning(id models.AnomalyID, busy bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if busy {
		o.running[id] = true
		return
	}
	delete(o.running, id)
}

func successMessage(a models.Anomaly) string {
	return fmt.Sprintf("Action completed for %s %s on %s", a.Source, a.Metric, a.Date)
}
