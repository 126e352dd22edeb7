package watcher

import (
	"errors"
	"time"

	"walkwatcher/internal/logging"
	"walkwatcher/internal/state"
	"walkwatcher/internal/telemetry"
)

// ActionStatus is the outcome of the most recent collect or emit.
type ActionStatus struct {
	At       time.Time     `json:"at"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
	Cycle    int64         `json:"cycle,omitempty"`
	Files    int           `json:"files,omitempty"`
	Lines    int           `json:"lines,omitempty"`
	Failures int           `json:"failures,omitempty"`
}

// Status is a point-in-time snapshot for the status endpoint.
type Status struct {
	ConfigName    string        `json:"config_name"`
	Owner         string        `json:"owner"`
	Roots         []string      `json:"roots"`
	Sinks         []string      `json:"sinks"`
	LockHeld      bool          `json:"lock_held"`
	BufferedLines int           `json:"buffered_lines"`
	LastCollect   *ActionStatus `json:"last_collect,omitempty"`
	LastEmit      *ActionStatus `json:"last_emit,omitempty"`
}

// Status returns a copy of the current snapshot.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	snap := w.status
	w.mu.RUnlock()

	snap.Roots = append([]string(nil), snap.Roots...)
	snap.Sinks = append([]string(nil), snap.Sinks...)
	if snap.LastCollect != nil {
		c := *snap.LastCollect
		snap.LastCollect = &c
	}
	if snap.LastEmit != nil {
		e := *snap.LastEmit
		snap.LastEmit = &e
	}
	snap.LockHeld = w.lock.Held()
	snap.BufferedLines = w.buffer.Len()
	return snap
}

func outcomeOf(ran bool, err error) string {
	switch {
	case errors.Is(err, state.ErrLockLost):
		return telemetry.OutcomeLost
	case err != nil:
		return telemetry.OutcomeFailed
	case !ran:
		return telemetry.OutcomeSkipped
	default:
		return telemetry.OutcomeOK
	}
}

func (w *Watcher) recordCollect(start time.Time, report CollectReport, err error) {
	outcome := outcomeOf(report.Ran, err)
	w.metrics.Cycle(telemetry.ActionCollect, outcome)
	w.logOutcome(telemetry.ActionCollect, outcome, err)

	st := &ActionStatus{
		At:       start,
		Outcome:  outcome,
		Duration: time.Since(start),
		Cycle:    report.Cycle,
		Files:    report.Files,
		Lines:    report.Lines,
	}
	if err != nil {
		st.Error = err.Error()
	}
	w.mu.Lock()
	w.status.LastCollect = st
	w.mu.Unlock()
}

func (w *Watcher) recordEmit(start time.Time, report EmitReport, err error) {
	outcome := outcomeOf(report.Ran, err)
	w.metrics.Cycle(telemetry.ActionEmit, outcome)
	w.logOutcome(telemetry.ActionEmit, outcome, err)

	st := &ActionStatus{
		At:       start,
		Outcome:  outcome,
		Duration: time.Since(start),
		Lines:    report.Lines,
		Failures: report.Failures,
	}
	if err != nil {
		st.Error = err.Error()
	}
	w.mu.Lock()
	w.status.LastEmit = st
	w.mu.Unlock()
}

func (w *Watcher) logOutcome(action, outcome string, err error) {
	switch outcome {
	case telemetry.OutcomeSkipped:
		w.logger.Info("cycle skipped, lock held by another run", logging.String("action", action))
	case telemetry.OutcomeLost:
		logging.WarnWithContext(w.logger, "lock lost before commit", "lock_lost",
			logging.String("action", action),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise system.max_is_running_seconds above the cycle duration"),
			logging.String(logging.FieldImpact, "tracked file changes from this cycle were rolled back"),
		)
	case telemetry.OutcomeFailed:
		logging.ErrorWithContext(w.logger, action+" failed", action+"_failed",
			logging.String("action", action),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state store availability"),
		)
	}
}
