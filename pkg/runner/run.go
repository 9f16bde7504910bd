package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/gristmill/pkg/ledger"
	"github.com/3leaps/gristmill/pkg/operation"
	"github.com/3leaps/gristmill/pkg/output"
	"github.com/3leaps/gristmill/pkg/runlog"
	"github.com/3leaps/gristmill/pkg/store"
	"github.com/3leaps/gristmill/pkg/tracking"
)

// prepared is the state Run and Plan share: the discovered inputs, the
// reconciled working ledger, and the plan built from both.
type prepared struct {
	plan   *Plan
	ledger *ledger.Ledger
}

// Plan performs discovery, ledger load, reconciliation, and planning
// without processing anything. Used by plan commands and dry runs.
func (r *Runner) Plan(ctx context.Context) (*Plan, error) {
	prep, err := r.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return prep.plan, nil
}

// prepare runs the discovering and planning phases.
func (r *Runner) prepare(ctx context.Context) (*prepared, error) {
	r.phase.Store(output.PhaseDiscovering)

	inputs, err := r.store.ListInputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	r.discovered.Store(int64(len(inputs)))

	r.phase.Store(output.PhasePlanning)

	l := r.cfg.Ledger
	if l == nil {
		path, found, err := r.store.FetchLedger(ctx, r.cfg.LedgerName)
		if err != nil {
			return nil, fmt.Errorf("fetch ledger: %w", err)
		}
		if !found {
			l = ledger.New()
		} else {
			// Corrupt persisted state is fatal: resuming on top of an
			// unreadable ledger risks silent duplication.
			l, err = ledger.LoadFile(path)
			if err != nil {
				return nil, err
			}
		}
	}

	l.WidenColumns(r.op.Columns())
	l.WidenColumns([]string{ledger.ColError})

	report, err := l.Reconcile(ctx, r.store.ProbeExists)
	if err != nil {
		return nil, fmt.Errorf("reconcile ledger: %w", err)
	}
	r.demoted.Store(int64(len(report.Demoted)))
	for id, probeErr := range report.ProbeErrors {
		r.errors.Add(1)
		r.logger.Warn("Reconcile probe failed; keeping record",
			zap.String("identity", id),
			zap.Error(probeErr))
	}
	if len(report.Demoted) > 0 {
		r.logger.Info("Reconciliation demoted stale completions",
			zap.Strings("identities", report.Demoted))
	}

	plan := r.buildPlan(inputs, l, report.Demoted)
	r.planned.Store(int64(len(plan.Items)))
	r.skipped.Store(int64(plan.Skipped()))

	for i := range plan.Skips {
		if err := r.writer.WriteSkip(ctx, &plan.Skips[i]); err != nil {
			r.logger.Warn("Failed to write skip record", zap.Error(err))
		}
	}

	return &prepared{plan: plan, ledger: l}, nil
}

// Run executes the full control loop. Per-file failures are recorded in
// the ledger and never abort the run; only unreadable ledger state,
// storage setup failures, and cancellation are fatal.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	runID := r.cfg.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	if err := r.cfg.RunLog.BeginRun(ctx, runlog.Run{
		RunID:       runID,
		Fingerprint: r.cfg.Fingerprint,
		Name:        r.cfg.Name,
		Source:      r.cfg.Source,
		Destination: r.cfg.Destination,
		Operation:   r.op.Name(),
	}); err != nil {
		r.logger.Warn("Failed to record run start", zap.Error(err))
	}

	prep, err := r.prepare(ctx)
	if err != nil {
		r.finishRunLog(ctx, runID, runlog.StateFailed)
		return r.summary(""), err
	}

	sum, runErr := r.process(ctx, runID, prep)

	state := runlog.StateCompleted
	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		state = runlog.StateInterrupted
	case runErr != nil:
		state = runlog.StateFailed
	}
	r.finishRunLog(ctx, runID, state)

	duration := time.Since(start)
	if werr := r.writer.WriteSummary(context.WithoutCancel(ctx), &output.SummaryRecord{
		Discovered:    sum.Discovered,
		Planned:       sum.Planned,
		Completed:     sum.Completed,
		Failed:        sum.Failed,
		Skipped:       sum.Skipped,
		Demoted:       sum.Demoted,
		Errors:        sum.Errors,
		Duration:      duration,
		DurationHuman: duration.Round(time.Millisecond).String(),
		LedgerRef:     sum.LedgerRef,
	}); werr != nil {
		r.logger.Warn("Failed to write summary record", zap.Error(werr))
	}

	return sum, runErr
}

// process drives the processing and publishing phases.
func (r *Runner) process(ctx context.Context, runID string, prep *prepared) (*Summary, error) {
	l := prep.ledger
	r.phase.Store(output.PhaseProcessing)

	for _, in := range prep.plan.Items {
		if err := ctx.Err(); err != nil {
			// Stopping between files is safe: the in-flight file never
			// reached the ledger, so the next run re-selects it.
			return r.summary(""), err
		}

		r.processOne(ctx, runID, in, l)
		r.processed.Add(1)

		if r.cfg.ProgressEvery > 0 && r.processed.Load()%int64(r.cfg.ProgressEvery) == 0 {
			if err := r.writer.WriteProgress(ctx, r.Progress()); err != nil {
				r.logger.Warn("Failed to write progress record", zap.Error(err))
			}
		}
	}

	r.phase.Store(output.PhasePublishing)

	ledgerRef := ""
	if l.Len() > 0 || prep.plan.Discovered > 0 {
		if err := l.PersistFile(r.ledgerPath()); err != nil {
			return r.summary(""), fmt.Errorf("persist ledger: %w", err)
		}
		if err := r.store.PublishLedger(ctx, r.ledgerPath(), r.cfg.LedgerName); err != nil {
			return r.summary(""), fmt.Errorf("publish ledger: %w", err)
		}
		ledgerRef = r.cfg.LedgerName
	}

	r.phase.Store(output.PhaseComplete)
	return r.summary(ledgerRef), nil
}

// processOne drives a single identity: fetch, operation, mark, persist,
// publish, track. Every failure path records the identity as failed and
// returns normally so the loop continues.
func (r *Runner) processOne(ctx context.Context, runID string, in store.Input, l *ledger.Ledger) {
	start := time.Now()

	localPath, err := r.store.Fetch(ctx, in)
	if err != nil {
		r.recordFailure(ctx, runID, in, l, 0, time.Since(start), fmt.Errorf("fetch: %w", err))
		return
	}

	res, attempts, err := r.invoke(ctx, in, localPath)
	if err != nil {
		r.recordFailure(ctx, runID, in, l, attempts, time.Since(start), err)
		return
	}

	ref := r.store.OutputRef(in.Identity)
	if err := l.MarkCompleted(in.Identity, ref, res.Fields); err != nil {
		// An undeclared field is an operation contract violation: failed
		// for this identity, never fatal.
		r.recordFailure(ctx, runID, in, l, attempts, time.Since(start), err)
		return
	}
	r.persistLedger(ctx, l, in.Identity)

	if _, err := r.store.Publish(ctx, res.OutputDir, in.Identity); err != nil {
		// The completed mark is already durable; overwrite it so the
		// ledger never claims an output that was not published.
		r.recordFailure(ctx, runID, in, l, attempts, time.Since(start), fmt.Errorf("publish: %w", err))
		return
	}

	r.completed.Add(1)

	if err := r.tracker.Update(ctx, in.Identity, ref); err != nil {
		r.errors.Add(1)
		if tracking.IsRowNotFound(err) {
			r.logger.Warn("No tracking row for identity", zap.String("identity", in.Identity))
		} else {
			r.logger.Warn("Tracking update failed", zap.String("identity", in.Identity), zap.Error(err))
		}
	}

	duration := time.Since(start)
	if err := r.writer.WriteFile(ctx, &output.FileRecord{
		Identity: in.Identity,
		Name:     in.Name,
		Status:   string(ledger.StatusCompleted),
		Result:   ref,
		Fields:   res.Fields,
		Attempts: attempts,
		Duration: duration,
	}); err != nil {
		r.logger.Warn("Failed to write file record", zap.Error(err))
	}
	if err := r.cfg.RunLog.RecordFile(ctx, runID, runlog.FileEvent{
		Identity: in.Identity,
		Status:   string(ledger.StatusCompleted),
		Result:   ref,
		Duration: duration,
	}); err != nil {
		r.logger.Warn("Failed to record file event", zap.Error(err))
	}

	r.logger.Info("Processed file",
		zap.String("identity", in.Identity),
		zap.String("result", ref),
		zap.Int("attempts", attempts),
		zap.Duration("duration", duration))
}

// invoke runs the operation with bounded in-run retries. Operations are
// idempotent by contract, so re-invoking after a failure is safe. Panics
// are contained here: an operation must never take down the run.
func (r *Runner) invoke(ctx context.Context, in store.Input, localPath string) (res *operation.Result, attempts int, err error) {
	opInput := operation.Input{
		Path:      localPath,
		OutputDir: r.stagingDir(),
		Identity:  in.Identity,
	}

	for attempts = 1; ; attempts++ {
		res, err = r.invokeOnce(ctx, opInput)
		if err == nil {
			if res == nil {
				return nil, attempts, fmt.Errorf("operation %s: returned no result and no error", r.op.Name())
			}
			if res.OutputDir == "" {
				return nil, attempts, fmt.Errorf("operation %s: returned an empty output directory", r.op.Name())
			}
			return res, attempts, nil
		}
		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}
		if attempts > r.cfg.OpRetries {
			return nil, attempts, err
		}
		r.logger.Warn("Operation failed; retrying",
			zap.String("identity", in.Identity),
			zap.Int("attempt", attempts),
			zap.Error(err))
	}
}

func (r *Runner) invokeOnce(ctx context.Context, in operation.Input) (res *operation.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("operation %s: panic: %v", r.op.Name(), p)
		}
	}()
	return r.op.Process(ctx, in)
}

// recordFailure marks an identity failed, persists the ledger, and emits
// the failure records. The run continues.
func (r *Runner) recordFailure(ctx context.Context, runID string, in store.Input, l *ledger.Ledger, attempts int, duration time.Duration, cause error) {
	reason := cause.Error()

	if err := l.MarkFailed(in.Identity, reason, nil); err != nil {
		r.logger.Error("Failed to record failure", zap.String("identity", in.Identity), zap.Error(err))
	}
	r.persistLedger(ctx, l, in.Identity)

	r.failed.Add(1)
	r.errors.Add(1)

	if err := r.writer.WriteFile(ctx, &output.FileRecord{
		Identity: in.Identity,
		Name:     in.Name,
		Status:   string(ledger.StatusFailed),
		Attempts: attempts,
		Duration: duration,
		Error:    reason,
	}); err != nil {
		r.logger.Warn("Failed to write file record", zap.Error(err))
	}
	if err := r.writer.WriteError(ctx, &output.ErrorRecord{
		Code:     errorCode(cause),
		Message:  reason,
		Identity: in.Identity,
	}); err != nil {
		r.logger.Warn("Failed to write error record", zap.Error(err))
	}
	if err := r.cfg.RunLog.RecordFile(ctx, runID, runlog.FileEvent{
		Identity: in.Identity,
		Status:   string(ledger.StatusFailed),
		Error:    reason,
		Duration: duration,
	}); err != nil {
		r.logger.Warn("Failed to record file event", zap.Error(err))
	}

	r.logger.Warn("File failed",
		zap.String("identity", in.Identity),
		zap.String("reason", reason))
}

// persistLedger makes the ledger durable after one file: the working copy
// is rewritten atomically, then pushed to the destination so a crash loses
// at most the in-flight file even on the remote variant. Persist problems
// are logged and counted, never fatal: the record itself is already in
// memory and will be retried by the end-of-run publish.
func (r *Runner) persistLedger(ctx context.Context, l *ledger.Ledger, identity string) {
	if err := l.PersistFile(r.ledgerPath()); err != nil {
		r.logger.Error("Failed to persist ledger", zap.String("identity", identity), zap.Error(err))
		r.errors.Add(1)
		return
	}
	if err := r.store.PublishLedger(ctx, r.ledgerPath(), r.cfg.LedgerName); err != nil {
		r.logger.Error("Failed to publish ledger", zap.String("identity", identity), zap.Error(err))
		r.errors.Add(1)
	}
}

func (r *Runner) finishRunLog(ctx context.Context, runID string, state runlog.State) {
	err := r.cfg.RunLog.FinishRun(context.WithoutCancel(ctx), runID, state, runlog.Counts{
		Discovered: r.discovered.Load(),
		Planned:    r.planned.Load(),
		Completed:  r.completed.Load(),
		Failed:     r.failed.Load(),
		Skipped:    r.skipped.Load(),
		Demoted:    r.demoted.Load(),
	})
	if err != nil {
		r.logger.Warn("Failed to record run finish", zap.Error(err))
	}
}

func (r *Runner) summary(ledgerRef string) *Summary {
	return &Summary{
		Discovered: r.discovered.Load(),
		Planned:    r.planned.Load(),
		Completed:  r.completed.Load(),
		Failed:     r.failed.Load(),
		Skipped:    r.skipped.Load(),
		Demoted:    r.demoted.Load(),
		Errors:     r.errors.Load(),
		LedgerRef:  ledgerRef,
	}
}

func errorCode(err error) string {
	switch {
	case store.IsNotFound(err), store.IsSourceNotFound(err):
		return output.ErrCodeNotFound
	case store.IsAccessDenied(err), store.IsInvalidCredentials(err):
		return output.ErrCodeAccessDenied
	case store.IsThrottled(err):
		return output.ErrCodeThrottled
	case errors.Is(err, context.DeadlineExceeded):
		return output.ErrCodeTimeout
	default:
		return output.ErrCodeOperation
	}
}
