// Package runner implements the resumable processing run: discover inputs,
// plan against the reconciled ledger, drive each file through the operation,
// and publish outputs plus the ledger back to the destination.
package runner

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/3leaps/gristmill/pkg/ledger"
	"github.com/3leaps/gristmill/pkg/match"
	"github.com/3leaps/gristmill/pkg/operation"
	"github.com/3leaps/gristmill/pkg/output"
	"github.com/3leaps/gristmill/pkg/runlog"
	"github.com/3leaps/gristmill/pkg/store"
	"github.com/3leaps/gristmill/pkg/tracking"
)

// Config configures a processing run.
type Config struct {
	// Store supplies discovery, fetch, publish, and ledger transport.
	Store store.Store

	// Operation is the per-file transformation.
	Operation operation.Operation

	// LedgerName is the ledger file name at the destination.
	LedgerName string

	// MaxFiles caps the run plan. Zero or negative means unlimited.
	MaxFiles int

	// OpRetries is the number of additional operation attempts after a
	// failure within the same run. Zero means one attempt.
	OpRetries int

	// Workdir is the scratch root: the working ledger copy and staged
	// operation outputs live under it.
	Workdir string

	// Matcher restricts inputs by name patterns. Nil matches everything.
	Matcher *match.Matcher

	// Filter restricts inputs by metadata. Nil matches everything.
	Filter *match.CompositeFilter

	// Tracker annotates the tracking table after completions. Nil means
	// no tracking.
	Tracker tracking.Tracker

	// RunLog records run history. A nil store records nothing.
	RunLog *runlog.Store

	// Writer receives JSONL run records. Nil discards them.
	Writer output.Writer

	// Logger receives structured progress. Nil logs nothing.
	Logger *zap.Logger

	// RunID is the correlation ID for this run.
	RunID string

	// Name is the manifest name, recorded in run history.
	Name string

	// Source and Destination are the configured location URIs, recorded
	// in run history for display only.
	Source      string
	Destination string

	// Fingerprint identifies the job configuration across runs.
	Fingerprint string

	// ProgressEvery emits a progress record every N processed files.
	// Zero disables periodic progress.
	ProgressEvery int

	// Ledger, when non-nil, is a preloaded persisted ledger (typically
	// from preflight) so the run does not fetch it a second time.
	Ledger *ledger.Ledger
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		LedgerName:    "ledger.csv",
		ProgressEvery: 10,
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("runner: store is required")
	}
	if c.Operation == nil {
		return fmt.Errorf("runner: operation is required")
	}
	if strings.TrimSpace(c.Workdir) == "" {
		return fmt.Errorf("runner: workdir is required")
	}
	if c.OpRetries < 0 {
		return fmt.Errorf("runner: op retries cannot be negative")
	}
	return nil
}

// Plan is the immutable per-run work list: discovered inputs minus
// completed, filtered, and duplicate identities, truncated to the cap.
type Plan struct {
	// Items are the inputs to process, ordered by identity.
	Items []store.Input

	// Discovered is the total number of inputs listed at the source.
	Discovered int

	// Demoted lists identities reconciliation returned to pending.
	Demoted []string

	// SkippedCompleted counts inputs with a surviving completed record.
	SkippedCompleted int

	// SkippedFiltered counts inputs rejected by matcher or filters.
	SkippedFiltered int

	// SkippedDuplicate counts inputs whose identity was already claimed.
	SkippedDuplicate int

	// SkippedCap counts inputs cut by the max files cap.
	SkippedCap int

	// Skips carries the per-input skip records to emit: completed,
	// duplicate, and capped inputs. Filter rejections are counted only.
	Skips []output.SkipRecord
}

// Skipped is the total number of discovered inputs not in the plan.
func (p *Plan) Skipped() int {
	return p.SkippedCompleted + p.SkippedFiltered + p.SkippedDuplicate + p.SkippedCap
}

// Summary is the run outcome.
type Summary struct {
	Discovered int64
	Planned    int64
	Completed  int64
	Failed     int64
	Skipped    int64
	Demoted    int64
	Errors     int64
	LedgerRef  string
}

// Runner executes one processing run. Files are processed strictly one at
// a time in plan order; the counters are atomic only so the status server
// can snapshot progress while the run is in flight.
type Runner struct {
	cfg     Config
	store   store.Store
	op      operation.Operation
	tracker tracking.Tracker
	writer  output.Writer
	logger  *zap.Logger

	phase      atomic.Value // string, one of the output.Phase* constants
	discovered atomic.Int64
	planned    atomic.Int64
	processed  atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
	demoted    atomic.Int64
	errors     atomic.Int64
}

// New creates a runner. The configuration is validated once here; Run and
// Plan never re-check it.
func New(cfg Config) (*Runner, error) {
	if cfg.LedgerName == "" {
		cfg.LedgerName = DefaultConfig().LedgerName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracker := cfg.Tracker
	if tracker == nil {
		tracker = tracking.Noop{}
	}
	writer := cfg.Writer
	if writer == nil {
		writer = output.Discard{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		cfg:     cfg,
		store:   cfg.Store,
		op:      cfg.Operation,
		tracker: tracker,
		writer:  writer,
		logger:  logger,
	}
	r.phase.Store(output.PhaseDiscovering)
	return r, nil
}

// Phase reports the current run phase.
func (r *Runner) Phase() string {
	return r.phase.Load().(string)
}

// Progress snapshots the live counters for the status server and for
// periodic progress records.
func (r *Runner) Progress() *output.ProgressRecord {
	return &output.ProgressRecord{
		Phase:      r.Phase(),
		Discovered: r.discovered.Load(),
		Planned:    r.planned.Load(),
		Processed:  r.processed.Load(),
		Completed:  r.completed.Load(),
		Failed:     r.failed.Load(),
	}
}

// ledgerPath is the working copy of the ledger, persisted after every file.
func (r *Runner) ledgerPath() string {
	return filepath.Join(r.cfg.Workdir, r.cfg.LedgerName)
}

// stagingDir is the shared output root operations write under.
func (r *Runner) stagingDir() string {
	return filepath.Join(r.cfg.Workdir, "staging")
}

// buildPlan orders the discovered inputs deterministically and selects the
// ones to process: listing order on the remote variant is not stable, so
// the plan sorts by identity before applying the cap.
func (r *Runner) buildPlan(inputs []store.Input, l *ledger.Ledger, demoted []string) *Plan {
	plan := &Plan{
		Discovered: len(inputs),
		Demoted:    demoted,
	}

	ordered := make([]store.Input, len(inputs))
	copy(ordered, inputs)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Identity != ordered[j].Identity {
			return ordered[i].Identity < ordered[j].Identity
		}
		return ordered[i].Name < ordered[j].Name
	})

	claimed := make(map[string]struct{}, len(ordered))
	for _, in := range ordered {
		if r.cfg.Matcher != nil && !r.cfg.Matcher.Match(in.Name) {
			plan.SkippedFiltered++
			continue
		}
		if r.cfg.Filter != nil && !r.cfg.Filter.Match(in) {
			plan.SkippedFiltered++
			continue
		}
		if _, dup := claimed[in.Identity]; dup {
			plan.SkippedDuplicate++
			plan.Skips = append(plan.Skips, output.SkipRecord{
				Identity: in.Identity, Name: in.Name, Reason: output.SkipReasonDuplicate,
			})
			continue
		}
		claimed[in.Identity] = struct{}{}

		if l.IsDone(in.Identity) {
			plan.SkippedCompleted++
			plan.Skips = append(plan.Skips, output.SkipRecord{
				Identity: in.Identity, Name: in.Name, Reason: output.SkipReasonCompleted,
			})
			continue
		}
		if r.cfg.MaxFiles > 0 && len(plan.Items) >= r.cfg.MaxFiles {
			plan.SkippedCap++
			plan.Skips = append(plan.Skips, output.SkipRecord{
				Identity: in.Identity, Name: in.Name, Reason: output.SkipReasonCap,
			})
			continue
		}
		plan.Items = append(plan.Items, in)
	}

	return plan
}
