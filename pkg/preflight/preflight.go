// Package preflight verifies run setup before any input is touched.
//
// Only two classes of failure abort a whole run: unreadable persisted
// ledger state and storage access/setup problems. Preflight surfaces both
// up front, so a misconfigured run fails in milliseconds instead of
// partway through a plan.
package preflight

import (
	"context"

	"github.com/3leaps/gristmill/pkg/ledger"
	"github.com/3leaps/gristmill/pkg/output"
	"github.com/3leaps/gristmill/pkg/store"
)

// Capability names are stable strings used in JSONL output.
const (
	CapSourceList = "source.list"
	CapDestWrite  = "destination.write"
	CapLedgerLoad = "ledger.load"
)

// Options controls which checks run.
type Options struct {
	// CheckWrite probes destination writability. Disable for plan-only
	// invocations that never publish.
	CheckWrite bool

	// LedgerName, when set, fetches the persisted ledger and verifies it
	// parses. The parsed ledger rides back on the Result so the run does
	// not fetch it a second time.
	LedgerName string
}

// Result is the preflight outcome.
type Result struct {
	// Record is the structured report for JSONL output. Always populated,
	// including on failure, with every check attempted.
	Record *output.PreflightRecord

	// Ledger is the parsed persisted ledger when LedgerName was set: an
	// empty ledger when none has been published yet, nil when the check
	// was skipped.
	Ledger *ledger.Ledger

	// LedgerPath is the local path of the fetched ledger copy, empty when
	// nothing was fetched.
	LedgerPath string
}

// Run executes the checks in fail-fast order: source listable, destination
// writable, ledger loadable. The first failure stops checking and is
// returned alongside the record.
func Run(ctx context.Context, st store.Store, opts Options) (*Result, error) {
	res := &Result{
		Record: &output.PreflightRecord{Results: []output.PreflightCheckResult{}},
	}

	if prober, ok := st.(store.SourceProber); ok {
		if err := prober.ProbeSource(ctx); err != nil {
			res.Record.Results = append(res.Record.Results, output.PreflightCheckResult{
				Capability: CapSourceList,
				Allowed:    false,
				Method:     "ProbeSource",
				ErrorCode:  normalizeErrorCode(err),
				Detail:     err.Error(),
			})
			return res, err
		}
		res.Record.Results = append(res.Record.Results, output.PreflightCheckResult{
			Capability: CapSourceList,
			Allowed:    true,
			Method:     "ProbeSource",
		})
	}

	if opts.CheckWrite {
		if prober, ok := st.(store.WriteProber); ok {
			if err := prober.ProbeWrite(ctx); err != nil {
				res.Record.Results = append(res.Record.Results, output.PreflightCheckResult{
					Capability: CapDestWrite,
					Allowed:    false,
					Method:     "ProbeWrite",
					ErrorCode:  normalizeErrorCode(err),
					Detail:     err.Error(),
				})
				return res, err
			}
			res.Record.Results = append(res.Record.Results, output.PreflightCheckResult{
				Capability: CapDestWrite,
				Allowed:    true,
				Method:     "ProbeWrite",
			})
		}
	}

	if opts.LedgerName != "" {
		path, found, err := st.FetchLedger(ctx, opts.LedgerName)
		if err != nil {
			res.Record.Results = append(res.Record.Results, output.PreflightCheckResult{
				Capability: CapLedgerLoad,
				Allowed:    false,
				Method:     "FetchLedger",
				ErrorCode:  normalizeErrorCode(err),
				Detail:     err.Error(),
			})
			return res, err
		}
		if !found {
			// First run against this destination: start empty.
			res.Ledger = ledger.New()
		} else {
			l, lerr := ledger.LoadFile(path)
			if lerr != nil {
				res.Record.Results = append(res.Record.Results, output.PreflightCheckResult{
					Capability: CapLedgerLoad,
					Allowed:    false,
					Method:     "FetchLedger+Load",
					ErrorCode:  output.ErrCodeInternal,
					Detail:     lerr.Error(),
				})
				return res, lerr
			}
			res.Ledger = l
			res.LedgerPath = path
		}
		res.Record.Results = append(res.Record.Results, output.PreflightCheckResult{
			Capability: CapLedgerLoad,
			Allowed:    true,
			Method:     "FetchLedger+Load",
		})
	}

	return res, nil
}

func normalizeErrorCode(err error) string {
	switch {
	case store.IsAccessDenied(err), store.IsInvalidCredentials(err):
		return output.ErrCodeAccessDenied
	case store.IsSourceNotFound(err), store.IsNotFound(err):
		return output.ErrCodeNotFound
	case store.IsThrottled(err):
		return output.ErrCodeThrottled
	default:
		return output.ErrCodeInternal
	}
}
