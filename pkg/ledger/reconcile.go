package ledger

import (
	"context"
	"sort"
)

// ProbeFunc reports whether a previously recorded result reference still
// exists at the output location. Supplied by the storage layer so the
// ledger performs no I/O of its own.
type ProbeFunc func(ctx context.Context, ref string) (bool, error)

// ReconcileReport describes what a reconciliation pass changed.
type ReconcileReport struct {
	// Checked is the number of completed records probed.
	Checked int

	// Demoted lists identities whose result vanished from the output
	// location. Their records were removed so the files reprocess.
	Demoted []string

	// ProbeErrors maps identities whose probe itself failed. Those
	// records are kept: an indeterminate probe never demotes.
	ProbeErrors map[string]error
}

// Reconcile verifies every completed record against the output location.
// Records whose result no longer exists are removed entirely, returning
// those identities to pending so the next plan picks them up. This is what
// makes resume safe when a ledger write survived a crash that the output
// upload did not.
//
// Failed records are left untouched; they never claim an output.
func (l *Ledger) Reconcile(ctx context.Context, probe ProbeFunc) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	ids := make([]string, 0, len(l.records))
	for id, r := range l.records {
		if r.Status == StatusCompleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		report.Checked++
		exists, err := probe(ctx, l.records[id].Result)
		if err != nil {
			if report.ProbeErrors == nil {
				report.ProbeErrors = make(map[string]error)
			}
			report.ProbeErrors[id] = err
			continue
		}
		if !exists {
			l.remove(id)
			report.Demoted = append(report.Demoted, id)
		}
	}

	return report, nil
}
