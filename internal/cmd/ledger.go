package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gristmill/internal/observability"
	"github.com/3leaps/gristmill/pkg/ledger"
	"github.com/3leaps/gristmill/pkg/manifest"
	"github.com/3leaps/gristmill/pkg/store"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect run ledgers",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <uri-or-path>",
	Short: "Show a persisted ledger",
	Long: `Show the per-identity records of a persisted ledger.

The argument is either a direct path to a ledger CSV file, or a
destination location (directory or s3://bucket/prefix/) holding one.

Example:
  gristmill ledger show ./out/ledger.csv
  gristmill ledger show s3://my-bucket/processed/ --failed
  gristmill ledger show ./out --name progress.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runLedgerShow,
}

var (
	ledgerShowName   string
	ledgerShowFailed bool
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)

	ledgerShowCmd.Flags().StringVar(&ledgerShowName, "name", manifest.DefaultLedgerName, "Ledger file name at the destination")
	ledgerShowCmd.Flags().BoolVar(&ledgerShowFailed, "failed", false, "Show only failed records")
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	target := args[0]

	l, origin, err := loadLedgerFrom(cmd, target)
	if err != nil {
		return err
	}
	if l == nil {
		fmt.Printf("No ledger named %q at %s\n", ledgerShowName, target)
		return nil
	}

	records := l.Records()
	completed, failed := l.Counts()

	fmt.Printf("Ledger: %s\n", origin)
	fmt.Printf("Records: %d (%d completed, %d failed)\n", l.Len(), completed, failed)
	fmt.Println()

	shown := 0
	for _, rec := range records {
		if ledgerShowFailed && rec.Status != ledger.StatusFailed {
			continue
		}
		shown++
		switch rec.Status {
		case ledger.StatusCompleted:
			fmt.Printf("  %-30s completed  %s\n", rec.Identity, rec.Result)
		default:
			reason := rec.Fields[ledger.ColError]
			fmt.Printf("  %-30s failed     %s\n", rec.Identity, reason)
		}
	}

	if shown == 0 {
		if ledgerShowFailed {
			fmt.Println("  no failed records")
		} else {
			fmt.Println("  no records")
		}
	}
	return nil
}

// loadLedgerFrom resolves the target into a parsed ledger. A nil ledger
// with nil error means no ledger exists at the destination yet.
func loadLedgerFrom(cmd *cobra.Command, target string) (*ledger.Ledger, string, error) {
	// Direct file path wins.
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		l, lerr := ledger.LoadFile(target)
		if lerr != nil {
			observability.CLILogger.Error("Failed to load ledger", zap.String("path", target), zap.Error(lerr))
			return nil, "", exitError(foundry.ExitFileReadError, "Failed to load ledger", lerr)
		}
		return l, target, nil
	}

	loc, err := store.ParseLocation(target)
	if err != nil {
		return nil, "", exitError(foundry.ExitInvalidArgument, "Invalid location", err)
	}

	// Local directories do not need a store round-trip.
	if loc.Type == store.TypeLocal {
		path := filepath.Join(loc.Path, ledgerShowName)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, "", nil
			}
			return nil, "", exitError(foundry.ExitFileReadError, "Failed to read ledger", err)
		}
		l, lerr := ledger.LoadFile(path)
		if lerr != nil {
			return nil, "", exitError(foundry.ExitFileReadError, "Failed to load ledger", lerr)
		}
		return l, path, nil
	}

	workdir, err := os.MkdirTemp("", "gristmill-ledger-*")
	if err != nil {
		return nil, "", exitError(foundry.ExitFileWriteError, "Cannot create temp dir", err)
	}
	defer func() { _ = os.RemoveAll(workdir) }()

	st, err := buildStore(cmd.Context(), &manifest.Manifest{
		Source:      manifest.LocationConfig{URI: target},
		Destination: manifest.LocationConfig{URI: target},
	}, workdir)
	if err != nil {
		observability.CLILogger.Error("Failed to open storage", zap.Error(err))
		return nil, "", exitError(foundry.ExitExternalServiceUnavailable, "Failed to open storage", err)
	}
	defer func() { _ = st.Close() }()

	path, found, err := st.FetchLedger(cmd.Context(), ledgerShowName)
	if err != nil {
		observability.CLILogger.Error("Failed to fetch ledger", zap.Error(err))
		return nil, "", exitError(foundry.ExitExternalServiceUnavailable, "Failed to fetch ledger", err)
	}
	if !found {
		return nil, "", nil
	}

	l, lerr := ledger.LoadFile(path)
	if lerr != nil {
		return nil, "", exitError(foundry.ExitFileReadError, "Failed to load ledger", lerr)
	}
	origin := strings.TrimSuffix(target, "/") + "/" + ledgerShowName
	return l, origin, nil
}
