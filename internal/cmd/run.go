package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gristmill/internal/config"
	"github.com/3leaps/gristmill/internal/observability"
	"github.com/3leaps/gristmill/internal/server"
	"github.com/3leaps/gristmill/internal/server/handlers"
	"github.com/3leaps/gristmill/pkg/ledger"
	"github.com/3leaps/gristmill/pkg/manifest"
	"github.com/3leaps/gristmill/pkg/match"
	"github.com/3leaps/gristmill/pkg/operation"
	"github.com/3leaps/gristmill/pkg/output"
	"github.com/3leaps/gristmill/pkg/preflight"
	"github.com/3leaps/gristmill/pkg/runlog"
	"github.com/3leaps/gristmill/pkg/runner"
	"github.com/3leaps/gristmill/pkg/store"
	"github.com/3leaps/gristmill/pkg/store/local"
	"github.com/3leaps/gristmill/pkg/store/s3"
	"github.com/3leaps/gristmill/pkg/tracking"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a processing run from a manifest",
	Long: `Execute a processing run as defined in a YAML or JSON manifest.

The run discovers inputs at the source, skips identities the published
ledger already records as completed, processes the remainder one file at
a time, and publishes each output plus the updated ledger to the
destination. Interrupted runs resume from the ledger.

Example:
  gristmill run -m job.yaml
  gristmill run -m job.yaml --max-files 10 --output records.jsonl
  gristmill run -m job.yaml --status-addr localhost:8080
  gristmill run -m job.yaml --dry-run`,
	RunE: runRun,
}

var (
	runManifestPath string
	runOutput       string
	runMaxFiles     int
	runStatusAddr   string
	runDryRun       bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runManifestPath, "manifest", "m", "", "Path to run manifest (required)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Override output destination")
	runCmd.Flags().IntVar(&runMaxFiles, "max-files", 0, "Override the manifest max files cap")
	runCmd.Flags().StringVar(&runStatusAddr, "status-addr", "", "Serve status endpoints on host:port during the run")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Plan the run and stop before processing")

	_ = runCmd.MarkFlagRequired("manifest")
}

// runSetup bundles everything a run or plan needs after manifest
// resolution.
type runSetup struct {
	manifest    *manifest.Manifest
	store       store.Store
	operation   operation.Operation
	matcher     *match.Matcher
	filter      *match.CompositeFilter
	workdir     string
	fingerprint string
}

func (s *runSetup) close() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := loadRunManifest()
	if err != nil {
		return err
	}

	if runDryRun {
		return runPlanPreview(ctx, m)
	}

	setup, err := buildRunSetup(ctx, m)
	if err != nil {
		return err
	}
	defer setup.close()

	runID := uuid.New().String()

	writer, cleanup, err := createWriter(m, runID, setup.store.Kind().String())
	if err != nil {
		observability.CLILogger.Error("Failed to create output writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	tracker, err := createTracker(m)
	if err != nil {
		observability.CLILogger.Error("Failed to open tracking table", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid tracking configuration", err)
	}
	defer func() { _ = tracker.Close() }()

	runLog := openRunLog(ctx)
	defer func() { _ = runLog.Close() }()

	pf, err := preflight.Run(ctx, setup.store, preflight.Options{
		CheckWrite: true,
		LedgerName: m.Ledger.Name,
	})
	if pf != nil && pf.Record != nil {
		if werr := writer.WritePreflight(ctx, pf.Record); werr != nil {
			observability.CLILogger.Warn("Failed to write preflight record", zap.Error(werr))
		}
	}
	if err != nil {
		observability.CLILogger.Error("Preflight failed", zap.Error(err))
		return exitError(preflightExitCode(err), "Preflight failed", err)
	}

	rcfg := runner.DefaultConfig()
	rcfg.Store = setup.store
	rcfg.Operation = setup.operation
	rcfg.LedgerName = m.Ledger.Name
	rcfg.MaxFiles = m.Limits.MaxFiles
	rcfg.OpRetries = m.Limits.OpRetries
	rcfg.Workdir = setup.workdir
	rcfg.Matcher = setup.matcher
	rcfg.Filter = setup.filter
	rcfg.Tracker = tracker
	rcfg.RunLog = runLog
	rcfg.Writer = writer
	rcfg.Logger = observability.CLILogger
	rcfg.RunID = runID
	rcfg.Name = m.Name
	rcfg.Source = m.Source.URI
	rcfg.Destination = m.Destination.URI
	rcfg.Fingerprint = setup.fingerprint
	rcfg.Ledger = pf.Ledger
	if !m.Output.ProgressEnabled() {
		rcfg.ProgressEvery = 0
	}

	r, err := runner.New(rcfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid run configuration", err)
	}

	stopStatus, err := startStatusServer(ctx, r)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid status address", err)
	}
	defer stopStatus()

	observability.CLILogger.Info("Starting run",
		zap.String("run_id", runID),
		zap.String("name", m.Name),
		zap.String("operation", m.Operation.Name),
		zap.String("source", m.Source.URI),
		zap.String("destination", m.Destination.URI))

	summary, err := r.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			observability.CLILogger.Warn("Run interrupted",
				zap.String("run_id", runID),
				zap.Int64("completed", summaryCompleted(summary)))
			return exitError(foundry.ExitSignalInt, "Run interrupted", err)
		}
		if errors.Is(err, ledger.ErrCorrupt) {
			observability.CLILogger.Error("Ledger is corrupt", zap.Error(err))
			return exitError(foundry.ExitFileReadError, "Ledger is corrupt", err)
		}
		observability.CLILogger.Error("Run failed", zap.String("run_id", runID), zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Run failed", err)
	}

	observability.CLILogger.Info("Run completed",
		zap.String("run_id", runID),
		zap.Int64("discovered", summary.Discovered),
		zap.Int64("planned", summary.Planned),
		zap.Int64("completed", summary.Completed),
		zap.Int64("failed", summary.Failed),
		zap.Int64("skipped", summary.Skipped),
		zap.String("ledger", summary.LedgerRef))

	if summary.Failed > 0 {
		observability.CLILogger.Warn("Some files failed; they remain eligible for the next run",
			zap.Int64("failed", summary.Failed))
	}
	return nil
}

func summaryCompleted(s *runner.Summary) int64 {
	if s == nil {
		return 0
	}
	return s.Completed
}

// loadRunManifest loads the manifest and applies run flag overrides.
func loadRunManifest() (*manifest.Manifest, error) {
	m, err := manifest.Load(runManifestPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", runManifestPath),
			zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	if runOutput != "" {
		m.Output.Destination = runOutput
	}
	if runMaxFiles > 0 {
		m.Limits.MaxFiles = runMaxFiles
	}
	if flagQuiet {
		enabled := false
		m.Output.Progress = &enabled
	}
	return m, nil
}

// buildRunSetup resolves the manifest into live collaborators: store,
// operation, matcher, and filters.
func buildRunSetup(ctx context.Context, m *manifest.Manifest) (*runSetup, error) {
	fingerprint, err := m.Fingerprint()
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	workdir, err := resolveWorkdir(m, fingerprint)
	if err != nil {
		return nil, exitError(foundry.ExitFileWriteError, "Cannot create workdir", err)
	}

	st, err := buildStore(ctx, m, workdir)
	if err != nil {
		observability.CLILogger.Error("Failed to open storage", zap.Error(err))
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open storage", err)
	}

	op, err := operation.New(m.Operation.Name, operation.Params(m.Operation.Params))
	if err != nil {
		_ = st.Close()
		observability.CLILogger.Error("Invalid operation", zap.String("operation", m.Operation.Name), zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid operation", err)
	}

	matcher, filter, err := buildInputFilters(m)
	if err != nil {
		_ = st.Close()
		observability.CLILogger.Error("Invalid filters", zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid filters", err)
	}

	return &runSetup{
		manifest:    m,
		store:       st,
		operation:   op,
		matcher:     matcher,
		filter:      filter,
		workdir:     workdir,
		fingerprint: fingerprint,
	}, nil
}

// resolveWorkdir returns the manifest workdir, or a fingerprint-keyed
// directory under the app data dir so resumed runs reuse their scratch
// space.
func resolveWorkdir(m *manifest.Manifest, fingerprint string) (string, error) {
	dir := strings.TrimSpace(m.Workdir)
	if dir == "" {
		base := os.TempDir()
		if cfg := config.GetConfig(); cfg != nil && cfg.Data.Dir != "" {
			base = cfg.Data.Dir
		}
		dir = filepath.Join(base, "work", fingerprint[:12])
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workdir %s: %w", dir, err)
	}
	return dir, nil
}

// buildStore constructs the store marrying the manifest's source and
// destination. Both locations must use the same scheme; S3 locations must
// share a bucket, since one client serves both ends.
func buildStore(ctx context.Context, m *manifest.Manifest, workdir string) (store.Store, error) {
	src, err := store.ParseLocation(m.Source.URI)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	dst, err := store.ParseLocation(m.Destination.URI)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if src.Type != dst.Type {
		return nil, fmt.Errorf("source (%s) and destination (%s) must use the same scheme", src.Type, dst.Type)
	}

	switch src.Type {
	case store.TypeS3:
		if src.Bucket != dst.Bucket {
			return nil, fmt.Errorf("source bucket %q and destination bucket %q must match", src.Bucket, dst.Bucket)
		}
		cfg := s3.Config{
			Bucket:       src.Bucket,
			SourcePrefix: src.Prefix,
			DestPrefix:   dst.Prefix,
			Workdir:      workdir,
		}
		if m.S3 != nil {
			cfg.Region = m.S3.Region
			cfg.Endpoint = m.S3.Endpoint
			cfg.Profile = m.S3.Profile
			cfg.ForcePathStyle = m.S3.ForcePathStyle || m.S3.Endpoint != ""
			cfg.RateLimit = m.S3.RateLimit
			cfg.MaxKeys = m.S3.MaxKeys
		}
		return s3.New(ctx, cfg)

	default:
		return local.New(local.Config{
			Source:  src.Path,
			Dest:    dst.Path,
			Workdir: workdir,
		})
	}
}

// buildInputFilters constructs the matcher and metadata filter from the
// manifest. Both are nil when the manifest does not restrict inputs.
func buildInputFilters(m *manifest.Manifest) (*match.Matcher, *match.CompositeFilter, error) {
	if m.Filters == nil {
		return nil, nil, nil
	}

	var matcher *match.Matcher
	if len(m.Filters.Includes) > 0 || len(m.Filters.Excludes) > 0 || m.Filters.IncludeHidden {
		includes := m.Filters.Includes
		if len(includes) == 0 {
			includes = []string{"**"}
		}
		mt, err := match.New(match.Config{
			Includes:      includes,
			Excludes:      m.Filters.Excludes,
			IncludeHidden: m.Filters.IncludeHidden,
		})
		if err != nil {
			return nil, nil, err
		}
		matcher = mt
	}

	fcfg := &match.FilterConfig{NameRegex: m.Filters.NameRegex}
	if m.Filters.Size != nil {
		fcfg.Size = &match.SizeFilterConfig{Min: m.Filters.Size.Min, Max: m.Filters.Size.Max}
	}
	if m.Filters.Modified != nil {
		fcfg.Modified = &match.DateFilterConfig{After: m.Filters.Modified.After, Before: m.Filters.Modified.Before}
	}
	filter, err := match.NewFilterFromConfig(fcfg)
	if err != nil {
		return nil, nil, err
	}

	return matcher, filter, nil
}

// createWriter creates the JSONL writer from manifest configuration.
// Returns the writer, a cleanup function, and any error.
func createWriter(m *manifest.Manifest, runID, storeKind string) (output.Writer, func(), error) {
	dest := m.Output.Destination

	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, runID, storeKind)
		return w, func() { _ = w.Close() }, nil
	}

	path := dest
	if strings.HasPrefix(dest, "file:") {
		path = strings.TrimPrefix(dest, "file:")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, runID, storeKind)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}

// createTracker opens the configured tracking table, or the no-op tracker
// when none is configured.
func createTracker(m *manifest.Manifest) (tracking.Tracker, error) {
	if m.Tracking == nil {
		return tracking.Noop{}, nil
	}
	return tracking.NewCSVSheet(tracking.Config{
		Path:         m.Tracking.Path,
		KeyColumn:    m.Tracking.KeyColumn,
		ResultColumn: m.Tracking.ResultColumn,
	})
}

// openRunLog opens the local run history when enabled. Failures degrade
// to no history rather than failing the run.
func openRunLog(ctx context.Context) *runlog.Store {
	cfg := config.GetConfig()
	if cfg == nil || !cfg.RunLog.Enabled {
		return nil
	}
	rl, err := runlog.Open(ctx, runlog.Config{Path: cfg.RunLog.Path})
	if err != nil {
		observability.CLILogger.Warn("Run history unavailable",
			zap.String("path", cfg.RunLog.Path),
			zap.Error(err))
		return nil
	}
	return rl
}

// startStatusServer starts the status server when --status-addr is set.
// The returned stop function is safe to call regardless.
func startStatusServer(ctx context.Context, r *runner.Runner) (func(), error) {
	if runStatusAddr == "" {
		return func() {}, nil
	}

	host, portStr, err := net.SplitHostPort(runStatusAddr)
	if err != nil {
		return func() {}, fmt.Errorf("status address %q: %w", runStatusAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return func() {}, fmt.Errorf("status address %q: invalid port: %w", runStatusAddr, err)
	}

	handlers.InitHealthManager(versionInfo.Version)
	handlers.SetVersion(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	handlers.SetProgressSource(r)

	srv := server.New(host, port)
	go func() {
		if serveErr := srv.Start(); serveErr != nil {
			observability.CLILogger.Warn("Status server stopped", zap.Error(serveErr))
		}
	}()
	observability.CLILogger.Info("Status server listening", zap.String("addr", srv.Addr()))

	return func() {
		handlers.SetProgressSource(nil)
		if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
			observability.CLILogger.Warn("Status server shutdown", zap.Error(err))
		}
	}, nil
}

// preflightExitCode maps a preflight failure onto the process exit code.
func preflightExitCode(err error) int {
	switch {
	case errors.Is(err, ledger.ErrCorrupt):
		return foundry.ExitFileReadError
	case store.IsSourceNotFound(err), store.IsNotFound(err):
		return foundry.ExitFileNotFound
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}
