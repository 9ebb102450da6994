package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

var (
	syncJSON        bool
	statusHistory   int
	reindexFromRun  string
	progressEvery   = 500 * time.Millisecond
	errSyncNotReady = errors.New("sync service not configured")
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronise the knowledge base with the store",
	Long: `Builds and maintains the vector index from store content.

Only one sync operation runs at a time, across processes. A request made
while another operation holds the lock fails instead of queueing.`,
}

var syncFullCmd = &cobra.Command{
	Use:   "full",
	Short: "Rescan every configured content type",
	Args:  cobra.NoArgs,
	RunE:  runSyncFull,
}

var syncIncrementalCmd = &cobra.Command{
	Use:   "incremental [content-type...]",
	Short: "Index items modified since the last checkpoint",
	Long: `Indexes items modified since each content type's last checkpoint and
removes items deleted upstream. With no arguments every configured content
type is synced in turn.`,
	RunE: runSyncIncremental,
}

var syncReindexCmd = &cobra.Command{
	Use:   "reindex [type/id...]",
	Short: "Refetch and re-index specific items",
	Long: `Refetches exactly the listed items from the content source and
re-indexes them. Items no longer upstream are removed from search.

Use --from-run to retry every item that failed in an earlier run.`,
	RunE: runSyncReindex,
}

var syncMaintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Purge stale entries and prune history",
	Args:  cobra.NoArgs,
	RunE:  runSyncMaintenance,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current sync state",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatus,
}

var syncCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Request cancellation of the running sync",
	Long: `Requests cancellation of the running sync operation. The run stops
between batches; items already indexed stay indexed.`,
	Args: cobra.NoArgs,
	RunE: runSyncCancel,
}

func init() {
	for _, c := range []*cobra.Command{syncFullCmd, syncIncrementalCmd, syncReindexCmd, syncMaintenanceCmd, syncStatusCmd} {
		c.Flags().BoolVar(&syncJSON, "json", false, "output as JSON")
	}
	syncStatusCmd.Flags().IntVar(&statusHistory, "history", 0, "also list this many archived runs")
	syncReindexCmd.Flags().StringVar(&reindexFromRun, "from-run", "", "retry the failed items of this run ID")

	syncCmd.AddCommand(syncFullCmd, syncIncrementalCmd, syncReindexCmd, syncMaintenanceCmd, syncStatusCmd, syncCancelCmd)
	rootCmd.AddCommand(syncCmd)
}

func runSyncFull(cmd *cobra.Command, _ []string) error {
	if syncOrchestrator == nil {
		return errSyncNotReady
	}
	if !syncJSON {
		cmd.Println("Running full sync...")
	}

	report, err := syncWithProgress(cmd, syncOrchestrator.RunFullSync)
	return finishSync(cmd, report, err)
}

func runSyncIncremental(cmd *cobra.Command, args []string) error {
	if syncOrchestrator == nil {
		return errSyncNotReady
	}

	types := contentTypes()
	if len(args) > 0 {
		types = make([]domain.ContentType, len(args))
		for i, a := range args {
			types[i] = domain.ContentType(a)
		}
	}

	var reports []*domain.SyncReport
	var failed error
	for _, t := range types {
		if !syncJSON {
			cmd.Printf("Running incremental sync for %s...\n", t)
		}
		report, err := syncWithProgress(cmd, func(ctx context.Context) (*domain.SyncReport, error) {
			return syncOrchestrator.RunIncrementalSync(ctx, t)
		})
		if report != nil {
			reports = append(reports, report)
			if !syncJSON {
				printReport(cmd, report)
			}
		}
		if err == nil {
			continue
		}
		failed = fmt.Errorf("%s: %w", t, err)
		// Later types would hit the same lock or the same cancellation.
		if errors.Is(err, domain.ErrLockContention) || errors.Is(err, domain.ErrCancelled) {
			break
		}
	}

	if syncJSON {
		if err := printJSON(cmd, reports); err != nil {
			return err
		}
	}
	if failed != nil {
		return fmt.Errorf("incremental sync failed: %w", failed)
	}
	return nil
}

func runSyncReindex(cmd *cobra.Command, args []string) error {
	if syncOrchestrator == nil {
		return errSyncNotReady
	}

	refs, err := parseRefs(args)
	if err != nil {
		return err
	}
	if reindexFromRun != "" {
		failed, err := failedRefsOf(cmd.Context(), reindexFromRun)
		if err != nil {
			return err
		}
		refs = append(refs, failed...)
	}
	if len(refs) == 0 {
		if !syncJSON {
			cmd.Println("Nothing to reindex.")
		}
		return nil
	}

	if !syncJSON {
		cmd.Printf("Reindexing %d items...\n", len(refs))
	}
	report, err := syncWithProgress(cmd, func(ctx context.Context) (*domain.SyncReport, error) {
		return syncOrchestrator.RunReindex(ctx, refs)
	})
	return finishSync(cmd, report, err)
}

func runSyncMaintenance(cmd *cobra.Command, _ []string) error {
	if syncOrchestrator == nil {
		return errSyncNotReady
	}

	result, err := syncOrchestrator.RunMaintenance(cmd.Context())
	if err != nil {
		return fmt.Errorf("maintenance failed: %w", err)
	}
	if syncJSON {
		return printJSON(cmd, result)
	}
	cmd.Printf("Maintenance complete: purged %d entries, pruned %d runs, reclaimed %d locks.\n",
		result.PurgedEntries, result.PrunedRuns, result.ReclaimedLocks)
	return nil
}

func runSyncStatus(cmd *cobra.Command, _ []string) error {
	if syncOrchestrator == nil {
		return errSyncNotReady
	}

	ctx := cmd.Context()
	state, err := syncOrchestrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading sync status: %w", err)
	}

	var history []domain.SyncState
	if statusHistory > 0 {
		history, err = syncOrchestrator.History(ctx, statusHistory)
		if err != nil {
			return fmt.Errorf("reading sync history: %w", err)
		}
	}

	if syncJSON {
		return printJSON(cmd, struct {
			Current *domain.SyncState  `json:"current"`
			History []domain.SyncState `json:"history,omitempty"`
		}{state, history})
	}

	printState(cmd, state)
	if len(history) > 0 {
		cmd.Println()
		cmd.Println("History:")
		for i := range history {
			h := &history[i]
			cmd.Printf("  %s  %-16s %-9s %d/%d items, %d errors\n",
				h.RunID, h.Operation, h.Phase, h.ProcessedItems, h.TotalItems, len(h.Errors))
		}
	}
	return nil
}

func runSyncCancel(cmd *cobra.Command, _ []string) error {
	if syncOrchestrator == nil {
		return errSyncNotReady
	}

	ok, err := syncOrchestrator.Cancel(cmd.Context())
	if err != nil {
		return fmt.Errorf("cancelling sync: %w", err)
	}
	if !ok {
		cmd.Println("No sync is running.")
		return nil
	}
	cmd.Println("Cancellation requested. The run stops after its current batch.")
	return nil
}

// syncWithProgress runs op while printing progress from the sync state.
func syncWithProgress(
	cmd *cobra.Command,
	op func(context.Context) (*domain.SyncReport, error),
) (*domain.SyncReport, error) {
	ctx := cmd.Context()

	type result struct {
		report *domain.SyncReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := op(ctx)
		done <- result{report, err}
	}()

	ticker := time.NewTicker(progressEvery)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case r := <-done:
			if last >= 0 {
				cmd.Println()
			}
			return r.report, r.err
		case <-ticker.C:
			if syncJSON {
				continue
			}
			// Best effort: a status read failure only skips one update.
			state, err := syncOrchestrator.Status(ctx)
			if err != nil || !state.IsRunning() || state.ProcessedItems == last {
				continue
			}
			last = state.ProcessedItems
			cmd.Printf("\rProcessing %s... %d/%d items", state.CurrentType, state.ProcessedItems, state.TotalItems)
		}
	}
}

func finishSync(cmd *cobra.Command, report *domain.SyncReport, err error) error {
	if report != nil {
		if syncJSON {
			if jerr := printJSON(cmd, report); jerr != nil {
				return jerr
			}
		} else {
			printReport(cmd, report)
		}
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

func printReport(cmd *cobra.Command, report *domain.SyncReport) {
	totals := report.Totals()
	cmd.Printf("Run %s %s: %d indexed, %d removed, %d invalid, %d failed (%d chunks, %d embeddings)\n",
		report.RunID, report.Phase, totals.Indexed, totals.Removed, totals.Invalid, totals.Failed,
		totals.ChunksCreated, totals.EmbeddingsGenerated)
	for _, t := range report.Types {
		cmd.Printf("  %-10s %d indexed, %d removed, %d invalid, %d failed\n",
			t.ContentType, t.Indexed, t.Removed, t.Invalid, t.Failed)
	}
	printItemErrors(cmd, report.Errors)
	if len(report.FailedRefs()) > 0 {
		cmd.Printf("Retry failed items with: storekb sync reindex --from-run %s\n", report.RunID)
	}
}

func printState(cmd *cobra.Command, s *domain.SyncState) {
	cmd.Printf("Phase:      %s\n", s.Phase)
	if s.Phase == domain.SyncPhaseIdle && s.RunID == "" {
		return
	}
	cmd.Printf("Run:        %s\n", s.RunID)
	cmd.Printf("Operation:  %s\n", s.Operation)
	if s.ContentType != "" {
		cmd.Printf("Type:       %s\n", s.ContentType)
	}
	if s.CurrentType != "" {
		cmd.Printf("Current:    %s\n", s.CurrentType)
	}
	cmd.Printf("Progress:   %d/%d items (%.0f%%)\n", s.ProcessedItems, s.TotalItems, s.Progress()*100)
	cmd.Printf("Started:    %s\n", s.StartedAt.Local().Format(time.DateTime))
	if !s.CompletedAt.IsZero() {
		cmd.Printf("Completed:  %s\n", s.CompletedAt.Local().Format(time.DateTime))
	}
	if s.CancelRequested && s.IsRunning() {
		cmd.Println("Cancellation requested.")
	}
	if s.Failure != "" {
		cmd.Printf("Failure:    %s\n", s.Failure)
	}
	printItemErrors(cmd, s.Errors)
}

// maxListedErrors caps the item errors printed in text output.
const maxListedErrors = 20

func printItemErrors(cmd *cobra.Command, errs []domain.ItemError) {
	if len(errs) == 0 {
		return
	}
	cmd.Printf("Errors (%d):\n", len(errs))
	for i, e := range errs {
		if i == maxListedErrors {
			cmd.Printf("  ... and %d more (use --json for all)\n", len(errs)-maxListedErrors)
			break
		}
		cmd.Printf("  %s\n", e.String())
	}
}

func parseRefs(args []string) ([]domain.ContentRef, error) {
	refs := make([]domain.ContentRef, 0, len(args))
	for _, a := range args {
		ref, err := domain.ParseContentRef(a)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// historyScan bounds how far back --from-run searches.
const historyScan = 200

// failedRefsOf returns the distinct failed items of a current or archived run.
func failedRefsOf(ctx context.Context, runID string) ([]domain.ContentRef, error) {
	current, err := syncOrchestrator.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading sync status: %w", err)
	}
	if current.RunID == runID {
		if current.IsRunning() {
			return nil, fmt.Errorf("run %s is still running", runID)
		}
		return failedRefs(current), nil
	}

	history, err := syncOrchestrator.History(ctx, historyScan)
	if err != nil {
		return nil, fmt.Errorf("reading sync history: %w", err)
	}
	for i := range history {
		if history[i].RunID == runID {
			return failedRefs(&history[i]), nil
		}
	}
	return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
}

func failedRefs(s *domain.SyncState) []domain.ContentRef {
	report := domain.SyncReport{Errors: s.Errors}
	return report.FailedRefs()
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
