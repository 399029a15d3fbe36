package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sensorboot/sensorboot/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show bootstrap run history",
		Long: `Show recent bootstrap runs from the run-history database, or the
step-by-step detail of a single run.`,
		Example: `  # Show the last 10 runs
  sensorboot status

  # Show step detail for one run
  sensorboot status --run 4f6bd1c2-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Store.Enabled {
				return fmt.Errorf("run history is disabled in the configuration")
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer func() { _ = store.Close() }()

			if runID != "" {
				return showRun(cmd, store, runID)
			}
			return listRuns(cmd, store, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	cmd.Flags().StringVar(&runID, "run", "", "show step detail for a single run")

	return cmd
}

func listRuns(cmd *cobra.Command, store *stores.SQLiteStore, limit int) error {
	runs, err := store.ListRuns(cmd.Context(), limit, 0)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tMODE\tSTATE\tSTARTED\tDURATION\tERROR")
	for _, run := range runs {
		duration := "-"
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		errMsg := ""
		if run.Error != nil {
			errMsg = *run.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.Mode, run.State,
			run.StartedAt.Format(time.RFC3339), duration, errMsg)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, store *stores.SQLiteStore, runID string) error {
	ctx := cmd.Context()

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	fmt.Printf("Run %s\n", run.ID)
	fmt.Printf("  Mode:     %s\n", run.Mode)
	fmt.Printf("  State:    %s\n", run.State)
	fmt.Printf("  Manifest: %s\n", run.ManifestPath)
	fmt.Printf("  Started:  %s\n", run.StartedAt.Format(time.RFC3339))
	if run.Error != nil {
		fmt.Printf("  Error:    %s\n", *run.Error)
	}

	steps, err := store.ListSteps(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}

	fmt.Println("\nSteps:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  #\tSTEP\tSTATUS\tDURATION\tERROR")
	for _, step := range steps {
		errMsg := ""
		if step.Error != nil {
			errMsg = *step.Error
		}
		fmt.Fprintf(w, "  %d\t%s\t%s\t%dms\t%s\n",
			step.Position+1, step.Name, step.Status, step.DurationMS, errMsg)
	}
	return w.Flush()
}
