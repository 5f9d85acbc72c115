package main

import (
	"fmt"

	"github.com/cuemby/pilot/pkg/config"
	"github.com/cuemby/pilot/pkg/storage"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns()
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}

		fmt.Printf("%-36s  %-26s  %6s  %6s  %14s  %s\n", "ID", "STRATEGY", "HOSTS", "TASKS", "MAKESPAN", "RESERVATIONS")
		for _, r := range runs {
			fmt.Printf("%-36s  %-26s  %6d  %6d  %14.2f  %d\n",
				r.ID, r.Strategy, r.Hosts, r.Tasks, r.Makespan, r.ReservationsSubmitted)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show a run and its placeholders",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.GetRun(args[0])
		if err != nil {
			return err
		}
		printRecord(run)
		fmt.Printf("  Recorded: %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))

		placeholders, err := store.ListPlaceholders(run.ID)
		if err != nil {
			return fmt.Errorf("failed to list placeholders: %w", err)
		}
		if len(placeholders) == 0 {
			return nil
		}
		fmt.Println()
		fmt.Printf("%-18s  %-10s  %-7s  %5s  %5s  %12s  %10s  %10s\n",
			"RESERVATION", "STATE", "LEVELS", "TASKS", "NODES", "REQUESTED", "SUBMITTED", "FINISHED")
		for _, ph := range placeholders {
			levels := fmt.Sprintf("%d-%d", ph.Job.StartLevel, ph.Job.EndLevel)
			fmt.Printf("%-18s  %-10s  %-7s  %5d  %5d  %12s  %10.2f  %10.2f\n",
				ph.Reservation, ph.State, levels, ph.Job.NumTasks(), ph.Job.Nodes,
				humanSeconds(ph.Job.Runtime), ph.SubmittedAt, ph.FinishedAt)
		}
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete RUN_ID",
	Short: "Delete a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteRun(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Run %s deleted\n", args[0])
		return nil
	},
}

func init() {
	runsCmd.PersistentFlags().String("data-dir", config.DefaultDataDir, "Directory of the run history database")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
}

func openStore(cmd *cobra.Command) (*storage.BoltStore, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history in %s: %w", dataDir, err)
	}
	return store, nil
}
