package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/pilot/pkg/batch"
	"github.com/cuemby/pilot/pkg/clustering"
	"github.com/cuemby/pilot/pkg/config"
	"github.com/cuemby/pilot/pkg/controller"
	"github.com/cuemby/pilot/pkg/log"
	"github.com/cuemby/pilot/pkg/metrics"
	"github.com/cuemby/pilot/pkg/oracle"
	"github.com/cuemby/pilot/pkg/storage"
	"github.com/cuemby/pilot/pkg/types"
	"github.com/cuemby/pilot/pkg/workflow"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a workflow on the simulated batch service",
	Long: `Run a workflow through placeholder reservations on a simulated
first-come first-served batch service and report its makespan.

Settings come from an optional YAML file and can be overridden by flags.

Examples:
  # Three levels of 4, 16 and 2 tasks on 16 hosts, grouped by ratio search
  pilot simulate --hosts 16 --core-rate 1 \
    --workflow levels:1:4:100:200:16:100:100:2:500:500 --clustering zhang:overlap

  # Independent tasks, two per reservation on one node each
  pilot simulate --workflow indep:7:100:1000000000:3000000000 --clustering hc-2-1

  # Everything from a file
  pilot simulate -f simulation.yaml`,
	RunE: runSimulate,
}

func init() {
	addSimulateFlags(simulateCmd)
}

func addSimulateFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "f", "", "YAML simulation file")
	cmd.Flags().Int("hosts", config.DefaultHosts, "Number of single-core hosts")
	cmd.Flags().Float64("core-rate", config.DefaultCoreFlopRate, "Core speed in flop/s")
	cmd.Flags().String("workflow", "", "Workflow: indep:..., levels:... or file:<path>")
	cmd.Flags().String("clustering", config.DefaultClustering, "Clustering spec")
	cmd.Flags().Bool("overlap", false, "Let level-by-level strategies submit while a level is running")
	cmd.Flags().String("data-dir", config.DefaultDataDir, "Directory of the run history database")
	cmd.Flags().Bool("no-store", false, "Do not record the run")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
}

func loadSimulation(cmd *cobra.Command) (*config.Simulation, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("hosts") {
		cfg.Hosts, _ = flags.GetInt("hosts")
	}
	if flags.Changed("core-rate") {
		cfg.CoreFlopRate, _ = flags.GetFloat64("core-rate")
	}
	if flags.Changed("workflow") {
		cfg.Workflow, _ = flags.GetString("workflow")
	}
	if flags.Changed("clustering") {
		cfg.Clustering, _ = flags.GetString("clustering")
	}
	if flags.Changed("overlap") {
		cfg.Overlap, _ = flags.GetBool("overlap")
	}
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadSimulation(cmd)
	if err != nil {
		return err
	}
	noStore, _ := cmd.Flags().GetBool("no-store")

	wf, err := workflow.Parse(cfg.Workflow)
	if err != nil {
		return fmt.Errorf("failed to build workflow: %w", err)
	}
	sim, err := batch.NewSimulator(cfg.SimulatorConfig(), wf)
	if err != nil {
		return err
	}
	strategy, err := clustering.Parse(cfg.Clustering, oracle.New(sim))
	if err != nil {
		return err
	}

	ctrlCfg := controller.Config{Strategy: strategy, Overlap: cfg.Overlap}
	if !noStore {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()
		ctrlCfg.Store = store
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	c, err := controller.New(ctrlCfg, wf, sim, sim, sim)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Simulating %d tasks in %d levels on %d hosts with %s\n",
		wf.NumTasks(), wf.NumLevels(), cfg.Hosts, strategy.Name())

	record, err := c.Run(ctx)
	if errors.Is(err, types.ErrStalled) {
		return fmt.Errorf("simulation ended before the workflow finished: %w", err)
	}
	if err != nil {
		return err
	}

	printRecord(record)
	return nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	log.Logger.Info().Str("addr", addr).Msg("Serving metrics")
	return srv
}

func humanSeconds(s float64) string {
	return units.HumanDuration(time.Duration(s * float64(time.Second)))
}

func printRecord(r *types.RunRecord) {
	fmt.Printf("WORKFLOW MAKESPAN: %f\n", r.Makespan)
	fmt.Printf("  Run ID: %s\n", r.ID)
	fmt.Printf("  Strategy: %s\n", r.Strategy)
	fmt.Printf("  Makespan: %s\n", humanSeconds(r.Makespan))
	fmt.Printf("  Tasks: %d in %d levels on %d hosts\n", r.Tasks, r.Levels, r.Hosts)
	fmt.Printf("  Reservations: %d submitted, %d restarted, %d cancelled\n",
		r.ReservationsSubmitted, r.ReservationsRestarted, r.ReservationsCancelled)
	if r.IndividualModeEngaged {
		fmt.Printf("  Individual mode: from level %d\n", r.IndividualModeAtLevel)
	}
}
