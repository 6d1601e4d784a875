package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/schedprobe/schedprobe/internal/host/oshost"
	"github.com/schedprobe/schedprobe/internal/journal"
	"github.com/schedprobe/schedprobe/internal/policy"
	"github.com/schedprobe/schedprobe/internal/sandbox"
	"github.com/schedprobe/schedprobe/internal/workload"
)

// Run outcomes recorded in the journal
const (
	outcomeStopped  = "stopped"
	outcomeDeadline = "deadline"
	outcomeFailed   = "failed"
)

// runCmdFlags holds flags for the run command
type runCmdFlags struct {
	population int
	topology   string
	tick       time.Duration
	duration   time.Duration
	journal    bool
}

var runFlags runCmdFlags

func init() {
	runCmd.RunE = runPopulation
	addPopulationFlags(runCmd, &runFlags.population, &runFlags.topology)
	runCmd.Flags().DurationVar(&runFlags.tick, "tick", 100*time.Millisecond, "Yielder sleep length")
	runCmd.Flags().DurationVar(&runFlags.duration, "duration", 0, "Stop the population after this long (0 = until signalled)")
	runCmd.Flags().BoolVar(&runFlags.journal, "journal", false, "Write a JSON-lines journal of the run")
}

// addPopulationFlags registers the flags shared by run and plan
func addPopulationFlags(cmd *cobra.Command, population *int, topology *string) {
	cmd.Flags().IntVarP(population, "population", "n", workload.DefaultPopulation, "Number of creation iterations of the root generator")
	cmd.Flags().StringVar(topology, "topology", string(workload.TopologyFanout), "Generator topology: fanout or chain")
}

// applyRunFlags copies explicitly set flags over the loaded config
func applyRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("population") {
		cfg.Population = runFlags.population
	}
	if flags.Changed("topology") {
		cfg.Topology = runFlags.topology
	}
	if flags.Changed("tick") {
		cfg.Tick = runFlags.tick
	}
	if flags.Changed("duration") {
		cfg.Duration = runFlags.duration
	}
	if flags.Changed("journal") {
		cfg.JournalEnabled = runFlags.journal
	}
}

// runPopulation launches the root generator and keeps the population alive
// until the deadline or a signal, then kills the whole process group
func runPopulation(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Create logger
	logger := createLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	topology, err := workload.ParseTopology(cfg.Topology)
	if err != nil {
		return err
	}
	plan, err := workload.NewPlan(cfg.Population, topology)
	if err != nil {
		return err
	}

	pol := policy.NewPolicyWithLogger(cfg, logger)
	if err := pol.CheckPopulation(plan); err != nil {
		return err
	}

	runID := uuid.NewString()

	// Create journal
	var journalFile string
	var runJournal *journal.Logger
	if cfg.JournalEnabled {
		runJournal, err = journal.NewLogger(cfg.JournalFile, runID)
		if err != nil {
			logger.Warn("failed to initialize journal", slog.String("error", err.Error()))
			// Continue without a journal
		} else {
			journalFile = runJournal.Path()
			defer func() {
				_ = runJournal.Close() //nolint:errcheck // cleanup
			}()
		}
	}

	sb := sandbox.New()
	logger.Debug("sandbox selected", slog.String("sandbox", sb.Name()))

	host, err := oshost.New(oshost.Config{
		Tick:        cfg.Tick,
		JournalFile: journalFile,
		RunID:       runID,
		Limits:      pol.Limits(),
		ExtraArgs:   workerPassthroughArgs(),
	}, sb)
	if err != nil {
		return fmt.Errorf("failed to create process host: %w", err)
	}
	host.SetLogger(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	logger.Info("starting stress run",
		slog.String("run_id", runID),
		slog.Int("population", plan.Population),
		slog.String("topology", string(plan.Topology)),
		slog.Int("bursters", plan.Bursters),
		slog.Int("yielders", plan.Yielders),
		slog.Duration("tick", cfg.Tick),
	)
	if runJournal != nil {
		_ = runJournal.LogRunStart(plan.Population, string(plan.Topology), cfg.Tick) //nolint:errcheck // journal logging
	}

	start := time.Now()
	pop, err := host.Launch(ctx, workload.Spec{
		Role:      workload.RoleGenerator,
		Remaining: plan.Population,
		Topology:  plan.Topology,
	})
	if err != nil {
		if runJournal != nil {
			_ = runJournal.LogRunEnd(time.Since(start), outcomeFailed) //nolint:errcheck // journal logging
		}
		return fmt.Errorf("failed to launch population: %w", err)
	}

	outcome, runErr := awaitPopulation(ctx, pop)
	if err := pop.Kill(); err != nil {
		logger.Warn("failed to stop population", slog.String("error", err.Error()))
	}

	elapsed := time.Since(start)
	if runJournal != nil {
		_ = runJournal.LogRunEnd(elapsed, outcome) //nolint:errcheck // journal logging
	}
	logger.Info("stress run ended",
		slog.String("run_id", runID),
		slog.String("outcome", outcome),
		slog.Duration("duration", elapsed),
	)

	return runErr
}

// awaitPopulation blocks until the run is stopped from outside or the root
// generator dies on its own. Only the latter is an error.
func awaitPopulation(ctx context.Context, pop *oshost.Population) (string, error) {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return outcomeDeadline, nil
		}
		return outcomeStopped, nil
	case <-pop.Done():
		return outcomeFailed, fmt.Errorf("root generator %d exited unexpectedly: %v", pop.PID(), pop.Err())
	}
}

// workerPassthroughArgs forwards the global flags that spawned processes
// need to load the same configuration
func workerPassthroughArgs() []string {
	var args []string
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	if verbose {
		args = append(args, "--verbose")
	}
	if jsonOutput {
		args = append(args, "--json")
	}
	return args
}
