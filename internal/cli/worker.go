package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schedprobe/schedprobe/internal/host/oshost"
	"github.com/schedprobe/schedprobe/internal/journal"
	"github.com/schedprobe/schedprobe/internal/policy"
	"github.com/schedprobe/schedprobe/internal/sandbox"
	"github.com/schedprobe/schedprobe/internal/workload"
)

func init() {
	workerCmd.RunE = runWorker
	workerCmd.Flags().AddFlagSet(oshost.NewWorkerFlagSet())
}

// runWorker runs one process of the population. It only returns when the
// process is told to stop or one of its primitives fails.
func runWorker(cmd *cobra.Command, args []string) error {
	opts, err := oshost.WorkerOptionsFromFlags(cmd.Flags())
	if err != nil {
		return err
	}

	logger := createLogger(cfg.LogLevel, cfg.LogFormat).With(
		slog.Int("pid", os.Getpid()),
		slog.String("role", string(opts.Spec.Role)),
	)
	slog.SetDefault(logger)

	if opts.Spec.Role == workload.RoleBurster {
		// one OS thread per burster keeps the scheduler's view of the
		// process a single runnable task
		runtime.GOMAXPROCS(1)
		runtime.LockOSThread()
	}

	pol := policy.NewPolicyWithLogger(cfg, logger)
	host, err := oshost.New(oshost.Config{
		Tick:        opts.Tick,
		JournalFile: opts.JournalFile,
		RunID:       opts.RunID,
		Limits:      pol.Limits(),
		ExtraArgs:   workerPassthroughArgs(),
	}, sandbox.New())
	if err != nil {
		return fmt.Errorf("failed to create process host: %w", err)
	}
	host.SetLogger(logger)

	w := workload.New()
	w.SetLogger(logger)
	if opts.JournalFile != "" {
		runJournal, err := journal.NewLogger(opts.JournalFile, opts.RunID)
		if err != nil {
			logger.Warn("failed to open journal", slog.String("error", err.Error()))
		} else {
			defer func() {
				_ = runJournal.Close() //nolint:errcheck // cleanup
			}()
			w.SetRecorder(runJournal)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = w.Run(ctx, host.Self(), opts.Spec)
	if ctx.Err() != nil {
		// stopped from outside
		return nil
	}
	return err
}
