package oshost

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/schedprobe/schedprobe/internal/workload"
)

// WorkerCommand is the subcommand every spawned process is started with
const WorkerCommand = "worker"

// WorkerOptions is everything a spawned process needs to know about its run
type WorkerOptions struct {
	Spec        workload.Spec
	Tick        time.Duration
	JournalFile string // empty disables the journal
	RunID       string
}

// Args renders the options as the argument list of a worker process,
// subcommand included
func (o WorkerOptions) Args() []string {
	args := []string{
		WorkerCommand,
		"--role", string(o.Spec.Role),
		"--remaining", strconv.Itoa(o.Spec.Remaining),
		"--topology", string(o.Spec.Topology),
		"--tick", o.Tick.String(),
	}
	if o.JournalFile != "" {
		args = append(args, "--journal", o.JournalFile)
	}
	if o.RunID != "" {
		args = append(args, "--run-id", o.RunID)
	}
	return args
}

// NewWorkerFlagSet returns the flag set understood by worker processes
func NewWorkerFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(WorkerCommand, pflag.ContinueOnError)
	fs.String("role", string(workload.RoleYielder), "Behavior of this process: generator, burster or yielder")
	fs.Int("remaining", 0, "Creation iterations left (generators only)")
	fs.String("topology", string(workload.TopologyFanout), "Generator topology: fanout or chain")
	fs.Duration("tick", 100*time.Millisecond, "Yielder sleep length")
	fs.String("journal", "", "Journal file shared by the run")
	fs.String("run-id", "", "Run identifier stamped on journal events")
	return fs
}

// ParseWorkerArgs parses the flags produced by WorkerOptions.Args. A leading
// worker subcommand is accepted and skipped.
func ParseWorkerArgs(args []string) (WorkerOptions, error) {
	if len(args) > 0 && args[0] == WorkerCommand {
		args = args[1:]
	}

	fs := NewWorkerFlagSet()
	if err := fs.Parse(args); err != nil {
		return WorkerOptions{}, fmt.Errorf("invalid worker arguments: %w", err)
	}
	return WorkerOptionsFromFlags(fs)
}

// WorkerOptionsFromFlags reads and validates already parsed worker flags
func WorkerOptionsFromFlags(fs *pflag.FlagSet) (WorkerOptions, error) {
	roleFlag, _ := fs.GetString("role")         //nolint:errcheck // defined by NewWorkerFlagSet
	remaining, _ := fs.GetInt("remaining")      //nolint:errcheck // defined by NewWorkerFlagSet
	topologyFlag, _ := fs.GetString("topology") //nolint:errcheck // defined by NewWorkerFlagSet
	tick, _ := fs.GetDuration("tick")           //nolint:errcheck // defined by NewWorkerFlagSet
	journalFile, _ := fs.GetString("journal")   //nolint:errcheck // defined by NewWorkerFlagSet
	runID, _ := fs.GetString("run-id")          //nolint:errcheck // defined by NewWorkerFlagSet

	role, err := workload.ParseRole(roleFlag)
	if err != nil {
		return WorkerOptions{}, err
	}
	topology, err := workload.ParseTopology(topologyFlag)
	if err != nil {
		return WorkerOptions{}, err
	}
	if tick <= 0 {
		return WorkerOptions{}, fmt.Errorf("tick must be positive, got %s", tick)
	}

	opts := WorkerOptions{
		Spec:        workload.Spec{Role: role, Remaining: remaining, Topology: topology},
		Tick:        tick,
		JournalFile: journalFile,
		RunID:       runID,
	}
	if err := opts.Spec.Validate(); err != nil {
		return WorkerOptions{}, err
	}
	return opts, nil
}
