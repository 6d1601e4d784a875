package policy

import (
	"fmt"
	"log/slog"

	"github.com/schedprobe/schedprobe/internal/config"
	"github.com/schedprobe/schedprobe/internal/workload"
)

// Policy represents the local resource policy for a stress run
type Policy struct {
	MaxPIDs       int // RLIMIT_NPROC and cgroup pids.max; 0 = unset
	MaxCPUSeconds int // RLIMIT_CPU per process; 0 = unset
	MaxFDs        int // RLIMIT_NOFILE per process; 0 = unset
	logger        *slog.Logger
}

// ExecutionLimits represents the limits applied to every spawned process
type ExecutionLimits struct {
	MaxPIDs       int
	MaxCPUSeconds int
	MaxFDs        int
}

// Empty reports whether no limit is set
func (l *ExecutionLimits) Empty() bool {
	return l == nil || (l.MaxPIDs == 0 && l.MaxCPUSeconds == 0 && l.MaxFDs == 0)
}

// NewPolicy creates a new policy from config
func NewPolicy(cfg *config.Config) *Policy {
	return NewPolicyWithLogger(cfg, slog.Default())
}

// NewPolicyWithLogger creates a new policy from config with custom logger
func NewPolicyWithLogger(cfg *config.Config, logger *slog.Logger) *Policy {
	return &Policy{
		MaxPIDs:       cfg.MaxPIDs,
		MaxCPUSeconds: cfg.MaxCPUSeconds,
		MaxFDs:        cfg.MaxFDs,
		logger:        logger,
	}
}

// Limits returns the limits to apply to spawned processes
func (p *Policy) Limits() *ExecutionLimits {
	return &ExecutionLimits{
		MaxPIDs:       p.MaxPIDs,
		MaxCPUSeconds: p.MaxCPUSeconds,
		MaxFDs:        p.MaxFDs,
	}
}

// ExpectedFailures returns how many creation calls of plan cannot succeed
// under MaxPIDs. RLIMIT_NPROC counts every process of the user, so the real
// number can be higher.
func (p *Policy) ExpectedFailures(plan workload.Plan) int {
	if p.MaxPIDs <= 0 || plan.Processes <= p.MaxPIDs {
		return 0
	}
	return plan.Processes - p.MaxPIDs
}

// CheckPopulation rejects plans that cannot be started. A plan larger than
// the process limit is allowed: the generator tolerates creation failures,
// so the run proceeds with a smaller population.
func (p *Policy) CheckPopulation(plan workload.Plan) error {
	if plan.Population < 0 {
		return fmt.Errorf("population must be non-negative, got %d", plan.Population)
	}
	if plan.Processes < 1 {
		return fmt.Errorf("plan has no root process")
	}

	if failures := p.ExpectedFailures(plan); failures > 0 {
		p.logger.Warn("planned population exceeds process limit, creation failures expected",
			slog.Int("processes", plan.Processes),
			slog.Int("max_pids", p.MaxPIDs),
			slog.Int("expected_failures", failures),
		)
	}

	if p.MaxCPUSeconds > 0 {
		p.logger.Debug("bursters will be killed by RLIMIT_CPU",
			slog.Int("cpu_seconds", p.MaxCPUSeconds))
	}

	return nil
}
