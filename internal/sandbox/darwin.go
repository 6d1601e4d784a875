//go:build darwin

package sandbox

import (
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/schedprobe/schedprobe/internal/policy"
)

func init() {
	platformNewSandbox = func() Sandbox {
		return newDarwinSandbox()
	}
}

// DarwinSandbox only reports what macOS cannot do. There is no prlimit and
// SysProcAttr has no Rlimits field, so limits cannot be set on a child from
// outside; syscall.Setrlimit would change this process instead. Process
// groups work, so a population can still be killed as a whole.
type DarwinSandbox struct {
	logger *slog.Logger
}

func newDarwinSandbox() *DarwinSandbox {
	return &DarwinSandbox{logger: slog.Default()}
}

// Apply warns once per process when limits were requested
func (s *DarwinSandbox) Apply(cmd *exec.Cmd, limits *policy.ExecutionLimits) error {
	if cmd == nil {
		return fmt.Errorf("command cannot be nil")
	}
	if !limits.Empty() {
		s.logger.Debug("resource limits are not enforced on macOS",
			slog.String("command", cmd.Path),
		)
	}
	return nil
}

// PostStart is a no-op on macOS
func (s *DarwinSandbox) PostStart(pid int, limits *policy.ExecutionLimits) error {
	return nil
}

// Confine is a no-op on macOS
func (s *DarwinSandbox) Confine(pid int, limits *policy.ExecutionLimits) error {
	return nil
}

// Cleanup is a no-op on macOS
func (s *DarwinSandbox) Cleanup(pid int) error {
	return nil
}

// Capabilities returns the capabilities of the macOS sandbox
func (s *DarwinSandbox) Capabilities() Capabilities {
	return Capabilities{
		ProcessGroups: true,
		Warnings: []string{
			"macOS does not support cgroups or prlimit - max_pids, max_cpu_seconds and max_fds are not enforced",
			"For a bounded population, run on Linux",
		},
	}
}

// Name returns the implementation name
func (s *DarwinSandbox) Name() string {
	return "darwin"
}
