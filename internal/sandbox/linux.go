//go:build linux

package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/schedprobe/schedprobe/internal/policy"
)

func init() {
	platformNewSandbox = func() Sandbox {
		return newLinuxSandbox()
	}
}

// LinuxSandbox bounds a population with rlimits applied via prlimit(2) and,
// when cgroups v2 is writable, a per-run cgroup with pids.max.
type LinuxSandbox struct {
	useCgroupsV2   bool
	cgroupRoot     string
	mu             sync.Mutex
	pendingLimits  *policy.ExecutionLimits // stored for PostStart prlimit application
	trackedCgroups map[int]string          // pid -> cgroup path for cleanup
	logger         *slog.Logger
}

func newLinuxSandbox() *LinuxSandbox {
	logger := slog.Default()

	ls := &LinuxSandbox{
		cgroupRoot:     "/sys/fs/cgroup",
		trackedCgroups: make(map[int]string),
		logger:         logger,
	}

	if _, err := os.Stat(filepath.Join(ls.cgroupRoot, "cgroup.controllers")); err == nil {
		ls.useCgroupsV2 = true
		logger.Debug("cgroups v2 detected")
	} else {
		logger.Debug("cgroups v2 not available - population limits will use rlimits only")
	}

	return ls
}

// Apply stores limits for PostStart. Go's SysProcAttr has no rlimit field,
// so limits are set on the child by PID once it exists.
func (s *LinuxSandbox) Apply(cmd *exec.Cmd, limits *policy.ExecutionLimits) error {
	if cmd == nil || limits == nil {
		return fmt.Errorf("command and limits cannot be nil")
	}

	s.mu.Lock()
	s.pendingLimits = limits
	s.mu.Unlock()
	return nil
}

// PostStart applies rlimits to a running child via prlimit(2).
// Failures are logged; the child keeps running without that limit.
func (s *LinuxSandbox) PostStart(pid int, limits *policy.ExecutionLimits) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}

	useLimits := limits
	if useLimits == nil {
		s.mu.Lock()
		useLimits = s.pendingLimits
		s.mu.Unlock()
	}
	if useLimits.Empty() {
		return nil
	}

	set := func(resource int, name string, value int) {
		if value <= 0 {
			return
		}
		rlim := unix.Rlimit{Cur: uint64(value), Max: uint64(value)}
		if err := unix.Prlimit(pid, resource, &rlim, nil); err != nil {
			s.logger.Debug("prlimit failed", slog.String("limit", name), slog.Int("pid", pid), slog.String("error", err.Error()))
			return
		}
		s.logger.Debug("rlimit set via prlimit", slog.String("limit", name), slog.Int("pid", pid), slog.Int("value", value))
	}

	set(unix.RLIMIT_NPROC, "RLIMIT_NPROC", useLimits.MaxPIDs)
	set(unix.RLIMIT_CPU, "RLIMIT_CPU", useLimits.MaxCPUSeconds)
	set(unix.RLIMIT_NOFILE, "RLIMIT_NOFILE", useLimits.MaxFDs)

	return nil
}

// Confine moves pid into a fresh cgroup whose pids.max caps the whole
// population, since children inherit the cgroup. Best-effort: without
// cgroups v2 or write access it logs and returns nil.
func (s *LinuxSandbox) Confine(pid int, limits *policy.ExecutionLimits) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	if !s.useCgroupsV2 || limits == nil || limits.MaxPIDs <= 0 {
		return nil
	}

	cgroupPath := filepath.Join(s.cgroupRoot, fmt.Sprintf("schedprobe-%d", pid))
	if err := os.Mkdir(cgroupPath, 0o755); err != nil {
		s.logger.Debug("cgroup confinement unavailable (non-critical)", slog.String("error", err.Error()))
		return nil
	}

	if err := writeCgroupValue(filepath.Join(cgroupPath, "pids.max"), strconv.Itoa(limits.MaxPIDs)); err != nil {
		s.logger.Debug("failed to set pids.max", slog.String("error", err.Error()))
	}

	if err := writeCgroupValue(filepath.Join(cgroupPath, "cgroup.procs"), strconv.Itoa(pid)); err != nil {
		_ = os.Remove(cgroupPath) //nolint:errcheck // best-effort rollback
		s.logger.Debug("cannot move process into cgroup (non-critical)", slog.String("error", err.Error()))
		return nil
	}

	s.mu.Lock()
	s.trackedCgroups[pid] = cgroupPath
	s.mu.Unlock()

	s.logger.Debug("population confined to cgroup",
		slog.String("path", cgroupPath),
		slog.Int("pids_max", limits.MaxPIDs),
	)
	return nil
}

// Cleanup removes the cgroup created for pid. The cgroup must be empty,
// so call it after the population has been killed.
func (s *LinuxSandbox) Cleanup(pid int) error {
	s.mu.Lock()
	cgroupPath, exists := s.trackedCgroups[pid]
	if !exists {
		s.mu.Unlock()
		return nil
	}
	delete(s.trackedCgroups, pid)
	s.mu.Unlock()

	// cgroup directories are removed with rmdir, never RemoveAll
	if err := os.Remove(cgroupPath); err != nil {
		s.logger.Debug("failed to cleanup cgroup", slog.String("path", cgroupPath), slog.String("error", err.Error()))
		return nil
	}

	s.logger.Debug("cgroup cleaned up", slog.String("path", cgroupPath))
	return nil
}

// Capabilities reports what can be enforced on this host
func (s *LinuxSandbox) Capabilities() Capabilities {
	caps := Capabilities{
		CPULimit:      true,
		PIDLimit:      true,
		FDLimit:       true,
		Cgroups:       s.useCgroupsV2 && s.cgroupWritable(),
		ProcessGroups: true,
	}

	if !s.useCgroupsV2 {
		caps.Warnings = append(caps.Warnings,
			"[DEGRADED] cgroups v2 not available - population capped by RLIMIT_NPROC only",
		)
	} else if !caps.Cgroups {
		caps.RequiresRoot = true
		caps.Warnings = append(caps.Warnings,
			"[DEGRADED] cgroups v2 present but not writable - run as root for pids.max confinement",
		)
	}

	return caps
}

// Name returns the sandbox implementation name
func (s *LinuxSandbox) Name() string {
	return "linux"
}

func (s *LinuxSandbox) cgroupWritable() bool {
	return unix.Access(s.cgroupRoot, unix.W_OK) == nil
}

// readCgroupValue reads a single-value cgroup file
func readCgroupValue(cgroupFile string) (string, error) {
	content, err := os.ReadFile(cgroupFile)
	if err != nil {
		return "", fmt.Errorf("cannot read cgroup file: %w", err)
	}
	return strings.TrimSpace(string(content)), nil
}

func writeCgroupValue(cgroupFile string, value string) error {
	if err := os.WriteFile(cgroupFile, []byte(value+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write cgroup value: %w", err)
	}
	return nil
}
