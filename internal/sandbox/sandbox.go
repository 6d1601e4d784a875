package sandbox

import (
	"os"
	"os/exec"
	"runtime"

	"github.com/schedprobe/schedprobe/internal/policy"
)

// Sandbox bounds the resources a stress population can take from the host
type Sandbox interface {
	// Apply prepares a command before it is started.
	Apply(cmd *exec.Cmd, limits *policy.ExecutionLimits) error

	// PostStart applies per-process limits that require the child PID
	// (prlimit on Linux).
	PostStart(pid int, limits *policy.ExecutionLimits) error

	// Confine places pid, and every process it creates afterwards, under a
	// population-wide limit (a cgroup on Linux). Best-effort.
	Confine(pid int, limits *policy.ExecutionLimits) error

	// Cleanup releases resources held for a confined pid.
	Cleanup(pid int) error

	// Capabilities returns what this sandbox can enforce
	Capabilities() Capabilities

	// Name returns the sandbox implementation name
	Name() string
}

// Capabilities describes which limits can be enforced
type Capabilities struct {
	CPULimit      bool // RLIMIT_CPU
	PIDLimit      bool // RLIMIT_NPROC
	FDLimit       bool // RLIMIT_NOFILE
	Cgroups       bool // population-wide pids.max
	ProcessGroups bool // whole population killable with one signal
	RequiresRoot  bool
	Warnings      []string
}

// New creates a platform-specific sandbox
func New() Sandbox {
	sb := platformNewSandbox()
	if sb != nil {
		return sb
	}
	return &NoOpSandbox{}
}

// platformNewSandbox is replaced by platform files via init()
var platformNewSandbox = func() Sandbox {
	return nil
}

// NoOpSandbox enforces nothing
type NoOpSandbox struct{}

func (s *NoOpSandbox) Apply(cmd *exec.Cmd, limits *policy.ExecutionLimits) error {
	return nil
}

func (s *NoOpSandbox) PostStart(pid int, limits *policy.ExecutionLimits) error {
	return nil
}

func (s *NoOpSandbox) Confine(pid int, limits *policy.ExecutionLimits) error {
	return nil
}

func (s *NoOpSandbox) Cleanup(pid int) error {
	return nil
}

func (s *NoOpSandbox) Capabilities() Capabilities {
	return Capabilities{
		Warnings: []string{"Platform does not support resource limits - population size is bounded only by the host"},
	}
}

func (s *NoOpSandbox) Name() string {
	return "noop"
}

// DiagnosticInfo contains system capability information for diagnostics
type DiagnosticInfo struct {
	OS              string       `json:"os"`
	Arch            string       `json:"arch"`
	NumCPU          int          `json:"num_cpu"`
	GOMAXPROCS      int          `json:"gomaxprocs"`
	Sandbox         string       `json:"sandbox"`
	Capabilities    Capabilities `json:"capabilities"`
	RunningAsRoot   bool         `json:"running_as_root"`
	CgroupsVersion  string       `json:"cgroups_version,omitempty"`
	Recommendations []string     `json:"recommendations,omitempty"`
	Warnings        []string     `json:"warnings,omitempty"`
}

// Diagnose returns diagnostic information about the current system
func Diagnose() DiagnosticInfo {
	sb := New()
	info := DiagnosticInfo{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		NumCPU:        runtime.NumCPU(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		Sandbox:       sb.Name(),
		Capabilities:  sb.Capabilities(),
		RunningAsRoot: os.Geteuid() == 0,
	}

	if runtime.GOOS == "linux" {
		info.CgroupsVersion = detectCgroupsVersion()
		if !info.RunningAsRoot {
			info.Warnings = append(info.Warnings,
				"Running without root privileges: cgroup confinement is usually unavailable",
				"RLIMIT_NPROC counts every process of the current user, not just the population",
			)
		}
	}

	if !info.Capabilities.ProcessGroups {
		info.Recommendations = append(info.Recommendations,
			"Process groups not available - spawned processes must be killed individually after a run",
		)
	}
	if !info.Capabilities.Cgroups {
		info.Recommendations = append(info.Recommendations,
			"Set max_pids to bound the population when cgroups v2 is not available",
		)
	}
	info.Recommendations = append(info.Recommendations,
		"Use a population of at least NumCPU so bursters saturate every CPU",
	)

	return info
}

// detectCgroupsVersion attempts to detect which cgroups version is available on Linux
func detectCgroupsVersion() string {
	if _, err := os.Stat("/sys/fs/cgroup/cgroup.controllers"); err == nil {
		return "v2"
	}
	if _, err := os.Stat("/sys/fs/cgroup/cpu"); err == nil {
		return "v1"
	}
	return "unavailable"
}
