// Package oshost runs the workload as real operating-system processes.
// Process creation re-executes the current binary with the worker
// subcommand; the child reads its role from the command line.
package oshost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/schedprobe/schedprobe/internal/policy"
	"github.com/schedprobe/schedprobe/internal/sandbox"
	"github.com/schedprobe/schedprobe/internal/workload"
)

// Config describes how child processes are started
type Config struct {
	Executable  string   // defaults to os.Executable()
	ExtraArgs   []string // appended after the worker arguments
	Env         []string // appended to the inherited environment
	Tick        time.Duration
	JournalFile string
	RunID       string
	Limits      *policy.ExecutionLimits
	Stdout      io.Writer // defaults to os.Stdout
	Stderr      io.Writer // defaults to os.Stderr
}

// Host creates processes on the local operating system
type Host struct {
	cfg     Config
	sandbox sandbox.Sandbox
	clock   clock.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	children map[int]*exec.Cmd
	wg       sync.WaitGroup
}

// New creates a host. A nil sandbox means sandbox.New().
func New(cfg Config, sb sandbox.Sandbox) (*Host, error) {
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		cfg.Executable = exe
	}
	if cfg.Tick <= 0 {
		return nil, fmt.Errorf("tick must be positive, got %s", cfg.Tick)
	}
	if cfg.Limits == nil {
		cfg.Limits = &policy.ExecutionLimits{}
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if sb == nil {
		sb = sandbox.New()
	}

	return &Host{
		cfg:      cfg,
		sandbox:  sb,
		clock:    clock.New(),
		logger:   slog.Default(),
		children: make(map[int]*exec.Cmd),
	}, nil
}

// SetLogger sets the logger
func (h *Host) SetLogger(logger *slog.Logger) {
	h.logger = logger
}

// SetClock replaces the clock used by Sleep
func (h *Host) SetClock(c clock.Clock) {
	h.clock = c
}

// Self returns the primitives of the current process
func (h *Host) Self() workload.Proc {
	return &proc{host: h, pid: os.Getpid()}
}

// Spawn starts a child process running spec and returns its PID. The child
// is reaped in the background; it is not killed when ctx ends, because a
// spawned process outlives its creator.
func (h *Host) Spawn(ctx context.Context, spec workload.Spec) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	cmd := h.command(spec)
	if err := h.sandbox.Apply(cmd, h.cfg.Limits); err != nil {
		return 0, fmt.Errorf("failed to apply sandbox: %w", err)
	}

	pid, err := h.start(cmd)
	if err != nil {
		return 0, err
	}

	if err := h.sandbox.PostStart(pid, h.cfg.Limits); err != nil {
		h.logger.Debug("post-start limits failed (non-critical)", slog.Int("pid", pid), slog.String("error", err.Error()))
	}
	return pid, nil
}

// Kill sends SIGKILL to every child this host started that is still running
func (h *Host) Kill() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for pid, cmd := range h.children {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.logger.Debug("failed to kill child", slog.Int("pid", pid), slog.String("error", err.Error()))
		}
	}
}

// Wait blocks until every child this host started has been reaped
func (h *Host) Wait() {
	h.wg.Wait()
}

func (h *Host) command(spec workload.Spec) *exec.Cmd {
	opts := WorkerOptions{
		Spec:        spec,
		Tick:        h.cfg.Tick,
		JournalFile: h.cfg.JournalFile,
		RunID:       h.cfg.RunID,
	}

	args := append(opts.Args(), h.cfg.ExtraArgs...)
	cmd := exec.Command(h.cfg.Executable, args...)
	cmd.Env = append(os.Environ(), h.cfg.Env...)
	cmd.Stdout = h.cfg.Stdout
	cmd.Stderr = h.cfg.Stderr
	return cmd
}

// start starts cmd and hands it to a reaper goroutine
func (h *Host) start(cmd *exec.Cmd) (int, error) {
	if err := cmd.Start(); err != nil {
		if isResourceError(err) {
			return 0, fmt.Errorf("failed to start process: %w: %w", workload.ErrResourceExhausted, err)
		}
		return 0, fmt.Errorf("failed to start process: %w", err)
	}

	pid := cmd.Process.Pid
	h.mu.Lock()
	h.children[pid] = cmd
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := cmd.Wait()

		h.mu.Lock()
		delete(h.children, pid)
		h.mu.Unlock()

		if err != nil {
			h.logger.Debug("child exited", slog.Int("pid", pid), slog.String("error", err.Error()))
		}
	}()

	return pid, nil
}

// isResourceError reports whether a start failure means the host ran out of
// process slots or memory for a new process
func isResourceError(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM)
}

// proc is the current process's view of the host
type proc struct {
	host *Host
	pid  int
	mu   sync.Mutex
}

func (p *proc) PID() int {
	return p.pid
}

// Println writes the line with a single write call so lines from
// concurrent processes sharing stdout do not interleave mid-line
func (p *proc) Println(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.host.cfg.Stdout, line+"\n")
	return err
}

func (p *proc) Sleep(ctx context.Context) error {
	timer := p.host.clock.Timer(p.host.cfg.Tick)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *proc) Spawn(ctx context.Context, spec workload.Spec) (int, error) {
	return p.host.Spawn(ctx, spec)
}
