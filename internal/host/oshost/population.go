package oshost

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/schedprobe/schedprobe/internal/workload"
)

// Population is a running stress population rooted at one generator
// process. Every descendant shares the root's process group.
type Population struct {
	host *Host
	cmd  *exec.Cmd
	pid  int

	done chan struct{}
	err  error

	killOnce sync.Once
	killErr  error
}

// Launch starts the root generator for spec in a new process group and
// confines it with the host's sandbox. The population runs until Kill.
func (h *Host) Launch(ctx context.Context, spec workload.Spec) (*Population, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	cmd := h.command(spec)
	setNewProcessGroup(cmd)
	if err := h.sandbox.Apply(cmd, h.cfg.Limits); err != nil {
		return nil, fmt.Errorf("failed to apply sandbox: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start generator: %w", err)
	}
	pid := cmd.Process.Pid

	if err := h.sandbox.Confine(pid, h.cfg.Limits); err != nil {
		h.logger.Debug("population confinement failed (non-critical)", slog.String("error", err.Error()))
	}
	if err := h.sandbox.PostStart(pid, h.cfg.Limits); err != nil {
		h.logger.Debug("post-start limits failed (non-critical)", slog.String("error", err.Error()))
	}

	p := &Population{
		host: h,
		cmd:  cmd,
		pid:  pid,
		done: make(chan struct{}),
	}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	h.logger.Info("population launched",
		slog.Int("pid", pid),
		slog.String("role", string(spec.Role)),
		slog.Int("population", spec.Remaining),
		slog.String("topology", string(spec.Topology)),
	)
	return p, nil
}

// PID returns the root generator's PID, which is also the process group ID
func (p *Population) PID() int {
	return p.pid
}

// Done is closed when the root generator exits
func (p *Population) Done() <-chan struct{} {
	return p.done
}

// Err returns the root generator's exit error; valid after Done is closed
func (p *Population) Err() error {
	return p.err
}

// Kill sends SIGKILL to the whole process group, waits for the root to be
// reaped and releases sandbox resources. Safe to call more than once.
func (p *Population) Kill() error {
	p.killOnce.Do(func() {
		if err := killProcessGroup(p.cmd); err != nil {
			p.killErr = fmt.Errorf("failed to kill population: %w", err)
		}
		<-p.done

		if err := p.host.sandbox.Cleanup(p.pid); err != nil {
			p.host.logger.Debug("sandbox cleanup failed", slog.String("error", err.Error()))
		}
		p.host.logger.Info("population killed", slog.Int("pgid", p.pid))
	})
	return p.killErr
}
