package workload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/schedprobe/schedprobe/internal/journal"
)

// Lines written by the behavior loops. Harnesses match on these.
const (
	BursterAnnounce = "\tI am the burster: %d"
	YielderAnnounce = "\tI am the yielder: %d"
	YieldProgress   = "\t\tYielding again!"
)

// Recorder receives journal events. *journal.Logger satisfies it.
type Recorder interface {
	Log(event journal.Event) error
}

// Workload runs generator, burster and yielder processes on top of a host's
// primitives. One Workload may serve every process of a host.
type Workload struct {
	logger   *slog.Logger
	recorder Recorder
}

// New creates a Workload that logs to slog.Default() and records nothing
func New() *Workload {
	return &Workload{
		logger: slog.Default(),
	}
}

// SetLogger sets the logger
func (w *Workload) SetLogger(logger *slog.Logger) {
	w.logger = logger
}

// SetRecorder sets the journal recorder. nil disables recording.
func (w *Workload) SetRecorder(r Recorder) {
	w.recorder = r
}

// Run executes spec inside the process described by p. It only returns on
// cancellation (ctx.Err()), on an invalid spec, or with a *ProcessError when
// an output or delay primitive fails.
func (w *Workload) Run(ctx context.Context, p Proc, spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	var err error
	switch spec.Role {
	case RoleGenerator:
		err = w.generate(ctx, p, spec)
	case RoleBurster:
		err = w.burst(ctx, p)
	case RoleYielder:
		err = w.yield(ctx, p)
	}

	if IsProcessError(err) {
		w.logger.Error("process failed", slog.Int("pid", p.PID()), slog.String("error", err.Error()))
		w.record(journal.Event{
			Type:    journal.TypeExit,
			Role:    string(spec.Role),
			PID:     p.PID(),
			Error:   err.Error(),
			Outcome: "error",
		})
	}
	return err
}

// generate performs the creation loop and then turns the calling process
// into a yielder. A failed creation is logged and the loop moves on.
func (w *Workload) generate(ctx context.Context, p Proc, spec Spec) error {
	w.record(journal.Event{
		Type: journal.TypeEnter,
		Role: string(RoleGenerator),
		PID:  p.PID(),
		Metadata: map[string]string{
			"remaining": fmt.Sprintf("%d", spec.Remaining),
			"topology":  string(spec.Topology),
		},
	})

	topology, _ := ParseTopology(string(spec.Topology)) //nolint:errcheck // validated in Run
	remaining := spec.Remaining
	attempt := 0

	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		attempt++
		remaining--
		w.spawn(ctx, p, Spec{Role: RoleBurster}, attempt)

		if topology == TopologyChain && remaining > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			attempt++
			successor := Spec{Role: RoleGenerator, Remaining: remaining, Topology: TopologyChain}
			if _, err := w.spawn(ctx, p, successor, attempt); err == nil {
				// the successor owns the remaining iterations
				break
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return w.yield(ctx, p)
}

func (w *Workload) spawn(ctx context.Context, p Proc, spec Spec, attempt int) (int, error) {
	pid, err := p.Spawn(ctx, spec)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		w.logger.Warn("process creation failed, continuing",
			slog.Int("pid", p.PID()),
			slog.String("role", string(spec.Role)),
			slog.Int("attempt", attempt),
			slog.Bool("resource_exhausted", IsResourceExhausted(err)),
			slog.String("error", err.Error()),
		)
		w.record(journal.Event{
			Type:      journal.TypeSpawnFailed,
			Role:      string(RoleGenerator),
			PID:       p.PID(),
			ChildRole: string(spec.Role),
			Attempt:   attempt,
			Error:     err.Error(),
		})
		return 0, err
	}

	w.logger.Debug("process created",
		slog.Int("pid", p.PID()),
		slog.Int("child_pid", pid),
		slog.String("role", string(spec.Role)),
		slog.Int("attempt", attempt),
	)
	w.record(journal.Event{
		Type:      journal.TypeSpawn,
		Role:      string(RoleGenerator),
		PID:       p.PID(),
		ChildPID:  pid,
		ChildRole: string(spec.Role),
		Attempt:   attempt,
	})
	return pid, nil
}

// yield announces the process, then alternates a progress line with one
// tick of sleep until ctx is done.
func (w *Workload) yield(ctx context.Context, p Proc) error {
	w.record(journal.Event{Type: journal.TypeEnter, Role: string(RoleYielder), PID: p.PID()})

	if err := p.Println(fmt.Sprintf(YielderAnnounce, p.PID())); err != nil {
		return &ProcessError{Role: RoleYielder, PID: p.PID(), Op: "println", Err: err}
	}

	for {
		if err := p.Println(YieldProgress); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ProcessError{Role: RoleYielder, PID: p.PID(), Op: "println", Err: err}
		}
		if err := p.Sleep(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ProcessError{Role: RoleYielder, PID: p.PID(), Op: "sleep", Err: err}
		}
	}
}

// burst announces the process and then occupies the CPU until ctx is done
func (w *Workload) burst(ctx context.Context, p Proc) error {
	w.record(journal.Event{Type: journal.TypeEnter, Role: string(RoleBurster), PID: p.PID()})

	if err := p.Println(fmt.Sprintf(BursterAnnounce, p.PID())); err != nil {
		return &ProcessError{Role: RoleBurster, PID: p.PID(), Op: "println", Err: err}
	}
	return spin(ctx)
}

// spin never calls into the host. The non-blocking receive only observes
// cancellation; with a nil Done channel it spins forever.
func spin(ctx context.Context) error {
	done := ctx.Done()
	for {
		select {
		case <-done:
			return ctx.Err()
		default:
		}
	}
}

func (w *Workload) record(event journal.Event) {
	if w.recorder == nil {
		return
	}
	if err := w.recorder.Log(event); err != nil {
		w.logger.Warn("failed to record journal event",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
	}
}
