// Package simhost runs a workload inside the current Go process. Every
// simulated process is a goroutine with its own identity, output and sleep
// accounting, so tests can drive populations deterministically and cancel
// them through a context.
package simhost

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/schedprobe/schedprobe/internal/workload"
)

// DefaultTick is the sleep length when Config.Tick is zero
const DefaultTick = 10 * time.Millisecond

// Config holds the host's knobs. The zero value is a usable host with an
// unlimited process table and a real clock.
type Config struct {
	Clock    clock.Clock
	Tick     time.Duration
	Capacity int // max live processes including the root; 0 means unlimited

	// FailSpawn is consulted on every creation call with the host-wide
	// 1-based attempt number. A non-nil error fails that call.
	FailSpawn func(attempt int) error

	// FailPrintln and FailSleep inject primitive failures per process.
	FailPrintln func(pid int, line string) error
	FailSleep   func(pid int) error
}

// Line is one line of output attributed to the process that wrote it
type Line struct {
	PID  int
	Text string
}

// ProcessInfo is the accounting kept for one simulated process
type ProcessInfo struct {
	PID       int
	Parent    int // 0 for the root
	Spec      workload.Spec
	Announced workload.Role // role from the process's identity line, empty until printed
	Progress  int           // yield progress lines
	Sleeps    int           // calls to Sleep
	Exited    bool
	Err       error
}

// Snapshot is a point-in-time copy of the host's accounting
type Snapshot struct {
	Attempts  int // creation calls, failed ones included
	Failures  int
	Processes []ProcessInfo // sorted by PID
	Lines     []Line
}

// Host is an in-process implementation of the workload's host primitives
type Host struct {
	cfg      Config
	workload *workload.Workload
	logger   *slog.Logger

	mu       sync.Mutex
	nextPID  int
	live     int
	attempts int
	failures int
	procs    map[int]*ProcessInfo
	lines    []Line
	wg       sync.WaitGroup
}

// New creates a host that runs w for every process it creates
func New(w *workload.Workload, cfg Config) *Host {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	return &Host{
		cfg:      cfg,
		workload: w,
		logger:   slog.Default(),
		procs:    make(map[int]*ProcessInfo),
	}
}

// SetLogger sets the logger
func (h *Host) SetLogger(logger *slog.Logger) {
	h.logger = logger
}

// Start creates the root process running spec and returns its PID.
// The root does not count as a creation attempt.
func (h *Host) Start(ctx context.Context, spec workload.Spec) (int, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startLocked(ctx, 0, spec)
}

// Wait blocks until every process goroutine has returned
func (h *Host) Wait() {
	h.wg.Wait()
}

// Snapshot copies the current accounting
func (h *Host) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := Snapshot{
		Attempts:  h.attempts,
		Failures:  h.failures,
		Processes: make([]ProcessInfo, 0, len(h.procs)),
		Lines:     append([]Line(nil), h.lines...),
	}
	for _, p := range h.procs {
		snap.Processes = append(snap.Processes, *p)
	}
	sort.Slice(snap.Processes, func(i, j int) bool {
		return snap.Processes[i].PID < snap.Processes[j].PID
	})
	return snap
}

// Process returns the accounting for pid
func (s Snapshot) Process(pid int) (ProcessInfo, bool) {
	for _, p := range s.Processes {
		if p.PID == pid {
			return p, true
		}
	}
	return ProcessInfo{}, false
}

// Announced returns the processes that printed the identity line for role
func (s Snapshot) Announced(role workload.Role) []ProcessInfo {
	var out []ProcessInfo
	for _, p := range s.Processes {
		if p.Announced == role {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the number of processes that announced role
func (s Snapshot) Count(role workload.Role) int {
	return len(s.Announced(role))
}

func (h *Host) spawn(ctx context.Context, parent int, spec workload.Spec) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts++
	attempt := h.attempts

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if h.cfg.FailSpawn != nil {
		if err := h.cfg.FailSpawn(attempt); err != nil {
			h.failures++
			return 0, fmt.Errorf("spawn attempt %d: %w", attempt, err)
		}
	}
	if h.cfg.Capacity > 0 && h.live >= h.cfg.Capacity {
		h.failures++
		return 0, fmt.Errorf("spawn attempt %d: %d live processes: %w", attempt, h.live, workload.ErrResourceExhausted)
	}

	return h.startLocked(ctx, parent, spec)
}

func (h *Host) startLocked(ctx context.Context, parent int, spec workload.Spec) (int, error) {
	h.nextPID++
	pid := h.nextPID
	h.live++
	h.procs[pid] = &ProcessInfo{PID: pid, Parent: parent, Spec: spec}

	p := &proc{host: h, pid: pid}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := h.workload.Run(ctx, p, spec)

		h.mu.Lock()
		info := h.procs[pid]
		info.Exited = true
		info.Err = err
		h.live--
		h.mu.Unlock()

		h.logger.Debug("simulated process exited", slog.Int("pid", pid), slog.Any("error", err))
	}()

	return pid, nil
}

func (h *Host) println(pid int, line string) error {
	if h.cfg.FailPrintln != nil {
		if err := h.cfg.FailPrintln(pid, line); err != nil {
			return err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lines = append(h.lines, Line{PID: pid, Text: line})
	info := h.procs[pid]
	switch line {
	case fmt.Sprintf(workload.BursterAnnounce, pid):
		info.Announced = workload.RoleBurster
	case fmt.Sprintf(workload.YielderAnnounce, pid):
		info.Announced = workload.RoleYielder
	case workload.YieldProgress:
		info.Progress++
	}
	return nil
}

func (h *Host) sleep(ctx context.Context, pid int) error {
	if h.cfg.FailSleep != nil {
		if err := h.cfg.FailSleep(pid); err != nil {
			return err
		}
	}

	// the timer exists before the call is counted, so a test that sees the
	// count can advance a mock clock without racing the sleeper
	timer := h.cfg.Clock.Timer(h.cfg.Tick)
	h.mu.Lock()
	h.procs[pid].Sleeps++
	h.mu.Unlock()

	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// proc is the per-process view of the host handed to the workload
type proc struct {
	host *Host
	pid  int
}

func (p *proc) PID() int {
	return p.pid
}

func (p *proc) Println(line string) error {
	return p.host.println(p.pid, line)
}

func (p *proc) Sleep(ctx context.Context) error {
	return p.host.sleep(ctx, p.pid)
}

func (p *proc) Spawn(ctx context.Context, spec workload.Spec) (int, error) {
	return p.host.spawn(ctx, p.pid, spec)
}
