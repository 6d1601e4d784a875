//go:build linux

package oshost

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedprobe/schedprobe/internal/journal"
	"github.com/schedprobe/schedprobe/internal/sandbox"
	"github.com/schedprobe/schedprobe/internal/workload"
)

const helperEnv = "SCHEDPROBE_TEST_WORKER"

// TestMain turns the test binary into a worker when re-executed by a Host
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelperWorker(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runHelperWorker(args []string) int {
	opts, err := ParseWorkerArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	host, err := New(Config{
		Executable:  os.Args[0],
		Env:         []string{helperEnv + "=1"},
		Tick:        opts.Tick,
		JournalFile: opts.JournalFile,
		RunID:       opts.RunID,
	}, &sandbox.NoOpSandbox{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	w := workload.New()
	if opts.JournalFile != "" {
		j, err := journal.NewLogger(opts.JournalFile, opts.RunID)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		defer j.Close() //nolint:errcheck // process exit
		w.SetRecorder(j)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	if err := w.Run(ctx, host.Self(), opts.Spec); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// syncBuffer collects output written by several child processes
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var announceRe = regexp.MustCompile(`I am the (burster|yielder): (\d+)`)

// announced maps role to the PIDs that printed an identity line
func announced(out string) map[string][]int {
	roles := make(map[string][]int)
	for _, m := range announceRe.FindAllStringSubmatch(out, -1) {
		pid, _ := strconv.Atoi(m[2]) //nolint:errcheck // regexp guarantees digits
		roles[m[1]] = append(roles[m[1]], pid)
	}
	return roles
}

func newTestHost(t *testing.T, out *syncBuffer, journalFile string) *Host {
	t.Helper()
	if testing.Short() {
		t.Skip("spawns real processes")
	}

	host, err := New(Config{
		Executable:  os.Args[0],
		Env:         []string{helperEnv + "=1"},
		Tick:        20 * time.Millisecond,
		JournalFile: journalFile,
		RunID:       "test-run",
		Stdout:      out,
	}, &sandbox.NoOpSandbox{})
	require.NoError(t, err)
	return host
}

func TestNew_RejectsZeroTick(t *testing.T) {
	_, err := New(Config{Executable: "/bin/true"}, nil)
	assert.Error(t, err)
}

func TestSpawn_Yielder(t *testing.T) {
	out := &syncBuffer{}
	host := newTestHost(t, out, "")
	t.Cleanup(func() {
		host.Kill()
		host.Wait()
	})

	pid, err := host.Spawn(context.Background(), workload.Spec{Role: workload.RoleYielder})
	require.NoError(t, err)
	assert.Positive(t, pid)

	require.Eventually(t, func() bool {
		return bytes.Count([]byte(out.String()), []byte("Yielding again!")) >= 3
	}, 10*time.Second, 10*time.Millisecond)

	assert.Equal(t, []int{pid}, announced(out.String())["yielder"])
}

func TestSpawn_CancelledContext(t *testing.T) {
	host := newTestHost(t, &syncBuffer{}, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := host.Spawn(ctx, workload.Spec{Role: workload.RoleBurster})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSpawn_MissingExecutable(t *testing.T) {
	host, err := New(Config{
		Executable: filepath.Join(t.TempDir(), "missing"),
		Tick:       time.Second,
	}, &sandbox.NoOpSandbox{})
	require.NoError(t, err)

	_, err = host.Spawn(context.Background(), workload.Spec{Role: workload.RoleBurster})
	require.Error(t, err)
	assert.False(t, workload.IsResourceExhausted(err))
}

func TestLaunch_FanoutPopulation(t *testing.T) {
	out := &syncBuffer{}
	journalFile := filepath.Join(t.TempDir(), "journal.log")
	host := newTestHost(t, out, journalFile)

	pop, err := host.Launch(context.Background(), workload.Spec{
		Role:      workload.RoleGenerator,
		Remaining: 2,
		Topology:  workload.TopologyFanout,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pop.Kill() }) //nolint:errcheck // test cleanup

	require.Eventually(t, func() bool {
		roles := announced(out.String())
		return len(roles["burster"]) == 2 && len(roles["yielder"]) == 1
	}, 10*time.Second, 10*time.Millisecond)

	roles := announced(out.String())
	assert.Equal(t, pop.PID(), roles["yielder"][0], "the root generator becomes the yielder")

	// the whole population shares the root's process group
	for _, pid := range roles["burster"] {
		pgid, err := syscall.Getpgid(pid)
		require.NoError(t, err)
		assert.Equal(t, pop.PID(), pgid)
	}

	// the generator journals each creation after it returns
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(journalFile)
		return err == nil && bytes.Count(data, []byte(`"type":"spawn"`)) == 2
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, pop.Kill())
	select {
	case <-pop.Done():
	default:
		t.Fatal("root generator still running after Kill")
	}
	assert.Error(t, pop.Err(), "root was killed by a signal")
	assert.NoError(t, pop.Kill(), "second Kill is a no-op")

	data, err := os.ReadFile(journalFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"test-run"`)
}

func TestLaunch_InvalidSpec(t *testing.T) {
	host := newTestHost(t, &syncBuffer{}, "")

	_, err := host.Launch(context.Background(), workload.Spec{Role: workload.RoleGenerator, Remaining: -1})
	assert.Error(t, err)
}
