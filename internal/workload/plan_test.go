package workload

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlan(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		topology Topology
		want     Plan
	}{
		{
			name:     "fanout default population",
			n:        DefaultPopulation,
			topology: TopologyFanout,
			want:     Plan{Population: 64, Topology: TopologyFanout, Attempts: 64, Processes: 65, Bursters: 64, Yielders: 1},
		},
		{
			name:     "fanout zero",
			n:        0,
			topology: TopologyFanout,
			want:     Plan{Population: 0, Topology: TopologyFanout, Attempts: 0, Processes: 1, Bursters: 0, Yielders: 1},
		},
		{
			name:     "empty topology means fanout",
			n:        2,
			topology: "",
			want:     Plan{Population: 2, Topology: TopologyFanout, Attempts: 2, Processes: 3, Bursters: 2, Yielders: 1},
		},
		{
			name:     "chain zero",
			n:        0,
			topology: TopologyChain,
			want:     Plan{Population: 0, Topology: TopologyChain, Attempts: 0, Processes: 1, Bursters: 0, Yielders: 1},
		},
		{
			name:     "chain one",
			n:        1,
			topology: TopologyChain,
			want:     Plan{Population: 1, Topology: TopologyChain, Attempts: 1, Processes: 2, Bursters: 1, Yielders: 1},
		},
		{
			name:     "chain five",
			n:        5,
			topology: TopologyChain,
			want:     Plan{Population: 5, Topology: TopologyChain, Attempts: 9, Processes: 10, Bursters: 5, Yielders: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewPlan(tt.n, tt.topology)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan)
		})
	}
}

func TestNewPlan_Invalid(t *testing.T) {
	_, err := NewPlan(-1, TopologyFanout)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "non-negative")

	_, err = NewPlan(3, "ring")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown topology")
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"generator", "burster", "yielder"} {
		r, err := ParseRole(s)
		require.NoError(t, err)
		assert.Equal(t, Role(s), r)
	}

	_, err := ParseRole("")
	assert.Error(t, err)
	_, err = ParseRole("Burster")
	assert.Error(t, err)
}

func TestProcessError(t *testing.T) {
	inner := errors.New("broken pipe")
	err := fmt.Errorf("worker: %w", &ProcessError{Role: RoleYielder, PID: 42, Op: "println", Err: inner})

	assert.True(t, IsProcessError(err))
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "yielder 42: println failed: broken pipe")

	assert.False(t, IsProcessError(inner))
}

func TestIsResourceExhausted(t *testing.T) {
	err := fmt.Errorf("fork: %w", ErrResourceExhausted)
	assert.True(t, IsResourceExhausted(err))
	assert.False(t, IsResourceExhausted(errors.New("permission denied")))
}
