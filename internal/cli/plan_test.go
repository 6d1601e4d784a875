package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/schedprobe/schedprobe/internal/config"
)

// newPlanCommand returns a fresh command wired to runPlan so tests do not
// share flag state through planCmd
func newPlanCommand(t *testing.T, out *bytes.Buffer) *cobra.Command {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	loaded, err := config.Load("")
	require.NoError(t, err)
	cfg = loaded
	t.Cleanup(func() {
		cfg = nil
		jsonOutput = false
	})

	cmd := &cobra.Command{Use: "plan", RunE: runPlan}
	addPopulationFlags(cmd, &planFlags.population, &planFlags.topology)
	cmd.SetOut(out)
	return cmd
}

func TestPlan_YAML(t *testing.T) {
	var out bytes.Buffer
	cmd := newPlanCommand(t, &out)
	require.NoError(t, cmd.Flags().Set("population", "3"))

	require.NoError(t, cmd.RunE(cmd, nil))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 3, got["population"])
	assert.Equal(t, "fanout", got["topology"])
	assert.Equal(t, 3, got["attempts"])
	assert.Equal(t, 4, got["processes"])
	assert.Equal(t, 3, got["bursters"])
	assert.Equal(t, 1, got["yielders"])
	assert.Equal(t, 0, got["expected_failures"])
	assert.NotContains(t, got, "max_pids")
}

func TestPlan_JSONChainWithLimit(t *testing.T) {
	var out bytes.Buffer
	cmd := newPlanCommand(t, &out)
	require.NoError(t, cmd.Flags().Set("population", "4"))
	require.NoError(t, cmd.Flags().Set("topology", "chain"))
	cfg.MaxPIDs = 5
	jsonOutput = true

	require.NoError(t, cmd.RunE(cmd, nil))

	var got planOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 7, got.Attempts)
	assert.Equal(t, 4, got.Bursters)
	assert.Equal(t, 4, got.Yielders)
	assert.Equal(t, 8, got.Processes)
	assert.Equal(t, 5, got.MaxPIDs)
	assert.Equal(t, 3, got.ExpectedFailures)
}

func TestPlan_ConfigPopulationWithoutFlag(t *testing.T) {
	var out bytes.Buffer
	cmd := newPlanCommand(t, &out)
	cfg.Population = 0

	require.NoError(t, cmd.RunE(cmd, nil))

	var got planOutput
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 0, got.Bursters)
	assert.Equal(t, 1, got.Yielders)
	assert.Equal(t, 1, got.Processes)
}

func TestPlan_InvalidTopology(t *testing.T) {
	var out bytes.Buffer
	cmd := newPlanCommand(t, &out)
	require.NoError(t, cmd.Flags().Set("topology", "star"))

	assert.Error(t, cmd.RunE(cmd, nil))
	assert.Empty(t, out.String())
}
