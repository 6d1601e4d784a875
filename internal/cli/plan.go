package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/schedprobe/schedprobe/internal/policy"
	"github.com/schedprobe/schedprobe/internal/workload"
)

// planCmdFlags holds flags for the plan command
type planCmdFlags struct {
	population int
	topology   string
}

var planFlags planCmdFlags

// planOutput is a plan plus what the configured limits make of it
type planOutput struct {
	workload.Plan    `yaml:",inline"`
	MaxPIDs          int `json:"max_pids,omitempty" yaml:"max_pids,omitempty"`
	ExpectedFailures int `json:"expected_failures" yaml:"expected_failures"`
}

func init() {
	planCmd.RunE = runPlan
	addPopulationFlags(planCmd, &planFlags.population, &planFlags.topology)
}

func runPlan(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("population") {
		cfg.Population = planFlags.population
	}
	if cmd.Flags().Changed("topology") {
		cfg.Topology = planFlags.topology
	}

	topology, err := workload.ParseTopology(cfg.Topology)
	if err != nil {
		return err
	}
	plan, err := workload.NewPlan(cfg.Population, topology)
	if err != nil {
		return err
	}

	logger := createLogger(cfg.LogLevel, cfg.LogFormat)
	pol := policy.NewPolicyWithLogger(cfg, logger)
	out := planOutput{
		Plan:             plan,
		MaxPIDs:          pol.MaxPIDs,
		ExpectedFailures: pol.ExpectedFailures(plan),
	}

	if jsonOutput {
		return outputPlanJSON(cmd.OutOrStdout(), out)
	}
	return outputPlanYAML(cmd.OutOrStdout(), out)
}

func outputPlanJSON(w io.Writer, out planOutput) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func outputPlanYAML(w io.Writer, out planOutput) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(out); err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	return encoder.Close()
}
