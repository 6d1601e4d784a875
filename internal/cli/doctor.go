package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/schedprobe/schedprobe/internal/sandbox"
)

func init() {
	doctorCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd.OutOrStdout())
	}
}

func runDoctor(w io.Writer) error {
	info := sandbox.Diagnose()

	if jsonOutput {
		return outputDoctorJSON(w, &info)
	}
	return outputDoctorText(w, &info)
}

func outputDoctorText(w io.Writer, info *sandbox.DiagnosticInfo) error {
	// Header
	fmt.Fprintf(w, "schedprobe Diagnostics\n")
	fmt.Fprintf(w, "======================\n\n")

	// System Information
	fmt.Fprintf(w, "System Information:\n")
	fmt.Fprintf(w, "  OS:          %s\n", info.OS)
	fmt.Fprintf(w, "  Arch:        %s\n", info.Arch)
	fmt.Fprintf(w, "  Go Version:  %s\n", runtime.Version())
	fmt.Fprintf(w, "  CPUs:        %d\n", info.NumCPU)
	fmt.Fprintf(w, "  GOMAXPROCS:  %d\n", info.GOMAXPROCS)
	fmt.Fprintf(w, "  Sandbox:     %s\n", info.Sandbox)
	if info.RunningAsRoot {
		fmt.Fprintf(w, "  Running as:  root/admin\n")
	} else {
		fmt.Fprintf(w, "  Running as:  non-root user\n")
	}
	fmt.Fprintln(w)

	// Capabilities
	fmt.Fprintf(w, "Population Limits:\n")
	caps := info.Capabilities
	for _, c := range capabilityList(caps) {
		printCapability(w, c.name, c.enabled)
	}
	fmt.Fprintln(w)

	// Platform-specific information
	if info.OS == "linux" {
		fmt.Fprintf(w, "Linux-Specific Information:\n")
		fmt.Fprintf(w, "  Cgroups Version: %s\n", info.CgroupsVersion)
		fmt.Fprintln(w)
	}

	// Warnings
	warnings := append(append([]string{}, caps.Warnings...), info.Warnings...)
	if len(warnings) > 0 {
		fmt.Fprintf(w, "Warnings:\n")
		for _, warning := range warnings {
			fmt.Fprintf(w, "  [!] %s\n", warning)
		}
		fmt.Fprintln(w)
	}

	// Recommendations
	if len(info.Recommendations) > 0 {
		fmt.Fprintf(w, "Recommendations:\n")
		for _, r := range info.Recommendations {
			fmt.Fprintf(w, "  [*] %s\n", r)
		}
		fmt.Fprintln(w)
	}

	// Summary
	fmt.Fprintf(w, "Summary:\n")
	fmt.Fprintf(w, "  %d/%d features available\n", countEnabledCapabilities(caps), len(capabilityList(caps)))

	return nil
}

func outputDoctorJSON(w io.Writer, info *sandbox.DiagnosticInfo) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

type capability struct {
	name    string
	enabled bool
}

func capabilityList(caps sandbox.Capabilities) []capability {
	return []capability{
		{"CPU Time Limiting", caps.CPULimit},
		{"Process Count Limiting", caps.PIDLimit},
		{"File Descriptor Limiting", caps.FDLimit},
		{"Cgroups", caps.Cgroups},
		{"Process Groups", caps.ProcessGroups},
	}
}

func printCapability(w io.Writer, name string, enabled bool) {
	status := "✗"
	if enabled {
		status = "✓"
	}
	fmt.Fprintf(w, "  [%s] %s\n", status, name)
}

func countEnabledCapabilities(caps sandbox.Capabilities) int {
	count := 0
	for _, c := range capabilityList(caps) {
		if c.enabled {
			count++
		}
	}
	return count
}
