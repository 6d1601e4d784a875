package cli

import (
	"fmt"

	"github.com/schedprobe/schedprobe/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"

	// Global flags
	configFile string
	verbose    bool
	jsonOutput bool

	// Global config
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "schedprobe",
	Short: "schedprobe - CPU scheduler stress workload",
	Long: `schedprobe starts a population of CPU-bound bursters and a sleeping
yielder to exercise an operating system scheduler. The population runs until
it is stopped from outside: Ctrl-C, SIGTERM or --duration.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags if provided
		if verbose {
			cfg.LogLevel = "debug"
		}
		if jsonOutput {
			cfg.LogFormat = "json"
		}

		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.schedprobe/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	// Version template
	rootCmd.SetVersionTemplate(fmt.Sprintf("schedprobe version %s\ncommit: %s\nbuilt: %s\n", Version, GitCommit, BuildDate))

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(doctorCmd)
}

// runCmd starts a stress population
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a stress population",
	Long: `Start a stress population: the root generator creates the configured
number of bursters and then becomes a yielder.
Example: schedprobe run -n 8 --duration 30s`,
	Args: cobra.NoArgs,
}

// workerCmd is the entry point of every spawned process
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one process of a stress population",
	Hidden: true,
	Args:   cobra.NoArgs,
}

// planCmd prints the population a run would create
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the population a run would create",
	Long: `Show how many processes of each role a run would create, without
starting anything.
Example: schedprobe plan -n 8 --topology chain`,
	Args: cobra.NoArgs,
}

// doctorCmd diagnoses system capabilities
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose system capabilities",
	Long:  `Diagnose system capabilities for bounding a stress population (rlimits, cgroups, process groups).`,
	Args:  cobra.NoArgs,
}
