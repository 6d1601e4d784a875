package workload

// Plan is the population a generator produces when every creation succeeds
type Plan struct {
	Population int      `json:"population" yaml:"population"`
	Topology   Topology `json:"topology" yaml:"topology"`
	Attempts   int      `json:"attempts" yaml:"attempts"`   // creation calls
	Processes  int      `json:"processes" yaml:"processes"` // including the root generator
	Bursters   int      `json:"bursters" yaml:"bursters"`
	Yielders   int      `json:"yielders" yaml:"yielders"`
}

// NewPlan computes the expected population for n creation iterations
func NewPlan(n int, topology Topology) (Plan, error) {
	if err := (Spec{Role: RoleGenerator, Remaining: n, Topology: topology}).Validate(); err != nil {
		return Plan{}, err
	}
	topology, _ = ParseTopology(string(topology)) //nolint:errcheck // validated above

	plan := Plan{
		Population: n,
		Topology:   topology,
		Bursters:   n,
		Yielders:   1,
	}

	switch {
	case topology == TopologyChain && n > 0:
		// n bursters plus n-1 successor generators
		plan.Attempts = 2*n - 1
		plan.Yielders = n
	default:
		plan.Attempts = n
	}
	plan.Processes = plan.Bursters + plan.Yielders

	return plan, nil
}
