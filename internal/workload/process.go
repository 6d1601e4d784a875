package workload

import (
	"context"
	"fmt"
)

// Role is the behavior a process runs once it has been created.
type Role string

const (
	RoleGenerator Role = "generator"
	RoleBurster   Role = "burster"
	RoleYielder   Role = "yielder"
)

// Topology selects how the generator lineage distributes process creation.
type Topology string

const (
	// TopologyFanout: one generator creates every burster, then yields.
	TopologyFanout Topology = "fanout"
	// TopologyChain: every generator creates one burster, hands the remaining
	// iterations to a successor generator, then yields.
	TopologyChain Topology = "chain"
)

// DefaultPopulation is the number of creation iterations when none is configured.
const DefaultPopulation = 64

// Spec describes what a freshly created process runs.
type Spec struct {
	Role      Role
	Remaining int // creation iterations left, generators only
	Topology  Topology
}

// Validate checks a spec before any process is created for it
func (s Spec) Validate() error {
	switch s.Role {
	case RoleGenerator:
		if s.Remaining < 0 {
			return fmt.Errorf("population must be non-negative, got %d", s.Remaining)
		}
		if _, err := ParseTopology(string(s.Topology)); err != nil {
			return err
		}
	case RoleBurster, RoleYielder:
	default:
		return fmt.Errorf("unknown role: %q", s.Role)
	}
	return nil
}

// Proc is the set of host primitives available inside one process.
// Each process gets its own Proc; nothing is shared between them.
type Proc interface {
	// PID returns the identity the host assigned to this process.
	PID() int

	// Println writes one diagnostic line.
	Println(line string) error

	// Sleep suspends the process for one scheduling tick.
	Sleep(ctx context.Context) error

	// Spawn creates a new process running spec and returns its identity.
	// The calling process continues on return; the child never returns here.
	Spawn(ctx context.Context, spec Spec) (int, error)
}

// ParseRole converts a flag value into a Role
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleGenerator, RoleBurster, RoleYielder:
		return r, nil
	}
	return "", fmt.Errorf("unknown role: %q (expected generator, burster or yielder)", s)
}

// ParseTopology converts a flag value into a Topology. Empty means fanout.
func ParseTopology(s string) (Topology, error) {
	switch t := Topology(s); t {
	case "":
		return TopologyFanout, nil
	case TopologyFanout, TopologyChain:
		return t, nil
	}
	return "", fmt.Errorf("unknown topology: %q (expected fanout or chain)", s)
}
