package scenario

import (
	"context"
	"errors"
	"fmt"
	"hazeltopo/grid"
	"strings"
)

type (
	Family   string
	Scenario struct {
		Name   string
		Family Family
		// Outcomes lists every outcome name the scenario records, the primary one last.
		Outcomes []string
		run      func(ctx context.Context, x *Execution) error
	}
	Capabilities struct {
		SQL    bool
		Quorum bool
		// Ownership is set when the backend can tell which member owns a partition. The distribution families
		// have nothing to measure without it.
		Ownership bool
	}
)

const (
	FamilyPartitionDistribution Family = "partitionDistribution"
	FamilyAddingNode            Family = "addingNode"
	FamilyNodeShutdown          Family = "nodeShutdown"
	FamilyNodeTermination       Family = "nodeTermination"
	FamilyCustomPartitioning    Family = "customPartitioning"
	FamilyFailoverQueries       Family = "failoverQueries"
	FamilyQuorum                Family = "quorum"
	FamilyFailoverTiming        Family = "failoverTiming"
)

var families = []Family{
	FamilyPartitionDistribution,
	FamilyAddingNode,
	FamilyNodeShutdown,
	FamilyNodeTermination,
	FamilyCustomPartitioning,
	FamilyFailoverQueries,
	FamilyQuorum,
	FamilyFailoverTiming,
}

var ErrDuplicateScenarioName = errors.New("outcome name produced by more than one scenario")

func CapabilitiesOf(b grid.Backend) Capabilities {

	_, sql := b.(grid.SQLProvider)
	_, quorum := b.(grid.QuorumProtector)
	_, ownership := b.(grid.OwnershipResolver)

	return Capabilities{SQL: sql, Quorum: quorum, Ownership: ownership}

}

// Catalog expands every enabled family into concrete scenarios, in the order they are meant to run. Families that
// need a capability the backend lacks are left out.
func Catalog(s Settings, caps Capabilities) ([]Scenario, error) {

	var result []Scenario

	if s.Enabled[FamilyPartitionDistribution] && caps.Ownership {
		for _, n := range s.DataSizes {
			result = append(result, partitionDistribution(n))
		}
	}
	if s.Enabled[FamilyAddingNode] && caps.Ownership {
		for _, n := range s.DataSizes {
			result = append(result, addingNode(n))
		}
	}
	if s.Enabled[FamilyNodeShutdown] && caps.Ownership {
		for _, n := range s.DataSizes {
			result = append(result, nodeRemoval(n, false))
		}
	}
	if s.Enabled[FamilyNodeTermination] && caps.Ownership {
		for _, n := range s.DataSizes {
			result = append(result, nodeRemoval(n, true))
		}
	}
	if s.Enabled[FamilyCustomPartitioning] && caps.Ownership {
		for _, n := range s.DataSizes {
			result = append(result, customPartitioning(n))
		}
	}
	if s.Enabled[FamilyFailoverQueries] {
		for _, abrupt := range []bool{false, true} {
			result = append(result, predicateFailover(abrupt))
		}
		if caps.SQL {
			for _, abrupt := range []bool{false, true} {
				result = append(result, sqlFailover(abrupt))
			}
		}
	}
	if s.Enabled[FamilyQuorum] && caps.Quorum {
		result = append(result, minimumMembersQuorum(), quorumFailure(), readWriteQuorum(), splitBrainRecovery())
	}
	if s.Enabled[FamilyFailoverTiming] {
		for _, n := range s.DataSizes {
			result = append(result, failoverTiming(n))
		}
	}

	seen := map[string]string{}
	for _, sc := range result {
		for _, o := range sc.Outcomes {
			if other, ok := seen[o]; ok {
				return nil, fmt.Errorf("%w: '%s' (scenarios '%s' and '%s')", ErrDuplicateScenarioName, o, other, sc.Name)
			}
			seen[o] = sc.Name
		}
	}

	return result, nil

}

// Filter keeps scenarios any of whose outcome names starts with prefix. An empty prefix keeps everything.
func Filter(scenarios []Scenario, prefix string) []Scenario {

	if prefix == "" {
		return scenarios
	}

	var result []Scenario
	for _, sc := range scenarios {
		for _, o := range sc.Outcomes {
			if strings.HasPrefix(o, prefix) {
				result = append(result, sc)
				break
			}
		}
	}

	return result

}
