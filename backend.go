package main

import (
	"context"
	"fmt"
	log "github.com/sirupsen/logrus"
	"hazeltopo/client"
	"hazeltopo/cluster"
	"hazeltopo/embedded"
	"hazeltopo/grid"
	"hazeltopo/hazelcastwrapper"
	"hazeltopo/partitioning"
	"time"
)

type (
	backendKind string
	gridConfig  struct {
		Backend          backendKind
		PartitionCount   int
		Strategy         partitioning.Strategy
		InitialMembers   int
		BackupCount      int
		FailureDetection time.Duration
		ClusterName      string
		Members          []string
	}
)

const (
	backendEmbedded  backendKind = "embedded"
	backendHazelcast backendKind = "hazelcast"
)

func populateGridConfig(a client.ConfigPropertyAssigner) (*gridConfig, error) {

	var assignmentOps []func() error

	c := &gridConfig{}
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("grid.backend", validateBackend, func(a any) {
			c.Backend = backendKind(a.(string))
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("grid.partitionCount", client.ValidateInt, func(a any) {
			c.PartitionCount = a.(int)
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("grid.partitioningStrategy", client.ValidateString, func(a any) {
			c.Strategy = partitioning.Strategy(a.(string))
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("grid.embedded.initialMembers", client.ValidateInt, func(a any) {
			c.InitialMembers = a.(int)
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("grid.embedded.backupCount", client.ValidateNonNegativeInt, func(a any) {
			c.BackupCount = a.(int)
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("grid.embedded.failureDetectionMs", client.ValidateNonNegativeInt, func(a any) {
			c.FailureDetection = time.Duration(a.(int)) * time.Millisecond
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("grid.hazelcast.clusterName", client.ValidateString, func(a any) {
			c.ClusterName = a.(string)
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("grid.hazelcast.members", client.ValidateStringSlice, func(a any) {
			c.Members = client.StringSlice(a)
		})
	})

	for i := 0; i < len(assignmentOps); i++ {
		if err := assignmentOps[i](); err != nil {
			return nil, err
		}
	}

	return c, nil

}

func validateBackend(path string, a any) error {

	if err := client.ValidateString(path, a); err != nil {
		return err
	}

	switch backendKind(a.(string)) {
	case backendEmbedded, backendHazelcast:
		return nil
	default:
		return client.NewFailedValueCheck(path, fmt.Sprintf("unknown grid backend: %s", a))
	}

}

// connect assembles the grid backend and the controller managing its members. The embedded grid gets its
// initial members started here; they are not ad-hoc members and survive every scenario.
func connect(ctx context.Context, c *gridConfig, a client.ConfigPropertyAssigner) (grid.Backend, *cluster.Controller, error) {

	t, err := cluster.PopulateTimeouts(a)
	if err != nil {
		return nil, nil, err
	}

	switch c.Backend {
	case backendEmbedded:
		g, err := embedded.New(embedded.Config{
			PartitionCount:   c.PartitionCount,
			BackupCount:      c.BackupCount,
			FailureDetection: c.FailureDetection,
			Strategy:         c.Strategy,
		})
		if err != nil {
			return nil, nil, err
		}
		for i := 0; i < c.InitialMembers; i++ {
			if _, err := g.StartMember(fmt.Sprintf("member%d", i+1)); err != nil {
				_ = g.Shutdown(ctx)
				return nil, nil, err
			}
		}
		lp.LogGridEvent(fmt.Sprintf("embedded grid started with %d member(s)", c.InitialMembers), log.InfoLevel)
		return g, cluster.NewEmbeddedController(g, t), nil
	case backendHazelcast:
		ac, err := cluster.PopulateK8sAccessConfig(a)
		if err != nil {
			return nil, nil, err
		}
		b, err := hazelcastwrapper.NewBackend(ctx, hazelcastwrapper.BackendConfig{
			ClientName:     fmt.Sprintf("hazeltopo-%s", client.ID()),
			ClusterName:    c.ClusterName,
			MemberAddrs:    c.Members,
			PartitionCount: c.PartitionCount,
			Strategy:       c.Strategy,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, cluster.NewK8sController(ac, b.MembershipView, t), nil
	default:
		return nil, nil, fmt.Errorf("unknown grid backend: %s", c.Backend)
	}

}
