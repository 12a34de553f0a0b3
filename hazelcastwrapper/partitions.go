//go:build !hazelcastinternal

package hazelcastwrapper

import (
	"github.com/hazelcast/hazelcast-go-client"
	"hazeltopo/partitioning"
)

// hashedPartitionTable computes partition ids on the harness side from the configured partition count. Builds with
// the hazelcastinternal tag ask the client instead.
type hashedPartitionTable struct {
	partitionCount int
	strategy       partitioning.Strategy
}

func newPartitionTable(_ *hazelcast.Client, configuredCount int, s partitioning.Strategy) partitionTable {
	return &hashedPartitionTable{partitionCount: configuredCount, strategy: s}
}

func (t *hashedPartitionTable) count() int {
	return t.partitionCount
}

func (t *hashedPartitionTable) partitionFor(key string) (int32, error) {
	return t.strategy.PartitionForKey(key, t.partitionCount), nil
}
