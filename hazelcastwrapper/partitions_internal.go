//go:build hazelcastinternal

package hazelcastwrapper

import (
	"fmt"
	"github.com/hazelcast/hazelcast-go-client"
	"hazeltopo/partitioning"
)

// clientPartitionTable takes partition count and ids from the client's own partition service, which learns the
// count from the cluster and hashes serialized keys exactly like the members do.
type clientPartitionTable struct {
	ci              *hazelcast.ClientInternal
	configuredCount int
	strategy        partitioning.Strategy
}

func newPartitionTable(c *hazelcast.Client, configuredCount int, s partitioning.Strategy) partitionTable {
	return &clientPartitionTable{ci: hazelcast.NewClientInternal(c), configuredCount: configuredCount, strategy: s}
}

// count falls back to the configured count until the client has received the partition table.
func (t *clientPartitionTable) count() int {

	if n := t.ci.PartitionCount(); n > 0 {
		return int(n)
	}

	return t.configuredCount

}

func (t *clientPartitionTable) partitionFor(key string) (int32, error) {

	data, err := t.ci.EncodeData(t.strategy.PartitionKey(key))
	if err != nil {
		return -1, fmt.Errorf("unable to serialize partition key of '%s': %w", key, err)
	}

	return t.ci.GetPartitionID(data)

}
