package snapshot

import (
	"context"
	"fmt"
	log "github.com/sirupsen/logrus"
	"hazeltopo/client"
	"hazeltopo/grid"
	"hazeltopo/logging"
	"sort"
	"time"
)

type (
	NodeStats struct {
		PartitionCount    int
		SampledEntryCount int
	}
	// Placement records where one sampled key lived at snapshot time. Owner is empty when the key's partition was
	// resolved but its owner was not.
	Placement struct {
		Key       string
		Partition int32
		Owner     grid.MemberID
	}
	Snapshot struct {
		TakenAt            time.Time
		TotalPartitions    int
		OrphanedPartitions int
		SampledKeys        int
		SkippedKeys        int
		Nodes              map[grid.MemberID]*NodeStats
		// Order lists node ids in membership order, followed by owners the view did not list.
		Order      []grid.MemberID
		Placements []Placement
	}
	// Source is what the collector needs from a grid backend.
	Source interface {
		grid.PartitionService
		grid.OwnershipResolver
		grid.MembershipView
	}
	Collector struct {
		src Source
	}
)

var lp *logging.LogProvider

func init() {
	lp = &logging.LogProvider{ClientID: client.ID()}
}

func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

func newSnapshot(members []grid.Member) *Snapshot {

	s := &Snapshot{TakenAt: time.Now(), Nodes: map[grid.MemberID]*NodeStats{}}
	for _, m := range members {
		s.node(m.ID)
	}

	return s

}

func (s *Snapshot) node(id grid.MemberID) *NodeStats {

	if n, ok := s.Nodes[id]; ok {
		return n
	}

	n := &NodeStats{}
	s.Nodes[id] = n
	s.Order = append(s.Order, id)

	return n

}

// PartitionSum is the number of partitions attributed to some node.
func (s *Snapshot) PartitionSum() int {

	sum := 0
	for _, n := range s.Nodes {
		sum += n.PartitionCount
	}

	return sum

}

func (s *Snapshot) EntrySum() int {

	sum := 0
	for _, n := range s.Nodes {
		sum += n.SampledEntryCount
	}

	return sum

}

// Resolved reports whether at least one partition had an owner. A snapshot without any is no picture of the
// topology at all.
func (s *Snapshot) Resolved() bool {
	return s.TotalPartitions > 0 && s.OrphanedPartitions < s.TotalPartitions
}

// SnapshotAll resolves the owner of every partition once. Partitions whose owner cannot be resolved are only counted
// as orphaned.
func (c *Collector) SnapshotAll(ctx context.Context) (*Snapshot, error) {

	s, _, err := c.snapshotAll(ctx)

	return s, err

}

// SnapshotAllSampled takes a full snapshot and additionally tallies the given keys per owner, so the snapshot carries
// partition and entry counts alike. Keys reuse the owners resolved for the full snapshot.
func (c *Collector) SnapshotAllSampled(ctx context.Context, keys []string) (*Snapshot, error) {

	s, owners, err := c.snapshotAll(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.place(ctx, s, keys, owners); err != nil {
		return nil, err
	}

	return s, nil

}

func (c *Collector) snapshotAll(ctx context.Context) (*Snapshot, map[int32]grid.MemberID, error) {

	count, err := c.src.PartitionCount(ctx)
	if err != nil {
		lp.LogSnapshotEvent(fmt.Sprintf("unable to determine partition count: %v", err), log.ErrorLevel)
		return nil, nil, err
	}

	start := time.Now()
	s := newSnapshot(c.src.Members())
	s.TotalPartitions = count
	owners := make(map[int32]grid.MemberID, count)

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		owner, err := c.src.PartitionOwner(ctx, int32(i))
		if err != nil {
			owner = ""
		}
		owners[int32(i)] = owner
		if owner == "" {
			s.OrphanedPartitions++
			continue
		}
		s.node(owner).PartitionCount++
	}

	if s.OrphanedPartitions > 0 {
		lp.LogSnapshotEvent(fmt.Sprintf("%d of %d partitions without resolvable owner", s.OrphanedPartitions, count), log.WarnLevel)
	}
	lp.LogTimingEvent("snapshot all partitions", fmt.Sprintf("%d partitions", count), int(time.Since(start).Milliseconds()), log.DebugLevel)

	return s, owners, nil

}

// SnapshotForKeys resolves partition and owner once per key. A key counts as skipped if either lookup fails. The
// snapshot's partition counts refer to the distinct partitions the keys touched, so TotalPartitions is that distinct
// count rather than the cluster-wide constant.
func (c *Collector) SnapshotForKeys(ctx context.Context, keys []string) (*Snapshot, error) {

	s := newSnapshot(c.src.Members())
	touched := map[int32]grid.MemberID{}
	if err := c.place(ctx, s, keys, touched); err != nil {
		return nil, err
	}

	pids := make([]int32, 0, len(touched))
	for pid := range touched {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	s.TotalPartitions = len(pids)
	for _, pid := range pids {
		if owner := touched[pid]; owner != "" {
			s.node(owner).PartitionCount++
		} else {
			s.OrphanedPartitions++
		}
	}

	return s, nil

}

// place tallies keys per owner. Owners already in the cache are not looked up again; newly resolved ones are added
// to it, unresolvable ones as empty id.
func (c *Collector) place(ctx context.Context, s *Snapshot, keys []string, owners map[int32]grid.MemberID) error {

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.SampledKeys++
		pid, err := c.src.PartitionForKey(ctx, key)
		if err != nil {
			s.SkippedKeys++
			lp.LogSnapshotEvent(fmt.Sprintf("unable to resolve partition of key '%s': %v", key, err), log.DebugLevel)
			continue
		}
		owner, resolved := owners[pid]
		if !resolved {
			owner, err = c.src.PartitionOwner(ctx, pid)
			if err != nil {
				owner = ""
			}
			owners[pid] = owner
		}
		s.Placements = append(s.Placements, Placement{Key: key, Partition: pid, Owner: owner})
		if owner == "" {
			s.SkippedKeys++
			continue
		}
		s.node(owner).SampledEntryCount++
	}

	if s.SkippedKeys > 0 {
		lp.LogSnapshotEvent(fmt.Sprintf("skipped %d of %d keys whose placement could not be resolved", s.SkippedKeys, s.SampledKeys), log.WarnLevel)
	}

	return nil

}
