package distribution

import (
	"fmt"
	"hazeltopo/grid"
	"hazeltopo/snapshot"
	"strings"
)

type (
	// GroupKeyFunc derives the set of nodes that make up a group from a snapshot.
	GroupKeyFunc func(s *snapshot.Snapshot) []grid.MemberID
	OverlapReport struct {
		SizeA, SizeB int
		Common       int
		// Percent is Common relative to the larger group, so it stays within [0, 100].
		Percent float64
	}
	RegionNode struct {
		Partitions        int
		Keys              int
		PartitionSharePct float64
		KeySharePct       float64
	}
	RegionStats struct {
		Region             string
		DistinctPartitions int
		Nodes              []RegionNode
	}
	// RegionalReport summarizes how keys of distinct regions spread across nodes.
	RegionalReport struct {
		PerRegion             int
		Regions               []RegionStats
		AvgDistinctPartitions float64
		// IsolationPct is the mean pairwise node overlap between regions; lower means better isolated.
		IsolationPct float64
	}
)

// NodesHoldingPartitions groups a snapshot by the nodes that own at least one partition in it.
func NodesHoldingPartitions(s *snapshot.Snapshot) []grid.MemberID {

	var ids []grid.MemberID
	for _, id := range s.Order {
		if s.Nodes[id].PartitionCount > 0 {
			ids = append(ids, id)
		}
	}

	return ids

}

// CrossCompare reports how many nodes the two groups share. It is symmetric in its snapshot arguments, and two empty
// groups overlap by 0.
func CrossCompare(a, b *snapshot.Snapshot, groupKey GroupKeyFunc) OverlapReport {

	groupA, groupB := distinct(groupKey(a)), distinct(groupKey(b))

	common := 0
	for id := range groupA {
		if _, ok := groupB[id]; ok {
			common++
		}
	}

	r := OverlapReport{SizeA: len(groupA), SizeB: len(groupB), Common: common}
	if larger := max(r.SizeA, r.SizeB); larger > 0 {
		r.Percent = float64(common) * 100 / float64(larger)
	}

	return r

}

// WholePercent truncates the overlap percentage to an integer.
func (o OverlapReport) WholePercent() int {

	larger := max(o.SizeA, o.SizeB)
	if larger == 0 {
		return 0
	}

	return o.Common * 100 / larger

}

func distinct(ids []grid.MemberID) map[grid.MemberID]struct{} {

	set := make(map[grid.MemberID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return set

}

// AnalyzeRegions expects one key snapshot per region, in the order given by regions. Key shares refer to perRegion,
// partition shares to the partitions a region's keys landed in.
func AnalyzeRegions(regions []string, perRegion int, snapshots map[string]*snapshot.Snapshot) RegionalReport {

	r := RegionalReport{PerRegion: perRegion}

	totalDistinct := 0
	for _, region := range regions {
		s, ok := snapshots[region]
		if !ok {
			r.Regions = append(r.Regions, RegionStats{Region: region})
			continue
		}
		stats := RegionStats{Region: region, DistinctPartitions: s.PartitionSum()}
		for _, id := range NodesHoldingPartitions(s) {
			n := s.Nodes[id]
			stats.Nodes = append(stats.Nodes, RegionNode{
				Partitions:        n.PartitionCount,
				Keys:              n.SampledEntryCount,
				PartitionSharePct: percent(n.PartitionCount, stats.DistinctPartitions),
				KeySharePct:       percent(n.SampledEntryCount, perRegion),
			})
		}
		totalDistinct += stats.DistinctPartitions
		r.Regions = append(r.Regions, stats)
	}

	if len(regions) > 0 {
		r.AvgDistinctPartitions = float64(totalDistinct) / float64(len(regions))
	}

	totalOverlap, comparisons := 0, 0
	for i := 0; i < len(regions); i++ {
		for j := i + 1; j < len(regions); j++ {
			a, aOk := snapshots[regions[i]]
			b, bOk := snapshots[regions[j]]
			if !aOk || !bOk {
				continue
			}
			totalOverlap += CrossCompare(a, b, NodesHoldingPartitions).WholePercent()
			comparisons++
		}
	}
	if comparisons > 0 {
		r.IsolationPct = float64(totalOverlap) / float64(comparisons)
	}

	return r

}

func (r RegionalReport) Render() string {

	var b strings.Builder
	fmt.Fprintf(&b, "Custom partitioning results for %d keys per region: ", r.PerRegion)
	fmt.Fprintf(&b, "Average distinct partitions per region: %.2f; ", r.AvgDistinctPartitions)
	fmt.Fprintf(&b, "Region isolation level: %.2f%% node overlap; ", r.IsolationPct)
	b.WriteString("Distribution: ")
	for _, region := range r.Regions {
		fmt.Fprintf(&b, "Region %s: [", region.Region)
		for i, n := range region.Nodes {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "Node %d: %d partitions (%.2f%% of region partitions), %d keys (%.2f%% of region keys)",
				i, n.Partitions, n.PartitionSharePct, n.Keys, n.KeySharePct)
		}
		b.WriteString("]; ")
	}

	return b.String()

}
