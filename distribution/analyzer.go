package distribution

import (
	"fmt"
	"hazeltopo/grid"
	"hazeltopo/snapshot"
	"math"
	"strings"
)

type (
	NodeShare struct {
		Node              grid.MemberID
		PartitionCount    int
		SampledEntryCount int
		PartitionSharePct float64
		EntrySharePct     float64
	}
	// Report is derived from exactly one snapshot and never changes afterwards.
	Report struct {
		TotalPartitions     int
		OrphanedPartitions  int
		TotalSampledEntries int
		Nodes               []NodeShare
		Mean                float64
		StdDev              float64
	}
)

// Analyze computes per-node shares together with the mean and population standard deviation of partition counts.
// Shares whose denominator is zero are reported as 0.
func Analyze(s *snapshot.Snapshot) Report {

	r := Report{
		TotalPartitions:     s.TotalPartitions,
		OrphanedPartitions:  s.OrphanedPartitions,
		TotalSampledEntries: s.EntrySum(),
	}

	counts := make([]float64, 0, len(s.Order))
	for _, id := range s.Order {
		n := s.Nodes[id]
		r.Nodes = append(r.Nodes, NodeShare{
			Node:              id,
			PartitionCount:    n.PartitionCount,
			SampledEntryCount: n.SampledEntryCount,
			PartitionSharePct: percent(n.PartitionCount, r.TotalPartitions),
			EntrySharePct:     percent(n.SampledEntryCount, r.TotalSampledEntries),
		})
		counts = append(counts, float64(n.PartitionCount))
	}

	r.Mean, r.StdDev = meanAndStdDev(counts)

	return r

}

func percent(part, total int) float64 {

	if total == 0 {
		return 0
	}

	return float64(part) / float64(total) * 100

}

func meanAndStdDev(values []float64) (float64, float64) {

	if len(values) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return mean, math.Sqrt(variance)

}

// Render formats the report for an outcome message. Nodes are numbered in membership order since their ids carry no
// meaning for a reader. Entry shares are only listed when the snapshot sampled keys.
func (r Report) Render(dataSize int) string {

	var b strings.Builder
	fmt.Fprintf(&b, "Total Partitions: %d; ", r.TotalPartitions)
	if r.OrphanedPartitions > 0 {
		fmt.Fprintf(&b, "Orphaned Partitions: %d; ", r.OrphanedPartitions)
	}
	fmt.Fprintf(&b, "Mean Partitions per Node: %.2f; ", r.Mean)
	fmt.Fprintf(&b, "Standard Deviation of Partitions: %.2f; ", r.StdDev)
	sampled := r.TotalSampledEntries > 0
	if sampled {
		fmt.Fprintf(&b, "Sampled Entries: %d; ", r.TotalSampledEntries)
	}
	fmt.Fprintf(&b, "Partition distribution for %d items: [", dataSize)
	for i, n := range r.Nodes {
		if sampled {
			fmt.Fprintf(&b, "Node %d: %d partitions (%.2f%%), %d entries (%.2f%%); ", i, n.PartitionCount, n.PartitionSharePct, n.SampledEntryCount, n.EntrySharePct)
		} else {
			fmt.Fprintf(&b, "Node %d: %d partitions (%.2f%%); ", i, n.PartitionCount, n.PartitionSharePct)
		}
	}
	b.WriteString("]")

	return b.String()

}
