package distribution

import (
	"fmt"
	"hazeltopo/grid"
	"hazeltopo/snapshot"
	"math"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

const (
	checkMark = "\u2713"
	ballotX   = "\u2717"
)

type testNode struct {
	id         grid.MemberID
	partitions int
	entries    int
}

func newTestSnapshot(total, orphaned int, nodes ...testNode) *snapshot.Snapshot {

	s := &snapshot.Snapshot{
		TotalPartitions:    total,
		OrphanedPartitions: orphaned,
		Nodes:              map[grid.MemberID]*snapshot.NodeStats{},
	}
	for _, n := range nodes {
		s.Nodes[n.id] = &snapshot.NodeStats{PartitionCount: n.partitions, SampledEntryCount: n.entries}
		s.Order = append(s.Order, n.id)
	}

	return s

}

func TestAnalyze(t *testing.T) {

	t.Log("given a distribution analyzer")
	{
		t.Log("\twhen two members share the default partition count")
		{
			s := newTestSnapshot(271, 0, testNode{"a", 136, 500}, testNode{"b", 135, 500})

			r := Analyze(s)

			msg := "\t\tmean must be half the partition count"
			if r.Mean == 135.5 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, r.Mean)
			}

			msg = "\t\tstandard deviation must reflect off-by-one split"
			if r.StdDev == 0.5 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, r.StdDev)
			}

			msg = "\t\tentry shares must be even"
			if r.Nodes[0].EntrySharePct == 50 && r.Nodes[1].EntrySharePct == 50 && r.TotalSampledEntries == 1000 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, r.Nodes)
			}
		}

		t.Log("\twhen snapshot contains no partitions and no entries")
		{
			s := newTestSnapshot(0, 0, testNode{"a", 0, 0})

			r := Analyze(s)

			msg := "\t\tshares must be reported as zero instead of failing"
			if r.Nodes[0].PartitionSharePct == 0 && r.Nodes[0].EntrySharePct == 0 && !math.IsNaN(r.StdDev) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, r.Nodes)
			}
		}

		t.Log("\twhen snapshot holds no nodes")
		{
			r := Analyze(newTestSnapshot(271, 271))

			msg := "\t\tmean and standard deviation must be zero"
			if r.Mean == 0 && r.StdDev == 0 && len(r.Nodes) == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, r)
			}
		}
	}

}

func TestReport_Render(t *testing.T) {

	t.Log("given a distribution report")
	{
		t.Log("\twhen report without orphaned partitions is rendered")
		{
			r := Analyze(newTestSnapshot(271, 0, testNode{"a", 136, 0}, testNode{"b", 135, 0}))

			out := r.Render(1000)

			msg := "\t\tmessage must carry totals, statistics, and per-node counts"
			expected := "Total Partitions: 271; Mean Partitions per Node: 135.50; Standard Deviation of Partitions: 0.50; " +
				"Partition distribution for 1000 items: [Node 0: 136 partitions (50.18%); Node 1: 135 partitions (49.82%); ]"
			if out == expected {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, out)
			}
		}

		t.Log("\twhen report with orphaned partitions is rendered")
		{
			r := Analyze(newTestSnapshot(271, 135, testNode{"a", 136, 0}))

			msg := "\t\tmessage must mention orphaned partitions"
			if strings.Contains(r.Render(10), "Orphaned Partitions: 135; ") {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, r.Render(10))
			}
		}

		t.Log("\twhen report of a sampled snapshot is rendered")
		{
			r := Analyze(newTestSnapshot(271, 0, testNode{"a", 136, 300}, testNode{"b", 135, 700}))

			out := r.Render(1000)

			msg := "\t\tmessage must carry sampled entries and per-node entry shares"
			expected := "Total Partitions: 271; Mean Partitions per Node: 135.50; Standard Deviation of Partitions: 0.50; " +
				"Sampled Entries: 1000; Partition distribution for 1000 items: [" +
				"Node 0: 136 partitions (50.18%), 300 entries (30.00%); Node 1: 135 partitions (49.82%), 700 entries (70.00%); ]"
			if out == expected {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, out)
			}
		}
	}

}

func TestAnalyze_Properties(t *testing.T) {

	t.Log("given arbitrary snapshots whose partitions are fully owned")
	{
		t.Log("\twhen shares are computed")
		{
			rapid.Check(t, func(rt *rapid.T) {
				counts := rapid.SliceOfN(rapid.IntRange(0, 500), 1, 12).Draw(rt, "counts")
				var nodes []testNode
				total := 0
				for i, c := range counts {
					nodes = append(nodes, testNode{grid.MemberID(fmt.Sprintf("m%d", i)), c, c})
					total += c
				}

				r := Analyze(newTestSnapshot(total, 0, nodes...))

				sum := 0.0
				for _, n := range r.Nodes {
					if n.PartitionSharePct < 0 || n.PartitionSharePct > 100 {
						rt.Fatalf("share out of bounds: %v", n.PartitionSharePct)
					}
					sum += n.PartitionSharePct
				}
				if total > 0 && math.Abs(sum-100) > 1e-6 {
					rt.Fatalf("shares must add up to 100, got %v", sum)
				}
				if r.StdDev < 0 {
					rt.Fatalf("negative standard deviation: %v", r.StdDev)
				}
			})
			t.Log("\t\tshares must be bounded and add up to 100", checkMark)
		}
	}

}

func TestCrossCompare(t *testing.T) {

	t.Log("given two partition snapshots")
	{
		t.Log("\twhen groups share one of two nodes")
		{
			a := newTestSnapshot(2, 0, testNode{"a", 1, 1}, testNode{"b", 1, 1})
			b := newTestSnapshot(2, 0, testNode{"b", 2, 2}, testNode{"c", 0, 0})

			r := CrossCompare(a, b, NodesHoldingPartitions)

			msg := "\t\toverlap must refer to larger group"
			if r.Common == 1 && r.SizeA == 2 && r.SizeB == 1 && r.Percent == 50 && r.WholePercent() == 50 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, r)
			}
		}

		t.Log("\twhen both groups are empty")
		{
			a := newTestSnapshot(0, 0)
			b := newTestSnapshot(0, 0, testNode{"a", 0, 0})

			r := CrossCompare(a, b, NodesHoldingPartitions)

			msg := "\t\toverlap must be zero"
			if r.Percent == 0 && r.WholePercent() == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, r)
			}
		}

		t.Log("\twhen arbitrary groups are compared in both directions")
		{
			rapid.Check(t, func(rt *rapid.T) {
				gen := rapid.SliceOfN(rapid.IntRange(0, 3), 5, 5)
				ca, cb := gen.Draw(rt, "a"), gen.Draw(rt, "b")
				var na, nb []testNode
				for i := range ca {
					id := grid.MemberID(fmt.Sprintf("m%d", i))
					na = append(na, testNode{id, ca[i], 0})
					nb = append(nb, testNode{id, cb[i], 0})
				}
				a, b := newTestSnapshot(0, 0, na...), newTestSnapshot(0, 0, nb...)

				ab := CrossCompare(a, b, NodesHoldingPartitions)
				ba := CrossCompare(b, a, NodesHoldingPartitions)

				if ab.Percent != ba.Percent || ab.Common != ba.Common {
					rt.Fatalf("comparison not symmetric: %v vs %v", ab, ba)
				}
				if ab.Percent < 0 || ab.Percent > 100 {
					rt.Fatalf("overlap out of bounds: %v", ab.Percent)
				}
			})
			t.Log("\t\toverlap must be symmetric and bounded", checkMark)
		}
	}

}

func TestAnalyzeRegions(t *testing.T) {

	t.Log("given per-region key snapshots")
	{
		t.Log("\twhen two regions land on disjoint nodes")
		{
			snapshots := map[string]*snapshot.Snapshot{
				"EU": newTestSnapshot(1, 0, testNode{"a", 1, 10}, testNode{"b", 0, 0}),
				"US": newTestSnapshot(1, 0, testNode{"a", 0, 0}, testNode{"b", 1, 10}),
			}

			r := AnalyzeRegions([]string{"EU", "US"}, 10, snapshots)

			msg := "\t\tisolation must be perfect"
			if r.IsolationPct == 0 && r.AvgDistinctPartitions == 1 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, r)
			}

			msg = "\t\tonly nodes owning partitions must be listed per region"
			if len(r.Regions[0].Nodes) == 1 && r.Regions[0].Nodes[0].KeySharePct == 100 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, r.Regions)
			}

			msg = "\t\trendered message must follow regional format"
			expected := "Custom partitioning results for 10 keys per region: Average distinct partitions per region: 1.00; " +
				"Region isolation level: 0.00% node overlap; Distribution: " +
				"Region EU: [Node 0: 1 partitions (100.00% of region partitions), 10 keys (100.00% of region keys)]; " +
				"Region US: [Node 0: 1 partitions (100.00% of region partitions), 10 keys (100.00% of region keys)]; "
			if out := r.Render(); out == expected {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, out)
			}
		}

		t.Log("\twhen regions land on the same nodes")
		{
			snapshots := map[string]*snapshot.Snapshot{
				"EU": newTestSnapshot(2, 0, testNode{"a", 1, 5}, testNode{"b", 1, 5}),
				"US": newTestSnapshot(3, 0, testNode{"a", 2, 6}, testNode{"b", 1, 4}),
			}

			r := AnalyzeRegions([]string{"EU", "US"}, 10, snapshots)

			msg := "\t\tisolation must report full overlap"
			if r.IsolationPct == 100 && r.AvgDistinctPartitions == 2.5 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, r)
			}
		}
	}

}
