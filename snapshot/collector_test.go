package snapshot

import (
	"context"
	"errors"
	"hazeltopo/embedded"
	"hazeltopo/grid"
	"hazeltopo/partitioning"
	"testing"
	"time"
)

type (
	testSourceBehavior struct {
		failKeys   map[string]bool
		noOwnerFor map[int32]bool
	}
	testSourceObservations struct {
		numOwnerLookups int
	}
	testSource struct {
		members      []grid.Member
		count        int
		behavior     *testSourceBehavior
		observations *testSourceObservations
	}
)

const (
	checkMark = "\u2713"
	ballotX   = "\u2717"
)

func (s *testSource) PartitionCount(_ context.Context) (int, error) {
	return s.count, nil
}

func (s *testSource) PartitionForKey(_ context.Context, key string) (int32, error) {

	if s.behavior.failKeys[key] {
		return -1, errors.New("lookup failed")
	}

	return partitioning.KeyDefault.PartitionForKey(key, s.count), nil

}

func (s *testSource) PartitionOwner(_ context.Context, partitionID int32) (grid.MemberID, error) {

	s.observations.numOwnerLookups++
	if s.behavior.noOwnerFor[partitionID] {
		return "", grid.ErrOwnerUnresolvable
	}

	return s.members[int(partitionID)%len(s.members)].ID, nil

}

func (s *testSource) Members() []grid.Member {
	return s.members
}

func (s *testSource) LastChange() time.Time {
	return time.Time{}
}

func (s *testSource) Pending() bool {
	return false
}

func newTestSource(b *testSourceBehavior, count int, ids ...grid.MemberID) *testSource {

	var members []grid.Member
	for _, id := range ids {
		members = append(members, grid.Member{ID: id, Address: string(id)})
	}

	return &testSource{members: members, count: count, behavior: b, observations: &testSourceObservations{}}

}

func newTestGrid(t *testing.T, detection time.Duration, members ...string) (*embedded.Grid, []grid.MemberID) {

	g, err := embedded.New(embedded.Config{
		PartitionCount:   partitioning.DefaultPartitionCount,
		BackupCount:      1,
		FailureDetection: detection,
		Strategy:         partitioning.KeyDefault,
	})
	if err != nil {
		t.Fatal(err)
	}

	var ids []grid.MemberID
	for _, name := range members {
		id, err := g.StartMember(name)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	return g, ids

}

func TestCollector_SnapshotAll(t *testing.T) {

	t.Log("given a partition snapshot collector")
	{
		t.Log("\twhen snapshot is taken on stable two-member embedded grid")
		{
			g, ids := newTestGrid(t, time.Hour, "member1", "member2")
			defer g.Shutdown(context.TODO())

			s, err := NewCollector(g).SnapshotAll(context.TODO())

			msg := "\t\tpartition counts must sum up to cluster partition count"
			if err == nil && s.TotalPartitions == 271 && s.PartitionSum() == 271 && s.OrphanedPartitions == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, s, err)
			}

			msg = "\t\tboth members must be listed in membership order"
			if len(s.Order) == 2 && s.Order[0] == ids[0] && s.Order[1] == ids[1] {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, s.Order)
			}
		}

		t.Log("\twhen snapshot is taken right after abrupt termination of one member")
		{
			g, ids := newTestGrid(t, time.Hour, "member1", "member2")
			defer g.Shutdown(context.TODO())
			_ = g.TerminateMember(ids[1])

			s, err := NewCollector(g).SnapshotAll(context.TODO())

			msg := "\t\tpartitions of terminated member must be counted as orphaned"
			if err == nil && s.OrphanedPartitions > 0 && s.PartitionSum()+s.OrphanedPartitions == 271 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, s, err)
			}
		}

		t.Log("\twhen a member owns no partitions")
		{
			src := newTestSource(&testSourceBehavior{}, 4, "a", "b", "c", "d", "e")

			s, _ := NewCollector(src).SnapshotAll(context.TODO())

			msg := "\t\tmember must still be listed with zero partitions"
			if n, ok := s.Nodes["e"]; ok && n.PartitionCount == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, s.Nodes)
			}
		}
	}

}

func TestCollector_SnapshotForKeys(t *testing.T) {

	t.Log("given a partition snapshot collector")
	{
		t.Log("\twhen all keys resolve")
		{
			src := newTestSource(&testSourceBehavior{}, 271, "a", "b")

			s, err := NewCollector(src).SnapshotForKeys(context.TODO(), partitioning.Keys(100))

			msg := "\t\tsampled entry counts must sum up to number of keys"
			if err == nil && s.EntrySum() == 100 && s.SampledKeys == 100 && s.SkippedKeys == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, s, err)
			}

			msg = "\t\tpartition counts must sum up to distinct partitions touched"
			if s.PartitionSum() == s.TotalPartitions && s.TotalPartitions <= 100 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, s.PartitionSum(), s.TotalPartitions)
			}

			msg = "\t\towner must be looked up only once per distinct partition"
			if src.observations.numOwnerLookups == s.TotalPartitions {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, src.observations.numOwnerLookups, s.TotalPartitions)
			}
		}

		t.Log("\twhen lookups fail for some keys")
		{
			src := newTestSource(&testSourceBehavior{failKeys: map[string]bool{"key-3": true, "key-7": true}}, 271, "a", "b")

			s, err := NewCollector(src).SnapshotForKeys(context.TODO(), partitioning.Keys(10))

			msg := "\t\tfailed keys must be skipped rather than retried"
			if err == nil && s.SkippedKeys == 2 && s.EntrySum() == 8 && len(s.Placements) == 8 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, s, err)
			}
		}

		t.Log("\twhen owner of a touched partition cannot be resolved")
		{
			pid := partitioning.KeyDefault.PartitionForKey("key-0", 271)
			src := newTestSource(&testSourceBehavior{noOwnerFor: map[int32]bool{pid: true}}, 271, "a", "b")

			s, _ := NewCollector(src).SnapshotForKeys(context.TODO(), []string{"key-0"})

			msg := "\t\tpartition must be counted as orphaned and key as skipped"
			if s.OrphanedPartitions == 1 && s.SkippedKeys == 1 && s.PartitionSum() == 0 && s.Placements[0].Owner == "" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, s)
			}
		}
	}

}

func TestCollector_SnapshotAllSampled(t *testing.T) {

	t.Log("given a partition snapshot collector")
	{
		t.Log("\twhen a sampled snapshot is taken")
		{
			src := newTestSource(&testSourceBehavior{}, 271, "a", "b")

			s, err := NewCollector(src).SnapshotAllSampled(context.TODO(), partitioning.Keys(100))

			msg := "\t\tsnapshot must carry partition and entry counts alike"
			if err == nil && s.PartitionSum() == 271 && s.TotalPartitions == 271 && s.EntrySum() == 100 && s.SampledKeys == 100 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, s, err)
			}

			msg = "\t\tkeys must reuse owners resolved for the full snapshot"
			if src.observations.numOwnerLookups == 271 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, src.observations.numOwnerLookups)
			}
		}
	}

}

func TestSnapshot_Resolved(t *testing.T) {

	t.Log("given partition snapshots")
	{
		t.Log("\twhen no partition owner could be resolved")
		{
			noOwner := map[int32]bool{}
			for i := int32(0); i < 271; i++ {
				noOwner[i] = true
			}
			src := newTestSource(&testSourceBehavior{noOwnerFor: noOwner}, 271, "a", "b")

			s, _ := NewCollector(src).SnapshotAll(context.TODO())

			msg := "\t\tsnapshot must not count as resolved"
			if s.OrphanedPartitions == 271 && !s.Resolved() {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, s)
			}
		}

		t.Log("\twhen only some partitions lack an owner")
		{
			src := newTestSource(&testSourceBehavior{noOwnerFor: map[int32]bool{0: true}}, 271, "a", "b")

			s, _ := NewCollector(src).SnapshotAll(context.TODO())

			msg := "\t\tsnapshot must count as resolved"
			if s.OrphanedPartitions == 1 && s.Resolved() {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, s)
			}
		}
	}

}
