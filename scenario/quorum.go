package scenario

import (
	"context"
	"errors"
	"fmt"
	"hazeltopo/cluster"
	"hazeltopo/grid"
	"hazeltopo/verify"
)

// Quorum scenarios grow the cluster to the configured number of members, the last of which is an ad-hoc member
// that may be removed to break the quorum.

func minimumMembersQuorum() Scenario {

	const name = "MinimumMembersQuorum"

	return Scenario{
		Name:     name,
		Family:   FamilyQuorum,
		Outcomes: []string{name},
		run: func(ctx context.Context, x *Execution) error {
			_, total, err := x.quorumCluster(ctx)
			if err != nil {
				return err
			}
			m, err := x.protectedMap(ctx, "minimum", total-1, grid.QuorumReadWrite)
			if err != nil {
				return err
			}

			if err := x.enter(PhaseVerifying); err != nil {
				return err
			}
			if err := roundTrip(ctx, m, "key1", "value1"); err != nil {
				x.conclude(false, fmt.Sprintf("Operations failed with %d members (required: %d): %v", total, total-1, err))
				return nil
			}

			x.conclude(true, fmt.Sprintf("Operations successful with %d members (required: %d)", total, total-1))
			return nil
		},
	}

}

func quorumFailure() Scenario {

	const name = "QuorumFailure"

	return Scenario{
		Name:     name,
		Family:   FamilyQuorum,
		Outcomes: []string{name},
		run: func(ctx context.Context, x *Execution) error {
			victim, total, err := x.quorumCluster(ctx)
			if err != nil {
				return err
			}
			m, err := x.protectedMap(ctx, "failure", total, grid.QuorumReadWrite)
			if err != nil {
				return err
			}
			if err := m.Set(ctx, "key1", "value1"); err != nil {
				return fmt.Errorf("initial write with %d members (required: %d): %w", total, total, err)
			}

			if err := x.breakQuorum(ctx, victim, 1); err != nil {
				return err
			}
			if err := x.topologyReport(ctx, PhaseSnapshotAfter, labelNew, 1); err != nil {
				return err
			}

			if err := x.enter(PhaseVerifying); err != nil {
				return err
			}
			err = m.Set(ctx, "key2", "value2")
			switch {
			case errors.Is(err, grid.ErrQuorumNotPresent):
				x.conclude(true, fmt.Sprintf("Write correctly rejected with %d members (required: %d)", total-1, total))
			case err == nil:
				x.conclude(false, fmt.Sprintf("Write succeeded with %d members although %d are required", total-1, total))
			default:
				x.conclude(false, fmt.Sprintf("Write failed for reason other than missing quorum: %v", err))
			}
			return nil
		},
	}

}

func readWriteQuorum() Scenario {

	const name = "ReadWriteQuorum"

	return Scenario{
		Name:     name,
		Family:   FamilyQuorum,
		Outcomes: []string{name},
		run: func(ctx context.Context, x *Execution) error {
			victim, total, err := x.quorumCluster(ctx)
			if err != nil {
				return err
			}
			readProtected, err := x.protectedMap(ctx, "read", total-1, grid.QuorumRead)
			if err != nil {
				return err
			}
			writeProtected, err := x.protectedMap(ctx, "write", total, grid.QuorumWrite)
			if err != nil {
				return err
			}
			for _, m := range []grid.Map{readProtected, writeProtected} {
				if err := roundTrip(ctx, m, "key1", "value1"); err != nil {
					x.conclude(false, fmt.Sprintf("Initial operations failed with %d members: %v", total, err))
					return nil
				}
			}

			if err := x.breakQuorum(ctx, victim, 2); err != nil {
				return err
			}
			if err := x.topologyReport(ctx, PhaseSnapshotAfter, labelNew, 2); err != nil {
				return err
			}

			if err := x.enter(PhaseVerifying); err != nil {
				return err
			}
			if v, err := readProtected.Get(ctx, "key1"); err != nil || v != "value1" {
				x.conclude(false, fmt.Sprintf("Read with %d members (required: %d) did not return expected value: %v, %v", total-1, total-1, v, err))
				return nil
			}
			err = writeProtected.Set(ctx, "key2", "value2")
			switch {
			case errors.Is(err, grid.ErrQuorumNotPresent):
				x.conclude(true, fmt.Sprintf("Read successful with %d members (required: %d), write correctly rejected (required: %d)", total-1, total-1, total))
			case err == nil:
				x.conclude(false, fmt.Sprintf("Write succeeded with %d members although %d are required", total-1, total))
			default:
				x.conclude(false, fmt.Sprintf("Write failed for reason other than missing quorum: %v", err))
			}
			return nil
		},
	}

}

func splitBrainRecovery() Scenario {

	const name = "SplitBrainRecovery"

	return Scenario{
		Name:     name,
		Family:   FamilyQuorum,
		Outcomes: []string{name},
		run: func(ctx context.Context, x *Execution) error {
			victim, total, err := x.quorumCluster(ctx)
			if err != nil {
				return err
			}
			m, err := x.protectedMap(ctx, "recovery", total-1, grid.QuorumReadWrite)
			if err != nil {
				return err
			}
			if err := m.Set(ctx, "key1", "value1"); err != nil {
				return fmt.Errorf("initial write with %d members: %w", total, err)
			}

			if err := x.breakQuorum(ctx, victim, 1); err != nil {
				return err
			}
			if err := m.Set(ctx, "key2", "value2"); err != nil {
				x.conclude(false, fmt.Sprintf("Write failed with %d members (required: %d): %v", total-1, total-1, err))
				return nil
			}

			// healing brings the cluster back to its original size
			if _, err := x.startMember(ctx); err != nil {
				return err
			}
			x.awaitStable(ctx)
			if err := x.topologyReport(ctx, PhaseSnapshotAfter, labelNew, 2); err != nil {
				return err
			}

			if err := x.enter(PhaseVerifying); err != nil {
				return err
			}
			if err := roundTrip(ctx, m, "key3", "value3"); err != nil {
				x.conclude(false, fmt.Sprintf("Operations failed after healing the cluster: %v", err))
				return nil
			}
			for _, key := range []string{"key1", "key2"} {
				if v, err := m.Get(ctx, key); err != nil || v == nil {
					x.conclude(false, fmt.Sprintf("Entry '%s' written before healing not readable afterwards: %v", key, err))
					return nil
				}
			}

			x.conclude(true, "Operations successful after healing the cluster")
			return nil
		},
	}

}

// quorumCluster grows the cluster so that it holds the configured minimum once the returned victim has joined.
// Clusters already larger than that stay as they are; total is the member count including the victim.
func (x *Execution) quorumCluster(ctx context.Context) (cluster.MemberHandle, int, error) {

	if err := x.enter(PhaseLoading); err != nil {
		return cluster.MemberHandle{}, 0, err
	}

	members := len(x.env.Controller.Members(ctx))
	for ; members < x.env.Settings.QuorumMinimumMembers-1; members++ {
		if _, err := x.startMember(ctx); err != nil {
			return cluster.MemberHandle{}, 0, err
		}
	}

	victim, err := x.startMember(ctx)
	if err != nil {
		return cluster.MemberHandle{}, 0, err
	}
	x.awaitStable(ctx)

	return victim, members + 1, nil

}

func (x *Execution) protectedMap(ctx context.Context, suffix string, minimumMembers int, kind grid.QuorumKind) (grid.Map, error) {

	protector, ok := x.env.Backend.(grid.QuorumProtector)
	if !ok {
		return nil, fmt.Errorf("%w: split brain protection", grid.ErrCapabilityUnsupported)
	}

	mapName := fmt.Sprintf("%s-%s", x.env.Settings.QuorumMapName, suffix)
	if err := protector.ProtectMap(mapName, minimumMembers, kind); err != nil {
		return nil, err
	}

	m, err := x.env.Backend.GetMap(ctx, mapName)
	if err != nil {
		return nil, err
	}
	x.onRelease(m.Destroy)

	return m, nil

}

// breakQuorum removes victim and waits for the cluster to settle. The distribution before the removal is attached
// to the outcome; taking the one after is left to the caller.
func (x *Execution) breakQuorum(ctx context.Context, victim cluster.MemberHandle, entries int) error {

	if err := x.topologyReport(ctx, PhaseSnapshotBefore, labelInitial, entries); err != nil {
		return err
	}
	if err := x.enter(PhaseMutating); err != nil {
		return err
	}
	if err := x.removeGracefully(ctx, victim); err != nil {
		return err
	}

	return x.stabilize(ctx)

}

func roundTrip(ctx context.Context, m grid.Map, key, value string) error {

	if err := m.Set(ctx, key, value); err != nil {
		return err
	}
	v, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if v != value {
		return fmt.Errorf("%w: read '%v' for key '%s', expected '%s'", verify.ErrInconsistentData, v, key, value)
	}

	return nil

}
