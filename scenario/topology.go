package scenario

import (
	"context"
	"fmt"
	"hazeltopo/dataset"
	"hazeltopo/distribution"
	"hazeltopo/snapshot"
	"hazeltopo/verify"
)

func partitionDistribution(n int) Scenario {

	name := fmt.Sprintf("Partition-Distribution-with-%d-Data-Items", n)

	return Scenario{
		Name:     name,
		Family:   FamilyPartitionDistribution,
		Outcomes: []string{name},
		run: func(ctx context.Context, x *Execution) error {
			l := x.newLoader(x.env.Settings.MapName)
			if err := x.populate(ctx, l, n); err != nil {
				return err
			}

			if err := x.enter(PhaseSnapshotBefore); err != nil {
				return err
			}
			s, err := x.snapshotSampled(ctx, n)
			if err != nil {
				return err
			}
			msg := distribution.Analyze(s).Render(n)

			if err := x.enter(PhaseVerifying); err != nil {
				return err
			}
			m, err := l.Map(ctx)
			if err != nil {
				return err
			}
			if err := sizeIs(ctx, m, n); err != nil {
				x.conclude(false, fmt.Sprintf("%s; %v", msg, err))
				return nil
			}

			x.conclude(resolvedMessage(s, msg))
			return nil
		},
	}

}

func addingNode(n int) Scenario {

	initial := fmt.Sprintf("AddingNode-Initial-Partition-Distribution-with-%d-Data-Items", n)
	after := fmt.Sprintf("AddingNode-New-Partition-Distribution-with-%d-Data-Items", n)
	name := fmt.Sprintf("AddingNode-Data-Accessibility-After-Adding-Node-with-%d-Data-Items", n)

	return Scenario{
		Name:     name,
		Family:   FamilyAddingNode,
		Outcomes: []string{initial, after, name},
		run: func(ctx context.Context, x *Execution) error {
			l := x.newLoader(x.env.Settings.MapName)
			if err := x.populate(ctx, l, n); err != nil {
				return err
			}

			before, err := x.snapshotBefore(ctx, initial, n)
			if err != nil {
				return err
			}

			if err := x.enter(PhaseMutating); err != nil {
				return err
			}
			if _, err := x.startMember(ctx); err != nil {
				return err
			}

			return x.settleAndVerify(ctx, l, n, before, after, "adding node")
		},
	}

}

// nodeRemoval covers graceful shutdown and abrupt termination of an ad-hoc member that joined before the dataset
// was loaded.
func nodeRemoval(n int, abrupt bool) Scenario {

	family, prefix, event, suffix := FamilyNodeShutdown, "NodeShutdown", "node shutdown", "Shutdown"
	if abrupt {
		family, prefix, event, suffix = FamilyNodeTermination, "NodeTermination", "node termination", "Termination"
	}
	initial := fmt.Sprintf("%s-Initial-Partition-Distribution-with-%d-Data-Items", prefix, n)
	after := fmt.Sprintf("%s-New-Partition-Distribution-with-%d-Data-Items", prefix, n)
	name := fmt.Sprintf("%s-Data-Accessibility-After-%s-with-%d-Data-Items", prefix, suffix, n)

	return Scenario{
		Name:     name,
		Family:   family,
		Outcomes: []string{initial, after, name},
		run: func(ctx context.Context, x *Execution) error {
			if err := x.enter(PhaseLoading); err != nil {
				return err
			}
			victim, err := x.startMember(ctx)
			if err != nil {
				return err
			}
			x.awaitStable(ctx)

			l := x.newLoader(x.env.Settings.MapName)
			if err := l.Reset(ctx); err != nil {
				return err
			}
			if _, err := l.Populate(ctx, n); err != nil {
				return err
			}

			before, err := x.snapshotBefore(ctx, initial, n)
			if err != nil {
				return err
			}

			if err := x.enter(PhaseMutating); err != nil {
				return err
			}
			if abrupt {
				err = x.env.Controller.TerminateAbruptly(ctx, victim)
			} else {
				err = x.removeGracefully(ctx, victim)
			}
			if err != nil {
				return err
			}

			return x.settleAndVerify(ctx, l, n, before, after, event)
		},
	}

}

func (x *Execution) snapshotBefore(ctx context.Context, outcome string, n int) (*snapshot.Snapshot, error) {

	if err := x.enter(PhaseSnapshotBefore); err != nil {
		return nil, err
	}
	s, err := x.snapshotSampled(ctx, n)
	if err != nil {
		return nil, err
	}
	success, msg := resolvedMessage(s, distribution.Analyze(s).Render(n))
	x.observe(outcome, success, msg)

	return s, nil

}

// resolvedMessage fails distribution outcomes whose snapshot could not resolve a single owner.
func resolvedMessage(s *snapshot.Snapshot, msg string) (bool, string) {

	if !s.Resolved() {
		return false, fmt.Sprintf("%v; %s", ErrUnresolvedOwnership, msg)
	}

	return true, msg

}

// settleAndVerify runs the phases following a topology change: stabilization, the second snapshot, and the
// accessibility check of the first n keys, which becomes the primary outcome.
func (x *Execution) settleAndVerify(ctx context.Context, l *dataset.Loader, n int, before *snapshot.Snapshot, outcome, event string) error {

	if err := x.stabilize(ctx); err != nil {
		return err
	}

	if err := x.enter(PhaseSnapshotAfter); err != nil {
		return err
	}
	s, err := x.snapshotSampled(ctx, n)
	if err != nil {
		return err
	}
	overlap := distribution.CrossCompare(before, s, distribution.NodesHoldingPartitions)
	success, msg := resolvedMessage(s, fmt.Sprintf("%s; Nodes in common with initial distribution: %d (%d%% overlap)",
		distribution.Analyze(s).Render(n), overlap.Common, overlap.WholePercent()))
	x.observe(outcome, success, msg)

	if err := x.enter(PhaseVerifying); err != nil {
		return err
	}
	m, err := l.Map(ctx)
	if err != nil {
		return err
	}
	r := verify.Verify(ctx, m, n, x.env.Settings.MaxKeysToCheck)
	x.conclude(r.AllConsistent, verify.AccessibilityMessage(event, r))

	return nil

}
