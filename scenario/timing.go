package scenario

import (
	"context"
	"fmt"
	"hazeltopo/grid"
	"hazeltopo/verify"
	"time"
)

// failoverTiming terminates a member holding part of n entries and measures how long the collection takes to
// answer with all entries again, first on the surviving members, then once a replacement member has joined.
func failoverTiming(n int) Scenario {

	recovery := fmt.Sprintf("Failover-Recovery-Time-with-%d-Data-Items", n)
	name := fmt.Sprintf("Failover-Rejoin-Time-with-%d-Data-Items", n)

	return Scenario{
		Name:     name,
		Family:   FamilyFailoverTiming,
		Outcomes: []string{recovery, name},
		run: func(ctx context.Context, x *Execution) error {
			t := x.env.Controller.Timeouts()

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
			m, err := l.Map(ctx)
			if err != nil {
				return err
			}
			answersFully := func(ctx context.Context) error {
				return sizeIs(ctx, m, n)
			}

			if err := x.topologyReport(ctx, PhaseSnapshotBefore, labelInitial, n); err != nil {
				return err
			}
			if err := x.enter(PhaseMutating); err != nil {
				return err
			}
			if err := x.env.Controller.TerminateAbruptly(ctx, victim); err != nil {
				return err
			}
			took, err := pollUntil(ctx, t.Stabilization, t.PollInterval, answersFully)
			if err != nil {
				x.observe(recovery, false, fmt.Sprintf("Collection of %d items did not recover from node termination: %v", n, err))
			} else {
				x.observe(recovery, true, fmt.Sprintf("Recovery time for %d items: %d ms", n, took.Milliseconds()))
			}

			start := time.Now()
			if _, err := x.startMember(ctx); err != nil {
				return err
			}
			_, err = pollUntil(ctx, t.Stabilization, t.PollInterval, answersFully)
			rejoin := time.Since(start)

			if err := x.stabilize(ctx); err != nil {
				return err
			}
			if err := x.topologyReport(ctx, PhaseSnapshotAfter, labelNew, n); err != nil {
				return err
			}

			if err := x.enter(PhaseVerifying); err != nil {
				return err
			}
			if err != nil {
				x.conclude(false, fmt.Sprintf("Collection of %d items did not answer after replacement member joined: %v", n, err))
				return nil
			}
			r := verify.Verify(ctx, m, n, x.env.Settings.MaxKeysToCheck)
			if !r.AllConsistent {
				x.conclude(false, fmt.Sprintf("Rejoin time for %d items: %d ms; %s", n, rejoin.Milliseconds(), verify.AccessibilityMessage("node rejoin", r)))
				return nil
			}

			x.conclude(true, fmt.Sprintf("Rejoin time for %d items: %d ms", n, rejoin.Milliseconds()))
			return nil
		},
	}

}

func sizeIs(ctx context.Context, m grid.Map, n int) error {

	size, err := m.Size(ctx)
	if err != nil {
		return err
	}
	if size != n {
		return fmt.Errorf("%w: collection holds %d entries, expected %d", verify.ErrInconsistentData, size, n)
	}

	return nil

}
