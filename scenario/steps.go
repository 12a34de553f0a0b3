package scenario

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"hazeltopo/cluster"
	"hazeltopo/dataset"
	"hazeltopo/distribution"
	"hazeltopo/grid"
	"hazeltopo/partitioning"
	"hazeltopo/snapshot"
	"time"
)

const (
	ownershipNotVisible = "partition ownership not visible to grid client"
	labelInitial        = "initial distribution"
	labelNew            = "new distribution"
)

// newLoader returns a loader whose collection is destroyed when the scenario is released.
func (x *Execution) newLoader(mapName string) *dataset.Loader {

	l := dataset.NewLoader(x.env.Backend, mapName, x.env.Settings.Strategy)
	x.onRelease(l.Destroy)

	return l

}

func (x *Execution) populate(ctx context.Context, l *dataset.Loader, size int) error {

	if err := x.enter(PhaseLoading); err != nil {
		return err
	}
	if err := l.Reset(ctx); err != nil {
		return err
	}
	_, err := l.Populate(ctx, size)

	return err

}

// startMember adds an ad-hoc member. Names only need to be unique within the grid.
func (x *Execution) startMember(ctx context.Context) (cluster.MemberHandle, error) {

	name := "member-" + uuid.New().String()[:8]
	return x.env.Controller.StartMember(ctx, cluster.MemberConfig{Name: name, Features: map[string]bool{cluster.FeatureJet: true}})

}

// awaitStable waits for the cluster to settle. Running into the timeout is noted on the outcome but does not fail
// the scenario.
func (x *Execution) awaitStable(ctx context.Context) bool {

	timeout := x.env.Controller.Timeouts().Stabilization
	if x.env.Controller.WaitForStabilization(ctx, timeout) {
		return true
	}
	x.note("%v after %v", cluster.ErrStabilizationTimeout, timeout)

	return false

}

func (x *Execution) stabilize(ctx context.Context) error {

	if err := x.enter(PhaseStabilizing); err != nil {
		return err
	}
	x.awaitStable(ctx)

	return nil

}

// collector fails with grid.ErrCapabilityUnsupported on backends that cannot tell partition owners.
func (x *Execution) collector() (*snapshot.Collector, error) {

	src, ok := x.env.Backend.(snapshot.Source)
	if !ok {
		return nil, fmt.Errorf("%w: partition ownership", grid.ErrCapabilityUnsupported)
	}

	return snapshot.NewCollector(src), nil

}

func (x *Execution) snapshotAll(ctx context.Context) (*snapshot.Snapshot, error) {

	c, err := x.collector()
	if err != nil {
		return nil, err
	}

	return c.SnapshotAll(ctx)

}

// topologyReport enters phase and attaches the partition distribution of the whole grid under label. Backends that
// cannot tell partition owners get a placeholder; a failed snapshot is noted only.
func (x *Execution) topologyReport(ctx context.Context, phase Phase, label string, entries int) error {

	if err := x.enter(phase); err != nil {
		return err
	}

	s, err := x.snapshotAll(ctx)
	switch {
	case errors.Is(err, grid.ErrCapabilityUnsupported):
		x.attach(label, ownershipNotVisible)
	case err != nil:
		x.note("unable to take %s: %v", label, err)
	default:
		x.attach(label, distribution.Analyze(s).Render(entries))
	}

	return nil

}

// snapshotSampled takes a snapshot of all partitions and places the first n keys of the dataset, bounded by the
// number of keys verification would check.
func (x *Execution) snapshotSampled(ctx context.Context, n int) (*snapshot.Snapshot, error) {

	c, err := x.collector()
	if err != nil {
		return nil, err
	}

	return c.SnapshotAllSampled(ctx, partitioning.Keys(max(0, min(n, x.env.Settings.MaxKeysToCheck))))

}

// pollUntil calls check until it succeeds or timeout elapses and returns the time it took. The last error of check
// is returned on timeout.
func pollUntil(ctx context.Context, timeout, interval time.Duration, check func(ctx context.Context) error) (time.Duration, error) {

	start := time.Now()
	deadline := start.Add(timeout)

	for {
		err := check(ctx)
		if err == nil {
			return time.Since(start), nil
		}
		if time.Now().After(deadline) {
			return time.Since(start), fmt.Errorf("no success within %v: %w", timeout, err)
		}
		select {
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		case <-time.After(interval):
		}
	}

}

// removeGracefully shuts the member down. A departure the view does not confirm in time is noted only.
func (x *Execution) removeGracefully(ctx context.Context, h cluster.MemberHandle) error {

	err := x.env.Controller.ShutdownGracefully(ctx, h)
	if errors.Is(err, cluster.ErrShutdownTimeout) {
		x.note("%v", err)
		return nil
	}

	return err

}
