package scenario

import (
	"context"
	"fmt"
	"hazeltopo/distribution"
	"hazeltopo/partitioning"
	"hazeltopo/snapshot"
	"hazeltopo/verify"
)

// customPartitioning loads perRegion keys for every region and reports how the configured partitioning strategy
// spreads each region over partitions and nodes.
func customPartitioning(perRegion int) Scenario {

	name := fmt.Sprintf("CustomPartitioningTest-with-%d-keys-per-region", perRegion)

	return Scenario{
		Name:     name,
		Family:   FamilyCustomPartitioning,
		Outcomes: []string{name},
		run: func(ctx context.Context, x *Execution) error {
			regions := x.env.Settings.Regions

			l := x.newLoader(x.env.Settings.MapName)
			if err := x.enter(PhaseLoading); err != nil {
				return err
			}
			if err := l.Reset(ctx); err != nil {
				return err
			}
			if _, err := l.PopulateRegional(ctx, regions, perRegion); err != nil {
				return err
			}

			if err := x.enter(PhaseSnapshotBefore); err != nil {
				return err
			}
			c, err := x.collector()
			if err != nil {
				return err
			}
			snapshots := make(map[string]*snapshot.Snapshot, len(regions))
			var unresolved []string
			for _, region := range regions {
				s, err := c.SnapshotForKeys(ctx, l.RegionalKeys(region, perRegion))
				if err != nil {
					return err
				}
				snapshots[region] = s
				if !s.Resolved() {
					unresolved = append(unresolved, region)
				}
			}
			msg := distribution.AnalyzeRegions(regions, perRegion, snapshots).Render()
			if len(unresolved) > 0 {
				x.conclude(false, fmt.Sprintf("%s%v for regions %v", msg, ErrUnresolvedOwnership, unresolved))
				return nil
			}

			if err := x.enter(PhaseVerifying); err != nil {
				return err
			}
			m, err := l.Map(ctx)
			if err != nil {
				return err
			}
			for _, region := range regions {
				r := verify.VerifyKeys(ctx, m, l.RegionalKeys(region, perRegion), partitioning.Value)
				if !r.AllConsistent {
					x.conclude(false, fmt.Sprintf("%sRegion %s inconsistent: %s", msg, region, r.Message()))
					return nil
				}
			}

			x.conclude(true, msg)
			return nil
		},
	}

}
