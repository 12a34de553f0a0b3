package scenario

import (
	"hazeltopo/client"
	"hazeltopo/partitioning"
	"time"
)

type (
	Settings struct {
		MapName              string
		Strategy             partitioning.Strategy
		DataSizes            []int
		Regions              []string
		MaxKeysToCheck       int
		StartGateTimeout     time.Duration
		JoinTimeout          time.Duration
		PauseBetweenUnits    time.Duration
		ObservationWindow    time.Duration
		QuorumMapName        string
		QuorumMinimumMembers int
		Enabled              map[Family]bool
	}
	settingsBuilder struct {
		assigner client.ConfigPropertyAssigner
	}
)

func PopulateSettings(a client.ConfigPropertyAssigner) (Settings, error) {
	return settingsBuilder{a}.populate()
}

func (b settingsBuilder) populate() (Settings, error) {

	var assignmentOps []func() error

	s := Settings{Enabled: map[Family]bool{}}

	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign("grid.mapName", client.ValidateString, func(a any) {
			s.MapName = a.(string)
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign("grid.partitioningStrategy", validateStrategy, func(a any) {
			s.Strategy = partitioning.Strategy(a.(string))
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign("harness.dataSizes", client.ValidateIntSlice, func(a any) {
			s.DataSizes = client.IntSlice(a)
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign("harness.regions", client.ValidateStringSlice, func(a any) {
			s.Regions = client.StringSlice(a)
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign("harness.verification.maxKeysToCheck", client.ValidateInt, func(a any) {
			s.MaxKeysToCheck = a.(int)
		})
	})

	assignDuration := func(keyPath string, unit time.Duration, target *time.Duration) {
		assignmentOps = append(assignmentOps, func() error {
			return b.assigner.Assign(keyPath, client.ValidateInt, func(a any) {
				*target = time.Duration(a.(int)) * unit
			})
		})
	}
	assignDuration("harness.worker.startGateTimeoutSeconds", time.Second, &s.StartGateTimeout)
	assignDuration("harness.worker.joinTimeoutSeconds", time.Second, &s.JoinTimeout)
	assignDuration("harness.worker.pauseBetweenUnitsMs", time.Millisecond, &s.PauseBetweenUnits)
	assignDuration("harness.worker.observationWindowMs", time.Millisecond, &s.ObservationWindow)

	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign("harness.quorum.mapName", client.ValidateString, func(a any) {
			s.QuorumMapName = a.(string)
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign("harness.quorum.minimumMembers", validateQuorumMinimum, func(a any) {
			s.QuorumMinimumMembers = a.(int)
		})
	})

	for _, f := range families {
		f := f
		assignmentOps = append(assignmentOps, func() error {
			return b.assigner.Assign("scenarios."+string(f)+".enabled", client.ValidateBool, func(a any) {
				s.Enabled[f] = a.(bool)
			})
		})
	}

	for i := 0; i < len(assignmentOps); i++ {
		if err := assignmentOps[i](); err != nil {
			return Settings{}, err
		}
	}

	return s, nil

}

func validateStrategy(path string, a any) error {

	if err := client.ValidateString(path, a); err != nil {
		return err
	}
	if _, err := partitioning.ParseStrategy(a.(string)); err != nil {
		return client.NewFailedValueCheck(path, err.Error())
	}

	return nil

}

// A quorum scenario needs one member on top of the minimum it protects with, and a minimum of one is no protection.
func validateQuorumMinimum(path string, a any) error {

	if err := client.ValidateInt(path, a); err != nil {
		return err
	}
	if a.(int) < 2 {
		return client.NewFailedValueCheck(path, "expected quorum minimum of at least 2 members")
	}

	return nil

}
