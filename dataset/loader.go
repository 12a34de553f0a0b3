package dataset

import (
	"context"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"hazeltopo/client"
	"hazeltopo/grid"
	"hazeltopo/logging"
	"hazeltopo/partitioning"
	"time"
)

type (
	// Loader owns the lifecycle of one keyed collection. The grid decides where entries live; the loader only decides
	// what gets written.
	Loader struct {
		store    grid.MapStore
		mapName  string
		strategy partitioning.Strategy
		m        grid.Map
	}
	// PartialLoadError carries how many entries made it into the collection before a write failed.
	PartialLoadError struct {
		Written int
		Key     string
		Err     error
	}
)

var ErrNoRegions = errors.New("at least one region must be given for a regional dataset")

var lp *logging.LogProvider

func init() {
	lp = &logging.LogProvider{ClientID: client.ID()}
}

func (e *PartialLoadError) Error() string {
	return fmt.Sprintf("dataset load aborted after %d entries: unable to write key '%s': %v", e.Written, e.Key, e.Err)
}

func (e *PartialLoadError) Unwrap() error {
	return e.Err
}

func NewLoader(store grid.MapStore, mapName string, strategy partitioning.Strategy) *Loader {
	return &Loader{store: store, mapName: mapName, strategy: strategy}
}

func (l *Loader) MapName() string {
	return l.mapName
}

func (l *Loader) Strategy() partitioning.Strategy {
	return l.strategy
}

// Map returns the collection the loader writes to, acquiring it on first use.
func (l *Loader) Map(ctx context.Context) (grid.Map, error) {

	if l.m != nil {
		return l.m, nil
	}

	m, err := l.store.GetMap(ctx, l.mapName)
	if err != nil {
		lp.LogDatasetEvent(l.mapName, fmt.Sprintf("unable to acquire map: %v", err), log.ErrorLevel)
		return nil, err
	}
	l.m = m

	return m, nil

}

// Populate writes key-i -> value-i for i in [0, size). On the first failed write it stops and returns the number of
// entries written so far together with a *PartialLoadError.
func (l *Loader) Populate(ctx context.Context, size int) (int, error) {

	m, err := l.Map(ctx)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	for i := 0; i < size; i++ {
		key := partitioning.Key(i)
		if err := m.Set(ctx, key, partitioning.Value(i)); err != nil {
			lp.LogDatasetEvent(l.mapName, fmt.Sprintf("write of key '%s' failed after %d successful writes: %v", key, i, err), log.ErrorLevel)
			return i, &PartialLoadError{Written: i, Key: key, Err: err}
		}
	}

	lp.LogTimingEvent("populate", l.mapName, int(time.Since(start).Milliseconds()), log.DebugLevel)
	lp.LogDatasetEvent(l.mapName, fmt.Sprintf("populated %d entries", size), log.InfoLevel)

	return size, nil

}

// PopulateRegional writes perRegion entries for each region, keyed according to the loader's partitioning strategy.
// Values follow the value-i scheme so that the region part of a key never leaks into the value.
func (l *Loader) PopulateRegional(ctx context.Context, regions []string, perRegion int) (int, error) {

	if len(regions) == 0 {
		return 0, ErrNoRegions
	}

	m, err := l.Map(ctx)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, region := range regions {
		for i := 0; i < perRegion; i++ {
			key := l.strategy.RegionalKey(region, i)
			if err := m.Set(ctx, key, partitioning.Value(i)); err != nil {
				lp.LogDatasetEvent(l.mapName, fmt.Sprintf("write of regional key '%s' failed: %v", key, err), log.ErrorLevel)
				return written, &PartialLoadError{Written: written, Key: key, Err: err}
			}
			written++
		}
	}

	lp.LogDatasetEvent(l.mapName, fmt.Sprintf("populated %d entries across %d regions using strategy '%s'", written, len(regions), l.strategy), log.InfoLevel)

	return written, nil

}

// RegionalKeys returns the keys PopulateRegional writes for the given region.
func (l *Loader) RegionalKeys(region string, perRegion int) []string {
	return l.strategy.RegionalKeys(region, perRegion)
}

func (l *Loader) Reset(ctx context.Context) error {

	m, err := l.Map(ctx)
	if err != nil {
		return err
	}

	if err := m.Clear(ctx); err != nil {
		lp.LogDatasetEvent(l.mapName, fmt.Sprintf("unable to clear map: %v", err), log.WarnLevel)
		return err
	}

	lp.LogDatasetEvent(l.mapName, "map cleared", log.DebugLevel)
	return nil

}

// Destroy removes the collection from the grid. A later Populate acquires a fresh one.
func (l *Loader) Destroy(ctx context.Context) error {

	if l.m == nil {
		return nil
	}

	err := l.m.Destroy(ctx)
	l.m = nil
	if err != nil {
		lp.LogDatasetEvent(l.mapName, fmt.Sprintf("unable to destroy map: %v", err), log.WarnLevel)
		return err
	}

	lp.LogDatasetEvent(l.mapName, "map destroyed", log.DebugLevel)
	return nil

}
