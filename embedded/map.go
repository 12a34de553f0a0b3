package embedded

import (
	"context"
	"fmt"
	"hazeltopo/grid"
)

type storedMap struct {
	g    *Grid
	name string
}

func (g *Grid) GetMap(ctx context.Context, name string) (grid.Map, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrGridClosed
	}

	return &storedMap{g: g, name: name}, nil

}

func (m *storedMap) Set(ctx context.Context, key string, value any) error {

	return m.g.withPartition(ctx, m.name, key, true, func(p *partition) {
		entries, ok := p.entries[m.name]
		if !ok {
			entries = map[string]any{}
			p.entries[m.name] = entries
		}
		entries[key] = value
	})

}

func (m *storedMap) Get(ctx context.Context, key string) (any, error) {

	var value any
	err := m.g.withPartition(ctx, m.name, key, false, func(p *partition) {
		value = p.entries[m.name][key]
	})

	return value, err

}

func (m *storedMap) ContainsKey(ctx context.Context, key string) (bool, error) {

	var found bool
	err := m.g.withPartition(ctx, m.name, key, false, func(p *partition) {
		_, found = p.entries[m.name][key]
	})

	return found, err

}

func (m *storedMap) Size(ctx context.Context) (int, error) {

	size := 0
	err := m.g.withAllPartitions(ctx, m.name, false, func(p *partition) {
		size += len(p.entries[m.name])
	})

	return size, err

}

func (m *storedMap) Clear(ctx context.Context) error {

	return m.g.withAllPartitions(ctx, m.name, true, func(p *partition) {
		delete(p.entries, m.name)
	})

}

func (m *storedMap) Destroy(ctx context.Context) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	m.g.mu.Lock()
	defer m.g.mu.Unlock()

	for _, p := range m.g.partitions {
		delete(p.entries, m.name)
	}

	return nil

}

func (m *storedMap) ValuesWhere(ctx context.Context, f grid.Filter) ([]grid.Document, error) {

	var result []grid.Document
	err := m.g.withAllPartitions(ctx, m.name, false, func(p *partition) {
		for _, v := range p.entries[m.name] {
			if d, ok := v.(grid.Document); ok && f.Matches(d) {
				result = append(result, d)
			}
		}
	})

	return result, err

}

func (g *Grid) withPartition(ctx context.Context, mapName, key string, write bool, op func(p *partition)) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkAvailable(mapName, write); err != nil {
		return err
	}

	id := g.cfg.Strategy.PartitionForKey(key, g.cfg.PartitionCount)
	p := g.partitions[id]
	if p.owner == "" {
		return fmt.Errorf("%w: partition %d of key '%s'", grid.ErrPartitionUnavailable, id, key)
	}

	op(p)

	return nil

}

func (g *Grid) withAllPartitions(ctx context.Context, mapName string, write bool, op func(p *partition)) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkAvailable(mapName, write); err != nil {
		return err
	}

	for i, p := range g.partitions {
		if p.owner == "" {
			return fmt.Errorf("%w: partition %d", grid.ErrPartitionUnavailable, i)
		}
	}

	for _, p := range g.partitions {
		op(p)
	}

	return nil

}

func (g *Grid) checkAvailable(mapName string, write bool) error {

	if g.closed {
		return ErrGridClosed
	}

	live := len(g.liveMembers(nil))
	if live == 0 {
		return grid.ErrNoMembers
	}

	if rule, ok := g.quorum[mapName]; ok && rule.kind.Guards(write) && live < rule.minimumMembers {
		return fmt.Errorf("%w: map '%s' requires %d member(s), %d present", grid.ErrQuorumNotPresent, mapName, rule.minimumMembers, live)
	}

	return nil

}
