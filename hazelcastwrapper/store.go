package hazelcastwrapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/hazelcast/hazelcast-go-client"
	"github.com/hazelcast/hazelcast-go-client/hzerrors"
	"github.com/hazelcast/hazelcast-go-client/predicate"
	"github.com/hazelcast/hazelcast-go-client/serialization"
	"hazeltopo/grid"
)

type (
	// hzMap is the subset of the client's map used by the harness.
	hzMap interface {
		Set(ctx context.Context, key any, value any) error
		Get(ctx context.Context, key any) (any, error)
		ContainsKey(ctx context.Context, key any) (bool, error)
		Size(ctx context.Context) (int, error)
		Clear(ctx context.Context) error
		Destroy(ctx context.Context) error
		GetValuesWithPredicate(ctx context.Context, p predicate.Predicate) ([]any, error)
	}
	DefaultMapStore struct {
		Client *hazelcast.Client
	}
	mapAdapter struct {
		m hzMap
	}
)

func (d *DefaultMapStore) GetMap(ctx context.Context, name string) (grid.Map, error) {

	m, err := d.Client.GetMap(ctx, name)
	if err != nil {
		return nil, err
	}

	return &mapAdapter{m}, nil

}

func (a *mapAdapter) Set(ctx context.Context, key string, value any) error {

	v, err := toStorable(value)
	if err != nil {
		return err
	}

	return translateErr(a.m.Set(ctx, key, v))

}

func (a *mapAdapter) Get(ctx context.Context, key string) (any, error) {

	v, err := a.m.Get(ctx, key)
	if err != nil {
		return nil, translateErr(err)
	}

	return fromStored(v)

}

func (a *mapAdapter) ContainsKey(ctx context.Context, key string) (bool, error) {

	found, err := a.m.ContainsKey(ctx, key)
	return found, translateErr(err)

}

func (a *mapAdapter) Size(ctx context.Context) (int, error) {

	size, err := a.m.Size(ctx)
	return size, translateErr(err)

}

func (a *mapAdapter) Clear(ctx context.Context) error {
	return translateErr(a.m.Clear(ctx))
}

func (a *mapAdapter) Destroy(ctx context.Context) error {
	return translateErr(a.m.Destroy(ctx))
}

func (a *mapAdapter) ValuesWhere(ctx context.Context, f grid.Filter) ([]grid.Document, error) {

	values, err := a.m.GetValuesWithPredicate(ctx, toPredicate(f))
	if err != nil {
		return nil, translateErr(err)
	}

	var result []grid.Document
	for _, v := range values {
		decoded, err := fromStored(v)
		if err != nil {
			return nil, err
		}
		if d, ok := decoded.(grid.Document); ok {
			result = append(result, d)
		}
	}

	return result, nil

}

func toPredicate(f grid.Filter) predicate.Predicate {

	disjunction := make([]predicate.Predicate, 0, len(f))
	for _, conjunction := range f {
		conditions := make([]predicate.Predicate, 0, len(conjunction))
		for _, c := range conjunction {
			switch c.Op {
			case grid.OpLess:
				conditions = append(conditions, predicate.Less(c.Field, c.Value))
			default:
				conditions = append(conditions, predicate.Equal(c.Field, c.Value))
			}
		}
		disjunction = append(disjunction, predicate.And(conditions...))
	}

	return predicate.Or(disjunction...)

}

func toStorable(value any) (any, error) {

	if d, ok := value.(grid.Document); ok {
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("unable to encode document: %w", err)
		}
		return serialization.JSON(b), nil
	}

	return value, nil

}

func fromStored(value any) (any, error) {

	if j, ok := value.(serialization.JSON); ok {
		d := grid.Document{}
		if err := json.Unmarshal(j, &d); err != nil {
			return nil, fmt.Errorf("unable to decode document: %w", err)
		}
		return d, nil
	}

	return value, nil

}

// translateErr maps quorum rejections raised by the cluster onto the harness' own error category. The client wraps
// the server's split brain protection exception so that it matches hzerrors.ErrSplitBrainProtection.
func translateErr(err error) error {

	if err == nil {
		return nil
	}

	if errors.Is(err, hzerrors.ErrSplitBrainProtection) {
		return fmt.Errorf("%w: %v", grid.ErrQuorumNotPresent, err)
	}

	return err

}
