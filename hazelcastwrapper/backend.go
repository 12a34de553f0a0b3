package hazelcastwrapper

import (
	"context"
	"hazeltopo/grid"
	"hazeltopo/partitioning"
)

type (
	BackendConfig struct {
		ClientName     string
		ClusterName    string
		MemberAddrs    []string
		PartitionCount int
		Strategy       partitioning.Strategy
	}
	// Backend drives a real cluster through the client. The client does not expose which member owns a partition,
	// so Backend does not implement grid.OwnershipResolver.
	Backend struct {
		*MembershipView
		*DefaultMapStore
		ch         HzClientHandler
		partitions partitionTable
	}
	partitionTable interface {
		count() int
		partitionFor(key string) (int32, error)
	}
)

func NewBackend(ctx context.Context, cfg BackendConfig) (*Backend, error) {

	view := NewMembershipView()
	ch := NewDefaultHzClientHandler(view)

	if err := ch.InitHazelcastClient(ctx, cfg.ClientName, cfg.ClusterName, cfg.MemberAddrs); err != nil {
		return nil, err
	}

	return &Backend{
		MembershipView:  view,
		DefaultMapStore: &DefaultMapStore{Client: ch.GetClient()},
		ch:              ch,
		partitions:      newPartitionTable(ch.GetClient(), cfg.PartitionCount, cfg.Strategy),
	}, nil

}

func (b *Backend) PartitionCount(_ context.Context) (int, error) {

	return b.partitions.count(), nil

}

func (b *Backend) PartitionForKey(_ context.Context, key string) (int32, error) {

	return b.partitions.partitionFor(key)

}

func (b *Backend) Shutdown(ctx context.Context) error {

	return b.ch.Shutdown(ctx)

}

func (b *Backend) SQL() grid.SQLService {

	return &sqlService{b.ch.GetClient()}

}
