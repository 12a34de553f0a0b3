package grid

import (
	"context"
	"errors"
	"time"
)

// MemberID identifies a cluster member for as long as the member lives. It is assigned by the grid at join
// time and is only ever used as a map key.
type MemberID string

type (
	Member struct {
		ID      MemberID
		Address string
	}
	Map interface {
		Set(ctx context.Context, key string, value any) error
		// Get returns nil without error when the key is absent.
		Get(ctx context.Context, key string) (any, error)
		ContainsKey(ctx context.Context, key string) (bool, error)
		Size(ctx context.Context) (int, error)
		Clear(ctx context.Context) error
		Destroy(ctx context.Context) error
	}
	MapStore interface {
		GetMap(ctx context.Context, name string) (Map, error)
	}
	PartitionService interface {
		PartitionCount(ctx context.Context) (int, error)
		PartitionForKey(ctx context.Context, key string) (int32, error)
	}
	MembershipView interface {
		Members() []Member
		LastChange() time.Time
		// Pending reports join or leave activity the view knows about but has not settled yet.
		Pending() bool
	}
	// Backend bundles everything the harness needs from a grid.
	Backend interface {
		MapStore
		PartitionService
		MembershipView
		Shutdown(ctx context.Context) error
	}
)

// Optional capabilities; backends advertise them by implementing the interface.
type (
	QueryableMap interface {
		Map
		ValuesWhere(ctx context.Context, f Filter) ([]Document, error)
	}
	SQLService interface {
		// QueryRows executes the statement and returns all rows; each row holds its column values in order.
		QueryRows(ctx context.Context, statement string, params ...any) ([][]any, error)
		Exec(ctx context.Context, statement string, params ...any) error
	}
	SQLProvider interface {
		SQL() SQLService
	}
	// OwnershipResolver is implemented by grids whose partition table is visible to the harness.
	OwnershipResolver interface {
		PartitionOwner(ctx context.Context, partitionID int32) (MemberID, error)
	}
	QuorumProtector interface {
		ProtectMap(mapName string, minimumMembers int, kind QuorumKind) error
	}
)

var (
	ErrOwnerUnresolvable     = errors.New("partition owner could not be resolved")
	ErrPartitionUnavailable  = errors.New("partition currently has no owner to serve the operation")
	ErrQuorumNotPresent      = errors.New("operation rejected: split brain protection quorum not present")
	ErrNoMembers             = errors.New("grid has no live members")
	ErrUnknownMember         = errors.New("member not known to grid")
	ErrCapabilityUnsupported = errors.New("grid backend does not provide this capability")
)

func MemberIDs(members []Member) []MemberID {

	ids := make([]MemberID, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}

	return ids

}

func ContainsMember(members []Member, id MemberID) bool {

	for _, m := range members {
		if m.ID == id {
			return true
		}
	}

	return false

}
