package embedded

import (
	"context"
	"errors"
	"fmt"
	"github.com/couchbase/blance"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"hazeltopo/client"
	"hazeltopo/grid"
	"hazeltopo/logging"
	"hazeltopo/partitioning"
	"maps"
	"sort"
	"strconv"
	"sync"
	"time"
)

type (
	Config struct {
		PartitionCount   int
		BackupCount      int
		FailureDetection time.Duration
		Strategy         partitioning.Strategy
	}
	member struct {
		id        grid.MemberID
		name      string
		features  map[string]bool
		dead      bool
		detection *time.Timer
	}
	partition struct {
		owner   grid.MemberID
		backups []grid.MemberID
		// keyed by map name, then by entry key
		entries map[string]map[string]any
	}
	quorumRule struct {
		minimumMembers int
		kind           grid.QuorumKind
	}
	// Grid is an in-process data grid. Members are logical; each partition has one owner and up to BackupCount
	// backups, and the partition table is re-planned whenever a member joins or leaves.
	Grid struct {
		mu         sync.Mutex
		cfg        Config
		members    []*member
		partitions []*partition
		quorum     map[string]quorumRule
		lastChange time.Time
		closed     bool
	}
)

const (
	statePrimary = "primary"
	stateReplica = "replica"
)

var (
	ErrDuplicateMemberName = errors.New("member with this name already part of grid")
	ErrMemberAlreadyDead   = errors.New("member has already been terminated")
	ErrGridClosed          = errors.New("grid has been shut down")
)

var (
	partitionModel = blance.PartitionModel{
		statePrimary: &blance.PartitionModelState{Priority: 0, Constraints: 1},
		stateReplica: &blance.PartitionModelState{Priority: 1, Constraints: 1},
	}
	lp *logging.LogProvider
)

func init() {
	lp = &logging.LogProvider{ClientID: client.ID()}
}

func New(cfg Config) (*Grid, error) {

	if cfg.PartitionCount <= 0 {
		return nil, fmt.Errorf("partition count must be positive, got %d", cfg.PartitionCount)
	}
	if cfg.BackupCount < 0 {
		return nil, fmt.Errorf("backup count must not be negative, got %d", cfg.BackupCount)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = partitioning.KeyDefault
	}

	partitions := make([]*partition, cfg.PartitionCount)
	for i := range partitions {
		partitions[i] = &partition{entries: map[string]map[string]any{}}
	}

	return &Grid{
		cfg:        cfg,
		partitions: partitions,
		quorum:     map[string]quorumRule{},
		lastChange: time.Now(),
	}, nil

}

func (g *Grid) StartMember(name string) (grid.MemberID, error) {
	return g.StartMemberWith(name, nil)
}

// StartMemberWith starts a member carrying the given feature flags. The embedded grid only records them; see
// MemberFeatures.
func (g *Grid) StartMemberWith(name string, features map[string]bool) (grid.MemberID, error) {

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return "", ErrGridClosed
	}

	for _, m := range g.members {
		if m.name == name {
			return "", fmt.Errorf("%w: %s", ErrDuplicateMemberName, name)
		}
	}

	m := &member{id: grid.MemberID(uuid.New().String()), name: name, features: maps.Clone(features)}
	g.members = append(g.members, m)
	g.rebalance([]grid.MemberID{m.id}, nil)
	g.lastChange = time.Now()

	lp.LogGridEvent(fmt.Sprintf("member '%s' joined with id '%s'", name, m.id), log.InfoLevel)

	return m.id, nil

}

// ShutdownMember hands the member's partitions over to the remaining members before it leaves, so no data is lost
// as long as at least one member remains.
func (g *Grid) ShutdownMember(id grid.MemberID) error {

	g.mu.Lock()
	defer g.mu.Unlock()

	m, err := g.lookup(id)
	if err != nil {
		return err
	}
	if m.dead {
		return fmt.Errorf("%w: %s", ErrMemberAlreadyDead, id)
	}

	g.rebalance(nil, []grid.MemberID{id})
	g.remove(id)
	g.lastChange = time.Now()

	lp.LogGridEvent(fmt.Sprintf("member '%s' shut down gracefully", m.name), log.InfoLevel)

	return nil

}

// TerminateMember removes the member without hand-off. Partitions it owned have no owner until failure detection
// kicks in and the table is re-planned; partitions whose every copy lived on the member lose their data.
func (g *Grid) TerminateMember(id grid.MemberID) error {

	g.mu.Lock()
	defer g.mu.Unlock()

	m, err := g.lookup(id)
	if err != nil {
		return err
	}
	if m.dead {
		return fmt.Errorf("%w: %s", ErrMemberAlreadyDead, id)
	}

	m.dead = true
	lost := 0
	for _, p := range g.partitions {
		if p.owner == id {
			p.owner = ""
		}
		p.backups = without(p.backups, id)
		if p.owner == "" && len(p.backups) == 0 && len(p.entries) > 0 {
			p.entries = map[string]map[string]any{}
			lost++
		}
	}

	m.detection = time.AfterFunc(g.cfg.FailureDetection, func() {
		g.detectFailure(id)
	})

	lp.LogGridEvent(fmt.Sprintf("member '%s' terminated abruptly; %d partition(s) lost every copy", m.name, lost), log.WarnLevel)

	return nil

}

func (g *Grid) detectFailure(id grid.MemberID) {

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}

	m, err := g.lookup(id)
	if err != nil || !m.dead {
		return
	}

	g.rebalance(nil, []grid.MemberID{id})
	g.remove(id)
	g.lastChange = time.Now()

	lp.LogGridEvent(fmt.Sprintf("failure of member '%s' detected, partition table re-planned", m.name), log.InfoLevel)

}

func (g *Grid) Members() []grid.Member {

	g.mu.Lock()
	defer g.mu.Unlock()

	result := make([]grid.Member, len(g.members))
	for i, m := range g.members {
		result[i] = grid.Member{ID: m.id, Address: "embedded/" + m.name}
	}

	return result

}

func (g *Grid) MemberFeatures(id grid.MemberID) (map[string]bool, error) {

	g.mu.Lock()
	defer g.mu.Unlock()

	m, err := g.lookup(id)
	if err != nil {
		return nil, err
	}

	return maps.Clone(m.features), nil

}

func (g *Grid) LastChange() time.Time {

	g.mu.Lock()
	defer g.mu.Unlock()

	return g.lastChange

}

func (g *Grid) Pending() bool {

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range g.members {
		if m.dead {
			return true
		}
	}

	return false

}

func (g *Grid) PartitionCount(_ context.Context) (int, error) {

	return g.cfg.PartitionCount, nil

}

func (g *Grid) PartitionForKey(_ context.Context, key string) (int32, error) {

	return g.cfg.Strategy.PartitionForKey(key, g.cfg.PartitionCount), nil

}

func (g *Grid) PartitionOwner(_ context.Context, partitionID int32) (grid.MemberID, error) {

	if partitionID < 0 || int(partitionID) >= g.cfg.PartitionCount {
		return "", fmt.Errorf("partition id %d out of range", partitionID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if owner := g.partitions[partitionID].owner; owner != "" {
		return owner, nil
	}

	return "", fmt.Errorf("%w: partition %d", grid.ErrOwnerUnresolvable, partitionID)

}

func (g *Grid) ProtectMap(mapName string, minimumMembers int, kind grid.QuorumKind) error {

	if minimumMembers <= 0 {
		return fmt.Errorf("minimum members of quorum must be positive, got %d", minimumMembers)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.quorum[mapName] = quorumRule{minimumMembers, kind}

	return nil

}

func (g *Grid) Shutdown(_ context.Context) error {

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range g.members {
		if m.detection != nil {
			m.detection.Stop()
		}
	}
	g.members = nil
	g.closed = true

	return nil

}

func (g *Grid) lookup(id grid.MemberID) (*member, error) {

	for _, m := range g.members {
		if m.id == id {
			return m, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", grid.ErrUnknownMember, id)

}

func (g *Grid) remove(id grid.MemberID) {

	for i, m := range g.members {
		if m.id == id {
			g.members = append(g.members[:i], g.members[i+1:]...)
			return
		}
	}

}

func (g *Grid) liveMembers(excluding []grid.MemberID) []grid.MemberID {

	var result []grid.MemberID
	for _, m := range g.members {
		if m.dead || containsID(excluding, m.id) {
			continue
		}
		result = append(result, m.id)
	}

	return result

}

// rebalance re-plans the partition table. Entries belong to partitions rather than to members, so moving ownership
// is all it takes to migrate data.
func (g *Grid) rebalance(toAdd, toRemove []grid.MemberID) {

	live := g.liveMembers(toRemove)

	if len(live) == 0 {
		for _, p := range g.partitions {
			p.owner = ""
			p.backups = nil
			p.entries = map[string]map[string]any{}
		}
		return
	}

	prev := blance.PartitionMap{}
	for i, p := range g.partitions {
		primary := []string{}
		if p.owner != "" {
			primary = append(primary, string(p.owner))
		}
		name := strconv.Itoa(i)
		prev[name] = &blance.Partition{
			Name: name,
			NodesByState: map[string][]string{
				statePrimary: primary,
				stateReplica: toStrings(p.backups),
			},
		}
	}

	// members that are dead but not yet detected must not receive partitions either
	removing := append([]grid.MemberID(nil), toRemove...)
	nodesAll := toStrings(live)
	for _, m := range g.members {
		if !containsID(live, m.id) {
			nodesAll = append(nodesAll, string(m.id))
			if !containsID(removing, m.id) {
				removing = append(removing, m.id)
			}
		}
	}

	replicas := g.cfg.BackupCount
	if replicas > len(live)-1 {
		replicas = len(live) - 1
	}

	next, warnings := blance.PlanNextMapEx(prev, nodesAll, toStrings(removing), toStrings(toAdd), partitionModel,
		blance.PlanNextMapOptions{
			ModelStateConstraints: map[string]int{stateReplica: replicas},
		})
	for _, w := range warnings {
		lp.LogGridEvent(fmt.Sprintf("partition planner warning: %s", w), log.DebugLevel)
	}

	for i, p := range g.partitions {
		planned, ok := next[strconv.Itoa(i)]
		p.owner = ""
		p.backups = nil
		if ok {
			for _, n := range planned.NodesByState[statePrimary] {
				if containsID(live, grid.MemberID(n)) {
					p.owner = grid.MemberID(n)
					break
				}
			}
			for _, n := range planned.NodesByState[stateReplica] {
				id := grid.MemberID(n)
				if containsID(live, id) && id != p.owner && len(p.backups) < replicas {
					p.backups = append(p.backups, id)
				}
			}
		}
	}

	g.assignOrphans(live)

}

// assignOrphans gives every partition the planner left without a primary to the least loaded live member.
func (g *Grid) assignOrphans(live []grid.MemberID) {

	load := map[grid.MemberID]int{}
	for _, p := range g.partitions {
		if p.owner != "" {
			load[p.owner]++
		}
	}

	sorted := append([]grid.MemberID(nil), live...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for i, p := range g.partitions {
		if p.owner != "" {
			continue
		}
		candidate := sorted[0]
		for _, id := range sorted[1:] {
			if load[id] < load[candidate] {
				candidate = id
			}
		}
		p.owner = candidate
		p.backups = without(p.backups, candidate)
		load[candidate]++
		lp.LogGridEvent(fmt.Sprintf("partition %d had no planned primary, assigned to '%s'", i, candidate), log.TraceLevel)
	}

}

func toStrings(ids []grid.MemberID) []string {

	result := make([]string, len(ids))
	for i, id := range ids {
		result[i] = string(id)
	}

	return result

}

func containsID(ids []grid.MemberID, id grid.MemberID) bool {

	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}

	return false

}

func without(ids []grid.MemberID, id grid.MemberID) []grid.MemberID {

	var result []grid.MemberID
	for _, candidate := range ids {
		if candidate != id {
			result = append(result, candidate)
		}
	}

	return result

}
